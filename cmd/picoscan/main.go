package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/echerrman/picoscan/internal/config"
	"github.com/echerrman/picoscan/internal/monitoring"
	"github.com/echerrman/picoscan/internal/scan"
	"github.com/echerrman/picoscan/internal/scan/network"
	"github.com/echerrman/picoscan/internal/scandb"
)

var (
	configPath = flag.String("config", "", "Path to JSON tuning config (optional)")
	udpPort    = flag.Int("udp-port", 0, "UDP port to listen for scan telegrams (0: use config, default 2115)")
	udpAddress = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	forward    = flag.Bool("forward", false, "Forward accumulated points to the rendering engine")
	dbFile     = flag.String("db", "", "Path to the SQLite database file (empty: recording disabled)")
	pcapFile   = flag.String("pcap", "", "Replay telegrams from a pcap file instead of listening (requires pcap build tag)")
	notes      = flag.String("notes", "", "Session notes stored with the capture")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)

	// Tuning comes from the config file; flags cover operational switches.
	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	port := cfg.GetListenPort()
	if *udpPort != 0 {
		port = *udpPort
	}
	listenAddr := fmt.Sprintf("%s:%d", *udpAddress, port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := scan.NewTelegramStats()

	tracker := scan.NewPositionTracker(scan.TrackerConfig{
		CalibrationSamples:  cfg.GetCalibrationSamples(),
		PositionSmoothing:   cfg.GetPositionSmoothing(),
		QuaternionSmoothing: cfg.GetQuaternionSmoothing(),
	})

	var forwarder *network.PointForwarder
	if *forward {
		var err error
		forwarder, err = network.NewPointForwarder(cfg.GetForwardAddress(), cfg.GetForwardPort(), stats, network.ForwarderConfig{
			ChunkSize:    cfg.GetChunkSize(),
			Scale:        cfg.GetForwardScale(),
			SendInterval: cfg.GetSendInterval(),
			PointLimit:   cfg.GetPointLimit(),
		})
		if err != nil {
			log.Fatalf("Failed to create point forwarder: %v", err)
		}
		defer forwarder.Close()
		forwarder.Start(ctx)
	}

	var recorder network.Recorder
	if *dbFile != "" {
		sdb, err := scandb.NewScanDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open scan database: %v", err)
		}
		defer sdb.Close()

		session, err := sdb.StartSession(listenAddr, *notes)
		if err != nil {
			log.Fatalf("Failed to start capture session: %v", err)
		}
		defer func() {
			if err := session.End(); err != nil {
				log.Printf("Failed to end capture session: %v", err)
			}
		}()
		recorder = session
		log.Printf("Recording capture session %s to %s", session.ID, *dbFile)
	}

	processor := &network.Processor{
		Parser:     scan.NewCompactParser(),
		Tracker:    tracker,
		Forwarder:  forwarder,
		Recorder:   recorder,
		Stats:      stats,
		VoxelSize:  cfg.GetVoxelSize(),
		WorldFrame: cfg.GetWorldFrame(),
	}

	if *pcapFile != "" {
		if err := network.ReplayPCAPFile(ctx, *pcapFile, port, processor); err != nil {
			log.Fatalf("PCAP replay failed: %v", err)
		}
		stats.LogStats()
		return
	}

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     listenAddr,
		RcvBuf:      cfg.GetRcvBufBytes(),
		LogInterval: cfg.GetLogInterval(),
		Processor:   processor,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	wg.Wait()
	stats.LogStats()
	log.Print("Shutdown complete")
}

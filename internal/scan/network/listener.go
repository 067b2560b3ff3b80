package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/echerrman/picoscan/internal/monitoring"
	"github.com/echerrman/picoscan/internal/scan"
)

// Recorder persists per-frame statistics and pose snapshots. Implemented by
// scandb; nil disables recording.
type Recorder interface {
	RecordFrame(telegramCounter uint64, rawPoints, keptPoints int) error
	RecordPose(timestampMicros uint64, pose scan.Pose) error
}

// Processor routes one decoded telegram to the scan or IMU path. It is the
// single consumer of a datagram stream: live UDP and PCAP replay both feed
// it. Not safe for concurrent use; one Processor per sensor stream.
type Processor struct {
	Parser    *scan.CompactParser
	Tracker   *scan.PositionTracker
	Forwarder *PointForwarder
	Recorder  Recorder
	Stats     *scan.TelegramStats

	// VoxelSize is the downsampling cell edge, in scaled range units.
	VoxelSize float64
	// WorldFrame transforms point clouds by the tracked pose before they
	// leave the processor. Clouds pass through in sensor frame until
	// calibration completes.
	WorldFrame bool
}

// HandleTelegram decodes and routes a single datagram. Decode failures are
// counted and dropped; nothing here is fatal.
func (p *Processor) HandleTelegram(data []byte) {
	p.Stats.AddTelegram(len(data))

	tel, err := p.Parser.Parse(data)
	if err != nil {
		p.Stats.AddInvalid()
		monitoring.Debugf("dropping telegram: %v", err)
		return
	}

	switch {
	case tel.Imu != nil:
		p.handleImu(tel.Imu)
	case tel.Scan != nil:
		p.handleScan(tel.Scan)
	default:
		monitoring.Debugf("ignoring telegram with command id %d", tel.Header.CommandID)
	}
}

func (p *Processor) handleImu(sample *scan.ImuSample) {
	p.Stats.AddImu()
	wasCalibrated := p.Tracker.Calibrated()
	p.Tracker.Update(sample)
	if !wasCalibrated && p.Tracker.Calibrated() {
		monitoring.Logf("position tracking active after imu calibration")
	}

	if p.Recorder != nil && p.Tracker.Calibrated() {
		if err := p.Recorder.RecordPose(sample.Timestamp, p.Tracker.Pose()); err != nil {
			monitoring.Logf("failed to record pose: %v", err)
		}
	}
}

func (p *Processor) handleScan(frame *scan.ScanFrame) {
	cloud := scan.ExtractPointCloud(frame)
	raw := cloud.Len()
	if raw > 0 {
		cloud = scan.Downsample(cloud, p.VoxelSize)
	}
	p.Stats.AddScan(raw, cloud.Len())

	if p.WorldFrame && p.Tracker.Calibrated() {
		cloud = p.Tracker.Pose().TransformPointCloud(cloud)
	}

	if p.Forwarder != nil && cloud.Len() > 0 {
		p.Forwarder.ForwardAsync(cloud)
	}
	if p.Recorder != nil {
		if err := p.Recorder.RecordFrame(cloud.TelegramCounter, raw, cloud.Len()); err != nil {
			monitoring.Logf("failed to record frame: %v", err)
		}
	}
}

// UDPListener receives sensor telegrams over UDP and feeds them to a
// Processor. It manages the socket, receive buffer sizing and periodic
// statistics logging.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	buffer      []byte
	processor   *Processor
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Processor   *Processor
}

// NewUDPListener creates a UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		// Telegram size is bounded by the sender's segmenting, not a fixed
		// packet format; size for the largest UDP payload we could get.
		buffer:    make([]byte, 65536),
		processor: config.Processor,
	}
}

// Start begins receiving and processing datagrams. It returns when the
// context is cancelled or the socket cannot be opened.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %v", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		monitoring.Logf("warning: failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", l.rcvBuf, err)
	}

	monitoring.Logf("listening for picoScan telegrams on %s", l.address)

	if l.logInterval > 0 {
		go l.startStatsLogging(ctx)
	}

	timeoutCount := 0
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener shutting down")
			return ctx.Err()
		default:
			// A short read deadline keeps the loop responsive to
			// cancellation without busy-waiting.
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				monitoring.Logf("error setting read deadline: %v", err)
				continue
			}

			n, _, err := conn.ReadFromUDP(l.buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					timeoutCount++
					if timeoutCount%10 == 0 {
						monitoring.Logf("no telegrams received for %d seconds", timeoutCount)
					}
					continue
				}
				monitoring.Logf("error reading UDP telegram: %v", err)
				continue
			}
			timeoutCount = 0

			// The buffer is reused across reads; decoding copies every
			// value it keeps, so nothing downstream aliases it.
			l.processor.HandleTelegram(l.buffer[:n])
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.processor.Stats.LogStats()
		}
	}
}

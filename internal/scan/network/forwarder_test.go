package network

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/echerrman/picoscan/internal/scan"
)

func cloudOf(points ...[3]float64) *scan.PointCloud {
	cloud := &scan.PointCloud{}
	for _, p := range points {
		cloud.X = append(cloud.X, p[0])
		cloud.Y = append(cloud.Y, p[1])
		cloud.Z = append(cloud.Z, p[2])
		cloud.Intensity = append(cloud.Intensity, 0)
	}
	return cloud
}

func bareForwarder(cfg ForwarderConfig) *PointForwarder {
	return &PointForwarder{
		channel: make(chan *scan.PointCloud, 100),
		stats:   scan.NewTelegramStats(),
		cfg:     cfg,
		seen:    make(map[pointKey]struct{}),
	}
}

func TestAccumulateDeduplicatesOnIntegerGrid(t *testing.T) {
	f := bareForwarder(DefaultForwarderConfig())

	f.accumulate(cloudOf(
		[3]float64{1.1, 2.2, 3.3},
		[3]float64{0.9, 2.4, 2.8}, // rounds to the same (1,2,3) cell
		[3]float64{10, 20, 30},
	))
	if len(f.xs) != 2 {
		t.Fatalf("expected 2 accumulated points, got %d", len(f.xs))
	}
	// The set stores the rounded cell coordinates, not the raw point.
	if f.xs[0] != 1 || f.ys[0] != 2 || f.zs[0] != 3 {
		t.Errorf("expected rounded coordinates (1, 2, 3), got (%v, %v, %v)", f.xs[0], f.ys[0], f.zs[0])
	}

	// A later cloud hitting occupied cells adds nothing.
	f.accumulate(cloudOf([3]float64{1.2, 1.8, 3.1}))
	if len(f.xs) != 2 {
		t.Errorf("duplicate cell accepted, now %d points", len(f.xs))
	}
}

func TestAccumulateStopsAtPointLimit(t *testing.T) {
	cfg := DefaultForwarderConfig()
	cfg.PointLimit = 3
	f := bareForwarder(cfg)

	f.accumulate(cloudOf(
		[3]float64{0, 0, 0},
		[3]float64{1, 0, 0},
		[3]float64{2, 0, 0},
		[3]float64{3, 0, 0},
	))
	if len(f.xs) != 3 {
		t.Errorf("expected limit of 3, got %d points", len(f.xs))
	}

	f.Reset()
	f.accumulate(cloudOf([3]float64{3, 0, 0}))
	if len(f.xs) != 1 {
		t.Errorf("reset must clear the set and the limit, got %d points", len(f.xs))
	}
}

func TestEncodeChunkLayout(t *testing.T) {
	xs := []float64{100, -200}
	ys := []float64{0, 50}
	zs := []float64{10, 20}
	payload := encodeChunk(xs, ys, zs, 0.005)

	if len(payload) != 24 {
		t.Fatalf("expected 24 bytes for 2 points, got %d", len(payload))
	}
	want := []float32{0.5, 0, 0.05, -1, 0.25, 0.1}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		if got != w {
			t.Errorf("value %d: got %v, want %v", i, got, w)
		}
	}
}

func TestForwardAsyncCountsDropsWhenQueueFull(t *testing.T) {
	f := bareForwarder(DefaultForwarderConfig())
	cloud := cloudOf([3]float64{0, 0, 0})

	for i := 0; i < cap(f.channel)+5; i++ {
		f.ForwardAsync(cloud)
	}
	if snap := f.stats.GetAndReset(); snap.Dropped != 5 {
		t.Errorf("expected 5 drops, got %d", snap.Dropped)
	}
}

func TestForwarderStreamsAccumulatedChunks(t *testing.T) {
	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to open receiver: %v", err)
	}
	defer receiver.Close()
	port := receiver.LocalAddr().(*net.UDPAddr).Port

	cfg := DefaultForwarderConfig()
	cfg.ChunkSize = 2
	cfg.SendInterval = 10 * time.Millisecond
	f, err := NewPointForwarder("127.0.0.1", port, scan.NewTelegramStats(), cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	f.ForwardAsync(cloudOf(
		[3]float64{1, 0, 0},
		[3]float64{2, 0, 0},
		[3]float64{3, 0, 0},
	))

	// Three points with a chunk size of two arrive as datagrams of two
	// points and one point.
	sizes := make(map[int]int)
	receiver.SetReadDeadline(time.Now().Add(5 * time.Second))
	buffer := make([]byte, 2048)
	for len(sizes) < 2 {
		n, _, err := receiver.ReadFromUDP(buffer)
		if err != nil {
			t.Fatalf("receive failed (chunks so far: %v): %v", sizes, err)
		}
		sizes[n]++
	}
	if sizes[24] == 0 || sizes[12] == 0 {
		t.Errorf("expected 24-byte and 12-byte datagrams, got %v", sizes)
	}

	cancel()
	f.Close()
}

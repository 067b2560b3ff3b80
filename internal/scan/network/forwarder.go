package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/echerrman/picoscan/internal/monitoring"
	"github.com/echerrman/picoscan/internal/scan"
)

// ForwarderConfig tunes the outbound point stream.
type ForwarderConfig struct {
	// ChunkSize is the maximum number of points per outbound datagram.
	ChunkSize int
	// Scale multiplies every coordinate before encoding, converting scaled
	// range units into the renderer's world units.
	Scale float64
	// SendInterval is how often the accumulated point set is re-sent.
	SendInterval time.Duration
	// PointLimit bounds the accumulated set; once reached, new points are
	// ignored until a Reset.
	PointLimit int
}

// DefaultForwarderConfig returns the tuning the rendering engine expects.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		ChunkSize:    250,
		Scale:        0.005,
		SendInterval: 200 * time.Millisecond,
		PointLimit:   1_000_000,
	}
}

type pointKey struct {
	x, y, z int64
}

// PointForwarder accumulates downsampled point clouds into a persistent
// deduplicated set and periodically streams the whole set to a rendering
// engine as UDP datagrams of ChunkSize points, each point encoded as three
// scaled little-endian float32 values.
//
// Accumulation rounds coordinates to the nearest integer unit and keeps
// one point per grid cell; the rounded coordinates are what the set stores
// and streams. The grid is coarser than the voxel downsampler's: the voxel
// stage thins one frame, this set merges frames into a persistent scene.
type PointForwarder struct {
	conn    *net.UDPConn
	channel chan *scan.PointCloud
	stats   *scan.TelegramStats
	address string
	cfg     ForwarderConfig

	// Owned by the forwarding goroutine after Start.
	seen       map[pointKey]struct{}
	xs, ys, zs []float64
}

// NewPointForwarder creates a forwarder that streams points to addr:port.
func NewPointForwarder(addr string, port int, stats *scan.TelegramStats, cfg ForwarderConfig) (*PointForwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %v", err)
	}

	return &PointForwarder{
		conn:    conn,
		channel: make(chan *scan.PointCloud, 100),
		stats:   stats,
		address: forwardAddress,
		cfg:     cfg,
		seen:    make(map[pointKey]struct{}),
	}, nil
}

// Start begins the forwarding goroutine: incoming clouds are folded into
// the accumulated set, and every SendInterval the set is streamed out.
func (f *PointForwarder) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.cfg.SendInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				monitoring.Debugf("point forwarder stopping (%d points accumulated)", len(f.xs))
				return
			case cloud, ok := <-f.channel:
				if !ok {
					return
				}
				f.accumulate(cloud)
			case <-ticker.C:
				if len(f.xs) == 0 {
					continue
				}
				if err := f.sendAccumulated(); err != nil {
					monitoring.Logf("point forward failed: %v", err)
				}
			}
		}
	}()

	monitoring.Logf("forwarding accumulated points to %s every %v", f.address, f.cfg.SendInterval)
}

// ForwardAsync queues a point cloud for accumulation without blocking the
// receive loop. The cloud is dropped (and counted) when the queue is full.
func (f *PointForwarder) ForwardAsync(cloud *scan.PointCloud) {
	select {
	case f.channel <- cloud:
	default:
		f.stats.AddDropped()
	}
}

// Reset clears the accumulated scene. Call between captures.
func (f *PointForwarder) Reset() {
	f.seen = make(map[pointKey]struct{})
	f.xs, f.ys, f.zs = nil, nil, nil
}

// Close shuts the outbound connection.
func (f *PointForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}

func (f *PointForwarder) accumulate(cloud *scan.PointCloud) {
	for i := 0; i < cloud.Len(); i++ {
		if len(f.xs) >= f.cfg.PointLimit {
			return
		}
		key := pointKey{
			x: int64(math.Round(cloud.X[i])),
			y: int64(math.Round(cloud.Y[i])),
			z: int64(math.Round(cloud.Z[i])),
		}
		if _, dup := f.seen[key]; dup {
			continue
		}
		f.seen[key] = struct{}{}
		f.xs = append(f.xs, float64(key.x))
		f.ys = append(f.ys, float64(key.y))
		f.zs = append(f.zs, float64(key.z))
	}
}

func (f *PointForwarder) sendAccumulated() error {
	for start := 0; start < len(f.xs); start += f.cfg.ChunkSize {
		end := start + f.cfg.ChunkSize
		if end > len(f.xs) {
			end = len(f.xs)
		}
		payload := encodeChunk(f.xs[start:end], f.ys[start:end], f.zs[start:end], f.cfg.Scale)
		if _, err := f.conn.Write(payload); err != nil {
			return err
		}
	}
	monitoring.Debugf("sent %d accumulated points to %s", len(f.xs), f.address)
	return nil
}

// encodeChunk packs one outbound datagram: for each point, x, y and z as
// little-endian float32, scaled.
func encodeChunk(xs, ys, zs []float64, scale float64) []byte {
	payload := make([]byte, 0, len(xs)*12)
	for i := range xs {
		payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(float32(xs[i]*scale)))
		payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(float32(ys[i]*scale)))
		payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(float32(zs[i]*scale)))
	}
	return payload
}

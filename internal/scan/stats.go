package scan

import (
	"fmt"
	"sync"
	"time"
)

// TelegramStats tracks ingest counters with thread-safe operations. The
// forwarder goroutine reports drops concurrently with the receive loop, so
// this is the one piece of shared state in the pipeline and it locks.
type TelegramStats struct {
	mu            sync.Mutex
	telegramCount int64
	byteCount     int64
	invalidCount  int64
	scanCount     int64
	imuCount      int64
	rawPoints     int64
	keptPoints    int64
	droppedCount  int64
	lastReset     time.Time
}

// NewTelegramStats creates a TelegramStats instance.
func NewTelegramStats() *TelegramStats {
	return &TelegramStats{lastReset: time.Now()}
}

// AddTelegram counts one received datagram and its size.
func (s *TelegramStats) AddTelegram(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telegramCount++
	s.byteCount += int64(bytes)
}

// AddInvalid counts a datagram rejected by frame validation.
func (s *TelegramStats) AddInvalid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidCount++
}

// AddScan counts one decoded scan frame with its raw and post-downsampling
// point counts.
func (s *TelegramStats) AddScan(rawPoints, keptPoints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCount++
	s.rawPoints += int64(rawPoints)
	s.keptPoints += int64(keptPoints)
}

// AddImu counts one decoded IMU sample.
func (s *TelegramStats) AddImu() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imuCount++
}

// AddDropped counts a point cloud dropped by the forwarder.
func (s *TelegramStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedCount++
}

// Snapshot is one interval's worth of counters.
type Snapshot struct {
	Telegrams  int64
	Bytes      int64
	Invalid    int64
	ScanFrames int64
	ImuSamples int64
	RawPoints  int64
	KeptPoints int64
	Dropped    int64
	Duration   time.Duration
}

// GetAndReset returns the counters since the last reset and zeroes them.
func (s *TelegramStats) GetAndReset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		Telegrams:  s.telegramCount,
		Bytes:      s.byteCount,
		Invalid:    s.invalidCount,
		ScanFrames: s.scanCount,
		ImuSamples: s.imuCount,
		RawPoints:  s.rawPoints,
		KeptPoints: s.keptPoints,
		Dropped:    s.droppedCount,
		Duration:   now.Sub(s.lastReset),
	}
	s.telegramCount = 0
	s.byteCount = 0
	s.invalidCount = 0
	s.scanCount = 0
	s.imuCount = 0
	s.rawPoints = 0
	s.keptPoints = 0
	s.droppedCount = 0
	s.lastReset = now
	return snap
}

// LogStats logs one interval of formatted per-second rates and resets the
// counters. Quiet intervals log nothing.
func (s *TelegramStats) LogStats() {
	snap := s.GetAndReset()
	if snap.Telegrams == 0 && snap.Invalid == 0 && snap.Dropped == 0 {
		return
	}

	secs := snap.Duration.Seconds()
	msg := fmt.Sprintf("scan stats (/sec): %.2f MB, %.1f telegrams, %s points (%s kept)",
		float64(snap.Bytes)/secs/(1024*1024),
		float64(snap.Telegrams)/secs,
		FormatWithCommas(int64(float64(snap.RawPoints)/secs)),
		FormatWithCommas(int64(float64(snap.KeptPoints)/secs)))
	if snap.ImuSamples > 0 {
		msg += fmt.Sprintf(", %d imu", snap.ImuSamples)
	}
	if snap.Invalid > 0 {
		msg += fmt.Sprintf(", %d invalid", snap.Invalid)
	}
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", snap.Dropped)
	}
	logf("%s", msg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}

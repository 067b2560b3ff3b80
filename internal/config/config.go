package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the tuning parameters of the scan pipeline. Every
// field is a pointer so a partial JSON file overrides only what it names;
// the Get* methods supply defaults for everything else.
type Config struct {
	// Receive params
	ListenPort  *int    `json:"listen_port,omitempty"`
	RcvBufBytes *int    `json:"rcvbuf_bytes,omitempty"`
	LogInterval *string `json:"log_interval,omitempty"` // duration string like "10s"

	// Point pipeline params
	VoxelSize  *float64 `json:"voxel_size,omitempty"`
	WorldFrame *bool    `json:"world_frame,omitempty"`

	// Position tracker params
	CalibrationSamples  *int `json:"calibration_samples,omitempty"`
	PositionSmoothing   *int `json:"position_smoothing,omitempty"`
	QuaternionSmoothing *int `json:"quaternion_smoothing,omitempty"`

	// Forwarder params
	ForwardAddress *string  `json:"forward_address,omitempty"`
	ForwardPort    *int     `json:"forward_port,omitempty"`
	ChunkSize      *int     `json:"chunk_size,omitempty"`
	ForwardScale   *float64 `json:"forward_scale,omitempty"`
	SendInterval   *string  `json:"send_interval,omitempty"` // duration string like "200ms"
	PointLimit     *int     `json:"point_limit,omitempty"`
}

// Load reads a Config from a JSON file. Fields omitted from the file keep
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.ListenPort != nil {
		if *c.ListenPort < 1 || *c.ListenPort > 65535 {
			return fmt.Errorf("listen_port must be between 1 and 65535, got %d", *c.ListenPort)
		}
	}
	if c.ForwardPort != nil {
		if *c.ForwardPort < 1 || *c.ForwardPort > 65535 {
			return fmt.Errorf("forward_port must be between 1 and 65535, got %d", *c.ForwardPort)
		}
	}
	if c.VoxelSize != nil && *c.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be positive, got %f", *c.VoxelSize)
	}
	if c.CalibrationSamples != nil && *c.CalibrationSamples < 1 {
		return fmt.Errorf("calibration_samples must be at least 1, got %d", *c.CalibrationSamples)
	}
	if c.ChunkSize != nil && *c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", *c.ChunkSize)
	}
	if c.SendInterval != nil && *c.SendInterval != "" {
		if _, err := time.ParseDuration(*c.SendInterval); err != nil {
			return fmt.Errorf("invalid send_interval '%s': %w", *c.SendInterval, err)
		}
	}
	if c.LogInterval != nil && *c.LogInterval != "" {
		if _, err := time.ParseDuration(*c.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *c.LogInterval, err)
		}
	}
	return nil
}

// GetListenPort returns the listen_port value or the default.
func (c *Config) GetListenPort() int {
	if c.ListenPort == nil {
		return 2115 // picoScan compact format port
	}
	return *c.ListenPort
}

// GetRcvBufBytes returns the rcvbuf_bytes value or the default.
func (c *Config) GetRcvBufBytes() int {
	if c.RcvBufBytes == nil {
		return 4 * 1024 * 1024
	}
	return *c.RcvBufBytes
}

// GetLogInterval parses and returns the log_interval as a time.Duration.
func (c *Config) GetLogInterval() time.Duration {
	if c.LogInterval == nil || *c.LogInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.LogInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *Config) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 10.0 // scaled range units
	}
	return *c.VoxelSize
}

// GetWorldFrame returns the world_frame value or the default.
func (c *Config) GetWorldFrame() bool {
	if c.WorldFrame == nil {
		return false
	}
	return *c.WorldFrame
}

// GetCalibrationSamples returns the calibration_samples value or the default.
func (c *Config) GetCalibrationSamples() int {
	if c.CalibrationSamples == nil {
		return 100
	}
	return *c.CalibrationSamples
}

// GetPositionSmoothing returns the position_smoothing value or the default.
func (c *Config) GetPositionSmoothing() int {
	if c.PositionSmoothing == nil {
		return 5
	}
	return *c.PositionSmoothing
}

// GetQuaternionSmoothing returns the quaternion_smoothing value or the default.
func (c *Config) GetQuaternionSmoothing() int {
	if c.QuaternionSmoothing == nil {
		return 5
	}
	return *c.QuaternionSmoothing
}

// GetForwardAddress returns the forward_address value or the default.
func (c *Config) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return "127.0.0.1"
	}
	return *c.ForwardAddress
}

// GetForwardPort returns the forward_port value or the default.
func (c *Config) GetForwardPort() int {
	if c.ForwardPort == nil {
		return 5005
	}
	return *c.ForwardPort
}

// GetChunkSize returns the chunk_size value or the default.
func (c *Config) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 250
	}
	return *c.ChunkSize
}

// GetForwardScale returns the forward_scale value or the default.
func (c *Config) GetForwardScale() float64 {
	if c.ForwardScale == nil {
		return 0.005
	}
	return *c.ForwardScale
}

// GetSendInterval parses and returns the send_interval as a time.Duration.
func (c *Config) GetSendInterval() time.Duration {
	if c.SendInterval == nil || *c.SendInterval == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SendInterval)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetPointLimit returns the point_limit value or the default.
func (c *Config) GetPointLimit() int {
	if c.PointLimit == nil {
		return 1_000_000
	}
	return *c.PointLimit
}

// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/zsiec/asfdemux/internal/asf"
)

// Config holds the service configuration.
type Config struct {
	// SRTAddr is the SRT publish listener address. Default ":6000".
	SRTAddr string
	// QUICAddr is the QUIC ingest listener address. Default ":4443".
	QUICAddr string
	// APIAddr is the HTTPS status API address. Default ":4444".
	APIAddr string
	// OutputDir receives one framewire file per ingested stream. Empty
	// discards frames. Default "frames".
	OutputDir string

	MaxHeaderSize uint64
	MaxFrameSize  int
	IndexCapacity uint64
	QueueCapacity int

	Debug bool
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		SRTAddr:       ":6000",
		QUICAddr:      ":4443",
		APIAddr:       ":4444",
		OutputDir:     "frames",
		MaxHeaderSize: asf.DefaultMaxHeaderSize,
		MaxFrameSize:  asf.DefaultMaxFrameSize,
		IndexCapacity: asf.DefaultIndexCapacity,
		QueueCapacity: asf.DefaultQueueCapacity,
	}
}

// Load reads the environment on top of Default.
//
// Environment variables:
//   - ASF_SRT_ADDR, ASF_QUIC_ADDR, ASF_API_ADDR: listener addresses
//   - ASF_OUTPUT_DIR: framewire output directory ("-" disables output)
//   - ASF_MAX_HEADER_SIZE: header object ceiling in bytes
//   - ASF_MAX_FRAME_SIZE: reassembled frame ceiling in bytes
//   - ASF_INDEX_CAP: packets tracked by the seek index
//   - ASF_QUEUE_CAP: payloads queued per stream
//   - DEBUG: any non-empty value enables debug logging
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if v := getenv("ASF_SRT_ADDR"); v != "" {
		cfg.SRTAddr = v
	}
	if v := getenv("ASF_QUIC_ADDR"); v != "" {
		cfg.QUICAddr = v
	}
	if v := getenv("ASF_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	switch v := getenv("ASF_OUTPUT_DIR"); v {
	case "":
	case "-":
		cfg.OutputDir = ""
	default:
		cfg.OutputDir = v
	}
	cfg.Debug = getenv("DEBUG") != ""

	var err error
	if cfg.MaxHeaderSize, err = uintVar(getenv, "ASF_MAX_HEADER_SIZE", cfg.MaxHeaderSize); err != nil {
		return nil, err
	}
	if cfg.IndexCapacity, err = uintVar(getenv, "ASF_INDEX_CAP", cfg.IndexCapacity); err != nil {
		return nil, err
	}
	frame, err := uintVar(getenv, "ASF_MAX_FRAME_SIZE", uint64(cfg.MaxFrameSize))
	if err != nil {
		return nil, err
	}
	queue, err := uintVar(getenv, "ASF_QUEUE_CAP", uint64(cfg.QueueCapacity))
	if err != nil {
		return nil, err
	}
	if frame == 0 || queue == 0 {
		return nil, fmt.Errorf("ASF_MAX_FRAME_SIZE and ASF_QUEUE_CAP must be positive")
	}
	cfg.MaxFrameSize, cfg.QueueCapacity = int(frame), int(queue)
	return cfg, nil
}

func uintVar(getenv func(string) string, name string, def uint64) (uint64, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, err)
	}
	return n, nil
}

// DemuxOptions returns the demuxer limits as options.
func (c *Config) DemuxOptions() []asf.Option {
	return []asf.Option{
		asf.WithMaxHeaderSize(c.MaxHeaderSize),
		asf.WithMaxFrameSize(c.MaxFrameSize),
		asf.WithIndexCapacity(c.IndexCapacity),
		asf.WithQueueCapacity(c.QueueCapacity),
	}
}

// LogLevel maps Debug to a slog level.
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

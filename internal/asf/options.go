package asf

import "log/slog"

// Default resource ceilings.
const (
	DefaultMaxHeaderSize = 16 << 20
	DefaultMaxFrameSize  = 32 << 20
	DefaultIndexCapacity = 1 << 16
	DefaultQueueCapacity = 4096
)

type config struct {
	log           *slog.Logger
	maxHeaderSize uint64
	maxFrameSize  int
	indexCapacity uint64
	queueCapacity int
}

func defaultConfig() config {
	return config{
		log:           slog.Default(),
		maxHeaderSize: DefaultMaxHeaderSize,
		maxFrameSize:  DefaultMaxFrameSize,
		indexCapacity: DefaultIndexCapacity,
		queueCapacity: DefaultQueueCapacity,
	}
}

// Option configures a Parser or Demuxer.
type Option func(*config)

// WithLogger sets the logger; debug output reports skipped packets and
// dropped payloads.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxHeaderSize bounds the header object (and any single object in it).
func WithMaxHeaderSize(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxHeaderSize = n
		}
	}
}

// WithMaxFrameSize bounds one reassembled frame.
func WithMaxFrameSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithIndexCapacity bounds the number of packets tracked by the seek index.
func WithIndexCapacity(n uint64) Option {
	return func(c *config) {
		c.indexCapacity = n
	}
}

// WithQueueCapacity bounds the payloads queued per stream; the oldest are
// dropped beyond it.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

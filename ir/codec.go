package ir

import "go.uber.org/zap"

// Codec converts between binary modules and the IR. A Codec is immutable
// and safe for concurrent use.
type Codec struct {
	logger   *zap.Logger
	features Features
}

// Option configures a Codec.
type Option func(*Codec)

// WithFeatures sets the accepted instruction families. The default is
// FeaturesMinimal.
func WithFeatures(f Features) Option {
	return func(c *Codec) {
		c.features = f
	}
}

// WithLogger sets the logger for per-section debug events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// NewCodec creates a codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{features: FeaturesMinimal}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = Logger()
	}
	return c
}

// Features returns the feature set the codec accepts.
func (c *Codec) Features() Features {
	return c.features
}

// Decode converts a binary module using the default codec.
func Decode(data []byte) (*Module, error) {
	return NewCodec().Decode(data)
}

// Encode converts m to a binary module using the default codec.
func Encode(m *Module) ([]byte, error) {
	return NewCodec().Encode(m)
}

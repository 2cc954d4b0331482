package emailnet

import (
	"github.com/rs/zerolog"
)

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithServiceOptions replaces the dispatch options.
func WithServiceOptions(opts EmailServiceOptions) Option {
	return func(c *Config) {
		c.Service = &opts
	}
}

// WithDefaultProvider sets the provider used when a send does not name one.
func WithDefaultProvider(name string) Option {
	return func(c *Config) {
		service(c).DefaultEdpName = name
	}
}

// WithDefaultFrom sets the sender applied to messages composed without one.
// Service options require a default provider as well.
func WithDefaultFrom(address string) Option {
	return func(c *Config) {
		service(c).DefaultFrom = address
	}
}

// WithPauseSending makes every send return a paused result.
func WithPauseSending(paused bool) Option {
	return func(c *Config) {
		service(c).PauseSending = paused
	}
}

// WithBatchConcurrency sets how many messages built-in providers send at once.
func WithBatchConcurrency(n int) Option {
	return func(c *Config) {
		c.Batch.Concurrency = n
	}
}

// WithTemplates enables template functionality and sets the template directory.
func WithTemplates(directory string) Option {
	return func(c *Config) {
		c.Templates.Enabled = true
		c.Templates.Directory = directory
	}
}

// WithLogging configures logging.
func WithLogging(level, format, output string) Option {
	return func(c *Config) {
		c.Logging.Level = level
		c.Logging.Format = format
		c.Logging.Output = output
	}
}

// WithLogger sets a ready logger, ignoring the Logging settings.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = &logger
	}
}

// WithTracing enables tracing under the given instrumentation name.
func WithTracing(serviceName string) Option {
	return func(c *Config) {
		c.Tracing.Enabled = true
		c.Tracing.ServiceName = serviceName
	}
}

// WithoutTracing disables distributed tracing.
func WithoutTracing() Option {
	return func(c *Config) {
		c.Tracing.Enabled = false
	}
}

func service(c *Config) *EmailServiceOptions {
	if c.Service == nil {
		c.Service = &EmailServiceOptions{}
	}
	return c.Service
}

package emailnet

import (
	"github.com/rs/zerolog"
)

// Config holds the complete client configuration.
type Config struct {
	// Service configures provider selection, the default sender and pausing.
	// When nil, a send that names no provider uses the only registered one.
	Service *EmailServiceOptions

	// Batch configures SendMultiple.
	Batch BatchConfig

	// Templates contains template engine configuration.
	Templates TemplateConfig

	// Logging configures the logger built when Logger is nil.
	Logging LoggingConfig

	// Logger overrides Logging with a ready logger.
	Logger *zerolog.Logger

	// Tracing contains OpenTelemetry configuration.
	Tracing TracingConfig
}

// BatchConfig configures multi-message sends.
type BatchConfig struct {
	// Concurrency bounds how many messages a provider registered through the
	// Use* helpers sends at once. Zero keeps each provider's own default.
	Concurrency int `mapstructure:"concurrency"`
}

// TemplateConfig contains template engine configuration.
type TemplateConfig struct {
	// Enabled indicates whether template functionality is enabled.
	Enabled bool `mapstructure:"enabled"`

	// Directory is the path to the directory containing email templates.
	Directory string `mapstructure:"directory"`

	// Extension lists the file extensions loaded from Directory.
	// Files follow the naming convention <name>.<subject|html|text><ext>.
	Extension []string `mapstructure:"extension"`

	// AllowUnsafeFunctions enables unsafe template functions that bypass auto-escaping.
	// WARNING: Only enable this if you trust all template content completely.
	AllowUnsafeFunctions bool `mapstructure:"allow_unsafe_functions"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is the log format (json, console).
	Format string `mapstructure:"format"`

	// Output is where to write logs (stdout, stderr, discard or a file path).
	Output string `mapstructure:"output"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled indicates whether spans are recorded through the global tracer provider.
	Enabled bool `mapstructure:"enabled"`

	// ServiceName is the instrumentation name used for the tracer.
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Templates: TemplateConfig{
			Enabled:              false,
			Extension:            []string{".tmpl"},
			AllowUnsafeFunctions: false, // Secure by default
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "github.com/lattiq/emailnet",
		},
	}
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.Service != nil {
		if err := c.Service.Validate(); err != nil {
			return err
		}
	}

	if c.Batch.Concurrency < 0 {
		return &ValidationError{
			Field:   "batch.concurrency",
			Message: "concurrency must not be negative",
		}
	}

	if c.Templates.Enabled && c.Templates.Directory != "" && len(c.Templates.Extension) == 0 {
		return &ValidationError{
			Field:   "templates.extension",
			Message: "at least one extension is required to load templates from a directory",
		}
	}

	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return &ValidationError{
			Field:   "tracing.service_name",
			Message: "service name is required when tracing is enabled",
		}
	}

	return nil
}

package emailnet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override file values,
// e.g. EMAILNET_PROVIDERS_SENDGRID_API_KEY for providers.sendgrid.api_key.
const EnvPrefix = "EMAILNET"

// FileConfig is the on-disk form of a client configuration. Each non-nil
// provider section registers that provider.
//
//	service:
//	  default_edp_name: smtp
//	  default_from: noreply@example.com
//	providers:
//	  smtp:
//	    delivery_method: pickup_directory
//	    pickup_directory: /var/spool/emailnet
type FileConfig struct {
	Service   *EmailServiceOptions `mapstructure:"service"`
	Batch     BatchConfig          `mapstructure:"batch"`
	Templates TemplateConfig       `mapstructure:"templates"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	Tracing   TracingConfig        `mapstructure:"tracing"`
	Providers ProvidersConfig      `mapstructure:"providers"`
}

// ProvidersConfig holds one optional section per built-in provider.
type ProvidersConfig struct {
	SMTP       *SMTPServerOptions `mapstructure:"smtp"`
	SendGrid   *SendGridOptions   `mapstructure:"sendgrid"`
	Mailgun    *MailgunOptions    `mapstructure:"mailgun"`
	SES        *SESOptions        `mapstructure:"ses"`
	Resend     *ResendOptions     `mapstructure:"resend"`
	SocketLabs *SocketLabsOptions `mapstructure:"socketlabs"`
}

// LoadConfigFile reads a YAML, JSON or TOML configuration file. The format
// follows the file extension. Environment variables prefixed with EnvPrefix
// override keys present in the file or in the defaults.
func LoadConfigFile(path string) (*FileConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config file path is empty")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("batch.concurrency", defaults.Batch.Concurrency)
	v.SetDefault("templates.enabled", defaults.Templates.Enabled)
	v.SetDefault("templates.extension", defaults.Templates.Extension)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return &cfg, nil
}

// Config returns the client configuration described by the file.
func (f *FileConfig) Config() Config {
	cfg := Config{
		Batch:     f.Batch,
		Templates: f.Templates,
		Logging:   f.Logging,
		Tracing:   f.Tracing,
	}
	if f.Service != nil {
		service := *f.Service
		cfg.Service = &service
	}
	return cfg
}

// NewFromFile loads path, creates a client from it and registers every
// configured provider. opts are applied on top of the file configuration.
func NewFromFile(path string, opts ...Option) (*Client, error) {
	fc, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}

	client, err := New(fc.Config(), opts...)
	if err != nil {
		return nil, err
	}

	if err := fc.register(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func (f *FileConfig) register(c *Client) error {
	p := f.Providers

	if p.SMTP != nil {
		if err := c.UseSMTP(SMTPOptions{Server: p.SMTP}); err != nil {
			return fmt.Errorf("providers.smtp: %w", err)
		}
	}
	if p.SendGrid != nil {
		if err := c.UseSendGrid(*p.SendGrid); err != nil {
			return fmt.Errorf("providers.sendgrid: %w", err)
		}
	}
	if p.Mailgun != nil {
		if err := c.UseMailgun(*p.Mailgun); err != nil {
			return fmt.Errorf("providers.mailgun: %w", err)
		}
	}
	if p.SES != nil {
		if err := c.UseSES(*p.SES); err != nil {
			return fmt.Errorf("providers.ses: %w", err)
		}
	}
	if p.Resend != nil {
		if err := c.UseResend(*p.Resend); err != nil {
			return fmt.Errorf("providers.resend: %w", err)
		}
	}
	if p.SocketLabs != nil {
		if err := c.UseSocketLabs(*p.SocketLabs); err != nil {
			return fmt.Errorf("providers.socketlabs: %w", err)
		}
	}

	return nil
}

package smtp

import (
	"strings"
	"time"

	"github.com/lattiq/emailnet/internal/core"
)

// DeliveryMethod selects how the provider hands messages off.
type DeliveryMethod string

const (
	// DeliveryNetwork sends through an SMTP server.
	DeliveryNetwork DeliveryMethod = "network"

	// DeliveryPickupDirectory writes each message as an .eml file to a local directory.
	DeliveryPickupDirectory DeliveryMethod = "pickup_directory"
)

// Options configures the SMTP provider.
type Options struct {
	// Server holds the server settings. Required.
	Server *ServerOptions
}

// Validate checks the required fields, delegating to the server settings.
func (o *Options) Validate() error {
	if o.Server == nil {
		return core.NewRequiredOptionError("smtp.Options", "Server", "the SMTP server options are not specified")
	}
	return o.Server.Validate()
}

// ServerOptions holds SMTP server settings.
type ServerOptions struct {
	// Host is the SMTP server host name. Required for network delivery.
	Host string `mapstructure:"host"`

	// Port is the SMTP server port. Required for network delivery.
	Port int `mapstructure:"port"`

	// Username and Password enable PLAIN authentication when Username is set.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// UseTLS connects with implicit TLS (SMTPS). Without it, STARTTLS is used when the server offers it.
	UseTLS bool `mapstructure:"use_tls"`

	// SkipTLSVerify disables certificate verification. Development only.
	SkipTLSVerify bool `mapstructure:"skip_tls_verify"`

	// DeliveryMethod defaults to DeliveryNetwork.
	DeliveryMethod DeliveryMethod `mapstructure:"delivery_method"`

	// PickupDirectory is where DeliveryPickupDirectory writes messages.
	PickupDirectory string `mapstructure:"pickup_directory"`

	// HelloName is the EHLO identity. Defaults to "localhost".
	HelloName string `mapstructure:"hello_name"`

	// Timeout bounds a whole network send. Zero means no timeout beyond the context.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Validate checks the fields required by the delivery method.
func (o *ServerOptions) Validate() error {
	switch o.method() {
	case DeliveryPickupDirectory:
		if strings.TrimSpace(o.PickupDirectory) == "" {
			return core.NewRequiredOptionError("smtp.ServerOptions", "PickupDirectory",
				"the pickup directory location is empty")
		}
	case DeliveryNetwork:
		if strings.TrimSpace(o.Host) == "" {
			return core.NewRequiredOptionError("smtp.ServerOptions", "Host", "the SMTP host is empty")
		}
		if o.Port <= 0 || o.Port > 65535 {
			return core.NewRequiredOptionError("smtp.ServerOptions", "Port",
				"the SMTP port must be between 1 and 65535")
		}
	default:
		return core.NewRequiredOptionError("smtp.ServerOptions", "DeliveryMethod",
			"unsupported delivery method: "+string(o.DeliveryMethod))
	}
	return nil
}

func (o *ServerOptions) method() DeliveryMethod {
	if o.DeliveryMethod == "" {
		return DeliveryNetwork
	}
	return o.DeliveryMethod
}

func (o *ServerOptions) helloName() string {
	if o.HelloName == "" {
		return "localhost"
	}
	return o.HelloName
}

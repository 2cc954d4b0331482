package core

import "strings"

// OptionsValidator is implemented by every provider options type. Validate
// returns a RequiredOptionValueNotSpecifiedError for the first missing or
// invalid required field, checking fields in declaration order.
//
// Validate runs once, when the provider is constructed or registered; options
// are treated as read-only afterwards.
type OptionsValidator interface {
	Validate() error
}

// EmailServiceOptions configures the dispatch layer.
type EmailServiceOptions struct {
	// DefaultEdpName is the provider used when a send does not name one. Required.
	DefaultEdpName string `mapstructure:"default_edp_name"`

	// DefaultFrom is the sender applied to messages composed without one (optional).
	DefaultFrom string `mapstructure:"default_from"`

	// PauseSending makes every send return a paused result without contacting a provider.
	PauseSending bool `mapstructure:"pause_sending"`
}

// Validate checks the required fields.
func (o *EmailServiceOptions) Validate() error {
	if strings.TrimSpace(o.DefaultEdpName) == "" {
		return NewRequiredOptionError("EmailServiceOptions", "DefaultEdpName",
			"the default email delivery provider name is empty")
	}

	if o.DefaultFrom != "" {
		if _, err := ParseAddress(o.DefaultFrom); err != nil {
			return NewRequiredOptionError("EmailServiceOptions", "DefaultFrom",
				"the default from address is not a valid email address")
		}
	}

	return nil
}

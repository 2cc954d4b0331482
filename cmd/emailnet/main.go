// Command emailnet sends one message through a file-configured client.
//
//	emailnet -c emailnet.yaml --to user@example.com -s "Hello" --text "Hi there"
//	emailnet -c emailnet.yaml --to user@example.com --template welcome --var name=Ada
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/lattiq/emailnet"
)

type options struct {
	configPath string
	provider   string
	from       string
	to         []string
	cc         []string
	bcc        []string
	replyTo    []string
	subject    string
	text       string
	html       string
	template   string
	vars       map[string]string
	attach     []string
	headers    map[string]string
	priority   string
	timeout    time.Duration
	verbose    bool
	version    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	if opts.version {
		fmt.Fprintln(stdout, emailnet.GetVersionInfo().String())
		return 0
	}

	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger().Level(level)

	client, err := emailnet.NewFromFile(opts.configPath, emailnet.WithLogger(logger))
	if err != nil {
		logger.Error().Err(err).Str("config", opts.configPath).Msg("failed to create client")
		return 1
	}
	defer client.Close()

	msg, err := compose(client, opts)
	if err != nil {
		logger.Error().Err(err).Msg("invalid message")
		return 2
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var result *emailnet.SendResult
	if opts.provider != "" {
		result, err = client.SendVia(ctx, opts.provider, msg)
	} else {
		result, err = client.Send(ctx, msg)
	}
	if err != nil {
		logger.Error().Err(err).Msg("message not sent")
		return 1
	}

	if !result.Success {
		logger.Error().
			Str("provider", result.Provider).
			Str("kind", string(result.Error.Kind)).
			Int("status", result.Error.StatusCode).
			Msg(result.Error.Message)
		return 1
	}

	logger.Info().
		Str("provider", result.Provider).
		Str("message_id", result.MessageID).
		Msg("message sent")
	fmt.Fprintln(stdout, result.MessageID)
	return 0
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	fs := pflag.NewFlagSet("emailnet", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "emailnet.yaml", "configuration file (yaml, json or toml)")
	fs.StringVarP(&opts.provider, "provider", "p", "", "provider to send through (default: configured default)")
	fs.StringVar(&opts.from, "from", "", "sender address (default: configured default_from)")
	fs.StringSliceVar(&opts.to, "to", nil, "recipient address, repeatable")
	fs.StringSliceVar(&opts.cc, "cc", nil, "carbon copy address, repeatable")
	fs.StringSliceVar(&opts.bcc, "bcc", nil, "blind carbon copy address, repeatable")
	fs.StringSliceVar(&opts.replyTo, "reply-to", nil, "reply-to address, repeatable")
	fs.StringVarP(&opts.subject, "subject", "s", "", "subject line")
	fs.StringVar(&opts.text, "text", "", "plain text body")
	fs.StringVar(&opts.html, "html", "", "HTML body")
	fs.StringVarP(&opts.template, "template", "t", "", "render subject and bodies from a template")
	fs.StringToStringVar(&opts.vars, "var", nil, "template variable key=value, repeatable")
	fs.StringSliceVarP(&opts.attach, "attach", "a", nil, "file to attach, repeatable")
	fs.StringToStringVar(&opts.headers, "header", nil, "custom header Name=value, repeatable")
	fs.StringVar(&opts.priority, "priority", "normal", "priority: low, normal or high")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "send timeout, 0 for none")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.version {
		return opts, nil
	}
	if len(opts.to) == 0 {
		return nil, errors.New("at least one --to recipient is required")
	}

	return opts, nil
}

func compose(client *emailnet.Client, opts *options) (*emailnet.Message, error) {
	composer := emailnet.Compose()
	if opts.template != "" {
		data := make(map[string]any, len(opts.vars))
		for k, v := range opts.vars {
			data[k] = v
		}
		var err error
		composer, err = client.ComposeTemplate(opts.template, data)
		if err != nil {
			return nil, err
		}
	}

	if opts.from != "" {
		composer.From(opts.from)
	}
	for _, addr := range opts.to {
		composer.To(addr)
	}
	for _, addr := range opts.cc {
		composer.Cc(addr)
	}
	for _, addr := range opts.bcc {
		composer.Bcc(addr)
	}
	for _, addr := range opts.replyTo {
		composer.ReplyTo(addr)
	}

	if opts.subject != "" {
		composer.WithSubject(opts.subject)
	}
	if opts.text != "" {
		composer.WithPlainTextContent(opts.text)
	}
	if opts.html != "" {
		composer.WithHTMLContent(opts.html)
	}

	for name, value := range opts.headers {
		composer.WithHeader(name, value)
	}
	for _, path := range opts.attach {
		composer.IncludeAttachment(emailnet.NewFilePathAttachment(path))
	}

	priority, err := parsePriority(opts.priority)
	if err != nil {
		return nil, err
	}
	composer.WithPriority(priority)

	return composer.Build()
}

func parsePriority(s string) (emailnet.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return emailnet.PriorityNormal, nil
	case "low":
		return emailnet.PriorityLow, nil
	case "high":
		return emailnet.PriorityHigh, nil
	default:
		return emailnet.PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

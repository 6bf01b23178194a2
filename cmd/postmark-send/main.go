// Package main is the entry point for the postmark-send command, which
// builds one message per recipient from flags and delivers them through the
// configured provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/postmark-lite/email"
	"github.com/shineum/postmark-lite/internal/config"
	"github.com/shineum/postmark-lite/internal/provider"
	pmprovider "github.com/shineum/postmark-lite/internal/provider/postmark"
	"github.com/shineum/postmark-lite/internal/provider/ses"
	"github.com/shineum/postmark-lite/internal/provider/stdout"
	"github.com/shineum/postmark-lite/postmark"
)

// dryRunSender is the From address printed by the stdout provider when no
// sender is configured.
const dryRunSender = "dry-run@example.com"

// messageFlags holds the message fields given on the command line.
type messageFlags struct {
	to          string
	cc          string
	bcc         string
	replyTo     string
	subject     string
	text        string
	html        string
	tag         string
	attachments string
}

func (m *messageFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.to, "to", "", "comma-separated recipients; each receives its own message (required)")
	fs.StringVar(&m.cc, "cc", "", "comma-separated Cc recipients")
	fs.StringVar(&m.bcc, "bcc", "", "comma-separated Bcc recipients")
	fs.StringVar(&m.replyTo, "reply-to", "", "reply-to address")
	fs.StringVar(&m.subject, "subject", "", "message subject")
	fs.StringVar(&m.text, "text", "", "plain text body")
	fs.StringVar(&m.html, "html", "", "HTML body")
	fs.StringVar(&m.tag, "tag", "", "message tag")
	fs.StringVar(&m.attachments, "attach", "", "comma-separated file paths to attach")
}

func main() {
	fs := flag.NewFlagSet("postmark-send", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	envFile := fs.String("env-file", "", "path to a dotenv file loaded before reading the environment (optional)")
	var msg messageFlags
	msg.register(fs)
	_ = fs.Parse(os.Args[1:])

	// Load configuration
	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Select email delivery provider
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to select provider", "error", err)
		os.Exit(1)
	}

	bodies, err := buildMessages(msg, cfg)
	if err != nil {
		slog.Error("invalid message", "error", err)
		os.Exit(2)
	}

	slog.Info("sending messages",
		"provider", prov.Name(),
		"count", len(bodies),
	)

	results, err := provider.SendAll(ctx, prov, bodies)
	if err != nil {
		slog.Error("delivery interrupted", "error", err)
	}

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			slog.Error("message failed", "index", i, "to", bodies[i].To().String(), "error", r.Err)
			continue
		}
		slog.Info("message accepted", "index", i, "message_id", r.MessageID)
	}

	if failed > 0 || err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given. A dotenv file, when
// given, is merged into the environment first.
func loadConfig(path, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with the specified level
// and output format.
func setupLogger(w io.Writer, level, format string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// selectProvider chooses the email delivery backend based on configuration.
// If PROVIDER is set, it takes precedence. Otherwise Postmark is used when
// configured, then SES, then stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "postmark":
		return newPostmarkProvider(cfg)
	case "ses":
		return newSESProvider(ctx, cfg)
	case "stdout":
		return newStdoutProvider(cfg)
	case "":
		if cfg.PostmarkConfigured() {
			slog.Info("Postmark credentials found, using postmark provider")
			return newPostmarkProvider(cfg)
		}
		if cfg.SESConfigured() {
			slog.Info("SES settings found, using ses provider")
			return newSESProvider(ctx, cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return newStdoutProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newPostmarkProvider(cfg *config.Config) (provider.Provider, error) {
	sender, err := email.ParseAddress(cfg.Postmark.Sender)
	if err != nil {
		return nil, fmt.Errorf("postmark sender: %w", err)
	}

	client, err := postmark.NewClientBuilder().
		BaseURL(cfg.Postmark.BaseURL).
		Sender(sender).
		ServerToken(postmark.NewServerToken(cfg.Postmark.ServerToken)).
		Timeout(cfg.Postmark.Timeout).
		MaxRetries(cfg.Postmark.MaxRetries).
		Concurrency(cfg.Postmark.Concurrency).
		Logger(slog.Default()).
		Build()
	if err != nil {
		return nil, err
	}

	slog.Info("using Postmark provider", "client", client.String())
	return pmprovider.New(client), nil
}

func newSESProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	sender, err := email.ParseAddress(cfg.SES.Sender)
	if err != nil {
		return nil, fmt.Errorf("ses sender: %w", err)
	}

	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	return ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          sender,
		MaxRetries:      cfg.SES.MaxRetries,
	})
}

func newStdoutProvider(cfg *config.Config) (provider.Provider, error) {
	raw := dryRunSender
	switch {
	case cfg.Postmark.Sender != "":
		raw = cfg.Postmark.Sender
	case cfg.SES.Sender != "":
		raw = cfg.SES.Sender
	}

	sender, err := email.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("stdout sender: %w", err)
	}
	return stdout.New(sender), nil
}

// buildMessages creates one message per -to recipient, sharing every other
// field.
func buildMessages(m messageFlags, cfg *config.Config) ([]*email.OutboundBody, error) {
	recipients, err := email.ParseAddresses(splitList(m.to)...)
	if err != nil {
		return nil, fmt.Errorf("-to: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("-to is required")
	}

	cc, err := email.ParseAddresses(splitList(m.cc)...)
	if err != nil {
		return nil, fmt.Errorf("-cc: %w", err)
	}
	bcc, err := email.ParseAddresses(splitList(m.bcc)...)
	if err != nil {
		return nil, fmt.Errorf("-bcc: %w", err)
	}

	var attachments []email.Attachment
	for _, path := range splitList(m.attachments) {
		att, err := email.AttachmentFromFile("", path)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
	}

	trackLinks, err := email.ParseTrackLinks(cfg.Postmark.TrackLinks)
	if err != nil {
		return nil, err
	}

	var replyTo email.Address
	if m.replyTo != "" {
		if replyTo, err = email.ParseAddress(m.replyTo); err != nil {
			return nil, fmt.Errorf("-reply-to: %w", err)
		}
	}

	bodies := make([]*email.OutboundBody, 0, len(recipients))
	for _, to := range recipients {
		b := email.NewBuilder(to).
			Subject(m.subject).
			HTMLBody(m.html).
			TextBody(m.text).
			Cc(cc...).
			Bcc(bcc...).
			TrackOpens(cfg.Postmark.TrackOpens).
			TrackLinks(trackLinks).
			Attach(attachments...)
		if !replyTo.IsZero() {
			b.ReplyTo(replyTo)
		}
		if m.tag != "" {
			b.Tag(m.tag)
		}

		body, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("message to %s: %w", to, err)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// MailSink delivers findings over SMTP as plain-text mail.
type MailSink struct {
	Base
	username string
	password string
}

// NewMailSink builds the SMTP transport.
func NewMailSink(cfg models.SinkConfig, clusterName string, log *slog.Logger) (*MailSink, error) {
	if cfg.SMTPHost == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("mail sink %q requires smtp_host, from and to", cfg.Name)
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	username, password := "", ""
	if cfg.APIKey != "" {
		// api_key doubles as "user:password" for SMTP auth.
		if idx := strings.IndexByte(cfg.APIKey, ':'); idx >= 0 {
			username, password = cfg.APIKey[:idx], cfg.APIKey[idx+1:]
		}
	}
	return &MailSink{
		Base:     NewBase(cfg, clusterName, log),
		username: username,
		password: password,
	}, nil
}

// WriteFinding sends one mail per finding.
func (s *MailSink) WriteFinding(_ context.Context, f *models.Finding) error {
	addr := net.JoinHostPort(s.Config.SMTPHost, strconv.Itoa(s.Config.SMTPPort))

	subject := fmt.Sprintf("[%s] %s", f.Severity, f.Title)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.Config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.Config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(findingText(f))
	msg.WriteString("\r\n")

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.Config.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, s.Config.From, s.Config.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// BuildSink constructs a sink from its sinksConfig entry.
func BuildSink(def models.SinkDefinition, clusterName string, log *slog.Logger) (Sink, error) {
	switch def.Type {
	case "slack_sink":
		return NewSlackSink(def.Config, clusterName, log)
	case "ms_teams_sink":
		return NewMSTeamsSink(def.Config, clusterName, log)
	case "webhook_sink":
		return NewWebhookSink(def.Config, clusterName, log)
	case "mail_sink":
		return NewMailSink(def.Config, clusterName, log)
	default:
		return nil, fmt.Errorf("unknown sink type %q", def.Type)
	}
}

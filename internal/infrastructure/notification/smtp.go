// Package notification delivers outbound messages for the notification worker.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	appnotification "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/notification"
)

var ErrNoRecipients = errors.New("notification: message has no recipients")

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends plain-text mail through a relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send sendMailFunc
}

var _ appnotification.Notifier = (*SMTPNotifier)(nil)

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{cfg: cfg, auth: auth, send: smtp.SendMail}
}

// Send runs the SMTP exchange in a goroutine so ctx can abandon a stuck relay.
func (n *SMTPNotifier) Send(ctx context.Context, msg appnotification.Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	raw := compose(n.cfg.From, msg)

	done := make(chan error, 1)
	go func() { done <- n.send(addr, n.auth, n.cfg.From, msg.To, raw) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notification: smtp send %q: %w", msg.Subject, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification: smtp send %q: %w", msg.Subject, ctx.Err())
	}
}

func compose(from string, msg appnotification.Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

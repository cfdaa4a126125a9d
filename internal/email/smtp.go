package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nugget/taskpilot/internal/config"
)

const smtpDialTimeout = 30 * time.Second

// SendMail delivers a complete message over a fresh connection. Port
// 465 means implicit TLS; other ports must offer STARTTLS.
func SendMail(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error {
	if len(recipients) == 0 {
		return errors.New("no recipients")
	}
	c, err := dialSMTP(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := deliver(c, extractAddress(from), recipients, msg); err != nil {
		return err
	}
	return c.Quit()
}

func dialSMTP(ctx context.Context, cfg config.SMTPConfig) (*smtp.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	implicit := cfg.Port == 465

	nd := &net.Dialer{Timeout: smtpDialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if implicit {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"EHLO", func() error { return c.Hello("localhost") }},
		{"STARTTLS", func() error {
			if implicit {
				return nil
			}
			return c.StartTLS(tlsCfg)
		}},
		{"AUTH", func() error {
			if cfg.Username == "" || cfg.Password == "" {
				return nil
			}
			return c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host))
		}},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return c, nil
}

func deliver(c *smtp.Client, from string, recipients []string, msg []byte) error {
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end DATA: %w", err)
	}
	return nil
}

// extractAddress returns the addr-spec of an address, or the trimmed
// input when it does not parse.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}

// collectRecipients flattens To, Cc and Bcc into unique addr-specs for
// RCPT TO, keeping first-seen order.
func collectRecipients(to, cc, bcc []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, addr := range append(append(append([]string(nil), to...), cc...), bcc...) {
		bare := extractAddress(addr)
		if bare == "" || seen[bare] {
			continue
		}
		seen[bare] = true
		out = append(out, bare)
	}
	return out
}

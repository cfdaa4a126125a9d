package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nugget/taskpilot/internal/config"
)

const defaultFolder = "INBOX"

// Client is a single IMAP connection shared by every mail tool. Calls
// are serialized; the connection is opened on first use and reopened
// when a NOOP check fails.
type Client struct {
	cfg    config.IMAPConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *imapclient.Client
}

// NewClient returns an unconnected client.
func NewClient(cfg config.IMAPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "email")}
}

// Ping opens the connection if needed and checks that it answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.session(ctx, "", func(*imapclient.Client) error { return nil })
}

// Close drops the connection. The next call reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

// session runs fn against a live connection with folder selected. An
// empty folder skips the SELECT.
func (c *Client) session(ctx context.Context, folder string, fn func(*imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.Noop().Wait() != nil {
		c.logger.Debug("imap connection stale, reconnecting", "host", c.cfg.Host)
		_ = c.dropLocked()
	}
	if c.conn == nil {
		conn, err := c.open()
		if err != nil {
			return err
		}
		c.conn = conn
	}

	if folder != "" {
		if _, err := c.conn.Select(folder, nil).Wait(); err != nil {
			return fmt.Errorf("select %s: %w", folder, err)
		}
	}
	return fn(c.conn)
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// open dials and authenticates. SASL PLAIN is used when the server
// advertises it, LOGIN otherwise.
func (c *Client) open() (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	tlsOn := c.cfg.UseTLS()

	var (
		conn *imapclient.Client
		err  error
	)
	if tlsOn {
		conn, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: c.cfg.Host},
		})
	} else {
		conn, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if conn.Caps().Has(imap.AuthCap(sasl.Plain)) {
		err = conn.Authenticate(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password))
	} else {
		err = conn.Login(c.cfg.Username, c.cfg.Password).Wait()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("authenticate %s on %s: %w", c.cfg.Username, addr, err)
	}

	c.logger.Info("imap connected", "host", c.cfg.Host, "user", c.cfg.Username, "tls", tlsOn)
	return conn, nil
}

func uidSet(uids ...imap.UID) imap.UIDSet {
	var set imap.UIDSet
	for _, u := range uids {
		set.AddNum(u)
	}
	return set
}

// Package httpkit builds the outbound HTTP clients used by model
// providers, embedding providers and the DAV integrations, and carries
// the small JSON request helper the hand-written providers share.
package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/taskpilot/internal/buildinfo"
)

const (
	dialTimeout         = 10 * time.Second
	keepAlive           = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second

	// DefaultHeaderTimeout is how long a client waits for response
	// headers unless Options says otherwise.
	DefaultHeaderTimeout = 15 * time.Second

	maxErrorBody = 4 << 10
)

// Options configure NewClient. The zero value gives a client with no
// overall timeout, the default header timeout and no retries.
type Options struct {
	// Timeout bounds the whole exchange. Zero leaves it to the request
	// context.
	Timeout time.Duration
	// HeaderTimeout bounds the wait for response headers. Model servers
	// may think for minutes before answering.
	HeaderTimeout time.Duration
	// UserAgent defaults to taskpilot/<version>.
	UserAgent string
	// Retries is how many extra attempts follow a failure to connect.
	Retries    int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// NewClient returns an *http.Client with bounded dial, TLS and idle
// settings that stamps every request with a User-Agent.
func NewClient(o Options) *http.Client {
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = DefaultHeaderTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = buildinfo.UserAgent()
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: o.HeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}

	var rt http.RoundTripper = base
	if o.Retries > 0 {
		rt = retrying(rt, o)
	}
	return &http.Client{Timeout: o.Timeout, Transport: stampUserAgent(rt, o.UserAgent)}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stampUserAgent(next http.RoundTripper, ua string) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("User-Agent") != "" {
			return next.RoundTrip(r)
		}
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", ua)
		return next.RoundTrip(r)
	})
}

// retrying repeats a request that never reached the server. A body is
// replayed through GetBody; requests whose body cannot be replayed are
// not retried.
func retrying(next http.RoundTripper, o Options) http.RoundTripper {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		replayable := r.Body == nil || r.Body == http.NoBody || r.GetBody != nil

		for attempt := 1; attempt <= o.Retries && err != nil && IsConnectError(err) && replayable; attempt++ {
			logger.Debug("retrying after connect failure",
				"method", r.Method, "url", r.URL.Redacted(), "attempt", attempt, "error", err)

			select {
			case <-r.Context().Done():
				return nil, r.Context().Err()
			case <-time.After(o.RetryDelay):
			}

			again := r.Clone(r.Context())
			if r.GetBody != nil {
				body, gerr := r.GetBody()
				if gerr != nil {
					return nil, fmt.Errorf("replay request body: %w", gerr)
				}
				again.Body = body
			}
			resp, err = next.RoundTrip(again)
		}
		return resp, err
	})
}

// IsConnectError reports whether err means the server was never
// reached, so repeating the request cannot duplicate work.
func IsConnectError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// StatusError is a reply outside the 2xx range. Body holds the start of
// the response body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Call describes one JSON exchange.
type Call struct {
	// Method defaults to POST when Body is set and GET otherwise.
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// DoJSON performs call and decodes a 2xx reply into out. A nil out
// discards the reply. Other statuses return *StatusError.
func DoJSON(ctx context.Context, c *http.Client, call Call, out any) error {
	method := call.Method
	if method == "" {
		method = http.MethodGet
		if call.Body != nil {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, call.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range call.Header {
		req.Header[k] = vs
	}
	if call.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// drain discards a bounded remainder so the connection can be reused.
func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	rc.Close()
}

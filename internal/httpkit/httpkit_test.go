package httpkit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{})
	if c.Timeout != 0 {
		t.Errorf("Timeout = %v, want none", c.Timeout)
	}
	c = NewClient(Options{Timeout: time.Minute})
	if c.Timeout != time.Minute {
		t.Errorf("Timeout = %v", c.Timeout)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   Options
		caller string
		want   string
	}{
		{name: "default", want: "taskpilot/"},
		{name: "configured", opts: Options{UserAgent: "tester/2"}, want: "tester/2"},
		{name: "caller wins", opts: Options{UserAgent: "tester/2"}, caller: "mine/1", want: "mine/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.caller != "" {
				req.Header.Set("User-Agent", tt.caller)
			}
			resp, err := NewClient(tt.opts).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			got, _ := io.ReadAll(resp.Body)
			if !strings.HasPrefix(string(got), tt.want) {
				t.Errorf("User-Agent = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad request shape", http.StatusBadRequest)
				return
			}
			if r.Header.Get("X-Key") != "k1" {
				http.Error(w, "no key", http.StatusUnauthorized)
				return
			}
			var in map[string]any
			json.NewDecoder(r.Body).Decode(&in)
			json.NewEncoder(w).Encode(map[string]any{"got": in["name"]})
		case "/tags":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			io.WriteString(w, `{"models":[]}`)
		default:
			http.Error(w, "  model not found  ", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(Options{})

	var out struct{ Got string }
	err := DoJSON(ctx, c, Call{
		URL:    srv.URL + "/echo",
		Header: http.Header{"X-Key": {"k1"}},
		Body:   []byte(`{"name":"lee"}`),
	}, &out)
	if err != nil || out.Got != "lee" {
		t.Fatalf("echo = %+v, %v", out, err)
	}

	if err := DoJSON(ctx, c, Call{URL: srv.URL + "/tags"}, nil); err != nil {
		t.Errorf("GET with nil out: %v", err)
	}

	err = DoJSON(ctx, c, Call{URL: srv.URL + "/missing"}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Body != "model not found" {
		t.Errorf("err = %#v", err)
	}
}

func TestDoJSON_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	var out map[string]any
	err := DoJSON(context.Background(), NewClient(Options{}), Call{URL: srv.URL}, &out)
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Errorf("err = %v", err)
	}
}

// flaky fails its first n round trips with err.
type flaky struct {
	n, calls int
	err      error
}

func (f *flaky) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.n {
		return nil, f.err
	}
	if r.Body != nil {
		io.Copy(io.Discard, r.Body)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func connectErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
}

func TestRetrying(t *testing.T) {
	tests := []struct {
		name      string
		fails     int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, connectErr(syscall.ECONNREFUSED), 1, false},
		{"one refusal", 1, connectErr(syscall.ECONNREFUSED), 2, false},
		{"unreachable throughout", 9, connectErr(syscall.EHOSTUNREACH), 3, true},
		{"not a connect error", 9, errors.New("tls: handshake failure"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flaky{n: tt.fails, err: tt.err}
			rt := retrying(f, Options{Retries: 2, RetryDelay: time.Millisecond})
			req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if f.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", f.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetrying_ReplaysBody(t *testing.T) {
	f := &flaky{n: 1, err: connectErr(syscall.ECONNREFUSED)}
	rt := retrying(f, Options{Retries: 1})
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", strings.NewReader("{}"))
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("replayable body: %v", err)
	}

	f = &flaky{n: 1, err: connectErr(syscall.ECONNREFUSED)}
	rt = retrying(f, Options{Retries: 1})
	req, _ = http.NewRequest(http.MethodPost, "http://example.invalid", io.NopCloser(strings.NewReader("{}")))
	req.GetBody = nil
	if _, err := rt.RoundTrip(req); err == nil || f.calls != 1 {
		t.Errorf("one-shot body retried: calls = %d, err = %v", f.calls, err)
	}
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	f := &flaky{n: 9, err: connectErr(syscall.ENETUNREACH)}
	rt := retrying(f, Options{Retries: 5, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestIsConnectError(t *testing.T) {
	if !IsConnectError(connectErr(syscall.ECONNREFUSED)) {
		t.Error("refused should count")
	}
	if IsConnectError(errors.New("EOF")) || IsConnectError(nil) {
		t.Error("unrelated errors should not count")
	}
}

package email

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
)

// crlf joins lines into a wire-format message.
func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantHTML string
		wantRefs []string
	}{
		{
			name: "single text part",
			raw: crlf(
				"From: lee@example.com",
				"Subject: ping",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"  are we still on for 3?  ",
			),
			wantText: "are we still on for 3?",
		},
		{
			name: "alternative at top level",
			raw: crlf(
				"From: lee@example.com",
				"MIME-Version: 1.0",
				`Content-Type: multipart/alternative; boundary="alt"`,
				"",
				"--alt",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"plain copy",
				"--alt",
				"Content-Type: text/html; charset=utf-8",
				"",
				"<p>html copy</p>",
				"--alt--",
			),
			wantText: "plain copy",
			wantHTML: "<p>html copy</p>",
		},
		{
			name: "alternative inside related inside mixed",
			raw: crlf(
				"From: lee@example.com",
				"MIME-Version: 1.0",
				`Content-Type: multipart/mixed; boundary="m"`,
				"",
				"--m",
				`Content-Type: multipart/related; boundary="r"`,
				"",
				"--r",
				`Content-Type: multipart/alternative; boundary="a"`,
				"",
				"--a",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"deep plain",
				"--a",
				"Content-Type: text/html; charset=utf-8",
				"",
				"<b>deep html</b>",
				"--a--",
				"--r--",
				"--m--",
			),
			wantText: "deep plain",
			wantHTML: "<b>deep html</b>",
		},
		{
			name: "attachment skipped and first text part wins",
			raw: crlf(
				"From: lee@example.com",
				"MIME-Version: 1.0",
				`Content-Type: multipart/mixed; boundary="m"`,
				"",
				"--m",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"see attached",
				"--m",
				"Content-Type: text/plain; charset=utf-8",
				`Content-Disposition: attachment; filename="notes.txt"`,
				"",
				"attachment text",
				"--m",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"second inline",
				"--m--",
			),
			wantText: "see attached",
		},
		{
			name: "references header",
			raw: crlf(
				"From: lee@example.com",
				"References: <a1@example.com> <b2@example.com>",
				"Content-Type: text/plain; charset=utf-8",
				"",
				"threaded",
			),
			wantText: "threaded",
			wantRefs: []string{"a1@example.com", "b2@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := parseBody(&msg, strings.NewReader(tt.raw)); err != nil {
				t.Fatalf("parseBody: %v", err)
			}
			if msg.TextBody != tt.wantText {
				t.Errorf("TextBody = %q, want %q", msg.TextBody, tt.wantText)
			}
			if msg.HTMLBody != tt.wantHTML {
				t.Errorf("HTMLBody = %q, want %q", msg.HTMLBody, tt.wantHTML)
			}
			if strings.Join(msg.References, " ") != strings.Join(tt.wantRefs, " ") {
				t.Errorf("References = %v, want %v", msg.References, tt.wantRefs)
			}
		})
	}
}

func TestParseBody_UnknownTopLevelCharset(t *testing.T) {
	raw := crlf(
		"From: lee@example.com",
		"Content-Type: text/plain; charset=x-fake",
		"",
		"still readable",
	)
	var msg Message
	if err := parseBody(&msg, strings.NewReader(raw)); err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if msg.TextBody == "" {
		t.Error("body dropped for an unknown charset")
	}
}

func TestParseBody_UnknownPartCharset(t *testing.T) {
	raw := crlf(
		"From: lee@example.com",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="cs"`,
		"",
		"--cs",
		"Content-Type: text/plain; charset=x-nonexistent",
		"",
		"odd bytes",
		"--cs",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>clean</p>",
		"--cs--",
	)
	var msg Message
	if err := parseBody(&msg, strings.NewReader(raw)); err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if msg.TextBody == "" {
		t.Error("text part dropped for an unknown charset")
	}
	if msg.HTMLBody != "<p>clean</p>" {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
}

func TestParseBody_Truncates(t *testing.T) {
	raw := crlf(
		"From: lee@example.com",
		"Content-Type: text/plain; charset=utf-8",
		"",
		strings.Repeat("y", maxBodySize+500),
	)
	var msg Message
	if err := parseBody(&msg, strings.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(msg.TextBody, "[truncated: message exceeds 32KB]") {
		t.Errorf("missing truncation note: ...%q", msg.TextBody[len(msg.TextBody)-40:])
	}
	if len(msg.TextBody) != maxBodySize+len(truncatedNote) {
		t.Errorf("len = %d", len(msg.TextBody))
	}
}

func TestAddressString(t *testing.T) {
	if got := addressString(imapAddress("Lee Park", "lee", "example.com")); got != "Lee Park <lee@example.com>" {
		t.Errorf("named = %q", got)
	}
	if got := addressString(imapAddress("", "ops", "example.com")); got != "ops@example.com" {
		t.Errorf("bare = %q", got)
	}
}

func imapAddress(name, mailbox, host string) imap.Address {
	return imap.Address{Name: name, Mailbox: mailbox, Host: host}
}

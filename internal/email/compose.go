package email

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// ComposeOptions holds everything needed to build a draft. Body is
// markdown.
type ComposeOptions struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// ComposeMessage renders a draft as an RFC 5322 message whose body is a
// multipart/alternative of the markdown flattened to text and rendered
// to HTML.
func ComposeMessage(opts ComposeOptions) ([]byte, error) {
	h, err := composeHeader(opts)
	if err != nil {
		return nil, err
	}
	html, err := markdownToHTML(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	alt, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	for _, p := range []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", markdownToPlain(opts.Body)},
		{"text/html; charset=utf-8", html},
	} {
		if err := writePart(alt, p.contentType, p.body); err != nil {
			return nil, err
		}
	}
	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func composeHeader(opts ComposeOptions) (mail.Header, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(opts.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return h, fmt.Errorf("generate message-id: %w", err)
	}

	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return h, fmt.Errorf("parse from address %q: %w", opts.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	for _, field := range []struct {
		key   string
		addrs []string
	}{{"To", opts.To}, {"Cc", opts.Cc}} {
		if len(field.addrs) == 0 && field.key == "Cc" {
			continue
		}
		list, err := parseAddressList(field.addrs)
		if err != nil {
			return h, fmt.Errorf("parse %s addresses: %w", strings.ToLower(field.key), err)
		}
		h.SetAddressList(field.key, list)
	}
	return h, nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.Set("Content-Type", contentType)
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func parseAddressList(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		out[i] = parsed
	}
	return out, nil
}

const htmlShell = `<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`

// markdownToHTML renders markdown into a self-contained HTML document.
func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return fmt.Sprintf(htmlShell, buf.String()), nil
}

// plainRules flatten markdown, applied in order. Fenced code goes first
// so its contents are not treated as emphasis.
var plainRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```"), "$1"},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), "$1 ($2)"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.+?)\*`), "$1"},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`(?m)^#{1,6}\s+`), ""},
}

// markdownToPlain strips markdown markup and keeps the text.
func markdownToPlain(md string) string {
	for _, r := range plainRules {
		md = r.re.ReplaceAllString(md, r.repl)
	}
	return strings.TrimSpace(md)
}

// Envelope addresses recovered from a stored draft.
type draftHeader struct {
	From       string
	Subject    string
	Recipients []string
}

// parseDraftHeader reads the From, To and Cc headers of a raw message
// so a saved draft can be handed to SMTP unchanged.
func parseDraftHeader(raw []byte) (*draftHeader, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("parse draft: %w", err)
	}
	defer mr.Close()

	out := &draftHeader{}
	out.Subject, _ = mr.Header.Subject()

	from, err := mr.Header.AddressList("From")
	if err != nil {
		return nil, fmt.Errorf("parse draft From: %w", err)
	}
	if len(from) > 0 {
		out.From = from[0].Address
	}

	var lists [][]string
	for _, key := range []string{"To", "Cc"} {
		addrs, err := mr.Header.AddressList(key)
		if err != nil {
			return nil, fmt.Errorf("parse draft %s: %w", key, err)
		}
		list := make([]string, 0, len(addrs))
		for _, a := range addrs {
			list = append(list, a.Address)
		}
		lists = append(lists, list)
	}
	out.Recipients = collectRecipients(lists[0], lists[1], nil)
	return out, nil
}

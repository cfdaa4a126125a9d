package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds each extracted text part.
const maxBodySize = 32 << 10

const truncatedNote = "\n\n[truncated: message exceeds 32KB]"

// ReadMessage fetches one message and extracts its text and HTML
// bodies. Reading marks the message \Seen.
func (c *Client) ReadMessage(ctx context.Context, folder string, uid uint32) (*Message, error) {
	if folder == "" {
		folder = defaultFolder
	}
	opts := envelopeItems
	opts.BodySection = []*imap.FetchItemBodySection{{}}

	var got fetched
	err := c.session(ctx, folder, func(conn *imapclient.Client) error {
		list, err := fetch(conn, uidSet(imap.UID(uid)), opts)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("message UID %d not found in %s", uid, folder)
		}
		got = list[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg := got.msg
	if got.raw != nil {
		if err := parseBody(&msg, bytes.NewReader(got.raw)); err != nil {
			c.logger.Debug("body parse failed", "uid", uid, "error", err)
		}
	}
	return &msg, nil
}

// FetchRaw returns a message's RFC 5322 source without marking it
// \Seen.
func (c *Client) FetchRaw(ctx context.Context, folder string, uid uint32) ([]byte, error) {
	var raw []byte
	err := c.session(ctx, folder, func(conn *imapclient.Client) error {
		list, err := fetch(conn, uidSet(imap.UID(uid)), imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{{Peek: true}},
		})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("message UID %d not found in %s", uid, folder)
		}
		raw = list[0].raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}
	return raw, nil
}

// parseBody walks the MIME tree and keeps the first text/plain and
// text/html inline parts. References comes from the raw header since
// the IMAP envelope does not carry it. Unknown charsets are tolerated.
func parseBody(msg *Message, r io.Reader) error {
	mr, err := mail.CreateReader(r)
	if mr == nil {
		if err == nil {
			err = errors.New("no mail reader")
		}
		return fmt.Errorf("create mail reader: %w", err)
	}
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}

	if refs, err := mr.Header.MsgIDList("References"); err == nil && len(refs) > 0 {
		msg.References = refs
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := h.ContentType()
		var dst *string
		switch ct {
		case "text/plain":
			dst = &msg.TextBody
		case "text/html":
			dst = &msg.HTMLBody
		default:
			continue
		}
		if *dst != "" {
			continue
		}
		if text, err := readLimited(part.Body); err == nil {
			*dst = text
		}
	}
}

func readLimited(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxBodySize {
		return strings.TrimSpace(string(b[:maxBodySize]) + truncatedNote), nil
	}
	return strings.TrimSpace(string(b)), nil
}

package email

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// SearchMessages returns the newest opts.Limit envelopes matching opts,
// newest first.
func (c *Client) SearchMessages(ctx context.Context, opts SearchOptions) ([]Envelope, error) {
	folder := cmp.Or(opts.Folder, defaultFolder)
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var found []fetched
	err := c.session(ctx, folder, func(conn *imapclient.Client) error {
		data, err := conn.UIDSearch(opts.criteria(), nil).Wait()
		if err != nil {
			return fmt.Errorf("search %s: %w", folder, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		uids = uids[max(0, len(uids)-limit):]
		found, err = fetch(conn, uidSet(uids...), envelopeItems)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(found), nil
}

func (o SearchOptions) criteria() *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	criteria.Text = append(criteria.Text, o.Text...)
	header := func(key, value string) {
		if value != "" {
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: key, Value: value})
		}
	}
	header("From", o.From)
	header("To", o.To)
	header("Subject", o.Subject)
	if !o.Since.IsZero() {
		criteria.Since = o.Since
	}
	if !o.Before.IsZero() {
		criteria.Before = o.Before
	}
	if o.Unseen {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}
	return criteria
}

// ParseQuery translates a mail-client style query such as
// `from:alice subject:"q3 plan" after:2025/01/01 budget` into search
// options. Unknown operators are treated as free text.
func ParseQuery(q string) SearchOptions {
	var opts SearchOptions
	for _, tok := range splitQuery(q) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok || value == "" {
			opts.Text = append(opts.Text, tok)
			continue
		}
		switch strings.ToLower(key) {
		case "from":
			opts.From = value
		case "to":
			opts.To = value
		case "subject":
			opts.Subject = value
		case "in", "folder":
			opts.Folder = value
		case "after", "since":
			if t, ok := parseQueryDate(value); ok {
				opts.Since = t
			}
		case "before":
			if t, ok := parseQueryDate(value); ok {
				opts.Before = t
			}
		case "is":
			if strings.EqualFold(value, "unread") {
				opts.Unseen = true
			}
		default:
			opts.Text = append(opts.Text, tok)
		}
	}
	return opts
}

// splitQuery splits on whitespace, keeping double-quoted runs together
// and dropping the quotes.
func splitQuery(q string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, cur.String())
		}
		cur.Reset()
		started = false
	}
	for _, r := range q {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}

func parseQueryDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

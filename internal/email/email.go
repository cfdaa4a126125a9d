// Package email gives the agent a single IMAP/SMTP mailbox: search and
// read messages over IMAP, save markdown drafts to the drafts folder,
// and send a saved draft over SMTP.
package email

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// drainLiteral discards whatever is left of a literal.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// Envelope is what a search result shows for one message.
type Envelope struct {
	UID     uint32 // unique within its folder
	Date    time.Time
	From    string
	To      []string
	Subject string
	Flags   []string
	Size    uint32
}

// Message is a fetched message with its bodies decoded. The model is
// shown TextBody when present and HTMLBody flattened otherwise.
type Message struct {
	Envelope

	MessageID  string
	InReplyTo  []string
	References []string
	Cc         []string
	ReplyTo    string
	TextBody   string
	HTMLBody   string
}

// SearchOptions select messages in one folder. Zero fields do not
// constrain the search.
type SearchOptions struct {
	Folder  string // default INBOX
	Text    []string
	From    string
	To      string
	Subject string
	Since   time.Time
	Before  time.Time
	Unseen  bool
	Limit   int // default 20
}

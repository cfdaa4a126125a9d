package email

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// maxRawMessageSize caps how much of a message literal is buffered.
// The rest is discarded to keep the stream in sync.
const maxRawMessageSize = 5 << 20

// fetched is one message from a FETCH response. Raw is nil unless the
// body section was requested.
type fetched struct {
	msg Message
	raw []byte
}

var envelopeItems = imap.FetchOptions{
	UID:        true,
	Envelope:   true,
	Flags:      true,
	RFC822Size: true,
}

// fetch runs a UID FETCH and decodes every response. Body literals
// must be consumed while iterating, before the next item is read.
func fetch(conn *imapclient.Client, uids imap.UIDSet, opts imap.FetchOptions) ([]fetched, error) {
	cmd := conn.Fetch(uids, &opts)

	var out []fetched
	for data := cmd.Next(); data != nil; data = cmd.Next() {
		var f fetched
		for item := data.Next(); item != nil; item = data.Next() {
			if err := f.decode(item); err != nil {
				_ = cmd.Close()
				return nil, err
			}
		}
		if f.msg.UID != 0 {
			out = append(out, f)
		}
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

func (f *fetched) decode(item imapclient.FetchItemData) error {
	m := &f.msg
	switch d := item.(type) {
	case imapclient.FetchItemDataUID:
		m.UID = uint32(d.UID)
	case imapclient.FetchItemDataRFC822Size:
		m.Size = uint32(d.Size)
	case imapclient.FetchItemDataFlags:
		m.Flags = m.Flags[:0]
		for _, fl := range d.Flags {
			m.Flags = append(m.Flags, string(fl))
		}
	case imapclient.FetchItemDataEnvelope:
		if d.Envelope != nil {
			applyEnvelope(m, d.Envelope)
		}
	case imapclient.FetchItemDataBodySection:
		if d.Literal == nil {
			return nil
		}
		raw, err := io.ReadAll(io.LimitReader(d.Literal, maxRawMessageSize))
		drainLiteral(d.Literal)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		f.raw = raw
	}
	return nil
}

func applyEnvelope(m *Message, env *imap.Envelope) {
	m.Date = env.Date
	m.Subject = env.Subject
	m.MessageID = env.MessageID
	m.InReplyTo = env.InReplyTo
	m.From = firstAddress(env.From)
	m.ReplyTo = firstAddress(env.ReplyTo)
	m.To = addressList(env.To)
	m.Cc = addressList(env.Cc)
}

func firstAddress(list []imap.Address) string {
	if len(list) == 0 {
		return ""
	}
	return addressString(list[0])
}

func addressList(list []imap.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = addressString(a)
	}
	return out
}

// addressString renders "Name <user@host>", or the bare address when
// there is no display name.
func addressString(a imap.Address) string {
	if a.Name == "" {
		return a.Addr()
	}
	return a.Name + " <" + a.Addr() + ">"
}

// newestFirst orders envelopes by descending UID.
func newestFirst(list []fetched) []Envelope {
	slices.SortFunc(list, func(a, b fetched) int { return cmp.Compare(b.msg.UID, a.msg.UID) })
	out := make([]Envelope, len(list))
	for i := range list {
		out[i] = list[i].msg.Envelope
	}
	return out
}

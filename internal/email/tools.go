package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/htmltext"
	"github.com/nugget/taskpilot/internal/tools"
)

// Mailbox is the IMAP surface the tools need. *Client implements it.
type Mailbox interface {
	SearchMessages(ctx context.Context, opts SearchOptions) ([]Envelope, error)
	ReadMessage(ctx context.Context, folder string, uid uint32) (*Message, error)
	AppendMessage(ctx context.Context, folder string, raw []byte, flags ...imap.Flag) (uint32, error)
	FetchRaw(ctx context.Context, folder string, uid uint32) ([]byte, error)
	DeleteMessage(ctx context.Context, folder string, uid uint32) error
}

// SendFunc delivers a raw message. SendMail bound to an SMTP config
// satisfies it.
type SendFunc func(ctx context.Context, from string, recipients []string, msg []byte) error

// SMTPSender binds SendMail to a server configuration.
func SMTPSender(cfg config.SMTPConfig) SendFunc {
	return func(ctx context.Context, from string, recipients []string, msg []byte) error {
		return SendMail(ctx, cfg, from, recipients, msg)
	}
}

const defaultMaxResults = 5

// RegisterTools adds search_emails, read_email, create_email_draft and
// send_draft to the registry.
func RegisterTools(reg *tools.Registry, mbox Mailbox, send SendFunc, cfg config.EmailConfig) {
	drafts := cfg.DraftsFolder
	if drafts == "" {
		drafts = "Drafts"
	}
	from := cfg.DefaultFrom
	if from == "" {
		from = cfg.IMAP.Username
	}

	reg.MustRegister(&tools.Tool{
		Name: "search_emails",
		Description: "Search the mailbox. Supports from:, to:, subject:, after:YYYY/MM/DD, before:YYYY/MM/DD, " +
			"in:FOLDER and is:unread operators; other words match anywhere in the message.",
		Parameters: tools.Object(map[string]any{
			"query":       tools.Prop("string", "Search query, e.g. 'from:alice subject:invoice after:2025/01/01'"),
			"max_results": tools.Prop("integer", "Maximum messages to return (default 5)"),
		}, "query"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			q, err := tools.RequiredString(args, "query")
			if err != nil {
				return "", err
			}
			opts := ParseQuery(q)
			opts.Limit = tools.IntArg(args, "max_results", defaultMaxResults)
			envs, err := mbox.SearchMessages(ctx, opts)
			if err != nil {
				return "", err
			}
			if len(envs) == 0 {
				return "No messages found.", nil
			}
			return formatEnvelopeList(envs), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "read_email",
		Description: "Read the full content of one email by its UID from search_emails.",
		Parameters: tools.Object(map[string]any{
			"email_id": idProp("UID of the message, from search_emails"),
			"folder":   tools.Prop("string", "Folder containing the message (default INBOX)"),
		}, "email_id"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			uid := tools.IntArg(args, "email_id", 0)
			if uid <= 0 {
				return "", fmt.Errorf("email_id must be a positive UID")
			}
			msg, err := mbox.ReadMessage(ctx, tools.StringArg(args, "folder"), uint32(uid))
			if err != nil {
				return "", err
			}
			return formatMessage(msg), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name: "create_email_draft",
		Description: "Save an email to the drafts folder without sending it. The body is markdown. " +
			"Show the draft to the user with DRAFT_FOR_APPROVAL before calling send_draft.",
		Parameters: tools.Object(map[string]any{
			"to":      tools.Prop("string", "Recipients, comma separated"),
			"subject": tools.Prop("string", "Subject line"),
			"body":    tools.Prop("string", "Message body in markdown"),
			"cc":      tools.Prop("string", "CC recipients, comma separated"),
		}, "to", "subject", "body"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			to, err := tools.RequiredString(args, "to")
			if err != nil {
				return "", err
			}
			body, err := tools.RequiredString(args, "body")
			if err != nil {
				return "", err
			}
			raw, err := ComposeMessage(ComposeOptions{
				From:    from,
				To:      splitAddresses(to),
				Cc:      splitAddresses(tools.StringArg(args, "cc")),
				Subject: tools.StringArg(args, "subject"),
				Body:    body,
			})
			if err != nil {
				return "", err
			}
			uid, err := mbox.AppendMessage(ctx, drafts, raw, imap.FlagDraft, imap.FlagSeen)
			if err != nil {
				return "", err
			}
			if uid == 0 {
				return fmt.Sprintf("Draft saved to %s, but the server did not report its id.", drafts), nil
			}
			return fmt.Sprintf("Draft saved to %s with draft_id %d.", drafts, uid), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name: "send_draft",
		Description: "Send a previously saved draft by its draft_id. " +
			"Only call this after the user has approved the draft.",
		Parameters: tools.Object(map[string]any{
			"draft_id": idProp("draft_id returned by create_email_draft"),
		}, "draft_id"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			uid := tools.IntArg(args, "draft_id", 0)
			if uid <= 0 {
				return "", fmt.Errorf("draft_id must be a positive integer")
			}
			if send == nil {
				return "", fmt.Errorf("sending is not configured")
			}
			raw, err := mbox.FetchRaw(ctx, drafts, uint32(uid))
			if err != nil {
				return "", err
			}
			h, err := parseDraftHeader(raw)
			if err != nil {
				return "", err
			}
			if len(h.Recipients) == 0 {
				return "", fmt.Errorf("draft %d has no recipients", uid)
			}
			sender := h.From
			if sender == "" {
				sender = extractAddress(from)
			}
			if err := send(ctx, sender, h.Recipients, raw); err != nil {
				return "", fmt.Errorf("send draft %d: %w", uid, err)
			}
			if err := mbox.DeleteMessage(ctx, drafts, uint32(uid)); err != nil {
				return fmt.Sprintf("Sent %q to %s, but could not remove the draft: %v",
					h.Subject, strings.Join(h.Recipients, ", "), err), nil
			}
			return fmt.Sprintf("Sent %q to %s.", h.Subject, strings.Join(h.Recipients, ", ")), nil
		},
	})
}

// idProp accepts a UID as a number or a numeric string.
func idProp(description string) map[string]any {
	return map[string]any{"type": []any{"integer", "string"}, "description": description}
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func formatEnvelopeList(envelopes []Envelope) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d message(s):\n\n", len(envelopes))

	for _, env := range envelopes {
		fmt.Fprintf(&sb, "UID: %d\n", env.UID)
		fmt.Fprintf(&sb, "From: %s\n", env.From)
		fmt.Fprintf(&sb, "Subject: %s\n", env.Subject)
		fmt.Fprintf(&sb, "Date: %s\n", env.Date.Format("2006-01-02 15:04"))
		if len(env.Flags) > 0 {
			fmt.Fprintf(&sb, "Flags: %s\n", strings.Join(env.Flags, ", "))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatMessage(msg *Message) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "From: %s\n", msg.From)
	fmt.Fprintf(&sb, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&sb, "Date: %s\n", msg.Date.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&sb, "UID: %d\n", msg.UID)
	sb.WriteString("\n---\n\n")

	switch {
	case msg.TextBody != "":
		sb.WriteString(msg.TextBody)
	case msg.HTMLBody != "":
		sb.WriteString(htmltext.Text(msg.HTMLBody))
	default:
		sb.WriteString("[No text content available]")
	}

	return sb.String()
}

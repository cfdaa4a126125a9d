package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/taskpilot/internal/llmlog"
)

func newShowCmd(opts *rootOptions) *cobra.Command {
	var withSystem bool
	cmd := &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one model call in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			e, err := llmlog.NewReader(db).Get(cmd.Context(), args[0])
			if errors.Is(err, llmlog.ErrNotFound) {
				return fmt.Errorf("no log entry with id %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("load entry: %w", err)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), e)
			}
			renderEntry(cmd.OutOrStdout(), e, withSystem)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSystem, "system", false, "Include the system prompt")
	return cmd
}

func renderEntry(out io.Writer, e *llmlog.Entry, withSystem bool) {
	state := "open"
	if e.Closed {
		state = "closed"
	}
	fmt.Fprintln(out, headerStyle.Render("Model call "+e.ID))
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Conversation:"), e.ConversationID)
	fmt.Fprintf(out, "%s %d (%s)\n", titleStyle.Render("Iteration:"), e.Iteration, state)
	fmt.Fprintf(out, "%s %s/%s\n", titleStyle.Render("Model:"), e.Provider, e.Model)
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Time:"), dateStyle.Render(e.CreatedAt.Local().Format(time.RFC3339)))
	fmt.Fprintf(out, "%s %d in, %d out, %dms\n", titleStyle.Render("Tokens:"),
		metaInt(e.Metadata, "input_tokens"),
		metaInt(e.Metadata, "output_tokens"),
		metaInt(e.Metadata, "latency_ms"))
	if e.OriginalUserMessage != "" {
		fmt.Fprintf(out, "%s %s\n", titleStyle.Render("User said:"), e.OriginalUserMessage)
	}

	if withSystem {
		section(out, "System prompt", e.SystemPrompt)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Messages (%d)", len(e.Messages))))
	for _, m := range e.Messages {
		fmt.Fprintf(out, "%s %s\n", idStyle.Render("["+m.Role+"]"), m.Content)
	}

	if e.Error != "" {
		section(out, "Error", errorStyle.Render(e.Error))
	} else {
		section(out, "Response", e.Response)
	}

	if len(e.Observations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Observations (%d)", len(e.Observations))))
		for i, obs := range e.Observations {
			fmt.Fprintf(out, "%s %s\n", countStyle.Render(fmt.Sprintf("%d.", i+1)), strings.TrimSpace(obs))
		}
	}
}

func section(out io.Writer, title, body string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render(title))
	if strings.TrimSpace(body) == "" {
		body = "(empty)"
	}
	fmt.Fprintln(out, body)
}

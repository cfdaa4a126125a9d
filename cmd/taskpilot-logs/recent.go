package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/taskpilot/internal/llmlog"
)

func newRecentCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest model calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := llmlog.NewReader(db).Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load recent entries: %w", err)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return renderEntryList(cmd, "Recent model calls", entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to list")
	return cmd
}

// renderEntryList prints one row per entry with its token counts and
// the first line of what the model said.
func renderEntryList(cmd *cobra.Command, title string, entries []*llmlog.Entry) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(title))
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tID\tCONVERSATION\tITER\tMODEL\tTOKENS\tRESPONSE")
	for _, e := range entries {
		summary := firstLine(e.Response, 60)
		if e.Error != "" {
			summary = errorStyle.Render("error: " + firstLine(e.Error, 53))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			dateStyle.Render(e.CreatedAt.Local().Format(time.DateTime)),
			idStyle.Render(e.ID),
			e.ConversationID,
			e.Iteration,
			e.Model,
			metaInt(e.Metadata, "input_tokens"),
			metaInt(e.Metadata, "output_tokens"),
			summary,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s entries\n", countStyle.Render(fmt.Sprint(len(entries))))
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/taskpilot/internal/interactions"
)

func newTurnsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "turns <conversation-id>",
		Short: "Print the stored turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			turns, err := interactions.NewReader(db).History(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("load turns: %w", err)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), turns)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Turns of "+args[0]))
			if len(turns) == 0 {
				fmt.Fprintln(out, "No turns found.")
				return nil
			}
			for _, t := range turns {
				fmt.Fprintf(out, "%s %s %s\n",
					dateStyle.Render(t.CreatedAt.Local().Format(time.DateTime)),
					titleStyle.Render(t.Role+":"),
					t.Content)
			}
			fmt.Fprintf(out, "\n%s turns\n", countStyle.Render(fmt.Sprint(len(turns))))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of turns, newest kept")
	return cmd
}

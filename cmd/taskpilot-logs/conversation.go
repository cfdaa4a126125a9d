package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nugget/taskpilot/internal/llmlog"
)

func newConversationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conversation <conversation-id>",
		Short: "List every model call in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := llmlog.NewReader(db).ByConversation(cmd.Context(), args[0], 0)
			if err != nil {
				return fmt.Errorf("load conversation: %w", err)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return renderEntryList(cmd, "Conversation "+args[0], entries)
		},
	}
}

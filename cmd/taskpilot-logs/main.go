// Command taskpilot-logs browses the model-call log and conversation
// history recorded by taskpilot. The database is opened read-only, so
// it is safe to run against a live server.
//
// Usage:
//
//	taskpilot-logs recent [--limit N]
//	taskpilot-logs show <entry-id> [--system]
//	taskpilot-logs conversation <conversation-id>
//	taskpilot-logs turns <conversation-id> [--limit N]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

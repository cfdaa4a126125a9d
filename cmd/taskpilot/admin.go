package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nugget/taskpilot/internal/facts"
)

// runFacts manages stored facts: list [query], add <text>, delete <id>.
func runFacts(ctx context.Context, e *env, args []string) error {
	a, closeFn, err := adminStores(ctx, e)
	if err != nil {
		return err
	}
	defer closeFn()

	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		var list []*facts.Fact
		if len(args) > 0 {
			list, err = a.facts.Search(ctx, strings.Join(args, " "))
		} else {
			list, err = a.facts.ListAll(ctx)
		}
		if err != nil {
			return err
		}
		if e.opts.output == "json" {
			return writeJSON(e.stdout, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(e.stdout, "No facts stored.")
			return nil
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		for _, f := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.CreatedAt.Local().Format("2006-01-02"), f.Content)
		}
		return tw.Flush()

	case "add":
		if len(args) == 0 {
			return fmt.Errorf("usage: taskpilot facts add <text>")
		}
		f, err := a.facts.Add(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Stored fact %d.\n", f.ID)
		return nil

	case "delete", "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: taskpilot facts delete <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid fact id %q", args[0])
		}
		ok, err := a.facts.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no fact with id %d", id)
		}
		fmt.Fprintf(e.stdout, "Deleted fact %d.\n", id)
		return nil

	default:
		return fmt.Errorf("unknown facts command: %s (expected list, add or delete)", sub)
	}
}

// runGuidelines prints the current guidelines or their version history.
func runGuidelines(ctx context.Context, e *env, args []string) error {
	a, closeFn, err := adminStores(ctx, e)
	if err != nil {
		return err
	}
	defer closeFn()

	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "show":
		v, err := a.guidelines.GetOrCreateCurrent(ctx)
		if err != nil {
			return err
		}
		if e.opts.output == "json" {
			return writeJSON(e.stdout, v)
		}
		fmt.Fprintf(e.stdout, "Version %d (%s)\n\n%s", v.Version, v.CreatedAt.Local().Format("2006-01-02 15:04"), v.Content)
		return nil

	case "history":
		versions, err := a.guidelines.History(ctx, 20)
		if err != nil {
			return err
		}
		if e.opts.output == "json" {
			return writeJSON(e.stdout, versions)
		}
		if len(versions) == 0 {
			fmt.Fprintln(e.stdout, "No guideline versions yet.")
			return nil
		}
		for _, v := range versions {
			fmt.Fprintf(e.stdout, "Version %d  %s\n", v.Version, v.CreatedAt.Local().Format("2006-01-02 15:04"))
			if v.Diff != "" {
				for _, line := range strings.Split(strings.TrimRight(v.Diff, "\n"), "\n") {
					fmt.Fprintf(e.stdout, "  %s\n", line)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown guidelines command: %s (expected show or history)", sub)
	}
}

// runHistory lists recent conversations, or prints one transcript.
func runHistory(ctx context.Context, e *env, args []string) error {
	a, closeFn, err := adminStores(ctx, e)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 0 {
		ids, err := a.turns.RecentConversations(ctx, 20)
		if err != nil {
			return err
		}
		if e.opts.output == "json" {
			return writeJSON(e.stdout, ids)
		}
		if len(ids) == 0 {
			fmt.Fprintln(e.stdout, "No conversations yet.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(e.stdout, id)
		}
		return nil
	}

	turns, err := a.turns.History(ctx, args[0], 200)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("conversation %s not found", args[0])
	}
	if e.opts.output == "json" {
		return writeJSON(e.stdout, turns)
	}
	for _, t := range turns {
		fmt.Fprintf(e.stdout, "[%s] %s:\n%s\n\n", t.CreatedAt.Local().Format("15:04:05"), t.Role, t.Content)
	}
	return nil
}

// adminStores opens the stores with logging kept to warnings on stderr.
func adminStores(ctx context.Context, e *env) (*app, func() error, error) {
	cfg, _, err := loadConfig(e.opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.LogLevel = "warn"
	logger, closeLog, err := loggerFor(cfg, e.stderr)
	if err != nil {
		return nil, nil, err
	}
	a, err := openStores(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return a, func() error {
		err := a.Close()
		closeLog()
		return err
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nugget/taskpilot/internal/agent"
)

// runAsk runs one turn and prints the reply. Logs go to stderr so the
// reply can be piped.
func runAsk(ctx context.Context, e *env, message string) error {
	cfg, _, err := loadConfig(e.opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := loggerFor(cfg, e.stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.manager.Handle(ctx, e.opts.user, message)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return printResult(e.stdout, e.opts.output, res)
}

// runChat reads one message per line from stdin until EOF or "exit".
func runChat(ctx context.Context, e *env) error {
	cfg, _, err := loadConfig(e.opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := loggerFor(cfg, e.stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(e.stdout, `Chatting as `+e.opts.user+`. Say "new conversation" to start over, "exit" to quit.`)
	scanner := bufio.NewScanner(e.stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(e.stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(e.stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := a.manager.Handle(ctx, e.opts.user, line)
		if err != nil {
			fmt.Fprintf(e.stdout, "error: %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := printResult(e.stdout, e.opts.output, res); err != nil {
			return err
		}
	}
}

func printResult(w io.Writer, output string, res *agent.Result) error {
	if output == "json" {
		return json.NewEncoder(w).Encode(res)
	}
	_, err := fmt.Fprintln(w, res.Content)
	return err
}

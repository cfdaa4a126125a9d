// Taskpilot is a personal task assistant. It answers requests by
// reasoning over a memory context and calling tools for email,
// documents, contacts and durable facts, and it learns the user's
// writing style from feedback on its drafts.
//
// Usage:
//
//	taskpilot serve                 Start the HTTP and websocket API
//	taskpilot ask <message>         Run a single turn and print the reply
//	taskpilot chat                  Interactive session on stdin
//	taskpilot facts [list|add|delete]
//	taskpilot guidelines [show|history]
//	taskpilot history [conversation-id]
//	taskpilot mcp                   Serve the tools over MCP on stdio
//	taskpilot init [dir]            Write a starter config
//	taskpilot version               Print build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"

	"github.com/nugget/taskpilot/internal/buildinfo"
	"github.com/nugget/taskpilot/internal/config"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags.
type options struct {
	configPath string
	output     string // "text" or "json"
	user       string
}

// env carries the process streams into subcommands.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	opts   options
}

// run is the real entry point. Arguments are parsed by hand so run has
// no package-level state and can be driven from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, arg)
		case arg == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "-config="):
			opts.configPath = strings.TrimPrefix(arg, "-config=")
		case (arg == "-o" || arg == "--output") && i+1 < len(args):
			opts.output = args[i+1]
			i++
		case strings.HasPrefix(arg, "-o="):
			opts.output = strings.TrimPrefix(arg, "-o=")
		case strings.HasPrefix(arg, "--output="):
			opts.output = strings.TrimPrefix(arg, "--output=")
		case arg == "-user" && i+1 < len(args):
			opts.user = args[i+1]
			i++
		case strings.HasPrefix(arg, "-user="):
			opts.user = strings.TrimPrefix(arg, "-user=")
		case arg == "-h" || arg == "-help" || arg == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(arg, "-"):
			command = arg
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if opts.output == "" {
		opts.output = "text"
	}
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
	}
	if opts.user == "" {
		opts.user = defaultUser
	}

	e := &env{stdin: stdin, stdout: stdout, stderr: stderr, opts: opts}

	switch command {
	case "serve":
		return runServe(ctx, e)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskpilot ask <message>")
		}
		return runAsk(ctx, e, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, e)
	case "facts":
		return runFacts(ctx, e, cmdArgs)
	case "guidelines":
		return runGuidelines(ctx, e, cmdArgs)
	case "history":
		return runHistory(ctx, e, cmdArgs)
	case "mcp":
		return runMCP(ctx, e)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.output)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// defaultUser owns CLI turns unless -user is given.
const defaultUser = "default"

func runVersion(w io.Writer, output string) error {
	info := buildinfo.Get()
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, row := range [][2]string{
		{"version", info.Version},
		{"git_commit", info.GitCommit},
		{"build_time", info.BuildTime},
		{"go_version", info.GoVersion},
		{"os", info.OS},
		{"arch", info.Arch},
	} {
		fmt.Fprintf(w, "  %-12s %s\n", row[0]+":", row[1])
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Taskpilot - personal task assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskpilot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                     Start the HTTP and websocket API")
	fmt.Fprintln(w, "  ask <message>             Run a single turn and print the reply")
	fmt.Fprintln(w, "  chat                      Interactive session on stdin")
	fmt.Fprintln(w, "  facts [list|add|delete]   Manage stored facts")
	fmt.Fprintln(w, "  guidelines [show|history] Show the writing guidelines")
	fmt.Fprintln(w, "  history [id]              List conversations or print one")
	fmt.Fprintln(w, "  mcp                       Serve the tools over MCP on stdio")
	fmt.Fprintln(w, "  init [dir]                Write a starter config (default: .)")
	fmt.Fprintln(w, "  version                   Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -user <id>        User id for ask, chat and history (default: default)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/taskpilot/config.yaml, /etc/taskpilot/config.yaml")
	return nil
}

// loadConfig finds and parses the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger. format is text, json or
// console. A non-empty logFile also receives every record as JSON; the
// returned func closes it.
func newLogger(w io.Writer, level slog.Level, format, logFile string) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "console":
		handler = console.NewHandler(w, &console.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	closeFn := func() error { return nil }
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		closeFn = f.Close
	}
	return slog.New(handler), closeFn, nil
}

// loggerFor applies the config's logging settings. Logs go to w.
func loggerFor(cfg *config.Config, w io.Writer) (*slog.Logger, func() error, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	format, err := config.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return newLogger(w, level, format, cfg.LogFile)
}

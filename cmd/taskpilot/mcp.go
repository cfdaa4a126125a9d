package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/nugget/taskpilot/internal/mcpserver"
)

// runMCP serves the tool registry over MCP on stdin/stdout. Stdout
// carries the protocol, so logs always go to stderr.
func runMCP(ctx context.Context, e *env) error {
	cfg, _, err := loadConfig(e.opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := loggerFor(cfg, e.stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcpserver.New(a.tools, mcpserver.Options{
		Include: cfg.MCP.Include,
		Exclude: cfg.MCP.Exclude,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("serving MCP on stdio", "tools", len(srv.Tools()))
	return srv.ServeStdio(ctx, e.stdin, e.stdout)
}

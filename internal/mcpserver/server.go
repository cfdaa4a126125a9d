// Package mcpserver exposes the tool registry as a Model Context
// Protocol server, so desktop MCP clients can call the same email,
// document, contact and memory tools the agent uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/taskpilot/internal/buildinfo"
	"github.com/nugget/taskpilot/internal/tools"
)

const serverName = "taskpilot"

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Options filters the exported tools. If Include is non-empty only the
// named tools are exported; otherwise every tool not in Exclude is.
type Options struct {
	Include []string
	Exclude []string
}

// Server wraps an MCP server over a tool registry.
type Server struct {
	mcp    *server.MCPServer
	names  []string
	logger *slog.Logger
}

// New builds a server exporting reg's tools.
func New(reg *tools.Registry, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    server.NewMCPServer(serverName, buildinfo.Version, server.WithToolCapabilities(false), server.WithRecovery()),
		logger: logger.With("component", "mcpserver"),
	}

	include, exclude := toSet(opts.Include), toSet(opts.Exclude)
	for _, t := range reg.All() {
		if len(include) > 0 {
			if !include[t.Name] {
				continue
			}
		} else if exclude[t.Name] {
			continue
		}

		schema := emptySchema
		if len(t.Parameters) > 0 {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
			}
			schema = raw
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, schema), s.handler(reg, t.Name))
		s.names = append(s.names, t.Name)
	}
	s.logger.Debug("mcp tools exported", "count", len(s.names))
	return s, nil
}

// Tools returns the exported tool names in registry order.
func (s *Server) Tools() []string { return append([]string(nil), s.names...) }

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio speaks MCP over in and out until ctx is cancelled or in
// is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// handler runs a registry tool. Tool failures become error results so
// the client sees them; they are not protocol errors.
func (s *Server) handler(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := reg.Execute(ctx, name, req.GetArguments())
		if err != nil {
			s.logger.Debug("mcp tool failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

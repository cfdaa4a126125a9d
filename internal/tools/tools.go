// Package tools defines the capability catalog the agent dispatches
// actions through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Handler executes a tool call. The returned text becomes the
// observation shown to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema, type object
	Handler     Handler        `json:"-"`

	schema *gojsonschema.Schema
}

// Registry holds available tools in registration order. It is a pure
// dispatch table: no retries, no idempotence guarantees.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Registering a name again replaces the earlier
// tool but keeps its position. A schema that does not compile is an
// error.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: handler is required", t.Name)
	}
	if len(t.Parameters) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
		if err != nil {
			return fmt.Errorf("register tool %s: compile schema: %w", t.Name, err)
		}
		t.schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister is Register for built-in tools whose schemas are
// literals. It panics on error.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns the registered tools in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs a tool by name. An unknown name returns
// *ErrToolNotFound. Handler errors are returned unchanged.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", &ErrToolNotFound{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.validate(args); err != nil {
		return "", err
	}
	return tool.Handler(ctx, args)
}

// Run executes a tool and folds the outcome into a Result.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) Result {
	out, err := r.Execute(ctx, name, args)
	if err != nil {
		return Err(err)
	}
	return Ok(out)
}

// ExecuteJSON is Execute with arguments given as a JSON object.
func (r *Registry) ExecuteJSON(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]any
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return r.Execute(ctx, name, args)
}

func (t *Tool) validate(args map[string]any) error {
	if t.schema == nil {
		return nil
	}
	res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", t.Name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &ErrInvalidArguments{ToolName: t.Name, Problems: msgs}
}

// Describe renders every tool for the system prompt as a markdown
// bullet with an indented parameter list. Required parameters come
// first in their declared order, then the optional ones alphabetically.
func (r *Registry) Describe() string {
	var lines []string
	for _, t := range r.All() {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", t.Name, t.Description))

		props, _ := t.Parameters["properties"].(map[string]any)
		if len(props) == 0 {
			continue
		}
		lines = append(lines, "  Parameters:")
		required := requiredList(t.Parameters)
		for _, name := range orderedParams(props, required) {
			desc := ""
			if p, ok := props[name].(map[string]any); ok {
				desc, _ = p["description"].(string)
			}
			suffix := ""
			if contains(required, name) {
				suffix = " (required)"
			}
			lines = append(lines, fmt.Sprintf("    - %s: %s%s", name, desc, suffix))
		}
	}
	return strings.Join(lines, "\n")
}

func requiredList(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func orderedParams(props map[string]any, required []string) []string {
	out := make([]string, 0, len(props))
	for _, name := range required {
		if _, ok := props[name]; ok {
			out = append(out, name)
		}
	}
	var optional []string
	for name := range props {
		if !contains(required, name) {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(out, optional...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

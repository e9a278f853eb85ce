// ABOUTME: Thread-safe registry mapping tool names to local handlers
// ABOUTME: Execute never fails the run: decode errors and unknown names yield no output

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolExists indicates a tool with the same name is already registered.
var ErrToolExists = errors.New("tool already registered")

// Handler computes a tool's output from its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a named, locally executed function the assistant may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema advertised for the tool's arguments.
	Parameters json.RawMessage
	Handler    Handler
}

// Registry maintains the set of registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Returns ErrToolExists on a name collision.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" || tool.Handler == nil {
		return fmt.Errorf("invalid tool: name and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.logger.Debug("registered tool", "tool", tool.Name)
	return nil
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition is a tool declaration in the shape the assistant definition
// carries under "tools".
type Definition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function and its argument schema.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Definitions returns a declaration for every registered tool, sorted by name.
// The assistant only calls tools it declares, so these must match its definition.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Type: "function",
			Function: FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// Execute runs the named tool.
// ok is false only when no tool has that name; the caller should then
// produce no output for the call. A handler or argument error is logged and
// reported as an empty output with ok true.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (output string, ok bool) {
	tool, found := r.Lookup(name)
	if !found {
		return "", false
	}

	args := json.RawMessage(arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return "", true
	}
	return out, true
}

// decodeArgs unmarshals raw tool arguments into v.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

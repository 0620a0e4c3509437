package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
)

// Tool is an external-effect provider invoked by agents.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ToolValidator is implemented by tools that check params before running.
type ToolValidator interface {
	Validate(params map[string]any) bool
}

// CostedTool is implemented by tools that incur a cost per call.
type CostedTool interface {
	Cost() float64
}

// ToolFunc is the signature of a function-backed tool.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	name        string
	description string
	fn          ToolFunc
	validate    func(map[string]any) bool
	cost        float64
}

// NewFuncTool creates a Tool backed by fn.
func NewFuncTool(name, description string, fn ToolFunc) *FuncTool {
	return &FuncTool{name: name, description: description, fn: fn}
}

// WithValidate sets the params validator.
func (t *FuncTool) WithValidate(v func(map[string]any) bool) *FuncTool {
	t.validate = v
	return t
}

// WithCost sets the per-call cost.
func (t *FuncTool) WithCost(cost float64) *FuncTool {
	t.cost = cost
	return t
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }
func (t *FuncTool) Cost() float64       { return t.cost }

func (t *FuncTool) Validate(params map[string]any) bool {
	if t.validate == nil {
		return true
	}
	return t.validate(params)
}

func (t *FuncTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}

// ToolRegistry is a concurrency-safe catalog of tools shared by agents.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Compile-time check that einoTool implements Tool.
var _ Tool = (*einoTool)(nil)

// einoTool adapts an Eino InvokableTool. Params are sent as JSON arguments;
// a JSON result is decoded, anything else is returned as a string.
type einoTool struct {
	inner       tool.InvokableTool
	name        string
	description string
}

// FromEinoTool wraps an Eino tool so agents can call it through CallTool.
func FromEinoTool(ctx context.Context, t tool.InvokableTool) (Tool, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool info: %w", err)
	}
	return &einoTool{inner: t, name: info.Name, description: info.Desc}, nil
}

func (t *einoTool) Name() string        { return t.name }
func (t *einoTool) Description() string { return t.description }

func (t *einoTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	args, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal args: %w", t.name, err)
	}
	out, err := t.inner.InvokableRun(ctx, string(args))
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err == nil {
		return decoded, nil
	}
	return out, nil
}

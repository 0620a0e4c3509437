package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dohr-michael/foreman/internal/config"
)

// RoutedAgent is a configurable Executor that maps task types to tools by
// substring. The longest matching route wins.
type RoutedAgent struct {
	name         string
	description  string
	capabilities []Capability
	routes       []route
	required     []string
}

type route struct {
	match string
	tool  string
}

// NewRoutedAgent builds an executor from a config definition.
func NewRoutedAgent(def config.AgentDefinition) *RoutedAgent {
	a := &RoutedAgent{
		name:        def.Name,
		description: def.Description,
		required:    def.Required,
	}
	for _, c := range def.Capabilities {
		a.capabilities = append(a.capabilities, Capability{Name: c})
	}
	for match, tool := range def.Routes {
		a.routes = append(a.routes, route{match: strings.ToLower(match), tool: tool})
	}
	sort.Slice(a.routes, func(i, j int) bool {
		if len(a.routes[i].match) != len(a.routes[j].match) {
			return len(a.routes[i].match) > len(a.routes[j].match)
		}
		return a.routes[i].match < a.routes[j].match
	})
	return a
}

func (a *RoutedAgent) Name() string               { return a.name }
func (a *RoutedAgent) Description() string        { return a.description }
func (a *RoutedAgent) Capabilities() []Capability { return a.capabilities }

// Validate requires every configured key to be present.
func (a *RoutedAgent) Validate(payload map[string]any) bool {
	for _, k := range a.required {
		if _, ok := payload[k]; !ok {
			return false
		}
	}
	return true
}

// Route returns the tool configured for taskType.
func (a *RoutedAgent) Route(taskType string) (string, bool) {
	t := strings.ToLower(taskType)
	for _, r := range a.routes {
		if strings.Contains(t, r.match) {
			return r.tool, true
		}
	}
	return "", false
}

// Execute calls the routed tool with the task payload. When memory suggests
// a single-tool pattern for this task type, that tool is used directly.
func (a *RoutedAgent) Execute(ctx context.Context, rt *Runtime, task *Task, ectx *ExecutionContext) (*TaskResult, error) {
	toolName, ok := a.suggestedTool(ctx, rt)
	if !ok {
		toolName, ok = a.Route(task.Type)
	}
	if !ok {
		return nil, Permanent(fmt.Errorf("%s: no route for task type %q", a.name, task.Type))
	}

	params := make(map[string]any, len(task.Payload)+1)
	for k, v := range task.Payload {
		params[k] = v
	}
	params["task_type"] = task.Type
	if ectx != nil && ectx.OrganizationID != "" {
		params["organization_id"] = ectx.OrganizationID
	}

	out, err := rt.CallTool(ctx, toolName, params)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Status: ResultSuccess, Data: out}, nil
}

func (a *RoutedAgent) suggestedTool(ctx context.Context, rt *Runtime) (string, bool) {
	sug, ok := SuggestionFromContext(ctx)
	if !ok {
		return "", false
	}
	for _, p := range sug.Patterns {
		if len(p.ToolsUsed) != 1 {
			continue
		}
		if _, known := rt.Tools().Get(p.ToolsUsed[0]); known {
			return p.ToolsUsed[0], true
		}
	}
	return "", false
}

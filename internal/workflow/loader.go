package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	cron "github.com/netresearch/go-cron"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// LoadFile reads and validates a workflow definition. Files ending in .yaml
// or .yml are YAML, anything else is JSONC.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	parse := Parse
	if isYAML(path) {
		parse = ParseYAML
	}
	wf, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return wf, nil
}

// Parse decodes and validates a JSONC workflow definition.
func Parse(data []byte) (*Workflow, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return decode(std)
}

// ParseYAML decodes and validates a YAML workflow definition. Field names
// are the same as in JSONC.
func ParseYAML(data []byte) (*Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	std, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return decode(std)
}

func decode(std []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(std, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isDefinition(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".jsonc") || isYAML(path)
}

// Validate checks the workflow definition for consistency.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidWorkflow)
	}
	if w.Name == "" {
		return fmt.Errorf("%w: %q: name is required", ErrInvalidWorkflow, w.ID)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: %q: at least one step is required", ErrInvalidWorkflow, w.ID)
	}

	index := make(map[string]int, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: %q: step %d has no id", ErrInvalidWorkflow, w.ID, i)
		}
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("%w: %q: duplicate step id %q", ErrInvalidWorkflow, w.ID, s.ID)
		}
		if s.Agent == "" || s.Action == "" {
			return fmt.Errorf("%w: %q: step %q needs an agent and an action", ErrInvalidWorkflow, w.ID, s.ID)
		}
		index[s.ID] = i
	}

	groups := parallelGroups(w.Steps)
	for i, s := range w.Steps {
		for _, next := range []string{s.OnSuccess, s.OnFailure} {
			if next == "" {
				continue
			}
			j, ok := index[next]
			if !ok {
				return fmt.Errorf("%w: %q: step %q branches to unknown step %q", ErrInvalidWorkflow, w.ID, s.ID, next)
			}
			if j <= i {
				return fmt.Errorf("%w: %q: step %q must branch forward, not to %q", ErrInvalidWorkflow, w.ID, s.ID, next)
			}
		}
		if s.Input != nil {
			j, ok := index[s.Input.Step]
			if !ok || j >= i {
				return fmt.Errorf("%w: %q: step %q input must reference an earlier step, got %q", ErrInvalidWorkflow, w.ID, s.ID, s.Input.Step)
			}
			if groups[i] >= 0 && groups[i] == groups[j] {
				return fmt.Errorf("%w: %q: step %q cannot read %q from its own parallel group", ErrInvalidWorkflow, w.ID, s.ID, s.Input.Step)
			}
		}
		for _, c := range s.Conditions {
			if !c.Operator.Valid() {
				return fmt.Errorf("%w: %q: step %q: unknown operator %q", ErrInvalidWorkflow, w.ID, s.ID, c.Operator)
			}
		}
	}

	for _, t := range w.Triggers {
		if err := t.validate(); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidWorkflow, w.ID, err)
		}
	}
	return nil
}

func (t Trigger) validate() error {
	switch t.Type {
	case TriggerManual:
	case TriggerSchedule:
		if _, err := cronParser.Parse(t.Cron); err != nil {
			return fmt.Errorf("schedule trigger: %w", err)
		}
	case TriggerEvent:
		if t.Event == "" {
			return fmt.Errorf("event trigger needs an event type")
		}
	case TriggerCondition:
		if len(t.Conditions) == 0 {
			return fmt.Errorf("condition trigger needs conditions")
		}
		for _, c := range t.Conditions {
			if !c.Operator.Valid() {
				return fmt.Errorf("condition trigger: unknown operator %q", c.Operator)
			}
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// parallelGroups labels each step with its parallel group number, or -1 for
// sequential steps. Consecutive parallel steps share a group.
func parallelGroups(steps []Step) []int {
	groups := make([]int, len(steps))
	group := -1
	for i, s := range steps {
		if !s.Parallel {
			groups[i] = -1
			continue
		}
		if i == 0 || !steps[i-1].Parallel {
			group++
		}
		groups[i] = group
	}
	return groups
}

// Registry holds loaded workflow definitions.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*Workflow)}
}

// LoadDir loads every .jsonc, .yaml and .yml definition in dir. A dir with
// glob metacharacters is matched as a pattern instead, with ** support
// (e.g. "flows/**/*.yaml"). Invalid files are logged and skipped.
func (r *Registry) LoadDir(dir string) error {
	paths, err := definitionPaths(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		wf, err := LoadFile(path)
		if err != nil {
			slog.Warn("failed to load workflow", "path", path, "error", err)
			continue
		}
		if err := r.Register(wf); err != nil {
			slog.Warn("failed to register workflow", "id", wf.ID, "error", err)
		}
	}
	return nil
}

func definitionPaths(dir string) ([]string, error) {
	if strings.ContainsAny(dir, "*?[{") {
		matches, err := doublestar.FilepathGlob(dir)
		if err != nil {
			return nil, fmt.Errorf("glob workflows %s: %w", dir, err)
		}
		var paths []string
		for _, m := range matches {
			if isDefinition(m) {
				paths = append(paths, m)
			}
		}
		sort.Strings(paths)
		return paths, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("workflows directory not found, skipping", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows dir %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isDefinition(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// Register adds a workflow.
func (r *Registry) Register(wf *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %q already registered", wf.ID)
	}
	r.workflows[wf.ID] = wf
	return nil
}

// Get returns the workflow with id.
func (r *Registry) Get(id string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// All returns every workflow sorted by id.
func (r *Registry) All() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

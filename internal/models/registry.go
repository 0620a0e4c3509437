package models

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

type providerEntry struct {
	cfg   config.ProviderConfig
	once  sync.Once
	model model.ToolCallingChatModel
	err   error
}

// Registry builds named models lazily, once each.
type Registry struct {
	providers   map[string]*providerEntry
	defaultName string
	create      func(context.Context, config.ProviderConfig) (model.ToolCallingChatModel, error)
}

// NewRegistry creates a registry from config.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	r := &Registry{
		providers:   make(map[string]*providerEntry, len(cfg.Providers)),
		defaultName: cfg.Default,
		create:      CreateModel,
	}
	for name, p := range cfg.Providers {
		r.providers[name] = &providerEntry{cfg: p}
	}
	return r
}

// Get returns the named model, creating it on first use.
func (r *Registry) Get(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	entry, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("model provider %q not found", name)
	}
	entry.once.Do(func() {
		entry.model, entry.err = r.create(ctx, entry.cfg)
	})
	return entry.model, entry.err
}

// Default returns the default model.
func (r *Registry) Default(ctx context.Context) (model.ToolCallingChatModel, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, r.defaultName)
}

// Resolve returns the named model, or the default when name is empty.
func (r *Registry) Resolve(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	if name == "" {
		return r.Default(ctx)
	}
	return r.Get(ctx, name)
}

func (r *Registry) DefaultName() string { return r.defaultName }

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

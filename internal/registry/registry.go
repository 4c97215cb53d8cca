// Package registry holds the server's advertised capabilities and routes
// public method names to the providers that implement them. Resource
// providers register under their resource type and expose a fixed verb set;
// tool providers register under their full namespaced name.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// Registry is the capability, resource-provider and tool-provider registry.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	logger *zap.Logger

	mu           sync.RWMutex
	capabilities map[string]Capability
	resources    map[models.ResourceType]ResourceProvider
	tools        map[string]ToolProvider
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:       logger,
		capabilities: make(map[string]Capability),
		resources:    make(map[models.ResourceType]ResourceProvider),
		tools:        make(map[string]ToolProvider),
	}
}

// RegisterCapability records a standalone capability, typically a feature.
func (r *Registry) RegisterCapability(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability name is empty")
	}
	switch c.Type {
	case CapabilityResource, CapabilityTool, CapabilityFeature:
	default:
		return fmt.Errorf("capability %q has unknown type %q", c.Name, c.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[c.Name]; exists {
		return fmt.Errorf("capability %q already registered", c.Name)
	}
	r.capabilities[c.Name] = c
	return nil
}

// RegisterResource records a resource provider and advertises it as a
// resource capability carrying its operation set.
func (r *Registry) RegisterResource(p ResourceProvider) error {
	name := string(p.Type())
	if err := r.RegisterCapability(Capability{
		Name:       name,
		Type:       CapabilityResource,
		Operations: p.SupportedOps(),
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.resources[p.Type()] = p
	r.mu.Unlock()
	r.logger.Info("Registered resource provider",
		zap.String("resource", name),
		zap.Int("operations", len(p.SupportedOps())))
	return nil
}

// RegisterTool records a tool provider and advertises it as a tool
// capability carrying its schemas.
func (r *Registry) RegisterTool(p ToolProvider) error {
	meta := p.Metadata()
	if err := r.RegisterCapability(Capability{
		Name:         meta.Name,
		Type:         CapabilityTool,
		Version:      meta.Version,
		InputSchema:  meta.InputSchema,
		OutputSchema: meta.OutputSchema,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.tools[meta.Name] = p
	r.mu.Unlock()
	r.logger.Info("Registered tool provider", zap.String("tool", meta.Name))
	return nil
}

// RegisterFeature advertises a feature capability with its settings map.
func (r *Registry) RegisterFeature(name string, settings map[string]interface{}) error {
	return r.RegisterCapability(Capability{
		Name:     name,
		Type:     CapabilityFeature,
		Settings: settings,
	})
}

// Capabilities returns a copy of everything the server advertises.
func (r *Registry) Capabilities() map[string]Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Capability, len(r.capabilities))
	for name, c := range r.capabilities {
		out[name] = c
	}
	return out
}

// Capability returns one advertised capability by name.
func (r *Registry) Capability(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	return c, ok
}

// Resource returns the provider registered for a resource type.
func (r *Registry) Resource(rt models.ResourceType) (ResourceProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.resources[rt]
	return p, ok
}

// Tool returns the provider registered under a tool name.
func (r *Registry) Tool(name string) (ToolProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tools[name]
	return p, ok
}

// Negotiate intersects the server's capabilities with the client's
// advertisement. A capability is served only when the client names it with
// the same type; everything else is omitted.
func (r *Registry) Negotiate(client map[string]ClientCapability) map[string]Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Capability)
	for name, served := range r.capabilities {
		advertised, ok := client[name]
		if !ok || advertised.Type != served.Type {
			continue
		}
		out[name] = served
	}
	return out
}

// Lookup resolves a public method name to its handler: a tool registered
// under the exact name, or a "<resource>.<operation>" provider pair. Unknown
// methods and unsupported operations both miss.
func (r *Registry) Lookup(method string) (Handler, bool) {
	if tool, ok := r.Tool(method); ok {
		meta := tool.Metadata()
		return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return r.executeTool(ctx, tool, meta, params)
		}, true
	}

	idx := strings.IndexByte(method, '.')
	if idx <= 0 || idx == len(method)-1 {
		return nil, false
	}
	op, ok := ParseOperation(method[idx+1:])
	if !ok {
		return nil, false
	}
	provider, ok := r.Resource(models.ResourceType(method[:idx]))
	if !ok {
		return nil, false
	}
	if !supports(provider, op) {
		return nil, false
	}
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return invoke(ctx, provider, op, params)
	}, true
}

// ExecuteTool validates and runs a tool by name.
func (r *Registry) ExecuteTool(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	tool, ok := r.Tool(name)
	if !ok {
		return nil, faults.NotFound("tool", name)
	}
	return r.executeTool(ctx, tool, tool.Metadata(), params)
}

func (r *Registry) executeTool(ctx context.Context, tool ToolProvider, meta ToolMetadata, params json.RawMessage) (interface{}, error) {
	if err := ValidateAgainst(meta.InputSchema, params, "/params"); err != nil {
		return nil, err
	}
	out, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	if meta.OutputSchema != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, faults.Internal(fmt.Errorf("tool %s output: %w", meta.Name, err))
		}
		if err := ValidateAgainst(meta.OutputSchema, raw, "/result"); err != nil {
			r.logger.Error("Tool output violates its registered schema",
				zap.String("tool", meta.Name), zap.Error(err))
			return nil, faults.Internal(fmt.Errorf("tool %s output schema: %w", meta.Name, err))
		}
	}
	return out, nil
}

func supports(p ResourceProvider, op Operation) bool {
	for _, candidate := range p.SupportedOps() {
		if candidate == op {
			return true
		}
	}
	return false
}

func invoke(ctx context.Context, p ResourceProvider, op Operation, params json.RawMessage) (interface{}, error) {
	switch op {
	case OpList:
		return p.List(ctx, params)
	case OpGet:
		return p.Get(ctx, params)
	case OpCreate:
		return p.Create(ctx, params)
	case OpUpdate:
		return p.Update(ctx, params)
	case OpDelete:
		return p.Delete(ctx, params)
	case OpQuery:
		return p.Query(ctx, params)
	default:
		return nil, faults.Internal(fmt.Errorf("operation %q has no dispatch arm", op))
	}
}

package registry

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/gantry-project/gantry/internal/models"
)

// Operation is one resource verb a provider may support.
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpQuery  Operation = "query"
)

// ParseOperation maps a method suffix onto a known operation.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case OpList, OpGet, OpCreate, OpUpdate, OpDelete, OpQuery:
		return op, true
	default:
		return "", false
	}
}

// CapabilityType partitions the capability namespace.
type CapabilityType string

const (
	CapabilityResource CapabilityType = "resource"
	CapabilityTool     CapabilityType = "tool"
	CapabilityFeature  CapabilityType = "feature"
)

// Capability is one named contract the server advertises during initialize.
// Operations is set for resources, the schemas for tools, Settings for
// features.
type Capability struct {
	Name         string                 `json:"name"`
	Type         CapabilityType         `json:"type"`
	Version      string                 `json:"version,omitempty"`
	Operations   []Operation            `json:"operations,omitempty"`
	InputSchema  *jsonschema.Schema     `json:"inputSchema,omitempty"`
	OutputSchema *jsonschema.Schema     `json:"outputSchema,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
}

// ClientCapability is the client's advertisement for one capability name.
type ClientCapability struct {
	Type     CapabilityType         `json:"type"`
	Version  string                 `json:"version,omitempty"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// ResourceProvider executes the resource verbs for one resource type.
// Params arrive as the raw JSON-RPC params object; providers decode and
// validate their own inputs.
type ResourceProvider interface {
	Type() models.ResourceType
	SupportedOps() []Operation
	List(ctx context.Context, params json.RawMessage) (interface{}, error)
	Get(ctx context.Context, params json.RawMessage) (interface{}, error)
	Create(ctx context.Context, params json.RawMessage) (interface{}, error)
	Update(ctx context.Context, params json.RawMessage) (interface{}, error)
	Delete(ctx context.Context, params json.RawMessage) (interface{}, error)
	Query(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// ToolMetadata describes a registered tool and its schemas. Schemas are
// optional; when present the registry validates calls against them.
type ToolMetadata struct {
	Name         string
	Description  string
	Version      string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
}

// ToolProvider executes one registered tool.
type ToolProvider interface {
	Metadata() ToolMetadata
	Execute(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// Handler executes one public method resolved by Lookup.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

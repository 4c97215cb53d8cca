package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

type fakeProvider struct {
	typ    models.ResourceType
	ops    []Operation
	lastOp Operation
}

func (f *fakeProvider) Type() models.ResourceType { return f.typ }
func (f *fakeProvider) SupportedOps() []Operation { return f.ops }
func (f *fakeProvider) record(op Operation) (interface{}, error) {
	f.lastOp = op
	return map[string]string{"op": string(op)}, nil
}
func (f *fakeProvider) List(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpList)
}
func (f *fakeProvider) Get(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpGet)
}
func (f *fakeProvider) Create(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpCreate)
}
func (f *fakeProvider) Update(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpUpdate)
}
func (f *fakeProvider) Delete(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpDelete)
}
func (f *fakeProvider) Query(ctx context.Context, p json.RawMessage) (interface{}, error) {
	return f.record(OpQuery)
}

type fakeTool struct {
	meta    ToolMetadata
	execute func(ctx context.Context, params json.RawMessage) (interface{}, error)
	calls   int
}

func (f *fakeTool) Metadata() ToolMetadata { return f.meta }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	f.calls++
	if f.execute == nil {
		return map[string]bool{"ok": true}, nil
	}
	return f.execute(ctx, params)
}

type searchInput struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

func newTestRegistry(t *testing.T) *Registry {
	return New(zaptest.NewLogger(t))
}

func TestRegisterResourceAdvertisesCapability(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.RegisterResource(&fakeProvider{
		typ: models.ResourceIssue,
		ops: []Operation{OpList, OpGet, OpCreate},
	}))

	cap, ok := reg.Capability("issue")
	require.True(t, ok)
	assert.Equal(t, CapabilityResource, cap.Type)
	assert.Equal(t, []Operation{OpList, OpGet, OpCreate}, cap.Operations)
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.RegisterFeature("textDocument", nil))

	err := reg.RegisterFeature("textDocument", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterCapabilityRejectsUnknownType(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.RegisterCapability(Capability{Name: "x", Type: "widget"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestLookupRoutesResourceMethods(t *testing.T) {
	reg := newTestRegistry(t)
	provider := &fakeProvider{typ: models.ResourceIssue, ops: []Operation{OpList, OpGet}}
	require.NoError(t, reg.RegisterResource(provider))

	handler, ok := reg.Lookup("issue.get")
	require.True(t, ok)
	_, err := handler(context.Background(), json.RawMessage(`{"id":"iss_1"}`))
	require.NoError(t, err)
	assert.Equal(t, OpGet, provider.lastOp)
}

func TestLookupMissesUnknownMethods(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.RegisterResource(&fakeProvider{
		typ: models.ResourceIssue,
		ops: []Operation{OpList, OpGet},
	}))

	for _, method := range []string{
		"issue.delete",  // registered resource, unsupported op
		"issue.explode", // not an operation
		"project.get",   // no provider
		"issue",         // no operation suffix
		"issue.",        // empty operation
		".get",          // empty resource
	} {
		_, ok := reg.Lookup(method)
		assert.False(t, ok, "method %q should not resolve", method)
	}
}

func TestLookupResolvesToolsByExactName(t *testing.T) {
	reg := newTestRegistry(t)
	tool := &fakeTool{meta: ToolMetadata{Name: "gantry.search"}}
	require.NoError(t, reg.RegisterTool(tool))

	handler, ok := reg.Lookup("gantry.search")
	require.True(t, ok)
	_, err := handler(context.Background(), json.RawMessage(`{"query":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, tool.calls)
}

func TestExecuteToolValidatesInput(t *testing.T) {
	reg := newTestRegistry(t)
	tool := &fakeTool{meta: ToolMetadata{
		Name:        "gantry.search",
		InputSchema: GenerateSchema("Search", &searchInput{}),
	}}
	require.NoError(t, reg.RegisterTool(tool))

	t.Run("missing required property", func(t *testing.T) {
		_, err := reg.ExecuteTool(context.Background(), "gantry.search", json.RawMessage(`{"limit":5}`))
		require.Error(t, err)
		assert.Equal(t, faults.KindValidation, faults.KindOf(err))

		var f *faults.Fault
		require.ErrorAs(t, err, &f)
		assert.Equal(t, "/params/query", f.Path)
		assert.Equal(t, 0, tool.calls)
	})

	t.Run("wrong property kind", func(t *testing.T) {
		_, err := reg.ExecuteTool(context.Background(), "gantry.search", json.RawMessage(`{"query":7}`))
		require.Error(t, err)
		assert.Equal(t, faults.KindValidation, faults.KindOf(err))
		assert.Equal(t, 0, tool.calls)
	})

	t.Run("valid params execute", func(t *testing.T) {
		_, err := reg.ExecuteTool(context.Background(), "gantry.search", json.RawMessage(`{"query":"login","limit":5}`))
		require.NoError(t, err)
		assert.Equal(t, 1, tool.calls)
	})
}

func TestExecuteToolValidatesOutput(t *testing.T) {
	type searchOutput struct {
		Total int `json:"total"`
	}
	reg := newTestRegistry(t)
	tool := &fakeTool{
		meta: ToolMetadata{
			Name:         "gantry.search",
			OutputSchema: GenerateSchema("SearchResponse", &searchOutput{}),
		},
		execute: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return map[string]string{"unexpected": "shape"}, nil
		},
	}
	require.NoError(t, reg.RegisterTool(tool))

	_, err := reg.ExecuteTool(context.Background(), "gantry.search", nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindInternal, faults.KindOf(err))
}

func TestExecuteToolUnknownName(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.ExecuteTool(context.Background(), "gantry.bogus", nil)
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
}

func TestNegotiateMatchesNameAndType(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.RegisterResource(&fakeProvider{typ: models.ResourceIssue, ops: []Operation{OpGet}}))
	require.NoError(t, reg.RegisterTool(&fakeTool{meta: ToolMetadata{Name: "gantry.search"}}))
	require.NoError(t, reg.RegisterFeature("textDocument", map[string]interface{}{"sync": "full"}))

	t.Run("empty client advertises nothing", func(t *testing.T) {
		assert.Empty(t, reg.Negotiate(nil))
	})

	t.Run("name and type must both match", func(t *testing.T) {
		served := reg.Negotiate(map[string]ClientCapability{
			"issue":         {Type: CapabilityResource},
			"gantry.search": {Type: CapabilityFeature}, // wrong type
			"textDocument":  {Type: CapabilityFeature},
			"unknownCap":    {Type: CapabilityTool},
		})
		assert.Len(t, served, 2)
		assert.Contains(t, served, "issue")
		assert.Contains(t, served, "textDocument")
		assert.NotContains(t, served, "gantry.search")
	})
}

func TestGenerateSchemaRequiredFollowsOmitempty(t *testing.T) {
	schema := GenerateSchema("Search", &searchInput{})

	assert.Equal(t, "Search", schema.Title)
	assert.Equal(t, []string{"query"}, schema.Required)

	prop, ok := schema.Properties.Get("query")
	require.True(t, ok)
	assert.Equal(t, "string", prop.Type)
}

func TestValidateAgainstAcceptsNullAndAbsentOptionals(t *testing.T) {
	schema := GenerateSchema("Search", &searchInput{})

	assert.NoError(t, ValidateAgainst(schema, json.RawMessage(`{"query":"x","limit":null}`), "/params"))
	assert.NoError(t, ValidateAgainst(schema, json.RawMessage(`{"query":"x"}`), "/params"))
	assert.NoError(t, ValidateAgainst(nil, json.RawMessage(`17`), "/params"))
}

func TestValidateAgainstEmptyParams(t *testing.T) {
	schema := GenerateSchema("Search", &searchInput{})

	err := ValidateAgainst(schema, nil, "/params")
	require.Error(t, err)

	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "/params/query", f.Path)
}

package tools

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/optimize"
	"github.com/gantry-project/gantry/internal/query"
	"github.com/gantry-project/gantry/internal/registry"
	"github.com/gantry-project/gantry/internal/search"
)

// SearchParams is the gantry.search input. Query carries the DSL string;
// the structured fields refine or replace what it parses to. Shape selects
// an alternative response envelope.
type SearchParams struct {
	Query           string                `json:"query,omitempty" jsonschema:"description=Search DSL: free text plus type:/limit:/sort:/field:value tokens"`
	ResourceTypes   []models.ResourceType `json:"resourceTypes,omitempty"`
	Conditions      []models.Condition    `json:"conditions,omitempty"`
	Sort            *models.Sort          `json:"sort,omitempty"`
	Limit           int                   `json:"limit,omitempty"`
	Cursor          string                `json:"cursor,omitempty"`
	IncludeArchived bool                  `json:"includeArchived,omitempty"`
	Shape           string                `json:"shape,omitempty" jsonschema:"enum=,enum=progressive,enum=compressed,enum=batched,enum=streaming"`
	Page            int                   `json:"page,omitempty" jsonschema:"description=Progressive page number, 1-based"`
}

// SearchTool runs unified search and shapes the response. The output schema
// stays unregistered because the envelope depends on the requested shape.
type SearchTool struct {
	engine *search.Engine
	opt    *optimize.Optimizer
	logger *zap.Logger
}

func NewSearchTool(engine *search.Engine, opt *optimize.Optimizer, logger *zap.Logger) *SearchTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchTool{engine: engine, opt: opt, logger: logger.Named("tool.search")}
}

func (t *SearchTool) Metadata() registry.ToolMetadata {
	return registry.ToolMetadata{
		Name:        Namespace + ".search",
		Description: "Search issues, projects, teams, users and related resources with relevance scoring and optional response shaping",
		Version:     "1.0",
		InputSchema: registry.GenerateSchema("gantry.search params", &SearchParams{}),
	}
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SearchParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	mode, err := optimize.ParseShapeMode(p.Shape)
	if err != nil {
		return nil, err
	}
	q, err := p.toQuery()
	if err != nil {
		return nil, err
	}

	resp, err := t.engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	t.opt.Optimize(resp, q.Text, q.Sort != nil)

	if mode == optimize.ShapeNone {
		return resp, nil
	}
	return t.opt.Shape(resp, mode, p.Page)
}

// toQuery parses the DSL string when present and lets the structured fields
// override token for token.
func (p *SearchParams) toQuery() (*models.SearchQuery, error) {
	q := &models.SearchQuery{}
	if p.Query != "" {
		parsed, err := query.Parse(p.Query)
		if err != nil {
			return nil, err
		}
		q = parsed
	}
	if len(p.ResourceTypes) > 0 {
		q.ResourceTypes = p.ResourceTypes
	}
	if len(p.Conditions) > 0 {
		q.Conditions = append(q.Conditions, p.Conditions...)
	}
	if p.Sort != nil {
		q.Sort = p.Sort
	}
	if p.Limit > 0 {
		q.Limit = p.Limit
	}
	if p.Cursor != "" {
		q.Cursor = p.Cursor
	}
	if p.IncludeArchived {
		q.IncludeArchived = true
	}
	return q, nil
}

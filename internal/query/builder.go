// Package query parses the compact search DSL and compiles SearchQuery
// values into upstream GraphQL documents with typed filter trees.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// Builder owns the per-type field mappings and assembles search documents.
type Builder struct {
	metas  map[models.ResourceType]*typeMeta
	logger *zap.Logger
}

// BuilderOption adjusts the builder's field mappings.
type BuilderOption func(*Builder)

// WithOverrides merges config-file field mappings over the defaults.
func WithOverrides(overrides map[string]Override) BuilderOption {
	return func(b *Builder) {
		for name, o := range overrides {
			rt, err := models.ParseResourceType(name)
			if err != nil {
				continue
			}
			if meta, ok := b.metas[rt]; ok {
				meta.apply(o)
			}
		}
	}
}

// NewBuilder constructs a builder with the default field mappings.
func NewBuilder(logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		metas:  defaultMetas(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// QueryName returns the upstream root field the type's search results live
// under, which is also the unwrap key in the response data.
func (b *Builder) QueryName(rt models.ResourceType) (string, error) {
	meta, ok := b.metas[rt]
	if !ok {
		return "", faults.Validation("/resourceTypes", "unknown resource type %q", rt)
	}
	return meta.queryName, nil
}

// TextField names the public field free text searches on for the type.
func (b *Builder) TextField(rt models.ResourceType) string {
	if meta, ok := b.metas[rt]; ok {
		return meta.textPath
	}
	return "name"
}

// ArchivedExclusions are the per-type predicates the search engine appends
// unless the query opts into archived resources.
func (b *Builder) ArchivedExclusions(rt models.ResourceType) []models.Condition {
	switch rt {
	case models.ResourceIssue:
		return []models.Condition{{Field: "stateType", Operator: models.OpNeq, Value: "canceled"}}
	case models.ResourceProject:
		return []models.Condition{{Field: "state", Operator: models.OpNeq, Value: "canceled"}}
	default:
		return nil
	}
}

// BuildSearch compiles the query into a GraphQL document for one resource
// type plus its variables. The filter travels as a variable; paging and
// ordering are inlined. An unsupported sort field logs a warning and is
// dropped rather than failing the search.
func (b *Builder) BuildSearch(rt models.ResourceType, q *models.SearchQuery, cursor string) (string, map[string]interface{}, error) {
	meta, ok := b.metas[rt]
	if !ok {
		return "", nil, faults.Validation("/resourceTypes", "unknown resource type %q", rt)
	}

	filter, err := b.CompileFilter(rt, q)
	if err != nil {
		return "", nil, err
	}

	args := []string{"filter: $filter", fmt.Sprintf("first: %d", q.Limit)}
	if cursor != "" {
		args = append(args, fmt.Sprintf("after: %s", strconv.Quote(cursor)))
	}
	if q.Sort != nil {
		if meta.sortFields[q.Sort.Field] {
			args = append(args, fmt.Sprintf("orderBy: { %s: %s }", q.Sort.Field, q.Sort.Direction))
		} else {
			b.logger.Warn("Dropping unsupported sort field",
				zap.String("field", q.Sort.Field),
				zap.String("resourceType", string(rt)),
			)
		}
	}

	doc := fmt.Sprintf(`query Search($filter: %s) {
  %s(%s) {
    nodes { %s }
    pageInfo { hasNextPage endCursor }
    totalCount
  }
}`, meta.filterType, meta.queryName, strings.Join(args, ", "), meta.selection)

	return doc, map[string]interface{}{"filter": filter}, nil
}

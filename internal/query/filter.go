package query

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

var validOperators = map[models.Operator]bool{
	models.OpEq: true, models.OpNeq: true,
	models.OpContains: true, models.OpNotContains: true,
	models.OpStartsWith: true, models.OpEndsWith: true,
	models.OpGt: true, models.OpGte: true, models.OpLt: true, models.OpLte: true,
	models.OpIn: true, models.OpNin: true, models.OpNull: true,
}

// Validate rejects queries the upstream can never answer: limits out of
// range, no resource types, conditions whose field is unknown to every
// selected type, or values that do not match the operator's shape.
func (b *Builder) Validate(q *models.SearchQuery) error {
	if q.Limit < 1 || q.Limit > 100 {
		return faults.Validation("/limit", "limit must be between 1 and 100, got %d", q.Limit)
	}
	if len(q.ResourceTypes) == 0 {
		return faults.Validation("/resourceTypes", "at least one resource type is required")
	}
	for _, rt := range q.ResourceTypes {
		if _, ok := b.metas[rt]; !ok {
			return faults.Validation("/resourceTypes", "unknown resource type %q", rt)
		}
	}

	for i, c := range q.Conditions {
		if !validOperators[c.Operator] {
			return faults.Validation(condPath(i, "operator"), "unknown operator %q", c.Operator)
		}
		if err := checkValueShape(i, c); err != nil {
			return err
		}
		known := false
		for _, rt := range q.ResourceTypes {
			if meta, ok := b.metas[rt]; ok {
				if _, ok := meta.aliases[c.Field]; ok {
					known = true
					break
				}
			}
		}
		if !known {
			return faults.Validation(condPath(i, "field"),
				"field %q is not searchable on any selected resource type", c.Field)
		}
	}
	return nil
}

func checkValueShape(i int, c models.Condition) error {
	switch c.Operator {
	case models.OpIn, models.OpNin:
		if c.Value == nil || reflect.ValueOf(c.Value).Kind() != reflect.Slice {
			return faults.Validation(condPath(i, "value"), "operator %q requires a list value", c.Operator)
		}
	case models.OpNull:
		if _, ok := c.Value.(bool); !ok && c.Value != nil {
			return faults.Validation(condPath(i, "value"), "operator %q requires a boolean value", c.Operator)
		}
	}
	return nil
}

func condPath(i int, leaf string) string {
	return fmt.Sprintf("/conditions/%d/%s", i, leaf)
}

// CompileFilter builds the upstream filter tree for one resource type.
// Conditions whose field the type does not know are skipped; the caller is
// expected to have run Validate so at least one selected type accepts each.
// Free text becomes a contains predicate on the type's text field.
func (b *Builder) CompileFilter(rt models.ResourceType, q *models.SearchQuery) (map[string]interface{}, error) {
	meta, ok := b.metas[rt]
	if !ok {
		return nil, faults.Validation("/resourceTypes", "unknown resource type %q", rt)
	}

	filter := make(map[string]interface{})
	for _, c := range q.Conditions {
		alias, ok := meta.aliases[c.Field]
		if !ok {
			b.logger.Debug("Skipping condition for resource type",
				zap.String("field", c.Field),
				zap.String("resourceType", string(rt)),
			)
			continue
		}
		mergePath(filter, strings.Split(alias, "."), operatorLeaf(c))
	}

	if q.Text != "" {
		mergePath(filter, strings.Split(meta.textPath, "."), map[string]interface{}{
			string(models.OpContains): q.Text,
		})
	}
	return filter, nil
}

// operatorLeaf renders one condition's comparator object. IS_NULL collapses
// to the upstream's {null: bool} form.
func operatorLeaf(c models.Condition) map[string]interface{} {
	if c.Operator == models.OpNull {
		val, _ := c.Value.(bool)
		if c.Value == nil {
			val = true
		}
		return map[string]interface{}{"null": val}
	}
	return map[string]interface{}{string(c.Operator): c.Value}
}

// mergePath nests the leaf comparator under the alias path, merging with
// predicates already placed on the same branch. A "nodes" segment compiles
// to the upstream's collection-any form: labels.nodes.name turns into
// {labels: {some: {name: leaf}}}.
func mergePath(dst map[string]interface{}, path []string, leaf map[string]interface{}) {
	cur := dst
	for i, seg := range path {
		if seg == "nodes" {
			seg = "some"
		}
		if i == len(path)-1 {
			if existing, ok := cur[seg].(map[string]interface{}); ok {
				for k, v := range leaf {
					existing[k] = v
				}
				return
			}
			cur[seg] = leaf
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
}

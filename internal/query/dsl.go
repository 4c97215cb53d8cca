package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// DefaultLimit applies when a query carries no limit: token.
const DefaultLimit = 50

var conditionToken = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*):(\S+)$`)

// Parse turns the compact query DSL into a SearchQuery. Tokens are
// order-independent: type:<comma-list>, limit:<int>, sort:<field>[:asc|desc],
// and <field>:<value> conditions with optional >, >=, <, <=, ! value
// prefixes. Whatever remains is free text. Without a type: token every
// resource type is selected.
func Parse(input string) (*models.SearchQuery, error) {
	q := &models.SearchQuery{Limit: DefaultLimit}
	var text []string

	for _, tok := range strings.Fields(input) {
		switch {
		case strings.HasPrefix(tok, "type:"):
			for _, name := range strings.Split(tok[len("type:"):], ",") {
				if name == "" {
					continue
				}
				rt, err := models.ParseResourceType(name)
				if err != nil {
					return nil, faults.Validation("/type", "unknown resource type %q", name)
				}
				q.ResourceTypes = append(q.ResourceTypes, rt)
			}

		case strings.HasPrefix(tok, "limit:"):
			n, err := strconv.Atoi(tok[len("limit:"):])
			if err != nil {
				return nil, faults.Validation("/limit", "limit must be an integer, got %q", tok[len("limit:"):])
			}
			q.Limit = n

		case strings.HasPrefix(tok, "sort:"):
			s, err := parseSort(tok[len("sort:"):])
			if err != nil {
				return nil, err
			}
			q.Sort = s

		default:
			if m := conditionToken.FindStringSubmatch(tok); m != nil {
				q.Conditions = append(q.Conditions, parseCondition(m[1], m[2]))
				continue
			}
			text = append(text, tok)
		}
	}

	q.Text = strings.Join(text, " ")
	if len(q.ResourceTypes) == 0 {
		q.ResourceTypes = models.AllResourceTypes()
	}
	if q.Limit < 1 || q.Limit > 100 {
		return nil, faults.Validation("/limit", "limit must be between 1 and 100, got %d", q.Limit)
	}
	return q, nil
}

func parseSort(spec string) (*models.Sort, error) {
	parts := strings.SplitN(spec, ":", 2)
	if parts[0] == "" {
		return nil, faults.Validation("/sort", "sort requires a field name")
	}
	s := &models.Sort{Field: parts[0], Direction: models.SortAsc}
	if len(parts) == 2 {
		switch parts[1] {
		case models.SortAsc, models.SortDesc:
			s.Direction = parts[1]
		default:
			return nil, faults.Validation("/sort", "sort direction must be asc or desc, got %q", parts[1])
		}
	}
	return s, nil
}

func parseCondition(field, raw string) models.Condition {
	op := models.OpEq
	switch {
	case strings.HasPrefix(raw, ">="):
		op, raw = models.OpGte, raw[2:]
	case strings.HasPrefix(raw, "<="):
		op, raw = models.OpLte, raw[2:]
	case strings.HasPrefix(raw, ">"):
		op, raw = models.OpGt, raw[1:]
	case strings.HasPrefix(raw, "<"):
		op, raw = models.OpLt, raw[1:]
	case strings.HasPrefix(raw, "!"):
		op, raw = models.OpNeq, raw[1:]
	}
	return models.Condition{Field: field, Operator: op, Value: parseScalar(raw)}
}

// parseScalar keeps numeric and boolean condition values typed so the
// upstream filter compares numbers as numbers.
func parseScalar(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// Serialize renders a SearchQuery back into DSL form. Only queries in the
// DSL-representable subset round-trip: scalar condition values without
// whitespace and the six prefix operators.
func Serialize(q *models.SearchQuery) string {
	var parts []string

	if !allTypes(q.ResourceTypes) {
		names := make([]string, len(q.ResourceTypes))
		for i, rt := range q.ResourceTypes {
			names[i] = string(rt)
		}
		parts = append(parts, "type:"+strings.Join(names, ","))
	}

	for _, c := range q.Conditions {
		parts = append(parts, fmt.Sprintf("%s:%s%v", c.Field, operatorPrefix(c.Operator), c.Value))
	}
	if q.Sort != nil {
		if q.Sort.Direction == models.SortAsc {
			parts = append(parts, "sort:"+q.Sort.Field)
		} else {
			parts = append(parts, fmt.Sprintf("sort:%s:%s", q.Sort.Field, q.Sort.Direction))
		}
	}
	if q.Limit != DefaultLimit {
		parts = append(parts, fmt.Sprintf("limit:%d", q.Limit))
	}
	if q.Text != "" {
		parts = append(parts, q.Text)
	}
	return strings.Join(parts, " ")
}

func operatorPrefix(op models.Operator) string {
	switch op {
	case models.OpGt:
		return ">"
	case models.OpGte:
		return ">="
	case models.OpLt:
		return "<"
	case models.OpLte:
		return "<="
	case models.OpNeq:
		return "!"
	default:
		return ""
	}
}

func allTypes(types []models.ResourceType) bool {
	all := models.AllResourceTypes()
	if len(types) != len(all) {
		return false
	}
	seen := make([]string, len(types))
	for i, rt := range types {
		seen[i] = string(rt)
	}
	want := make([]string, len(all))
	for i, rt := range all {
		want[i] = string(rt)
	}
	sort.Strings(seen)
	sort.Strings(want)
	for i := range seen {
		if seen[i] != want[i] {
			return false
		}
	}
	return true
}

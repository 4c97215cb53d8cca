package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gantry-project/gantry/internal/models"
)

// sortResults orders the merged list by the public sort field: string fields
// compare lexically, numeric fields numerically. The field's kind is taken
// from the first result that carries it; a field no result carries leaves
// insertion order untouched. The sort is stable so equal keys keep their
// per-type dispatch order.
func sortResults(results []models.SearchResult, s *models.Sort) {
	numeric, known := fieldKind(results, s.Field)
	if !known {
		return
	}

	desc := s.Direction == models.SortDesc
	sort.SliceStable(results, func(i, j int) bool {
		var cmp int
		if numeric {
			a := fieldFloat(&results[i], s.Field)
			b := fieldFloat(&results[j], s.Field)
			switch {
			case a < b:
				cmp = -1
			case a > b:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(fieldString(&results[i], s.Field), fieldString(&results[j], s.Field))
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func fieldKind(results []models.SearchResult, field string) (numeric, known bool) {
	for i := range results {
		v, ok := sortValue(&results[i], field)
		if !ok || v == nil {
			continue
		}
		_, numeric = toFloat(v)
		return numeric, true
	}
	return false, false
}

// sortValue resolves a sort field against the public result shape, falling
// back to AdditionalData for type-specific extras like priority or progress.
func sortValue(r *models.SearchResult, field string) (interface{}, bool) {
	switch field {
	case "title":
		return r.Title, true
	case "identifier":
		return r.Identifier, true
	case "team":
		return r.Team, true
	case "createdAt":
		return r.CreatedAt, true
	case "updatedAt":
		return r.UpdatedAt, true
	case "score":
		return r.Score, true
	}
	if r.AdditionalData != nil {
		if v, ok := r.AdditionalData[field]; ok {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func fieldFloat(r *models.SearchResult, field string) float64 {
	v, ok := sortValue(r, field)
	if !ok {
		return 0
	}
	f, _ := toFloat(v)
	return f
}

func fieldString(r *models.SearchResult, field string) string {
	v, ok := sortValue(r, field)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

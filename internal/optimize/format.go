package optimize

import (
	"fmt"
	"strings"
	"time"

	"github.com/gantry-project/gantry/internal/models"
)

const (
	dateTimeDisplay = "2006-01-02 15:04"
	dateOnlyDisplay = "2006-01-02"
)

// GroupBy collates results into a map keyed by the named field. An empty
// field groups by resource type. Results without a value for the field go
// under "unknown".
func GroupBy(results []models.SearchResult, field string) map[string][]models.SearchResult {
	groups := make(map[string][]models.SearchResult)
	for _, r := range results {
		key := groupKey(&r, field)
		groups[key] = append(groups[key], r)
	}
	return groups
}

func groupKey(r *models.SearchResult, field string) string {
	switch field {
	case "", "type":
		return string(r.ResourceType)
	case "team":
		if r.Team != "" {
			return r.Team
		}
	case "identifier":
		if r.Identifier != "" {
			return r.Identifier
		}
	default:
		if v, ok := r.AdditionalData[field]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return "unknown"
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// FormatDates emits display variants of every ISO-8601 field on each result
// as "<field>Formatted" in AdditionalData. Timestamps render as
// "YYYY-MM-DD HH:mm", date-only values as "YYYY-MM-DD".
func FormatDates(results []models.SearchResult) {
	for i := range results {
		r := &results[i]
		addFormatted(r, "createdAt", r.CreatedAt)
		addFormatted(r, "updatedAt", r.UpdatedAt)
		for k, v := range r.AdditionalData {
			if strings.HasSuffix(k, "Formatted") {
				continue
			}
			if s, ok := v.(string); ok {
				addFormatted(r, k, s)
			}
		}
	}
}

func addFormatted(r *models.SearchResult, field, value string) {
	display, ok := formatDate(value)
	if !ok {
		return
	}
	if r.AdditionalData == nil {
		r.AdditionalData = make(map[string]interface{})
	}
	r.AdditionalData[field+"Formatted"] = display
}

// formatDate renders an ISO-8601 value for display. Non-date strings are
// reported as not ok.
func formatDate(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Format(dateTimeDisplay), true
	}
	if t, err := time.Parse(dateOnlyDisplay, value); err == nil {
		return t.Format(dateOnlyDisplay), true
	}
	return "", false
}

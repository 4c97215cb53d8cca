package models

// Condition operators understood by the filter compiler.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNin         Operator = "nin"
	OpNull        Operator = "null"
)

// Sort directions
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Condition is a single field predicate. Value shape must match the
// operator: OpIn/OpNin take a list, OpNull takes a bool, the rest take
// scalars.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Sort orders merged search results by a named public field.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// SearchQuery is the search engine's input record. Limit must be in 1..100.
// Cursor resumes pagination with an opaque upstream token.
type SearchQuery struct {
	Text            string         `json:"text,omitempty"`
	ResourceTypes   []ResourceType `json:"resourceTypes"`
	Conditions      []Condition    `json:"conditions,omitempty"`
	Sort            *Sort          `json:"sort,omitempty"`
	Limit           int            `json:"limit"`
	Cursor          string         `json:"cursor,omitempty"`
	IncludeArchived bool           `json:"includeArchived,omitempty"`
}

// SearchResult is one projected hit. Score is attached by the optimizer and
// never persisted beyond the response. Timestamps stay in the upstream's
// ISO-8601 form so the formatter can derive display variants.
type SearchResult struct {
	ID             string                 `json:"id"`
	ResourceType   ResourceType           `json:"resourceType"`
	Title          string                 `json:"title"`
	URL            string                 `json:"url,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Identifier     string                 `json:"identifier,omitempty"`
	CreatedAt      string                 `json:"createdAt,omitempty"`
	UpdatedAt      string                 `json:"updatedAt,omitempty"`
	Team           string                 `json:"team,omitempty"`
	Score          float64                `json:"score,omitempty"`
	AdditionalData map[string]interface{} `json:"additionalData,omitempty"`
}

// SearchResponse is the engine's output. ExecutionTime is in milliseconds.
// PageCursors carries the per-type end cursors for resuming each sub-query.
type SearchResponse struct {
	Results       []SearchResult          `json:"results"`
	TotalCount    int                     `json:"totalCount"`
	HasMore       bool                    `json:"hasMore"`
	PageCursors   map[ResourceType]string `json:"pageCursors,omitempty"`
	ExecutionTime int64                   `json:"executionTime"`
	CacheHit      bool                    `json:"cacheHit"`
}

// Clone returns a deep copy so cached responses stay immutable when callers
// decorate results with scores or highlights.
func (r *SearchResponse) Clone() *SearchResponse {
	if r == nil {
		return nil
	}
	out := *r
	out.Results = make([]SearchResult, len(r.Results))
	copy(out.Results, r.Results)
	for i := range out.Results {
		if ad := r.Results[i].AdditionalData; ad != nil {
			cp := make(map[string]interface{}, len(ad))
			for k, v := range ad {
				cp[k] = v
			}
			out.Results[i].AdditionalData = cp
		}
	}
	if r.PageCursors != nil {
		out.PageCursors = make(map[ResourceType]string, len(r.PageCursors))
		for k, v := range r.PageCursors {
			out.PageCursors[k] = v
		}
	}
	return &out
}

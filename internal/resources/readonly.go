package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// Cycles, workflow states, and custom fields are mirrored read-only: the
// upstream manages their lifecycle through team settings.

const cycleSelection = `
	id
	number
	name
	startsAt
	endsAt
	progress
	team { id name key }
	createdAt
	updatedAt
`

const cycleGetQuery = `query Cycle($id: String!) {
	cycle(id: $id) {` + cycleSelection + `}
}`

const cycleListQuery = `query Cycles($filter: CycleFilter, $first: Int!, $after: String) {
	cycles(filter: $filter, first: $first, after: $after) {
		nodes {` + cycleSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const workflowStateSelection = `
	id
	name
	type
	color
	position
	team { id name key }
	createdAt
	updatedAt
`

const workflowStateGetQuery = `query WorkflowState($id: String!) {
	workflowState(id: $id) {` + workflowStateSelection + `}
}`

const workflowStateListQuery = `query WorkflowStates($filter: WorkflowStateFilter, $first: Int!, $after: String) {
	workflowStates(filter: $filter, first: $first, after: $after) {
		nodes {` + workflowStateSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const customFieldSelection = `
	id
	name
	type
	team { id name key }
	createdAt
	updatedAt
`

const customFieldGetQuery = `query CustomField($id: String!) {
	customField(id: $id) {` + customFieldSelection + `}
}`

const customFieldListQuery = `query CustomFields($filter: CustomFieldFilter, $first: Int!, $after: String) {
	customFields(filter: $filter, first: $first, after: $after) {
		nodes {` + customFieldSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

type cycleNode struct {
	ID        string          `json:"id"`
	Number    int             `json:"number"`
	Name      string          `json:"name"`
	StartsAt  time.Time       `json:"startsAt"`
	EndsAt    time.Time       `json:"endsAt"`
	Progress  float64         `json:"progress"`
	Team      *models.TeamRef `json:"team"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (n *cycleNode) toModel() *models.Cycle {
	return &models.Cycle{
		ID:        n.ID,
		Number:    n.Number,
		Name:      n.Name,
		StartsAt:  n.StartsAt,
		EndsAt:    n.EndsAt,
		Progress:  n.Progress,
		Team:      n.Team,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

type workflowStateNode struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Color     string          `json:"color"`
	Position  float64         `json:"position"`
	Team      *models.TeamRef `json:"team"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (n *workflowStateNode) toModel() *models.WorkflowState {
	return &models.WorkflowState{
		ID:        n.ID,
		Name:      n.Name,
		Type:      n.Type,
		Color:     n.Color,
		Position:  n.Position,
		Team:      n.Team,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

type customFieldNode struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Team      *models.TeamRef `json:"team"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (n *customFieldNode) toModel() *models.CustomField {
	return &models.CustomField{
		ID:        n.ID,
		Name:      n.Name,
		Type:      n.Type,
		Team:      n.Team,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func teamFilter(teamID string) map[string]interface{} {
	f := make(map[string]interface{})
	if teamID != "" {
		f["team"] = map[string]interface{}{"id": eq(teamID)}
	}
	return f
}

// TeamScopedListOptions page team-owned collections.
type TeamScopedListOptions struct {
	TeamID string
	First  int
	After  string
}

// CycleClient reads team cycles.
type CycleClient struct {
	svc *Service
}

func (c *CycleClient) Get(ctx context.Context, id string) (*models.Cycle, error) {
	var payload struct {
		Cycle *cycleNode `json:"cycle"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, cycleGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.Cycle == nil {
		return nil, faults.NotFound("cycle", id)
	}
	return payload.Cycle.toModel(), nil
}

func (c *CycleClient) List(ctx context.Context, opts TeamScopedListOptions) (*models.Page[models.Cycle], error) {
	vars := map[string]interface{}{"filter": teamFilter(opts.TeamID)}
	page, err := listPage[cycleNode](ctx, c.svc, cycleListQuery, vars, "cycles", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Cycle]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Cycle, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

// WorkflowStateClient reads team workflow states.
type WorkflowStateClient struct {
	svc *Service
}

func (c *WorkflowStateClient) Get(ctx context.Context, id string) (*models.WorkflowState, error) {
	var payload struct {
		WorkflowState *workflowStateNode `json:"workflowState"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, workflowStateGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.WorkflowState == nil {
		return nil, faults.NotFound("workflowState", id)
	}
	return payload.WorkflowState.toModel(), nil
}

func (c *WorkflowStateClient) List(ctx context.Context, opts TeamScopedListOptions) (*models.Page[models.WorkflowState], error) {
	vars := map[string]interface{}{"filter": teamFilter(opts.TeamID)}
	page, err := listPage[workflowStateNode](ctx, c.svc, workflowStateListQuery, vars, "workflowStates", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.WorkflowState]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.WorkflowState, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

// CustomFieldClient reads workspace custom field definitions.
type CustomFieldClient struct {
	svc *Service
}

func (c *CustomFieldClient) Get(ctx context.Context, id string) (*models.CustomField, error) {
	var payload struct {
		CustomField *customFieldNode `json:"customField"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, customFieldGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.CustomField == nil {
		return nil, faults.NotFound("customField", id)
	}
	return payload.CustomField.toModel(), nil
}

func (c *CustomFieldClient) List(ctx context.Context, opts TeamScopedListOptions) (*models.Page[models.CustomField], error) {
	vars := map[string]interface{}{"filter": teamFilter(opts.TeamID)}
	page, err := listPage[customFieldNode](ctx, c.svc, customFieldListQuery, vars, "customFields", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.CustomField]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.CustomField, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const labelSelection = `
	id
	name
	color
	description
	team { id name key }
	createdAt
	updatedAt
`

const labelGetQuery = `query Label($id: String!) {
	issueLabel(id: $id) {` + labelSelection + `}
}`

const labelListQuery = `query Labels($filter: IssueLabelFilter, $first: Int!, $after: String) {
	issueLabels(filter: $filter, first: $first, after: $after) {
		nodes {` + labelSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const labelCreateMutation = `mutation CreateLabel($input: IssueLabelCreateInput!) {
	issueLabelCreate(input: $input) {
		success
		issueLabel {` + labelSelection + `}
	}
}`

const labelUpdateMutation = `mutation UpdateLabel($id: String!, $input: IssueLabelUpdateInput!) {
	issueLabelUpdate(id: $id, input: $input) {
		success
		issueLabel {` + labelSelection + `}
	}
}`

const labelDeleteMutation = `mutation DeleteLabel($id: String!) {
	issueLabelDelete(id: $id) {
		success
	}
}`

type labelNode struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Color       string          `json:"color"`
	Description string          `json:"description"`
	Team        *models.TeamRef `json:"team"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (n *labelNode) toModel() *models.Label {
	return &models.Label{
		ID:          n.ID,
		Name:        n.Name,
		Color:       n.Color,
		Description: n.Description,
		Team:        n.Team,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// LabelCreateInput creates a label, team-scoped when TeamID is set.
type LabelCreateInput struct {
	Name        string  `json:"name"`
	TeamID      *string `json:"teamId,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// LabelUpdateInput edits label attributes; only non-nil fields are sent.
type LabelUpdateInput struct {
	Name        *string `json:"name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// LabelListOptions narrow and page the label listing.
type LabelListOptions struct {
	TeamID string
	First  int
	After  string
}

func (o LabelListOptions) filter() map[string]interface{} {
	f := make(map[string]interface{})
	if o.TeamID != "" {
		f["team"] = map[string]interface{}{"id": eq(o.TeamID)}
	}
	return f
}

// LabelClient manages issue labels.
type LabelClient struct {
	svc *Service
}

func (c *LabelClient) Create(ctx context.Context, input LabelCreateInput) (*models.Label, error) {
	if input.Name == "" {
		return nil, faults.Validation("/input/name", "name is required")
	}
	var payload struct {
		IssueLabelCreate struct {
			Success    bool       `json:"success"`
			IssueLabel *labelNode `json:"issueLabel"`
		} `json:"issueLabelCreate"`
	}
	vars := map[string]interface{}{"input": input}
	if err := c.svc.client.ExecuteInto(ctx, labelCreateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("label create", payload.IssueLabelCreate.Success); err != nil {
		return nil, err
	}
	label := payload.IssueLabelCreate.IssueLabel.toModel()
	c.svc.publish(models.ResourceLabel, ActionCreate, label.ID)
	c.svc.Metadata.invalidateLabels(input.TeamID)
	return label, nil
}

func (c *LabelClient) Update(ctx context.Context, id string, input LabelUpdateInput) (*models.Label, error) {
	var payload struct {
		IssueLabelUpdate struct {
			Success    bool       `json:"success"`
			IssueLabel *labelNode `json:"issueLabel"`
		} `json:"issueLabelUpdate"`
	}
	vars := map[string]interface{}{"id": id, "input": input}
	if err := c.svc.client.ExecuteInto(ctx, labelUpdateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("label update", payload.IssueLabelUpdate.Success); err != nil {
		return nil, err
	}
	label := payload.IssueLabelUpdate.IssueLabel.toModel()
	c.svc.publish(models.ResourceLabel, ActionUpdate, label.ID)
	if label.Team != nil {
		c.svc.Metadata.invalidateLabels(&label.Team.ID)
	}
	return label, nil
}

func (c *LabelClient) Get(ctx context.Context, id string) (*models.Label, error) {
	var payload struct {
		IssueLabel *labelNode `json:"issueLabel"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, labelGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.IssueLabel == nil {
		return nil, faults.NotFound("label", id)
	}
	return payload.IssueLabel.toModel(), nil
}

func (c *LabelClient) List(ctx context.Context, opts LabelListOptions) (*models.Page[models.Label], error) {
	vars := map[string]interface{}{"filter": opts.filter()}
	page, err := listPage[labelNode](ctx, c.svc, labelListQuery, vars, "issueLabels", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Label]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Label, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

func (c *LabelClient) Delete(ctx context.Context, id string) error {
	var payload struct {
		IssueLabelDelete struct {
			Success bool `json:"success"`
		} `json:"issueLabelDelete"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, labelDeleteMutation, vars, &payload); err != nil {
		return err
	}
	if err := ensureSuccess("label delete", payload.IssueLabelDelete.Success); err != nil {
		return err
	}
	c.svc.publish(models.ResourceLabel, ActionDelete, id)
	// The deleted label's team is unknown here, so drop every cached set.
	c.svc.Metadata.invalidateLabels(nil)
	return nil
}

package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// issueSelection is the canonical issue projection: scalar fields plus the
// state, team, project, assignee, labels, parent, children, and comments
// relations.
const issueSelection = `
	id
	identifier
	title
	description
	url
	priority
	estimate
	state { id name type color }
	team { id name key }
	project { id name state }
	assignee { id name displayName email }
	labels { nodes { id name color } }
	parent { id identifier title }
	children { nodes { id identifier title } }
	comments { nodes { id body createdAt user { id name displayName } } }
	createdAt
	updatedAt
	completedAt
	archivedAt
`

const issueGetQuery = `query Issue($id: String!) {
	issue(id: $id) {` + issueSelection + `}
}`

const issueListQuery = `query Issues($filter: IssueFilter, $first: Int!, $after: String, $includeArchived: Boolean) {
	issues(filter: $filter, first: $first, after: $after, includeArchived: $includeArchived) {
		nodes {` + issueSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const issueCreateMutation = `mutation CreateIssue($input: IssueCreateInput!) {
	issueCreate(input: $input) {
		success
		issue {` + issueSelection + `}
	}
}`

const issueUpdateMutation = `mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) {
		success
		issue {` + issueSelection + `}
	}
}`

const issueArchiveMutation = `mutation ArchiveIssue($id: String!) {
	issueArchive(id: $id) {
		success
	}
}`

// issueNode is the wire shape; relations arrive as nested connections.
type issueNode struct {
	ID          string                    `json:"id"`
	Identifier  string                    `json:"identifier"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	URL         string                    `json:"url"`
	Priority    int                       `json:"priority"`
	Estimate    *float64                  `json:"estimate"`
	State       *models.StateRef          `json:"state"`
	Team        *models.TeamRef           `json:"team"`
	Project     *models.ProjectRef        `json:"project"`
	Assignee    *models.UserRef           `json:"assignee"`
	Labels      nodeList[models.LabelRef] `json:"labels"`
	Parent      *models.IssueRef          `json:"parent"`
	Children    nodeList[models.IssueRef] `json:"children"`
	Comments    nodeList[models.Comment]  `json:"comments"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
	CompletedAt *time.Time                `json:"completedAt"`
	ArchivedAt  *time.Time                `json:"archivedAt"`
}

func (n *issueNode) toModel() *models.Issue {
	return &models.Issue{
		ID:          n.ID,
		Identifier:  n.Identifier,
		Title:       n.Title,
		Description: n.Description,
		URL:         n.URL,
		Priority:    n.Priority,
		Estimate:    n.Estimate,
		State:       n.State,
		Team:        n.Team,
		Project:     n.Project,
		Assignee:    n.Assignee,
		Labels:      n.Labels.Nodes,
		Parent:      n.Parent,
		Children:    n.Children.Nodes,
		Comments:    n.Comments.Nodes,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		CompletedAt: n.CompletedAt,
		ArchivedAt:  n.ArchivedAt,
	}
}

// IssueCreateInput carries the writable fields; nil optionals stay off the
// wire.
type IssueCreateInput struct {
	TeamID      string   `json:"teamId"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	Estimate    *float64 `json:"estimate,omitempty"`
	StateID     *string  `json:"stateId,omitempty"`
	AssigneeID  *string  `json:"assigneeId,omitempty"`
	ProjectID   *string  `json:"projectId,omitempty"`
	CycleID     *string  `json:"cycleId,omitempty"`
	ParentID    *string  `json:"parentId,omitempty"`
	LabelIDs    []string `json:"labelIds,omitempty"`
}

// IssueUpdateInput carries updatable fields; only non-nil fields are sent.
type IssueUpdateInput struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	Estimate    *float64 `json:"estimate,omitempty"`
	StateID     *string  `json:"stateId,omitempty"`
	AssigneeID  *string  `json:"assigneeId,omitempty"`
	ProjectID   *string  `json:"projectId,omitempty"`
	CycleID     *string  `json:"cycleId,omitempty"`
	ParentID    *string  `json:"parentId,omitempty"`
	LabelIDs    []string `json:"labelIds,omitempty"`
}

// IssueListOptions narrow and page the issue listing.
type IssueListOptions struct {
	TeamID          string
	ProjectID       string
	AssigneeID      string
	StateID         string
	IncludeArchived bool
	First           int
	After           string
}

func (o IssueListOptions) filter() map[string]interface{} {
	f := make(map[string]interface{})
	if o.TeamID != "" {
		f["team"] = map[string]interface{}{"id": eq(o.TeamID)}
	}
	if o.ProjectID != "" {
		f["project"] = map[string]interface{}{"id": eq(o.ProjectID)}
	}
	if o.AssigneeID != "" {
		f["assignee"] = map[string]interface{}{"id": eq(o.AssigneeID)}
	}
	if o.StateID != "" {
		f["state"] = map[string]interface{}{"id": eq(o.StateID)}
	}
	return f
}

// IssueClient covers the full issue lifecycle.
type IssueClient struct {
	svc *Service
}

// Create files a new issue.
func (c *IssueClient) Create(ctx context.Context, input IssueCreateInput) (*models.Issue, error) {
	if input.TeamID == "" {
		return nil, faults.Validation("/input/teamId", "teamId is required")
	}
	if input.Title == "" {
		return nil, faults.Validation("/input/title", "title is required")
	}
	var payload struct {
		IssueCreate struct {
			Success bool       `json:"success"`
			Issue   *issueNode `json:"issue"`
		} `json:"issueCreate"`
	}
	vars := map[string]interface{}{"input": input}
	if err := c.svc.client.ExecuteInto(ctx, issueCreateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("issue create", payload.IssueCreate.Success); err != nil {
		return nil, err
	}
	issue := payload.IssueCreate.Issue.toModel()
	c.svc.publish(models.ResourceIssue, ActionCreate, issue.ID)
	return issue, nil
}

// Update applies the non-nil fields of input to the issue.
func (c *IssueClient) Update(ctx context.Context, id string, input IssueUpdateInput) (*models.Issue, error) {
	var payload struct {
		IssueUpdate struct {
			Success bool       `json:"success"`
			Issue   *issueNode `json:"issue"`
		} `json:"issueUpdate"`
	}
	vars := map[string]interface{}{"id": id, "input": input}
	if err := c.svc.client.ExecuteInto(ctx, issueUpdateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("issue update", payload.IssueUpdate.Success); err != nil {
		return nil, err
	}
	issue := payload.IssueUpdate.Issue.toModel()
	c.svc.publish(models.ResourceIssue, ActionUpdate, issue.ID)
	return issue, nil
}

// Get fetches one issue by id.
func (c *IssueClient) Get(ctx context.Context, id string) (*models.Issue, error) {
	var payload struct {
		Issue *issueNode `json:"issue"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, issueGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.Issue == nil {
		return nil, faults.NotFound("issue", id)
	}
	return payload.Issue.toModel(), nil
}

// List returns one page of issues matching the options.
func (c *IssueClient) List(ctx context.Context, opts IssueListOptions) (*models.Page[models.Issue], error) {
	vars := map[string]interface{}{
		"filter":          opts.filter(),
		"includeArchived": opts.IncludeArchived,
	}
	page, err := listPage[issueNode](ctx, c.svc, issueListQuery, vars, "issues", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Issue]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Issue, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

// Archive moves the issue to the upstream's archive. The upstream treats
// this as the delete operation.
func (c *IssueClient) Archive(ctx context.Context, id string) error {
	var payload struct {
		IssueArchive struct {
			Success bool `json:"success"`
		} `json:"issueArchive"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, issueArchiveMutation, vars, &payload); err != nil {
		return err
	}
	if err := ensureSuccess("issue archive", payload.IssueArchive.Success); err != nil {
		return err
	}
	c.svc.publish(models.ResourceIssue, ActionArchive, id)
	return nil
}

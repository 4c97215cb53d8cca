package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const projectSelection = `
	id
	name
	description
	url
	state
	progress
	lead { id name displayName }
	teams { nodes { id name key } }
	startDate
	targetDate
	createdAt
	updatedAt
	archivedAt
`

const projectGetQuery = `query Project($id: String!) {
	project(id: $id) {` + projectSelection + `}
}`

const projectListQuery = `query Projects($filter: ProjectFilter, $first: Int!, $after: String, $includeArchived: Boolean) {
	projects(filter: $filter, first: $first, after: $after, includeArchived: $includeArchived) {
		nodes {` + projectSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const projectCreateMutation = `mutation CreateProject($input: ProjectCreateInput!) {
	projectCreate(input: $input) {
		success
		project {` + projectSelection + `}
	}
}`

const projectUpdateMutation = `mutation UpdateProject($id: String!, $input: ProjectUpdateInput!) {
	projectUpdate(id: $id, input: $input) {
		success
		project {` + projectSelection + `}
	}
}`

const projectArchiveMutation = `mutation ArchiveProject($id: String!) {
	projectArchive(id: $id) {
		success
	}
}`

type projectNode struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	URL         string                   `json:"url"`
	State       string                   `json:"state"`
	Progress    float64                  `json:"progress"`
	Lead        *models.UserRef          `json:"lead"`
	Teams       nodeList[models.TeamRef] `json:"teams"`
	StartDate   string                   `json:"startDate"`
	TargetDate  string                   `json:"targetDate"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
	ArchivedAt  *time.Time               `json:"archivedAt"`
}

func (n *projectNode) toModel() *models.Project {
	return &models.Project{
		ID:          n.ID,
		Name:        n.Name,
		Description: n.Description,
		URL:         n.URL,
		State:       n.State,
		Progress:    n.Progress,
		Lead:        n.Lead,
		Teams:       n.Teams.Nodes,
		StartDate:   n.StartDate,
		TargetDate:  n.TargetDate,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		ArchivedAt:  n.ArchivedAt,
	}
}

// ProjectCreateInput carries the writable project fields.
type ProjectCreateInput struct {
	Name        string   `json:"name"`
	TeamIDs     []string `json:"teamIds"`
	Description *string  `json:"description,omitempty"`
	LeadID      *string  `json:"leadId,omitempty"`
	State       *string  `json:"state,omitempty"`
	StartDate   *string  `json:"startDate,omitempty"`
	TargetDate  *string  `json:"targetDate,omitempty"`
}

// ProjectUpdateInput carries updatable fields; only non-nil fields are sent.
type ProjectUpdateInput struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	LeadID      *string  `json:"leadId,omitempty"`
	State       *string  `json:"state,omitempty"`
	StartDate   *string  `json:"startDate,omitempty"`
	TargetDate  *string  `json:"targetDate,omitempty"`
	TeamIDs     []string `json:"teamIds,omitempty"`
}

// ProjectListOptions narrow and page the project listing.
type ProjectListOptions struct {
	TeamID          string
	State           string
	IncludeArchived bool
	First           int
	After           string
}

func (o ProjectListOptions) filter() map[string]interface{} {
	f := make(map[string]interface{})
	if o.TeamID != "" {
		f["accessibleTeams"] = map[string]interface{}{"some": map[string]interface{}{"id": eq(o.TeamID)}}
	}
	if o.State != "" {
		f["state"] = eq(o.State)
	}
	return f
}

// ProjectClient covers the full project lifecycle.
type ProjectClient struct {
	svc *Service
}

func (c *ProjectClient) Create(ctx context.Context, input ProjectCreateInput) (*models.Project, error) {
	if input.Name == "" {
		return nil, faults.Validation("/input/name", "name is required")
	}
	if len(input.TeamIDs) == 0 {
		return nil, faults.Validation("/input/teamIds", "at least one team is required")
	}
	var payload struct {
		ProjectCreate struct {
			Success bool         `json:"success"`
			Project *projectNode `json:"project"`
		} `json:"projectCreate"`
	}
	vars := map[string]interface{}{"input": input}
	if err := c.svc.client.ExecuteInto(ctx, projectCreateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("project create", payload.ProjectCreate.Success); err != nil {
		return nil, err
	}
	project := payload.ProjectCreate.Project.toModel()
	c.svc.publish(models.ResourceProject, ActionCreate, project.ID)
	return project, nil
}

func (c *ProjectClient) Update(ctx context.Context, id string, input ProjectUpdateInput) (*models.Project, error) {
	var payload struct {
		ProjectUpdate struct {
			Success bool         `json:"success"`
			Project *projectNode `json:"project"`
		} `json:"projectUpdate"`
	}
	vars := map[string]interface{}{"id": id, "input": input}
	if err := c.svc.client.ExecuteInto(ctx, projectUpdateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("project update", payload.ProjectUpdate.Success); err != nil {
		return nil, err
	}
	project := payload.ProjectUpdate.Project.toModel()
	c.svc.publish(models.ResourceProject, ActionUpdate, project.ID)
	return project, nil
}

func (c *ProjectClient) Get(ctx context.Context, id string) (*models.Project, error) {
	var payload struct {
		Project *projectNode `json:"project"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, projectGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.Project == nil {
		return nil, faults.NotFound("project", id)
	}
	return payload.Project.toModel(), nil
}

func (c *ProjectClient) List(ctx context.Context, opts ProjectListOptions) (*models.Page[models.Project], error) {
	vars := map[string]interface{}{
		"filter":          opts.filter(),
		"includeArchived": opts.IncludeArchived,
	}
	page, err := listPage[projectNode](ctx, c.svc, projectListQuery, vars, "projects", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Project]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Project, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

func (c *ProjectClient) Archive(ctx context.Context, id string) error {
	var payload struct {
		ProjectArchive struct {
			Success bool `json:"success"`
		} `json:"projectArchive"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, projectArchiveMutation, vars, &payload); err != nil {
		return err
	}
	if err := ensureSuccess("project archive", payload.ProjectArchive.Success); err != nil {
		return err
	}
	c.svc.publish(models.ResourceProject, ActionArchive, id)
	return nil
}

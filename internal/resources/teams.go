package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const teamSelection = `
	id
	name
	key
	description
	private
	createdAt
	updatedAt
`

const teamGetQuery = `query Team($id: String!) {
	team(id: $id) {` + teamSelection + `}
}`

const teamListQuery = `query Teams($filter: TeamFilter, $first: Int!, $after: String) {
	teams(filter: $filter, first: $first, after: $after) {
		nodes {` + teamSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

type teamNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (n *teamNode) toModel() *models.Team {
	return &models.Team{
		ID:          n.ID,
		Name:        n.Name,
		Key:         n.Key,
		Description: n.Description,
		Private:     n.Private,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// TeamListOptions page the team listing; Key narrows to one team key.
type TeamListOptions struct {
	Key   string
	First int
	After string
}

func (o TeamListOptions) filter() map[string]interface{} {
	f := make(map[string]interface{})
	if o.Key != "" {
		f["key"] = eq(o.Key)
	}
	return f
}

// TeamClient reads teams; the upstream owns their lifecycle.
type TeamClient struct {
	svc *Service
}

func (c *TeamClient) Get(ctx context.Context, id string) (*models.Team, error) {
	var payload struct {
		Team *teamNode `json:"team"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, teamGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.Team == nil {
		return nil, faults.NotFound("team", id)
	}
	return payload.Team.toModel(), nil
}

func (c *TeamClient) List(ctx context.Context, opts TeamListOptions) (*models.Page[models.Team], error) {
	vars := map[string]interface{}{"filter": opts.filter()}
	page, err := listPage[teamNode](ctx, c.svc, teamListQuery, vars, "teams", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Team]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Team, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

// ResolveKey finds a team by its short key (e.g. "ENG").
func (c *TeamClient) ResolveKey(ctx context.Context, key string) (*models.Team, error) {
	page, err := c.List(ctx, TeamListOptions{Key: key, First: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Nodes) == 0 {
		return nil, faults.NotFound("team", key)
	}
	return &page.Nodes[0], nil
}

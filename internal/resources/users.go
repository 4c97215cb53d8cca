package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const userSelection = `
	id
	name
	displayName
	email
	active
	admin
	createdAt
	updatedAt
`

const userGetQuery = `query User($id: String!) {
	user(id: $id) {` + userSelection + `}
}`

const userListQuery = `query Users($filter: UserFilter, $first: Int!, $after: String) {
	users(filter: $filter, first: $first, after: $after) {
		nodes {` + userSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const viewerQuery = `query Viewer {
	viewer {` + userSelection + `}
}`

type userNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Active      bool      `json:"active"`
	Admin       bool      `json:"admin"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (n *userNode) toModel() *models.User {
	return &models.User{
		ID:          n.ID,
		Name:        n.Name,
		DisplayName: n.DisplayName,
		Email:       n.Email,
		Active:      n.Active,
		Admin:       n.Admin,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// UserListOptions page the user listing; ActiveOnly drops deactivated
// accounts.
type UserListOptions struct {
	ActiveOnly bool
	First      int
	After      string
}

func (o UserListOptions) filter() map[string]interface{} {
	f := make(map[string]interface{})
	if o.ActiveOnly {
		f["active"] = eq(true)
	}
	return f
}

// UserClient reads workspace members.
type UserClient struct {
	svc *Service
}

func (c *UserClient) Get(ctx context.Context, id string) (*models.User, error) {
	var payload struct {
		User *userNode `json:"user"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, userGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.User == nil {
		return nil, faults.NotFound("user", id)
	}
	return payload.User.toModel(), nil
}

func (c *UserClient) List(ctx context.Context, opts UserListOptions) (*models.Page[models.User], error) {
	vars := map[string]interface{}{"filter": opts.filter()}
	page, err := listPage[userNode](ctx, c.svc, userListQuery, vars, "users", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.User]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.User, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

// Viewer returns the account the configured credentials belong to. Doubles
// as the upstream connectivity probe.
func (c *UserClient) Viewer(ctx context.Context) (*models.User, error) {
	var payload struct {
		Viewer *userNode `json:"viewer"`
	}
	if err := c.svc.client.ExecuteInto(ctx, viewerQuery, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Viewer == nil {
		return nil, faults.Unauthorized("viewer unavailable for configured credentials")
	}
	return payload.Viewer.toModel(), nil
}

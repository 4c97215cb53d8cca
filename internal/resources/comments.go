package resources

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const commentSelection = `
	id
	body
	url
	user { id name displayName }
	issue { id identifier title }
	createdAt
	updatedAt
`

const commentGetQuery = `query Comment($id: String!) {
	comment(id: $id) {` + commentSelection + `}
}`

const commentListQuery = `query Comments($filter: CommentFilter, $first: Int!, $after: String) {
	comments(filter: $filter, first: $first, after: $after) {
		nodes {` + commentSelection + `}
		pageInfo { hasNextPage endCursor }
		totalCount
	}
}`

const commentCreateMutation = `mutation CreateComment($input: CommentCreateInput!) {
	commentCreate(input: $input) {
		success
		comment {` + commentSelection + `}
	}
}`

const commentUpdateMutation = `mutation UpdateComment($id: String!, $input: CommentUpdateInput!) {
	commentUpdate(id: $id, input: $input) {
		success
		comment {` + commentSelection + `}
	}
}`

const commentDeleteMutation = `mutation DeleteComment($id: String!) {
	commentDelete(id: $id) {
		success
	}
}`

type commentNode struct {
	ID        string           `json:"id"`
	Body      string           `json:"body"`
	URL       string           `json:"url"`
	User      *models.UserRef  `json:"user"`
	Issue     *models.IssueRef `json:"issue"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (n *commentNode) toModel() *models.Comment {
	return &models.Comment{
		ID:        n.ID,
		Body:      n.Body,
		URL:       n.URL,
		User:      n.User,
		Issue:     n.Issue,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// CommentCreateInput posts a comment on an issue.
type CommentCreateInput struct {
	IssueID  string  `json:"issueId"`
	Body     string  `json:"body"`
	ParentID *string `json:"parentId,omitempty"`
}

// CommentUpdateInput edits a comment body.
type CommentUpdateInput struct {
	Body string `json:"body"`
}

// CommentListOptions page comments for one issue.
type CommentListOptions struct {
	IssueID string
	First   int
	After   string
}

// CommentClient manages issue comments.
type CommentClient struct {
	svc *Service
}

func (c *CommentClient) Create(ctx context.Context, input CommentCreateInput) (*models.Comment, error) {
	if input.IssueID == "" {
		return nil, faults.Validation("/input/issueId", "issueId is required")
	}
	if input.Body == "" {
		return nil, faults.Validation("/input/body", "body is required")
	}
	var payload struct {
		CommentCreate struct {
			Success bool         `json:"success"`
			Comment *commentNode `json:"comment"`
		} `json:"commentCreate"`
	}
	vars := map[string]interface{}{"input": input}
	if err := c.svc.client.ExecuteInto(ctx, commentCreateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("comment create", payload.CommentCreate.Success); err != nil {
		return nil, err
	}
	comment := payload.CommentCreate.Comment.toModel()
	c.svc.publish(models.ResourceComment, ActionCreate, comment.ID)
	return comment, nil
}

func (c *CommentClient) Update(ctx context.Context, id string, input CommentUpdateInput) (*models.Comment, error) {
	if input.Body == "" {
		return nil, faults.Validation("/input/body", "body is required")
	}
	var payload struct {
		CommentUpdate struct {
			Success bool         `json:"success"`
			Comment *commentNode `json:"comment"`
		} `json:"commentUpdate"`
	}
	vars := map[string]interface{}{"id": id, "input": input}
	if err := c.svc.client.ExecuteInto(ctx, commentUpdateMutation, vars, &payload); err != nil {
		return nil, err
	}
	if err := ensureSuccess("comment update", payload.CommentUpdate.Success); err != nil {
		return nil, err
	}
	comment := payload.CommentUpdate.Comment.toModel()
	c.svc.publish(models.ResourceComment, ActionUpdate, comment.ID)
	return comment, nil
}

func (c *CommentClient) Get(ctx context.Context, id string) (*models.Comment, error) {
	var payload struct {
		Comment *commentNode `json:"comment"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, commentGetQuery, vars, &payload); err != nil {
		return nil, err
	}
	if payload.Comment == nil {
		return nil, faults.NotFound("comment", id)
	}
	return payload.Comment.toModel(), nil
}

// List pages the comments on one issue, newest last.
func (c *CommentClient) List(ctx context.Context, opts CommentListOptions) (*models.Page[models.Comment], error) {
	if opts.IssueID == "" {
		return nil, faults.Validation("/issueId", "issueId is required")
	}
	vars := map[string]interface{}{
		"filter": map[string]interface{}{
			"issue": map[string]interface{}{"id": eq(opts.IssueID)},
		},
	}
	page, err := listPage[commentNode](ctx, c.svc, commentListQuery, vars, "comments", opts.First, opts.After)
	if err != nil {
		return nil, err
	}
	out := &models.Page[models.Comment]{PageInfo: page.PageInfo, TotalCount: page.TotalCount}
	out.Nodes = make([]models.Comment, len(page.Nodes))
	for i := range page.Nodes {
		out.Nodes[i] = *page.Nodes[i].toModel()
	}
	return out, nil
}

func (c *CommentClient) Delete(ctx context.Context, id string) error {
	var payload struct {
		CommentDelete struct {
			Success bool `json:"success"`
		} `json:"commentDelete"`
	}
	vars := map[string]interface{}{"id": id}
	if err := c.svc.client.ExecuteInto(ctx, commentDeleteMutation, vars, &payload); err != nil {
		return err
	}
	if err := ensureSuccess("comment delete", payload.CommentDelete.Success); err != nil {
		return err
	}
	c.svc.publish(models.ResourceComment, ActionDelete, id)
	return nil
}

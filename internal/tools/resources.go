package tools

import (
	"context"
	"encoding/json"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/registry"
	"github.com/gantry-project/gantry/internal/resources"
	"github.com/gantry-project/gantry/internal/search"
	"github.com/gantry-project/gantry/internal/validation"
)

const maxPageSize = 100

// provider adapts one resource client to the registry verb set. Nil verbs
// are not advertised; the registry never routes to them.
type provider struct {
	rt     models.ResourceType
	list   registry.Handler
	get    registry.Handler
	create registry.Handler
	update registry.Handler
	remove registry.Handler
	query  registry.Handler
}

func (p *provider) Type() models.ResourceType { return p.rt }

func (p *provider) SupportedOps() []registry.Operation {
	ops := make([]registry.Operation, 0, 6)
	for _, c := range []struct {
		op registry.Operation
		h  registry.Handler
	}{
		{registry.OpList, p.list},
		{registry.OpGet, p.get},
		{registry.OpCreate, p.create},
		{registry.OpUpdate, p.update},
		{registry.OpDelete, p.remove},
		{registry.OpQuery, p.query},
	} {
		if c.h != nil {
			ops = append(ops, c.op)
		}
	}
	return ops
}

func (p *provider) List(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpList, p.list, params)
}

func (p *provider) Get(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpGet, p.get, params)
}

func (p *provider) Create(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpCreate, p.create, params)
}

func (p *provider) Update(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpUpdate, p.update, params)
}

func (p *provider) Delete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpDelete, p.remove, params)
}

func (p *provider) Query(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return p.call(ctx, registry.OpQuery, p.query, params)
}

func (p *provider) call(ctx context.Context, op registry.Operation, h registry.Handler, params json.RawMessage) (interface{}, error) {
	if h == nil {
		return nil, faults.Validation("/method", "%s does not support %s", p.rt, op)
	}
	return h(ctx, params)
}

type idParams struct {
	ID string `json:"id"`
}

func decodeID(params json.RawMessage) (string, error) {
	var p idParams
	if err := decode(params, &p); err != nil {
		return "", err
	}
	return validation.Required("/params/id", p.ID, validation.MaxShortText)
}

func byID(fn func(context.Context, string) (interface{}, error)) registry.Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		id, err := decodeID(params)
		if err != nil {
			return nil, err
		}
		return fn(ctx, id)
	}
}

// scopedQuery runs the search pipeline pinned to one resource type so
// <resource>.query shares the engine's cache and scoring.
func scopedQuery(engine *search.Engine, rt models.ResourceType) registry.Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var q models.SearchQuery
		if err := decode(params, &q); err != nil {
			return nil, err
		}
		q.ResourceTypes = []models.ResourceType{rt}
		return engine.Search(ctx, &q)
	}
}

func pageSize(n int) (int, error) {
	return validation.Limit("/params/first", n, 0, maxPageSize)
}

type issueListParams struct {
	TeamID          string `json:"teamId,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	AssigneeID      string `json:"assigneeId,omitempty"`
	StateID         string `json:"stateId,omitempty"`
	IncludeArchived bool   `json:"includeArchived,omitempty"`
	First           int    `json:"first,omitempty"`
	After           string `json:"after,omitempty"`
}

type issueUpdateParams struct {
	ID    string                     `json:"id"`
	Input resources.IssueUpdateInput `json:"input"`
}

// NewIssueProvider serves the full verb set for issues. Delete archives, the
// upstream has no hard delete for issues.
func NewIssueProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceIssue,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p issueListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Issues.List(ctx, resources.IssueListOptions{
				TeamID:          p.TeamID,
				ProjectID:       p.ProjectID,
				AssigneeID:      p.AssigneeID,
				StateID:         p.StateID,
				IncludeArchived: p.IncludeArchived,
				First:           first,
				After:           p.After,
			})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Issues.Get(ctx, id)
		}),
		create: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var input resources.IssueCreateInput
			if err := decode(params, &input); err != nil {
				return nil, err
			}
			return svc.Issues.Create(ctx, input)
		},
		update: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p issueUpdateParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			id, err := validation.Required("/params/id", p.ID, validation.MaxShortText)
			if err != nil {
				return nil, err
			}
			return svc.Issues.Update(ctx, id, p.Input)
		},
		remove: byID(func(ctx context.Context, id string) (interface{}, error) {
			if err := svc.Issues.Archive(ctx, id); err != nil {
				return nil, err
			}
			return map[string]bool{"archived": true}, nil
		}),
		query: scopedQuery(engine, models.ResourceIssue),
	}
}

type projectListParams struct {
	TeamID          string `json:"teamId,omitempty"`
	State           string `json:"state,omitempty"`
	IncludeArchived bool   `json:"includeArchived,omitempty"`
	First           int    `json:"first,omitempty"`
	After           string `json:"after,omitempty"`
}

type projectUpdateParams struct {
	ID    string                       `json:"id"`
	Input resources.ProjectUpdateInput `json:"input"`
}

func NewProjectProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceProject,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p projectListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Projects.List(ctx, resources.ProjectListOptions{
				TeamID:          p.TeamID,
				State:           p.State,
				IncludeArchived: p.IncludeArchived,
				First:           first,
				After:           p.After,
			})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Projects.Get(ctx, id)
		}),
		create: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var input resources.ProjectCreateInput
			if err := decode(params, &input); err != nil {
				return nil, err
			}
			return svc.Projects.Create(ctx, input)
		},
		update: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p projectUpdateParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			id, err := validation.Required("/params/id", p.ID, validation.MaxShortText)
			if err != nil {
				return nil, err
			}
			return svc.Projects.Update(ctx, id, p.Input)
		},
		remove: byID(func(ctx context.Context, id string) (interface{}, error) {
			if err := svc.Projects.Archive(ctx, id); err != nil {
				return nil, err
			}
			return map[string]bool{"archived": true}, nil
		}),
		query: scopedQuery(engine, models.ResourceProject),
	}
}

type teamListParams struct {
	Key   string `json:"key,omitempty"`
	First int    `json:"first,omitempty"`
	After string `json:"after,omitempty"`
}

func NewTeamProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceTeam,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p teamListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Teams.List(ctx, resources.TeamListOptions{Key: p.Key, First: first, After: p.After})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Teams.Get(ctx, id)
		}),
		query: scopedQuery(engine, models.ResourceTeam),
	}
}

type userListParams struct {
	ActiveOnly bool   `json:"activeOnly,omitempty"`
	First      int    `json:"first,omitempty"`
	After      string `json:"after,omitempty"`
}

func NewUserProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceUser,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p userListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Users.List(ctx, resources.UserListOptions{ActiveOnly: p.ActiveOnly, First: first, After: p.After})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Users.Get(ctx, id)
		}),
		query: scopedQuery(engine, models.ResourceUser),
	}
}

type commentListParams struct {
	IssueID string `json:"issueId"`
	First   int    `json:"first,omitempty"`
	After   string `json:"after,omitempty"`
}

type commentUpdateParams struct {
	ID    string                       `json:"id"`
	Input resources.CommentUpdateInput `json:"input"`
}

func NewCommentProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceComment,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p commentListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Comments.List(ctx, resources.CommentListOptions{IssueID: p.IssueID, First: first, After: p.After})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Comments.Get(ctx, id)
		}),
		create: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var input resources.CommentCreateInput
			if err := decode(params, &input); err != nil {
				return nil, err
			}
			return svc.Comments.Create(ctx, input)
		},
		update: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p commentUpdateParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			id, err := validation.Required("/params/id", p.ID, validation.MaxShortText)
			if err != nil {
				return nil, err
			}
			return svc.Comments.Update(ctx, id, p.Input)
		},
		remove: byID(func(ctx context.Context, id string) (interface{}, error) {
			if err := svc.Comments.Delete(ctx, id); err != nil {
				return nil, err
			}
			return map[string]bool{"deleted": true}, nil
		}),
		query: scopedQuery(engine, models.ResourceComment),
	}
}

type labelListParams struct {
	TeamID string `json:"teamId,omitempty"`
	First  int    `json:"first,omitempty"`
	After  string `json:"after,omitempty"`
}

type labelUpdateParams struct {
	ID    string                     `json:"id"`
	Input resources.LabelUpdateInput `json:"input"`
}

func NewLabelProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceLabel,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p labelListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			first, err := pageSize(p.First)
			if err != nil {
				return nil, err
			}
			return svc.Labels.List(ctx, resources.LabelListOptions{TeamID: p.TeamID, First: first, After: p.After})
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Labels.Get(ctx, id)
		}),
		create: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var input resources.LabelCreateInput
			if err := decode(params, &input); err != nil {
				return nil, err
			}
			return svc.Labels.Create(ctx, input)
		},
		update: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p labelUpdateParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			id, err := validation.Required("/params/id", p.ID, validation.MaxShortText)
			if err != nil {
				return nil, err
			}
			return svc.Labels.Update(ctx, id, p.Input)
		},
		remove: byID(func(ctx context.Context, id string) (interface{}, error) {
			if err := svc.Labels.Delete(ctx, id); err != nil {
				return nil, err
			}
			return map[string]bool{"deleted": true}, nil
		}),
		query: scopedQuery(engine, models.ResourceLabel),
	}
}

type teamScopedListParams struct {
	TeamID string `json:"teamId,omitempty"`
	First  int    `json:"first,omitempty"`
	After  string `json:"after,omitempty"`
}

func (p teamScopedListParams) options() (resources.TeamScopedListOptions, error) {
	first, err := pageSize(p.First)
	if err != nil {
		return resources.TeamScopedListOptions{}, err
	}
	return resources.TeamScopedListOptions{TeamID: p.TeamID, First: first, After: p.After}, nil
}

func NewCycleProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceCycle,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p teamScopedListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			opts, err := p.options()
			if err != nil {
				return nil, err
			}
			return svc.Cycles.List(ctx, opts)
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.Cycles.Get(ctx, id)
		}),
		query: scopedQuery(engine, models.ResourceCycle),
	}
}

func NewWorkflowStateProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceWorkflowState,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p teamScopedListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			opts, err := p.options()
			if err != nil {
				return nil, err
			}
			return svc.WorkflowStates.List(ctx, opts)
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.WorkflowStates.Get(ctx, id)
		}),
		query: scopedQuery(engine, models.ResourceWorkflowState),
	}
}

func NewCustomFieldProvider(svc *resources.Service, engine *search.Engine) registry.ResourceProvider {
	return &provider{
		rt: models.ResourceCustomField,
		list: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p teamScopedListParams
			if err := decode(params, &p); err != nil {
				return nil, err
			}
			opts, err := p.options()
			if err != nil {
				return nil, err
			}
			return svc.CustomFields.List(ctx, opts)
		},
		get: byID(func(ctx context.Context, id string) (interface{}, error) {
			return svc.CustomFields.Get(ctx, id)
		}),
		query: scopedQuery(engine, models.ResourceCustomField),
	}
}

// RegisterAll wires every resource provider and both tools into the registry.
func RegisterAll(reg *registry.Registry, svc *resources.Service, engine *search.Engine, searchTool *SearchTool, convertTool *ConvertTool) error {
	providers := []registry.ResourceProvider{
		NewIssueProvider(svc, engine),
		NewProjectProvider(svc, engine),
		NewTeamProvider(svc, engine),
		NewUserProvider(svc, engine),
		NewCommentProvider(svc, engine),
		NewLabelProvider(svc, engine),
		NewCycleProvider(svc, engine),
		NewWorkflowStateProvider(svc, engine),
		NewCustomFieldProvider(svc, engine),
	}
	for _, p := range providers {
		if err := reg.RegisterResource(p); err != nil {
			return err
		}
	}
	if err := reg.RegisterTool(searchTool); err != nil {
		return err
	}
	return reg.RegisterTool(convertTool)
}

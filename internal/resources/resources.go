// Package resources exposes one typed client per upstream resource type.
// Clients assemble GraphQL documents with fixed canonical selections, send
// them through the upstream transport, and map payload-level failures onto
// the fault taxonomy: a mutation acknowledging success=false is an upstream
// fault, a null get-by-id is not-found.
package resources

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/upstream"
)

// Mutation actions reported to the change publisher.
const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionArchive   = "archive"
	ActionUnarchive = "unarchive"
	ActionDelete    = "delete"
)

// ChangePublisher receives a notification after every successful mutation.
// The event bus implements it; the search engine subscribes to invalidate
// cached responses for the mutated type.
type ChangePublisher interface {
	PublishResourceChange(rt models.ResourceType, action, id string)
}

// Service bundles the per-type clients over one upstream transport.
type Service struct {
	Issues         *IssueClient
	Projects       *ProjectClient
	Teams          *TeamClient
	Users          *UserClient
	Comments       *CommentClient
	Labels         *LabelClient
	Cycles         *CycleClient
	WorkflowStates *WorkflowStateClient
	CustomFields   *CustomFieldClient
	Metadata       *MetadataCache

	client      *upstream.Client
	logger      *zap.Logger
	pub         ChangePublisher
	metadataTTL time.Duration
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithPublisher wires mutation notifications into an event bus.
func WithPublisher(pub ChangePublisher) ServiceOption {
	return func(s *Service) { s.pub = pub }
}

// WithMetadataTTL overrides the team-metadata cache lifetime.
func WithMetadataTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.metadataTTL = ttl }
}

// NewService builds the client set.
func NewService(client *upstream.Client, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		client:      client,
		logger:      logger,
		metadataTTL: defaultMetadataTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Issues = &IssueClient{svc: s}
	s.Projects = &ProjectClient{svc: s}
	s.Teams = &TeamClient{svc: s}
	s.Users = &UserClient{svc: s}
	s.Comments = &CommentClient{svc: s}
	s.Labels = &LabelClient{svc: s}
	s.Cycles = &CycleClient{svc: s}
	s.WorkflowStates = &WorkflowStateClient{svc: s}
	s.CustomFields = &CustomFieldClient{svc: s}
	s.Metadata = newMetadataCache(s, s.metadataTTL)
	return s
}

func (s *Service) publish(rt models.ResourceType, action, id string) {
	if s.pub == nil {
		return
	}
	s.pub.PublishResourceChange(rt, action, id)
	s.logger.Debug("Resource changed",
		zap.String("resource_type", string(rt)),
		zap.String("action", action),
		zap.String("id", id),
	)
}

// ensureSuccess maps a mutation's acknowledged failure onto the fault
// taxonomy. The HTTP exchange succeeded, so the status is 200.
func ensureSuccess(op string, ok bool) error {
	if ok {
		return nil
	}
	return faults.Upstream(http.StatusOK, "%s reported unsuccessful", op)
}

// nodeList unwraps the upstream's nested connection shape for relations
// embedded in a resource selection.
type nodeList[T any] struct {
	Nodes []T `json:"nodes"`
}

// eq builds the upstream's single-value equality filter leaf.
func eq(v interface{}) map[string]interface{} {
	return map[string]interface{}{"eq": v}
}

// listPage fetches one page of a connection and decodes its nodes. An empty
// after cursor starts from the beginning.
func listPage[T any](ctx context.Context, s *Service, doc string, vars map[string]interface{}, path string, first int, after string) (*models.Page[T], error) {
	pager := s.client.Paginate(doc, vars, path, first)
	if after != "" {
		pager.Reset(after)
	}
	conn, err := pager.Next(ctx)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return &models.Page[T]{}, nil
	}
	nodes, err := upstream.UnmarshalNodes[T](conn.Nodes)
	if err != nil {
		return nil, err
	}
	return &models.Page[T]{Nodes: nodes, PageInfo: conn.PageInfo, TotalCount: conn.TotalCount}, nil
}

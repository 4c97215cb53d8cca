package resources

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const (
	metadataCacheSize  = 128
	defaultMetadataTTL = 10 * time.Minute
	metadataPageSize   = 100
)

// MetadataCache keeps per-team workflow states and labels warm. Update
// flows and the feature-list converter resolve names to ids through it
// without re-fetching on every call.
type MetadataCache struct {
	svc    *Service
	states *expirable.LRU[string, []models.WorkflowState]
	labels *expirable.LRU[string, []models.Label]
}

func newMetadataCache(svc *Service, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &MetadataCache{
		svc:    svc,
		states: expirable.NewLRU[string, []models.WorkflowState](metadataCacheSize, nil, ttl),
		labels: expirable.NewLRU[string, []models.Label](metadataCacheSize, nil, ttl),
	}
}

// TeamStates returns every workflow state of a team, position-ordered.
func (m *MetadataCache) TeamStates(ctx context.Context, teamID string) ([]models.WorkflowState, error) {
	if cached, ok := m.states.Get(teamID); ok {
		return cached, nil
	}
	var all []models.WorkflowState
	after := ""
	for {
		page, err := m.svc.WorkflowStates.List(ctx, TeamScopedListOptions{TeamID: teamID, First: metadataPageSize, After: after})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Nodes...)
		if !page.PageInfo.HasNextPage {
			break
		}
		after = page.PageInfo.EndCursor
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Position < all[j].Position })
	m.states.Add(teamID, all)
	return all, nil
}

// TeamLabels returns every label visible to a team.
func (m *MetadataCache) TeamLabels(ctx context.Context, teamID string) ([]models.Label, error) {
	if cached, ok := m.labels.Get(teamID); ok {
		return cached, nil
	}
	var all []models.Label
	after := ""
	for {
		page, err := m.svc.Labels.List(ctx, LabelListOptions{TeamID: teamID, First: metadataPageSize, After: after})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Nodes...)
		if !page.PageInfo.HasNextPage {
			break
		}
		after = page.PageInfo.EndCursor
	}
	m.labels.Add(teamID, all)
	return all, nil
}

// StateForType picks the team's first state of the given type in position
// order ("unstarted", "started", "completed", ...).
func (m *MetadataCache) StateForType(ctx context.Context, teamID, stateType string) (*models.WorkflowState, error) {
	states, err := m.TeamStates(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range states {
		if states[i].Type == stateType {
			return &states[i], nil
		}
	}
	return nil, faults.NotFound("workflowState", stateType)
}

// StateByName resolves a state by its display name, case-insensitively.
func (m *MetadataCache) StateByName(ctx context.Context, teamID, name string) (*models.WorkflowState, error) {
	states, err := m.TeamStates(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range states {
		if strings.EqualFold(states[i].Name, name) {
			return &states[i], nil
		}
	}
	return nil, faults.NotFound("workflowState", name)
}

// EnsureLabel returns the team's label with the given name, creating it
// when absent.
func (m *MetadataCache) EnsureLabel(ctx context.Context, teamID, name string) (*models.Label, error) {
	labels, err := m.TeamLabels(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range labels {
		if strings.EqualFold(labels[i].Name, name) {
			return &labels[i], nil
		}
	}
	input := LabelCreateInput{Name: name}
	if teamID != "" {
		input.TeamID = &teamID
	}
	return m.svc.Labels.Create(ctx, input)
}

// InvalidateTeam drops both cached collections for one team.
func (m *MetadataCache) InvalidateTeam(teamID string) {
	m.states.Remove(teamID)
	m.labels.Remove(teamID)
}

func (m *MetadataCache) invalidateLabels(teamID *string) {
	if teamID == nil {
		m.labels.Purge()
		return
	}
	m.labels.Remove(*teamID)
}

package featurelist

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/resources"
)

// Options steer one conversion. Exactly one of TeamID and TeamKey selects
// the target team; DryRun resolves everything it can without writing.
type Options struct {
	TeamID          string
	TeamKey         string
	ProjectID       string
	DryRun          bool
	DefaultPriority *int
}

// CreatedIssue records one issue the converter created.
type CreatedIssue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
}

// Failure records one feature the converter could not create. Path points
// into the parsed document.
type Failure struct {
	Path   string `json:"path"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Result is the outcome of a conversion. Failures do not abort the run;
// children of a failed parent are counted in Skipped because they have no
// parent to attach to.
type Result struct {
	TeamID   string                       `json:"teamId"`
	TeamKey  string                       `json:"teamKey,omitempty"`
	Parsed   int                          `json:"parsed"`
	Created  []CreatedIssue               `json:"created,omitempty"`
	Planned  []resources.IssueCreateInput `json:"planned,omitempty"`
	Failures []Failure                    `json:"failures,omitempty"`
	Skipped  int                          `json:"skipped,omitempty"`
	Warnings []string                     `json:"warnings,omitempty"`
	DryRun   bool                         `json:"dryRun,omitempty"`
}

// Converter turns parsed feature lists into tracker issues.
type Converter struct {
	svc    *resources.Service
	logger *zap.Logger
}

func NewConverter(svc *resources.Service, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{svc: svc, logger: logger.Named("featurelist")}
}

// ConvertText parses content in the given format and converts it.
func (c *Converter) ConvertText(ctx context.Context, content string, format Format, opts Options) (*Result, error) {
	doc, err := Parse(content, format)
	if err != nil {
		return nil, err
	}
	return c.Convert(ctx, doc, opts)
}

// Convert creates one issue per feature, depth first so children can point
// at their parent. Per-feature errors are collected rather than fatal;
// context cancellation stops the walk and returns the partial result
// alongside the error.
func (c *Converter) Convert(ctx context.Context, doc *Document, opts Options) (*Result, error) {
	team, err := c.resolveTeam(ctx, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{
		TeamID:  team.ID,
		TeamKey: team.Key,
		Parsed:  doc.Count(),
		DryRun:  opts.DryRun,
	}
	w := &walk{
		conv: c,
		opts: opts,
		team: team,
		res:  res,
	}
	err = w.features(ctx, doc.Features, "/features", "")
	c.logger.Info("feature list converted",
		zap.String("team", team.Key),
		zap.Int("parsed", res.Parsed),
		zap.Int("created", len(res.Created)),
		zap.Int("planned", len(res.Planned)),
		zap.Int("failed", len(res.Failures)),
		zap.Bool("dry_run", opts.DryRun))
	return res, err
}

func (c *Converter) resolveTeam(ctx context.Context, opts Options) (*models.Team, error) {
	switch {
	case opts.TeamID != "":
		return c.svc.Teams.Get(ctx, opts.TeamID)
	case opts.TeamKey != "":
		return c.svc.Teams.ResolveKey(ctx, opts.TeamKey)
	default:
		return nil, faults.Validation("/teamId", "either teamId or teamKey is required")
	}
}

// walk carries the mutable state of one conversion: lazily resolved
// completed state and the lazily built assignee index.
type walk struct {
	conv *Converter
	opts Options
	team *models.Team
	res  *Result

	completed  *models.WorkflowState
	userIndex  map[string]string
	labelsSeen map[string]string
}

func (w *walk) features(ctx context.Context, fs []Feature, base, parentID string) error {
	for i := range fs {
		if f := faults.FromContext(ctx); f != nil {
			return f
		}
		path := fmt.Sprintf("%s/%d", base, i)
		id, err := w.one(ctx, &fs[i], path, parentID)
		if err != nil {
			w.res.Failures = append(w.res.Failures, Failure{
				Path:   path,
				Title:  fs[i].Title,
				Reason: err.Error(),
			})
			w.res.Skipped += countFeatures(fs[i].Children)
			continue
		}
		if err := w.features(ctx, fs[i].Children, path+"/children", id); err != nil {
			return err
		}
	}
	return nil
}

// one builds and submits a single issue, returning its ID for child linkage.
// In dry-run mode it returns an empty ID and records the resolved input.
func (w *walk) one(ctx context.Context, f *Feature, path, parentID string) (string, error) {
	input := resources.IssueCreateInput{
		TeamID: w.team.ID,
		Title:  f.Title,
	}
	if f.Description != "" {
		d := f.Description
		input.Description = &d
	}
	if p := w.priority(f); p != nil {
		input.Priority = p
	}
	if w.opts.ProjectID != "" {
		pid := w.opts.ProjectID
		input.ProjectID = &pid
	}
	if parentID != "" {
		input.ParentID = &parentID
	}
	if f.Done {
		state, err := w.completedState(ctx)
		if err != nil {
			return "", err
		}
		input.StateID = &state.ID
	}
	if f.Assignee != "" {
		if id, err := w.assignee(ctx, f.Assignee); err != nil {
			return "", err
		} else if id != "" {
			input.AssigneeID = &id
		} else {
			w.warnf("%s: no user matches assignee %q, leaving unassigned", path, f.Assignee)
		}
	}
	for _, name := range f.Labels {
		id, err := w.label(ctx, name, path)
		if err != nil {
			return "", err
		}
		if id != "" {
			input.LabelIDs = append(input.LabelIDs, id)
		}
	}

	if w.opts.DryRun {
		w.res.Planned = append(w.res.Planned, input)
		return "", nil
	}
	issue, err := w.conv.svc.Issues.Create(ctx, input)
	if err != nil {
		return "", err
	}
	w.res.Created = append(w.res.Created, CreatedIssue{
		ID:         issue.ID,
		Identifier: issue.Identifier,
		Title:      issue.Title,
		URL:        issue.URL,
		ParentID:   parentID,
	})
	return issue.ID, nil
}

func (w *walk) priority(f *Feature) *int {
	if f.Priority != nil {
		return f.Priority
	}
	return w.opts.DefaultPriority
}

func (w *walk) completedState(ctx context.Context) (*models.WorkflowState, error) {
	if w.completed != nil {
		return w.completed, nil
	}
	state, err := w.conv.svc.Metadata.StateForType(ctx, w.team.ID, "completed")
	if err != nil {
		return nil, err
	}
	w.completed = state
	return state, nil
}

// label resolves a label name to an ID, creating it when missing. Dry runs
// never create; an absent label becomes a warning instead.
func (w *walk) label(ctx context.Context, name, path string) (string, error) {
	key := strings.ToLower(name)
	if id, ok := w.labelsSeen[key]; ok {
		return id, nil
	}
	if w.labelsSeen == nil {
		w.labelsSeen = make(map[string]string)
	}
	if w.opts.DryRun {
		existing, err := w.conv.svc.Metadata.TeamLabels(ctx, w.team.ID)
		if err != nil {
			return "", err
		}
		for i := range existing {
			if strings.EqualFold(existing[i].Name, name) {
				w.labelsSeen[key] = existing[i].ID
				return existing[i].ID, nil
			}
		}
		w.warnf("%s: label %q does not exist and would be created", path, name)
		w.labelsSeen[key] = ""
		return "", nil
	}
	label, err := w.conv.svc.Metadata.EnsureLabel(ctx, w.team.ID, name)
	if err != nil {
		return "", err
	}
	w.labelsSeen[key] = label.ID
	return label.ID, nil
}

// assignee matches an @annotation against member names, display names, and
// email local parts, case insensitively. The index is built once per run.
func (w *walk) assignee(ctx context.Context, name string) (string, error) {
	if w.userIndex == nil {
		idx, err := w.buildUserIndex(ctx)
		if err != nil {
			return "", err
		}
		w.userIndex = idx
	}
	return w.userIndex[strings.ToLower(name)], nil
}

func (w *walk) buildUserIndex(ctx context.Context) (map[string]string, error) {
	idx := make(map[string]string)
	after := ""
	for {
		page, err := w.conv.svc.Users.List(ctx, resources.UserListOptions{
			ActiveOnly: true,
			First:      100,
			After:      after,
		})
		if err != nil {
			return nil, err
		}
		for i := range page.Nodes {
			u := &page.Nodes[i]
			for _, key := range userKeys(u) {
				if _, taken := idx[key]; !taken {
					idx[key] = u.ID
				}
			}
		}
		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			return idx, nil
		}
		after = page.PageInfo.EndCursor
	}
}

func userKeys(u *models.User) []string {
	keys := make([]string, 0, 3)
	if u.Name != "" {
		keys = append(keys, strings.ToLower(u.Name))
	}
	if u.DisplayName != "" {
		keys = append(keys, strings.ToLower(u.DisplayName))
	}
	if u.Email != "" {
		keys = append(keys, strings.ToLower(u.Email))
		if at := strings.IndexByte(u.Email, '@'); at > 0 {
			keys = append(keys, strings.ToLower(u.Email[:at]))
		}
	}
	return keys
}

func (w *walk) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	w.res.Warnings = append(w.res.Warnings, msg)
	w.conv.logger.Warn(msg)
}

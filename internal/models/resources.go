package models

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType identifies a domain entity class mirrored from the upstream
// tracker. The server never persists these; it mirrors and caches them.
type ResourceType string

const (
	ResourceIssue         ResourceType = "issue"
	ResourceProject       ResourceType = "project"
	ResourceTeam          ResourceType = "team"
	ResourceUser          ResourceType = "user"
	ResourceComment       ResourceType = "comment"
	ResourceLabel         ResourceType = "label"
	ResourceCycle         ResourceType = "cycle"
	ResourceWorkflowState ResourceType = "workflowState"
	ResourceCustomField   ResourceType = "customField"
)

// AllResourceTypes lists every type the server mirrors, in stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceIssue,
		ResourceProject,
		ResourceTeam,
		ResourceUser,
		ResourceComment,
		ResourceLabel,
		ResourceCycle,
		ResourceWorkflowState,
		ResourceCustomField,
	}
}

// ParseResourceType resolves a case-insensitive type name.
func ParseResourceType(s string) (ResourceType, error) {
	for _, rt := range AllResourceTypes() {
		if strings.EqualFold(string(rt), s) {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// Reference shapes embedded in full resources.

type StateRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Color string `json:"color,omitempty"`
}

type UserRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

type ProjectRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
}

type IssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	Title      string `json:"title,omitempty"`
}

type LabelRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Issue is the canonical issue projection used by resource operations.
type Issue struct {
	ID          string      `json:"id"`
	Identifier  string      `json:"identifier"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Priority    int         `json:"priority"`
	Estimate    *float64    `json:"estimate,omitempty"`
	State       *StateRef   `json:"state,omitempty"`
	Team        *TeamRef    `json:"team,omitempty"`
	Project     *ProjectRef `json:"project,omitempty"`
	Assignee    *UserRef    `json:"assignee,omitempty"`
	Labels      []LabelRef  `json:"labels,omitempty"`
	Parent      *IssueRef   `json:"parent,omitempty"`
	Children    []IssueRef  `json:"children,omitempty"`
	Comments    []Comment   `json:"comments,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	ArchivedAt  *time.Time  `json:"archivedAt,omitempty"`
}

type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	State       string     `json:"state,omitempty"`
	Progress    float64    `json:"progress,omitempty"`
	Lead        *UserRef   `json:"lead,omitempty"`
	Teams       []TeamRef  `json:"teams,omitempty"`
	StartDate   string     `json:"startDate,omitempty"`
	TargetDate  string     `json:"targetDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Private     bool      `json:"private,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Active      bool      `json:"active"`
	Admin       bool      `json:"admin,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	User      *UserRef  `json:"user,omitempty"`
	Issue     *IssueRef `json:"issue,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Label struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color,omitempty"`
	Description string    `json:"description,omitempty"`
	Team        *TeamRef  `json:"team,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Cycle struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Name      string    `json:"name,omitempty"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Progress  float64   `json:"progress,omitempty"`
	Team      *TeamRef  `json:"team,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WorkflowState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Color     string    `json:"color,omitempty"`
	Position  float64   `json:"position,omitempty"`
	Team      *TeamRef  `json:"team,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CustomField struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type,omitempty"`
	Team      *TeamRef  `json:"team,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PageInfo mirrors the upstream relay-style pagination block.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor,omitempty"`
}

// Page carries one page of typed nodes.
type Page[T any] struct {
	Nodes      []T      `json:"nodes"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount,omitempty"`
}

package search

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-project/gantry/internal/models"
)

func TestProjectIssueNode(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "iss_1", "identifier": "ENG-1", "title": "Login fails",
		"description": "Repro on mobile", "url": "https://tracker.test/ENG-1",
		"priority": 2, "estimate": 3.5,
		"state": {"id": "st_1", "name": "In Progress", "type": "started"},
		"team": {"id": "team_1", "name": "Engineering", "key": "ENG"},
		"assignee": {"id": "usr_1", "name": "Alex"},
		"createdAt": "2024-03-01T10:00:00Z", "updatedAt": "2024-03-02T09:30:00Z"
	}`)

	r, err := projectNode(models.ResourceIssue, raw)
	require.NoError(t, err)

	assert.Equal(t, "iss_1", r.ID)
	assert.Equal(t, models.ResourceIssue, r.ResourceType)
	assert.Equal(t, "Login fails", r.Title)
	assert.Equal(t, "Repro on mobile", r.Description)
	assert.Equal(t, "ENG-1", r.Identifier)
	assert.Equal(t, "ENG", r.Team)
	assert.Equal(t, "2024-03-01T10:00:00Z", r.CreatedAt)
	assert.Equal(t, float64(2), r.AdditionalData["priority"])
	assert.Equal(t, 3.5, r.AdditionalData["estimate"])
	assert.Equal(t, "In Progress", r.AdditionalData["state"])
	assert.Equal(t, "started", r.AdditionalData["stateType"])
	assert.Equal(t, "Alex", r.AdditionalData["assignee"])
}

func TestProjectIssueNodeSkipsAbsentRelations(t *testing.T) {
	raw := json.RawMessage(`{"id":"iss_1","identifier":"ENG-1","title":"Bare","createdAt":"2024-03-01T10:00:00Z","updatedAt":"2024-03-01T10:00:00Z"}`)

	r, err := projectNode(models.ResourceIssue, raw)
	require.NoError(t, err)

	assert.Empty(t, r.Team)
	assert.NotContains(t, r.AdditionalData, "state")
	assert.NotContains(t, r.AdditionalData, "assignee")
	assert.NotContains(t, r.AdditionalData, "project")
}

func TestProjectCommentNode(t *testing.T) {
	body := strings.Repeat("the quick brown fox jumps over the lazy dog ", 4)
	raw, err := json.Marshal(map[string]interface{}{
		"id":        "cmt_1",
		"body":      body,
		"user":      map[string]interface{}{"id": "usr_1", "name": "Sam"},
		"issue":     map[string]interface{}{"id": "iss_1", "identifier": "ENG-1"},
		"createdAt": "2024-03-01T11:00:00Z",
		"updatedAt": "2024-03-01T11:00:00Z",
	})
	require.NoError(t, err)

	r, err := projectNode(models.ResourceComment, raw)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(r.Title, "..."))
	assert.LessOrEqual(t, len(r.Title), commentTitleLength+3)
	assert.Equal(t, body, r.Description)
	assert.Equal(t, "Sam", r.AdditionalData["author"])
	assert.Equal(t, "ENG-1", r.AdditionalData["issue"])
}

func TestProjectTeamNodeUsesKeyAsIdentifier(t *testing.T) {
	raw := json.RawMessage(`{"id":"team_1","name":"Engineering","key":"ENG","private":true,"createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z"}`)

	r, err := projectNode(models.ResourceTeam, raw)
	require.NoError(t, err)

	assert.Equal(t, "Engineering", r.Title)
	assert.Equal(t, "ENG", r.Identifier)
	assert.Equal(t, true, r.AdditionalData["private"])
}

func TestProjectCycleNodeFabricatesTitle(t *testing.T) {
	raw := json.RawMessage(`{"id":"cyc_1","number":4,"startsAt":"2024-04-01T00:00:00Z","endsAt":"2024-04-14T00:00:00Z","team":{"id":"team_1","name":"Engineering","key":"ENG"},"createdAt":"2024-03-01T00:00:00Z","updatedAt":"2024-03-01T00:00:00Z"}`)

	r, err := projectNode(models.ResourceCycle, raw)
	require.NoError(t, err)

	assert.Equal(t, "Cycle 4", r.Title)
	assert.Equal(t, "ENG", r.Team)
	assert.Equal(t, "2024-04-01T00:00:00Z", r.AdditionalData["startsAt"])
}

func TestProjectNodeRejectsMalformed(t *testing.T) {
	_, err := projectNode(models.ResourceIssue, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays whole", "short body", 80, "short body"},
		{"cuts at word boundary", "alpha beta gamma", 12, "alpha beta..."},
		{"hard cut without spaces", strings.Repeat("x", 20), 10, strings.Repeat("x", 10) + "..."},
		{"exact length untouched", "abcdefghij", 10, "abcdefghij"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snippet(tt.in, tt.max))
		})
	}
}

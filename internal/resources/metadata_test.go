package resources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-project/gantry/internal/faults"
)

func stateJSON(id, name, typ string, position float64) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"type":%q,"position":%g,"team":{"id":"team_1","name":"Engineering","key":"ENG"},"createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z"}`,
		id, name, typ, position)
}

func labelJSON(id, name string) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"color":"#c00","team":{"id":"team_1","name":"Engineering","key":"ENG"},"createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z"}`,
		id, name)
}

func statesPage(hasNext bool, cursor string, states ...string) string {
	return fmt.Sprintf(`{"data":{"workflowStates":{"nodes":[%s],"pageInfo":{"hasNextPage":%t,"endCursor":%q},"totalCount":%d}}}`,
		strings.Join(states, ","), hasNext, cursor, len(states))
}

func labelsPage(hasNext bool, cursor string, labels ...string) string {
	return fmt.Sprintf(`{"data":{"issueLabels":{"nodes":[%s],"pageInfo":{"hasNextPage":%t,"endCursor":%q},"totalCount":%d}}}`,
		strings.Join(labels, ","), hasNext, cursor, len(labels))
}

func TestMetadataTeamStatesCachedAndSorted(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply(w, statesPage(false, "",
			stateJSON("st_3", "Done", "completed", 3),
			stateJSON("st_1", "Todo", "unstarted", 1),
			stateJSON("st_2", "In Progress", "started", 2),
		))
	})
	ctx := context.Background()

	states, err := svc.Metadata.TeamStates(ctx, "team_1")
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "Todo", states[0].Name)
	assert.Equal(t, "In Progress", states[1].Name)
	assert.Equal(t, "Done", states[2].Name)

	again, err := svc.Metadata.TeamStates(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, states, again)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMetadataTeamStatesWalksPages(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		got := decodeRequest(t, r)
		if calls.Add(1) == 1 {
			assert.NotContains(t, got.Variables, "after")
			reply(w, statesPage(true, "s2",
				stateJSON("st_1", "Todo", "unstarted", 1),
				stateJSON("st_2", "In Progress", "started", 2),
			))
			return
		}
		assert.Equal(t, "s2", got.Variables["after"])
		reply(w, statesPage(false, "", stateJSON("st_3", "Done", "completed", 3)))
	})

	states, err := svc.Metadata.TeamStates(context.Background(), "team_1")
	require.NoError(t, err)
	assert.Len(t, states, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMetadataStateForType(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, statesPage(false, "",
			stateJSON("st_1", "Todo", "unstarted", 1),
			stateJSON("st_2", "In Progress", "started", 2),
			stateJSON("st_3", "Done", "completed", 3),
		))
	})
	ctx := context.Background()

	state, err := svc.Metadata.StateForType(ctx, "team_1", "started")
	require.NoError(t, err)
	assert.Equal(t, "In Progress", state.Name)

	_, err = svc.Metadata.StateForType(ctx, "team_1", "canceled")
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
}

func TestMetadataStateByNameCaseInsensitive(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, statesPage(false, "", stateJSON("st_2", "In Progress", "started", 2)))
	})

	state, err := svc.Metadata.StateByName(context.Background(), "team_1", "in progress")
	require.NoError(t, err)
	assert.Equal(t, "st_2", state.ID)
}

func TestMetadataInvalidateTeamForcesRefetch(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply(w, statesPage(false, "", stateJSON("st_1", "Todo", "unstarted", 1)))
	})
	ctx := context.Background()

	_, err := svc.Metadata.TeamStates(ctx, "team_1")
	require.NoError(t, err)
	svc.Metadata.InvalidateTeam("team_1")
	_, err = svc.Metadata.TeamStates(ctx, "team_1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestEnsureLabelFindsExisting(t *testing.T) {
	var creates atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		got := decodeRequest(t, r)
		if containsOp(got.Query, "mutation CreateLabel") {
			creates.Add(1)
			t.Error("unexpected label create")
			return
		}
		reply(w, labelsPage(false, "", labelJSON("lbl_1", "Bug")))
	})

	label, err := svc.Metadata.EnsureLabel(context.Background(), "team_1", "bug")
	require.NoError(t, err)
	assert.Equal(t, "lbl_1", label.ID)
	assert.Zero(t, creates.Load())
}

func TestEnsureLabelCreatesWhenMissing(t *testing.T) {
	var listCalls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		got := decodeRequest(t, r)
		if containsOp(got.Query, "mutation CreateLabel") {
			input := got.Variables["input"].(map[string]interface{})
			assert.Equal(t, "urgent", input["name"])
			assert.Equal(t, "team_1", input["teamId"])
			reply(w, `{"data":{"issueLabelCreate":{"success":true,"issueLabel":`+labelJSON("lbl_9", "urgent")+`}}}`)
			return
		}
		listCalls.Add(1)
		reply(w, labelsPage(false, ""))
	})
	ctx := context.Background()

	label, err := svc.Metadata.EnsureLabel(ctx, "team_1", "urgent")
	require.NoError(t, err)
	assert.Equal(t, "lbl_9", label.ID)

	// Create invalidated the cached set, so the next lookup refetches.
	_, err = svc.Metadata.TeamLabels(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), listCalls.Load())
}

func TestDeleteLabelPurgesCache(t *testing.T) {
	var listCalls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		got := decodeRequest(t, r)
		if containsOp(got.Query, "mutation DeleteLabel") {
			reply(w, `{"data":{"issueLabelDelete":{"success":true}}}`)
			return
		}
		listCalls.Add(1)
		reply(w, labelsPage(false, "", labelJSON("lbl_1", "Bug")))
	})
	ctx := context.Background()

	_, err := svc.Metadata.TeamLabels(ctx, "team_1")
	require.NoError(t, err)
	require.NoError(t, svc.Labels.Delete(ctx, "lbl_1"))
	_, err = svc.Metadata.TeamLabels(ctx, "team_1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), listCalls.Load())
}

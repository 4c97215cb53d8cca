package tools

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/featurelist"
)

func TestConvertToolMetadata(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected upstream call")
	})
	tool := NewConvertTool(deps.conv, zaptest.NewLogger(t))

	meta := tool.Metadata()
	assert.Equal(t, "gantry.convertFeatureList", meta.Name)
	require.NotNil(t, meta.InputSchema)
	assert.Equal(t, []string{"content"}, meta.InputSchema.Required)
	require.NotNil(t, meta.OutputSchema)
}

func TestConvertToolValidatesContent(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected upstream call")
	})
	tool := NewConvertTool(deps.conv, zaptest.NewLogger(t))

	_, err := tool.Execute(context.Background(), rawParams(t, ConvertParams{Content: "  \n ", TeamKey: "ENG"}))
	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, faults.KindValidation, f.Kind)
	assert.Equal(t, "/params/content", f.Path)

	_, err = tool.Execute(context.Background(), rawParams(t, ConvertParams{Content: "- a", Format: "yaml", TeamKey: "ENG"}))
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
}

func TestConvertToolDryRun(t *testing.T) {
	const stamps = `"createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z"`
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		got := decodeRequest(t, r)
		switch {
		case strings.HasPrefix(got.Query, "query Teams("):
			reply(w, `{"data":{"teams":{"nodes":[{"id":"team_1","name":"Engineering","key":"ENG",`+stamps+`}],"pageInfo":{"hasNextPage":false},"totalCount":1}}}`)
		default:
			t.Errorf("dry run should only resolve the team, got %s", got.Query)
		}
	})
	tool := NewConvertTool(deps.conv, zaptest.NewLogger(t))

	out, err := tool.Execute(context.Background(), rawParams(t, ConvertParams{
		Content: "- build the importer\n- document it\n",
		TeamKey: "ENG",
		DryRun:  true,
	}))
	require.NoError(t, err)

	res, ok := out.(*featurelist.Result)
	require.True(t, ok)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Parsed)
	require.Len(t, res.Planned, 2)
	assert.Equal(t, "build the importer", res.Planned[0].Title)
	assert.Empty(t, res.Created)
}

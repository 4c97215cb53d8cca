package optimize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/models"
)

func newTestOptimizer(t *testing.T, opts Options) *Optimizer {
	t.Helper()
	return New(opts, zaptest.NewLogger(t))
}

func result(id string, rt models.ResourceType, title string) models.SearchResult {
	return models.SearchResult{
		ID:           id,
		ResourceType: rt,
		Title:        title,
		UpdatedAt:    time.Now().Format(time.RFC3339),
	}
}

func responseOf(results ...models.SearchResult) *models.SearchResponse {
	return &models.SearchResponse{Results: results, TotalCount: len(results)}
}

func TestOptionsDefaults(t *testing.T) {
	o := OptionsFromConfig(config.OptimizerConfig{Enabled: true})

	assert.True(t, o.Enabled)
	assert.Equal(t, 20, o.MaxResultsPerType)
	assert.Equal(t, 50, o.MaxTotalResults)
	assert.Equal(t, 200, o.MaxDescriptionLength)
	assert.Equal(t, 2.0, o.TitleWeight)
	assert.Equal(t, 1.0, o.DescriptionWeight)
	assert.Equal(t, 1.5, o.IdentifierWeight)
	assert.Equal(t, 1.0, o.RecencyWeight)
	assert.Equal(t, 1.5, o.ExactBoost)
	assert.Equal(t, 1.2, o.PartialBoost)
	assert.Equal(t, 0.1, o.MinScore)
	assert.Equal(t, 1.0, o.MaxScore)
	assert.Equal(t, 30.0, o.RecencyDecayDays)
	assert.Equal(t, 20, o.ResultsPerPage)
	assert.Equal(t, 10*1024, o.CompressionThreshold)
	assert.Equal(t, 20, o.MaxBatchSize)
	assert.Equal(t, 10, o.StreamChunkSize)
	assert.Equal(t, "<em>", o.Highlight.TagOpen)
	assert.Equal(t, "</em>", o.Highlight.TagClose)
	assert.Equal(t, 60, o.Highlight.FragmentSize)
	assert.Equal(t, 3, o.Highlight.MaxFragments)
}

func TestOptimizeSortsByScore(t *testing.T) {
	opt := newTestOptimizer(t, defaultOptions())
	resp := responseOf(
		result("r1", models.ResourceIssue, "Unrelated billing report"),
		result("r2", models.ResourceIssue, "Payment failure on checkout"),
		result("r3", models.ResourceIssue, "Payments backlog"),
	)

	opt.Optimize(resp, "payment failure", false)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "r2", resp.Results[0].ID)
	assert.Equal(t, "r3", resp.Results[1].ID)
	assert.Equal(t, "r1", resp.Results[2].ID)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestOptimizePreservesExplicitOrder(t *testing.T) {
	opt := newTestOptimizer(t, defaultOptions())
	resp := responseOf(
		result("r1", models.ResourceIssue, "Unrelated billing report"),
		result("r2", models.ResourceIssue, "Payment failure on checkout"),
	)

	opt.Optimize(resp, "payment failure", true)

	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.Equal(t, "r2", resp.Results[1].ID)
	for _, r := range resp.Results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestOptimizeDedupesTitlesAndIdentifiers(t *testing.T) {
	opt := newTestOptimizer(t, defaultOptions())

	dupTitle := result("r2", models.ResourceIssue, "payment FAILURE on checkout")
	withIdent := result("r3", models.ResourceIssue, "Different title")
	withIdent.Identifier = "ENG-42"
	dupIdent := result("r4", models.ResourceIssue, "Another title")
	dupIdent.Identifier = "eng-42"

	resp := responseOf(
		result("r1", models.ResourceIssue, "Payment failure on checkout"),
		dupTitle,
		withIdent,
		dupIdent,
	)

	opt.Optimize(resp, "", true)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.Equal(t, "r3", resp.Results[1].ID)
}

func TestOptimizePerTypeLimit(t *testing.T) {
	opts := defaultOptions()
	opts.MaxResultsPerType = 2
	opt := newTestOptimizer(t, opts)

	resp := responseOf(
		result("i1", models.ResourceIssue, "Issue one"),
		result("i2", models.ResourceIssue, "Issue two"),
		result("i3", models.ResourceIssue, "Issue three"),
		result("p1", models.ResourceProject, "Project one"),
	)

	opt.Optimize(resp, "", true)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "i1", resp.Results[0].ID)
	assert.Equal(t, "i2", resp.Results[1].ID)
	assert.Equal(t, "p1", resp.Results[2].ID)
}

func TestOptimizeTotalLimitSetsHasMore(t *testing.T) {
	opts := defaultOptions()
	opts.MaxTotalResults = 2
	opt := newTestOptimizer(t, opts)

	resp := responseOf(
		result("r1", models.ResourceIssue, "First"),
		result("r2", models.ResourceIssue, "Second"),
		result("r3", models.ResourceIssue, "Third"),
	)
	require.False(t, resp.HasMore)

	opt.Optimize(resp, "", true)

	assert.Len(t, resp.Results, 2)
	assert.True(t, resp.HasMore)
}

func TestOptimizeTrimsDescriptionAtSentence(t *testing.T) {
	opts := defaultOptions()
	opts.MaxDescriptionLength = 50
	opt := newTestOptimizer(t, opts)

	r := result("r1", models.ResourceIssue, "Title")
	r.Description = "First sentence here. Second sentence extends well beyond the cut point."
	resp := responseOf(r)

	opt.Optimize(resp, "", true)

	got := resp.Results[0]
	assert.Equal(t, "First sentence here.", got.Description)
	assert.Equal(t, true, got.AdditionalData["descriptionTruncated"])
}

func TestOptimizeTrimsDescriptionHard(t *testing.T) {
	opts := defaultOptions()
	opts.MaxDescriptionLength = 50
	opt := newTestOptimizer(t, opts)

	r := result("r1", models.ResourceIssue, "Title")
	r.Description = strings.Repeat("a", 120)
	resp := responseOf(r)

	opt.Optimize(resp, "", true)

	got := resp.Results[0]
	assert.Len(t, got.Description, 50)
	assert.Equal(t, true, got.AdditionalData["descriptionTruncated"])
}

func TestOptimizeKeepsShortDescription(t *testing.T) {
	opt := newTestOptimizer(t, defaultOptions())

	r := result("r1", models.ResourceIssue, "Title")
	r.Description = "Short enough."
	resp := responseOf(r)

	opt.Optimize(resp, "", true)

	got := resp.Results[0]
	assert.Equal(t, "Short enough.", got.Description)
	assert.Nil(t, got.AdditionalData)
}

func TestOptimizeDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.Enabled = false
	opt := newTestOptimizer(t, opts)

	resp := responseOf(
		result("r1", models.ResourceIssue, "Unrelated"),
		result("r2", models.ResourceIssue, "Payment failure"),
	)

	opt.Optimize(resp, "payment failure", false)

	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.Zero(t, resp.Results[0].Score)
}

func TestOptimizeNilResponse(t *testing.T) {
	opt := newTestOptimizer(t, defaultOptions())
	assert.NotPanics(t, func() { opt.Optimize(nil, "query", false) })
}

func TestOptimizeHighlightsWhenEnabled(t *testing.T) {
	opts := defaultOptions()
	opts.Highlight.Enabled = true
	opt := newTestOptimizer(t, opts)

	resp := responseOf(result("r1", models.ResourceIssue, "Payment failure on checkout"))

	opt.Optimize(resp, "payment", false)

	got := resp.Results[0]
	require.NotNil(t, got.AdditionalData)
	assert.Equal(t, "<em>Payment</em> failure on checkout", got.AdditionalData["highlightedTitle"])
}

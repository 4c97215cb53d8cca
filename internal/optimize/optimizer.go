// Package optimize shapes raw search responses: relevance scoring,
// deduplication, per-type and total limits, description trimming,
// highlighting, grouping, and the progressive, compressed, batched, and
// streaming response envelopes.
package optimize

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/models"
)

// Options are the optimizer knobs with their documented defaults applied.
type Options struct {
	Enabled              bool
	MaxResultsPerType    int
	MaxTotalResults      int
	MaxDescriptionLength int
	TitleWeight          float64
	DescriptionWeight    float64
	IdentifierWeight     float64
	RecencyWeight        float64
	ExactBoost           float64
	PartialBoost         float64
	MinScore             float64
	MaxScore             float64
	RecencyDecayDays     float64
	Highlight            HighlightOptions
	ResultsPerPage       int
	CompressionThreshold int
	MaxBatchSize         int
	StreamChunkSize      int
}

// HighlightOptions control match wrapping and fragment extraction.
type HighlightOptions struct {
	Enabled      bool
	TagOpen      string
	TagClose     string
	FragmentSize int
	MaxFragments int
}

// OptionsFromConfig copies the config block and fills the gaps.
func OptionsFromConfig(cfg config.OptimizerConfig) Options {
	o := Options{
		Enabled:              cfg.Enabled,
		MaxResultsPerType:    cfg.MaxResultsPerType,
		MaxTotalResults:      cfg.MaxTotalResults,
		MaxDescriptionLength: cfg.MaxDescriptionLength,
		TitleWeight:          cfg.TitleWeight,
		DescriptionWeight:    cfg.DescriptionWeight,
		IdentifierWeight:     cfg.IdentifierWeight,
		RecencyWeight:        cfg.RecencyWeight,
		ExactBoost:           cfg.ExactBoost,
		PartialBoost:         cfg.PartialBoost,
		MinScore:             cfg.MinScore,
		MaxScore:             cfg.MaxScore,
		RecencyDecayDays:     cfg.RecencyDecayDays,
		ResultsPerPage:       cfg.ResultsPerPage,
		CompressionThreshold: cfg.CompressionThreshold,
		MaxBatchSize:         cfg.MaxBatchSize,
		StreamChunkSize:      cfg.StreamChunkSize,
		Highlight: HighlightOptions{
			Enabled:      cfg.Highlight.Enabled,
			TagOpen:      cfg.Highlight.TagOpen,
			TagClose:     cfg.Highlight.TagClose,
			FragmentSize: cfg.Highlight.FragmentSize,
			MaxFragments: cfg.Highlight.MaxFragments,
		},
	}
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.MaxResultsPerType <= 0 {
		o.MaxResultsPerType = 20
	}
	if o.MaxTotalResults <= 0 {
		o.MaxTotalResults = 50
	}
	if o.MaxDescriptionLength <= 0 {
		o.MaxDescriptionLength = 200
	}
	if o.TitleWeight == 0 {
		o.TitleWeight = 2
	}
	if o.DescriptionWeight == 0 {
		o.DescriptionWeight = 1
	}
	if o.IdentifierWeight == 0 {
		o.IdentifierWeight = 1.5
	}
	if o.RecencyWeight == 0 {
		o.RecencyWeight = 1
	}
	if o.ExactBoost == 0 {
		o.ExactBoost = 1.5
	}
	if o.PartialBoost == 0 {
		o.PartialBoost = 1.2
	}
	if o.MinScore == 0 {
		o.MinScore = 0.1
	}
	if o.MaxScore == 0 {
		o.MaxScore = 1.0
	}
	if o.RecencyDecayDays == 0 {
		o.RecencyDecayDays = 30
	}
	if o.ResultsPerPage <= 0 {
		o.ResultsPerPage = 20
	}
	if o.CompressionThreshold <= 0 {
		o.CompressionThreshold = 10 * 1024
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 20
	}
	if o.StreamChunkSize <= 0 {
		o.StreamChunkSize = 10
	}
	if o.Highlight.TagOpen == "" {
		o.Highlight.TagOpen = "<em>"
	}
	if o.Highlight.TagClose == "" {
		o.Highlight.TagClose = "</em>"
	}
	if o.Highlight.FragmentSize <= 0 {
		o.Highlight.FragmentSize = 60
	}
	if o.Highlight.MaxFragments <= 0 {
		o.Highlight.MaxFragments = 3
	}
	return o
}

// Optimizer applies the shaping pipeline to search responses.
type Optimizer struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New builds an optimizer; options already carry defaults.
func New(opts Options, logger *zap.Logger) *Optimizer {
	return &Optimizer{opts: opts.withDefaults(), logger: logger, now: time.Now}
}

// Optimize scores, orders, deduplicates, limits, trims, and highlights the
// response's results in place. When preserveOrder is set (the query carried
// an explicit sort) the caller's ordering is kept and only scoring,
// deduplication, limits, and trimming apply.
func (o *Optimizer) Optimize(resp *models.SearchResponse, queryText string, preserveOrder bool) {
	if resp == nil || !o.opts.Enabled {
		return
	}

	sc := newScorer(queryText, o.opts, o.now())
	for i := range resp.Results {
		resp.Results[i].Score = sc.score(&resp.Results[i])
	}

	if !preserveOrder {
		sort.SliceStable(resp.Results, func(i, j int) bool {
			return resp.Results[i].Score > resp.Results[j].Score
		})
	}

	before := len(resp.Results)
	resp.Results = dedupe(resp.Results)
	resp.Results = o.limitPerType(resp.Results)
	if len(resp.Results) > o.opts.MaxTotalResults {
		resp.Results = resp.Results[:o.opts.MaxTotalResults]
		resp.HasMore = true
	}
	if dropped := before - len(resp.Results); dropped > 0 {
		o.logger.Debug("Optimizer trimmed results", zap.Int("dropped", dropped))
	}

	for i := range resp.Results {
		o.trimDescription(&resp.Results[i])
	}
	if o.opts.Highlight.Enabled && len(sc.terms) > 0 {
		for i := range resp.Results {
			o.applyHighlights(&resp.Results[i], sc.terms)
		}
	}
}

// dedupe collapses results that share a lowercased title or identifier;
// the first occurrence wins.
func dedupe(results []models.SearchResult) []models.SearchResult {
	seenTitle := make(map[string]struct{}, len(results))
	seenIdent := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		title := strings.ToLower(r.Title)
		ident := strings.ToLower(r.Identifier)
		if _, dup := seenTitle[title]; dup && title != "" {
			continue
		}
		if _, dup := seenIdent[ident]; dup && ident != "" {
			continue
		}
		if title != "" {
			seenTitle[title] = struct{}{}
		}
		if ident != "" {
			seenIdent[ident] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// limitPerType keeps at most MaxResultsPerType results of each type,
// preserving the incoming order so higher-ranked results survive.
func (o *Optimizer) limitPerType(results []models.SearchResult) []models.SearchResult {
	counts := make(map[models.ResourceType]int)
	out := results[:0]
	for _, r := range results {
		if counts[r.ResourceType] >= o.opts.MaxResultsPerType {
			continue
		}
		counts[r.ResourceType]++
		out = append(out, r)
	}
	return out
}

// trimDescription cuts long descriptions at the nearest sentence boundary
// within a 40-character look-back window and marks the result truncated.
func (o *Optimizer) trimDescription(r *models.SearchResult) {
	if len(r.Description) <= o.opts.MaxDescriptionLength {
		return
	}
	cut := o.opts.MaxDescriptionLength
	lookback := cut - 40
	if lookback < 0 {
		lookback = 0
	}
	for i := cut - 1; i > lookback; i-- {
		if i+1 < len(r.Description) && isSentenceEnd(r.Description[i]) && r.Description[i+1] == ' ' {
			cut = i + 1
			break
		}
	}
	r.Description = strings.TrimRight(r.Description[:cut], " ")
	if r.AdditionalData == nil {
		r.AdditionalData = make(map[string]interface{})
	}
	r.AdditionalData["descriptionTruncated"] = true
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '?' || b == '!'
}

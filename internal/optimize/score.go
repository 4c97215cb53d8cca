package optimize

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/gantry-project/gantry/internal/models"
)

// ExtractTerms pulls the scoring terms out of a query string: alphanumeric
// words of length >= 3, with the AND/OR search operators stripped and
// duplicates removed. Terms come back lowercased in first-seen order.
func ExtractTerms(text string) []string {
	words := splitWords(text)
	seen := make(map[string]struct{}, len(words))
	var terms []string
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if w == "and" || w == "or" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// splitWords lowercases and splits on every non-alphanumeric rune.
func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// scorer computes relevance for one query's terms against results.
type scorer struct {
	terms []string
	opts  Options
	now   time.Time
}

func newScorer(text string, opts Options, now time.Time) *scorer {
	return &scorer{terms: ExtractTerms(text), opts: opts, now: now}
}

// score blends the field scores into the final clamped relevance.
func (s *scorer) score(r *models.SearchResult) float64 {
	title := s.textScore(r.Title, 1)
	desc := s.textScore(r.Description, 3)
	ident := s.exactScore(r.Identifier)
	recency := s.recencyScore(r.UpdatedAt)

	weightSum := s.opts.TitleWeight + s.opts.DescriptionWeight + s.opts.IdentifierWeight + s.opts.RecencyWeight
	if weightSum == 0 {
		return s.opts.MinScore
	}
	blended := (title*s.opts.TitleWeight +
		desc*s.opts.DescriptionWeight +
		ident*s.opts.IdentifierWeight +
		recency*s.opts.RecencyWeight) / weightSum

	return clamp(blended, s.opts.MinScore, s.opts.MaxScore)
}

// textScore sums exact and partial term boosts over the field, normalized
// by the term count times the denominator factor and capped at MaxScore.
func (s *scorer) textScore(text string, factor float64) float64 {
	if text == "" || len(s.terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	words := wordSet(lower)

	var sum float64
	for _, term := range s.terms {
		switch {
		case words[term]:
			sum += s.opts.ExactBoost
		case strings.Contains(lower, term):
			sum += s.opts.PartialBoost
		}
	}
	denom := float64(max(len(s.terms), 1)) * factor
	return math.Min(sum/denom, s.opts.MaxScore)
}

// exactScore scores the identifier on whole-word matches only.
func (s *scorer) exactScore(identifier string) float64 {
	if identifier == "" || len(s.terms) == 0 {
		return 0
	}
	words := wordSet(strings.ToLower(identifier))
	var sum float64
	for _, term := range s.terms {
		if words[term] {
			sum += s.opts.ExactBoost
		}
	}
	return math.Min(sum/float64(max(len(s.terms), 1)), s.opts.MaxScore)
}

// recencyScore decays by half every RecencyDecayDays since the last update.
func (s *scorer) recencyScore(updatedAt string) float64 {
	if updatedAt == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	days := s.now.Sub(ts).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := s.opts.RecencyDecayDays
	if decay <= 0 {
		decay = 30
	}
	return math.Exp2(-days / decay)
}

func wordSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range splitWords(lower) {
		set[w] = true
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package optimize

import (
	"strings"

	"github.com/gantry-project/gantry/internal/models"
)

// span marks a matched region [start, end) in the source text.
type span struct {
	start int
	end   int
}

// applyHighlights wraps term matches in the title and extracts description
// fragments, storing both under AdditionalData.
func (o *Optimizer) applyHighlights(r *models.SearchResult, terms []string) {
	h := o.opts.Highlight
	titleSpans := matchSpans(r.Title, terms)
	fragments := extractFragments(r.Description, terms, h.FragmentSize, h.MaxFragments, h.TagOpen, h.TagClose)
	if len(titleSpans) == 0 && len(fragments) == 0 {
		return
	}
	if r.AdditionalData == nil {
		r.AdditionalData = make(map[string]interface{})
	}
	if len(titleSpans) > 0 {
		r.AdditionalData["highlightedTitle"] = wrapMatches(r.Title, titleSpans, h.TagOpen, h.TagClose)
	}
	if len(fragments) > 0 {
		r.AdditionalData["fragments"] = fragments
	}
}

// matchSpans finds case-insensitive occurrences of each term and merges
// overlaps into non-overlapping spans sorted by start offset.
func matchSpans(text string, terms []string) []span {
	if text == "" || len(terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var spans []span
	for _, term := range terms {
		from := 0
		for {
			idx := strings.Index(lower[from:], term)
			if idx < 0 {
				break
			}
			start := from + idx
			spans = append(spans, span{start: start, end: start + len(term)})
			from = start + len(term)
		}
	}
	if len(spans) == 0 {
		return nil
	}
	return mergeSpans(spans)
}

func mergeSpans(spans []span) []span {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].start > spans[j].start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// wrapMatches inserts tags around each span, working back to front so the
// recorded offsets stay valid.
func wrapMatches(text string, spans []span, tagOpen, tagClose string) string {
	var b strings.Builder
	b.Grow(len(text) + len(spans)*(len(tagOpen)+len(tagClose)))
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		b.WriteString(tagOpen)
		b.WriteString(text[s.start:s.end])
		b.WriteString(tagClose)
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// extractFragments returns up to maxFragments highlighted windows around
// matches in text. Text with zero matches yields an empty list.
func extractFragments(text string, terms []string, size, maxFragments int, tagOpen, tagClose string) []string {
	spans := matchSpans(text, terms)
	if len(spans) == 0 {
		return nil
	}
	var fragments []string
	consumedTo := 0
	for _, s := range spans {
		if len(fragments) >= maxFragments {
			break
		}
		if s.start < consumedTo {
			continue
		}
		start := s.start - size/2
		if start < 0 {
			start = 0
		}
		end := start + size
		if end > len(text) {
			end = len(text)
			start = end - size
			if start < 0 {
				start = 0
			}
		}
		// Keep whole words at the window edges.
		for start > 0 && text[start] != ' ' {
			start++
			if start >= s.start {
				start = s.start
				break
			}
		}
		for end < len(text) && text[end] != ' ' {
			end--
			if end <= s.end {
				end = s.end
				break
			}
		}
		window := strings.TrimSpace(text[start:end])
		inner := matchSpans(window, terms)
		frag := wrapMatches(window, inner, tagOpen, tagClose)
		if start > 0 {
			frag = "..." + frag
		}
		if end < len(text) {
			frag += "..."
		}
		fragments = append(fragments, frag)
		consumedTo = end
	}
	return fragments
}

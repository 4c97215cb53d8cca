// Package featurelist parses feature lists out of plain text, markdown, and
// JSON documents and converts them into tracker issues. Parsing is pure;
// the converter owns the upstream side effects.
package featurelist

import (
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
)

// Format selects a parser. FormatAuto sniffs the document.
type Format string

const (
	FormatAuto     Format = "auto"
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a caller-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatPlain, FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", faults.Validation("/format", "unknown feature list format %q", s)
	}
}

// Feature is one parsed work item. Children carry nested bullets; Done
// reflects a checked checkbox.
type Feature struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Done        bool      `json:"done,omitempty"`
	Children    []Feature `json:"children,omitempty"`
}

// Document is a parsed feature list.
type Document struct {
	Title    string    `json:"title,omitempty"`
	Features []Feature `json:"features"`
}

// Count returns the number of features including nested children.
func (d *Document) Count() int {
	return countFeatures(d.Features)
}

func countFeatures(fs []Feature) int {
	n := len(fs)
	for i := range fs {
		n += countFeatures(fs[i].Children)
	}
	return n
}

// Parse runs the selected parser. An empty document is a validation error;
// a list with zero features is not.
func Parse(input string, format Format) (*Document, error) {
	if strings.TrimSpace(input) == "" {
		return nil, faults.Validation("/content", "feature list is empty")
	}
	switch format {
	case FormatPlain:
		return parsePlain(input)
	case FormatMarkdown:
		return parseMarkdown(input)
	case FormatJSON:
		return parseJSON(input)
	case FormatAuto, "":
		return Parse(input, DetectFormat(input))
	default:
		return nil, faults.Validation("/format", "unknown feature list format %q", format)
	}
}

// DetectFormat sniffs the document: JSON when it opens with a brace or
// bracket, markdown when it carries heading or bullet structure, plain
// otherwise.
func DetectFormat(input string) Format {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return FormatJSON
	}
	for _, line := range strings.Split(trimmed, "\n") {
		s := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(s, "#") || isBullet(s) {
			return FormatMarkdown
		}
	}
	return FormatPlain
}

func isBullet(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '-' || s[0] == '*' || s[0] == '+') && (s[1] == ' ' || s[1] == '\t')
}

// Priority names accepted by the !annotation, on the upstream's 0..4 scale
// (1 is most urgent, 0 means unset).
var priorityNames = map[string]int{
	"urgent": 1,
	"high":   2,
	"medium": 3,
	"low":    4,
}

// extractAnnotations pulls @assignee, #label, and !priority tokens out of a
// feature line and returns the remaining text as the title.
func extractAnnotations(line string, f *Feature) string {
	fields := strings.Fields(line)
	kept := make([]string, 0, len(fields))
	for _, tok := range fields {
		switch {
		case len(tok) > 1 && tok[0] == '@':
			f.Assignee = strings.TrimRight(tok[1:], ",.;")
		case len(tok) > 1 && tok[0] == '#':
			f.Labels = append(f.Labels, strings.TrimRight(tok[1:], ",.;"))
		case len(tok) > 1 && tok[0] == '!':
			if p, ok := parsePriorityToken(tok[1:]); ok {
				f.Priority = &p
			} else {
				kept = append(kept, tok)
			}
		default:
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// parsePriorityToken accepts p0..p4, bare digits, and the named levels.
func parsePriorityToken(s string) (int, bool) {
	s = strings.ToLower(strings.TrimRight(s, ",.;"))
	if p, ok := priorityNames[s]; ok {
		return p, true
	}
	if strings.HasPrefix(s, "p") {
		s = s[1:]
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '4' {
		return int(s[0] - '0'), true
	}
	return 0, false
}

// splitCheckbox strips a leading "[ ]" / "[x]" marker and reports whether it
// was checked.
func splitCheckbox(s string) (rest string, checked, found bool) {
	if len(s) >= 3 && s[0] == '[' && s[2] == ']' {
		switch s[1] {
		case ' ':
			return strings.TrimLeft(s[3:], " \t"), false, true
		case 'x', 'X':
			return strings.TrimLeft(s[3:], " \t"), true, true
		}
	}
	return s, false, false
}

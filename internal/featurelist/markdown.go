package featurelist

import (
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
)

// mdItem tracks one open bullet while the parser walks the document. The
// feature pointer stays valid because children are appended to the parent's
// slice only after the subtree is closed.
type mdItem struct {
	indent  int
	feature Feature
	parent  *mdItem
}

// parseMarkdown reads a markdown bullet list. The first level-one heading
// becomes the document title, deeper headings are ignored, bullets become
// features, and indentation nests children under the nearest shallower
// bullet. Checkboxes set Done; indented plain text extends the open
// bullet's description.
func parseMarkdown(input string) (*Document, error) {
	doc := &Document{}
	var root mdItem
	root.indent = -1
	open := &root

	flushTo := func(target *mdItem) {
		for open != target {
			parent := open.parent
			parent.feature.Children = append(parent.feature.Children, open.feature)
			open = parent
		}
	}

	for _, raw := range strings.Split(input, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := indentWidth(line)
		body := strings.TrimLeft(line, " \t")

		if strings.HasPrefix(body, "#") {
			level := 0
			for level < len(body) && body[level] == '#' {
				level++
			}
			if level == 1 && doc.Title == "" {
				doc.Title = strings.TrimSpace(body[level:])
			}
			continue
		}

		if isBullet(body) {
			// Close every bullet at this depth or deeper before opening
			// the new one.
			at := open
			for at.indent >= indent {
				at = at.parent
			}
			flushTo(at)

			f := Feature{}
			text := strings.TrimLeft(body[2:], " \t")
			text, checked, _ := splitCheckbox(text)
			f.Done = checked
			f.Title = extractAnnotations(text, &f)
			if f.Title == "" {
				return nil, faults.Validation("/content", "bullet without a title: %q", strings.TrimSpace(raw))
			}
			open = &mdItem{indent: indent, feature: f, parent: at}
			continue
		}

		// Continuation text under an open bullet.
		if open != &root {
			if open.feature.Description != "" {
				open.feature.Description += "\n"
			}
			open.feature.Description += strings.TrimSpace(body)
		}
	}
	flushTo(&root)
	doc.Features = root.feature.Children
	return doc, nil
}

// indentWidth counts leading spaces with tabs worth four.
func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

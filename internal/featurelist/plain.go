package featurelist

import "strings"

// parsePlain reads one feature per non-empty line. Bullet markers and
// checkboxes are tolerated, and indented lines extend the previous
// feature's description instead of opening a new one.
func parsePlain(input string) (*Document, error) {
	doc := &Document{}
	for _, raw := range strings.Split(input, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'
		body := strings.TrimLeft(line, " \t")
		if indented && len(doc.Features) > 0 && !isBullet(body) {
			last := &doc.Features[len(doc.Features)-1]
			if last.Description != "" {
				last.Description += "\n"
			}
			last.Description += body
			continue
		}
		if isBullet(body) {
			body = strings.TrimLeft(body[2:], " \t")
		}
		f := Feature{}
		body, checked, _ := splitCheckbox(body)
		f.Done = checked
		f.Title = extractAnnotations(body, &f)
		if f.Title == "" {
			continue
		}
		doc.Features = append(doc.Features, f)
	}
	return doc, nil
}

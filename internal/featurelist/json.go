package featurelist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
)

// parseJSON accepts either a document object ({"title": ..., "features":
// [...]}) or a bare feature array. Every feature needs a title; priorities
// must sit on the 0..4 scale.
func parseJSON(input string) (*Document, error) {
	trimmed := strings.TrimSpace(input)
	doc := &Document{}
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &doc.Features); err != nil {
			return nil, faults.Validation("/content", "invalid feature array: %v", err)
		}
	} else {
		if err := json.Unmarshal([]byte(trimmed), doc); err != nil {
			return nil, faults.Validation("/content", "invalid feature document: %v", err)
		}
	}
	if err := validateFeatures(doc.Features, "/features"); err != nil {
		return nil, err
	}
	return doc, nil
}

func validateFeatures(fs []Feature, base string) error {
	for i := range fs {
		path := fmt.Sprintf("%s/%d", base, i)
		fs[i].Title = strings.TrimSpace(fs[i].Title)
		if fs[i].Title == "" {
			return faults.Validation(path+"/title", "feature title is required")
		}
		if p := fs[i].Priority; p != nil && (*p < 0 || *p > 4) {
			return faults.Validation(path+"/priority", "priority must be between 0 and 4, got %d", *p)
		}
		if err := validateFeatures(fs[i].Children, path+"/children"); err != nil {
			return err
		}
	}
	return nil
}

// Package tools adapts the domain services to the registry's provider
// contracts: the gantry.search and gantry.convertFeatureList tools plus one
// resource provider per mirrored type. Providers decode raw JSON-RPC params
// into typed inputs and validate them at this boundary.
package tools

import (
	"encoding/json"

	"github.com/gantry-project/gantry/internal/faults"
)

// Namespace prefixes every registered tool name.
const Namespace = "gantry"

func decode(params json.RawMessage, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return faults.Validation("/params", "malformed params: %v", err)
	}
	return nil
}

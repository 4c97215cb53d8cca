package registry

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/gantry-project/gantry/internal/faults"
)

// GenerateSchema reflects a JSON schema from a typed params struct. The
// schema is expanded and reference-free so clients can render it without a
// resolver; fields without omitempty become required.
func GenerateSchema(title string, v interface{}) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	schema.Title = title
	schema.AdditionalProperties = nil
	schema.Definitions = nil
	return schema
}

// ValidateAgainst checks a raw params object against a generated schema:
// required properties must be present, and known properties must carry the
// declared JSON kind. Deeper constraints are left to the typed decode inside
// the provider. base is the JSON Pointer prefix for failure paths.
func ValidateAgainst(schema *jsonschema.Schema, raw json.RawMessage, base string) error {
	if schema == nil {
		return nil
	}
	if len(raw) == 0 {
		if len(schema.Required) > 0 {
			return faults.Validation(base+"/"+schema.Required[0],
				"missing required property %q", schema.Required[0])
		}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return faults.Validation(base, "expected an object")
	}
	for _, req := range schema.Required {
		if _, ok := obj[req]; !ok {
			return faults.Validation(base+"/"+req, "missing required property %q", req)
		}
	}
	if schema.Properties == nil {
		return nil
	}
	for name, value := range obj {
		prop, ok := schema.Properties.Get(name)
		if !ok || prop == nil || prop.Type == "" {
			continue
		}
		kind := jsonKind(value)
		if kind == "null" {
			continue
		}
		if !kindMatches(prop.Type, kind) {
			return faults.Validation(base+"/"+name, "expected %s, got %s", prop.Type, kind)
		}
	}
	return nil
}

func jsonKind(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func kindMatches(declared, kind string) bool {
	if declared == "integer" || declared == "number" {
		return kind == "number"
	}
	// Nullable fields reflect as "string,null" style unions.
	for _, part := range strings.Split(declared, ",") {
		if strings.TrimSpace(part) == kind {
			return true
		}
	}
	return false
}

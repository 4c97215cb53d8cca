// Package protocol implements the JSON-RPC 2.0 envelope carried on the
// session transport: one JSON document per frame, typed by which members are
// present. Parsing preserves the raw id so responses echo exactly what the
// client sent.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Version is the only protocol version the envelope accepts.
const Version = "2.0"

// Built-in method names. The $/ prefix marks methods handled by the session
// core itself rather than a registered provider.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "$/ping"
	MethodCancelRequest = "$/cancelRequest"
	MethodClose         = "$/close"
)

// MethodResourceChanged is the server-to-client notification sent after a
// mutation, to sessions that negotiated the changeEvents feature.
const MethodResourceChanged = "$/resourceChanged"

// ID is a request correlation id, a JSON string or integer. The raw bytes
// are kept verbatim so "1" and 1 stay distinct end to end.
type ID struct {
	raw json.RawMessage
}

// StringID builds an id from a string value.
func StringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// NumberID builds an id from an integer value.
func NumberID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// NullID is the explicit null id used on error responses to frames whose id
// could not be read.
func NullID() ID {
	return ID{raw: json.RawMessage("null")}
}

// Valid reports whether the id carries a usable value. Null and absent ids
// are not valid.
func (id *ID) Valid() bool {
	return id != nil && len(id.raw) > 0 && string(id.raw) != "null"
}

// Key returns the raw JSON literal, used to index the in-flight table.
func (id ID) Key() string { return string(id.raw) }

func (id ID) String() string { return string(id.raw) }

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON stores the raw literal without validating it; Parse rejects
// ids that are neither strings nor integers so the failure maps to
// InvalidRequest rather than ParseError.
func (id *ID) UnmarshalJSON(b []byte) error {
	id.raw = append(id.raw[:0], b...)
	return nil
}

func (id *ID) wellFormed() bool {
	raw := string(bytes.TrimSpace(id.raw))
	if raw == "" || raw == "null" {
		return true
	}
	if strings.HasPrefix(raw, `"`) {
		return true
	}
	// Integer only: fractional and exponent forms are rejected.
	_, err := strconv.ParseInt(raw, 10, 64)
	return err == nil
}

// Message is one JSON-RPC 2.0 frame. Exactly one role can be inferred from
// the populated members: request (method with id), notification (method
// without id), or response (result xor error, with id).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind is the inferred message role.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Type infers the message's role from which members are populated.
func (m *Message) Type() Kind {
	switch {
	case m.Method != "" && m.ID.Valid():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.ID.Valid() && (m.Result != nil) != (m.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// Parse decodes and validates one frame. Malformed JSON maps to ParseError;
// a well-formed document that is not a usable JSON-RPC message maps to
// InvalidRequest.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: CodeParseError, Message: "parse error: " + err.Error()}
	}
	if m.JSONRPC != Version {
		return nil, &Error{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0"`}
	}
	if m.ID != nil && !m.ID.wellFormed() {
		return nil, &Error{Code: CodeInvalidRequest, Message: "id must be a string or integer"}
	}
	if len(m.Params) > 0 && !isObject(m.Params) {
		return nil, &Error{Code: CodeInvalidRequest, Message: "params must be an object"}
	}
	if m.Method != "" && (m.Result != nil || m.Error != nil) {
		return nil, &Error{Code: CodeInvalidRequest, Message: "method and result members are mutually exclusive"}
	}
	if m.Type() == KindInvalid {
		return nil, &Error{Code: CodeInvalidRequest, Message: "message is not a request, notification or response"}
	}
	return &m, nil
}

// Encode serializes one frame.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || string(trimmed) == "null")
}

// NewRequest builds a request frame, marshaling params when present.
func NewRequest(id ID, method string, params interface{}) (*Message, error) {
	m := &Message{JSONRPC: Version, ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		m.Params = raw
	}
	return m, nil
}

// NewNotification builds a notification frame.
func NewNotification(method string, params interface{}) (*Message, error) {
	m := &Message{JSONRPC: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		m.Params = raw
	}
	return m, nil
}

// NewResponse builds a success response carrying the marshaled result.
func NewResponse(id ID, result interface{}) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response. Frames whose id could not be
// read answer with an explicit null id.
func NewErrorResponse(id ID, rpcErr *Error) *Message {
	return &Message{JSONRPC: Version, ID: &id, Error: rpcErr}
}

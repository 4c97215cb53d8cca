package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gantry-project/gantry/internal/registry"
)

// initializeParams is the fixed initialize schema. Capabilities stays raw so
// an absent member can be told apart from an empty object; ProtocolVersions
// accepts either a version array or a {min,max?} range object.
type initializeParams struct {
	ClientInfo       *ClientInfo     `json:"clientInfo"`
	Capabilities     json.RawMessage `json:"capabilities"`
	Trace            string          `json:"trace,omitempty"`
	ProtocolVersions json.RawMessage `json:"protocolVersions,omitempty"`
}

// initializeResult is the handshake response body.
type initializeResult struct {
	ServerInfo      ServerInfo                     `json:"serverInfo"`
	ServerVersion   string                         `json:"serverVersion"`
	ProtocolVersion string                         `json:"protocolVersion"`
	Capabilities    map[string]registry.Capability `json:"capabilities"`
}

var errNoCompatibleVersion = errors.New("No compatible protocol version")

// protoVersion is a parsed "major.minor" protocol version.
type protoVersion struct {
	text  string
	major int
	minor int
}

func parseVersion(s string) (protoVersion, error) {
	head, tail, found := strings.Cut(s, ".")
	if !found {
		return protoVersion{}, fmt.Errorf("version %q is not major.minor", s)
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return protoVersion{}, fmt.Errorf("version %q is not major.minor", s)
	}
	minor, err := strconv.Atoi(tail)
	if err != nil {
		return protoVersion{}, fmt.Errorf("version %q is not major.minor", s)
	}
	return protoVersion{text: s, major: major, minor: minor}, nil
}

func (v protoVersion) less(other protoVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	return v.minor < other.minor
}

// versionRange is the {min,max?} constraint form. An absent max is open.
type versionRange struct {
	Min string `json:"min"`
	Max string `json:"max,omitempty"`
}

// negotiateVersion picks the protocol version for a session: the highest
// supported version the client's set or range admits. An absent constraint
// admits everything; an empty intersection fails the handshake.
func negotiateVersion(supported []string, constraint json.RawMessage) (string, error) {
	versions := make([]protoVersion, 0, len(supported))
	for _, s := range supported {
		v, err := parseVersion(s)
		if err != nil {
			return "", err
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return "", errNoCompatibleVersion
	}

	admitted, err := admitFunc(constraint)
	if err != nil {
		return "", err
	}

	var best *protoVersion
	for i := range versions {
		v := versions[i]
		if !admitted(v) {
			continue
		}
		if best == nil || best.less(v) {
			best = &v
		}
	}
	if best == nil {
		return "", errNoCompatibleVersion
	}
	return best.text, nil
}

func admitFunc(constraint json.RawMessage) (func(protoVersion) bool, error) {
	trimmed := bytes.TrimSpace(constraint)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return func(protoVersion) bool { return true }, nil
	}
	switch trimmed[0] {
	case '[':
		var set []string
		if err := json.Unmarshal(trimmed, &set); err != nil {
			return nil, errNoCompatibleVersion
		}
		wanted := make(map[string]struct{}, len(set))
		for _, s := range set {
			wanted[s] = struct{}{}
		}
		return func(v protoVersion) bool {
			_, ok := wanted[v.text]
			return ok
		}, nil
	case '{':
		var r versionRange
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, errNoCompatibleVersion
		}
		min, err := parseVersion(r.Min)
		if err != nil {
			return nil, errNoCompatibleVersion
		}
		var max *protoVersion
		if r.Max != "" {
			parsed, err := parseVersion(r.Max)
			if err != nil {
				return nil, errNoCompatibleVersion
			}
			max = &parsed
		}
		return func(v protoVersion) bool {
			if v.less(min) {
				return false
			}
			if max != nil && max.less(v) {
				return false
			}
			return true
		}, nil
	default:
		return nil, errNoCompatibleVersion
	}
}

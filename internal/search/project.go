package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const commentTitleLength = 80

// projectNode maps one raw upstream node onto the public SearchResult shape.
// Timestamps stay in the upstream's ISO-8601 form; type-specific extras land
// in AdditionalData so grouping and date formatting can reach them.
func projectNode(rt models.ResourceType, raw json.RawMessage) (models.SearchResult, error) {
	var node map[string]interface{}
	if err := json.Unmarshal(raw, &node); err != nil {
		return models.SearchResult{}, faults.Upstream(0, "decode %s node: %v", rt, err)
	}

	r := models.SearchResult{
		ID:           str(node, "id"),
		ResourceType: rt,
		URL:          str(node, "url"),
		CreatedAt:    str(node, "createdAt"),
		UpdatedAt:    str(node, "updatedAt"),
	}

	switch rt {
	case models.ResourceIssue:
		r.Title = str(node, "title")
		r.Description = str(node, "description")
		r.Identifier = str(node, "identifier")
		r.Team = nestedStr(node, "team", "key")
		addData(&r, "priority", node["priority"])
		addData(&r, "estimate", node["estimate"])
		addData(&r, "state", nested(node, "state", "name"))
		addData(&r, "stateType", nested(node, "state", "type"))
		addData(&r, "assignee", nested(node, "assignee", "name"))
		addData(&r, "project", nested(node, "project", "name"))

	case models.ResourceProject:
		r.Title = str(node, "name")
		r.Description = str(node, "description")
		r.Team = firstTeamKey(node)
		addData(&r, "state", node["state"])
		addData(&r, "progress", node["progress"])
		addData(&r, "lead", nested(node, "lead", "name"))
		addData(&r, "startDate", node["startDate"])
		addData(&r, "targetDate", node["targetDate"])

	case models.ResourceTeam:
		r.Title = str(node, "name")
		r.Description = str(node, "description")
		r.Identifier = str(node, "key")
		addData(&r, "private", node["private"])

	case models.ResourceUser:
		r.Title = str(node, "name")
		addData(&r, "displayName", node["displayName"])
		addData(&r, "email", node["email"])
		addData(&r, "active", node["active"])
		addData(&r, "admin", node["admin"])

	case models.ResourceComment:
		// Comments have no title upstream; a body snippet stands in. The
		// full body stays in the description for scoring and highlighting.
		body := str(node, "body")
		r.Title = snippet(body, commentTitleLength)
		r.Description = body
		addData(&r, "author", nested(node, "user", "name"))
		addData(&r, "issue", nested(node, "issue", "identifier"))

	case models.ResourceLabel:
		r.Title = str(node, "name")
		r.Description = str(node, "description")
		r.Team = nestedStr(node, "team", "key")
		addData(&r, "color", node["color"])

	case models.ResourceCycle:
		r.Title = str(node, "name")
		if r.Title == "" {
			if n, ok := node["number"].(float64); ok {
				r.Title = fmt.Sprintf("Cycle %d", int(n))
			}
		}
		r.Team = nestedStr(node, "team", "key")
		addData(&r, "number", node["number"])
		addData(&r, "progress", node["progress"])
		addData(&r, "startsAt", node["startsAt"])
		addData(&r, "endsAt", node["endsAt"])

	case models.ResourceWorkflowState:
		r.Title = str(node, "name")
		r.Team = nestedStr(node, "team", "key")
		addData(&r, "type", node["type"])
		addData(&r, "color", node["color"])
		addData(&r, "position", node["position"])

	case models.ResourceCustomField:
		r.Title = str(node, "name")
		r.Team = nestedStr(node, "team", "key")
		addData(&r, "type", node["type"])
	}

	return r, nil
}

func str(node map[string]interface{}, key string) string {
	s, _ := node[key].(string)
	return s
}

// nestedStr returns node[a][b] as a string, or "" anywhere along the way.
func nestedStr(node map[string]interface{}, a, b string) string {
	s, _ := nested(node, a, b).(string)
	return s
}

func nested(node map[string]interface{}, a, b string) interface{} {
	obj, _ := node[a].(map[string]interface{})
	if obj == nil {
		return nil
	}
	return obj[b]
}

// addData records a value unless it is absent or an empty string.
func addData(r *models.SearchResult, key string, v interface{}) {
	if v == nil {
		return
	}
	if s, ok := v.(string); ok && s == "" {
		return
	}
	if r.AdditionalData == nil {
		r.AdditionalData = make(map[string]interface{})
	}
	r.AdditionalData[key] = v
}

// firstTeamKey pulls the key of the first team in a teams connection.
func firstTeamKey(node map[string]interface{}) string {
	teams, _ := node["teams"].(map[string]interface{})
	if teams == nil {
		return ""
	}
	nodes, _ := teams["nodes"].([]interface{})
	if len(nodes) == 0 {
		return ""
	}
	first, _ := nodes[0].(map[string]interface{})
	if first == nil {
		return ""
	}
	s, _ := first["key"].(string)
	return s
}

// snippet truncates at a word boundary for display titles.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

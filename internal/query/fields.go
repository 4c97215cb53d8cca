package query

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gantry-project/gantry/internal/models"
)

// typeMeta describes how one resource type maps onto the upstream schema:
// the query and filter type names, the public-field alias table, the fixed
// selection set, and which fields the upstream accepts in orderBy.
type typeMeta struct {
	queryName  string
	filterType string
	textPath   string
	selection  string
	aliases    map[string]string
	sortFields map[string]bool
}

func defaultMetas() map[models.ResourceType]*typeMeta {
	return map[models.ResourceType]*typeMeta{
		models.ResourceIssue: {
			queryName:  "issues",
			filterType: "IssueFilter",
			textPath:   "title",
			selection: "id identifier title description url priority estimate createdAt updatedAt completedAt archivedAt " +
				"state { id name type color } team { id name key } project { id name state } " +
				"assignee { id name displayName } labels { nodes { id name color } } parent { id identifier title }",
			aliases: map[string]string{
				"title":       "title",
				"description": "description",
				"priority":    "priority",
				"estimate":    "estimate",
				"number":      "number",
				"state":       "state.name",
				"stateType":   "state.type",
				"label":       "labels.nodes.name",
				"assignee":    "assignee.name",
				"creator":     "creator.name",
				"team":        "team.key",
				"project":     "project.name",
				"cycle":       "cycle.number",
				"parent":      "parent.id",
				"dueDate":     "dueDate",
				"createdAt":   "createdAt",
				"updatedAt":   "updatedAt",
				"completedAt": "completedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "priority": true, "title": true},
		},
		models.ResourceProject: {
			queryName:  "projects",
			filterType: "ProjectFilter",
			textPath:   "name",
			selection: "id name description url state progress startDate targetDate createdAt updatedAt archivedAt " +
				"lead { id name displayName } teams { nodes { id name key } }",
			aliases: map[string]string{
				"name":        "name",
				"description": "description",
				"state":       "state",
				"lead":        "lead.name",
				"creator":     "creator.name",
				"progress":    "progress",
				"startDate":   "startDate",
				"targetDate":  "targetDate",
				"createdAt":   "createdAt",
				"updatedAt":   "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true, "targetDate": true},
		},
		models.ResourceTeam: {
			queryName:  "teams",
			filterType: "TeamFilter",
			textPath:   "name",
			selection:  "id name key description private createdAt updatedAt",
			aliases: map[string]string{
				"name":        "name",
				"key":         "key",
				"description": "description",
				"private":     "private",
				"createdAt":   "createdAt",
				"updatedAt":   "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true},
		},
		models.ResourceUser: {
			queryName:  "users",
			filterType: "UserFilter",
			textPath:   "name",
			selection:  "id name displayName email active admin createdAt updatedAt",
			aliases: map[string]string{
				"name":        "name",
				"displayName": "displayName",
				"email":       "email",
				"active":      "active",
				"admin":       "admin",
				"createdAt":   "createdAt",
				"updatedAt":   "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true},
		},
		models.ResourceComment: {
			queryName:  "comments",
			filterType: "CommentFilter",
			textPath:   "body",
			selection:  "id body url createdAt updatedAt user { id name displayName } issue { id identifier title }",
			aliases: map[string]string{
				"body":      "body",
				"user":      "user.name",
				"issue":     "issue.id",
				"createdAt": "createdAt",
				"updatedAt": "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true},
		},
		models.ResourceLabel: {
			queryName:  "issueLabels",
			filterType: "IssueLabelFilter",
			textPath:   "name",
			selection:  "id name color description createdAt updatedAt team { id name key }",
			aliases: map[string]string{
				"name":        "name",
				"color":       "color",
				"description": "description",
				"team":        "team.key",
				"createdAt":   "createdAt",
				"updatedAt":   "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true},
		},
		models.ResourceCycle: {
			queryName:  "cycles",
			filterType: "CycleFilter",
			textPath:   "name",
			selection:  "id number name startsAt endsAt progress createdAt updatedAt team { id name key }",
			aliases: map[string]string{
				"name":      "name",
				"number":    "number",
				"team":      "team.key",
				"startsAt":  "startsAt",
				"endsAt":    "endsAt",
				"createdAt": "createdAt",
				"updatedAt": "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "number": true, "startsAt": true},
		},
		models.ResourceWorkflowState: {
			queryName:  "workflowStates",
			filterType: "WorkflowStateFilter",
			textPath:   "name",
			selection:  "id name type color position createdAt updatedAt team { id name key }",
			aliases: map[string]string{
				"name":      "name",
				"type":      "type",
				"position":  "position",
				"team":      "team.key",
				"createdAt": "createdAt",
				"updatedAt": "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true},
		},
		models.ResourceCustomField: {
			queryName:  "customFields",
			filterType: "CustomFieldFilter",
			textPath:   "name",
			selection:  "id name type createdAt updatedAt team { id name key }",
			aliases: map[string]string{
				"name":      "name",
				"type":      "type",
				"team":      "team.key",
				"createdAt": "createdAt",
				"updatedAt": "updatedAt",
			},
			sortFields: map[string]bool{"createdAt": true, "updatedAt": true, "name": true},
		},
	}
}

// Override adjusts one resource type's alias table or sortable fields from
// the resources config file. Aliases merge over the defaults; sortFields
// replace them when present.
type Override struct {
	Aliases    map[string]string `yaml:"aliases"`
	SortFields []string          `yaml:"sortFields"`
}

// LoadOverrides reads per-type field mapping overrides from a yaml file
// keyed by resource type name.
func LoadOverrides(path string) (map[string]Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field overrides: %w", err)
	}
	var out map[string]Override
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse field overrides: %w", err)
	}
	for name := range out {
		if _, err := models.ParseResourceType(name); err != nil {
			return nil, fmt.Errorf("field overrides: %w", err)
		}
	}
	return out, nil
}

func (m *typeMeta) apply(o Override) {
	for field, alias := range o.Aliases {
		m.aliases[field] = alias
	}
	if len(o.SortFields) > 0 {
		m.sortFields = make(map[string]bool, len(o.SortFields))
		for _, f := range o.SortFields {
			m.sortFields[f] = true
		}
	}
}

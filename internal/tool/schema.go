package tool

import "encoding/json"

// PropertyType represents a JSON Schema type
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeInteger PropertyType = "integer"
	TypeArray   PropertyType = "array"
	TypeObject  PropertyType = "object"
)

// Property defines a single property in a JSON Schema
type Property struct {
	Type        PropertyType `json:"type"`
	Description string       `json:"description,omitempty"`
	Enum        []string     `json:"enum,omitempty"`
	Items       *Property    `json:"items,omitempty"`       // For array types
	Properties  PropertyMap  `json:"properties,omitempty"`  // For nested objects
	Required    []string     `json:"required,omitempty"`    // For nested objects
}

// PropertyMap is a map of property names to their definitions
type PropertyMap map[string]Property

// Schema represents a JSON Schema for tool parameters
type Schema struct {
	Type       PropertyType `json:"type"`
	Properties PropertyMap  `json:"properties"`
	Required   []string     `json:"required,omitempty"`
}

// String returns the JSON representation of the schema
func (s Schema) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// missionSchema describes the mission input. withAfter adds the per-subtask
// "after" list, which only the graph tool honours.
func missionSchema(withAfter bool) Schema {
	subtask := PropertyMap{
		"id": {
			Type:        TypeString,
			Description: "Unique id of the subtask within this mission",
		},
		"agentId": {
			Type:        TypeString,
			Description: "Worker agent to delegate the subtask to",
		},
		"task": {
			Type:        TypeString,
			Description: "Instruction for the worker",
		},
	}
	if withAfter {
		subtask["after"] = Property{
			Type:        TypeArray,
			Description: "Ids of subtasks that must succeed first. If no subtask declares after, subtasks run one after another.",
			Items:       &Property{Type: TypeString},
		}
	}

	return Schema{
		Type: TypeObject,
		Properties: PropertyMap{
			"label": {
				Type:        TypeString,
				Description: "Short human-readable name for the mission",
			},
			"subtasks": {
				Type:        TypeArray,
				Description: "Subtasks to delegate, in the order they should be reported",
				Items: &Property{
					Type:       TypeObject,
					Properties: subtask,
					Required:   []string{"id", "agentId", "task"},
				},
			},
			"cleanup": {
				Type:        TypeString,
				Description: "What to do with worker sessions once the mission closes",
				Enum:        []string{"delete", "keep"},
			},
			"maxTotalSpawns": {
				Type:        TypeInteger,
				Description: "Maximum number of workers to launch. Defaults to the number of subtasks.",
			},
		},
		Required: []string{"subtasks"},
	}
}

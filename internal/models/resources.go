package models

import "fmt"

// Resource represents a generic API resource as returned by the framework.
type Resource map[string]interface{}

// ResourceClass identifies one remotely managed collection.
type ResourceClass string

const (
	Agent         ResourceClass = "agents"
	Workflow      ResourceClass = "workflows"
	ScheduledTask ResourceClass = "schedules"
	MemoryStore   ResourceClass = "memory"
)

// ResourceType describes how a resource class is listed and deleted.
type ResourceType struct {
	Class   ResourceClass `json:"class"`
	Label   string        `json:"label"`    // Human-readable: "Scheduled Tasks"
	APIPath string        `json:"api_path"` // "/agents"; for memory, the clear-all path
	IDField string        `json:"id_field"` // "name" or "id"; empty for memory
}

// Enumerable reports whether the class exposes listable identifiers.
func (rt ResourceType) Enumerable() bool {
	return rt.IDField != ""
}

// ItemPath returns the delete path for a single identifier. The identifier
// must already be escaped for use as a path segment.
func (rt ResourceType) ItemPath(escapedID string) string {
	return rt.APIPath + "/" + escapedID
}

// Endpoints maps each resource class to its API path.
type Endpoints struct {
	Agents      string `yaml:"agents" json:"agents"`
	Workflows   string `yaml:"workflows" json:"workflows"`
	Schedules   string `yaml:"schedules" json:"schedules"`
	MemoryClear string `yaml:"memory_clear" json:"memory_clear"`
}

// DefaultEndpoints returns the framework's stock paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Agents:      "/agents",
		Workflows:   "/workflows",
		Schedules:   "/schedule",
		MemoryClear: "/memory/clear-all",
	}
}

// Registry returns the resource types in cleanup order: schedules reference
// workflows and agents, so they go first.
func (e Endpoints) Registry() []ResourceType {
	return []ResourceType{
		{Class: ScheduledTask, Label: "Scheduled Tasks", APIPath: e.Schedules, IDField: "id"},
		{Class: Workflow, Label: "Workflows", APIPath: e.Workflows, IDField: "name"},
		{Class: Agent, Label: "Agents", APIPath: e.Agents, IDField: "name"},
		{Class: MemoryStore, Label: "Memory", APIPath: e.MemoryClear},
	}
}

// Lookup returns the resource type for a class.
func (e Endpoints) Lookup(class ResourceClass) (ResourceType, error) {
	for _, rt := range e.Registry() {
		if rt.Class == class {
			return rt, nil
		}
	}
	return ResourceType{}, fmt.Errorf("unknown resource class: %s", class)
}

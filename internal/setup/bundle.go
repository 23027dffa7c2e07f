// Package setup installs, exercises and removes the PURL analysis bundle: a
// fixed set of agents and the workflow that chains them.
package setup

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/rflorenc/oafctl/internal/models"
)

const (
	// WorkflowName is the bundle's entry point.
	WorkflowName = "purl-analysis"

	// InputKey is the context key the workflow expects on execute.
	InputKey = "purl"

	DefaultTestPURL   = "pkg:npm/lodash@4.17.21"
	DefaultWarmupPURL = "pkg:pypi/requests@2.31.0"
)

// Bundle is a set of agent and workflow definitions installed together.
type Bundle struct {
	Agents    []models.AgentDefinition
	Workflows []models.WorkflowDefinition
}

// AgentNames returns the bundle's agent names in definition order.
func (b Bundle) AgentNames() []string {
	names := make([]string, 0, len(b.Agents))
	for _, a := range b.Agents {
		names = append(names, a.Name)
	}
	return names
}

// WorkflowNames returns the bundle's workflow names in definition order.
func (b Bundle) WorkflowNames() []string {
	names := make([]string, 0, len(b.Workflows))
	for _, w := range b.Workflows {
		names = append(names, w.Name)
	}
	return names
}

// PURLBundle returns the package analysis bundle. An empty model leaves the
// framework's default in place.
func PURLBundle(model string) Bundle {
	agent := func(name, role, goals, backstory string, tools ...string) models.AgentDefinition {
		if tools == nil {
			tools = []string{}
		}
		return models.AgentDefinition{
			Name:        name,
			Role:        role,
			Goals:       goals,
			Backstory:   backstory,
			Tools:       tools,
			OllamaModel: model,
			Enabled:     true,
		}
	}

	return Bundle{
		Agents: []models.AgentDefinition{
			agent("purl_parser",
				"Package URL Parser",
				"Split a package URL into ecosystem, namespace, name and version",
				"You know the purl specification for every major package registry."),
			agent("license_analyzer",
				"License Analyst",
				"Identify the declared license of a package version and its obligations",
				"You have reviewed open source licenses for compliance teams for years.",
				"web_search"),
			agent("security_analyzer",
				"Security Analyst",
				"Find known vulnerabilities affecting a package version",
				"You triage CVE feeds and advisories for a software supply chain team.",
				"web_search"),
			agent("report_writer",
				"Report Writer",
				"Summarize license and security findings as a short risk report",
				"You write concise reports that engineers actually read."),
		},
		Workflows: []models.WorkflowDefinition{{
			Name:        WorkflowName,
			Description: "Parse a package URL, then research its license and vulnerabilities and summarize the risk",
			Enabled:     true,
			Steps: []models.WorkflowStep{
				{
					Type:       models.StepAgent,
					Name:       "purl_parser",
					Task:       "Parse the package URL {{purl}} and return JSON with type, namespace, name and version.",
					ContextKey: "parsed_purl",
				},
				{
					Type: models.StepTool,
					Name: "web_search",
					Parameters: map[string]interface{}{
						"query":       "{{parsed_purl.name}} {{parsed_purl.version}} license",
						"max_results": 5,
					},
					ContextKey: "license_search",
				},
				{
					Type:       models.StepAgent,
					Name:       "license_analyzer",
					Task:       "Using {{license_search}}, determine the license of {{parsed_purl.name}} {{parsed_purl.version}}.",
					ContextKey: "license_info",
				},
				{
					Type:       models.StepAgent,
					Name:       "security_analyzer",
					Task:       "List known vulnerabilities for {{parsed_purl.type}} package {{parsed_purl.name}} at version {{parsed_purl.version}}.",
					ContextKey: "security_info",
				},
				{
					Type:       models.StepAgent,
					Name:       "report_writer",
					Task:       "Write a risk report for {{purl}} from {{license_info}} and {{security_info}}.",
					ContextKey: "report",
				},
			},
		}},
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)(?:\.[A-Za-z0-9_.]+)?\s*\}\}`)

// Placeholders returns the context keys referenced by {{key}} or
// {{key.field}} in s, in order of appearance.
func Placeholders(s string) []string {
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// ValidateWorkflow checks that each step is well formed and that every
// placeholder resolves to an input key or the context_key of an earlier step.
func ValidateWorkflow(wf models.WorkflowDefinition, inputKeys ...string) error {
	if wf.Name == "" {
		return errors.New("workflow has no name")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", wf.Name)
	}

	known := map[string]bool{}
	for _, k := range inputKeys {
		known[k] = true
	}

	var errs []error
	for i, step := range wf.Steps {
		where := fmt.Sprintf("workflow %s step %d (%s)", wf.Name, i+1, step.Name)
		if step.Name == "" {
			errs = append(errs, fmt.Errorf("%s: missing name", where))
		}
		var refs []string
		switch step.Type {
		case models.StepAgent:
			if step.Task == "" {
				errs = append(errs, fmt.Errorf("%s: agent step has no task", where))
			}
			refs = Placeholders(step.Task)
		case models.StepTool:
			for _, s := range stringValues(step.Parameters) {
				refs = append(refs, Placeholders(s)...)
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown step type %q", where, step.Type))
		}
		for _, ref := range refs {
			if !known[ref] {
				errs = append(errs, fmt.Errorf("%s: unresolved placeholder {{%s}}", where, ref))
			}
		}
		if step.ContextKey != "" {
			if known[step.ContextKey] {
				errs = append(errs, fmt.Errorf("%s: context_key %q already defined", where, step.ContextKey))
			}
			known[step.ContextKey] = true
		}
	}
	return errors.Join(errs...)
}

// Validate checks every workflow and that agent steps name a bundle agent.
func (b Bundle) Validate() error {
	agents := map[string]bool{}
	for _, a := range b.Agents {
		if a.Name == "" {
			return errors.New("agent definition has no name")
		}
		agents[a.Name] = true
	}

	var errs []error
	for _, wf := range b.Workflows {
		if err := ValidateWorkflow(wf, InputKey); err != nil {
			errs = append(errs, err)
		}
		for _, step := range wf.Steps {
			if step.Type == models.StepAgent && !agents[step.Name] {
				errs = append(errs, fmt.Errorf("workflow %s: agent %q is not part of the bundle", wf.Name, step.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// stringValues collects every string nested in v, sorted by map key so
// errors come out in a stable order.
func stringValues(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, stringValues(t[k])...)
		}
		return out
	case []interface{}:
		var out []string
		for _, e := range t {
			out = append(out, stringValues(e)...)
		}
		return out
	case []string:
		return t
	}
	return nil
}

// Package parser loads plan files. YAML and JSON carry the canonical
// phased schema; a deprecated flat schema is accepted and upgraded on
// read; Markdown plans are parsed from headings and metadata lists.
// Unknown top-level keys produce warnings, unknown task fields are
// rejected.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chopstack/chopstack/internal/models"
)

// knownTopLevelKeys are the canonical plan-file keys. Anything else is
// tolerated with a warning.
var knownTopLevelKeys = map[string]bool{
	"name":           true,
	"strategy":       true,
	"mode":           true,
	"phases":         true,
	"tasks":          true,
	"successMetrics": true,
}

// planFile is the wire shape of a canonical plan. Task nodes are decoded
// individually so unknown task fields can be rejected with the offending
// task named.
type planFile struct {
	Name           string              `yaml:"name" json:"name"`
	Strategy       models.PlanStrategy `yaml:"strategy" json:"strategy"`
	Mode           models.PlanMode     `yaml:"mode" json:"mode"`
	Phases         []models.Phase      `yaml:"phases" json:"phases"`
	Tasks          []yaml.Node         `yaml:"tasks" json:"tasks"`
	SuccessMetrics []string            `yaml:"successMetrics" json:"successMetrics"`
}

// ParsePlanFile loads a plan from path. The extension selects the format:
// .yaml/.yml and .json parse as the canonical schema (YAML is a superset
// of JSON, so one decoder serves both), .md as Markdown. Returns the plan,
// any warnings, and an error for malformed input.
func ParsePlanFile(path string) (*models.Plan, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan *models.Plan
	var warnings []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		plan, warnings, err = ParsePlan(data)
	case ".md", ".markdown":
		plan, err = ParseMarkdownPlan(data)
	default:
		return nil, nil, fmt.Errorf("unsupported plan format %q (want .yaml, .yml, .json or .md)", filepath.Ext(path))
	}
	if err != nil {
		return nil, warnings, err
	}

	plan.FilePath = path
	return plan, warnings, nil
}

// ParsePlan parses canonical YAML/JSON plan bytes.
func ParsePlan(data []byte) (*models.Plan, []string, error) {
	warnings := unknownTopLevelWarnings(data)

	var wire planFile
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, warnings, fmt.Errorf("failed to parse plan: %w", err)
	}

	plan := &models.Plan{
		Name:           wire.Name,
		Strategy:       wire.Strategy,
		Mode:           wire.Mode,
		Phases:         wire.Phases,
		SuccessMetrics: wire.SuccessMetrics,
	}

	for i := range wire.Tasks {
		task, legacy, err := decodeTask(&wire.Tasks[i])
		if err != nil {
			return nil, warnings, fmt.Errorf("task %d: %w", i+1, err)
		}
		if legacy {
			warnings = append(warnings, fmt.Sprintf("task %s uses the deprecated flat schema; rewrite it with files/dependencies/complexity", task.ID))
		}
		plan.Tasks = append(plan.Tasks, task)
	}

	plan.ApplyPhaseOrdering()
	return plan, warnings, nil
}

// unknownTopLevelWarnings reports top-level keys outside the canonical
// schema. Tolerated so older tools can annotate plans.
func unknownTopLevelWarnings(data []byte) []string {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var unknown []string
	for key := range raw {
		if !knownTopLevelKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	var warnings []string
	for _, key := range unknown {
		warnings = append(warnings, fmt.Sprintf("ignoring unknown top-level key %q", key))
	}
	return warnings
}

// legacyTask is the deprecated flat schema.
type legacyTask struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	AgentPrompt    string   `yaml:"agentPrompt"`
	Touches        []string `yaml:"touches"`
	Produces       []string `yaml:"produces"`
	Requires       []string `yaml:"requires"`
	EstimatedLines int      `yaml:"estimatedLines"`
	MaxRetries     int      `yaml:"maxRetries"`
}

// legacyMarkers identify a task written in the flat schema.
var legacyMarkers = map[string]bool{
	"touches":        true,
	"produces":       true,
	"requires":       true,
	"agentPrompt":    true,
	"estimatedLines": true,
}

// decodeTask decodes one task node, upgrading the deprecated flat schema
// and rejecting unknown fields in either shape.
func decodeTask(node *yaml.Node) (models.Task, bool, error) {
	keys, err := mappingKeys(node)
	if err != nil {
		return models.Task{}, false, err
	}

	legacy := false
	for _, key := range keys {
		if legacyMarkers[key] {
			legacy = true
			break
		}
	}

	if legacy {
		var lt legacyTask
		if err := strictDecode(node, &lt); err != nil {
			return models.Task{}, true, fmt.Errorf("unknown task field: %w", err)
		}
		return upgradeLegacyTask(lt), true, nil
	}

	var task models.Task
	if err := strictDecode(node, &task); err != nil {
		return models.Task{}, false, fmt.Errorf("unknown task field: %w", err)
	}
	return task, false, nil
}

// upgradeLegacyTask maps the flat schema onto the canonical one: touches
// and produces merge into files, requires becomes dependencies, the line
// estimate buckets into a complexity rating.
func upgradeLegacyTask(lt legacyTask) models.Task {
	files := append([]string{}, lt.Touches...)
	for _, f := range lt.Produces {
		found := false
		for _, existing := range files {
			if existing == f {
				found = true
				break
			}
		}
		if !found {
			files = append(files, f)
		}
	}

	return models.Task{
		ID:           lt.ID,
		Name:         lt.Name,
		Description:  lt.AgentPrompt,
		Files:        files,
		Dependencies: lt.Requires,
		Complexity:   complexityFromLines(lt.EstimatedLines),
		MaxRetries:   lt.MaxRetries,
	}
}

func complexityFromLines(lines int) models.Complexity {
	switch {
	case lines <= 0:
		return models.ComplexityM
	case lines <= 20:
		return models.ComplexityXS
	case lines <= 50:
		return models.ComplexityS
	case lines <= 150:
		return models.ComplexityM
	case lines <= 300:
		return models.ComplexityL
	default:
		return models.ComplexityXL
	}
}

// mappingKeys returns the keys of a YAML mapping node.
func mappingKeys(node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("task must be a mapping")
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys, nil
}

// strictDecode re-decodes a node rejecting fields the target does not
// declare.
func strictDecode(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// MarshalYAML serializes a plan to canonical YAML. Runtime fields are
// excluded, so Parse(Marshal(plan)) reproduces the plan.
func MarshalYAML(plan *models.Plan) ([]byte, error) {
	return yaml.Marshal(plan)
}

// MarshalJSON serializes a plan to canonical JSON.
func MarshalJSON(plan *models.Plan) ([]byte, error) {
	return json.MarshalIndent(plan, "", "  ")
}

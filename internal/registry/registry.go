// Package registry holds the closed set of tool definitions shared by the
// orchestration server and the workspace client. Definitions are compiled
// once at startup and the registry is read-only afterwards.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Tool names. The set is closed; peers must agree on it.
const (
	ToolReadFile        = "read_file"
	ToolWriteToFile     = "write_to_file"
	ToolInsertContent   = "insert_content"
	ToolSearchReplace   = "search_and_replace"
	ToolSearchFiles     = "search_files"
	ToolListFiles       = "list_files"
	ToolListCodeDefs    = "list_code_definition_names"
	ToolExecuteCommand  = "execute_command"
	ToolAskFollowup     = "ask_followup_question"
	ToolAttemptComplete = "attempt_completion"
	ToolUpdateTodoList  = "update_todo_list"
)

type toolSpec struct {
	description      string
	schema           string
	risk             models.RiskLevel
	requiresApproval bool
}

var toolSpecs = map[string]toolSpec{
	ToolReadFile: {
		description: "Read a file from the workspace, optionally limited to a 1-based inclusive line range.",
		risk:        models.RiskLow,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"line_range": {
					"type": "array",
					"items": {"type": "integer", "minimum": 1},
					"minItems": 2,
					"maxItems": 2
				}
			},
			"required": ["path"]
		}`,
	},
	ToolWriteToFile: {
		description:      "Create or overwrite a file with the given content. A backup is taken before overwriting.",
		risk:             models.RiskMedium,
		requiresApproval: true,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"content": {"type": "string"},
				"line_count": {"type": "integer", "minimum": 0}
			},
			"required": ["path", "content", "line_count"]
		}`,
	},
	ToolInsertContent: {
		description:      "Insert content at a 1-based line number; line N+1 appends to a file of N lines.",
		risk:             models.RiskMedium,
		requiresApproval: true,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"line_number": {"type": "integer", "minimum": 0},
				"content": {"type": "string"}
			},
			"required": ["path", "line_number", "content"]
		}`,
	},
	ToolSearchReplace: {
		description:      "Replace every occurrence of a literal search string in a file.",
		risk:             models.RiskMedium,
		requiresApproval: true,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"search": {"type": "string", "minLength": 1},
				"replace": {"type": "string"}
			},
			"required": ["path", "search", "replace"]
		}`,
	},
	ToolSearchFiles: {
		description: "Search files under a directory with a case-insensitive regex, optionally filtered by a filename glob.",
		risk:        models.RiskLow,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"regex": {"type": "string", "minLength": 1},
				"file_pattern": {"type": "string"}
			},
			"required": ["path", "regex"]
		}`,
	},
	ToolListFiles: {
		description: "List files and directories, one level deep or recursively.",
		risk:        models.RiskMinimal,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"recursive": {"type": "boolean"}
			},
			"required": ["path"]
		}`,
	},
	ToolListCodeDefs: {
		description: "List function, type, and class definition names found in source files under a path.",
		risk:        models.RiskLow,
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1}
			},
			"required": ["path"]
		}`,
	},
	ToolExecuteCommand: {
		description:      "Run a shell command inside the workspace with a wall-clock timeout.",
		risk:             models.RiskHigh,
		requiresApproval: true,
		schema: `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "minLength": 1},
				"timeout": {"type": "integer", "minimum": 1}
			},
			"required": ["command"]
		}`,
	},
	ToolAskFollowup: {
		description: "Ask the user a clarifying question and wait for the answer.",
		risk:        models.RiskMinimal,
		schema: `{
			"type": "object",
			"properties": {
				"question": {"type": "string", "minLength": 1}
			},
			"required": ["question"]
		}`,
	},
	ToolAttemptComplete: {
		description: "Present the final result of the task to the user.",
		risk:        models.RiskMinimal,
		schema: `{
			"type": "object",
			"properties": {
				"result": {"type": "string", "minLength": 1}
			},
			"required": ["result"]
		}`,
	},
	ToolUpdateTodoList: {
		description: "Replace the session todo list shown to the user.",
		risk:        models.RiskMinimal,
		schema: `{
			"type": "object",
			"properties": {
				"todos": {"type": "string", "minLength": 1}
			},
			"required": ["todos"]
		}`,
	},
}

// Registry is the immutable tool table. Construct once with New and share
// by reference.
type Registry struct {
	defs    map[string]models.ToolDefinition
	schemas map[string]*jsonschema.Schema
	names   []string
}

// New compiles every tool schema and returns the registry.
func New() (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]models.ToolDefinition, len(toolSpecs)),
		schemas: make(map[string]*jsonschema.Schema, len(toolSpecs)),
	}
	for name, spec := range toolSpecs {
		compiled, err := jsonschema.CompileString("tool_"+name, spec.schema)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		r.schemas[name] = compiled
		r.defs[name] = models.ToolDefinition{
			Name:             name,
			Description:      spec.description,
			Schema:           json.RawMessage(spec.schema),
			RiskLevel:        spec.risk,
			RequiresApproval: spec.requiresApproval,
		}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// MustNew is New for initialisation paths where a schema failure is a bug.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (models.ToolDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Has reports whether the name is in the closed set.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Risk returns the risk level for a tool, defaulting to high for names
// outside the closed set.
func (r *Registry) Risk(name string) models.RiskLevel {
	if def, ok := r.defs[name]; ok {
		return def.RiskLevel
	}
	return models.RiskHigh
}

// ValidateParams checks flat parameters against the tool's schema.
// Parameters are normalised through JSON so integer and float forms of
// the same number validate identically.
func (r *Registry) ValidateParams(name string, params map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("parameters for %s: %w", name, err)
	}
	return nil
}

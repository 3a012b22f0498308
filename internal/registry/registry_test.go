package registry

import (
	"testing"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

func TestRegistryClosedSet(t *testing.T) {
	r := MustNew()
	for _, name := range []string{
		ToolReadFile, ToolWriteToFile, ToolInsertContent, ToolSearchReplace,
		ToolSearchFiles, ToolListFiles, ToolListCodeDefs, ToolExecuteCommand,
		ToolAskFollowup, ToolAttemptComplete, ToolUpdateTodoList,
	} {
		if !r.Has(name) {
			t.Errorf("missing tool %s", name)
		}
	}
	if r.Has("browser_action") {
		t.Error("browser_action must not be registered")
	}
	if got := r.Risk("no_such_tool"); got != models.RiskHigh {
		t.Errorf("unknown tools default to high risk, got %s", got)
	}
}

func TestValidateParams(t *testing.T) {
	r := MustNew()
	tests := []struct {
		name    string
		tool    string
		params  map[string]any
		wantErr bool
	}{
		{"read ok", ToolReadFile, map[string]any{"path": "a.go"}, false},
		{"read with range", ToolReadFile, map[string]any{"path": "a.go", "line_range": []int{1, 5}}, false},
		{"read empty path", ToolReadFile, map[string]any{"path": ""}, true},
		{"read missing path", ToolReadFile, map[string]any{}, true},
		{"write ok", ToolWriteToFile, map[string]any{"path": "a.go", "content": "", "line_count": 0}, false},
		{"write negative count", ToolWriteToFile, map[string]any{"path": "a.go", "content": "x", "line_count": -1}, true},
		{"write missing count", ToolWriteToFile, map[string]any{"path": "a.go", "content": "x"}, true},
		{"insert ok", ToolInsertContent, map[string]any{"path": "a.go", "line_number": 1, "content": "x"}, false},
		{"insert negative line", ToolInsertContent, map[string]any{"path": "a.go", "line_number": -2, "content": "x"}, true},
		{"exec ok", ToolExecuteCommand, map[string]any{"command": "ls -la"}, false},
		{"exec empty", ToolExecuteCommand, map[string]any{"command": ""}, true},
		{"list ok", ToolListFiles, map[string]any{"path": ".", "recursive": true}, false},
		{"list bad recursive", ToolListFiles, map[string]any{"path": ".", "recursive": "yes"}, true},
		{"search ok", ToolSearchFiles, map[string]any{"path": ".", "regex": "TODO"}, false},
		{"unknown tool", "browser_action", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateParams(tt.tool, tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

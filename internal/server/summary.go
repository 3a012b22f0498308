package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Truncation limits for re-injected tool output.
const (
	summaryContentChars = 200
	summaryOutputChars  = 300
)

// toolResultPrefix marks re-injected tool outcomes; the agentic safety
// budget counts messages carrying it.
const toolResultPrefix = "Tool result:"

// summarizeResult renders a tool outcome as the short message fed back
// into conversation memory. The shape depends on the tool.
func summarizeResult(toolName string, params map[string]any, result *models.ToolResult) string {
	if result.IsError() {
		return fmt.Sprintf("Tool failed: %s", result.ErrorMessage())
	}

	switch toolName {
	case registry.ToolListFiles:
		return summarizeListing(result)

	case registry.ToolWriteToFile:
		path, _ := params["path"].(string)
		verb := "Updated"
		if created, _ := result.Metadata["created"].(bool); created {
			verb = "Created"
		}
		return fmt.Sprintf("%s %s file %s (%d bytes)",
			toolResultPrefix, verb, path, metadataInt(result.Metadata, "bytes"))

	case registry.ToolReadFile:
		path, _ := params["path"].(string)
		content, _ := result.Data.(string)
		return fmt.Sprintf("%s Read %s (%d chars). Content: %s...",
			toolResultPrefix, path, len(content), truncate(content, summaryContentChars))

	case registry.ToolExecuteCommand:
		command, _ := params["command"].(string)
		stdout, _ := result.Data.(string)
		if stdout == "" {
			stdout, _ = result.Metadata["stdout"].(string)
		}
		return fmt.Sprintf("%s Executed '%s'. Output: %s",
			toolResultPrefix, command, truncate(stdout, summaryOutputChars))

	default:
		return fmt.Sprintf("%s Operation completed successfully. Data: %s",
			toolResultPrefix, truncate(formatData(result.Data), summaryContentChars))
	}
}

// denialMessage is the memory entry for a denied tool call.
func denialMessage(toolName, feedback string) string {
	if feedback == "" {
		feedback = "No reason given"
	}
	return fmt.Sprintf("%s '%s' was denied by the user. Reason: %s. "+
		"Please acknowledge this and consider alternative approaches.",
		toolResultPrefix, toolName, feedback)
}

// summarizeListing renders a list_files result. The listing may be the
// native struct (same-process tests) or a decoded JSON map (off the wire).
func summarizeListing(result *models.ToolResult) string {
	directories, files := listingEntries(result.Data)
	if len(directories) == 0 && len(files) == 0 {
		return "No files or directories found in the workspace."
	}

	var b strings.Builder
	b.WriteString(toolResultPrefix)
	b.WriteString(" Directories: ")
	b.WriteString(strings.Join(directories, ", "))
	b.WriteString("; Files: ")
	b.WriteString(strings.Join(files, ", "))
	return b.String()
}

type listingView struct {
	Files []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"files"`
	Directories []struct {
		Name string `json:"name"`
	} `json:"directories"`
}

// listingEntries normalises the two possible shapes through JSON.
func listingEntries(data any) (directories, files []string) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil
	}
	var view listingView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, nil
	}
	for _, d := range view.Directories {
		directories = append(directories, d.Name)
	}
	for _, f := range view.Files {
		files = append(files, fmt.Sprintf("%s (%d b)", f.Name, f.Size))
	}
	return directories, files
}

// truncate cuts at the byte limit, backing off to a rune boundary so
// re-injected context never carries a split multi-byte sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func formatData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// metadataInt reads a numeric metadata value that may have crossed the
// wire as a JSON float.
func metadataInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

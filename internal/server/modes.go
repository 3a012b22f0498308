package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Mode is the session operating mode. It restricts which tools the
// model may invoke and with what parameters.
type Mode string

const (
	ModeCode      Mode = "code"
	ModeAsk       Mode = "ask"
	ModeArchitect Mode = "architect"
	ModeDebug     Mode = "debug"
	ModeReview    Mode = "review"
)

// ParseMode normalises a mode string, defaulting to code.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAsk:
		return ModeAsk
	case ModeArchitect:
		return ModeArchitect
	case ModeDebug:
		return ModeDebug
	case ModeReview:
		return ModeReview
	default:
		return ModeCode
	}
}

// readOnlyTools are available in every restricted mode.
var readOnlyTools = []string{
	registry.ToolReadFile,
	registry.ToolListFiles,
	registry.ToolSearchFiles,
	registry.ToolListCodeDefs,
}

// askTools adds the conversational terminals to the read set.
var askTools = append(append([]string{}, readOnlyTools...),
	registry.ToolAskFollowup,
	registry.ToolAttemptComplete,
)

// architectWriteTools may modify files in architect mode, but only
// documentation files.
var architectWriteTools = map[string]bool{
	registry.ToolWriteToFile:   true,
	registry.ToolInsertContent: true,
	registry.ToolSearchReplace: true,
}

// architectExtensions are the file extensions architect mode may write.
var architectExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".rst": true,
}

// debugCommandPrefixes are the command heads debug mode may execute.
var debugCommandPrefixes = []string{
	"ls", "cat", "grep", "find", "ps", "netstat", "tail", "head",
	"python", "node", "go", "cargo", "npm", "git",
}

// modeTools maps each restricted mode to its allowed tool names. Code
// mode is absent: it allows the whole registry.
var modeTools = map[Mode]map[string]bool{
	ModeAsk:       toolSet(askTools...),
	ModeArchitect: toolSet(append(append([]string{}, askTools...), registry.ToolWriteToFile, registry.ToolInsertContent, registry.ToolSearchReplace, registry.ToolUpdateTodoList)...),
	ModeDebug:     toolSet(append(append([]string{}, askTools...), registry.ToolExecuteCommand)...),
	ModeReview:    toolSet(append(append([]string{}, readOnlyTools...), registry.ToolAttemptComplete)...),
}

func toolSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// Verdict is the outcome of a mode check for one tool call.
type Verdict struct {
	Allowed bool
	Reason  string
	// Risk is the effective risk level, possibly revised downward.
	Risk models.RiskLevel
}

// ModeFilter evaluates tool calls against the session's operating mode.
// Calls that fail are short-circuited as denied without reaching the
// user or the executor.
type ModeFilter struct {
	reg *registry.Registry
}

// NewModeFilter creates a filter over the closed tool set.
func NewModeFilter(reg *registry.Registry) *ModeFilter {
	return &ModeFilter{reg: reg}
}

// Evaluate checks a call under the given mode.
func (f *ModeFilter) Evaluate(mode Mode, call models.ToolCall) Verdict {
	risk := f.reg.Risk(call.Name)
	if !f.reg.Has(call.Name) {
		return Verdict{Reason: fmt.Sprintf("unknown tool '%s'", call.Name), Risk: risk}
	}
	if mode == ModeCode {
		return Verdict{Allowed: true, Risk: risk}
	}
	allowed, ok := modeTools[mode]
	if !ok {
		return Verdict{Allowed: true, Risk: risk}
	}
	if !allowed[call.Name] {
		return Verdict{
			Reason: fmt.Sprintf("tool '%s' is not available in %s mode", call.Name, mode),
			Risk:   risk,
		}
	}

	switch mode {
	case ModeArchitect:
		if architectWriteTools[call.Name] {
			path, _ := call.Parameters["path"].(string)
			ext := strings.ToLower(filepath.Ext(path))
			if !architectExtensions[ext] {
				return Verdict{
					Reason: fmt.Sprintf("architect mode only modifies documentation files (.md, .txt, .rst), not '%s'", path),
					Risk:   risk,
				}
			}
			// Documentation edits carry less blast radius.
			if models.RiskLow.LowerThan(risk) {
				risk = models.RiskLow
			}
		}
	case ModeDebug:
		if call.Name == registry.ToolExecuteCommand {
			command, _ := call.Parameters["command"].(string)
			if !hasDebugPrefix(command) {
				return Verdict{
					Reason: fmt.Sprintf("debug mode only allows diagnostic commands (%s)", strings.Join(debugCommandPrefixes, ", ")),
					Risk:   risk,
				}
			}
		}
	case ModeReview:
		if call.Name == registry.ToolListFiles {
			if recursive, _ := call.Parameters["recursive"].(bool); recursive {
				return Verdict{
					Reason: "review mode limits list_files to a single directory level",
					Risk:   risk,
				}
			}
		}
	}

	return Verdict{Allowed: true, Risk: risk}
}

func hasDebugPrefix(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	for _, prefix := range debugCommandPrefixes {
		if fields[0] == prefix {
			return true
		}
	}
	return false
}

package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gambiarra-ai/gambiarra/internal/filectx"
	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/internal/sandbox"
	"github.com/gambiarra-ai/gambiarra/internal/tools/files"
	"github.com/gambiarra-ai/gambiarra/internal/tools/shell"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// Runner executes approved tool calls against the workspace. Every path
// goes through the path sandbox and every command through the command
// sandbox again here; approval upstream does not relax the boundary.
type Runner struct {
	paths    *sandbox.PathSandbox
	commands *sandbox.CommandSandbox
	tracker  *filectx.Tracker
	shell    *shell.Runner
	logger   *slog.Logger

	// AskUser handles ask_followup_question. Nil means the tool fails.
	AskUser func(ctx context.Context, question string) (string, error)
	// OnCompletion receives the attempt_completion result text.
	OnCompletion func(result string)
	// OnTodos receives the replacement todo list.
	OnTodos func(todos string)
}

// NewRunner creates a runner rooted at the sandbox's workspace.
func NewRunner(paths *sandbox.PathSandbox, tracker *filectx.Tracker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		paths:    paths,
		commands: sandbox.NewCommandSandbox(),
		tracker:  tracker,
		shell:    shell.NewRunner(paths.Root()),
		logger:   logger,
	}
}

// Shell exposes the underlying command runner for output streaming hooks.
func (r *Runner) Shell() *shell.Runner {
	return r.shell
}

// Execute dispatches one tool call. Parameters are the flat form.
func (r *Runner) Execute(ctx context.Context, name string, params map[string]any) *models.ToolResult {
	start := time.Now()
	result := r.dispatch(ctx, name, params)
	r.logger.Debug("tool executed",
		"tool", name,
		"status", result.Status,
		"duration_ms", time.Since(start).Milliseconds())
	return result
}

func (r *Runner) dispatch(ctx context.Context, name string, params map[string]any) *models.ToolResult {
	switch name {
	case registry.ToolReadFile:
		return r.readFile(params)
	case registry.ToolWriteToFile:
		return r.writeToFile(params)
	case registry.ToolInsertContent:
		return r.insertContent(params)
	case registry.ToolSearchReplace:
		return r.searchReplace(params)
	case registry.ToolSearchFiles:
		return r.searchFiles(params)
	case registry.ToolListFiles:
		return r.listFiles(params)
	case registry.ToolListCodeDefs:
		return r.listCodeDefs(params)
	case registry.ToolExecuteCommand:
		return r.executeCommand(ctx, params)
	case registry.ToolAskFollowup:
		return r.askFollowup(ctx, params)
	case registry.ToolAttemptComplete:
		return r.attemptCompletion(params)
	case registry.ToolUpdateTodoList:
		return r.updateTodoList(params)
	default:
		return models.ErrorResult(protocol.ErrCodeToolNotFound,
			fmt.Sprintf("unknown tool: %s", name))
	}
}

func (r *Runner) readFile(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	result = files.Read(path, paramLineRange(params, "line_range"))
	if !result.IsError() {
		if content, ok := result.Data.(string); ok {
			r.tracker.OnRead(path, content)
		}
	}
	return result
}

func (r *Runner) writeToFile(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	content, _ := params["content"].(string)
	result = files.Write(path, content, paramInt(params, "line_count"))
	if !result.IsError() {
		r.tracker.OnWrite(path, content)
	}
	return result
}

func (r *Runner) insertContent(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	content, _ := params["content"].(string)
	result = files.Insert(path, paramInt(params, "line_number"), content)
	if !result.IsError() {
		r.trackDiskWrite(path)
	}
	return result
}

func (r *Runner) searchReplace(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	search, _ := params["search"].(string)
	replace, _ := params["replace"].(string)
	result = files.SearchReplace(path, search, replace)
	if !result.IsError() {
		r.trackDiskWrite(path)
	}
	return result
}

func (r *Runner) searchFiles(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	regex, _ := params["regex"].(string)
	filePattern, _ := params["file_pattern"].(string)
	return files.Search(path, regex, filePattern)
}

func (r *Runner) listFiles(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	recursive, _ := params["recursive"].(bool)
	return files.List(path, recursive)
}

func (r *Runner) listCodeDefs(params map[string]any) *models.ToolResult {
	path, result := r.resolvePath(params)
	if result != nil {
		return result
	}
	return files.CodeDefinitions(path)
}

func (r *Runner) executeCommand(ctx context.Context, params map[string]any) *models.ToolResult {
	command, _ := params["command"].(string)
	if err := r.commands.Check(command); err != nil {
		return models.ErrorResult(protocol.ErrCodeSecurity,
			fmt.Sprintf("command rejected: %v", err))
	}
	timeout := time.Duration(paramInt(params, "timeout")) * time.Second
	return r.shell.Run(ctx, command, timeout)
}

func (r *Runner) askFollowup(ctx context.Context, params map[string]any) *models.ToolResult {
	question, _ := params["question"].(string)
	if r.AskUser == nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			"no user is available to answer a followup question")
	}
	answer, err := r.AskUser(ctx, question)
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("collect answer: %v", err))
	}
	result := models.SuccessResult(answer)
	result.Metadata = map[string]any{"question": question}
	return result
}

func (r *Runner) attemptCompletion(params map[string]any) *models.ToolResult {
	text, _ := params["result"].(string)
	if r.OnCompletion != nil {
		r.OnCompletion(text)
	}
	return models.SuccessResult(text)
}

func (r *Runner) updateTodoList(params map[string]any) *models.ToolResult {
	todos, _ := params["todos"].(string)
	if r.OnTodos != nil {
		r.OnTodos(todos)
	}
	result := models.SuccessResult("todo list updated")
	result.Metadata = map[string]any{"todos": todos}
	return result
}

// resolvePath validates params["path"] through the sandbox. Rejections
// come back as SECURITY_ERROR results.
func (r *Runner) resolvePath(params map[string]any) (string, *models.ToolResult) {
	raw, _ := params["path"].(string)
	resolved, err := r.paths.Validate(raw)
	if err != nil {
		return "", models.ErrorResult(protocol.ErrCodeSecurity,
			fmt.Sprintf("path rejected: %v", err))
	}
	return resolved, nil
}

// trackDiskWrite records a write using the content now on disk, so the
// tracker's hash reflects the actual post-edit file.
func (r *Runner) trackDiskWrite(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		raw = nil
	}
	r.tracker.OnWrite(path, string(raw))
}

// paramInt reads an integer parameter that may arrive as a JSON float.
func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
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

// paramLineRange reads a two-element line range in any of the numeric
// forms JSON decoding produces. Anything malformed is treated as absent.
func paramLineRange(params map[string]any, key string) []int {
	switch v := params[key].(type) {
	case []int:
		if len(v) == 2 {
			return v
		}
	case []any:
		if len(v) != 2 {
			return nil
		}
		out := make([]int, 2)
		for i, item := range v {
			switch n := item.(type) {
			case int:
				out[i] = n
			case float64:
				out[i] = int(n)
			default:
				return nil
			}
		}
		return out
	}
	return nil
}

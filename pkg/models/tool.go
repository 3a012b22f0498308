package models

import (
	"encoding/json"
	"time"
)

// RiskLevel classifies how much damage a tool can do to the workspace.
type RiskLevel string

const (
	// RiskMinimal covers tools with no side effects (listing, bookkeeping).
	RiskMinimal RiskLevel = "minimal"
	// RiskLow covers read-only tools.
	RiskLow RiskLevel = "low"
	// RiskMedium covers tools that modify files inside the workspace.
	RiskMedium RiskLevel = "medium"
	// RiskHigh covers tools that run arbitrary commands.
	RiskHigh RiskLevel = "high"
)

// riskOrder ranks risk levels for comparisons and downward revisions.
var riskOrder = map[RiskLevel]int{
	RiskMinimal: 0,
	RiskLow:     1,
	RiskMedium:  2,
	RiskHigh:    3,
}

// LowerThan reports whether r is a strictly lower risk than other.
func (r RiskLevel) LowerThan(other RiskLevel) bool {
	return riskOrder[r] < riskOrder[other]
}

// ToolDefinition describes one entry in the closed tool set. Both peers
// must agree on the set of names; the registry is the single source.
type ToolDefinition struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Schema           json.RawMessage `json:"schema"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	RequiresApproval bool            `json:"requires_approval"`
}

// ToolCall is a single parsed tool invocation extracted from assistant text.
// Parameters are the flat form; wire framing wraps them (see pkg/protocol).
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// Tool result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolError carries a machine-readable code plus a human explanation.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolResult is the uniform outcome of a tool execution on the client.
type ToolResult struct {
	Status   string         `json:"status"`
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *ToolError     `json:"error,omitempty"`
}

// SuccessResult builds a success ToolResult carrying data.
func SuccessResult(data any) *ToolResult {
	return &ToolResult{Status: StatusSuccess, Data: data}
}

// ErrorResult builds an error ToolResult with the given code and message.
func ErrorResult(code, message string) *ToolResult {
	return &ToolResult{
		Status: StatusError,
		Error:  &ToolError{Code: code, Message: message},
	}
}

// IsError reports whether the result represents a failure.
func (r *ToolResult) IsError() bool {
	return r == nil || r.Status == StatusError
}

// ErrorMessage returns the error message, or a fallback when absent.
func (r *ToolResult) ErrorMessage() string {
	if r == nil || r.Error == nil || r.Error.Message == "" {
		return "Unknown error"
	}
	return r.Error.Message
}

// PendingApproval tracks a tool call awaiting an approval decision.
type PendingApproval struct {
	RequestID   string         `json:"request_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	SessionID   string         `json:"session_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PendingExecution tracks an approved tool call until its result arrives.
type PendingExecution struct {
	ExecutionID string         `json:"execution_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	SessionID   string         `json:"session_id"`
	StartedAt   time.Time      `json:"started_at"`
}

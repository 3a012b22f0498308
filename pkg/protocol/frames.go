// Package protocol defines the JSON frame protocol spoken between the
// Gambiarra orchestration server and the workspace client. A single
// ordered bidirectional stream carries one JSON object per frame;
// correlation happens through request_id and execution_id fields rather
// than at the transport layer.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Version is the protocol version exchanged during the handshake.
const Version = "1.0"

// Frame types, client to server.
const (
	TypeConnect              = "connect"
	TypeCreateSession        = "create_session"
	TypeUserMessage          = "user_message"
	TypeToolApprovalResponse = "tool_approval_response"
	TypeToolResult           = "tool_result"
)

// Frame types, server to client.
const (
	TypeConnected           = "connected"
	TypeSessionCreated      = "session_created"
	TypeAIResponseChunk     = "ai_response_chunk"
	TypeToolApprovalRequest = "tool_approval_request"
	TypeExecuteTool         = "execute_tool"
	TypeToolResultReceived  = "tool_result_received"
	TypeToolDenied          = "tool_denied"
)

// TypeError flows in either direction for out-of-band failures.
const TypeError = "error"

// Approval decisions.
const (
	DecisionApproved         = "approved"
	DecisionDenied           = "denied"
	DecisionApprovedModified = "approved_with_modification"
)

// Frame is the single on-wire envelope. Exactly one frame per transport
// message; unused fields are omitted. Which fields are required depends
// on Type (see Validate).
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// Handshake.
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	ClientInfo      *ClientInfo `json:"client_info,omitempty"`
	ServerInfo      *ServerInfo `json:"server_info,omitempty"`

	// Session lifecycle.
	Config *SessionConfig `json:"config,omitempty"`
	Status string         `json:"status,omitempty"`

	// Conversation.
	Message *UserMessage `json:"message,omitempty"`
	Chunk   *Chunk       `json:"chunk,omitempty"`

	// Approval round-trip.
	RequestID          string         `json:"request_id,omitempty"`
	Tool               *ToolSpec      `json:"tool,omitempty"`
	Decision           string         `json:"decision,omitempty"`
	Feedback           string         `json:"feedback,omitempty"`
	ModifiedParameters map[string]any `json:"modified_parameters,omitempty"`

	// Execution round-trip.
	ExecutionID string             `json:"execution_id,omitempty"`
	Result      *models.ToolResult `json:"result,omitempty"`

	// Denial summary.
	ToolName string `json:"tool_name,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Out-of-band failure.
	Error *WireError `json:"error,omitempty"`
}

// ClientInfo identifies the workspace client during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server and advertises the closed tool set.
type ServerInfo struct {
	Version        string   `json:"version"`
	AvailableTools []string `json:"available_tools"`
}

// SessionConfig carries per-session settings chosen by the client.
type SessionConfig struct {
	WorkingDirectory          string `json:"working_directory"`
	AutoApproveReads          bool   `json:"auto_approve_reads"`
	RequireApprovalForWrites  bool   `json:"require_approval_for_writes"`
	MaxConcurrentFileReads    int    `json:"max_concurrent_file_reads"`
	OperatingMode             string `json:"operating_mode,omitempty"`
}

// UserMessage is one user turn.
type UserMessage struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Chunk is a fragment of the streamed assistant response. A turn ends
// with one chunk where IsComplete is true.
type Chunk struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// ToolSpec is the wire form of a tool invocation. Parameters are in
// wrapped form (see Wrap/Unwrap).
type ToolSpec struct {
	Name             string         `json:"name"`
	Parameters       map[string]any `json:"parameters"`
	Description      string         `json:"description,omitempty"`
	RiskLevel        string         `json:"risk_level,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
}

// WireError is the payload of an error frame.
type WireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Marshal encodes a frame as a single JSON object.
func Marshal(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal decodes a single frame. The frame is not validated; call
// Validate before acting on it.
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// Validate checks the per-type required fields. It returns a *WireError
// describing the first missing field, or nil when the frame is well formed.
func (f *Frame) Validate() *WireError {
	missing := func(field string) *WireError {
		return &WireError{
			Code:    ErrCodeInvalidJSON,
			Message: fmt.Sprintf("frame %q is missing required field %q", f.Type, field),
		}
	}
	switch f.Type {
	case TypeConnect:
		if f.ProtocolVersion == "" {
			return missing("protocol_version")
		}
		if f.ClientInfo == nil {
			return missing("client_info")
		}
	case TypeConnected:
		if f.ServerInfo == nil {
			return missing("server_info")
		}
	case TypeCreateSession:
		if f.Config == nil {
			return missing("config")
		}
	case TypeSessionCreated:
		if f.SessionID == "" {
			return missing("session_id")
		}
	case TypeUserMessage:
		if f.SessionID == "" {
			return missing("session_id")
		}
		if f.Message == nil {
			return missing("message")
		}
	case TypeAIResponseChunk:
		if f.Chunk == nil {
			return missing("chunk")
		}
	case TypeToolApprovalRequest:
		if f.RequestID == "" {
			return missing("request_id")
		}
		if f.Tool == nil {
			return missing("tool")
		}
	case TypeToolApprovalResponse:
		if f.RequestID == "" {
			return missing("request_id")
		}
		if f.Decision == "" {
			return missing("decision")
		}
	case TypeExecuteTool:
		if f.ExecutionID == "" {
			return missing("execution_id")
		}
		if f.Tool == nil {
			return missing("tool")
		}
	case TypeToolResult:
		if f.ExecutionID == "" {
			return missing("execution_id")
		}
		if f.Result == nil {
			return missing("result")
		}
	case TypeToolResultReceived:
		if f.ExecutionID == "" {
			return missing("execution_id")
		}
	case TypeToolDenied:
		if f.ToolName == "" {
			return missing("tool_name")
		}
	case TypeError:
		if f.Error == nil {
			return missing("error")
		}
	case "":
		return &WireError{Code: ErrCodeInvalidJSON, Message: "frame has no type"}
	default:
		return &WireError{
			Code:    ErrCodeUnknownMessageType,
			Message: fmt.Sprintf("unknown frame type %q", f.Type),
		}
	}
	return nil
}

// ErrorFrame builds an error frame for the given code and message.
func ErrorFrame(sessionID, code, message string) *Frame {
	return &Frame{
		Type:      TypeError,
		SessionID: sessionID,
		Error:     &WireError{Code: code, Message: message},
	}
}

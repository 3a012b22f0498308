// Package client implements the workspace side of Gambiarra: it dials
// the orchestration server, holds the approval pipeline, and executes
// approved tools inside the sandboxed workspace.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gambiarra-ai/gambiarra/internal/memory"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// clientVersion identifies this client build in the handshake.
const clientVersion = "0.1.0"

// handshakeTimeout bounds the dial plus connect/connected exchange.
const handshakeTimeout = 15 * time.Second

// ErrNotConnected is returned when a send is attempted before Connect.
var ErrNotConnected = errors.New("client is not connected")

// Config holds the client's connection settings.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8765/ws.
	ServerURL string
	// Session is sent verbatim in create_session. WorkingDirectory must
	// match the sandbox root the runner was built with.
	Session protocol.SessionConfig
	Logger  *slog.Logger
}

// Client is one workspace connection to the orchestration server.
type Client struct {
	cfg      Config
	pipeline *Pipeline
	runner   *Runner
	logger   *slog.Logger

	// memory mirrors the conversation for display and diagnostics; the
	// server keeps the authoritative copy.
	memory *memory.Memory
	// turn accumulates streamed assistant text; only the read loop
	// touches it.
	turn strings.Builder

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.RWMutex
	sessionID string

	ready     chan struct{}
	readyOnce sync.Once

	// OnChunk receives streamed assistant output.
	OnChunk func(content string, complete bool)
	// OnToolDenied is told when the server records a denial.
	OnToolDenied func(tool, reason string)
	// OnServerError receives out-of-band error frames.
	OnServerError func(code, message string)
}

// New creates a client around an approval pipeline and a tool runner.
func New(cfg Config, pipeline *Pipeline, runner *Runner) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		pipeline: pipeline,
		runner:   runner,
		logger:   logger,
		memory:   memory.New(memory.Config{Logger: logger}),
		ready:    make(chan struct{}),
	}
}

// Memory exposes the client's conversation mirror.
func (c *Client) Memory() *memory.Memory {
	return c.memory
}

// Connect dials the server and performs the connect handshake. The
// session itself is created when the connected frame arrives.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.ServerURL, err)
	}
	c.conn = conn

	return c.send(&protocol.Frame{
		Type:            protocol.TypeConnect,
		ProtocolVersion: protocol.Version,
		ClientInfo: &protocol.ClientInfo{
			Name:    "gambiarra-client",
			Version: clientVersion,
		},
	})
}

// Run reads frames until the connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	defer c.conn.Close()

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		frame, err := protocol.Unmarshal(raw)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if wireErr := frame.Validate(); wireErr != nil {
			c.logger.Warn("dropping invalid frame", "code", wireErr.Code, "message", wireErr.Message)
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

// SessionID returns the active session id, or "" before session_created.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// WaitReady blocks until the session is created or ctx expires.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendUserMessage sends one user turn on the active session.
func (c *Client) SendUserMessage(content string) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return errors.New("no active session")
	}
	if err := c.send(&protocol.Frame{
		Type:      protocol.TypeUserMessage,
		SessionID: sessionID,
		Message:   &protocol.UserMessage{Content: content},
	}); err != nil {
		return err
	}
	c.memory.AddUser(content)
	return nil
}

func (c *Client) handleFrame(ctx context.Context, frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypeConnected:
		c.logger.Info("connected",
			"server_version", frame.ServerInfo.Version,
			"tools", len(frame.ServerInfo.AvailableTools))
		session := c.cfg.Session
		if err := c.send(&protocol.Frame{
			Type:   protocol.TypeCreateSession,
			Config: &session,
		}); err != nil {
			c.logger.Error("create session", "error", err)
		}

	case protocol.TypeSessionCreated:
		c.mu.Lock()
		c.sessionID = frame.SessionID
		c.mu.Unlock()
		c.pipeline.ResetSession()
		c.memory.Reset()
		c.turn.Reset()
		c.readyOnce.Do(func() { close(c.ready) })
		c.logger.Info("session created", "session_id", frame.SessionID)

	case protocol.TypeAIResponseChunk:
		if frame.Chunk.IsComplete {
			if text := c.turn.String(); text != "" {
				c.memory.AddAssistant(text)
			}
			c.turn.Reset()
		} else {
			c.turn.WriteString(frame.Chunk.Content)
		}
		if c.OnChunk != nil {
			c.OnChunk(frame.Chunk.Content, frame.Chunk.IsComplete)
		}

	case protocol.TypeToolApprovalRequest:
		go c.handleApprovalRequest(ctx, frame)

	case protocol.TypeExecuteTool:
		go c.handleExecuteTool(ctx, frame)

	case protocol.TypeToolResultReceived:
		c.logger.Debug("tool result acknowledged", "execution_id", frame.ExecutionID)

	case protocol.TypeToolDenied:
		c.memory.AddAssistant(fmt.Sprintf("Tool '%s' denied: %s", frame.ToolName, frame.Reason))
		if c.OnToolDenied != nil {
			c.OnToolDenied(frame.ToolName, frame.Reason)
		}

	case protocol.TypeError:
		c.logger.Warn("server error", "code", frame.Error.Code, "message", frame.Error.Message)
		if c.OnServerError != nil {
			c.OnServerError(frame.Error.Code, frame.Error.Message)
		}

	default:
		c.logger.Warn("unhandled frame type", "type", frame.Type)
	}
}

func (c *Client) handleApprovalRequest(ctx context.Context, frame *protocol.Frame) {
	req := models.PendingApproval{
		RequestID:   frame.RequestID,
		ToolName:    frame.Tool.Name,
		Parameters:  protocol.Unwrap(frame.Tool.Name, frame.Tool.Parameters),
		Description: frame.Tool.Description,
		RiskLevel:   models.RiskLevel(frame.Tool.RiskLevel),
		SessionID:   frame.SessionID,
		CreatedAt:   time.Now(),
	}

	decision, err := c.pipeline.Evaluate(ctx, req)
	if err != nil {
		c.logger.Error("approval pipeline", "request_id", frame.RequestID, "error", err)
		decision = Decision{
			Decision: protocol.DecisionDenied,
			Feedback: "approval pipeline failed; denying to be safe",
		}
	}

	response := &protocol.Frame{
		Type:      protocol.TypeToolApprovalResponse,
		SessionID: frame.SessionID,
		RequestID: frame.RequestID,
		Decision:  decision.Decision,
		Feedback:  decision.Feedback,
	}
	if decision.Decision == protocol.DecisionApprovedModified {
		response.ModifiedParameters = protocol.Wrap(req.ToolName, decision.ModifiedParameters)
	}
	if err := c.send(response); err != nil {
		c.logger.Error("send approval response", "request_id", frame.RequestID, "error", err)
	}
}

func (c *Client) handleExecuteTool(ctx context.Context, frame *protocol.Frame) {
	params := protocol.Unwrap(frame.Tool.Name, frame.Tool.Parameters)
	c.memory.AddToolCall(frame.Tool.Name, params)
	result := c.runner.Execute(ctx, frame.Tool.Name, params)
	c.memory.AddToolResult(frame.Tool.Name, resultText(result), !result.IsError())

	if result.IsError() {
		c.pipeline.Mistakes().Record()
	} else {
		c.pipeline.Mistakes().RecordSuccess()
	}

	if err := c.send(&protocol.Frame{
		Type:        protocol.TypeToolResult,
		SessionID:   frame.SessionID,
		ExecutionID: frame.ExecutionID,
		Tool:        &protocol.ToolSpec{Name: frame.Tool.Name},
		Result:      result,
	}); err != nil {
		c.logger.Error("send tool result", "execution_id", frame.ExecutionID, "error", err)
	}
}

// resultText flattens a tool result for the conversation mirror.
func resultText(result *models.ToolResult) string {
	if result.IsError() {
		return result.ErrorMessage()
	}
	if s, ok := result.Data.(string); ok {
		return s
	}
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Sprintf("%v", result.Data)
	}
	return string(raw)
}

// send writes one frame. gorilla connections allow one concurrent
// writer, so all writes funnel through here.
func (c *Client) send(frame *protocol.Frame) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Package server implements the Gambiarra orchestration side: the
// websocket endpoint, the session table, and the agentic loop that
// streams model output, extracts tool calls, and drives the approval
// and execution round trips with the workspace client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gambiarra-ai/gambiarra/internal/observability"
	"github.com/gambiarra-ai/gambiarra/internal/provider"
	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/internal/toolcall"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

const serverVersion = "0.1.0"

// Turn terminal statuses, recorded per turn.
const (
	turnCompleted       = "completed"
	turnBudgetExhausted = "budget_exhausted"
	turnProviderError   = "provider_error"
	turnDisconnected    = "disconnected"
)

// Config assembles the orchestration server.
type Config struct {
	Addr         string
	Provider     provider.Provider
	Model        string
	SystemPrompt string

	MaxSessions int
	IdleTimeout time.Duration
	MaxTokens   int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Server is the orchestration server. One websocket connection carries
// any number of sessions; per session the agentic loop is strictly
// sequential while different sessions proceed concurrently.
type Server struct {
	cfg       Config
	reg       *registry.Registry
	extractor *toolcall.Extractor
	filter    *ModeFilter
	sessions  *Manager
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a server from the config. cfg.Provider must not be nil.
func New(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, errors.New("server requires a provider")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		noop, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "gambiarra"})
		cfg.Tracer = noop
	}
	reg := registry.MustNew()
	return &Server{
		cfg:       cfg,
		reg:       reg,
		extractor: toolcall.NewExtractor(reg),
		filter:    NewModeFilter(reg),
		sessions: NewManager(ManagerConfig{
			MaxSessions: cfg.MaxSessions,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      cfg.Logger,
		}),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The workspace client is not a browser; origin checks do
			// not apply to this deployment shape.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP mux: the websocket endpoint at /ws, metrics,
// and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully. The
// idle-session sweeper runs alongside.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go s.sessions.RunSweeper(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("orchestration server listening", "addr", s.cfg.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// connection is the per-websocket state: the write lock (gorilla allows
// one concurrent writer), the routing tables for in-flight approval and
// execution round trips, and the sessions created over this socket.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu               sync.Mutex
	closed           bool
	pendingApprovals map[string]chan *protocol.Frame
	pendingResults   map[string]chan *protocol.Frame
	sessionIDs       map[string]time.Time
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:               ws,
		pendingApprovals: make(map[string]chan *protocol.Frame),
		pendingResults:   make(map[string]chan *protocol.Frame),
		sessionIDs:       make(map[string]time.Time),
	}
}

func (c *connection) send(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *connection) addApproval(requestID string) (chan *protocol.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	ch := make(chan *protocol.Frame, 1)
	c.pendingApprovals[requestID] = ch
	return ch, true
}

func (c *connection) addResult(executionID string) (chan *protocol.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	ch := make(chan *protocol.Frame, 1)
	c.pendingResults[executionID] = ch
	return ch, true
}

// routeApproval delivers an approval response to its waiting turn.
func (c *connection) routeApproval(requestID string, f *protocol.Frame) bool {
	c.mu.Lock()
	ch, ok := c.pendingApprovals[requestID]
	if ok {
		delete(c.pendingApprovals, requestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

// routeResult delivers a tool result to its waiting turn.
func (c *connection) routeResult(executionID string, f *protocol.Frame) bool {
	c.mu.Lock()
	ch, ok := c.pendingResults[executionID]
	if ok {
		delete(c.pendingResults, executionID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

// teardown discards the pending tables. In-flight turns observe the
// closed channels and end without retrying.
func (c *connection) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pendingApprovals {
		close(ch)
		delete(c.pendingApprovals, id)
	}
	for id, ch := range c.pendingResults {
		close(ch)
		delete(c.pendingResults, id)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := newConnection(ws)
	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		conn.teardown()
		conn.mu.Lock()
		for id, startedAt := range conn.sessionIDs {
			s.sessions.Remove(id)
			if s.metrics != nil {
				s.metrics.SessionEnded(time.Since(startedAt).Seconds())
			}
		}
		conn.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		frame, err := protocol.Unmarshal(payload)
		if err != nil {
			_ = conn.send(protocol.ErrorFrame("", protocol.ErrCodeInvalidJSON, err.Error()))
			continue
		}
		if wireErr := frame.Validate(); wireErr != nil {
			_ = conn.send(&protocol.Frame{Type: protocol.TypeError, Error: wireErr})
			continue
		}
		s.dispatch(ctx, conn, frame)
	}
}

// dispatch handles one validated inbound frame. Handshake and routing
// are synchronous; turns run in their own goroutine.
func (s *Server) dispatch(ctx context.Context, conn *connection, frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypeConnect:
		s.logger.Info("client connected",
			"client", frame.ClientInfo.Name,
			"client_version", frame.ClientInfo.Version,
			"protocol_version", frame.ProtocolVersion)
		_ = conn.send(&protocol.Frame{
			Type: protocol.TypeConnected,
			ServerInfo: &protocol.ServerInfo{
				Version:        serverVersion,
				AvailableTools: s.reg.Names(),
			},
		})

	case protocol.TypeCreateSession:
		session, err := s.sessions.Create(*frame.Config)
		if err != nil {
			_ = conn.send(protocol.ErrorFrame("", protocol.ErrCodeMessageProcessing,
				fmt.Sprintf("create session: %v", err)))
			if s.metrics != nil {
				s.metrics.RecordError("session", "create_failed")
			}
			return
		}
		conn.mu.Lock()
		conn.sessionIDs[session.ID] = time.Now()
		conn.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SessionStarted()
		}
		_ = conn.send(&protocol.Frame{
			Type:      protocol.TypeSessionCreated,
			SessionID: session.ID,
			Status:    "ready",
		})

	case protocol.TypeUserMessage:
		session, ok := s.sessions.Get(frame.SessionID)
		if !ok {
			_ = conn.send(protocol.ErrorFrame(frame.SessionID, protocol.ErrCodeSessionNotFound,
				fmt.Sprintf("session %q not found", frame.SessionID)))
			return
		}
		content := frame.Message.Content
		go s.runTurn(ctx, conn, session, content)

	case protocol.TypeToolApprovalResponse:
		if !conn.routeApproval(frame.RequestID, frame) {
			_ = conn.send(protocol.ErrorFrame(frame.SessionID, protocol.ErrCodeToolRequestMissing,
				fmt.Sprintf("no pending approval for request %q", frame.RequestID)))
		}

	case protocol.TypeToolResult:
		if !conn.routeResult(frame.ExecutionID, frame) {
			_ = conn.send(protocol.ErrorFrame(frame.SessionID, protocol.ErrCodeToolRequestMissing,
				fmt.Sprintf("no pending execution for %q", frame.ExecutionID)))
			return
		}
		_ = conn.send(&protocol.Frame{
			Type:        protocol.TypeToolResultReceived,
			SessionID:   frame.SessionID,
			ExecutionID: frame.ExecutionID,
		})

	case protocol.TypeError:
		s.logger.Warn("client reported error",
			"session_id", frame.SessionID,
			"code", frame.Error.Code,
			"message", frame.Error.Message)

	default:
		_ = conn.send(protocol.ErrorFrame(frame.SessionID, protocol.ErrCodeUnknownMessageType,
			fmt.Sprintf("frame type %q is not valid client to server", frame.Type)))
	}
}

// runTurn drives the agentic loop for one user message: stream the
// model, extract tool calls, run each through approval and execution,
// re-inject summaries, and loop until the model stops calling tools or
// the safety budget trips.
func (s *Server) runTurn(ctx context.Context, conn *connection, session *Session, content string) {
	session.turnMu.Lock()
	defer session.turnMu.Unlock()
	session.Touch()

	ctx, span := s.tracer.TraceTurn(ctx, session.ID, string(session.Mode))
	defer span.End()

	session.Memory.AddUser(content)

	status := turnCompleted
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTurn(string(session.Mode), status)
		}
	}()

	for {
		text, ok := s.streamResponse(ctx, conn, session)
		if !ok {
			status = turnProviderError
			return
		}
		session.Memory.AddAssistant(text)
		session.Touch()

		calls := s.extractor.Extract(text)
		if len(calls) == 0 {
			return
		}
		for _, call := range calls {
			if !s.handleToolCall(ctx, conn, session, call) {
				status = turnDisconnected
				return
			}
		}
		if session.BudgetExhausted() {
			s.logger.Warn("agentic safety budget exhausted, ending turn",
				"session_id", session.ID)
			status = turnBudgetExhausted
			return
		}
	}
}

// streamResponse makes one provider call, forwarding each text delta as
// an ai_response_chunk and closing the run with is_complete=true. It
// returns the accumulated assistant text, or ok=false after a provider
// failure (the error frame has already been sent).
func (s *Server) streamResponse(ctx context.Context, conn *connection, session *Session) (string, bool) {
	req := &provider.Request{
		Model:     s.cfg.Model,
		System:    s.cfg.SystemPrompt,
		MaxTokens: s.cfg.MaxTokens,
	}
	for _, msg := range session.Memory.Export(false) {
		req.Messages = append(req.Messages, provider.Message{Role: msg.Role, Content: msg.Content})
	}

	llmCtx, llmSpan := s.tracer.TraceLLMRequest(ctx, s.cfg.Provider.Name(), req.Model)
	defer llmSpan.End()
	start := time.Now()

	// Cancelling on every exit path releases the provider goroutine even
	// when this side stops draining the channel early.
	streamCtx, cancelStream := context.WithCancel(llmCtx)
	defer cancelStream()

	chunks, err := s.cfg.Provider.Stream(streamCtx, req)
	if err != nil {
		s.tracer.RecordError(llmSpan, err)
		s.providerFailed(conn, session, err)
		return "", false
	}

	var b strings.Builder
	inputTokens, outputTokens := 0, 0
	for chunk := range chunks {
		if chunk.Error != nil {
			s.tracer.RecordError(llmSpan, chunk.Error)
			s.providerFailed(conn, session, chunk.Error)
			if s.metrics != nil {
				s.metrics.RecordLLMRequest(s.cfg.Provider.Name(), req.Model, "error",
					time.Since(start).Seconds(), inputTokens, outputTokens)
			}
			return "", false
		}
		inputTokens += chunk.InputTokens
		outputTokens += chunk.OutputTokens
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			if err := conn.send(&protocol.Frame{
				Type:      protocol.TypeAIResponseChunk,
				SessionID: session.ID,
				Chunk:     &protocol.Chunk{Content: chunk.Text},
			}); err != nil {
				return "", false
			}
		}
		if chunk.Done {
			break
		}
	}
	_ = conn.send(&protocol.Frame{
		Type:      protocol.TypeAIResponseChunk,
		SessionID: session.ID,
		Chunk:     &protocol.Chunk{IsComplete: true},
	})
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(s.cfg.Provider.Name(), req.Model, "success",
			time.Since(start).Seconds(), inputTokens, outputTokens)
	}
	return b.String(), true
}

func (s *Server) providerFailed(conn *connection, session *Session, err error) {
	s.logger.Error("provider stream failed", "session_id", session.ID, "error", err)
	if s.metrics != nil {
		s.metrics.RecordError("provider", "stream_failed")
	}
	_ = conn.send(protocol.ErrorFrame(session.ID, protocol.ErrCodeAIProcessing,
		fmt.Sprintf("AI processing failed: %v", err)))
}

// handleToolCall runs one extracted call through the mode filter, the
// approval round trip, and the execution round trip. It returns false
// when the connection went away mid-flight; the turn then ends and the
// session is torn down by the read loop.
func (s *Server) handleToolCall(ctx context.Context, conn *connection, session *Session, call models.ToolCall) bool {
	start := time.Now()
	ctx, span := s.tracer.TraceToolCall(ctx, call.Name)
	defer span.End()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordToolRoundTrip(call.Name, time.Since(start).Seconds())
		}
	}()

	verdict := s.filter.Evaluate(session.Mode, call)
	if !verdict.Allowed {
		s.logger.Info("tool call blocked by mode filter",
			"session_id", session.ID, "tool", call.Name, "mode", session.Mode,
			"reason", verdict.Reason)
		s.recordToolOutcome(call.Name, "mode_blocked")
		return s.denyToolCall(conn, session, call.Name, verdict.Reason)
	}

	def, _ := s.reg.Get(call.Name)
	requestID := uuid.NewString()
	approvalCh, ok := conn.addApproval(requestID)
	if !ok {
		return false
	}
	if err := conn.send(&protocol.Frame{
		Type:      protocol.TypeToolApprovalRequest,
		SessionID: session.ID,
		RequestID: requestID,
		Tool: &protocol.ToolSpec{
			Name:             call.Name,
			Parameters:       protocol.Wrap(call.Name, call.Parameters),
			Description:      describeToolCall(def.Description, call),
			RiskLevel:        string(verdict.Risk),
			RequiresApproval: def.RequiresApproval,
		},
	}); err != nil {
		return false
	}

	response, ok := awaitFrame(ctx, approvalCh)
	if !ok {
		return false
	}
	session.Touch()

	if response.Decision == protocol.DecisionDenied {
		s.recordToolOutcome(call.Name, "denied")
		return s.denyToolCall(conn, session, call.Name, response.Feedback)
	}

	params := call.Parameters
	if response.Decision == protocol.DecisionApprovedModified && response.ModifiedParameters != nil {
		params = protocol.Unwrap(call.Name, response.ModifiedParameters)
	}

	executionID := uuid.NewString()
	resultCh, ok := conn.addResult(executionID)
	if !ok {
		return false
	}
	session.Memory.AddToolCall(call.Name, params)
	if err := conn.send(&protocol.Frame{
		Type:        protocol.TypeExecuteTool,
		SessionID:   session.ID,
		ExecutionID: executionID,
		Tool: &protocol.ToolSpec{
			Name:       call.Name,
			Parameters: protocol.Wrap(call.Name, params),
		},
	}); err != nil {
		return false
	}

	resultFrame, ok := awaitFrame(ctx, resultCh)
	if !ok {
		return false
	}
	session.Touch()

	summary := summarizeResult(call.Name, params, resultFrame.Result)
	success := !resultFrame.Result.IsError()
	session.Memory.AddToolResult(call.Name, summary, success)
	if success {
		s.recordToolOutcome(call.Name, "succeeded")
	} else {
		s.recordToolOutcome(call.Name, "failed")
		s.tracer.RecordError(span, errors.New(resultFrame.Result.ErrorMessage()))
	}
	return true
}

// denyToolCall notifies the client and records the denial in memory so
// the model sees it on the next provider call.
func (s *Server) denyToolCall(conn *connection, session *Session, toolName, reason string) bool {
	if err := conn.send(&protocol.Frame{
		Type:      protocol.TypeToolDenied,
		SessionID: session.ID,
		ToolName:  toolName,
		Reason:    reason,
	}); err != nil {
		return false
	}
	session.Memory.AddAssistant(denialMessage(toolName, reason))
	return true
}

func (s *Server) recordToolOutcome(toolName, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordToolOutcome(toolName, outcome)
	}
}

// awaitFrame blocks until the round trip answers, the connection closes
// the channel, or ctx ends.
func awaitFrame(ctx context.Context, ch <-chan *protocol.Frame) (*protocol.Frame, bool) {
	select {
	case frame, ok := <-ch:
		if !ok || frame == nil {
			return nil, false
		}
		return frame, true
	case <-ctx.Done():
		return nil, false
	}
}

// describeToolCall renders the one-line description shown alongside an
// approval request: the registry description plus the call's most
// telling parameter.
func describeToolCall(description string, call models.ToolCall) string {
	if target, ok := call.Parameters["path"].(string); ok && target != "" {
		return fmt.Sprintf("%s (path: %s)", description, target)
	}
	if command, ok := call.Parameters["command"].(string); ok && command != "" {
		return fmt.Sprintf("%s (command: %s)", description, command)
	}
	return description
}

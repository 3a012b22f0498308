package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gambiarra-ai/gambiarra/internal/memory"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// Session manager errors.
var (
	ErrTooManySessions = errors.New("session limit reached")
	ErrSessionNotFound = errors.New("session not found")
)

// Session defaults.
const (
	DefaultMaxSessions  = 64
	DefaultIdleTimeout  = 30 * time.Minute
	defaultSweepEvery   = time.Minute
	// safetyBudget caps re-injected tool results per window of recent
	// messages; hitting it ends the agentic loop for the turn.
	safetyBudget       = 10
	safetyBudgetWindow = 10
)

// Session is one conversation with one workspace client. The agentic
// loop for a session is strictly sequential; the embedded memory is the
// source of truth for the model input.
type Session struct {
	ID        string
	Mode      Mode
	Config    protocol.SessionConfig
	Memory    *memory.Memory
	CreatedAt time.Time

	// turnMu serialises turns; at most one agentic loop runs per
	// session at a time.
	turnMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
}

func newSession(cfg protocol.SessionConfig, memCfg memory.Config) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Mode:         ParseMode(cfg.OperatingMode),
		Config:       cfg,
		Memory:       memory.New(memCfg),
		CreatedAt:    now,
		lastActivity: now,
	}
}

// Touch records activity, deferring idle teardown.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the most recent activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// BudgetExhausted reports whether the recent history carries enough
// re-injected tool results to end the turn. Each executed call appends
// an invocation record before its result; those records are skipped so
// they cannot dilute the window below the budget.
func (s *Session) BudgetExhausted() bool {
	messages := s.Memory.Messages()
	seen, count := 0, 0
	for i := len(messages) - 1; i >= 0 && seen < safetyBudgetWindow; i-- {
		msg := messages[i]
		if msg.Role == models.RoleToolCall {
			continue
		}
		seen++
		if msg.Role == models.RoleToolResult || strings.HasPrefix(msg.Content, toolResultPrefix) {
			count++
		}
	}
	return count >= safetyBudget
}

// ManagerConfig tunes the session table.
type ManagerConfig struct {
	MaxSessions int
	IdleTimeout time.Duration
	Memory      memory.Config
	Logger      *slog.Logger
}

// Manager owns the session table and the idle sweeper.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxSessions int
	idleTimeout time.Duration
	memoryCfg   memory.Config
	logger      *slog.Logger
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: cfg.MaxSessions,
		idleTimeout: cfg.IdleTimeout,
		memoryCfg:   cfg.Memory,
		logger:      cfg.Logger,
	}
}

// Create registers a new session for the given config.
func (m *Manager) Create(cfg protocol.SessionConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}
	session := newSession(cfg, m.memoryCfg)
	m.sessions[session.ID] = session
	m.logger.Info("session created",
		"session_id", session.ID,
		"mode", session.Mode,
		"workspace", cfg.WorkingDirectory)
	return session, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Remove drops a session from the table.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.logger.Info("session removed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle removes sessions idle past the timeout and returns their ids.
func (m *Manager) SweepIdle() []string {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept []string
	for id, session := range m.sessions {
		if session.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
			swept = append(swept, id)
		}
	}
	if len(swept) > 0 {
		m.logger.Info("idle sessions swept", "count", len(swept))
	}
	return swept
}

// RunSweeper periodically reaps idle sessions until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle()
		}
	}
}

// Package memory implements the bounded conversation history shared in
// contract by both peers: the server feeds it to the model, the client
// keeps one for display and diagnostics. Appends are the only mutation;
// when the token budget is exceeded, older runs of tool traffic are
// folded into summaries and, failing that, the oldest compacted
// messages are dropped. Compaction never reorders survivors.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Defaults for the conversation window.
const (
	DefaultMaxTokens   = 32000
	DefaultWindowRatio = 0.8
	// keepRecent messages are never compacted or dropped.
	keepRecent = 5
	// minRunLength is the shortest tool run worth folding into a summary.
	minRunLength = 3
	// toolResultTruncate caps in-message tool result content; the full
	// value lives in metadata.
	toolResultTruncate = 200
)

// Config controls the memory window.
type Config struct {
	MaxTokens   int
	WindowRatio float64
	Logger      *slog.Logger
}

// Memory is a bounded ordered sequence of conversation messages.
type Memory struct {
	mu       sync.Mutex
	messages []models.ConversationMessage
	budget   int
	logger   *slog.Logger
}

// New creates a conversation memory with the given window config.
func New(cfg Config) *Memory {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	ratio := cfg.WindowRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultWindowRatio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		budget: int(float64(maxTokens) * ratio),
		logger: logger,
	}
}

// AddUser appends a user message.
func (m *Memory) AddUser(content string) {
	m.append(models.NewMessage(models.RoleUser, content))
}

// AddAssistant appends an assistant message.
func (m *Memory) AddAssistant(content string) {
	m.append(models.NewMessage(models.RoleAssistant, content))
}

// AddSystem appends a system message.
func (m *Memory) AddSystem(content string) {
	m.append(models.NewMessage(models.RoleSystem, content))
}

// AddToolCall records a tool invocation.
func (m *Memory) AddToolCall(name string, params map[string]any) {
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte("{}")
	}
	msg := models.NewMessage(models.RoleToolCall, fmt.Sprintf("Tool call: %s %s", name, encoded))
	msg.Metadata = map[string]any{"tool_name": name}
	m.append(msg)
}

// AddToolResult records a tool outcome. Content is truncated for the
// in-memory message; metadata keeps the full value.
func (m *Memory) AddToolResult(name, result string, success bool) {
	display := truncateRuneSafe(result, toolResultTruncate)
	msg := models.NewMessage(models.RoleToolResult, display)
	msg.Metadata = map[string]any{
		"tool_name":   name,
		"success":     success,
		"full_result": result,
	}
	m.append(msg)
}

// Reset drops the whole history, for a fresh session on the same peer.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// truncateRuneSafe cuts at the byte limit, backing off to the nearest
// rune boundary so a multi-byte sequence is never split.
func truncateRuneSafe(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (m *Memory) append(msg models.ConversationMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if m.totalTokensLocked() > m.budget {
		m.compactLocked()
	}
}

// Messages returns a copy of the current history.
func (m *Memory) Messages() []models.ConversationMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ConversationMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// TotalTokens returns the estimated token total of the history.
func (m *Memory) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokensLocked()
}

func (m *Memory) totalTokensLocked() int {
	total := 0
	for _, msg := range m.messages {
		total += msg.EstimatedTokens
	}
	return total
}

// ExportMessage is the provider-facing view of a message.
type ExportMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Export emits role/content pairs for an LLM call. Tool traffic is
// emitted with role=user: it is in-band observation, not a first-class
// tool message. System messages are included unless suppressed.
func (m *Memory) Export(includeSystem bool) []ExportMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExportMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		role := string(msg.Role)
		switch msg.Role {
		case models.RoleToolCall, models.RoleToolResult:
			role = string(models.RoleUser)
		case models.RoleSystem:
			if !includeSystem {
				continue
			}
		}
		out = append(out, ExportMessage{Role: role, Content: msg.Content})
	}
	return out
}

// compactLocked folds older tool runs into summaries and then drops the
// oldest compacted messages until the history fits the budget. The last
// keepRecent messages are untouchable.
func (m *Memory) compactLocked() {
	if len(m.messages) <= keepRecent {
		return
	}
	split := len(m.messages) - keepRecent
	older := m.messages[:split]
	recent := m.messages[split:]

	compacted := foldToolRuns(older)

	// Still over budget: shed from the oldest end.
	total := 0
	for _, msg := range compacted {
		total += msg.EstimatedTokens
	}
	for _, msg := range recent {
		total += msg.EstimatedTokens
	}
	dropped := 0
	for total > m.budget && len(compacted) > 0 {
		total -= compacted[0].EstimatedTokens
		compacted = compacted[1:]
		dropped++
	}
	if dropped > 0 {
		m.logger.Debug("conversation memory dropped oldest messages",
			"dropped", dropped, "remaining", len(compacted)+len(recent))
	}

	m.messages = append(compacted, recent...)
}

// foldToolRuns replaces each run of at least minRunLength consecutive
// tool_call/tool_result messages with a single summary message.
func foldToolRuns(msgs []models.ConversationMessage) []models.ConversationMessage {
	out := make([]models.ConversationMessage, 0, len(msgs))
	i := 0
	for i < len(msgs) {
		if !isToolMessage(msgs[i]) {
			out = append(out, msgs[i])
			i++
			continue
		}
		j := i
		for j < len(msgs) && isToolMessage(msgs[j]) {
			j++
		}
		run := msgs[i:j]
		if len(run) >= minRunLength {
			out = append(out, summarizeRun(run))
		} else {
			out = append(out, run...)
		}
		i = j
	}
	return out
}

func isToolMessage(msg models.ConversationMessage) bool {
	return msg.Role == models.RoleToolCall || msg.Role == models.RoleToolResult
}

func summarizeRun(run []models.ConversationMessage) models.ConversationMessage {
	nameOrder := []string{}
	nameCounts := map[string]int{}
	results, successes, errors := 0, 0, 0
	for _, msg := range run {
		name, _ := msg.Metadata["tool_name"].(string)
		if name == "" {
			name = "unknown"
		}
		if _, seen := nameCounts[name]; !seen {
			nameOrder = append(nameOrder, name)
		}
		nameCounts[name]++
		if msg.Role == models.RoleToolResult {
			results++
			if ok, _ := msg.Metadata["success"].(bool); ok {
				successes++
			} else {
				errors++
			}
		}
	}

	var content string
	if results > 0 {
		content = fmt.Sprintf("Tool execution summary: %d operations (%s) - %d successful, %d errors",
			results, strings.Join(distinctNames(nameOrder), ", "), successes, errors)
	} else {
		parts := make([]string, 0, len(nameOrder))
		for _, name := range nameOrder {
			parts = append(parts, fmt.Sprintf("%s(%d)", name, nameCounts[name]))
		}
		content = fmt.Sprintf("Tool calls summary: %d calls - %s", len(run), strings.Join(parts, ", "))
	}

	msg := models.NewMessage(models.RoleAssistant, content)
	msg.Timestamp = run[0].Timestamp
	msg.Metadata = map[string]any{"compacted": true, "original_count": len(run)}
	return msg
}

func distinctNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}

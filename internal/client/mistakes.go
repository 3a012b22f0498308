package client

import (
	"strings"
	"sync"
)

// DefaultMistakeThreshold is how many consecutive mistakes escalate the
// session to manual-only approvals.
const DefaultMistakeThreshold = 3

// MistakeTracker counts consecutive denials and failed executions. Once
// the count reaches the threshold, auto-approval is suspended until a
// success or an explicit reset from user feedback.
type MistakeTracker struct {
	mu        sync.Mutex
	count     int
	threshold int
}

// NewMistakeTracker creates a tracker (threshold 0 means the default).
func NewMistakeTracker(threshold int) *MistakeTracker {
	if threshold <= 0 {
		threshold = DefaultMistakeThreshold
	}
	return &MistakeTracker{threshold: threshold}
}

// Record notes one mistake.
func (t *MistakeTracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

// RecordSuccess clears the counter. Mistakes are consecutive by definition.
func (t *MistakeTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
}

// Count returns the current consecutive mistake count.
func (t *MistakeTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Escalated reports whether the count has reached the threshold.
func (t *MistakeTracker) Escalated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count >= t.threshold
}

// MaybeReset clears the counter when the user's feedback asks for it.
func (t *MistakeTracker) MaybeReset(feedback string) {
	if strings.Contains(strings.ToLower(feedback), "reset") {
		t.RecordSuccess()
	}
}

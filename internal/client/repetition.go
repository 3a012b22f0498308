package client

import (
	"encoding/json"
	"fmt"
)

// DefaultRepetitionLimit is how many identical consecutive calls are
// tolerated before the detector denies.
const DefaultRepetitionLimit = 3

// scrollActions bypass repetition detection: paging through a browser
// legitimately repeats. browser_action is not currently registered, so
// this path is unreachable today; it is kept for when the tool returns.
var scrollActions = map[string]bool{
	"scroll_down": true,
	"scroll_up":   true,
}

// RepetitionDetector notices when the model is stuck re-issuing the same
// tool call. State is per session and reset when a session is created.
type RepetitionDetector struct {
	limit   int
	lastKey string
	count   int
}

// NewRepetitionDetector creates a detector with the given limit
// (0 means DefaultRepetitionLimit).
func NewRepetitionDetector(limit int) *RepetitionDetector {
	if limit <= 0 {
		limit = DefaultRepetitionLimit
	}
	return &RepetitionDetector{limit: limit}
}

// Observe records a call and reports whether it should be denied as a
// loop. After a denial the state resets so the user can guide past it.
func (d *RepetitionDetector) Observe(toolName string, params map[string]any) bool {
	if toolName == "browser_action" {
		if action, _ := params["action"].(string); scrollActions[action] {
			return false
		}
	}
	key := canonicalKey(toolName, params)
	if key == d.lastKey {
		d.count++
	} else {
		d.lastKey = key
		d.count = 1
	}
	if d.count >= d.limit {
		d.Reset()
		return true
	}
	return false
}

// Reset clears the detector state.
func (d *RepetitionDetector) Reset() {
	d.lastKey = ""
	d.count = 0
}

// canonicalKey serialises a call deterministically. encoding/json sorts
// map keys, which gives the canonical ordering for free.
func canonicalKey(toolName string, params map[string]any) string {
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", params))
	}
	return toolName + ":" + string(encoded)
}

package client

import "testing"

func TestRepetitionDetectorDeniesThirdIdenticalCall(t *testing.T) {
	d := NewRepetitionDetector(3)
	params := map[string]any{"path": "a.txt"}

	if d.Observe("read_file", params) {
		t.Fatal("first call must pass")
	}
	if d.Observe("read_file", params) {
		t.Fatal("second call must pass")
	}
	if !d.Observe("read_file", params) {
		t.Fatal("third identical call must be flagged")
	}
	// Post-denial the state resets, so the next identical call passes.
	if d.Observe("read_file", params) {
		t.Fatal("call after reset must pass")
	}
}

func TestRepetitionDetectorKeyOrderIndependent(t *testing.T) {
	d := NewRepetitionDetector(2)
	d.Observe("search_and_replace", map[string]any{"path": "a.txt", "search": "x", "replace": "y"})
	if !d.Observe("search_and_replace", map[string]any{"replace": "y", "search": "x", "path": "a.txt"}) {
		t.Error("maps with the same keys in a different order must count as identical")
	}
}

func TestRepetitionDetectorDifferentCallsReset(t *testing.T) {
	d := NewRepetitionDetector(3)
	d.Observe("read_file", map[string]any{"path": "a.txt"})
	d.Observe("read_file", map[string]any{"path": "b.txt"})
	if d.Observe("read_file", map[string]any{"path": "a.txt"}) {
		t.Error("alternating parameters must not be flagged as a loop")
	}
}

func TestRepetitionDetectorScrollBypass(t *testing.T) {
	d := NewRepetitionDetector(2)
	scroll := map[string]any{"action": "scroll_down"}
	for i := 0; i < 5; i++ {
		if d.Observe("browser_action", scroll) {
			t.Fatal("scrolling must never be flagged as a loop")
		}
	}
	click := map[string]any{"action": "click", "coordinate": "1,2"}
	d.Observe("browser_action", click)
	if !d.Observe("browser_action", click) {
		t.Error("non-scroll browser actions follow the normal rules")
	}
}

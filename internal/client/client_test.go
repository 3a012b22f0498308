package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gambiarra-ai/gambiarra/internal/filectx"
	"github.com/gambiarra-ai/gambiarra/internal/provider"
	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/internal/sandbox"
	"github.com/gambiarra-ai/gambiarra/internal/server"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// startServer runs a full orchestration server over httptest and
// returns the websocket URL to dial.
func startServer(t *testing.T, p *provider.Scripted) string {
	t.Helper()
	srv, err := server.New(server.Config{
		Provider: p,
		Model:    "scripted-model",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestClientFullToolRoundTrip(t *testing.T) {
	scripted := provider.NewScripted(
		"Checking the workspace. <list_files><args><path>.</path></args></list_files>",
		"The workspace has one file.",
	)
	url := startServer(t, scripted)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	paths, err := sandbox.NewPathSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	tracker := filectx.New(0)
	prompt := func(context.Context, models.PendingApproval) (Decision, error) {
		return Decision{Decision: protocol.DecisionApproved}, nil
	}
	pipeline := NewPipeline(registry.MustNew(), paths, tracker, prompt,
		PipelineConfig{AutoApproveReads: true}, nil)
	runner := NewRunner(paths, tracker, nil)

	c := New(Config{
		ServerURL: url,
		Session: protocol.SessionConfig{
			WorkingDirectory: root,
			AutoApproveReads: true,
			OperatingMode:    "code",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pipeline, runner)

	var mu sync.Mutex
	var text strings.Builder
	turnsDone := make(chan struct{}, 8)
	c.OnChunk = func(content string, complete bool) {
		mu.Lock()
		defer mu.Unlock()
		if complete {
			turnsDone <- struct{}{}
			return
		}
		text.WriteString(content)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	go c.Run(ctx)
	if err := c.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if c.SessionID() == "" {
		t.Fatal("session id should be set after WaitReady")
	}

	if err := c.SendUserMessage("what is in this workspace?"); err != nil {
		t.Fatal(err)
	}

	// Two assistant runs: the tool call, then the wrap-up after the
	// summary is re-injected.
	for i := 0; i < 2; i++ {
		select {
		case <-turnsDone:
		case <-ctx.Done():
			t.Fatal("timed out waiting for assistant turns")
		}
	}

	mu.Lock()
	streamed := text.String()
	mu.Unlock()
	if !strings.Contains(streamed, "The workspace has one file.") {
		t.Errorf("final response missing: %q", streamed)
	}

	// The executed listing must have reached the second provider call.
	if len(scripted.Requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(scripted.Requests))
	}
	second := scripted.Requests[1]
	last := second.Messages[len(second.Messages)-1].Content
	if !strings.HasPrefix(last, "Tool result:") || !strings.Contains(last, "hello.txt (5 b)") {
		t.Errorf("re-injected summary = %q", last)
	}

	// The client keeps its own conversation mirror: the user turn, the
	// executed call and its result, and the assistant replies.
	var roles []string
	for _, msg := range c.Memory().Messages() {
		roles = append(roles, string(msg.Role))
	}
	joined := strings.Join(roles, ",")
	for _, want := range []string{"user", "tool_call", "tool_result", "assistant"} {
		if !strings.Contains(joined, want) {
			t.Errorf("conversation mirror missing a %s entry: %v", want, roles)
		}
	}
}

func TestClientMemoryResetsOnNewSession(t *testing.T) {
	scripted := provider.NewScripted("Nothing to do here.")
	url := startServer(t, scripted)

	root := t.TempDir()
	paths, err := sandbox.NewPathSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	tracker := filectx.New(0)
	prompt := func(context.Context, models.PendingApproval) (Decision, error) {
		return Decision{Decision: protocol.DecisionApproved}, nil
	}
	pipeline := NewPipeline(registry.MustNew(), paths, tracker, prompt, PipelineConfig{}, nil)
	runner := NewRunner(paths, tracker, nil)

	c := New(Config{
		ServerURL: url,
		Session:   protocol.SessionConfig{WorkingDirectory: root, OperatingMode: "code"},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pipeline, runner)
	c.Memory().AddUser("stale entry from a previous session")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	go c.Run(ctx)
	if err := c.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	if got := c.Memory().Len(); got != 0 {
		t.Errorf("session_created must clear the conversation mirror, got %d messages", got)
	}
}

func TestClientDeniedByPrompt(t *testing.T) {
	scripted := provider.NewScripted(
		"<write_to_file><args><path>out.txt</path><content>x</content><line_count>1</line_count></args></write_to_file>",
		"Understood.",
	)
	url := startServer(t, scripted)

	root := t.TempDir()
	paths, err := sandbox.NewPathSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	tracker := filectx.New(0)
	prompt := func(context.Context, models.PendingApproval) (Decision, error) {
		return Decision{Decision: protocol.DecisionDenied, Feedback: "not in this test"}, nil
	}
	pipeline := NewPipeline(registry.MustNew(), paths, tracker, prompt, PipelineConfig{}, nil)
	runner := NewRunner(paths, tracker, nil)

	c := New(Config{
		ServerURL: url,
		Session:   protocol.SessionConfig{WorkingDirectory: root, OperatingMode: "code"},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pipeline, runner)

	denied := make(chan string, 1)
	c.OnToolDenied = func(tool, reason string) {
		denied <- tool + ": " + reason
	}
	turnsDone := make(chan struct{}, 8)
	c.OnChunk = func(_ string, complete bool) {
		if complete {
			turnsDone <- struct{}{}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	go c.Run(ctx)
	if err := c.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.SendUserMessage("write something"); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-denied:
		if !strings.Contains(msg, "write_to_file") || !strings.Contains(msg, "not in this test") {
			t.Errorf("denial = %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the denial")
	}

	// The file must not exist: the denial happened before execution.
	if _, err := os.Stat(filepath.Join(root, "out.txt")); !os.IsNotExist(err) {
		t.Error("denied write must not touch the workspace")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-turnsDone:
		case <-ctx.Done():
			t.Fatal("timed out waiting for assistant turns")
		}
	}
}

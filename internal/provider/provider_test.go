package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T, chunks <-chan *Chunk) (string, *Chunk) {
	t.Helper()
	var text strings.Builder
	var last *Chunk
	for chunk := range chunks {
		if chunk.Error != nil || chunk.Done {
			last = chunk
			continue
		}
		text.WriteString(chunk.Text)
	}
	if last == nil {
		t.Fatal("stream ended without a terminal chunk")
	}
	return text.String(), last
}

func TestScriptedReplaysInOrder(t *testing.T) {
	p := NewScripted("first response", "second response goes on for a while to force chunking")

	for _, want := range []string{"first response", "second response goes on for a while to force chunking"} {
		chunks, err := p.Stream(context.Background(), &Request{})
		if err != nil {
			t.Fatal(err)
		}
		got, last := collect(t, chunks)
		if got != want {
			t.Errorf("reassembled %q, want %q", got, want)
		}
		if !last.Done || last.Error != nil {
			t.Errorf("stream should end with Done, got %+v", last)
		}
	}

	if _, err := p.Stream(context.Background(), &Request{}); !errors.Is(err, ErrScriptExhausted) {
		t.Errorf("expected ErrScriptExhausted, got %v", err)
	}
	if len(p.Requests) != 3 {
		t.Errorf("expected 3 recorded requests, got %d", len(p.Requests))
	}
}

func TestScriptedChunksAreSmall(t *testing.T) {
	p := NewScripted(strings.Repeat("x", 100))
	chunks, err := p.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for chunk := range chunks {
		if chunk.Text != "" {
			count++
		}
	}
	if count < 2 {
		t.Errorf("long responses must be split, got %d chunks", count)
	}
}

func TestEmitReleasesAbandonedProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nobody reads this channel; the send must still return.
	chunks := make(chan *Chunk)
	if emit(ctx, chunks, &Chunk{Text: "stranded"}) {
		t.Fatal("emit should report a gone consumer")
	}
}

func TestScriptedStopsWhenConsumerLeaves(t *testing.T) {
	p := NewScripted(strings.Repeat("x", 200))
	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := p.Stream(ctx, &Request{})
	if err != nil {
		t.Fatal(err)
	}
	// Drain one chunk, then walk away like a dropped connection.
	<-chunks
	cancel()
	for range chunks {
	}
	// Ranging to completion proves the producer closed the channel
	// instead of blocking on the next unbuffered send.
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate_limit exceeded"), true},
		{errors.New("HTTP 429 too many requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid api key"), false},
		{errors.New("400 bad request"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestProvidersRequireAPIKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("anthropic: expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewOpenAI(OpenAIConfig{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("openai: expected ErrMissingAPIKey, got %v", err)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := convertAnthropicMessages([]Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool_result", Content: "output"},
	})
	if len(msgs) != 3 {
		t.Fatalf("system turns must be dropped, got %d messages", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" || msgs[2].Role != "user" {
		t.Errorf("unexpected roles: %+v", msgs)
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if got := maxTokensOrDefault(0); got != defaultMaxTokens {
		t.Errorf("zero should default, got %d", got)
	}
	if got := maxTokensOrDefault(128); got != 128 {
		t.Errorf("explicit value must win, got %d", got)
	}
}

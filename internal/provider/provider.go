// Package provider abstracts the AI backends the orchestration server
// streams completions from. Tool invocations travel as XML blocks inside
// the assistant text, so providers only need to deliver text deltas.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned when a provider is constructed without
// credentials.
var ErrMissingAPIKey = errors.New("provider: API key is required")

// Message is one conversation turn in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Chunk is one unit of streamed completion output. Exactly one of the
// terminal conditions holds at the end of a stream: Done or Error.
type Chunk struct {
	Text         string
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Provider streams completions. The returned channel is closed when the
// stream ends; the final chunk carries Done or Error.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// emit delivers one chunk unless the consumer is gone. Every provider
// send goes through here so an abandoned stream cannot strand the
// producing goroutine on an unbuffered channel.
func emit(ctx context.Context, chunks chan<- *Chunk, chunk *Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// defaultMaxTokens bounds generation when the request does not.
const defaultMaxTokens = 4096

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// retryPolicy drives the shared backoff loop for transient API failures.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

func (p retryPolicy) normalized() retryPolicy {
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = time.Second
	}
	return p
}

// backoff waits out the delay for the given attempt, honoring ctx.
func (p retryPolicy) backoff(ctx context.Context, attempt int) error {
	delay := p.baseDelay << attempt
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// isRetryable classifies transient API failures worth retrying: rate
// limits, server-side 5xx, timeouts, and connection drops.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

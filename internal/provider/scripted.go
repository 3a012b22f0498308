package provider

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a scripted provider runs out of
// canned responses.
var ErrScriptExhausted = errors.New("provider: script exhausted")

// Scripted replays canned responses in order, one per Stream call,
// split into word-sized chunks. It exists for tests and offline runs.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int

	// Requests records every request seen, for assertions.
	Requests []*Request
}

// NewScripted creates a provider that replays the given responses.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Name implements Provider.
func (p *Scripted) Name() string {
	return "scripted"
}

// Stream implements Provider.
func (p *Scripted) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if p.next >= len(p.responses) {
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	response := p.responses[p.next]
	p.next++
	p.mu.Unlock()

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		for _, piece := range splitScript(response) {
			if !emit(ctx, chunks, &Chunk{Text: piece}) {
				return
			}
		}
		emit(ctx, chunks, &Chunk{Done: true, OutputTokens: len(response) / 4})
	}()
	return chunks, nil
}

// splitScript breaks a response into small chunks so consumers exercise
// their accumulation paths.
func splitScript(response string) []string {
	const chunkSize = 24
	var pieces []string
	for len(response) > chunkSize {
		pieces = append(pieces, response[:chunkSize])
		response = response[chunkSize:]
	}
	if response != "" {
		pieces = append(pieces, response)
	}
	return pieces
}

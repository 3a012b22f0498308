package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// DefaultAnthropicModel is used when a request does not name a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Anthropic streams completions from the Anthropic Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	retry        retryPolicy
}

// NewAnthropic creates the provider. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultAnthropicModel
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryDelay}.normalized(),
	}, nil
}

// Name implements Provider.
func (p *Anthropic) Name() string {
	return "anthropic"
}

// Stream implements Provider. The returned channel closes when the
// stream completes; the last chunk carries Done or Error.
func (p *Anthropic) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.retry.maxRetries; attempt++ {
			stream = p.createStream(ctx, req)
			err = stream.Err()
			if err == nil {
				break
			}
			if !isRetryable(err) {
				emit(ctx, chunks, &Chunk{Error: fmt.Errorf("anthropic: %w", err)})
				return
			}
			if attempt < p.retry.maxRetries {
				if backoffErr := p.retry.backoff(ctx, attempt); backoffErr != nil {
					emit(ctx, chunks, &Chunk{Error: backoffErr})
					return
				}
			}
		}
		if err != nil {
			emit(ctx, chunks, &Chunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", err)})
			return
		}

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *Anthropic) createStream(ctx context.Context, req *Request) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	return p.client.Messages.NewStreaming(ctx, params)
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !emit(ctx, chunks, &Chunk{Text: delta.Text}) {
					return
				}
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			emit(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(ctx, chunks, &Chunk{Error: fmt.Errorf("anthropic: stream: %w", err)})
		return
	}
	emit(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

// convertAnthropicMessages maps neutral messages to the API's blocks.
// System turns are dropped; the system prompt travels separately.
func convertAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

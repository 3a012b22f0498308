package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when a request does not name a model.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAI streams completions from the Chat Completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	retry        retryPolicy
}

// NewOpenAI creates the provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOpenAIModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryDelay}.normalized(),
	}, nil
}

// Name implements Provider.
func (p *OpenAI) Name() string {
	return "openai"
}

// Stream implements Provider.
func (p *OpenAI) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		chatReq := p.buildRequest(req)

		var stream *openai.ChatCompletionStream
		var err error
		for attempt := 0; attempt <= p.retry.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				emit(ctx, chunks, &Chunk{Error: fmt.Errorf("openai: %w", err)})
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
			emit(ctx, chunks, &Chunk{Error: fmt.Errorf("openai: max retries exceeded: %w", err)})
			return
		}
		defer stream.Close()

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *OpenAI) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Temperature: req.Temperature,
		Stream:      true,
	}
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			emit(ctx, chunks, &Chunk{Done: true})
			return
		}
		if err != nil {
			emit(ctx, chunks, &Chunk{Error: fmt.Errorf("openai: stream: %w", err)})
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			if !emit(ctx, chunks, &Chunk{Text: delta}) {
				return
			}
		}
	}
}

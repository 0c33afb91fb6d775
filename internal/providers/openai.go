package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/marginalia-app/marginalia/internal/analysis"
)

// OpenAIConfig configures an OpenAI-compatible client. BaseURL may point at
// any compatible gateway (OpenRouter etc.); reasoning deltas emitted by such
// gateways surface as thinking chunks.
type OpenAIConfig struct {
	Name              string `mapstructure:"name"`
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	Model             string `mapstructure:"model"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	MaxRetries        int    `mapstructure:"max_retries"`
}

// OpenAIClient is a Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client     openai.Client
	name       string
	model      string
	maxRetries int
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The SDK retries internally as well; keep one layer of retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		name:       name,
		model:      cfg.Model,
		maxRetries: maxRetries,
		limiter:    NewRateLimiter(cfg.RequestsPerMinute),
		logger:     logger,
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string { return c.name }

// Chat sends a buffered chat completion request with retry.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := c.params(req)
	start := time.Now()

	var completion *openai.ChatCompletion
	err := retry.Do(
		func() error {
			var err error
			completion, err = c.client.Chat.Completions.New(ctx, params)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(30*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	c.logger.Debug("chat completion",
		"provider", c.name,
		"model", completion.Model,
		"duration", time.Since(start),
		"request_id", req.RequestID)

	return &ChatResult{
		Content: completion.Choices[0].Message.Content,
		Usage: analysis.Usage{
			InputTokens:     int(completion.Usage.PromptTokens),
			ReasoningTokens: int(completion.Usage.CompletionTokensDetails.ReasoningTokens),
			OutputTokens:    int(completion.Usage.CompletionTokens),
		},
		ModelUsed: completion.Model,
		Provider:  c.name,
		RequestID: req.RequestID,
	}, nil
}

// StreamChat opens a streaming chat completion. Usage accounting is
// requested on the final chunk.
func (c *OpenAIClient) StreamChat(ctx context.Context, req *ChatRequest) (analysis.Source, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	c.logger.Debug("opening chat stream",
		"provider", c.name,
		"model", params.Model,
		"request_id", req.RequestID)

	return &openaiStream{stream: c.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func (c *OpenAIClient) params(req *ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// openaiStream adapts the SDK's SSE stream to analysis.Source. One SSE chunk
// may classify into several analysis chunks (reasoning + content), so a
// small queue bridges the two.
type openaiStream struct {
	stream    *ssestream.Stream[openai.ChatCompletionChunk]
	queue     []analysis.Chunk
	closeOnce sync.Once
	closeErr  error
}

func (s *openaiStream) Next(ctx context.Context) (analysis.Chunk, error) {
	for {
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue = s.queue[1:]
			return c, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return nil, fmt.Errorf("openai stream: %w", err)
			}
			return nil, io.EOF
		}
		s.queue = classifyChunk(s.stream.Current())
	}
}

func (s *openaiStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// classifyChunk maps one SSE chunk to the three-way analysis chunk union.
func classifyChunk(chunk openai.ChatCompletionChunk) []analysis.Chunk {
	var out []analysis.Chunk

	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta

		// OpenRouter-style gateways deliver reasoning as an extra delta
		// field alongside content.
		if f, ok := delta.JSON.ExtraFields["reasoning"]; ok && f.Valid() {
			var text string
			if err := json.Unmarshal([]byte(f.Raw()), &text); err == nil && text != "" {
				out = append(out, analysis.ThinkingChunk{Text: text})
			}
		}
		if delta.Content != "" {
			out = append(out, analysis.ContentChunk{Text: delta.Content})
		}
	}

	// Usage arrives once, on the final chunk.
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		out = append(out, analysis.UsageChunk{Usage: analysis.Usage{
			InputTokens:     int(chunk.Usage.PromptTokens),
			ReasoningTokens: int(chunk.Usage.CompletionTokensDetails.ReasoningTokens),
			OutputTokens:    int(chunk.Usage.CompletionTokens),
		}})
	}

	return out
}

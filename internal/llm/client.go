package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/atomic"

	"comicforge/internal/config"
	"comicforge/internal/gen"
)

const (
	transportRetries = 3
	retryDelay       = 1 * time.Second
)

// Client talks to an OpenAI-compatible chat completion endpoint. It
// implements gen.Backend and additionally serves embeddings for the
// narrative memory.
type Client struct {
	api *openai.Client
	cfg config.LLMConfig
	log zerolog.Logger

	// lastCall holds the unix-nano timestamp of the most recent call.
	// All callers share it so the configured minimum interval holds
	// process-wide, not per session.
	lastCall atomic.Int64
}

func NewClient(cfg config.LLMConfig, log zerolog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		api: openai.NewClientWithConfig(oc),
		cfg: cfg,
		log: log,
	}
}

// Chat sends one completion request and returns the raw assistant text.
func (c *Client) Chat(ctx context.Context, messages []gen.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: float32(c.cfg.Temperature),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var lastErr error
	for attempt := 0; attempt < transportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		if err := c.throttle(ctx); err != nil {
			return "", err
		}

		start := time.Now()
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("completion returned no choices")
			}
			c.log.Debug().
				Str("model", c.cfg.Model).
				Dur("elapsed", time.Since(start)).
				Int("total_tokens", resp.Usage.TotalTokens).
				Msg("chat completion")
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("chat completion failed, retrying")
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", transportRetries, lastErr)
}

// CreateEmbedding embeds one text with the configured embedding model.
func (c *Client) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding request returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// CheckHealth probes the endpoint with a minimal completion.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	return err
}

// throttle blocks until the configured minimum interval since the previous
// call has elapsed. The CAS loop makes concurrent callers queue up fairly
// without a mutex held across the sleep.
func (c *Client) throttle(ctx context.Context) error {
	if c.cfg.MinCallInterval <= 0 {
		return nil
	}
	interval := c.cfg.MinCallInterval.Nanoseconds()
	for {
		now := time.Now().UnixNano()
		last := c.lastCall.Load()
		next := last + interval
		if now >= next {
			if c.lastCall.CompareAndSwap(last, now) {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(next - now)):
		}
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "status code: 429") ||
		strings.Contains(msg, "status code: 5")
}

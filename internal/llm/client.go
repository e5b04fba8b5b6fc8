// Package llm wraps the OpenAI-compatible chat-completion API behind the
// domain.LanguageModel port, adding retry, circuit breaking, and cost
// tracking around the raw call (spec §5 "Resilience", §6 "Language-model
// contract").
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

// Client implements domain.LanguageModel against the OpenAI chat-completions
// API, with a circuit breaker guarding repeated failures and exponential
// backoff guarding transient ones.
type Client struct {
	raw     *openai.Client
	cb      *gobreaker.CircuitBreaker
	cost    *CostTracker
	retries int
}

// Config configures the client.
type Config struct {
	APIKey      string
	BaseURL     string // non-empty to point at an OpenAI-compatible endpoint
	MaxRetries  int
	CBThreshold int           // consecutive failures before the breaker opens
	CBTimeout   time.Duration // open-state duration before half-open
}

// NewClient builds a Client per cfg. Unset knobs default to a breaker
// threshold of 5 failures and a 30s open timeout (the values
// internal/resilience.DefaultConfig uses for Fetch) and to 3 retries.
func NewClient(cfg Config) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}

	threshold := cfg.CBThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.CBTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}

	cbSettings := gobreaker.Settings{
		Name:        "llm-completion",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > uint32(threshold) ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
	}

	return &Client{
		raw:     openai.NewClientWithConfig(oaiCfg),
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		cost:    NewCostTracker(),
		retries: retries,
	}
}

// Complete implements domain.LanguageModel. Transient errors are retried
// with exponential backoff inside the circuit breaker; once the breaker is
// open the call fails fast with apperr.KindLLMTransport (spec §7).
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var resp openai.ChatCompletionResponse
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.callWithRetry(callCtx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.CompletionResponse{}, apperr.Wrap(apperr.KindLLMTransport, "llm circuit breaker open", err)
		}
		if callCtx.Err() != nil {
			return domain.CompletionResponse{}, apperr.Wrap(apperr.KindLLMTimeout, "llm completion timed out", err)
		}
		return domain.CompletionResponse{}, apperr.Wrap(apperr.KindLLMTransport, "llm completion failed", err)
	}
	resp = result.(openai.ChatCompletionResponse)

	if len(resp.Choices) == 0 {
		return domain.CompletionResponse{}, apperr.New(apperr.KindLLMSchema, "empty choices in completion response")
	}

	c.cost.Track(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return domain.CompletionResponse{
		ResponseText: resp.Choices[0].Message.Content,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) callWithRetry(ctx context.Context, req domain.CompletionRequest) (interface{}, error) {
	var resp openai.ChatCompletionResponse

	operation := func() error {
		var err error
		resp, err = c.raw.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: req.PromptText},
			},
		})
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	return resp, nil
}

// CostStats exposes the running cost/token totals for a run's final report
// (spec §5 "Budget enforcement").
func (c *Client) CostStats() CostStats {
	return c.cost.Stats()
}

// Package completion wraps the external chat-completion service: one HTTP
// call with inner retry/backoff, deterministic chunking of oversized input
// and a local extractive fallback when the service stays unavailable.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/groupmind/digestd/internal/core"
)

const (
	// responseReserveTokens is held back from the context ceiling for the
	// model's answer.
	responseReserveTokens = 4000
	// promptOverheadTokens covers the system and instruction text around
	// the transcript.
	promptOverheadTokens = 512

	systemPrompt = "You are an expert at summarizing group conversations. " +
		"Provide clear, concise summaries with key topics and actionable insights."
)

// Config configures the completion client.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxTokens     int // response budget per call
	ContextTokens int // context ceiling of the service
	Retry         core.RetryPolicy
}

// Client calls an OpenAI-compatible chat-completions API. It is stateless
// apart from configuration and safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	maxTokens     int
	contextTokens int
	retry         core.RetryPolicy
	logger        *slog.Logger
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 100000
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = core.DefaultCallRetryPolicy()
	}

	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		baseURL:       base,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		contextTokens: cfg.ContextTokens,
		retry:         cfg.Retry,
		logger:        slog.Default(),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// chunkBudget is the transcript token budget per call.
func (c *Client) chunkBudget() int {
	budget := c.contextTokens - c.maxTokens - responseReserveTokens - promptOverheadTokens
	if budget < 256 {
		budget = 256
	}
	return budget
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// callResult is one successful completion call.
type callResult struct {
	content    string
	tokensUsed int
}

// retryAfterFloor lifts each wait to at least the server's latest
// Retry-After hint. The exponential schedule underneath still advances,
// so a service that keeps hinting a short delay cannot pin the client to
// it.
type retryAfterFloor struct {
	backoff.BackOff
	hint *time.Duration
}

func (f *retryAfterFloor) NextBackOff() time.Duration {
	d := f.BackOff.NextBackOff()
	if *f.hint > d {
		d = *f.hint
	}
	*f.hint = 0
	return d
}

// call makes one logical completion call, retrying transient failures
// (timeouts, 5xx, 429) with exponential backoff. A 429's Retry-After
// header sets a floor under the next wait; the computed delay wins when
// it is longer. Auth failures, validation errors and content-filter
// stops are permanent.
func (c *Client) call(ctx context.Context, messages []chatMessage, idempotencyKey string, temperature float64) (*callResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var serverHint time.Duration
	operation := func() (*callResult, error) {
		res, hint, err := c.doRequest(ctx, body, idempotencyKey)
		serverHint = hint
		return res, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retry.BaseDelay
	expo.Multiplier = c.retry.Multiplier
	expo.MaxInterval = c.retry.MaxDelay
	if c.retry.Jitter > 0 {
		expo.RandomizationFactor = c.retry.Jitter
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&retryAfterFloor{BackOff: expo, hint: &serverHint}),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
	)
	if err != nil {
		var pe *core.PipelineError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, core.NewTransientServiceError(err.Error())
	}
	return result, nil
}

// doRequest performs one HTTP attempt. The duration is the server's
// Retry-After hint, zero when absent; the caller floors the next wait
// with it.
func (c *Client) doRequest(ctx context.Context, body []byte, idempotencyKey string) (*callResult, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, backoff.Permanent(core.NewInternalError(err.Error()))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures retry.
		return nil, 0, core.NewTransientServiceError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, core.NewTransientServiceError(err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var cr chatResponse
		if err := json.Unmarshal(respBody, &cr); err != nil {
			return nil, 0, backoff.Permanent(core.NewNonRetriableServiceError("invalid response body: " + err.Error()))
		}
		if len(cr.Choices) == 0 {
			return nil, 0, backoff.Permanent(core.NewNonRetriableServiceError("response has no choices"))
		}
		choice := cr.Choices[0]
		if choice.FinishReason == "content_filter" {
			return nil, 0, backoff.Permanent(core.NewNonRetriableServiceError("completion stopped by content filter"))
		}
		return &callResult{
			content:    choice.Message.Content,
			tokensUsed: cr.Usage.TotalTokens,
		}, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		var hint time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			hint = time.Duration(secs) * time.Second
		}
		return nil, hint, core.NewTransientServiceError("rate limited by completion service")

	case resp.StatusCode >= 500:
		return nil, 0, core.NewTransientServiceError(fmt.Sprintf("server error: %d", resp.StatusCode))

	default:
		var ae apiError
		msg := fmt.Sprintf("API error: %d", resp.StatusCode)
		if json.Unmarshal(respBody, &ae) == nil && ae.Error.Message != "" {
			msg += " - " + ae.Error.Message
		}
		return nil, 0, backoff.Permanent(core.NewNonRetriableServiceError(msg))
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"reelforge/internal/services"
)

const (
	defaultEndpoint    = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout     = 30 * time.Second
	defaultAttempts    = 3
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 10 * time.Second

	healthSystemPrompt = "You must respond with JSON only."
	healthUserPrompt   = `Respond with {"ok":true}`
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// UsageObserver receives token counts after every successful completion.
type UsageObserver func(model string, usage Usage)

// Client talks to an OpenRouter-compatible chat completion endpoint and
// always asks for JSON output.
type Client struct {
	endpoint string
	model    string
	headers  http.Header
	http     *http.Client

	temperature float64
	maxTokens   int

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)

	onUsage UsageObserver
	mu      sync.Mutex
	usage   Usage
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetryMaxAttempts caps the number of requests per completion.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.retryMaxAttempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the ceiling it doubles up to.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper replaces the timer used between retries.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.sleeper = sleeper }
}

// WithSampling sets temperature and an optional completion token cap.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(c *Client) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithUsageObserver registers fn for per-completion token accounting.
func WithUsageObserver(fn UsageObserver) Option {
	return func(c *Client) { c.onUsage = fn }
}

// NewClient constructs a client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}
	if v := strings.TrimSpace(cfg.Referer); v != "" {
		headers.Set("HTTP-Referer", v)
	}
	if v := strings.TrimSpace(cfg.Title); v != "" {
		headers.Set("X-Title", v)
	}

	c := &Client{
		endpoint:         endpoint,
		model:            strings.TrimSpace(cfg.Model),
		headers:          headers,
		http:             &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultAttempts,
		retryBaseDelay:   defaultBackoffBase,
		retryMaxDelay:    defaultBackoffCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model reports the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Usage returns the tokens consumed by this client so far.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// CompleteJSON sends one system and one user prompt and returns the raw JSON
// text of the reply. Errors carry services.ErrUpstream, or ErrTimeout when the
// deadline ran out.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" || userPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "llm", "complete", "system and user prompts required", nil)
	}
	if c.headers.Get("Authorization") == "" {
		return "", services.Wrap(services.ErrConfiguration, "llm", "complete", "api key required", nil)
	}
	req := completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	text, err := c.completeWithRetry(ctx, req, "llm complete")
	if err != nil {
		return "", classify(ctx, "complete", err)
	}
	return text, nil
}

// CompleteInto runs CompleteJSON and decodes the reply into target.
func (c *Client) CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	text, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := DecodeLLMJSON(text, target); err != nil {
		return services.Wrap(services.ErrUpstream, "llm", "decode", "model returned unusable JSON", err)
	}
	return nil
}

// HealthCheck makes a tiny round trip to prove the key and model work.
func (c *Client) HealthCheck(ctx context.Context) error {
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := c.CompleteInto(ctx, healthSystemPrompt, healthUserPrompt, &reply); err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	if !reply.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func classify(ctx context.Context, op string, err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded)
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}
	if timedOut {
		return services.Wrap(services.ErrTimeout, "llm", op, "request deadline exceeded", err)
	}
	return services.Wrap(services.ErrUpstream, "llm", op, "", err)
}

func (c *Client) recordUsage(u *Usage) {
	if u == nil {
		return
	}
	c.mu.Lock()
	c.usage.PromptTokens += u.PromptTokens
	c.usage.CompletionTokens += u.CompletionTokens
	c.mu.Unlock()
	if c.onUsage != nil {
		c.onUsage(c.model, *u)
	}
}

// post sends req once. The raw body is returned alongside the decoded
// response so empty-content failures can quote it.
func (c *Client) post(ctx context.Context, req completionRequest) (completionResponse, []byte, error) {
	var out completionResponse
	payload, err := json.Marshal(req)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return out, nil, fmt.Errorf("llm request: new request: %w", err)
	}
	httpReq.Header = c.headers.Clone()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: http error (timeout=%s): %w", c.http.Timeout, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: read body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		wait, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return out, raw, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: wait,
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, raw, fmt.Errorf("llm request: decode response: %w", err)
	}
	if out.Error != nil {
		return out, raw, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(out.Error.Message))
	}
	c.recordUsage(out.Usage)
	return out, raw, nil
}

package translation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"codeberg.org/snonux/transbench/internal/exam"
)

// Config holds the endpoint and retry settings of a Client
type Config struct {
	APIKey      string
	BaseURL     string // empty for the default OpenAI endpoint
	Model       string
	Temperature float32
	MaxTokens   int // 0 leaves the limit to the server

	Timeout    time.Duration // per attempt
	MaxRetries int           // attempts after the first one
	Backoff    time.Duration // delay before the first retry, doubled afterwards
	MaxBackoff time.Duration

	// BreakerThreshold trips the circuit breaker after this many
	// consecutive transient failures. 0 disables the breaker.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// DefaultConfig returns default client settings
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		Backoff:        500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BreakerTimeout: 10 * time.Second,
	}
}

// ChatCompleter is the part of the OpenAI client used for translation
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Result is the outcome of translating one item. Err is nil on success.
type Result struct {
	Item     exam.Item
	Text     string
	Err      *Error
	Latency  time.Duration
	Attempts int
}

// OK reports whether the item was translated
func (r Result) OK() bool {
	return r.Err == nil
}

// ErrorString returns the error text for reports, empty on success
func (r Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Client translates exam items with a chat completions endpoint
type Client struct {
	completer ChatCompleter
	config    *Config
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewOpenAIClient creates an OpenAI API client for the given key and
// optional base URL
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// NewClient creates a translation client talking to the configured endpoint
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not found")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	return NewClientWithCompleter(NewOpenAIClient(config.APIKey, config.BaseURL), config, logger), nil
}

// NewClientWithCompleter creates a client on top of an existing completer
func NewClientWithCompleter(completer ChatCompleter, config *Config, logger zerolog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Client{
		completer: completer,
		config:    config,
		logger:    logger.With().Str("component", "translator").Str("model", config.Model).Logger(),
	}

	if config.BreakerThreshold > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "chat-completions",
			MaxRequests: 1,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.BreakerThreshold
			},
			// Rejected requests say nothing about the endpoint's health
			IsSuccessful: func(err error) bool {
				return err == nil || IsFatal(classify(err, false))
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		})
	}

	return c
}

// Translate translates one item, retrying transient failures. It never
// returns an error: failures are recorded in the Result. Cancelling ctx
// lets a running attempt finish but starts no further attempt.
func (c *Client) Translate(ctx context.Context, item exam.Item) Result {
	start := time.Now()
	result := Result{Item: item}

	prompt, ok := SystemPrompt(item.Task)
	if !ok {
		result.Err = &Error{Kind: KindBadRequest, Err: fmt.Errorf("unsupported task: %s", item.Task)}
		result.Latency = time.Since(start)
		return result
	}
	req := c.buildRequest(prompt, item.Source)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = &Error{Kind: KindCancelled, Err: err}
			break
		}
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.Debug().
				Str("task", item.Task.String()).
				Int("line", item.LineNo).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying translation")

			if err := sleepContext(ctx, delay); err != nil {
				result.Err = &Error{Kind: KindCancelled, Err: err}
				break
			}
		}

		result.Attempts++
		text, err := c.attempt(ctx, req)
		if err == nil {
			result.Text = text
			result.Err = nil
			break
		}

		result.Err = err
		if ctx.Err() != nil {
			result.Err = &Error{Kind: KindCancelled, Err: ctx.Err()}
			break
		}
		if !IsRetryable(err) {
			break
		}

		c.logger.Warn().
			Str("task", item.Task.String()).
			Int("line", item.LineNo).
			Int("attempt", result.Attempts).
			Str("kind", string(err.Kind)).
			Err(err.Err).
			Msg("Translation attempt failed")
	}

	result.Latency = time.Since(start)
	return result
}

// attempt performs a single timed-out call. The call is detached from
// ctx cancellation and only bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, req openai.ChatCompletionRequest) (string, *Error) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	detached := context.WithoutCancel(ctx)
	if c.config.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(detached, c.config.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(detached)
	}
	defer cancel()

	call := func() (interface{}, error) {
		resp, err := c.completer.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errEmptyResponse
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return nil, errEmptyResponse
		}
		return text, nil
	}

	var (
		value interface{}
		err   error
	)
	if c.breaker != nil {
		value, err = c.breaker.Execute(call)
	} else {
		value, err = call()
	}

	if err != nil {
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		return "", classify(err, timedOut)
	}
	return value.(string), nil
}

func (c *Client) buildRequest(prompt, source string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: source,
			},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
}

// backoffDelay returns Backoff * 2^(attempt-1), capped at MaxBackoff
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.config.Backoff <= 0 || attempt <= 0 {
		return 0
	}
	delay := float64(c.config.Backoff) * math.Pow(2, float64(attempt-1))
	if c.config.MaxBackoff > 0 && delay > float64(c.config.MaxBackoff) {
		delay = float64(c.config.MaxBackoff)
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

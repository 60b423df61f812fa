package translation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/testutil"
)

func testConfig(baseURL string) *Config {
	return &Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client, err := NewClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

var zhItem = exam.Item{Task: exam.ZhEn, Index: 0, LineNo: 3, Source: "今天天气很好。"}

func TestNewClient(t *testing.T) {
	client := newTestClient(t, testConfig(""))

	if client.completer == nil {
		t.Error("OpenAI client not initialized")
	}
	if client.breaker != nil {
		t.Error("Circuit breaker should be disabled by default")
	}
}

func TestNewClient_MissingSettings(t *testing.T) {
	cfg := testConfig("")
	cfg.APIKey = ""
	_, err := NewClient(cfg, zerolog.Nop())
	if err == nil || err.Error() != "OpenAI API key not found" {
		t.Errorf("Expected 'OpenAI API key not found' error, got: %v", err)
	}

	cfg = testConfig("")
	cfg.Model = ""
	if _, err := NewClient(cfg, zerolog.Nop()); err == nil {
		t.Error("Expected error for missing model")
	}
}

func TestTranslate_Success(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.OK("  The weather is nice today.\n")
	})
	client := newTestClient(t, testConfig(fake.BaseURL()))

	result := client.Translate(context.Background(), zhItem)

	if !result.OK() {
		t.Fatalf("Translate() failed: %v", result.Err)
	}
	if result.Text != "The weather is nice today." {
		t.Errorf("Text = %q, want trimmed translation", result.Text)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Item != zhItem {
		t.Errorf("Item = %+v, want %+v", result.Item, zhItem)
	}
	if result.ErrorString() != "" {
		t.Errorf("ErrorString() = %q, want empty", result.ErrorString())
	}

	reqs := fake.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Model != "test-model" {
		t.Errorf("Model = %s, want test-model", reqs[0].Model)
	}
	if len(reqs[0].Messages) != 2 || reqs[0].Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("Unexpected messages: %+v", reqs[0].Messages)
	}
	if !strings.Contains(reqs[0].Messages[0].Content, "Chinese text into natural, accurate English") {
		t.Errorf("zh_en system prompt not used: %s", reqs[0].Messages[0].Content)
	}
	if reqs[0].Messages[1].Content != zhItem.Source {
		t.Errorf("User message = %q, want source text", reqs[0].Messages[1].Content)
	}
}

func TestTranslate_PromptDirection(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, testutil.Echo("ok:"))
	client := newTestClient(t, testConfig(fake.BaseURL()))

	item := exam.Item{Task: exam.EnZh, Source: "Good morning."}
	result := client.Translate(context.Background(), item)
	if !result.OK() {
		t.Fatalf("Translate() failed: %v", result.Err)
	}

	prompt := fake.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "English text into natural, accurate Simplified Chinese") {
		t.Errorf("en_zh system prompt not used: %s", prompt)
	}
}

func TestTranslate_Retries(t *testing.T) {
	tests := []struct {
		name         string
		replies      []testutil.Reply
		timeout      time.Duration
		wantOK       bool
		wantKind     ErrorKind
		wantAttempts int
	}{
		{
			name:         "server error then success",
			replies:      []testutil.Reply{testutil.Fail(http.StatusServiceUnavailable, "overloaded"), testutil.OK("hello")},
			wantOK:       true,
			wantAttempts: 2,
		},
		{
			name:         "timeout then success",
			replies:      []testutil.Reply{{Delay: time.Second, Content: "late"}, testutil.OK("hello")},
			timeout:      100 * time.Millisecond,
			wantOK:       true,
			wantAttempts: 2,
		},
		{
			name:         "rate limited twice then success",
			replies:      []testutil.Reply{testutil.Fail(http.StatusTooManyRequests, "slow down"), testutil.Fail(http.StatusTooManyRequests, "slow down"), testutil.OK("hello")},
			wantOK:       true,
			wantAttempts: 3,
		},
		{
			name:         "persistent server error",
			replies:      []testutil.Reply{testutil.Fail(http.StatusInternalServerError, "boom")},
			wantKind:     KindServer,
			wantAttempts: 3,
		},
		{
			name:         "persistent timeout",
			replies:      []testutil.Reply{{Delay: time.Second, Content: "late"}},
			timeout:      50 * time.Millisecond,
			wantKind:     KindTimeout,
			wantAttempts: 3,
		},
		{
			name:         "non JSON gateway error",
			replies:      []testutil.Reply{{Status: http.StatusBadGateway, RawBody: "<html>bad gateway</html>"}},
			wantKind:     KindServer,
			wantAttempts: 3,
		},
		{
			name:         "empty response",
			replies:      []testutil.Reply{testutil.OK("   ")},
			wantKind:     KindEmptyResponse,
			wantAttempts: 3,
		},
		{
			name:         "authentication failure is not retried",
			replies:      []testutil.Reply{testutil.Fail(http.StatusUnauthorized, "invalid api key")},
			wantKind:     KindAuth,
			wantAttempts: 1,
		},
		{
			name:         "forbidden is not retried",
			replies:      []testutil.Reply{testutil.Fail(http.StatusForbidden, "no access")},
			wantKind:     KindAuth,
			wantAttempts: 1,
		},
		{
			name:         "malformed request is not retried",
			replies:      []testutil.Reply{testutil.Fail(http.StatusBadRequest, "bad messages")},
			wantKind:     KindBadRequest,
			wantAttempts: 1,
		},
		{
			name:         "unknown model is not retried",
			replies:      []testutil.Reply{testutil.Fail(http.StatusNotFound, "model not found")},
			wantKind:     KindBadRequest,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
				if call > len(tt.replies) {
					return tt.replies[len(tt.replies)-1]
				}
				return tt.replies[call-1]
			})
			cfg := testConfig(fake.BaseURL())
			if tt.timeout > 0 {
				cfg.Timeout = tt.timeout
			}
			client := newTestClient(t, cfg)

			result := client.Translate(context.Background(), zhItem)

			if result.OK() != tt.wantOK {
				t.Fatalf("OK() = %v, want %v (err: %v)", result.OK(), tt.wantOK, result.Err)
			}
			if !tt.wantOK {
				if result.Err.Kind != tt.wantKind {
					t.Errorf("Kind = %s, want %s (err: %v)", result.Err.Kind, tt.wantKind, result.Err)
				}
				if result.Text != "" {
					t.Errorf("Text = %q, want empty on failure", result.Text)
				}
				if !strings.HasPrefix(result.ErrorString(), string(tt.wantKind)+":") {
					t.Errorf("ErrorString() = %q, want %s prefix", result.ErrorString(), tt.wantKind)
				}
			}
			if result.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", result.Attempts, tt.wantAttempts)
			}
			if fake.Calls() != tt.wantAttempts {
				t.Errorf("Server saw %d calls, want %d", fake.Calls(), tt.wantAttempts)
			}
		})
	}
}

func TestTranslate_StatusCodeRecorded(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.Fail(http.StatusUnauthorized, "invalid api key")
	})
	client := newTestClient(t, testConfig(fake.BaseURL()))

	result := client.Translate(context.Background(), zhItem)
	if result.OK() {
		t.Fatal("Expected failure")
	}
	if result.Err.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", result.Err.StatusCode)
	}
	if !IsFatal(result.Err) || IsRetryable(result.Err) {
		t.Errorf("401 should be fatal and not retryable: %v", result.Err)
	}
}

func TestTranslate_NoRetriesConfigured(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		if call == 1 {
			return testutil.Fail(http.StatusServiceUnavailable, "overloaded")
		}
		return testutil.OK("hello")
	})
	cfg := testConfig(fake.BaseURL())
	cfg.MaxRetries = 0
	client := newTestClient(t, cfg)

	result := client.Translate(context.Background(), zhItem)
	if result.OK() || result.Err.Kind != KindServer {
		t.Errorf("Expected server failure without retry, got %+v", result)
	}
	if fake.Calls() != 1 {
		t.Errorf("Server saw %d calls, want 1", fake.Calls())
	}
}

func TestTranslate_NetworkError(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, testutil.Echo(""))
	baseURL := fake.BaseURL()
	fake.Server.Close()

	client := newTestClient(t, testConfig(baseURL))
	result := client.Translate(context.Background(), zhItem)

	if result.OK() {
		t.Fatal("Expected failure against a closed server")
	}
	if result.Err.Kind != KindNetwork {
		t.Errorf("Kind = %s, want %s (err: %v)", result.Err.Kind, KindNetwork, result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestTranslate_CircuitBreaker(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.Fail(http.StatusInternalServerError, "down")
	})
	cfg := testConfig(fake.BaseURL())
	cfg.MaxRetries = 4
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	client := newTestClient(t, cfg)

	result := client.Translate(context.Background(), zhItem)

	if result.OK() {
		t.Fatal("Expected failure")
	}
	if result.Err.Kind != KindCircuitOpen {
		t.Errorf("Kind = %s, want %s", result.Err.Kind, KindCircuitOpen)
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}
	if fake.Calls() != 2 {
		t.Errorf("Server saw %d calls, want 2 before the breaker opened", fake.Calls())
	}
}

func TestTranslate_BreakerIgnoresFatalErrors(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		if strings.Contains(testutil.LastUserMessage(req), "bad") {
			return testutil.Fail(http.StatusBadRequest, "rejected")
		}
		return testutil.OK("fine")
	})
	cfg := testConfig(fake.BaseURL())
	cfg.BreakerThreshold = 1
	client := newTestClient(t, cfg)

	for i := 0; i < 3; i++ {
		result := client.Translate(context.Background(), exam.Item{Task: exam.EnZh, Source: "bad input"})
		if result.OK() || result.Err.Kind != KindBadRequest {
			t.Fatalf("Expected bad_request, got %+v", result)
		}
	}

	result := client.Translate(context.Background(), exam.Item{Task: exam.EnZh, Source: "good input"})
	if !result.OK() {
		t.Errorf("Breaker tripped on client errors: %v", result.Err)
	}
}

func TestTranslate_Cancelled(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.Fail(http.StatusServiceUnavailable, "overloaded")
	})
	cfg := testConfig(fake.BaseURL())
	cfg.Backoff = time.Hour
	cfg.MaxBackoff = time.Hour
	client := newTestClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	result := client.Translate(ctx, zhItem)

	if result.OK() || result.Err.Kind != KindCancelled {
		t.Errorf("Expected cancelled result, got %+v", result)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Cancellation did not interrupt the backoff")
	}
}

func TestTranslate_CancelStopsRetries(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.Fail(http.StatusInternalServerError, "boom")
	})
	cfg := testConfig(fake.BaseURL())
	cfg.MaxRetries = 5
	cfg.Backoff = 100 * time.Millisecond
	cfg.MaxBackoff = time.Second
	client := newTestClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	result := client.Translate(ctx, zhItem)

	if result.OK() || result.Err.Kind != KindCancelled {
		t.Errorf("Expected cancelled result, got %+v", result)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if fake.Calls() != 1 {
		t.Errorf("Requests sent = %d, want 1", fake.Calls())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Translate took %v after cancellation", elapsed)
	}
}

func TestTranslate_CancelLetsAttemptFinish(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, func(call int, req openai.ChatCompletionRequest) testutil.Reply {
		return testutil.Reply{Content: "It is sunny.", Delay: 100 * time.Millisecond}
	})
	client := newTestClient(t, testConfig(fake.BaseURL()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	result := client.Translate(ctx, zhItem)

	if !result.OK() {
		t.Fatalf("In-flight attempt was aborted: %v", result.Err)
	}
	if result.Text != "It is sunny." {
		t.Errorf("Text = %q", result.Text)
	}
	if fake.Calls() != 1 {
		t.Errorf("Requests sent = %d, want 1", fake.Calls())
	}
}

func TestTranslate_AlreadyCancelled(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, testutil.Echo(""))
	client := newTestClient(t, testConfig(fake.BaseURL()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := client.Translate(ctx, zhItem)

	if result.OK() || result.Err.Kind != KindCancelled {
		t.Errorf("Expected cancelled result, got %+v", result)
	}
	if result.Attempts != 0 || fake.Calls() != 0 {
		t.Errorf("Attempts = %d, requests = %d, want none", result.Attempts, fake.Calls())
	}
}

func TestTranslate_UnsupportedTask(t *testing.T) {
	fake := testutil.NewFakeOpenAI(t, testutil.Echo(""))
	client := newTestClient(t, testConfig(fake.BaseURL()))

	result := client.Translate(context.Background(), exam.Item{Task: "fr_en", Source: "bonjour"})
	if result.OK() || result.Err.Kind != KindBadRequest {
		t.Errorf("Expected bad_request, got %+v", result)
	}
	if fake.Calls() != 0 {
		t.Errorf("Unsupported task should not reach the server, got %d calls", fake.Calls())
	}
}

func TestBackoffDelay(t *testing.T) {
	client := NewClientWithCompleter(nil, &Config{
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 3 * time.Second,
	}, zerolog.Nop())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second},
		{10, 3 * time.Second},
	}

	for _, tt := range tests {
		if got := client.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.Backoff != 500*time.Millisecond {
		t.Errorf("Backoff = %v, want 500ms", cfg.Backoff)
	}
	if cfg.BreakerThreshold != 0 {
		t.Errorf("BreakerThreshold = %d, want 0", cfg.BreakerThreshold)
	}
}

func TestSystemPrompt(t *testing.T) {
	for _, task := range exam.AllTasks {
		if prompt, ok := SystemPrompt(task); !ok || prompt == "" {
			t.Errorf("No system prompt for %s", task)
		}
	}
	if _, ok := SystemPrompt("fr_en"); ok {
		t.Error("Unexpected prompt for unknown task")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timedOut bool
		want     ErrorKind
	}{
		{"api 401", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, false, KindAuth},
		{"api 422", &openai.APIError{HTTPStatusCode: 422}, false, KindBadRequest},
		{"api 429", &openai.APIError{HTTPStatusCode: 429}, false, KindRateLimited},
		{"api 408", &openai.APIError{HTTPStatusCode: 408}, false, KindServer},
		{"api 504", &openai.APIError{HTTPStatusCode: 504}, false, KindServer},
		{"request 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, false, KindServer},
		{"request 400", &openai.RequestError{HTTPStatusCode: 400, Err: errors.New("bad")}, false, KindBadRequest},
		{"deadline", context.DeadlineExceeded, false, KindTimeout},
		{"attempt timed out", errors.New("read: connection reset"), true, KindTimeout},
		{"cancelled", context.Canceled, false, KindCancelled},
		{"empty", errEmptyResponse, false, KindEmptyResponse},
		{"transport", errors.New("dial tcp: connection refused"), false, KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.timedOut)
			if got.Kind != tt.want {
				t.Errorf("classify() = %s, want %s", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap its cause")
			}
		})
	}

	if classify(nil, false) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestErrorKindPredicates(t *testing.T) {
	retryable := []ErrorKind{KindTimeout, KindNetwork, KindRateLimited, KindServer, KindCircuitOpen, KindEmptyResponse}
	fatal := []ErrorKind{KindAuth, KindBadRequest}
	neither := []ErrorKind{KindCancelled, KindBudgetExhausted}

	for _, k := range retryable {
		if !k.Retryable() || k.Fatal() {
			t.Errorf("%s should be retryable only", k)
		}
	}
	for _, k := range fatal {
		if k.Retryable() || !k.Fatal() {
			t.Errorf("%s should be fatal only", k)
		}
	}
	for _, k := range neither {
		if k.Retryable() || k.Fatal() {
			t.Errorf("%s should be neither retryable nor fatal", k)
		}
	}

	if (&Error{Kind: KindCancelled}).Error() != "cancelled" {
		t.Error("Error() without cause should be the kind")
	}
}

package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Reply describes how the fake endpoint answers one chat completion call
type Reply struct {
	Status  int           // HTTP status, 0 means 200
	Content string        // assistant message on success
	Message string        // error message for JSON error bodies
	RawBody string        // sent verbatim instead of a JSON body when set
	Delay   time.Duration // wait before answering
}

// OK returns a successful reply with the given translation
func OK(content string) Reply {
	return Reply{Content: content}
}

// Fail returns an OpenAI style JSON error reply
func Fail(status int, message string) Reply {
	return Reply{Status: status, Message: message}
}

// ReplyFunc decides the reply for the n-th call (1-based, counted across
// all requests) carrying req
type ReplyFunc func(call int, req openai.ChatCompletionRequest) Reply

// FakeOpenAI is an httptest server speaking the subset of the OpenAI API
// used by transbench: POST /v1/chat/completions and GET /v1/models.
type FakeOpenAI struct {
	Server *httptest.Server

	mu       sync.Mutex
	models   []string
	calls    int
	requests []openai.ChatCompletionRequest
	reply    ReplyFunc
}

// NewFakeOpenAI starts a fake endpoint that is closed when the test ends
func NewFakeOpenAI(t *testing.T, reply ReplyFunc) *FakeOpenAI {
	t.Helper()

	f := &FakeOpenAI{
		reply:  reply,
		models: []string{"gpt-4o-mini", "gpt-4o", "tts-1", "dall-e-3", "text-embedding-3-small"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", f.handleChat)
	mux.HandleFunc("/v1/models", f.handleModels)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// Echo replies with a marker plus the source text for every call
func Echo(prefix string) ReplyFunc {
	return func(call int, req openai.ChatCompletionRequest) Reply {
		return OK(prefix + LastUserMessage(req))
	}
}

// SetModels replaces the model IDs served by /v1/models
func (f *FakeOpenAI) SetModels(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = ids
}

// BaseURL returns the API base URL to configure clients with
func (f *FakeOpenAI) BaseURL() string {
	return f.Server.URL + "/v1"
}

// Calls returns the number of chat completion calls received
func (f *FakeOpenAI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Requests returns a copy of every chat completion request received
func (f *FakeOpenAI) Requests() []openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]openai.ChatCompletionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// LastUserMessage returns the content of the last user message of req
func LastUserMessage(req openai.ChatCompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == openai.ChatMessageRoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func (f *FakeOpenAI) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	reply := f.reply(call, req)

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}

	if reply.RawBody != "" {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply.RawBody))
		return
	}

	if status >= 400 {
		writeJSON(w, status, errorBody(reply.Message))
		return
	}

	writeJSON(w, status, openai.ChatCompletionResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: reply.Content,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
	})
}

func (f *FakeOpenAI) handleModels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ids := f.models
	f.mu.Unlock()

	list := openai.ModelsList{}
	for _, id := range ids {
		list.Models = append(list.Models, openai.Model{ID: id, Object: "model", OwnedBy: "openai"})
	}
	writeJSON(w, http.StatusOK, list)
}

func errorBody(message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

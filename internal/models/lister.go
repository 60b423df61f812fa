package models

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"codeberg.org/snonux/transbench/internal/translation"
)

// Lister handles listing available models
type Lister struct {
	apiKey string
	client *openai.Client
}

// NewLister creates a new model lister for the endpoint at baseURL (empty for
// the OpenAI API)
func NewLister(apiKey, baseURL string) *Lister {
	return &Lister{
		apiKey: apiKey,
		client: translation.NewOpenAIClient(apiKey, baseURL),
	}
}

// nonChatMarkers identify models that cannot translate text
var nonChatMarkers = []string{"tts", "audio", "dall-e", "embedding", "whisper", "moderation", "transcribe", "image"}

// IsChatModel reports whether the model ID looks like a chat model
func IsChatModel(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range nonChatMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// ChatModels returns the sorted IDs of the chat models served by the endpoint
func (l *Lister) ChatModels(ctx context.Context) ([]string, error) {
	if l.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not found. Set OPENAI_API_KEY or LLM_API_KEY environment variable or configure in .transbench.yaml")
	}

	models, err := l.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	chatModels := []string{}
	for _, model := range models.Models {
		if IsChatModel(model.ID) {
			chatModels = append(chatModels, model.ID)
		}
	}
	sort.Strings(chatModels)
	return chatModels, nil
}

// ListAvailableModels prints the chat models to out
func (l *Lister) ListAvailableModels(ctx context.Context, out io.Writer) error {
	chatModels, err := l.ChatModels(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Chat models (use with --model or MODEL_NAME):")
	if len(chatModels) == 0 {
		fmt.Fprintln(out, "  No chat models found")
		return nil
	}
	for _, model := range chatModels {
		fmt.Fprintf(out, "  %s\n", model)
	}
	return nil
}

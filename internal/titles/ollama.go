// ABOUTME: Summarizer backed by a local Ollama model
// ABOUTME: Lets title generation run without spending hosted-model tokens

package titles

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaSummarizer asks an Ollama chat model for a title.
type OllamaSummarizer struct {
	client *api.Client
	model  string
}

// NewOllamaSummarizer connects to the Ollama server at host.
func NewOllamaSummarizer(host, model string, httpClient *http.Client) (*OllamaSummarizer, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama host: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaSummarizer{client: api.NewClient(u, httpClient), model: model}, nil
}

// Summarize runs one non-streaming chat request.
func (s *OllamaSummarizer) Summarize(ctx context.Context, userText, assistantText string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: s.model,
		Messages: []api.Message{
			{Role: "system", Content: Instruction},
			{Role: "user", Content: Prompt(userText, assistantText)},
		},
		Options: map[string]interface{}{
			"temperature": 0.2,
			"num_predict": 24,
		},
		Stream: &stream,
	}

	var out strings.Builder
	err := s.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return Clean(out.String())
}

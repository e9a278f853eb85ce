package titles

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"Weather in Oslo"`, "Weather in Oslo"},
		{"Title: Planning a Trip.", "Planning a Trip"},
		{"  Greeting Exchange  \nBecause the user said hi", "Greeting Exchange"},
		{"**Bold Title**", "Bold Title"},
		{"“Curly quotes”", "Curly quotes"},
	}
	for _, tt := range tests {
		got, err := Clean(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := Clean("  \"\"  ")
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestClean_TruncatesLongTitles(t *testing.T) {
	got, err := Clean(strings.Repeat("word ", 40))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), maxTitleLen)
}

func TestPrompt_TruncatesExcerpts(t *testing.T) {
	p := Prompt(strings.Repeat("é", 3000), "short")
	assert.Contains(t, p, "…")
	assert.Contains(t, p, "Assistant reply:\nshort")
}

type fakeCompleter struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestAssistantSummarizer(t *testing.T) {
	fc := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: `"Friendly Greeting"`}}},
	}}
	s := NewAssistantSummarizer(fc, "gpt-4o-mini")

	title, err := s.Summarize(context.Background(), "Hello", "Hi there")
	require.NoError(t, err)
	assert.Equal(t, "Friendly Greeting", title)

	assert.Equal(t, "gpt-4o-mini", fc.req.Model)
	require.Len(t, fc.req.Messages, 2)
	assert.Equal(t, Instruction, fc.req.Messages[0].Content)
	assert.Contains(t, fc.req.Messages[1].Content, "Hello")
	assert.Contains(t, fc.req.Messages[1].Content, "Hi there")
}

func TestAssistantSummarizer_Errors(t *testing.T) {
	s := NewAssistantSummarizer(&fakeCompleter{err: errors.New("quota")}, "m")
	_, err := s.Summarize(context.Background(), "a", "b")
	assert.Error(t, err)

	s = NewAssistantSummarizer(&fakeCompleter{}, "m")
	_, err = s.Summarize(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestOllamaSummarizer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Stream   *bool  `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"Oslo Weather Check"},"done":true}`)
	}))
	defer srv.Close()

	s, err := NewOllamaSummarizer(srv.URL, "llama3.2", srv.Client())
	require.NoError(t, err)

	title, err := s.Summarize(context.Background(), "weather in oslo?", "Sunny, 20C")
	require.NoError(t, err)
	assert.Equal(t, "Oslo Weather Check", title)
	assert.Equal(t, "llama3.2", got.Model)
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

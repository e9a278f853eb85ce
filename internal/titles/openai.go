// ABOUTME: Summarizer backed by a chat completion on the assistant service
// ABOUTME: Uses the same go-openai client as the assistant backend

package titles

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the part of the go-openai client used for titles.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AssistantSummarizer asks a chat model for a title.
type AssistantSummarizer struct {
	client ChatCompleter
	model  string
}

// NewAssistantSummarizer creates a summarizer using model on client.
func NewAssistantSummarizer(client ChatCompleter, model string) *AssistantSummarizer {
	return &AssistantSummarizer{client: client, model: model}
}

// Summarize requests a single non-streaming completion.
func (s *AssistantSummarizer) Summarize(ctx context.Context, userText, assistantText string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: Instruction},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(userText, assistantText)},
		},
		MaxTokens:   24,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("title completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyTitle
	}
	return Clean(resp.Choices[0].Message.Content)
}

// ABOUTME: Conversation title synthesis from the first user/assistant exchange
// ABOUTME: One fixed instruction template shared by every summarizer

package titles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrEmptyTitle is returned when the model produced no usable title.
var ErrEmptyTitle = errors.New("empty title")

// Instruction is the system prompt sent to the summarization model.
const Instruction = "You write short titles for chat conversations. " +
	"Given the user's first message and the assistant's reply, answer with a title of at most six words. " +
	"Answer with the title only: no quotes, no trailing punctuation, no explanation."

const (
	maxExcerpt  = 2000
	maxTitleLen = 80
)

// Summarizer produces a title for an exchange.
type Summarizer interface {
	Summarize(ctx context.Context, userText, assistantText string) (string, error)
}

// Prompt renders the user-facing part of the template.
func Prompt(userText, assistantText string) string {
	return fmt.Sprintf("User message:\n%s\n\nAssistant reply:\n%s", excerpt(userText), excerpt(assistantText))
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Clean normalizes raw model output into a single-line title.
func Clean(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	title = strings.Trim(title, "\"'`*“”‘’ ")
	title = strings.TrimRight(title, ".!?:; ")

	if len(title) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	if title == "" {
		return "", ErrEmptyTitle
	}
	return title, nil
}

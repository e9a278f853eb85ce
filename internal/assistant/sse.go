// ABOUTME: Server-sent event reader for streamed assistant runs
// ABOUTME: Maps thread.run.* and thread.message.* events onto the Event union

package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const maxEventSize = 4 << 20

// messageDelta is the payload of a thread.message.delta event.
type messageDelta struct {
	ID    string `json:"id"`
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"delta"`
}

// sseStream decodes an SSE response body into Events.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending []Event
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseStream{body: body, scanner: scanner}
}

// Next returns the next mapped event, skipping event kinds the orchestrator
// does not consume.
func (s *sseStream) Next(ctx context.Context) (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, data, err := s.readEvent()
		if err != nil {
			return nil, err
		}
		events, err := mapEvent(name, data)
		if err != nil {
			return nil, err
		}
		if name == "done" {
			s.done = true
		}
		s.pending = append(s.pending, events...)
	}
}

// readEvent reads lines until a blank line terminates one SSE event.
func (s *sseStream) readEvent() (name, data string, err error) {
	var dataLines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if name == "" && len(dataLines) == 0 {
				continue
			}
			return name, strings.Join(dataLines, "\n"), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", "", fmt.Errorf("reading stream: %w", err)
	}
	// A final event without a trailing blank line still counts.
	if name != "" || len(dataLines) > 0 {
		return name, strings.Join(dataLines, "\n"), nil
	}
	return "", "", io.EOF
}

// Close releases the underlying response body.
func (s *sseStream) Close() error {
	return s.body.Close()
}

func mapEvent(name, data string) ([]Event, error) {
	switch {
	case name == "done" || data == "[DONE]":
		return nil, nil

	case name == "error":
		return nil, fmt.Errorf("%w: %s", ErrStreamFailed, streamErrorMessage(data))

	case strings.HasPrefix(name, "thread.run.step."):
		return nil, nil

	case strings.HasPrefix(name, "thread.run."):
		var run openai.Run
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		status := RunStatusEvent{RunID: run.ID, Status: RunStatus(run.Status)}
		if run.LastError != nil {
			status.LastError = run.LastError.Message
		}
		events := []Event{status}
		if status.Status == RunStatusRequiresAction && run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
			action := RequiredActionEvent{RunID: run.ID}
			for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
				action.ToolCalls = append(action.ToolCalls, ToolCall{
					ID:        call.ID,
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				})
			}
			events = append(events, action)
		}
		return events, nil

	case name == "thread.message.created":
		var msg openai.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		return []Event{MessageCreatedEvent{
			MessageID: msg.ID,
			Role:      msg.Role,
			CreatedAt: time.Unix(int64(msg.CreatedAt), 0).UTC(),
		}}, nil

	case name == "thread.message.delta":
		var delta messageDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		var text strings.Builder
		for _, part := range delta.Delta.Content {
			if part.Text != nil {
				text.WriteString(part.Text.Value)
			}
		}
		if text.Len() == 0 {
			return nil, nil
		}
		return []Event{MessageDeltaEvent{MessageID: delta.ID, Text: text.String()}}, nil
	}

	return nil, nil
}

func streamErrorMessage(data string) string {
	var payload struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil {
		if payload.Error != nil && payload.Error.Message != "" {
			return payload.Error.Message
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return data
}

// ABOUTME: Backend interface for the hosted assistant service
// ABOUTME: Threads hold message history; runs stream events until a terminal status

package assistant

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrStreamFailed is returned by Stream.Next when the backend reports an error event.
var ErrStreamFailed = errors.New("assistant stream failed")

// ErrThreadNotFound is returned when the backend has no thread with the given id.
var ErrThreadNotFound = errors.New("thread not found")

// UserMessage is a user turn with optional uploaded file references.
type UserMessage struct {
	Text    string
	FileIDs []string
}

// Message is one entry of a thread's history with its content parts flattened.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdOn"`
}

// ToolOutput is the result of one tool call, submitted back to the run.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Stream yields run events in order. Next returns io.EOF once the stream ends.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Backend is the hosted assistant service.
type Backend interface {
	// CreateThread creates a thread seeded with msg and returns its id.
	CreateThread(ctx context.Context, msg UserMessage) (string, error)

	// AppendMessage adds a user message to an existing thread.
	AppendMessage(ctx context.Context, threadID string, msg UserMessage) error

	// StreamRun starts a run of assistantID on the thread.
	StreamRun(ctx context.Context, threadID, assistantID string) (Stream, error)

	// SubmitToolOutputs resumes a run waiting on tool calls and returns its new stream.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Stream, error)

	// ListMessages returns the whole thread history, oldest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	// DeleteThread reports whether the backend deleted the thread.
	DeleteThread(ctx context.Context, threadID string) (bool, error)

	// UploadFile stores a file for use as a message attachment and returns its id.
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
}

// ABOUTME: Scripted in-memory Backend for tests
// ABOUTME: Each StreamRun or SubmitToolOutputs call replays the next queued script

package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Script is one stream's worth of events, optionally ending in an error.
type Script struct {
	Events []Event
	Err    error
}

// SubmitCall records one SubmitToolOutputs invocation.
type SubmitCall struct {
	ThreadID string
	RunID    string
	Outputs  []ToolOutput
}

// MockBackend is a Backend whose run streams are scripted by the test.
// Messages appended or created are kept per thread; assistant replies are
// recorded from the scripted deltas so ListMessages reflects completed turns.
type MockBackend struct {
	mu      sync.Mutex
	scripts []Script
	threads map[string][]Message
	files   map[string]string
	nextID  int
	submits []SubmitCall
	runs    int

	// DeleteResult and DeleteErr control DeleteThread.
	DeleteResult bool
	DeleteErr    error
	// CreateErr fails CreateThread and AppendMessage.
	CreateErr error
}

// NewMockBackend returns a backend that deletes threads successfully.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		threads:      make(map[string][]Message),
		files:        make(map[string]string),
		DeleteResult: true,
	}
}

// QueueStream appends a stream script consumed by the next run call.
func (m *MockBackend) QueueStream(events []Event, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, Script{Events: events, Err: err})
}

func (m *MockBackend) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s_%d", prefix, m.nextID)
}

func (m *MockBackend) addUserMessage(threadID string, msg UserMessage) {
	m.threads[threadID] = append(m.threads[threadID], Message{
		ID:        m.newID("msg"),
		Role:      "user",
		Text:      msg.Text,
		CreatedAt: time.Now().UTC(),
	})
}

// CreateThread creates a thread containing msg.
func (m *MockBackend) CreateThread(ctx context.Context, msg UserMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	id := m.newID("thread")
	m.threads[id] = nil
	m.addUserMessage(id, msg)
	return id, nil
}

// AppendMessage adds msg to an existing thread.
func (m *MockBackend) AppendMessage(ctx context.Context, threadID string, msg UserMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.threads[threadID]; !ok {
		return fmt.Errorf("thread %s not found", threadID)
	}
	m.addUserMessage(threadID, msg)
	return nil
}

// StreamRun pops the next script.
func (m *MockBackend) StreamRun(ctx context.Context, threadID, assistantID string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return m.popStream(threadID)
}

// SubmitToolOutputs records the call and pops the next script.
func (m *MockBackend) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, SubmitCall{ThreadID: threadID, RunID: runID, Outputs: append([]ToolOutput(nil), outputs...)})
	return m.popStream(threadID)
}

func (m *MockBackend) popStream(threadID string) (Stream, error) {
	if len(m.scripts) == 0 {
		return nil, errors.New("mock backend: no scripted stream")
	}
	script := m.scripts[0]
	m.scripts = m.scripts[1:]
	return &mockStream{backend: m, threadID: threadID, script: script}, nil
}

// recordDelta appends text to the thread's assistant message with messageID.
func (m *MockBackend) recordDelta(threadID, messageID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.threads[threadID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Text += text
			return
		}
	}
	m.threads[threadID] = append(msgs, Message{ID: messageID, Role: "assistant", Text: text, CreatedAt: time.Now().UTC()})
}

// ListMessages returns the thread history.
func (m *MockBackend) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	return append([]Message{}, msgs...), nil
}

// DeleteThread returns DeleteResult/DeleteErr, removing the thread on success.
func (m *MockBackend) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return false, m.DeleteErr
	}
	if m.DeleteResult {
		delete(m.threads, threadID)
	}
	return m.DeleteResult, nil
}

// UploadFile stores the file content and returns a new file id.
func (m *MockBackend) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newID("file")
	m.files[id] = filename + ":" + string(data)
	return id, nil
}

// Submits returns the recorded SubmitToolOutputs calls.
func (m *MockBackend) Submits() []SubmitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubmitCall(nil), m.submits...)
}

// Runs returns how many runs were started.
func (m *MockBackend) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// ThreadCount returns the number of live threads.
func (m *MockBackend) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// File returns "filename:content" for an uploaded file id.
func (m *MockBackend) File(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok
}

type mockStream struct {
	backend  *MockBackend
	threadID string
	script   Script
	pos      int
	closed   bool
}

func (s *mockStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.script.Events) {
		if s.script.Err != nil {
			return nil, s.script.Err
		}
		return nil, io.EOF
	}
	ev := s.script.Events[s.pos]
	s.pos++
	if delta, ok := ev.(MessageDeltaEvent); ok {
		s.backend.recordDelta(s.threadID, delta.MessageID, delta.Text)
	}
	return ev, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

// ABOUTME: Service drives one user turn from message to fully resolved assistant reply
// ABOUTME: Owns the run loop: stream events, execute tools, submit outputs, title the conversation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/assistant-gateway/internal/assistant"
	"github.com/2389/assistant-gateway/internal/markdown"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/titles"
	"github.com/2389/assistant-gateway/internal/tools"
)

var (
	// ErrToolRoundLimit is returned when a run keeps requesting tools past the configured bound.
	ErrToolRoundLimit = errors.New("tool round limit reached")

	// ErrRunFailed is returned when a run ends failed, cancelled or expired.
	ErrRunFailed = errors.New("assistant run failed")
)

const (
	defaultMaxToolRounds = 8
	defaultTitleTimeout  = 30 * time.Second
	persistTimeout       = 5 * time.Second
)

// Config tunes the Service.
type Config struct {
	AssistantID   string
	MaxToolRounds int
	TitleTimeout  time.Duration
}

// Service is the run orchestrator. It is safe for concurrent use; turns on the
// same conversation are serialized.
type Service struct {
	store      store.ConversationStore
	backend    assistant.Backend
	tools      *tools.Registry
	summarizer titles.Summarizer
	locks      *KeyedMutex
	cfg        Config
	logger     *slog.Logger
}

// New creates a Service. summarizer may be nil, in which case titles are never generated.
func New(st store.ConversationStore, backend assistant.Backend, registry *tools.Registry, summarizer titles.Summarizer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = defaultTitleTimeout
	}
	return &Service{
		store:      st,
		backend:    backend,
		tools:      registry,
		summarizer: summarizer,
		locks:      NewKeyedMutex(),
		cfg:        cfg,
		logger:     logger.With("component", "conversation"),
	}
}

// SendRequest is one user turn.
type SendRequest struct {
	// ConversationID is empty for a new conversation.
	ConversationID string
	Text           string
	FileIDs        []string
}

// Message is one entry of a conversation's history.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedOn time.Time `json:"createdOn"`
}

// SendMessage runs one turn and returns the conversation record after it.
// Whitespace-only text is ignored and yields (nil, nil).
//
// A new conversation is persisted before the run starts. Every text delta is
// pushed to sink as a full snapshot. Once the run completes, an untitled
// conversation gets a title on a best-effort basis.
func (s *Service) SendMessage(ctx context.Context, req SendRequest, sink UpdateSink) (*store.Conversation, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	if sink == nil {
		sink = discardSink{}
	}

	userMsg := assistant.UserMessage{Text: req.Text, FileIDs: req.FileIDs}

	conv, unlock, err := s.beginTurn(ctx, req.ConversationID, userMsg)
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := s.logger.With("conversation_id", conv.ID, "thread_id", conv.ThreadID)

	result, err := s.runTurn(ctx, conv, sink, logger)
	if err != nil {
		return nil, err
	}

	switch result.status {
	case assistant.RunStatusCompleted:
		if !conv.HasTitle() {
			s.applyTitle(ctx, conv, req.Text, result.text, logger)
		}
	case assistant.RunStatusFailed, assistant.RunStatusCancelled, assistant.RunStatusExpired:
		return nil, fmt.Errorf("%w: run %s %s: %s", ErrRunFailed, result.runID, result.status, result.lastError)
	default:
		logger.Warn("turn ended without completing", "run_id", result.runID, "status", result.status)
	}

	return conv, nil
}

// beginTurn locks the conversation and adds the user message to its thread,
// creating the conversation if needed.
func (s *Service) beginTurn(ctx context.Context, conversationID string, msg assistant.UserMessage) (*store.Conversation, func(), error) {
	if conversationID != "" {
		unlock, err := s.locks.Lock(ctx, conversationID)
		if err != nil {
			return nil, nil, err
		}

		conv, err := s.store.GetConversation(ctx, conversationID)
		switch {
		case err == nil:
			if err := s.backend.AppendMessage(ctx, conv.ThreadID, msg); err != nil {
				unlock()
				return nil, nil, err
			}
			s.logger.Debug("appended user message", "conversation_id", conv.ID, "thread_id", conv.ThreadID)
			return conv, unlock, nil
		case errors.Is(err, store.ErrNotFound):
			unlock()
			s.logger.Debug("conversation not found, starting a new one", "requested_id", conversationID)
		default:
			unlock()
			return nil, nil, fmt.Errorf("loading conversation: %w", err)
		}
	}

	id := uuid.New().String()
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	threadID, err := s.backend.CreateThread(ctx, msg)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	conv := &store.Conversation{
		ID:          id,
		ThreadID:    threadID,
		AssistantID: s.cfg.AssistantID,
		CreatedOn:   time.Now().UTC(),
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("saving conversation: %w", err)
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "thread_id", threadID)
	return conv, unlock, nil
}

// turnResult summarizes a finished run loop.
type turnResult struct {
	runID     string
	status    assistant.RunStatus
	lastError string
	text      string
}

// turnState accumulates what one turn has observed across all of its streams.
type turnState struct {
	update    MessageUpdate
	runID     string
	status    assistant.RunStatus
	lastError string
}

// runTurn starts a run and keeps resuming it with tool outputs until it stops
// asking for them.
//
// After each drained stream: no outputs, or a terminal status, ends the loop.
// Otherwise outputs are submitted against the same run, at most MaxToolRounds times.
func (s *Service) runTurn(ctx context.Context, conv *store.Conversation, sink UpdateSink, logger *slog.Logger) (*turnResult, error) {
	state := &turnState{update: MessageUpdate{ConversationID: conv.ID, Role: "assistant"}}

	stream, err := s.backend.StreamRun(ctx, conv.ThreadID, conv.AssistantID)
	if err != nil {
		return nil, err
	}

	for round := 0; ; round++ {
		outputs, err := s.drain(ctx, stream, state, sink, logger)
		stream.Close()
		if err != nil {
			return nil, err
		}

		if len(outputs) == 0 || state.status.IsTerminal() {
			break
		}
		if round >= s.cfg.MaxToolRounds {
			logger.Error("tool round limit reached", "run_id", state.runID, "rounds", round)
			return nil, fmt.Errorf("%w: run %s after %d rounds", ErrToolRoundLimit, state.runID, round)
		}

		logger.Debug("submitting tool outputs", "run_id", state.runID, "outputs", len(outputs), "round", round+1)
		stream, err = s.backend.SubmitToolOutputs(ctx, conv.ThreadID, state.runID, outputs)
		if err != nil {
			return nil, err
		}
	}

	return &turnResult{
		runID:     state.runID,
		status:    state.status,
		lastError: state.lastError,
		text:      state.update.Text,
	}, nil
}

// drain consumes one stream to its end and returns the tool outputs it produced.
func (s *Service) drain(ctx context.Context, stream assistant.Stream, state *turnState, sink UpdateSink, logger *slog.Logger) ([]assistant.ToolOutput, error) {
	var outputs []assistant.ToolOutput

	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return outputs, nil
		}
		if err != nil {
			return nil, err
		}

		switch e := ev.(type) {
		case assistant.RunStatusEvent:
			state.runID = e.RunID
			state.status = e.Status
			state.lastError = e.LastError
			logger.Debug("run status", "run_id", e.RunID, "status", e.Status)

		case assistant.MessageCreatedEvent:
			state.update.MessageID = e.MessageID
			state.update.Role = "assistant"
			state.update.CreatedOn = e.CreatedAt

		case assistant.MessageDeltaEvent:
			state.update.Text += e.Text
			state.update.HTML = markdown.Render(state.update.Text)
			if err := sink.SendUpdate(ctx, state.update); err != nil {
				logger.Debug("dropping message update", "error", err)
			}

		case assistant.RequiredActionEvent:
			if e.RunID != "" {
				state.runID = e.RunID
			}
			for _, call := range e.ToolCalls {
				out, ok := s.tools.Execute(ctx, call.Name, call.Arguments)
				if !ok {
					logger.Warn("skipping unknown tool", "tool", call.Name, "tool_call_id", call.ID)
					continue
				}
				outputs = append(outputs, assistant.ToolOutput{ToolCallID: call.ID, Output: out})
			}
		}
	}
}

// applyTitle generates and persists a title. Failures are logged and leave the title unset.
func (s *Service) applyTitle(ctx context.Context, conv *store.Conversation, userText, assistantText string, logger *slog.Logger) {
	if s.summarizer == nil {
		return
	}

	titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TitleTimeout)
	defer cancel()

	title, err := s.summarizer.Summarize(titleCtx, userText, assistantText)
	if err != nil {
		logger.Warn("title generation failed", "error", err)
		return
	}

	updated := conv.Clone()
	updated.Title = &title
	if err := s.saveConversation(updated); err != nil {
		logger.Warn("failed to persist title", "error", err)
		return
	}
	conv.Title = updated.Title
	logger.Debug("conversation titled", "title", title)
}

// saveConversation writes with its own timeout so a cancelled request cannot abort it.
func (s *Service) saveConversation(conv *store.Conversation) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return s.store.SaveConversation(saveCtx, conv)
}

// ListConversations returns every conversation, newest first.
func (s *Service) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// GetConversation returns one conversation record.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// GetConversationMessages returns the conversation's thread history, oldest first.
func (s *Service) GetConversationMessages(ctx context.Context, id string) ([]Message, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.backend.ListMessages(ctx, conv.ThreadID)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, Message{
			ID:        m.ID,
			Role:      m.Role,
			Text:      m.Text,
			HTML:      markdown.Render(m.Text),
			CreatedOn: m.CreatedAt,
		})
	}
	return msgs, nil
}

// DeleteConversation deletes the backend thread and then the record.
// It returns false, leaving the record in place, when the conversation is
// unknown or the backend does not confirm the thread deletion. A thread the
// backend no longer knows counts as deleted.
func (s *Service) DeleteConversation(ctx context.Context, id string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	logger := s.logger.With("conversation_id", id)

	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := s.backend.DeleteThread(ctx, conv.ThreadID)
	if errors.Is(err, assistant.ErrThreadNotFound) {
		// The thread went first on an earlier attempt; finish removing the record.
		logger.Info("thread already gone, removing conversation", "thread_id", conv.ThreadID)
		deleted, err = true, nil
	}
	if err != nil {
		logger.Warn("thread deletion failed, keeping conversation", "thread_id", conv.ThreadID, "error", err)
		return false, nil
	}
	if !deleted {
		logger.Warn("backend refused thread deletion, keeping conversation", "thread_id", conv.ThreadID)
		return false, nil
	}

	if err := s.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("thread deleted but conversation record remains", "thread_id", conv.ThreadID, "error", err)
		return false, err
	}

	logger.Info("conversation deleted", "thread_id", conv.ThreadID)
	return true, nil
}

// UploadFile passes an attachment through to the backend.
func (s *Service) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	return s.backend.UploadFile(ctx, filename, r)
}

// Ping checks the conversation store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

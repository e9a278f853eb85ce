// ABOUTME: Tests for the run orchestrator using the mock store and scripted backend
// ABOUTME: Covers turn creation, streaming pushes, the tool loop, titles and deletion

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/assistant"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/tools"
)

type fakeSummarizer struct {
	mu    sync.Mutex
	title string
	err   error
	calls int
	user  string
	reply string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, userText, assistantText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.user = userText
	f.reply = assistantText
	return f.title, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	updates []MessageUpdate
}

func (r *recordingSink) SendUpdate(ctx context.Context, u MessageUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

type testEnv struct {
	svc        *Service
	store      *store.MockStore
	backend    *assistant.MockBackend
	summarizer *fakeSummarizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry := tools.NewRegistry(nil)
	require.NoError(t, tools.RegisterBuiltins(registry))

	env := &testEnv{
		store:      store.NewMockStore(),
		backend:    assistant.NewMockBackend(),
		summarizer: &fakeSummarizer{title: "Friendly Greeting"},
	}
	env.svc = New(env.store, env.backend, registry, env.summarizer, Config{AssistantID: "asst_1", MaxToolRounds: 3}, nil)
	return env
}

var created = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func greetingStream() []assistant.Event {
	return []assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusQueued},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
		assistant.MessageCreatedEvent{MessageID: "msg_a", Role: "assistant", CreatedAt: created},
		assistant.MessageDeltaEvent{MessageID: "msg_a", Text: "Hi"},
		assistant.MessageDeltaEvent{MessageID: "msg_a", Text: " there"},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusCompleted},
	}
}

func toolCallStream(name string) []assistant.Event {
	return []assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusRequiresAction},
		assistant.RequiredActionEvent{RunID: "run_1", ToolCalls: []assistant.ToolCall{
			{ID: "call_1", Name: name, Arguments: `{"location":"Oslo"}`},
		}},
	}
}

func TestSendMessage_EmptyInputIsNoop(t *testing.T) {
	env := newTestEnv(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: text}, nil)
		assert.NoError(t, err)
		assert.Nil(t, conv)

		conv, err = env.svc.SendMessage(context.Background(), SendRequest{ConversationID: "existing", Text: text}, nil)
		assert.NoError(t, err)
		assert.Nil(t, conv)
	}

	all, _ := env.store.ListConversations(context.Background())
	assert.Empty(t, all)
	assert.Equal(t, 0, env.backend.Runs())
}

func TestSendMessage_NewConversation(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	sink := &recordingSink{}

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, sink)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.NotEmpty(t, conv.ID)
	assert.NotEmpty(t, conv.ThreadID)
	assert.Equal(t, "asst_1", conv.AssistantID)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Friendly Greeting", *conv.Title)

	require.Len(t, sink.updates, 2)
	assert.Equal(t, "Hi", sink.updates[0].Text)
	assert.Equal(t, "Hi there", sink.updates[1].Text)
	for _, u := range sink.updates {
		assert.Equal(t, "assistant", u.Role)
		assert.Equal(t, conv.ID, u.ConversationID)
		assert.True(t, created.Equal(u.CreatedOn))
	}

	stored, err := env.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Title)
	assert.Equal(t, "Friendly Greeting", *stored.Title)

	assert.Equal(t, "Hello", env.summarizer.user)
	assert.Equal(t, "Hi there", env.summarizer.reply)
}

func TestSendMessage_StreamedTextMatchesHistory(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	sink := &recordingSink{}

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, sink)
	require.NoError(t, err)

	msgs, err := env.svc.GetConversationMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, sink.updates[len(sink.updates)-1].Text, msgs[1].Text)
	assert.Contains(t, msgs[1].HTML, "Hi there")
	assert.Equal(t, msgs[1].HTML, sink.updates[len(sink.updates)-1].HTML, "streamed and reloaded replies render alike")

	again, err := env.svc.GetConversationMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
}

func TestSendMessage_UpdatesCarryRenderedMarkdown(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
		assistant.MessageCreatedEvent{MessageID: "msg_a", Role: "assistant", CreatedAt: created},
		assistant.MessageDeltaEvent{MessageID: "msg_a", Text: "It is **sunny"},
		assistant.MessageDeltaEvent{MessageID: "msg_a", Text: "** in Oslo"},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusCompleted},
	}, nil)
	sink := &recordingSink{}

	_, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Weather?"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.updates, 2)
	assert.NotContains(t, sink.updates[0].HTML, "<strong>")
	assert.Contains(t, sink.updates[1].HTML, "<strong>sunny</strong>")
}

func TestSendMessage_DistinctThreadsPerConversation(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	env.backend.QueueStream(greetingStream(), nil)

	first, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "one"}, nil)
	require.NoError(t, err)
	second, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "two"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)
}

func TestSendMessage_ExistingConversationAppends(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	env.backend.QueueStream(greetingStream(), nil)

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)

	again, err := env.svc.SendMessage(context.Background(), SendRequest{ConversationID: conv.ID, Text: "More"}, nil)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, conv.ThreadID, again.ThreadID)
	assert.Equal(t, 1, env.backend.ThreadCount())

	// Already titled: no second summarization.
	assert.Equal(t, 1, env.summarizer.calls)

	msgs, err := env.svc.GetConversationMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "More", msgs[2].Text)
}

func TestSendMessage_UnknownConversationStartsNew(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{ConversationID: "missing", Text: "Hello"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "missing", conv.ID)
	assert.Equal(t, 1, env.backend.ThreadCount())
}

func TestSendMessage_ConversationPersistedBeforeRun(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
	}, errors.New("connection reset"))

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.Error(t, err)
	assert.Nil(t, conv)

	all, err := env.store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].Title)
}

func TestSendMessage_OneToolRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(toolCallStream(tools.WeatherToolName), nil)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
		assistant.MessageCreatedEvent{MessageID: "msg_a", CreatedAt: created},
		assistant.MessageDeltaEvent{MessageID: "msg_a", Text: "It is sunny in Oslo"},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusCompleted},
	}, nil)

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Weather in Oslo?"}, nil)
	require.NoError(t, err)
	require.NotNil(t, conv)

	submits := env.backend.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, "run_1", submits[0].RunID)
	assert.Equal(t, conv.ThreadID, submits[0].ThreadID)
	require.Len(t, submits[0].Outputs, 1)
	assert.Equal(t, "call_1", submits[0].Outputs[0].ToolCallID)
	assert.Contains(t, submits[0].Outputs[0].Output, `"location":"Oslo"`)
	assert.Equal(t, 1, env.backend.Runs())
}

func TestSendMessage_UnknownToolSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(toolCallStream("launch_rockets"), nil)

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Go"}, nil)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.Empty(t, env.backend.Submits())
	assert.Equal(t, 0, env.summarizer.calls, "run never completed")
}

func TestSendMessage_BadToolArgumentsYieldEmptyOutput(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusRequiresAction},
		assistant.RequiredActionEvent{RunID: "run_1", ToolCalls: []assistant.ToolCall{
			{ID: "call_1", Name: tools.WeatherToolName, Arguments: `{not json`},
		}},
	}, nil)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusCompleted},
	}, nil)

	_, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Weather?"}, nil)
	require.NoError(t, err)

	submits := env.backend.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, "", submits[0].Outputs[0].Output)
}

func TestSendMessage_ToolRoundLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.backend.QueueStream(toolCallStream(tools.WeatherToolName), nil)
	}

	_, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "loop"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolRoundLimit)
	assert.Len(t, env.backend.Submits(), 3)
}

func TestSendMessage_RunFailed(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusFailed, LastError: "rate limit"},
	}, nil)

	_, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 0, env.summarizer.calls)
}

func TestSendMessage_StreamErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(nil, assistant.ErrStreamFailed)

	_, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	assert.ErrorIs(t, err, assistant.ErrStreamFailed)
}

func TestSendMessage_TitleFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.summarizer.err = errors.New("model unavailable")
	env.backend.QueueStream(greetingStream(), nil)

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)
	assert.Nil(t, conv.Title)

	stored, err := env.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Title)
}

func TestSendMessage_TitleSurvivesCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	blocking := &cancellingSummarizer{cancel: cancel, title: "Late Title"}
	env.svc.summarizer = blocking
	env.backend.QueueStream(greetingStream(), nil)

	conv, err := env.svc.SendMessage(ctx, SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Late Title", *conv.Title)
}

// cancellingSummarizer cancels the caller's request context before answering.
type cancellingSummarizer struct {
	cancel context.CancelFunc
	title  string
}

func (c *cancellingSummarizer) Summarize(ctx context.Context, userText, assistantText string) (string, error) {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.title, nil
}

func TestSendMessage_SinkErrorsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	sink := UpdateSinkFunc(func(ctx context.Context, u MessageUpdate) error {
		return errors.New("connection gone")
	})

	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, sink)
	require.NoError(t, err)
	assert.NotNil(t, conv.Title)
}

func TestListConversations_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveConversation(ctx, &store.Conversation{ID: "old", ThreadID: "t0", CreatedOn: created.Add(-time.Hour)}))

	env.backend.QueueStream(greetingStream(), nil)
	conv, err := env.svc.SendMessage(ctx, SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)

	all, err := env.svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, conv.ID, all[0].ID)
	require.NotNil(t, all[0].Title)
}

func TestGetConversationMessages_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetConversationMessages(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)

	ok, err := env.svc.DeleteConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.store.GetConversation(context.Background(), conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, env.backend.ThreadCount())
}

func TestDeleteConversation_BackendRefusalKeepsRecord(t *testing.T) {
	for name, setup := range map[string]func(b *assistant.MockBackend){
		"not deleted": func(b *assistant.MockBackend) { b.DeleteResult = false },
		"error":       func(b *assistant.MockBackend) { b.DeleteErr = errors.New("503") },
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.backend.QueueStream(greetingStream(), nil)
			conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
			require.NoError(t, err)

			setup(env.backend)
			ok, err := env.svc.DeleteConversation(context.Background(), conv.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := env.svc.ListConversations(context.Background())
			require.NoError(t, err)
			assert.Len(t, all, 1)

			_, err = env.svc.GetConversationMessages(context.Background(), conv.ID)
			assert.NoError(t, err)
		})
	}
}

func TestDeleteConversation_ThreadAlreadyGone(t *testing.T) {
	env := newTestEnv(t)
	env.backend.QueueStream(greetingStream(), nil)
	conv, err := env.svc.SendMessage(context.Background(), SendRequest{Text: "Hello"}, nil)
	require.NoError(t, err)

	env.backend.DeleteErr = fmt.Errorf("deleting thread %s: %w", conv.ThreadID, assistant.ErrThreadNotFound)
	ok, err := env.svc.DeleteConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.store.GetConversation(context.Background(), conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteConversation_Unknown(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.svc.DeleteConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

// gatedBackend blocks the first StreamRun until released.
type gatedBackend struct {
	*assistant.MockBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBackend) StreamRun(ctx context.Context, threadID, assistantID string) (assistant.Stream, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MockBackend.StreamRun(ctx, threadID, assistantID)
}

func TestSendMessage_SerializesTurnsPerConversation(t *testing.T) {
	mock := assistant.NewMockBackend()
	gated := &gatedBackend{MockBackend: mock, entered: make(chan struct{}), release: make(chan struct{})}
	st := store.NewMockStore()
	svc := New(st, gated, nil, nil, Config{AssistantID: "asst_1"}, nil)

	ctx := context.Background()
	threadID, err := mock.CreateThread(ctx, assistant.UserMessage{Text: "seed"})
	require.NoError(t, err)
	require.NoError(t, st.SaveConversation(ctx, &store.Conversation{ID: "c1", ThreadID: threadID, AssistantID: "asst_1", CreatedOn: created}))
	mock.QueueStream(greetingStream(), nil)
	mock.QueueStream(greetingStream(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.SendMessage(ctx, SendRequest{ConversationID: "c1", Text: "first"}, nil)
		assert.NoError(t, err)
	}()
	<-gated.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, err := svc.SendMessage(ctx, SendRequest{ConversationID: "c1", Text: "second"}, nil)
		assert.NoError(t, err)
	}()

	select {
	case <-secondDone:
		t.Fatal("second turn ran while the first held the conversation")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	wg.Wait()
	<-secondDone

	msgs, err := mock.ListMessages(ctx, threadID)
	require.NoError(t, err)
	var users []string
	for _, m := range msgs {
		if m.Role == "user" {
			users = append(users, m.Text)
		}
	}
	assert.Equal(t, "seed|first|second", strings.Join(users, "|"))
	require.Len(t, msgs, 4)
	assert.Equal(t, "assistant", msgs[2].Role, "first reply lands before the second user message")
}

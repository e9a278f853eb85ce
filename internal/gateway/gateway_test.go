// ABOUTME: Tests for Gateway construction, lifecycle and the /chatHub route end to end
// ABOUTME: Uses mock store and backend components behind a real HTTP server

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/assistant"
	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/store"
)

// testConfig creates a minimal, already-defaulted config with a free HTTP port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := ln.Addr().String()
	ln.Close()

	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: httpAddr},
		Assistant: config.AssistantConfig{
			Endpoint:           "http://127.0.0.1:1/v1",
			APIKey:             "sk-test",
			AssistantID:        "asst_1",
			SummarizationModel: "gpt-4o-mini",
			MaxToolRounds:      3,
			RunTimeout:         time.Minute,
		},
		Titles: config.TitlesConfig{Provider: config.TitlesAssistant, Timeout: time.Second},
		Store: config.StoreConfig{
			Driver:   config.DriverSQLite,
			Endpoint: filepath.Join(t.TempDir(), "gateway.db"),
		},
		Uploads: config.UploadsConfig{MaxBytes: 1 << 20},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedSummarizer struct{ title string }

func (f fixedSummarizer) Summarize(ctx context.Context, userText, assistantText string) (string, error) {
	return f.title, nil
}

type testGateway struct {
	gw      *Gateway
	store   *store.MockStore
	backend *assistant.MockBackend
	server  *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	cfg := testConfig(t)
	st := store.NewMockStore()
	backend := assistant.NewMockBackend()

	gw, err := NewWithComponents(context.Background(), cfg, Components{
		Store:      st,
		Backend:    backend,
		Summarizer: fixedSummarizer{title: "Oslo Weather"},
	}, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.hub.Close(context.Background())
		srv.Close()
	})
	return &testGateway{gw: gw, store: st, backend: backend, server: srv}
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if _, ok := gw.store.(*store.SQLiteStore); !ok {
		t.Errorf("store = %T, want *store.SQLiteStore", gw.store)
	}
	if gw.conversation == nil {
		t.Error("conversation service should not be nil")
	}
	if gw.hub == nil {
		t.Error("hub should not be nil")
	}
}

func TestGatewayNew_BoltDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = config.DriverBolt
	cfg.Store.Endpoint = filepath.Join(t.TempDir(), "conversations.bolt")

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if _, ok := gw.store.(*store.BoltStore); !ok {
		t.Errorf("store = %T, want *store.BoltStore", gw.store)
	}
}

func TestGatewayNew_OllamaTitles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Titles.Provider = config.TitlesOllama
	cfg.Titles.OllamaHost = "http://127.0.0.1:11434"
	cfg.Titles.OllamaModel = "llama3.2"

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Wait for the listener
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestReadyEndpoint(t *testing.T) {
	tg := newTestGateway(t)

	resp, err := http.Get(tg.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tg.store.PingErr = errors.New("database is locked")
	resp, err = http.Get(tg.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebClientServedAtRoot(t *testing.T) {
	tg := newTestGateway(t)

	resp, err := http.Get(tg.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/chatHub")
}

type hubFrame struct {
	Type         string            `json:"type"`
	InvocationID string            `json:"invocationId"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	Result       json.RawMessage   `json:"result"`
	Error        string            `json:"error"`
}

func TestChatHub_SendMessageEndToEnd(t *testing.T) {
	tg := newTestGateway(t)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tg.backend.QueueStream([]assistant.Event{
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusInProgress},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusRequiresAction},
		assistant.RequiredActionEvent{RunID: "run_1", ToolCalls: []assistant.ToolCall{
			{ID: "call_1", Name: "get_weather_forecast", Arguments: `{"location":"Oslo"}`},
		}},
	}, nil)
	tg.backend.QueueStream([]assistant.Event{
		assistant.MessageCreatedEvent{MessageID: "msg_1", Role: "assistant", CreatedAt: created},
		assistant.MessageDeltaEvent{MessageID: "msg_1", Text: "Sunny"},
		assistant.MessageDeltaEvent{MessageID: "msg_1", Text: " in Oslo"},
		assistant.RunStatusEvent{RunID: "run_1", Status: assistant.RunStatusCompleted},
	}, nil)

	url := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/chatHub"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":         "invocation",
		"invocationId": "1",
		"target":       "SendMessage",
		"arguments":    []any{nil, "Weather in Oslo?", []string{}},
	}))

	var texts []string
	var completion hubFrame
	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f hubFrame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == "invocation" && f.Target == "ReceiveMessageUpdate" {
			var u struct {
				Text string `json:"text"`
			}
			require.NoError(t, json.Unmarshal(f.Arguments[0], &u))
			texts = append(texts, u.Text)
			continue
		}
		if f.Type == "completion" {
			completion = f
			break
		}
	}

	require.Empty(t, completion.Error)
	// Snapshots may be coalesced; the last one always holds the full reply.
	require.NotEmpty(t, texts)
	assert.Equal(t, "Sunny in Oslo", texts[len(texts)-1])

	var conv store.Conversation
	require.NoError(t, json.Unmarshal(completion.Result, &conv))
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Oslo Weather", *conv.Title)

	submits := tg.backend.Submits()
	require.Len(t, submits, 1)
	require.Len(t, submits[0].Outputs, 1)
	assert.Contains(t, submits[0].Outputs[0].Output, `"location":"Oslo"`)

	stored, err := tg.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oslo Weather", *stored.Title)
}

func TestResolveTailscaleSettings(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/srv/ts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/ts", dir)

	t.Setenv("HOME", "/home/chat")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/chat/.local/share/assistant-gateway/tailscale", dir)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}

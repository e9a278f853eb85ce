// ABOUTME: Backend implementation for OpenAI and Azure OpenAI Assistants (v2)
// ABOUTME: Uses go-openai for threads, messages and files; runs are streamed over SSE

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultAPIVersion = "2024-05-01-preview"

// Config holds the connection settings for OpenAIBackend.
type Config struct {
	// Endpoint is the API base URL, e.g. https://api.openai.com/v1 or an Azure resource URL.
	Endpoint string
	APIKey   string
	// Azure selects api-key auth and the /openai path with an api-version query.
	Azure      bool
	APIVersion string
	// AttachmentTools lists the tools each attached file is made available to.
	AttachmentTools []string
	HTTPClient      *http.Client
}

// OpenAIBackend implements Backend against the Assistants API.
type OpenAIBackend struct {
	client     *openai.Client
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewOpenAIBackend creates a backend from cfg.
func NewOpenAIBackend(cfg Config, logger *slog.Logger) *OpenAIBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Azure && cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if len(cfg.AttachmentTools) == 0 {
		cfg.AttachmentTools = []string{"file_search"}
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &OpenAIBackend{
		client:     openai.NewClientWithConfig(clientConfig(cfg)),
		httpClient: cfg.HTTPClient,
		cfg:        cfg,
		logger:     logger.With("component", "assistant"),
	}
}

// clientConfig builds the go-openai configuration for cfg.
func clientConfig(cfg Config) openai.ClientConfig {
	var oc openai.ClientConfig
	if cfg.Azure {
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		oc.APIVersion = cfg.APIVersion
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			oc.BaseURL = cfg.Endpoint
		}
	}
	oc.HTTPClient = cfg.HTTPClient
	return oc
}

// ChatClient exposes the underlying go-openai client for chat completions.
func (b *OpenAIBackend) ChatClient() *openai.Client {
	return b.client
}

func (b *OpenAIBackend) attachments(fileIDs []string) []openai.ThreadAttachment {
	if len(fileIDs) == 0 {
		return nil
	}
	tools := make([]openai.ThreadAttachmentTool, 0, len(b.cfg.AttachmentTools))
	for _, t := range b.cfg.AttachmentTools {
		tools = append(tools, openai.ThreadAttachmentTool{Type: t})
	}
	out := make([]openai.ThreadAttachment, 0, len(fileIDs))
	for _, id := range fileIDs {
		out = append(out, openai.ThreadAttachment{FileID: id, Tools: tools})
	}
	return out
}

// CreateThread creates a thread seeded with msg.
func (b *OpenAIBackend) CreateThread(ctx context.Context, msg UserMessage) (string, error) {
	thread, err := b.client.CreateThread(ctx, openai.ThreadRequest{
		Messages: []openai.ThreadMessage{{
			Role:        openai.ThreadMessageRoleUser,
			Content:     msg.Text,
			Attachments: b.attachments(msg.FileIDs),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	b.logger.Debug("created thread", "thread_id", thread.ID, "attachments", len(msg.FileIDs))
	return thread.ID, nil
}

// AppendMessage adds a user message to threadID.
func (b *OpenAIBackend) AppendMessage(ctx context.Context, threadID string, msg UserMessage) error {
	_, err := b.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:        string(openai.ThreadMessageRoleUser),
		Content:     msg.Text,
		Attachments: b.attachments(msg.FileIDs),
	})
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListMessages pages through the thread in ascending order.
func (b *OpenAIBackend) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit := 100
	order := "asc"
	var after *string
	var out []Message

	for {
		page, err := b.client.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range page.Messages {
			out = append(out, flattenMessage(m))
		}
		if !page.HasMore || len(page.Messages) == 0 {
			break
		}
		last := page.Messages[len(page.Messages)-1].ID
		after = &last
	}

	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func flattenMessage(m openai.Message) Message {
	var text strings.Builder
	for _, part := range m.Content {
		if part.Text != nil {
			text.WriteString(part.Text.Value)
		}
	}
	return Message{
		ID:        m.ID,
		Role:      m.Role,
		Text:      text.String(),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0).UTC(),
	}
}

// DeleteThread deletes threadID and reports the backend's answer.
func (b *OpenAIBackend) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	resp, err := b.client.DeleteThread(ctx, threadID)
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("deleting thread %s: %w", threadID, ErrThreadNotFound)
		}
		return false, fmt.Errorf("deleting thread: %w", err)
	}
	return resp.Deleted, nil
}

// UploadFile uploads r for assistant use.
func (b *OpenAIBackend) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	file, err := b.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    filename,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("uploading file: %w", err)
	}
	b.logger.Debug("uploaded file", "filename", filename, "file_id", file.ID, "bytes", len(data))
	return file.ID, nil
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
	Stream      bool   `json:"stream"`
}

type submitToolOutputsRequest struct {
	ToolOutputs []openai.ToolOutput `json:"tool_outputs"`
	Stream      bool                `json:"stream"`
}

// StreamRun starts a streamed run of assistantID on threadID.
func (b *OpenAIBackend) StreamRun(ctx context.Context, threadID, assistantID string) (Stream, error) {
	path := fmt.Sprintf("/threads/%s/runs", url.PathEscape(threadID))
	return b.openStream(ctx, path, runRequest{AssistantID: assistantID, Stream: true})
}

// SubmitToolOutputs resumes runID with outputs and streams the continuation.
func (b *OpenAIBackend) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Stream, error) {
	req := submitToolOutputsRequest{Stream: true, ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", url.PathEscape(threadID), url.PathEscape(runID))
	return b.openStream(ctx, path, req)
}

// streamURL builds the full URL for an assistants API path.
func (b *OpenAIBackend) streamURL(path string) string {
	if b.cfg.Azure {
		return fmt.Sprintf("%s/openai%s?api-version=%s", b.cfg.Endpoint, path, url.QueryEscape(b.cfg.APIVersion))
	}
	base := b.cfg.Endpoint
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return base + path
}

func (b *OpenAIBackend) openStream(ctx context.Context, path string, body any) (Stream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.streamURL(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if b.cfg.Azure {
		req.Header.Set("api-key", b.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("run stream API error [%d]: %s", resp.StatusCode, streamErrorMessage(string(respBody)))
	}

	b.logger.Debug("opened run stream", "path", path)
	return newSSEStream(resp.Body), nil
}

func isNotFound(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}

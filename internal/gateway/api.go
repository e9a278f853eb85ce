// ABOUTME: HTTP API handlers: file upload side channel, conversation REST mirror, health
// ABOUTME: Errors are answered as {"error": "..."} JSON

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/2389/assistant-gateway/internal/store"
)

// uploadField is the multipart form field carrying attachments.
const uploadField = "files"

// multipartMemory is how much of a form is held in memory before spilling to disk.
const multipartMemory = 8 << 20

// DeleteResponse is the JSON response for DELETE /api/conversations/{id}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// handleUpload handles POST /api/files/upload.
// Every part in the "files" field is passed to the assistant service; the
// response maps each original filename to the returned file id.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Uploads.MaxBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			g.sendJSONError(w, http.StatusBadRequest, "No files to upload")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "No files to upload")
		return
	}

	result := make(map[string]string, len(headers))
	for _, fh := range headers {
		fileID, err := g.uploadOne(r, fh)
		if err != nil {
			g.logger.Error("file upload failed", "filename", fh.Filename, "error", err)
			g.sendJSONError(w, http.StatusBadGateway, fmt.Sprintf("uploading %s failed", fh.Filename))
			return
		}
		result[fh.Filename] = fileID
	}

	g.logger.Info("files uploaded", "count", len(result))
	g.sendJSON(w, http.StatusOK, result)
}

func (g *Gateway) uploadOne(r *http.Request, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return g.conversation.UploadFile(r.Context(), fh.Filename, f)
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.conversation.ListConversations(r.Context())
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, convs)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	msgs, err := g.conversation.GetConversationMessages(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := g.conversation.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleListTools handles GET /api/tools: the function declarations the
// assistant definition must carry for local tools to be called.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.tools.Definitions())
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
// A refused or unknown delete answers 200 with deleted=false, matching the
// realtime DeleteConversation result.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := g.conversation.DeleteConversation(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the conversation store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d clients)", g.hub.ConnectionCount())
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// ABOUTME: HTTP handlers for the chat API: initiate, SSE streaming, and conversation reads
// ABOUTME: Streaming responses follow the stream_start/message/stream_complete|error grammar

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/fusionlabs/fusion-gateway/internal/chat"
	"github.com/fusionlabs/fusion-gateway/internal/store"
)

// ChatRequest is the JSON request body for POST /api/chat/initiate and
// POST /api/chat/sync. One versioned shape with explicit optional fields:
// conversation_id zero means a new conversation, selected_model defaults
// to the flash model.
type ChatRequest struct {
	Message        string `json:"message"`
	APIKey         string `json:"api_key"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	SelectedModel  string `json:"selected_model,omitempty"`
}

// InitiateResponse is the JSON response for POST /api/chat/initiate.
type InitiateResponse struct {
	SessionID      string `json:"session_id"`
	ConversationID int64  `json:"conversation_id"`
}

// ConversationResponse is the JSON shape for conversation listings.
type ConversationResponse struct {
	ID    int64  `json:"id"`
	Topic string `json:"topic"`
}

// MessageResponse is the JSON shape for message history.
type MessageResponse struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Role    string `json:"role"`
}

// handleRoot handles GET / as a welcome/health endpoint.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Welcome to Fusion Gateway"})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListConversations(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleInitiate handles POST /api/chat/initiate.
// Persists the user message and returns a session id for the stream phase.
func (g *Gateway) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := g.chat.Initiate(r.Context(), &chat.InitiateRequest{
		Message:        req.Message,
		APIKey:         req.APIKey,
		ConversationID: req.ConversationID,
		Model:          req.SelectedModel,
	})
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found.")
		return
	}
	if err != nil {
		g.logger.Error("initiate failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InitiateResponse{
		SessionID:      result.SessionToken,
		ConversationID: result.ConversationID,
	})
}

// handleStream handles GET /api/chat/stream/{session_id}.
// Opens an SSE response and replays the turn's event sequence.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/chat/stream/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		g.sendJSONError(w, http.StatusNotFound, "Chat session not found or expired.")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := g.chat.OpenStream(r.Context(), sessionID)
	if errors.Is(err, chat.ErrSessionNotFound) {
		// Rejected before any event is sent
		g.sendJSONError(w, http.StatusNotFound, "Chat session not found or expired.")
		return
	}
	if err != nil {
		g.logger.Error("opening stream failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for ev := range events {
		writeSSEEvent(w, ev)
		flusher.Flush()
	}
}

// handleChatSync handles POST /api/chat/sync.
// Persists the user message without opening a model stream.
func (g *Gateway) handleChatSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = g.chat.RecordUserMessage(r.Context(), &chat.InitiateRequest{
		Message:        req.Message,
		APIKey:         req.APIKey,
		ConversationID: req.ConversationID,
	})
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found.")
		return
	}
	if err != nil {
		g.logger.Error("chat sync failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Message received and saved.",
	})
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversations, err := g.store.ListConversations(r.Context())
	if err != nil {
		g.logger.Error("listing conversations failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		response = append(response, ConversationResponse{ID: conv.ID, Topic: conv.Topic})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConversationMessages handles GET /api/conversations/{id}.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		g.logger.Error("loading conversation failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	messages, err := g.store.ListMessages(r.Context(), id)
	if err != nil {
		g.logger.Error("listing messages failed", "err", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		response = append(response, MessageResponse{ID: msg.ID, Content: msg.Content, Role: msg.Role})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// parseChatRequest parses and validates a ChatRequest from the request body.
// Returns an error if the JSON is invalid or required fields are missing.
func parseChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if req.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	return &req, nil
}

// writeSSEEvent writes one event in SSE framing. Payloads are verbatim
// text; multi-line payloads become multiple data lines so the wire framing
// survives embedded newlines.
func writeSSEEvent(w http.ResponseWriter, ev chat.Event) {
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": message})
}

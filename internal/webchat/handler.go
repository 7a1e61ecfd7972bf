package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/resthouse-booking/internal/conversation"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

const (
	maxSessionIDLen = 128
	maxMessageLen   = 2000
	historyLimit    = 50
)

// Engine runs one conversation turn.
type Engine interface {
	Process(ctx context.Context, sessionID, text string) conversation.Result
	Reset(ctx context.Context, sessionID string) (string, error)
}

// TranscriptStore keeps chat history for replay.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, msg conversation.TranscriptMessage) error
	List(ctx context.Context, sessionID string, limit int64) ([]conversation.TranscriptMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

// Handler serves the booking assistant over HTTP and WebSocket.
type Handler struct {
	engine     Engine
	transcript TranscriptStore
	logger     *logging.Logger
}

// InboundMessage is what the chat page sends over the WebSocket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send back.
type OutboundMessage struct {
	Type      string           `json:"type"` // "session", "history", "message", "pong", "error"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a transcript entry as the chat page renders it.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a chat handler. transcript may be nil.
func NewHandler(engine Engine, transcript TranscriptStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, transcript: transcript, logger: logger}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

func validSessionID(id string) bool {
	return id != "" && len(id) <= maxSessionIDLen && !strings.ContainsAny(id, " \t\r\n:")
}

// turn runs one message through the engine and records both sides.
func (h *Handler) turn(ctx context.Context, sessionID, text string) conversation.Result {
	now := time.Now().UTC()
	h.record(ctx, sessionID, conversation.TranscriptMessage{Role: "user", Text: text, Timestamp: now})

	res := h.engine.Process(ctx, sessionID, text)

	h.record(ctx, sessionID, conversation.TranscriptMessage{
		Role:      "assistant",
		Text:      res.Reply,
		Stage:     res.Stage,
		Timestamp: time.Now().UTC(),
	})
	return res
}

func (h *Handler) record(ctx context.Context, sessionID string, msg conversation.TranscriptMessage) {
	if h.transcript == nil {
		return
	}
	if err := h.transcript.Append(ctx, sessionID, msg); err != nil {
		h.logger.Warn("webchat: transcript append failed", "error", err, "session_id", sessionID)
	}
}

func (h *Handler) history(ctx context.Context, sessionID string, limit int64) ([]HistoryMessage, error) {
	if h.transcript == nil {
		return []HistoryMessage{}, nil
	}
	msgs, err := h.transcript.List(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{
			Role:      m.Role,
			Text:      m.Text,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}
	return out, nil
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type messageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Stage     string `json:"stage"`
}

// HandleMessage handles POST /api/chat/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageLen {
		writeError(w, http.StatusRequestEntityTooLarge, "message too long")
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	} else if !validSessionID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	res := h.turn(r.Context(), req.SessionID, req.Message)
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: req.SessionID,
		Reply:     res.Reply,
		Stage:     string(res.Stage),
	})
}

// HandleReset handles POST /api/chat/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || !validSessionID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	reply, err := h.engine.Reset(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("webchat: reset failed", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to reset conversation")
		return
	}
	if h.transcript != nil {
		if err := h.transcript.Clear(r.Context(), req.SessionID); err != nil {
			h.logger.Warn("webchat: transcript clear failed", "error", err, "session_id", req.SessionID)
		}
	}
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: req.SessionID,
		Reply:     reply,
		Stage:     string(conversation.StageInitial),
	})
}

// HandleHistory handles GET /api/chat/history?session=.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "session parameter required")
		return
	}
	msgs, err := h.history(r.Context(), sessionID, 0)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleWebSocket upgrades to WebSocket and serves turns until the client leaves.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	} else if !validSessionID(sessionID) {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "invalid session parameter"})
		return
	}

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	if msgs, err := h.history(ctx, sessionID, historyLimit); err != nil {
		h.logger.Warn("webchat: history replay failed", "error", err, "session_id", sessionID)
	} else if len(msgs) > 0 {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: msgs})
	}

	h.logger.Info("webchat: connection opened", "session_id", sessionID)
	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch {
		case msg.Type == "ping":
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		case msg.Type != "message":
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		if len(text) > maxMessageLen {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "message too long"})
			continue
		}

		res := h.turn(ctx, sessionID, text)
		if err := websocket.JSON.Send(conn, OutboundMessage{
			Type:      "message",
			Role:      "assistant",
			Text:      res.Reply,
			Stage:     string(res.Stage),
			SessionID: sessionID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			h.logger.Debug("webchat: send failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	"github.com/wolfman30/resthouse-booking/internal/conversation"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func newTestEngine() *conversation.Engine {
	clock := func() time.Time { return time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC) }
	svc := bookings.NewService(bookings.NewMemoryRepository(), logging.Discard(), bookings.WithClock(clock))
	return conversation.NewEngine(conversation.EngineConfig{
		Bookings: svc,
		Clock:    clock,
		Logger:   logging.Discard(),
	})
}

func newTestHandler(t *testing.T) (*Handler, *conversation.TranscriptStore) {
	t.Helper()
	transcript := conversation.NewTranscriptStore(setupTestRedis(t), time.Hour)
	return NewHandler(newTestEngine(), transcript, logging.Discard()), transcript
}

func postJSON(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestGenerateSessionID(t *testing.T) {
	s1 := generateSessionID()
	s2 := generateSessionID()
	assert.NotEqual(t, s1, s2)
	assert.Len(t, s1, 32)
	assert.True(t, validSessionID(s1))
	assert.False(t, validSessionID("a:b"))
	assert.False(t, validSessionID(strings.Repeat("x", 129)))
}

func TestHandleMessageRunsTurn(t *testing.T) {
	h, transcript := newTestHandler(t)

	rec := postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"أريد حجز استراحة"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess1", resp.SessionID)
	assert.Equal(t, string(conversation.StageCollectingDate), resp.Stage)
	assert.Contains(t, resp.Reply, "250")

	rec = postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"2025-06-01"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(conversation.StageCollectingInfo), resp.Stage)

	msgs, err := transcript.List(context.Background(), "sess1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "أريد حجز استراحة", msgs[0].Text)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, conversation.StageCollectingDate, msgs[1].Stage)
}

func TestHandleMessageValidation(t *testing.T) {
	h := NewHandler(newTestEngine(), nil, logging.Discard())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty message", `{"session_id":"s","message":"   "}`, http.StatusBadRequest},
		{"bad session", `{"session_id":"a b","message":"hi"}`, http.StatusBadRequest},
		{"too long", `{"message":"` + strings.Repeat("x", maxMessageLen+1) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(h.HandleMessage, "/api/chat/message", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleMessageGeneratesSessionID(t *testing.T) {
	h := NewHandler(newTestEngine(), nil, logging.Discard())
	rec := postJSON(h.HandleMessage, "/api/chat/message", `{"message":"مرحبا"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.SessionID, 32)
	assert.Equal(t, string(conversation.StageInitial), resp.Stage)
}

func TestHandleResetClearsSessionAndTranscript(t *testing.T) {
	h, transcript := newTestHandler(t)
	postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"حجز استراحة"}`)

	rec := postJSON(h.HandleReset, "/api/chat/reset", `{"session_id":"sess1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(conversation.StageInitial), resp.Stage)
	assert.NotEmpty(t, resp.Reply)

	msgs, err := transcript.List(context.Background(), "sess1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	rec = postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"2025-06-01"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(conversation.StageInitial), resp.Stage, "session was discarded")

	assert.Equal(t, http.StatusBadRequest, postJSON(h.HandleReset, "/api/chat/reset", `{}`).Code)
}

type failingEngine struct{ *conversation.Engine }

func (failingEngine) Reset(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func TestHandleResetFailure(t *testing.T) {
	h := NewHandler(failingEngine{newTestEngine()}, nil, logging.Discard())
	rec := postJSON(h.HandleReset, "/api/chat/reset", `{"session_id":"sess1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleHistory(t *testing.T) {
	h, _ := newTestHandler(t)
	postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"مرحبا"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history?session=sess1", nil)
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "مرحبا", resp.Messages[0].Text)

	req = httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	rec = httptest.NewRecorder()
	h.HandleHistory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistoryWithoutTranscriptStore(t *testing.T) {
	h := NewHandler(newTestEngine(), nil, logging.Discard())
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history?session=sess1", nil)
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestWebSocketConversation(t *testing.T) {
	h, _ := newTestHandler(t)
	postJSON(h.HandleMessage, "/api/chat/message", `{"session_id":"sess1","message":"مرحبا"}`)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws?session=sess1"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var out OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, "session", out.Type)
	assert.Equal(t, "sess1", out.SessionID)

	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, "history", out.Type)
	assert.Len(t, out.Messages, 2)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, "pong", out.Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "أريد حجز استراحة"}))
	out = OutboundMessage{}
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, string(conversation.StageCollectingDate), out.Stage)
}

func TestWebSocketRejectsBadSession(t *testing.T) {
	h := NewHandler(newTestEngine(), nil, logging.Discard())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?session=a:b", "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var out OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, "error", out.Type)
}

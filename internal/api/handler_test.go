package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/rafaelbarros/feira/internal/config"
	"github.com/rafaelbarros/feira/internal/convo"
	"github.com/rafaelbarros/feira/internal/messaging"
	"github.com/rafaelbarros/feira/internal/netmon"
	"github.com/rafaelbarros/feira/internal/queue"
	"github.com/rafaelbarros/feira/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sim := backend.NewSimulator(backend.SimOptions{})
	b := bus.New()
	logger := zap.NewNop()
	cfg := config.Queue{
		BatchSize:     50,
		MaxRetries:    5,
		RetryDelaysMs: []int64{10, 20},
		TickMs:        20,
		DrainDelayMs:  10,
	}
	q := queue.New(db, sim, netmon.NewManual(true), b, cfg, logger)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	svc := messaging.New(convo.NewCache(sim, b, logger), q, sim, logger)
	t.Cleanup(svc.Close)

	return NewHandler(svc, b, logger)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListConversations(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodGet, "/v1/conversations?user_id=u-ana", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []backend.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Conversations)
}

func TestListConversationsMissingUser(t *testing.T) {
	r := testHandler(t).Router()
	w := doJSON(t, r, http.MethodGet, "/v1/conversations", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageAccepted(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodPost, "/v1/messages", map[string]any{
		"chat_id": "c-demo-1",
		"content": "bom dia!",
		"sender":  map[string]string{"id": "u-ana", "name": "Ana"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Message backend.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, backend.StatusSending, resp.Message.Status)
	assert.True(t, strings.HasPrefix(resp.Message.ID, "temp-"))
}

func TestSendMessageValidation(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodPost, "/v1/messages", map[string]any{
		"content": "sem chat",
		"sender":  map[string]string{"id": "u-ana"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStatsAndRetry(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodGet, "/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Pending int `json:"pending"`
		Failed  int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.Failed)

	w = doJSON(t, r, http.MethodPost, "/v1/queue/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMarkRead(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodPost, "/v1/conversations/c-demo-1/read", map[string]string{"user_id": "u-ana"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/conversations/c-demo-1/read", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateConversation(t *testing.T) {
	r := testHandler(t).Router()

	w := doJSON(t, r, http.MethodPost, "/v1/conversations", map[string]any{
		"participant_ids": []string{"u-ana", "u-carla"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Conversation backend.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Conversation.ID)
}

// Event stream smoke test: a send eventually produces a queue.message_sent
// envelope on the websocket.
func TestEventStream(t *testing.T) {
	h := testHandler(t)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	w := doJSON(t, h.Router(), http.MethodPost, "/v1/messages", map[string]any{
		"chat_id": "c-demo-1",
		"content": "evento?",
		"sender":  map[string]string{"id": "u-ana", "name": "Ana"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var env struct {
			EventID string `json:"event_id"`
			Kind    string `json:"kind"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if env.Kind == bus.KindMessageSent {
			assert.NotEmpty(t, env.EventID)
			return
		}
	}
	t.Fatal("no message_sent event on stream")
}

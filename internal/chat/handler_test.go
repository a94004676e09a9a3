package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	history  map[string][]Message
	failWith error
}

func newStubStore() *stubStore {
	return &stubStore{history: make(map[string][]Message)}
}

func (s *stubStore) History(ctx context.Context, roomId string) ([]Message, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	messages, ok := s.history[roomId]
	if !ok {
		return []Message{}, nil
	}
	return messages, nil
}

func (s *stubStore) Append(ctx context.Context, roomId string, message Message) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.history[roomId] = append(s.history[roomId], message)
	return nil
}

func newTestRouter(store Store) *mux.Router {
	router := mux.NewRouter()
	NewHandler(store).Register(router)
	return router
}

func TestGetChats(t *testing.T) {
	store := newStubStore()
	store.history["room-1"] = []Message{
		{User: "alice", Data: "hello", CreatedAt: "2026-08-31T10:00:00Z"},
	}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("roomid", "room-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Chats []Message `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Chats, 1)
	assert.Equal(t, "alice", response.Chats[0].User)
}

func TestGetChatsEmptyRoom(t *testing.T) {
	router := newTestRouter(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("roomid", "never-seen")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chats":[]}`, rec.Body.String())
}

func TestGetChatsMissingHeader(t *testing.T) {
	router := newTestRouter(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChatsStoreFailure(t *testing.T) {
	store := newStubStore()
	store.failWith = errors.New("redis gone")
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("roomid", "room-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPostChat(t *testing.T) {
	store := newStubStore()
	router := newTestRouter(store)

	body, err := json.Marshal(map[string]string{
		"roomId":    "room-1",
		"user":      "bob",
		"data":      "hi there",
		"createdAt": "2026-08-31T10:01:00Z",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message uploaded", rec.Body.String())

	require.Len(t, store.history["room-1"], 1)
	assert.Equal(t, "hi there", store.history["room-1"][0].Data)
}

func TestPostChatInvalidBody(t *testing.T) {
	router := newTestRouter(newStubStore())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostChatMissingRoom(t *testing.T) {
	router := newTestRouter(newStubStore())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte(`{"user":"bob","data":"hi"}`)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestEndpoint(t *testing.T) {
	router := newTestRouter(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"test":"In Working condition"}`, rec.Body.String())
}

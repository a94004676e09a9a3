package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
)

// Handler serves the chat REST endpoints. The room id travels in the
// "roomid" header on reads and in the body on writes, matching what
// the web client sends.
type Handler struct {
	store  Store
	logger logr.Logger
}

func NewHandler(store Store) *Handler {
	return &Handler{
		store:  store,
		logger: logger.New("ChatHandler"),
	}
}

// Register mounts the endpoints on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/chats", h.getChats).Methods(http.MethodGet)
	router.HandleFunc("/api/chat", h.postChat).Methods(http.MethodPost)
	router.HandleFunc("/api/test", h.test).Methods(http.MethodGet)
}

type historyResponse struct {
	Chats []Message `json:"chats"`
}

type appendRequest struct {
	RoomId string `json:"roomId"`
	Message
}

func (h *Handler) getChats(w http.ResponseWriter, r *http.Request) {
	roomId := r.Header.Get("roomid")
	if roomId == "" {
		http.Error(w, "roomid header is required", http.StatusBadRequest)
		return
	}

	messages, err := h.store.History(r.Context(), roomId)
	if err != nil {
		h.logger.Error(err, "history read failed", "roomId", roomId)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, historyResponse{Chats: messages})
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid message body", http.StatusBadRequest)
		return
	}
	if req.RoomId == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Append(r.Context(), req.RoomId, req.Message); err != nil {
		h.logger.Error(err, "history append failed", "roomId", req.RoomId)
		http.Error(w, "message not stored", http.StatusInternalServerError)
		return
	}

	w.Write([]byte("Message uploaded"))
}

func (h *Handler) test(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, map[string]string{"test": "In Working condition"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error(err, "response encode failed")
	}
}

package chat

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/MydrieDybiStudios/WhyHot/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub   *Hub
	store MessageStore
}

func NewHandler(hub *Hub, store MessageStore) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
	}
}

// ServeWs upgrades the connection and starts its pumps. The connection is
// not visible to routing until it sends a join event.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	username, ok := r.Context().Value(middleware.UsernameKey).(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Error("websocket upgrade", "user", username, "error", err)
		return
	}

	client := newClient(h.hub, conn, username)

	go client.writePump()
	go client.readPump()
}

// GetHistory mirrors the websocket history loader over plain HTTP:
// /api/messages?scope=global or /api/messages?scope=direct&a=alice&b=bob.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	req := HistoryRequest{
		Scope: r.URL.Query().Get("scope"),
		A:     r.URL.Query().Get("a"),
		B:     r.URL.Query().Get("b"),
	}
	if req.Scope == "" {
		req.Scope = ScopeGlobal
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := LoadHistory(r.Context(), h.store, req)
	if err != nil {
		h.hub.logger.Error("load history", "scope", req.Scope, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HistoryResponse{Scope: req.Scope, Messages: msgs})
}

package friend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/MydrieDybiStudios/WhyHot/internal/middleware"
)

var validate = validator.New()

// Store is what the handler needs from the persistence layer; *Repository
// implements it.
type Store interface {
	Create(ctx context.Context, owner, target string) (*Friendship, error)
	Accept(ctx context.Context, owner, target string) error
	ListFriends(ctx context.Context, username string) ([]Friendship, error)
	ListPending(ctx context.Context, username string) ([]Friendship, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Send creates a pending request from the authenticated user to the target.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	username, ok := r.Context().Value(middleware.UsernameKey).(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req RequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Target == username {
		http.Error(w, "cannot befriend yourself", http.StatusBadRequest)
		return
	}

	f, err := h.store.Create(r.Context(), username, req.Target)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrUnknownUser):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("create friend request", "owner", username, "error", err)
			http.Error(w, "request failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(f)
}

// Accept marks the request from payload.Owner to the authenticated user as
// accepted.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	username, ok := r.Context().Value(middleware.UsernameKey).(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req AcceptPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.Accept(r.Context(), req.Owner, username); err != nil {
		if errors.Is(err, ErrNoRequest) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("accept friend request", "target", username, "error", err)
		http.Error(w, "accept failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, h.store.ListFriends)
}

func (h *Handler) Requests(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, h.store.ListPending)
}

func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, load func(context.Context, string) ([]Friendship, error)) {
	username, ok := r.Context().Value(middleware.UsernameKey).(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	edges, err := load(r.Context(), username)
	if err != nil {
		h.logger.Error("list friendships", "username", username, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	if edges == nil {
		edges = []Friendship{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(edges)
}

package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// clockFormat is the display timestamp stamped on accepted messages. The
// stamp is for presentation; ordering comes from store-assigned ids.
const clockFormat = "15:04"

var validate = validator.New()

// Hub routes messages between live connections. Inbound events run on each
// connection's read pump; the Run loop owns delivery fan-out and connection
// teardown. Each client's channel state is lock-guarded, so a late frame
// from a pump cannot race the close.
//
// Delivery is fire-and-forget end to end: a message is persisted, then
// published, then fanned out, and no step reports back to the sender.
type Hub struct {
	registry *Registry
	store    MessageStore
	broker   Broker
	logger   *slog.Logger

	unregister chan *Client
	broadcast  chan []byte
}

func NewHub(registry *Registry, store MessageStore, broker Broker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   registry,
		store:      store,
		broker:     broker,
		logger:     logger,
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
	}
}

// Run delivers broker payloads to live connections and tears down
// disconnected clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.unregister:
			h.drop(client)

		case payload := <-h.broadcast:
			h.deliver(payload)
		}
	}
}

// SubscribeBroker forwards broker payloads into the Run loop. Start it in
// its own goroutine alongside Run.
func (h *Hub) SubscribeBroker(ctx context.Context) {
	for payload := range h.broker.Subscribe(ctx) {
		select {
		case h.broadcast <- payload:
		case <-ctx.Done():
			return
		}
	}
}

// Join registers c under username. Rejoining with a different username moves
// the connection (last write wins). A client already torn down is refused,
// so a join racing its own disconnect cannot resurrect a dead connection.
func (h *Hub) Join(c *Client, username string) {
	if c.isClosed() {
		h.logger.Warn("join on closed connection", "username", username)
		return
	}
	h.registry.Join(c, username)
	h.logger.Info("connection joined", "username", username, "live", h.registry.Count())
}

// Send runs the accept pipeline for one inbound message. Delivery is
// at-most-once with no acknowledgement: a persistence failure drops the
// message without notifying the sender, and a message is never delivered
// unless persistence succeeded first.
func (h *Hub) Send(ctx context.Context, p SendPayload) {
	if p.Kind == "" {
		p.Kind = KindText
	}
	if err := validate.Struct(&p); err != nil {
		h.logger.Warn("dropping malformed message", "sender", p.Sender, "error", err)
		return
	}

	msg := Message{
		Body:       p.Text,
		Sender:     p.Sender,
		Receiver:   p.Receiver,
		SentAt:     time.Now().Format(clockFormat),
		Kind:       p.Kind,
		Attachment: p.Attachment,
	}

	id, err := h.store.InsertMessage(ctx, &msg)
	if err != nil {
		h.logger.Error("persist message", "sender", p.Sender, "error", err)
		return
	}
	msg.ID = id

	payload, err := marshalEvent(EventReceiveMessage, msg)
	if err != nil {
		h.logger.Error("encode message", "id", id, "error", err)
		return
	}
	if err := h.broker.Publish(ctx, payload); err != nil {
		// Persisted but not delivered; history will still show it.
		h.logger.Error("publish message", "id", id, "error", err)
	}
}

// History loads the requested history and responds to the requesting
// connection only. Store failures are logged and produce no response.
func (h *Hub) History(ctx context.Context, c *Client, req HistoryRequest) {
	if err := validate.Struct(&req); err != nil {
		h.logger.Warn("dropping malformed history request", "user", c.user, "error", err)
		return
	}

	msgs, err := LoadHistory(ctx, h.store, req)
	if err != nil {
		h.logger.Error("load history", "scope", req.Scope, "error", err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	payload, err := marshalEvent(EventHistory, HistoryResponse{Scope: req.Scope, Messages: msgs})
	if err != nil {
		h.logger.Error("encode history", "error", err)
		return
	}
	c.trySend(payload)
}

// HandleEvent dispatches one inbound frame from c's read pump. Malformed
// frames and unknown events are dropped; the sender learns nothing either
// way.
func (h *Hub) HandleEvent(c *Client, raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.Warn("unparseable frame", "user", c.user, "error", err)
		return
	}

	// No per-event deadline: a hung persistence call stalls only this
	// connection's pump.
	ctx := context.Background()

	switch ev.Name {
	case EventJoin:
		var p JoinPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				h.logger.Warn("bad join payload", "user", c.user, "error", err)
				return
			}
		}
		if p.Username == "" {
			p.Username = c.user
		}
		if p.Username == "" {
			h.logger.Warn("join without username")
			return
		}
		h.Join(c, p.Username)

	case EventSendMessage:
		var p SendPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.logger.Warn("bad message payload", "user", c.user, "error", err)
			return
		}
		h.Send(ctx, p)

	case EventGetHistory:
		var req HistoryRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			h.logger.Warn("bad history payload", "user", c.user, "error", err)
			return
		}
		h.History(ctx, c, req)

	default:
		h.logger.Debug("unknown event", "event", ev.Name, "user", c.user)
	}
}

// deliver fans one envelope out to its target set: every live connection for
// a broadcast, or the union of the sender's and receiver's connections for a
// direct message. A client that cannot take the frame, because its buffer is
// full or it is already torn down, is dropped. Loop goroutine only.
func (h *Hub) deliver(payload []byte) {
	msg, ok := h.decodeEnvelope(payload)
	if !ok {
		return
	}

	var targets []*Client
	if msg.Receiver == nil {
		targets = h.registry.All()
	} else {
		targets = lo.Uniq(append(
			h.registry.ConnectionsFor(msg.Sender),
			h.registry.ConnectionsFor(*msg.Receiver)...,
		))
	}

	for _, c := range targets {
		if !c.trySend(payload) {
			h.drop(c)
		}
	}
}

// drop removes c from the registry and tears down its outbound side. Safe to
// call again for a client that is already gone.
func (h *Hub) drop(c *Client) {
	h.registry.Leave(c)
	c.closeSend()
}

func (h *Hub) decodeEnvelope(payload []byte) (Message, bool) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Error("unparseable broker payload", "error", err)
		return Message{}, false
	}
	if ev.Name != EventReceiveMessage {
		h.logger.Warn("unexpected broker event", "event", ev.Name)
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		h.logger.Error("unparseable broker message", "error", err)
		return Message{}, false
	}
	return msg, true
}

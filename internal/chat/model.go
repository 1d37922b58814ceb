package chat

import "encoding/json"

// Message kinds.
const (
	KindText = "text"
	KindFile = "file"
)

// History scopes.
const (
	ScopeGlobal = "global"
	ScopeDirect = "direct"
)

// Wire event names, both directions.
const (
	EventJoin           = "join"
	EventSendMessage    = "sendMessage"
	EventGetHistory     = "getHistory"
	EventReceiveMessage = "receiveMessage"
	EventHistory        = "history"
)

// Event is the envelope for every websocket frame.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the canonical message record. A nil Receiver means broadcast.
// SentAt is the server-side hh:mm stamp taken when the message was accepted;
// the store-assigned ID is the creation ordering key.
type Message struct {
	ID         int64   `json:"id"`
	Body       string  `json:"text"`
	Sender     string  `json:"sender"`
	Receiver   *string `json:"receiver,omitempty"`
	SentAt     string  `json:"time"`
	Kind       string  `json:"kind"`
	Attachment string  `json:"attachment,omitempty"`
}

// SendPayload is the body of a sendMessage event. Kind defaults to text;
// file messages must carry an attachment reference. The payload's own notion
// of time, if any, is ignored.
type SendPayload struct {
	Text       string  `json:"text"`
	Sender     string  `json:"sender" validate:"required"`
	Receiver   *string `json:"receiver,omitempty"`
	Kind       string  `json:"kind" validate:"omitempty,oneof=text file"`
	Attachment string  `json:"attachment" validate:"required_if=Kind file"`
}

// JoinPayload is the body of a join event.
type JoinPayload struct {
	Username string `json:"username"`
}

// HistoryRequest selects the global broadcast history or the merged
// two-party history between A and B (order-independent).
type HistoryRequest struct {
	Scope string `json:"scope" validate:"required,oneof=global direct"`
	A     string `json:"a" validate:"required_if=Scope direct"`
	B     string `json:"b" validate:"required_if=Scope direct"`
}

// HistoryResponse is the body of a history event.
type HistoryResponse struct {
	Scope    string    `json:"scope"`
	Messages []Message `json:"messages"`
}

// marshalEvent wraps data in an Event envelope ready for the wire.
func marshalEvent(name string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Name: name, Data: body})
}

package friend

import "time"

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
)

// Friendship is a directed edge: owner sent the request, target received it.
// A pending edge is a request; an accepted edge is a friendship in either
// direction.
type Friendship struct {
	ID        int       `json:"id"`
	Owner     string    `json:"owner"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type RequestPayload struct {
	Target string `json:"target" validate:"required,alphanum,min=3,max=50"`
}

type AcceptPayload struct {
	Owner string `json:"owner" validate:"required,alphanum,min=3,max=50"`
}

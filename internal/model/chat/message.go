package chat

import "time"

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Origin tags how a message entered the local view. It drives the merge
// logic only and is never persisted or serialized.
type Origin int

const (
	// OriginOptimistic marks a locally-queued message shown before the
	// backing store acknowledged it.
	OriginOptimistic Origin = iota
	// OriginConfirmed marks a message acknowledged by the backing store,
	// whether via history fetch, realtime push, or a direct call response.
	OriginConfirmed
)

// Message is a single conversation turn. Messages are never mutated, only
// appended or reconciled away during merge.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Origin    Origin    `json:"-"`
}

// Confirmed reports whether the backing store has acknowledged the message.
func (m Message) Confirmed() bool {
	return m.Origin == OriginConfirmed
}

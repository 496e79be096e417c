package chat

import "time"

// OwnerKind distinguishes who a session belongs to.
type OwnerKind string

const (
	OwnerAnonymous     OwnerKind = "anonymous"
	OwnerAuthenticated OwnerKind = "authenticated"
)

// Session is a durable conversation context bound to exactly one identity.
// Exactly one of UserID/AnonID is set. Ownership never changes after
// creation; a session whose owner no longer matches the current client is
// discarded and recreated, never mutated.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	AnonID    string    `json:"anonId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// OwnerKind reports which identity kind the session is bound to.
func (s Session) OwnerKind() OwnerKind {
	if s.UserID != "" {
		return OwnerAuthenticated
	}
	return OwnerAnonymous
}

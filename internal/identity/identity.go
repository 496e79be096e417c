package identity

// Kind classifies the current client identity.
type Kind string

const (
	KindAnonymous     Kind = "anonymous"
	KindAuthenticated Kind = "authenticated"
)

// Identity is the resolved identity of the client driving the widget.
// UserID is set only for authenticated identities.
type Identity struct {
	Kind   Kind
	UserID string
}

// Anonymous returns the anonymous identity.
func Anonymous() Identity {
	return Identity{Kind: KindAnonymous}
}

// Authenticated returns an identity bound to the given user id.
func Authenticated(userID string) Identity {
	return Identity{Kind: KindAuthenticated, UserID: userID}
}

// Authenticated reports whether the identity carries a signed-in user.
func (i Identity) Authenticated() bool {
	return i.Kind == KindAuthenticated && i.UserID != ""
}

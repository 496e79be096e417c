package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/quendale/supportchat/internal/identity"
	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/store"
)

// ErrCannotStartConversation is fatal to the caller: session creation
// conflicted twice and there is nothing left to retry locally.
var ErrCannotStartConversation = errors.New("cannot start conversation")

// Records is the remote session record store the resolver talks to.
type Records interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	CreateSession(ctx context.Context, userID, anonID string) (chat.Session, error)
}

// Resolver produces a valid session for the current client identity,
// creating one when the stored identifier is absent, malformed, missing
// remotely, or owned by someone else.
type Resolver struct {
	records Records
	group   singleflight.Group
	log     zerolog.Logger
}

// NewResolver creates a resolver backed by the given record store.
func NewResolver(records Records, log zerolog.Logger) *Resolver {
	return &Resolver{
		records: records,
		log:     log.With().Str("component", "session").Logger(),
	}
}

// Resolve returns the session for the identity held in ids, creating and
// persisting a new one when necessary. Concurrent resolutions for the same
// identity collapse into a single in-flight resolution, so rapid repeated
// activation cannot create duplicate sessions.
func (r *Resolver) Resolve(ctx context.Context, ident identity.Identity, ids identity.Store) (chat.Session, error) {
	key := r.flightKey(ident, ids)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, ident, ids)
	})
	if err != nil {
		return chat.Session{}, err
	}
	return v.(chat.Session), nil
}

// flightKey scopes the single-flight guard to one browser context. A
// first-time anonymous visitor has no identifier yet, so the identity
// store instance itself is the context key.
func (r *Resolver) flightKey(ident identity.Identity, ids identity.Store) string {
	if ident.Authenticated() {
		return "user:" + ident.UserID
	}
	if anonID := ids.AnonID(); anonID != "" {
		return "anon:" + anonID
	}
	return fmt.Sprintf("store:%p", ids)
}

func (r *Resolver) resolve(ctx context.Context, ident identity.Identity, ids identity.Store) (chat.Session, error) {
	if stored := ids.SessionID(); stored != "" {
		session, ok, err := r.lookup(ctx, stored, ident)
		if err != nil {
			return chat.Session{}, err
		}
		if ok {
			return session, nil
		}
		// Stored identifier was malformed, missing, or mismatched; the
		// session is discarded, never mutated.
		ids.ClearSessionID()
	}

	return r.create(ctx, ident, ids)
}

// lookup validates and fetches the stored session. ok=false means discard
// and recreate; err is reserved for failures that should surface.
func (r *Resolver) lookup(ctx context.Context, sessionID string, ident identity.Identity) (chat.Session, bool, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		r.log.Warn().Str("session_id", sessionID).Msg("stored session identifier is malformed, discarding")
		return chat.Session{}, false, nil
	}

	session, err := r.records.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		r.log.Info().Str("session_id", sessionID).Msg("stored session no longer exists, discarding")
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("failed to fetch session: %w", err)
	}

	if !owns(ident, session) {
		r.log.Info().
			Str("session_id", sessionID).
			Str("owner_kind", string(session.OwnerKind())).
			Str("identity_kind", string(ident.Kind)).
			Msg("session ownership mismatch, discarding")
		return chat.Session{}, false, nil
	}

	return session, true, nil
}

// owns checks the ownership invariant. An authenticated identity must match
// the record's user reference exactly; an anonymous identity only requires
// the record to be anonymous-owned, since the anonymous id itself may
// rotate across storage clears.
func owns(ident identity.Identity, session chat.Session) bool {
	if ident.Authenticated() {
		return session.UserID == ident.UserID
	}
	return session.AnonID != ""
}

func (r *Resolver) create(ctx context.Context, ident identity.Identity, ids identity.Store) (chat.Session, error) {
	session, err := r.createOnce(ctx, ident, ids)
	if errors.Is(err, store.ErrConflict) {
		// A uniqueness conflict gets one retry after clearing local state.
		r.log.Warn().Err(err).Msg("session creation conflict, retrying once")
		ids.ClearSessionID()
		session, err = r.createOnce(ctx, ident, ids)
		if errors.Is(err, store.ErrConflict) {
			return chat.Session{}, fmt.Errorf("%w: %v", ErrCannotStartConversation, err)
		}
	}
	if err != nil {
		return chat.Session{}, err
	}

	ids.SetSessionID(session.ID)
	return session, nil
}

func (r *Resolver) createOnce(ctx context.Context, ident identity.Identity, ids identity.Store) (chat.Session, error) {
	var userID, anonID string
	if ident.Authenticated() {
		userID = ident.UserID
	} else {
		anonID = ids.AnonID()
		if anonID == "" {
			anonID = uuid.NewString()
			ids.SetAnonID(anonID)
		}
	}

	session, err := r.records.CreateSession(ctx, userID, anonID)
	if err != nil {
		return chat.Session{}, err
	}

	r.log.Info().
		Str("session_id", session.ID).
		Str("owner_kind", string(session.OwnerKind())).
		Msg("created session")
	return session, nil
}

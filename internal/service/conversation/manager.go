package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/identity"
	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/service/message"
	"github.com/quendale/supportchat/internal/service/orchestrator"
	"github.com/quendale/supportchat/internal/service/realtime"
	"github.com/quendale/supportchat/internal/service/session"
)

// Records is the full record-store surface the engine needs.
type Records interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	CreateSession(ctx context.Context, userID, anonID string) (chat.Session, error)
	InsertMessage(ctx context.Context, msg *chat.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Config tunes the per-conversation engine.
type Config struct {
	// HistoryLimit bounds the trailing context window sent to the generator.
	HistoryLimit int
	// ResponseTimeout bounds the generation call.
	ResponseTimeout time.Duration
	// OptimisticTTL retires optimistic entries that never got confirmed.
	OptimisticTTL time.Duration
}

// Manager owns the active conversations, one logical actor per session:
// activation resolves the session, hydrates the local message view,
// and attaches the single realtime subscription for that session.
type Manager struct {
	resolver *session.Resolver
	records  Records
	hub      *realtime.Hub
	gen      orchestrator.Generator
	cfg      Config
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]*Conversation
}

// NewManager wires the engine from its collaborators.
func NewManager(records Records, hub *realtime.Hub, gen orchestrator.Generator, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		resolver: session.NewResolver(records, log),
		records:  records,
		hub:      hub,
		gen:      gen,
		cfg:      cfg,
		log:      log.With().Str("component", "conversation").Logger(),
		active:   make(map[string]*Conversation),
	}
}

// Activate resolves the session for the given identity and returns its
// conversation, starting one if needed. When resolution lands on a
// different session than the one previously stored (login mid-conversation,
// invalidated identifier), the old conversation is torn down first so no
// stale subscription leaks.
func (m *Manager) Activate(ctx context.Context, ident identity.Identity, ids identity.Store) (*Conversation, error) {
	prior := ids.SessionID()

	sess, err := m.resolver.Resolve(ctx, ident, ids)
	if err != nil {
		return nil, err
	}

	if prior != "" && prior != sess.ID {
		m.Deactivate(prior)
	}

	if conv, ok := m.Get(sess.ID); ok {
		return conv, nil
	}

	// Hydration hits the record store; it stays off m.mu so one slow
	// session cannot stall Get and Deactivate for every other one.
	history, err := m.records.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate session history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.active[sess.ID]; ok {
		// A concurrent activation of the same session won the race.
		return conv, nil
	}

	store := message.NewStore()
	store.Hydrate(history)

	conv := &Conversation{
		session:       sess,
		store:         store,
		sub:           m.hub.Subscribe(sess.ID),
		optimisticTTL: m.cfg.OptimisticTTL,
	}
	conv.orch = orchestrator.New(sess.ID, m.records, m.gen, store, m.cfg.HistoryLimit, m.cfg.ResponseTimeout, m.log)
	go conv.pump()

	m.active[sess.ID] = conv
	m.log.Info().Str("session_id", sess.ID).Int("history", len(history)).Msg("conversation activated")
	return conv, nil
}

// Get returns the active conversation for a session id, if any.
func (m *Manager) Get(sessionID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.active[sessionID]
	return conv, ok
}

// Deactivate tears down the conversation for a session id. A second call
// for the same id is a no-op.
func (m *Manager) Deactivate(sessionID string) {
	m.mu.Lock()
	conv, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if ok {
		conv.Close()
		m.log.Info().Str("session_id", sessionID).Msg("conversation deactivated")
	}
}

// Shutdown closes every active conversation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]*Conversation)
	m.mu.Unlock()

	for _, conv := range active {
		conv.Close()
	}
}

// Conversation is one session's live engine: the ordered local message
// view, its realtime subscription, and the response orchestrator.
type Conversation struct {
	session       chat.Session
	store         *message.Store
	sub           *realtime.Subscription
	orch          *orchestrator.Orchestrator
	optimisticTTL time.Duration
}

// Session returns the resolved session record.
func (c *Conversation) Session() chat.Session {
	return c.session
}

// Messages returns the visible sequence, retiring expired optimistic
// entries first.
func (c *Conversation) Messages() []chat.Message {
	if c.optimisticTTL > 0 {
		c.store.PruneExpired(c.optimisticTTL)
	}
	return c.store.All()
}

// Send starts an outbound exchange; see orchestrator.Send for the
// synchronous rejections.
func (c *Conversation) Send(content string) error {
	return c.orch.Send(content)
}

// InFlight reports whether a send is being processed.
func (c *Conversation) InFlight() bool {
	return c.orch.InFlight()
}

// LastError is the recoverable error state of the latest exchange.
func (c *Conversation) LastError() error {
	return c.orch.LastError()
}

// Close detaches the realtime subscription. An in-flight generation call
// is not cancelled; its late result merges into the detached store, which
// is invisible and harmless.
func (c *Conversation) Close() {
	c.sub.Close()
}

// pump forwards realtime insert events into the merge entry point. It
// exits when the subscription closes; events delivered after detach never
// reach it.
func (c *Conversation) pump() {
	for evt := range c.sub.Events() {
		c.store.Merge(evt.Message)
	}
}

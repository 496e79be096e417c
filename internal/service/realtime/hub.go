package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/model/chat"
)

// Event is delivered to subscribers when a message row is inserted for
// their session.
type Event struct {
	SessionID string       `json:"sessionId"`
	Message   chat.Message `json:"message"`
}

// Hub fans message-insert events out to per-session subscriptions. It is
// the realtime feed between the record store's write path and everything
// watching a session: the conversation engine and any connected widget.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	log  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log.With().Str("component", "realtime").Logger(),
	}
}

// Subscribe registers a new subscription scoped to one session id.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan Event, 16),
	}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers an event to every live subscription for its session.
// Slow consumers lose events rather than blocking the write path.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[evt.SessionID] {
		select {
		case sub.ch <- evt:
		default:
			h.log.Warn().Str("session_id", evt.SessionID).Msg("dropping event for slow subscriber")
		}
	}
}

// MessageInserted adapts the hub to the record store's insert hook.
func (h *Hub) MessageInserted(msg chat.Message) {
	h.Publish(Event{SessionID: msg.SessionID, Message: msg})
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.sessionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.sessionID)
	}
}

// Subscription is a live feed of insert events for one session. Events
// published after Close are dropped silently; Close is idempotent.
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan Event
	once      sync.Once
}

// SessionID returns the session the subscription is scoped to.
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		// remove blocks until in-flight Publish calls drain, so closing
		// the channel afterwards cannot race a send.
		s.hub.remove(s)
		close(s.ch)
	})
}

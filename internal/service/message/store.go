package message

import (
	"sort"
	"sync"
	"time"

	"github.com/quendale/supportchat/internal/model/chat"
)

// assistantDedupWindow bounds the role+content dedup rule for assistant
// replies: the orchestrator's direct result and the realtime push of the
// same generated row arrive within one exchange, while a legitimately
// repeated identical reply in a later exchange falls outside the window
// and survives.
const assistantDedupWindow = 10 * time.Second

// Store is the ordered, deduplicated local view of one session's messages.
// It merges optimistic entries with confirmed entries arriving from any of
// the asynchronous delivery paths; Merge is the sole synchronization point.
type Store struct {
	mu   sync.Mutex
	msgs []chat.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Hydrate seeds the store with history-fetch results, all confirmed.
func (s *Store) Hydrate(msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		m.Origin = chat.OriginConfirmed
		s.msgs = merge(s.msgs, m)
	}
}

// Append inserts an optimistic message at the tail immediately, so the UI
// reflects a send without waiting on the network.
func (s *Store) Append(msg chat.Message) {
	msg.Origin = chat.OriginOptimistic

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = insertOrdered(s.msgs, msg)
}

// Merge reconciles a confirmed message into the visible sequence. It
// reports whether the sequence changed; a duplicate delivery is a no-op.
func (s *Store) Merge(msg chat.Message) bool {
	msg.Origin = chat.OriginConfirmed

	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.msgs)
	merged := merge(s.msgs, msg)
	changed := len(merged) != before || !sameIDs(s.msgs, merged)
	s.msgs = merged
	return changed
}

// All returns the visible sequence, ordered by CreatedAt with stable ties.
func (s *Store) All() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// PruneExpired retires optimistic entries older than maxAge that never got
// a confirmed counterpart. It returns how many were dropped.
func (s *Store) PruneExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.msgs[:0]
	dropped := 0
	for _, m := range s.msgs {
		if m.Origin == chat.OriginOptimistic && m.CreatedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return dropped
}

// merge applies the reconciliation contract to an incoming confirmed
// message. It is pure over its inputs so it can be tested without any
// network or store mocking:
//
//  1. a confirmed message whose id already exists is dropped;
//  2. an optimistic entry with the same role and content is replaced by the
//     confirmed entry (same logical message, now durable);
//  3. an assistant confirmation matching a recent confirmed assistant entry
//     by role+content is dropped (the direct call response and the realtime
//     push referencing the same generated reply);
//  4. otherwise the message is inserted in CreatedAt order.
func merge(existing []chat.Message, incoming chat.Message) []chat.Message {
	for _, m := range existing {
		if m.Origin == chat.OriginConfirmed && m.ID == incoming.ID {
			return existing
		}
	}

	for i, m := range existing {
		if m.Origin == chat.OriginOptimistic && m.Role == incoming.Role && m.Content == incoming.Content {
			out := make([]chat.Message, len(existing))
			copy(out, existing)
			out[i] = incoming
			reorder(out)
			return out
		}
	}

	if incoming.Role == chat.RoleAssistant {
		for _, m := range existing {
			if m.Origin == chat.OriginConfirmed && m.Role == chat.RoleAssistant &&
				m.Content == incoming.Content && withinWindow(m.CreatedAt, incoming.CreatedAt) {
				return existing
			}
		}
	}

	return insertOrdered(existing, incoming)
}

func insertOrdered(msgs []chat.Message, msg chat.Message) []chat.Message {
	out := make([]chat.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	out = append(out, msg)
	reorder(out)
	return out
}

// reorder restores CreatedAt order; SliceStable keeps insertion order for
// equal timestamps.
func reorder(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func withinWindow(a, b time.Time) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d <= assistantDedupWindow
}

func sameIDs(a, b []chat.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Origin != b[i].Origin {
			return false
		}
	}
	return true
}

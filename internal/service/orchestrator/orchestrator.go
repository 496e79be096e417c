package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/service/message"
)

var (
	// ErrEmptyMessage rejects whitespace-only sends.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrSendInFlight rejects a send while a previous one is unfinished.
	ErrSendInFlight = errors.New("a send is already in flight")
	// ErrAssistantUnavailable is the recoverable inline error state: the
	// user's message stays visible and sending again retries.
	ErrAssistantUnavailable = errors.New("couldn't reach the assistant, try again")
)

// Turn is one (role, content) pair of the bounded context window.
type Turn struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// Request is the opaque response-generation call input.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	History   []Turn `json:"history"`
}

// Generator is the external response-generation service.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Records is the message record store write path.
type Records interface {
	InsertMessage(ctx context.Context, msg *chat.Message) error
}

// Orchestrator drives one session's outbound exchanges: optimistic append,
// persistence, the bounded-context generation call, and the merge of the
// assistant reply.
type Orchestrator struct {
	sessionID    string
	records      Records
	gen          Generator
	store        *message.Store
	historyLimit int
	timeout      time.Duration
	log          zerolog.Logger

	inFlight atomic.Bool
	errMu    sync.Mutex
	lastErr  error
}

// New creates an orchestrator for one session. historyLimit bounds the
// trailing context window; timeout bounds the generation call.
func New(sessionID string, records Records, gen Generator, store *message.Store, historyLimit int, timeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		sessionID:    sessionID,
		records:      records,
		gen:          gen,
		store:        store,
		historyLimit: historyLimit,
		timeout:      timeout,
		log:          log.With().Str("component", "orchestrator").Str("session_id", sessionID).Logger(),
	}
}

// Send begins an exchange for the given content. It returns immediately
// after the optimistic append; the persistence write and the generation
// call happen asynchronously. ErrSendInFlight and ErrEmptyMessage are the
// only synchronous rejections.
func (o *Orchestrator) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}

	// Context window is the trailing messages preceding this send.
	history := o.buildHistory()

	optimistic := chat.Message{
		ID:        "opt-" + uuid.NewString(),
		SessionID: o.sessionID,
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	o.store.Append(optimistic)

	go o.exchange(content, history)
	return nil
}

// InFlight reports whether a send is currently being processed.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// LastError returns the recoverable error state of the most recent
// exchange, or nil after a successful one.
func (o *Orchestrator) LastError() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) exchange(content string, history []Turn) {
	// The guard must release on every exit path, or the send affordance
	// freezes for good.
	defer o.inFlight.Store(false)

	userRow := chat.Message{
		SessionID: o.sessionID,
		Role:      chat.RoleUser,
		Content:   content,
	}
	if err := o.insert(&userRow); err != nil {
		// Failing to save must not block the user from getting an answer.
		o.log.Warn().Err(err).Msg("failed to persist user message, continuing")
	} else {
		o.store.Merge(userRow)
	}

	// The generation call gets the full timeout budget regardless of how
	// long the persistence write took.
	genCtx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	reply, err := o.gen.Generate(genCtx, Request{
		Message:   content,
		SessionID: o.sessionID,
		History:   history,
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err == nil {
			err = errors.New("empty response body")
		}
		o.log.Error().Err(err).Msg("response generation failed")
		o.setError(errors.Join(ErrAssistantUnavailable, err))
		return
	}

	assistantRow := chat.Message{
		SessionID: o.sessionID,
		Role:      chat.RoleAssistant,
		Content:   reply,
	}
	if err := o.insert(&assistantRow); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist assistant message, merging locally")
		assistantRow.ID = uuid.NewString()
		assistantRow.CreatedAt = time.Now().UTC()
	}
	// The realtime push of the same row may have arrived first; Merge
	// dedups either way.
	o.store.Merge(assistantRow)
	o.setError(nil)
}

// insert runs a persistence write under its own deadline so a stalled
// write cannot consume the generation budget.
func (o *Orchestrator) insert(msg *chat.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return o.records.InsertMessage(ctx, msg)
}

func (o *Orchestrator) buildHistory() []Turn {
	msgs := o.store.All()
	start := 0
	if len(msgs) > o.historyLimit {
		start = len(msgs) - o.historyLimit
	}

	history := make([]Turn, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		history = append(history, Turn{Role: m.Role, Content: m.Content})
	}
	return history
}

func (o *Orchestrator) setError(err error) {
	o.errMu.Lock()
	o.lastErr = err
	o.errMu.Unlock()
}

package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quendale/supportchat/internal/identity"
	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/service/conversation"
	"github.com/quendale/supportchat/internal/service/orchestrator"
	"github.com/quendale/supportchat/internal/service/realtime"
	"github.com/quendale/supportchat/internal/store"
)

func setupManager(t *testing.T, gen orchestrator.Generator) (*conversation.Manager, *store.SQLiteStore, *realtime.Hub) {
	t.Helper()

	records, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	hub := realtime.NewHub(zerolog.Nop())
	records.SetInsertListener(hub)

	if gen == nil {
		gen = orchestrator.GeneratorFunc(func(context.Context, orchestrator.Request) (string, error) {
			return "Hi! How can I help?", nil
		})
	}

	manager := conversation.NewManager(records, hub, gen, conversation.Config{
		HistoryLimit:    6,
		ResponseTimeout: 2 * time.Second,
	}, zerolog.Nop())
	t.Cleanup(manager.Shutdown)

	return manager, records, hub
}

func TestActivateCreatesSessionForNewVisitor(t *testing.T) {
	manager, _, _ := setupManager(t, nil)
	ids := identity.NewMemoryStore()

	conv, err := manager.Activate(context.Background(), identity.Anonymous(), ids)
	require.NoError(t, err)

	sess := conv.Session()
	assert.Equal(t, chat.OwnerAnonymous, sess.OwnerKind())
	assert.Equal(t, sess.ID, ids.SessionID())
	assert.Empty(t, conv.Messages(), "fresh session starts with empty history")
}

func TestActivateIsStableForSameVisitor(t *testing.T) {
	manager, _, _ := setupManager(t, nil)
	ids := identity.NewMemoryStore()
	ctx := context.Background()

	first, err := manager.Activate(ctx, identity.Anonymous(), ids)
	require.NoError(t, err)
	second, err := manager.Activate(ctx, identity.Anonymous(), ids)
	require.NoError(t, err)

	assert.Same(t, first, second, "re-activation reuses the running conversation")
}

func TestActivateHydratesHistory(t *testing.T) {
	manager, records, _ := setupManager(t, nil)
	ids := identity.NewMemoryStore()
	ctx := context.Background()

	conv, err := manager.Activate(ctx, identity.Anonymous(), ids)
	require.NoError(t, err)
	sessID := conv.Session().ID

	msg := chat.Message{SessionID: sessID, Role: chat.RoleUser, Content: "earlier question"}
	require.NoError(t, records.InsertMessage(ctx, &msg))

	// Simulate the widget being closed and reopened.
	manager.Deactivate(sessID)
	reopened, err := manager.Activate(ctx, identity.Anonymous(), ids)
	require.NoError(t, err)

	require.Len(t, reopened.Messages(), 1)
	assert.Equal(t, "earlier question", reopened.Messages()[0].Content)
}

func TestSendProducesSingleAssistantBubble(t *testing.T) {
	manager, _, _ := setupManager(t, nil)
	ids := identity.NewMemoryStore()

	conv, err := manager.Activate(context.Background(), identity.Anonymous(), ids)
	require.NoError(t, err)

	require.NoError(t, conv.Send("Hello"))

	// Both delivery paths are live here: the orchestrator merges its own
	// result and the store's insert hook pushes the same rows through the
	// hub into the pump. The visible sequence must still be exactly two.
	require.Eventually(t, func() bool {
		return !conv.InFlight() && len(conv.Messages()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond) // let any straggling event drain
	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.NoError(t, conv.LastError())
}

func TestLoginMidConversationStartsFreshSession(t *testing.T) {
	manager, _, hub := setupManager(t, nil)
	ids := identity.NewMemoryStore()
	ctx := context.Background()

	anonConv, err := manager.Activate(ctx, identity.Anonymous(), ids)
	require.NoError(t, err)
	anonID := anonConv.Session().ID

	authConv, err := manager.Activate(ctx, identity.Authenticated("u1"), ids)
	require.NoError(t, err)

	assert.NotEqual(t, anonID, authConv.Session().ID)
	assert.Equal(t, "u1", authConv.Session().UserID)
	assert.Equal(t, authConv.Session().ID, ids.SessionID(), "cookie updated to the new session")
	assert.Empty(t, authConv.Messages(), "history starts fresh")

	_, stillActive := manager.Get(anonID)
	assert.False(t, stillActive, "old conversation torn down")

	// A stale event for the old session is dropped, not merged anywhere.
	require.NotPanics(t, func() {
		hub.Publish(realtime.Event{
			SessionID: anonID,
			Message:   chat.Message{ID: "stale", SessionID: anonID, Role: chat.RoleUser, Content: "late"},
		})
	})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, authConv.Messages())
}

// stallingRecords lets a test hold one hydration open.
type stallingRecords struct {
	conversation.Records
	entered chan struct{}
	release chan struct{}
}

func (s *stallingRecords) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	close(s.entered)
	<-s.release
	return s.Records.ListMessages(ctx, sessionID)
}

func TestSlowHydrationDoesNotBlockManager(t *testing.T) {
	records, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	stalled := &stallingRecords{
		Records: records,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	gen := orchestrator.GeneratorFunc(func(context.Context, orchestrator.Request) (string, error) {
		return "ok", nil
	})
	manager := conversation.NewManager(stalled, realtime.NewHub(zerolog.Nop()), gen, conversation.Config{
		HistoryLimit:    6,
		ResponseTimeout: 2 * time.Second,
	}, zerolog.Nop())
	t.Cleanup(manager.Shutdown)

	activated := make(chan error, 1)
	go func() {
		_, err := manager.Activate(context.Background(), identity.Anonymous(), identity.NewMemoryStore())
		activated <- err
	}()

	<-stalled.entered

	// With one hydration mid-flight, lookups for other sessions must not
	// queue behind it.
	looked := make(chan struct{})
	go func() {
		manager.Get("unrelated-session")
		manager.Deactivate("unrelated-session")
		close(looked)
	}()
	select {
	case <-looked:
	case <-time.After(time.Second):
		t.Fatal("manager stalled behind a slow hydration")
	}

	close(stalled.release)
	require.NoError(t, <-activated)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	manager, _, _ := setupManager(t, nil)
	ids := identity.NewMemoryStore()

	conv, err := manager.Activate(context.Background(), identity.Anonymous(), ids)
	require.NoError(t, err)

	sessID := conv.Session().ID
	manager.Deactivate(sessID)
	require.NotPanics(t, func() { manager.Deactivate(sessID) })
}

func TestLateGeneratorResultAfterCloseIsHarmless(t *testing.T) {
	release := make(chan struct{})
	gen := orchestrator.GeneratorFunc(func(ctx context.Context, _ orchestrator.Request) (string, error) {
		select {
		case <-release:
			return "late reply", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	manager, _, _ := setupManager(t, gen)
	ids := identity.NewMemoryStore()

	conv, err := manager.Activate(context.Background(), identity.Anonymous(), ids)
	require.NoError(t, err)

	require.NoError(t, conv.Send("Hello"))
	manager.Deactivate(conv.Session().ID)
	close(release)

	// The in-flight call is not cancelled by closing; its result lands in
	// a detached store without crashing anything.
	require.Eventually(t, func() bool { return !conv.InFlight() }, 3*time.Second, 10*time.Millisecond)
}

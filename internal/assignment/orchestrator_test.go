package assignment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/event"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	clock    *fakeClock
	tracker  *presence.Tracker
	repo     *storage.MemoryStore
	orch     *Orchestrator
	mu       sync.Mutex
	assigned []types.AgentAssigned
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{clock: &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}}

	bus := event.NewBus(zerolog.Nop())
	bus.Subscribe(types.EventAgentAssigned, func(ctx context.Context, ev event.Event) error {
		e.mu.Lock()
		e.assigned = append(e.assigned, ev.(types.AgentAssigned))
		e.mu.Unlock()
		return nil
	})

	e.tracker = presence.NewTracker(cache.NewMemoryStoreWithClock(e.clock.Now), presence.Options{
		TTL: 30 * time.Minute,
		Now: e.clock.Now,
	}, zerolog.Nop())
	e.repo = storage.NewMemoryStore()
	e.orch = NewOrchestrator(e.repo, e.repo, e.tracker, nil, Options{
		Now:       e.clock.Now,
		Publisher: bus,
	}, zerolog.Nop())
	return e
}

func (e *env) conversation(t *testing.T, id string, agents ...types.AgentID) {
	t.Helper()
	require.NoError(t, e.repo.CreateConversation(context.Background(), types.Conversation{
		ID:                     id,
		Status:                 types.ConversationPending,
		AvailableCommercialIDs: agents,
		Version:                1,
		CreatedAt:              e.clock.Now(),
		UpdatedAt:              e.clock.Now(),
	}))
}

func (e *env) online(t *testing.T, ids ...types.AgentID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, e.tracker.Connect(context.Background(), id))
	}
}

// load gives agent n open conversations
func (e *env) load(t *testing.T, agent types.AgentID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.repo.CreateConversation(context.Background(), types.Conversation{
			ID:           string(agent) + "-load-" + string(rune('a'+i)),
			Status:       types.ConversationActive,
			CommercialID: agent,
			Version:      1,
		}))
	}
}

func TestAutoAssign_PicksLeastLoaded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "a", "b")
	e.load(t, "b", 4)
	e.conversation(t, "c1", "b", "a")

	result, err := e.orch.AutoAssign(ctx, "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.AgentID("a"), result.CommercialID)
	assert.Equal(t, types.StrategyWorkloadBalanced, result.Strategy)
	assert.Equal(t, 0.0, result.Score)

	conv, err := e.repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ConversationAssigned, conv.Status)
	assert.Equal(t, types.AgentID("a"), conv.CommercialID)
	assert.Equal(t, 2, conv.Version)
	require.NotNil(t, conv.AssignedAt)

	require.Len(t, e.assigned, 1)
	assert.Equal(t, "c1", e.assigned[0].ConversationID)
	assert.Equal(t, types.AgentID("a"), e.assigned[0].AgentID)
	assert.Equal(t, types.StrategyWorkloadBalanced, e.assigned[0].Strategy)
}

func TestAutoAssign_UsesProfiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "a", "b")
	require.NoError(t, e.repo.SaveAgentProfile(ctx, types.AgentProfile{AgentID: "a", MaxChats: 2, Skills: []types.Skill{"en"}}))
	require.NoError(t, e.repo.SaveAgentProfile(ctx, types.AgentProfile{AgentID: "b", MaxChats: 10, Skills: []types.Skill{"en", "fr"}}))
	e.load(t, "a", 1) // 1/2
	e.load(t, "b", 3) // 3/10
	e.conversation(t, "c1", "a", "b")
	e.conversation(t, "c2", "a", "b")

	result, err := e.orch.AutoAssign(ctx, "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.AgentID("b"), result.CommercialID)

	result, err = e.orch.AutoAssign(ctx, "c2", &types.AssignmentCriteria{
		Strategy:       "priority",
		RequiredSkills: []types.Skill{"fr"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.AgentID("b"), result.CommercialID)
	assert.Equal(t, types.StrategyPriority, result.Strategy)
}

func TestAutoAssign_ConversationNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.AutoAssign(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, KindConversationNotFound, KindOf(err))
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAutoAssign_NotAssignable(t *testing.T) {
	for _, status := range []types.ConversationStatus{
		types.ConversationAssigned,
		types.ConversationActive,
		types.ConversationClosed,
	} {
		t.Run(string(status), func(t *testing.T) {
			e := newEnv(t)
			e.online(t, "a")
			require.NoError(t, e.repo.CreateConversation(context.Background(), types.Conversation{
				ID:                     "c1",
				Status:                 status,
				AvailableCommercialIDs: []types.AgentID{"a"},
				Version:                1,
			}))

			_, err := e.orch.AutoAssign(context.Background(), "c1", nil)
			assert.Equal(t, KindConversationNotAssignable, KindOf(err))
			assert.ErrorIs(t, err, ErrConversationNotAssignable)
		})
	}
}

func TestAutoAssign_NoCommercialAvailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "idle", "gone")
	require.NoError(t, e.tracker.Disconnect(ctx, "gone"))
	require.NoError(t, e.tracker.SetStatus(ctx, "idle", types.StatusAway))
	e.conversation(t, "c1", "idle", "gone", "never-seen")

	_, err := e.orch.AutoAssign(ctx, "c1", nil)
	assert.Equal(t, KindNoCommercialAvailable, KindOf(err))
	assert.ErrorIs(t, err, ErrNoCommercialAvailable)

	e.conversation(t, "c2")
	_, err = e.orch.AutoAssign(ctx, "c2", nil)
	assert.Equal(t, KindNoCommercialAvailable, KindOf(err))
}

func TestAutoAssign_StaleActivityIsNotOnline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "a")
	e.clock.Advance(DefaultOnlineWindow)
	e.conversation(t, "c1", "a")

	_, err := e.orch.AutoAssign(ctx, "c1", nil)
	assert.Equal(t, KindNoCommercialAvailable, KindOf(err))
}

func TestAutoAssign_NoEligibleIsDistinct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "a")
	e.load(t, "a", DefaultMaxChats)
	e.conversation(t, "c1", "a")

	_, err := e.orch.AutoAssign(ctx, "c1", nil)
	assert.Equal(t, KindNoEligibleCommercial, KindOf(err))
	assert.ErrorIs(t, err, ErrNoEligibleCommercial)
	assert.NotErrorIs(t, err, ErrNoCommercialAvailable)

	e.online(t, "b")
	e.conversation(t, "c2", "b")
	_, err = e.orch.AutoAssign(ctx, "c2", &types.AssignmentCriteria{RequiredSkills: []types.Skill{"de"}})
	assert.Equal(t, KindNoEligibleCommercial, KindOf(err))
}

func TestAutoAssign_InvalidCriteria(t *testing.T) {
	e := newEnv(t)
	e.online(t, "a")
	e.conversation(t, "c1", "a")

	_, err := e.orch.AutoAssign(context.Background(), "c1", &types.AssignmentCriteria{Strategy: "RANDOM"})
	assert.Equal(t, KindInvalidCriteria, KindOf(err))

	_, err = e.orch.AutoAssign(context.Background(), "c1", &types.AssignmentCriteria{MaxWaitTimeSeconds: -1})
	assert.Equal(t, KindInvalidCriteria, KindOf(err))
}

type failingPresence struct{}

func (failingPresence) GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error) {
	return types.StatusOffline, presence.ErrStoreUnavailable
}

func (failingPresence) LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error) {
	return time.Time{}, false, presence.ErrStoreUnavailable
}

func (failingPresence) SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error {
	return presence.ErrStoreUnavailable
}

func TestAutoAssign_PresenceStoreUnavailable(t *testing.T) {
	repo := storage.NewMemoryStore()
	require.NoError(t, repo.CreateConversation(context.Background(), types.Conversation{
		ID:                     "c1",
		Status:                 types.ConversationPending,
		AvailableCommercialIDs: []types.AgentID{"a"},
		Version:                1,
	}))
	orch := NewOrchestrator(repo, repo, failingPresence{}, nil, Options{}, zerolog.Nop())

	_, err := orch.AutoAssign(context.Background(), "c1", nil)
	assert.Equal(t, KindPresenceStoreUnavailable, KindOf(err))
	assert.ErrorIs(t, err, cache.ErrUnavailable)
}

// saveFailingRepo fails every save
type saveFailingRepo struct {
	*storage.MemoryStore
}

func (r saveFailingRepo) SaveConversation(ctx context.Context, conv types.Conversation) error {
	return errors.New("disk full")
}

func TestAutoAssign_PersistenceFailed(t *testing.T) {
	e := newEnv(t)
	e.online(t, "a")
	e.conversation(t, "c1", "a")
	orch := NewOrchestrator(saveFailingRepo{e.repo}, e.repo, e.tracker, nil, Options{Now: e.clock.Now}, zerolog.Nop())

	_, err := orch.AutoAssign(context.Background(), "c1", nil)
	assert.Equal(t, KindPersistenceFailed, KindOf(err))
	assert.ErrorIs(t, err, ErrPersistenceFailed)

	conv, err := e.repo.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ConversationPending, conv.Status)
	assert.Empty(t, e.assigned)
}

func TestAutoAssign_ConcurrentAttemptsAssignOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		e := newEnv(t)
		e.online(t, "a", "b")
		e.conversation(t, "c1", "a", "b")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.orch.AutoAssign(context.Background(), "c1", nil)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.Equal(t, KindConversationNotAssignable, KindOf(err), "round %d: %v", round, err)
		}
		assert.Equal(t, 1, succeeded, "round %d", round)
		assert.Len(t, e.assigned, 1)
	}
}

func TestAutoAssign_MarksBusyAtCapacity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online(t, "a")
	require.NoError(t, e.repo.SaveAgentProfile(ctx, types.AgentProfile{AgentID: "a", MaxChats: 2}))
	e.conversation(t, "c1", "a")
	e.conversation(t, "c2", "a")

	_, err := e.orch.AutoAssign(ctx, "c1", nil)
	require.NoError(t, err)
	status, err := e.tracker.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, status)

	_, err = e.orch.AutoAssign(ctx, "c2", nil)
	require.NoError(t, err)
	status, err = e.tracker.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBusy, status)

	available, err := e.tracker.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	err := newError(KindNoEligibleCommercial, "c1", "nobody", nil)
	assert.Contains(t, err.Error(), "NO_ELIGIBLE_COMMERCIAL")
	assert.Equal(t, "nobody", err.UserMessage())
}

func TestAutoAssign_LogsRankingAtDebug(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var buf bytes.Buffer
	e.orch = NewOrchestrator(e.repo, e.repo, e.tracker, nil, Options{Now: e.clock.Now},
		zerolog.New(&buf).Level(zerolog.DebugLevel))

	e.online(t, "a", "b", "c")
	e.load(t, "a", 2)
	e.load(t, "b", 1)
	e.conversation(t, "c1", "a", "b", "c")

	_, err := e.orch.AutoAssign(ctx, "c1", nil)
	require.NoError(t, err)

	var ranking []string
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry struct {
			Message string   `json:"message"`
			Ranking []string `json:"ranking"`
		}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry.Message == "candidates ranked" {
			ranking = entry.Ranking
		}
	}
	assert.Equal(t, []string{"c(0/5)", "b(1/5)", "a(2/5)"}, ranking)
}

func TestAutoAssign_SkipsRankingAboveDebug(t *testing.T) {
	e := newEnv(t)
	var buf bytes.Buffer
	e.orch = NewOrchestrator(e.repo, e.repo, e.tracker, nil, Options{Now: e.clock.Now},
		zerolog.New(&buf).Level(zerolog.InfoLevel))

	e.online(t, "a")
	e.conversation(t, "c1", "a")
	_, err := e.orch.AutoAssign(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "candidates ranked")
}

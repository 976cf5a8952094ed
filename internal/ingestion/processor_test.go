package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T) (*DefaultProcessor, *presence.Tracker, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	tracker := presence.NewTracker(store, presence.Options{}, zerolog.Nop())
	return NewDefaultProcessor(tracker, time.Second, zerolog.Nop()), tracker, store
}

func TestProcessor_Lifecycle(t *testing.T) {
	p, tracker, _ := newProcessor(t)
	ctx := context.Background()
	id := types.NewAgentID()

	status, err := p.ProcessRegister(&types.AgentRegister{Type: types.MsgRegister, AgentID: id})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, status)

	status, err = p.ProcessStatusChange(&types.AgentStatusChange{
		Type:    types.MsgStatusChange,
		AgentID: id,
		Status:  types.StatusBusy,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusBusy, status)

	busy, err := tracker.ListBusy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentID{id}, busy)

	status, err = p.ProcessHeartbeat(&types.AgentHeartbeat{Type: types.MsgHeartbeat, AgentID: id})
	require.NoError(t, err)
	assert.Equal(t, types.StatusBusy, status)

	require.NoError(t, p.ProcessDisconnect(&types.AgentDisconnect{AgentID: id, Reason: "closed"}))
	current, err := tracker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, current)
}

func TestProcessor_RejectsUnknownStatus(t *testing.T) {
	p, _, _ := newProcessor(t)
	_, err := p.ProcessStatusChange(&types.AgentStatusChange{AgentID: types.NewAgentID(), Status: "LUNCH"})
	assert.Error(t, err)
}

func TestProcessor_StoreFailure(t *testing.T) {
	p, _, store := newProcessor(t)
	require.NoError(t, store.Close())

	_, err := p.ProcessRegister(&types.AgentRegister{AgentID: types.NewAgentID()})
	assert.ErrorIs(t, err, presence.ErrStoreUnavailable)

	assert.ErrorIs(t, p.ProcessDisconnect(&types.AgentDisconnect{AgentID: types.NewAgentID()}), presence.ErrStoreUnavailable)
}

func TestProcessor_StatusChangeUsesServerClock(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tracker := presence.NewTracker(cache.NewMemoryStoreWithClock(clock), presence.Options{Now: clock}, zerolog.Nop())
	p := NewDefaultProcessor(tracker, time.Second, zerolog.Nop())
	ctx := context.Background()

	for name, sent := range map[string]time.Time{
		"stale":  now.Add(-time.Hour),
		"future": now.Add(time.Hour),
		"zero":   {},
	} {
		t.Run(name, func(t *testing.T) {
			id := types.NewAgentID()
			_, err := p.ProcessStatusChange(&types.AgentStatusChange{
				Type:      types.MsgStatusChange,
				AgentID:   id,
				Status:    types.StatusOnline,
				Timestamp: sent,
			})
			require.NoError(t, err)

			last, ok, err := tracker.LastActivity(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, last.Equal(now), "last activity %s", last)
		})
	}
}

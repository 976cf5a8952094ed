package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
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

var defaultConfig = Config{
	Interval:         time.Minute,
	AwayThreshold:    5 * time.Minute,
	OfflineThreshold: 10 * time.Minute,
}

func setup(t *testing.T) (*presence.Tracker, *Sweeper, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStoreWithClock(clock.Now)
	tracker := presence.NewTracker(store, presence.Options{
		TTL: 30 * time.Minute,
		Now: clock.Now,
	}, zerolog.Nop())
	return tracker, New(tracker, defaultConfig, clock.Now, zerolog.Nop()), clock
}

// setupShipped wires the tracker the way the server does with default settings
func setupShipped(t *testing.T) (*presence.Tracker, *Sweeper, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStoreWithClock(clock.Now)
	tracker := presence.NewTracker(store, presence.Options{
		TTL:          presence.DefaultTTL,
		OfflineAfter: defaultConfig.OfflineThreshold,
		Now:          clock.Now,
	}, zerolog.Nop())
	return tracker, New(tracker, defaultConfig, clock.Now, zerolog.Nop()), clock
}

func TestSweeper_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		status types.PresenceStatus
		idle   time.Duration
		want   types.PresenceStatus
		away   int
		off    int
	}{
		{"recently active stays online", types.StatusOnline, 4 * time.Minute, types.StatusOnline, 0, 0},
		{"idle 6 minutes goes away", types.StatusOnline, 6 * time.Minute, types.StatusAway, 1, 0},
		{"idle exactly at away threshold goes away", types.StatusOnline, 5 * time.Minute, types.StatusAway, 1, 0},
		{"idle 11 minutes goes offline", types.StatusOnline, 11 * time.Minute, types.StatusOffline, 0, 1},
		{"busy is not forced away", types.StatusBusy, 6 * time.Minute, types.StatusBusy, 0, 0},
		{"busy still goes offline", types.StatusBusy, 11 * time.Minute, types.StatusOffline, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, sweeper, clock := setup(t)
			ctx := context.Background()
			a := types.NewAgentID()

			require.NoError(t, tracker.Connect(ctx, a))
			require.NoError(t, tracker.SetStatus(ctx, a, tt.status))
			clock.Advance(tt.idle)

			summary := sweeper.RunOnce(ctx)
			assert.Equal(t, 1, summary.Scanned)
			assert.Equal(t, tt.away, summary.Away)
			assert.Equal(t, tt.off, summary.Offline)
			assert.Zero(t, summary.Errors)

			status, err := tracker.GetStatus(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestSweeper_MissingActivityGoesOffline(t *testing.T) {
	tracker, sweeper, _ := setup(t)
	ctx := context.Background()
	a := types.NewAgentID()

	// status written without any activity record
	require.NoError(t, tracker.SetStatus(ctx, a, types.StatusOnline))

	summary := sweeper.RunOnce(ctx)
	assert.Equal(t, 1, summary.Offline)
}

func TestSweeper_EndToEnd(t *testing.T) {
	tracker, sweeper, clock := setup(t)
	ctx := context.Background()
	a1 := types.AgentID("a1")

	require.NoError(t, tracker.Connect(ctx, a1))
	for i := 0; i < 6; i++ {
		clock.Advance(30 * time.Second)
		_, err := tracker.Heartbeat(ctx, a1)
		require.NoError(t, err)

		summary := sweeper.RunOnce(ctx)
		require.Zero(t, summary.Away)
	}

	available, err := tracker.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentID{a1}, available)

	clock.Advance(6 * time.Minute)
	summary := sweeper.RunOnce(ctx)
	assert.Equal(t, 1, summary.Away)

	status, err := tracker.GetStatus(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAway, status)

	available, err = tracker.ListAvailable(ctx)
	require.NoError(t, err)
	assert.NotContains(t, available, a1)

	// a heartbeat brings the agent back
	_, err = tracker.Heartbeat(ctx, a1)
	require.NoError(t, err)
	available, err = tracker.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentID{a1}, available)
}

func TestSweeper_DefaultTTLReachesAwayThenOffline(t *testing.T) {
	tracker, sweeper, clock := setupShipped(t)
	ctx := context.Background()
	a1 := types.NewAgentID()

	require.NoError(t, tracker.Connect(ctx, a1))
	for i := 0; i < 6; i++ {
		clock.Advance(30 * time.Second)
		_, err := tracker.Heartbeat(ctx, a1)
		require.NoError(t, err)
	}

	// 6 minutes of silence is past the 300s record TTL
	clock.Advance(6 * time.Minute)
	summary := sweeper.RunOnce(ctx)
	assert.Equal(t, Summary{Scanned: 1, Away: 1}, summary)

	status, err := tracker.GetStatus(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAway, status)

	// the AWAY record lapses once silence reaches the offline threshold
	clock.Advance(4 * time.Minute)
	status, err = tracker.GetStatus(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, status)

	online, err := tracker.ListOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

// stubTracker lets tests inject failures and block the listing step
type stubTracker struct {
	online   []types.AgentID
	last     map[types.AgentID]time.Time
	status   map[types.AgentID]types.PresenceStatus
	failSet  map[types.AgentID]bool
	listErr  error
	block    chan struct{}
	entered  chan struct{}
	once     sync.Once
	mu       sync.Mutex
	setCalls []types.AgentID
}

func (s *stubTracker) ListOnline(ctx context.Context) ([]types.AgentID, error) {
	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	if s.block != nil {
		<-s.block
	}
	return s.online, s.listErr
}

func (s *stubTracker) LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error) {
	at, ok := s.last[id]
	return at, ok, nil
}

func (s *stubTracker) GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error) {
	return s.status[id], nil
}

func (s *stubTracker) SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error {
	s.mu.Lock()
	s.setCalls = append(s.setCalls, id)
	s.mu.Unlock()
	if s.failSet[id] {
		return presence.ErrStoreUnavailable
	}
	return nil
}

func TestSweeper_ErrorIsolation(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stub := &stubTracker{
		online: []types.AgentID{"a", "b", "c"},
		last: map[types.AgentID]time.Time{
			"a": now.Add(-11 * time.Minute),
			"b": now.Add(-11 * time.Minute),
			"c": now.Add(-6 * time.Minute),
		},
		status: map[types.AgentID]types.PresenceStatus{
			"a": types.StatusOnline,
			"b": types.StatusOnline,
			"c": types.StatusOnline,
		},
		failSet: map[types.AgentID]bool{"a": true},
	}
	sweeper := New(stub, defaultConfig, func() time.Time { return now }, zerolog.Nop())

	summary := sweeper.RunOnce(context.Background())
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Offline)
	assert.Equal(t, 1, summary.Away)
	assert.Equal(t, []types.AgentID{"a", "b", "c"}, stub.setCalls)
}

func TestSweeper_ListFailure(t *testing.T) {
	stub := &stubTracker{listErr: errors.New("down")}
	sweeper := New(stub, defaultConfig, nil, zerolog.Nop())

	summary := sweeper.RunOnce(context.Background())
	assert.Equal(t, 1, summary.Errors)
	assert.Zero(t, summary.Scanned)
}

func TestSweeper_SkipsOverlappingRun(t *testing.T) {
	stub := &stubTracker{
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	sweeper := New(stub, defaultConfig, nil, zerolog.Nop())

	done := make(chan Summary)
	go func() { done <- sweeper.RunOnce(context.Background()) }()
	<-stub.entered

	second := sweeper.RunOnce(context.Background())
	assert.True(t, second.Skipped)

	close(stub.block)
	first := <-done
	assert.False(t, first.Skipped)

	// guard is released after the run completes
	stub.entered = nil
	third := sweeper.RunOnce(context.Background())
	assert.False(t, third.Skipped)
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	stub := &stubTracker{}
	sweeper := New(stub, Config{
		Interval:         10 * time.Millisecond,
		AwayThreshold:    5 * time.Minute,
		OfflineThreshold: 10 * time.Minute,
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}

func TestSweeper_StartWaitsForInFlightSweep(t *testing.T) {
	stub := &stubTracker{
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	sweeper := New(stub, Config{
		Interval:         5 * time.Millisecond,
		AwayThreshold:    5 * time.Minute,
		OfflineThreshold: 10 * time.Minute,
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	<-stub.entered
	cancel()

	select {
	case <-done:
		t.Fatal("Start returned while a sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(stub.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after the sweep finished")
	}
}

// Package presence owns the per-agent presence state machine. It is the only
// writer of presence records and of the derived online/available/busy sets.
package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/event"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// ErrStoreUnavailable is returned (wrapped) whenever the shared store fails
var ErrStoreUnavailable = cache.ErrUnavailable

// DefaultTTL is the lifetime of a presence record without renewal
const DefaultTTL = 300 * time.Second

// Options configures a Tracker
type Options struct {
	TTL time.Duration

	// OfflineAfter is how long a silent agent stays visible before it reads
	// OFFLINE. Records live at least this long, so an idle agent can still be
	// demoted to AWAY first; an AWAY record lapses once it is reached.
	OfflineAfter time.Duration

	KeyPrefix string
	Now       func() time.Time
	Publisher event.Publisher
}

// Tracker is the single authority for agent presence status
type Tracker struct {
	store        cache.Store
	ttl          time.Duration
	offlineAfter time.Duration
	prefix       string
	now       func() time.Time
	publisher event.Publisher
	logger    zerolog.Logger
}

// NewTracker creates a tracker over store
func NewTracker(store cache.Store, opts Options, logger zerolog.Logger) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TTL < opts.OfflineAfter {
		opts.TTL = opts.OfflineAfter
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "presence"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = event.NopPublisher{}
	}
	return &Tracker{
		store:        store,
		ttl:          opts.TTL,
		offlineAfter: opts.OfflineAfter,
		prefix:       opts.KeyPrefix,
		now:          opts.Now,
		publisher:    opts.Publisher,
		logger:       logger.With().Str("component", "presence_tracker").Logger(),
	}
}

func (t *Tracker) statusKey(id types.AgentID) string {
	return t.prefix + ":status:" + string(id)
}

func (t *Tracker) activityKey(id types.AgentID) string {
	return t.prefix + ":activity:" + string(id)
}

func (t *Tracker) setKey(set types.PresenceSet) string {
	return t.prefix + ":set:" + string(set)
}

// Now returns the tracker's clock reading
func (t *Tracker) Now() time.Time {
	return t.now()
}

// SetStatus stores the agent's status and rewrites its set membership.
// Every step is attempted even if an earlier one fails; the joined error is
// returned and the whole call may be retried.
func (t *Tracker) SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid presence status %q", status)
	}

	previous, prevErr := t.GetStatus(ctx, id)

	var errs []error
	if status == types.StatusOffline {
		// absent record reads back as OFFLINE and fails the self-heal check
		if err := t.store.Del(ctx, t.statusKey(id)); err != nil {
			errs = append(errs, err)
		}
	} else if err := t.store.Set(ctx, t.statusKey(id), string(status), t.statusTTL(ctx, id, status)); err != nil {
		errs = append(errs, err)
	}

	for _, set := range types.AllSets {
		if err := t.store.RemoveFromSet(ctx, t.setKey(set), string(id)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, set := range types.SetsFor(status) {
		if err := t.store.AddToSet(ctx, t.setKey(set), string(id)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		metrics.Get().RecordStoreError()
		t.logger.Warn().
			Str("agent_id", string(id)).
			Str("status", string(status)).
			Int("failed_steps", len(errs)).
			Msg("presence status write incomplete")
		return fmt.Errorf("set status %s for %s: %w", status, id, errors.Join(errs...))
	}

	metrics.Get().RecordStatusChange(status)

	if prevErr == nil && previous != status {
		t.logger.Debug().
			Str("agent_id", string(id)).
			Str("from", string(previous)).
			Str("to", string(status)).
			Msg("presence changed")
		t.publish(ctx, types.PresenceChanged{
			Type:           types.EventPresenceChanged,
			SubjectID:      string(id),
			SubjectType:    types.SubjectCommercial,
			PreviousStatus: previous,
			NewStatus:      status,
			OccurredAt:     t.now(),
		})
	}
	return nil
}

// statusTTL is the record lifetime for a status write. An AWAY record
// expires when the agent's silence reaches OfflineAfter.
func (t *Tracker) statusTTL(ctx context.Context, id types.AgentID, status types.PresenceStatus) time.Duration {
	if status != types.StatusAway || t.offlineAfter <= 0 {
		return t.ttl
	}
	last, ok, err := t.LastActivity(ctx, id)
	if err != nil || !ok {
		return t.ttl
	}
	remaining := last.Add(t.offlineAfter).Sub(t.now())
	if remaining <= 0 || remaining > t.ttl {
		return t.ttl
	}
	return remaining
}

// GetStatus returns the stored status. A missing or expired record is OFFLINE.
func (t *Tracker) GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error) {
	raw, ok, err := t.store.Get(ctx, t.statusKey(id))
	if err != nil {
		metrics.Get().RecordStoreError()
		return types.StatusOffline, fmt.Errorf("get status for %s: %w", id, err)
	}
	if !ok {
		return types.StatusOffline, nil
	}
	status, err := types.ParseStatus(raw)
	if err != nil {
		t.logger.Warn().Str("agent_id", string(id)).Str("value", raw).Msg("unreadable presence status, treating as offline")
		return types.StatusOffline, nil
	}
	return status, nil
}

// TouchActivity records at as the agent's last activity and refreshes its TTL
func (t *Tracker) TouchActivity(ctx context.Context, id types.AgentID, at time.Time) error {
	value := at.UTC().Format(time.RFC3339Nano)
	if err := t.store.Set(ctx, t.activityKey(id), value, t.ttl); err != nil {
		metrics.Get().RecordStoreError()
		return fmt.Errorf("touch activity for %s: %w", id, err)
	}
	return nil
}

// LastActivity returns the agent's last recorded activity, if any
func (t *Tracker) LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error) {
	raw, ok, err := t.store.Get(ctx, t.activityKey(id))
	if err != nil {
		metrics.Get().RecordStoreError()
		return time.Time{}, false, fmt.Errorf("get activity for %s: %w", id, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.logger.Warn().Str("agent_id", string(id)).Str("value", raw).Msg("unreadable activity timestamp")
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// IsActive reports whether the agent was active within timeout
func (t *Tracker) IsActive(ctx context.Context, id types.AgentID, timeout time.Duration) (bool, error) {
	at, ok, err := t.LastActivity(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return t.now().Sub(at) < timeout, nil
}

// ListOnline returns agents in the online set that still have a live record
func (t *Tracker) ListOnline(ctx context.Context) ([]types.AgentID, error) {
	return t.list(ctx, types.SetOnline)
}

// ListAvailable returns online agents that are not busy
func (t *Tracker) ListAvailable(ctx context.Context) ([]types.AgentID, error) {
	return t.list(ctx, types.SetAvailable)
}

// ListBusy returns agents currently marked busy
func (t *Tracker) ListBusy(ctx context.Context) ([]types.AgentID, error) {
	return t.list(ctx, types.SetBusy)
}

// ListActive returns online agents active within timeout
func (t *Tracker) ListActive(ctx context.Context, timeout time.Duration) ([]types.AgentID, error) {
	online, err := t.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]types.AgentID, 0, len(online))
	for _, id := range online {
		ok, err := t.IsActive(ctx, id, timeout)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, id)
		}
	}
	return active, nil
}

// list reads a membership set and prunes members whose record has lapsed or
// whose current status no longer belongs to the set
func (t *Tracker) list(ctx context.Context, set types.PresenceSet) ([]types.AgentID, error) {
	members, err := t.store.Members(ctx, t.setKey(set))
	if err != nil {
		metrics.Get().RecordStoreError()
		return nil, fmt.Errorf("list %s: %w", set, err)
	}

	live := make([]types.AgentID, 0, len(members))
	pruned := 0
	for _, member := range members {
		id := types.AgentID(member)
		status, err := t.GetStatus(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", set, err)
		}
		if slices.Contains(types.SetsFor(status), set) {
			live = append(live, id)
			continue
		}

		if status == types.StatusOffline {
			err = t.prune(ctx, id)
		} else {
			err = t.store.RemoveFromSet(ctx, t.setKey(set), member)
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("agent_id", member).Msg("failed to prune stale presence member")
		}
		pruned++
	}

	if pruned > 0 {
		metrics.Get().RecordSelfHeal(pruned)
		t.logger.Debug().Str("set", string(set)).Int("pruned", pruned).Msg("pruned stale presence members")
	}

	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live, nil
}

// prune removes id from every membership set
func (t *Tracker) prune(ctx context.Context, id types.AgentID) error {
	var errs []error
	for _, set := range types.AllSets {
		if err := t.store.RemoveFromSet(ctx, t.setKey(set), string(id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect marks the agent active now and ONLINE
func (t *Tracker) Connect(ctx context.Context, id types.AgentID) error {
	if err := t.TouchActivity(ctx, id, t.now()); err != nil {
		return err
	}
	return t.SetStatus(ctx, id, types.StatusOnline)
}

// Heartbeat refreshes the agent's activity. An AWAY agent comes back ONLINE;
// ONLINE and BUSY are rewritten to renew the record TTL. OFFLINE agents must
// connect again.
func (t *Tracker) Heartbeat(ctx context.Context, id types.AgentID) (types.PresenceStatus, error) {
	metrics.Get().RecordHeartbeat()

	if err := t.TouchActivity(ctx, id, t.now()); err != nil {
		return types.StatusOffline, err
	}

	status, err := t.GetStatus(ctx, id)
	if err != nil {
		return status, err
	}

	switch status {
	case types.StatusAway:
		status = types.StatusOnline
	case types.StatusOffline:
		return status, nil
	}
	if err := t.SetStatus(ctx, id, status); err != nil {
		return status, err
	}
	return status, nil
}

// Disconnect marks the agent OFFLINE
func (t *Tracker) Disconnect(ctx context.Context, id types.AgentID) error {
	return t.SetStatus(ctx, id, types.StatusOffline)
}

// Snapshot returns the current online, available and busy lists
func (t *Tracker) Snapshot(ctx context.Context) (online, available, busy []types.AgentID, err error) {
	if online, err = t.ListOnline(ctx); err != nil {
		return nil, nil, nil, err
	}
	if available, err = t.ListAvailable(ctx); err != nil {
		return nil, nil, nil, err
	}
	if busy, err = t.ListBusy(ctx); err != nil {
		return nil, nil, nil, err
	}
	return online, available, busy, nil
}

// publish emits a domain event; handler failures are logged only
func (t *Tracker) publish(ctx context.Context, e event.Event) {
	if err := t.publisher.Publish(ctx, e); err != nil {
		t.logger.Warn().Err(err).Str("event", e.EventName()).Msg("event handler failed")
	}
}

// Package aggregator periodically publishes the presence sets to dashboards.
package aggregator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/alerts"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// Snapshotter reads the three presence sets in one call
type Snapshotter interface {
	Snapshot(ctx context.Context) (online, available, busy []types.AgentID, err error)
}

// ActivityReader reads an agent's last recorded activity
type ActivityReader interface {
	LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error)
}

// Broadcaster delivers a message to every dashboard
type Broadcaster interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Aggregator turns presence sets into dashboard snapshots
type Aggregator struct {
	presence Snapshotter
	hub      Broadcaster
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	// Optional heartbeat alerting
	activity   ActivityReader
	thresholds alerts.Thresholds
}

// NewAggregator creates a new aggregator
func NewAggregator(presence Snapshotter, hub Broadcaster, interval time.Duration, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Aggregator{
		presence: presence,
		hub:      hub,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// WithAlerts attaches heartbeat alerts for online agents to every snapshot
func (a *Aggregator) WithAlerts(activity ActivityReader, thresholds alerts.Thresholds) *Aggregator {
	a.activity = activity
	a.thresholds = thresholds
	return a
}

// Start broadcasts a snapshot every interval until ctx is cancelled
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("presence snapshot failed")
			}
		}
	}
}

// Tick reads the presence sets once, refreshes the gauges and broadcasts the
// snapshot. The broadcast is skipped when no dashboard is connected.
func (a *Aggregator) Tick(ctx context.Context) error {
	online, available, busy, err := a.presence.Snapshot(ctx)
	if err != nil {
		metrics.Get().RecordStoreError()
		return err
	}

	metrics.Get().UpdatePresenceStats(len(online), len(available), len(busy))

	if a.hub.ClientCount() == 0 {
		return nil
	}

	now := a.now()
	agentAlerts, err := a.checkAlerts(ctx, online, now)
	if err != nil {
		metrics.Get().RecordStoreError()
		return err
	}

	data, err := json.Marshal(types.PresenceSnapshot{
		Type:      types.MsgSnapshot,
		Timestamp: now,
		Online:    nonNil(online),
		Available: nonNil(available),
		Busy:      nonNil(busy),
		Alerts:    agentAlerts,
	})
	if err != nil {
		return err
	}
	a.hub.Broadcast(data)

	a.logger.Debug().
		Int("online", len(online)).
		Int("available", len(available)).
		Int("busy", len(busy)).
		Int("alerts", len(agentAlerts)).
		Int("clients", a.hub.ClientCount()).
		Msg("snapshot broadcasted")
	return nil
}

func (a *Aggregator) checkAlerts(ctx context.Context, online []types.AgentID, now time.Time) ([]types.AgentAlert, error) {
	if a.activity == nil {
		return []types.AgentAlert{}, nil
	}
	activity := make(map[types.AgentID]time.Time, len(online))
	for _, id := range online {
		last, ok, err := a.activity.LastActivity(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			activity[id] = last
		}
	}
	return alerts.CheckHeartbeats(online, activity, now, a.thresholds), nil
}

func nonNil(ids []types.AgentID) []types.AgentID {
	if ids == nil {
		return []types.AgentID{}
	}
	return ids
}

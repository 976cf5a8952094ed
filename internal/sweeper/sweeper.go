// Package sweeper periodically demotes idle agents: ONLINE agents idle past
// the away threshold become AWAY and any listed agent idle past the offline
// threshold becomes OFFLINE.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// Tracker is the subset of the presence tracker the sweeper drives
type Tracker interface {
	ListOnline(ctx context.Context) ([]types.AgentID, error)
	LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error)
	GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error)
	SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error
}

// Config holds the sweep thresholds
type Config struct {
	Interval         time.Duration
	AwayThreshold    time.Duration
	OfflineThreshold time.Duration
}

// Summary reports what one sweep did
type Summary struct {
	Scanned int
	Away    int
	Offline int
	Errors  int
	Skipped bool
}

// Sweeper runs the inactivity sweep on a fixed interval
type Sweeper struct {
	tracker Tracker
	cfg     Config
	now     func() time.Time
	running atomic.Bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// New creates a sweeper. now defaults to time.Now.
func New(tracker Tracker, cfg Config, now func() time.Time, logger zerolog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		tracker: tracker,
		cfg:     cfg,
		now:     now,
		logger:  logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs a sweep every interval until ctx is cancelled. It returns only
// after an in-flight sweep has finished.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("away_threshold", s.cfg.AwayThreshold).
		Dur("offline_threshold", s.cfg.OfflineThreshold).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("sweeper stopped")
			return

		case <-ticker.C:
			// a slow sweep must not hold up the tick loop
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.RunOnce(ctx)
			}()
		}
	}
}

// RunOnce performs a single sweep. If another sweep is still in flight it
// returns immediately with Skipped set.
func (s *Sweeper) RunOnce(ctx context.Context) Summary {
	if !s.running.CompareAndSwap(false, true) {
		metrics.Get().RecordSweepSkipped()
		s.logger.Warn().Msg("previous sweep still running, skipping tick")
		return Summary{Skipped: true}
	}
	defer s.running.Store(false)

	start := time.Now()
	var summary Summary

	online, err := s.tracker.ListOnline(ctx)
	if err != nil {
		summary.Errors++
		s.logger.Error().Err(err).Msg("failed to list online agents")
		metrics.Get().RecordSweep(time.Since(start), 0, 0, summary.Errors)
		return summary
	}

	now := s.now()
	for _, id := range online {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++

		target, err := s.evaluate(ctx, id, now)
		if err != nil {
			summary.Errors++
			s.logger.Warn().Err(err).Str("agent_id", string(id)).Msg("failed to evaluate agent")
			continue
		}
		if target == "" {
			continue
		}

		if err := s.tracker.SetStatus(ctx, id, target); err != nil {
			summary.Errors++
			s.logger.Warn().Err(err).
				Str("agent_id", string(id)).
				Str("target", string(target)).
				Msg("failed to apply sweep transition")
			continue
		}

		switch target {
		case types.StatusAway:
			summary.Away++
		case types.StatusOffline:
			summary.Offline++
		}
	}

	duration := time.Since(start)
	metrics.Get().RecordSweep(duration, summary.Away, summary.Offline, summary.Errors)

	s.logger.Info().
		Int("scanned", summary.Scanned).
		Int("away", summary.Away).
		Int("offline", summary.Offline).
		Int("errors", summary.Errors).
		Dur("duration", duration).
		Msg("sweep completed")

	return summary
}

// evaluate returns the status the agent should be forced into, or "" for none
func (s *Sweeper) evaluate(ctx context.Context, id types.AgentID, now time.Time) (types.PresenceStatus, error) {
	last, ok, err := s.tracker.LastActivity(ctx, id)
	if err != nil {
		return "", err
	}

	// no activity record left means the liveness signal lapsed entirely
	elapsed := s.cfg.OfflineThreshold
	if ok {
		elapsed = now.Sub(last)
	}

	if elapsed >= s.cfg.OfflineThreshold {
		return types.StatusOffline, nil
	}
	if elapsed < s.cfg.AwayThreshold {
		return "", nil
	}

	status, err := s.tracker.GetStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if status != types.StatusOnline {
		return "", nil
	}
	return types.StatusAway, nil
}

package ingestion

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// PresenceCommands is the write side of the presence tracker
type PresenceCommands interface {
	Connect(ctx context.Context, id types.AgentID) error
	Heartbeat(ctx context.Context, id types.AgentID) (types.PresenceStatus, error)
	SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error
	TouchActivity(ctx context.Context, id types.AgentID, at time.Time) error
	Disconnect(ctx context.Context, id types.AgentID) error
	Now() time.Time
}

// DefaultProcessor implements EventProcessor by delegating to the presence tracker.
// Every call gets its own bounded context.
type DefaultProcessor struct {
	tracker PresenceCommands
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(tracker PresenceCommands, timeout time.Duration, logger zerolog.Logger) *DefaultProcessor {
	if timeout <= 0 {
		timeout = cache.DefaultTimeout
	}
	return &DefaultProcessor{
		tracker: tracker,
		timeout: timeout,
		logger:  logger.With().Str("component", "processor").Logger(),
	}
}

func (p *DefaultProcessor) ProcessRegister(reg *types.AgentRegister) (types.PresenceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.tracker.Connect(ctx, reg.AgentID); err != nil {
		p.logger.Warn().Err(err).Str("agent_id", string(reg.AgentID)).Msg("register failed")
		return types.StatusOffline, err
	}

	p.logger.Debug().
		Str("agent_id", string(reg.AgentID)).
		Msg("agent registered via processor")
	return types.StatusOnline, nil
}

func (p *DefaultProcessor) ProcessHeartbeat(hb *types.AgentHeartbeat) (types.PresenceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	status, err := p.tracker.Heartbeat(ctx, hb.AgentID)
	if err != nil {
		p.logger.Warn().Err(err).Str("agent_id", string(hb.AgentID)).Msg("heartbeat failed")
	}
	return status, err
}

func (p *DefaultProcessor) ProcessStatusChange(sc *types.AgentStatusChange) (types.PresenceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// an explicit status change is activity too, stamped by the server clock
	if err := p.tracker.TouchActivity(ctx, sc.AgentID, p.tracker.Now()); err != nil {
		p.logger.Warn().Err(err).Str("agent_id", string(sc.AgentID)).Msg("status change failed")
		return types.StatusOffline, err
	}
	if err := p.tracker.SetStatus(ctx, sc.AgentID, sc.Status); err != nil {
		p.logger.Warn().Err(err).Str("agent_id", string(sc.AgentID)).Msg("status change failed")
		return types.StatusOffline, err
	}

	p.logger.Debug().
		Str("agent_id", string(sc.AgentID)).
		Str("new_status", string(sc.Status)).
		Msg("agent status change via processor")
	return sc.Status, nil
}

func (p *DefaultProcessor) ProcessDisconnect(dc *types.AgentDisconnect) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.tracker.Disconnect(ctx, dc.AgentID); err != nil {
		p.logger.Warn().Err(err).Str("agent_id", string(dc.AgentID)).Msg("disconnect failed")
		return err
	}

	p.logger.Debug().
		Str("agent_id", string(dc.AgentID)).
		Str("reason", dc.Reason).
		Msg("agent disconnected via processor")
	return nil
}

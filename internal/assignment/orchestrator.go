// Package assignment coordinates automatic assignment of a pending
// conversation to the best live agent.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/event"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/routing"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxWaitSeconds is used when criteria leave maxWaitTimeSeconds unset
	DefaultMaxWaitSeconds = 300

	// DefaultMaxChats is the capacity of an agent without a profile
	DefaultMaxChats = 5

	// DefaultOnlineWindow is how recent an agent's activity must be to count as online
	DefaultOnlineWindow = 10 * time.Minute
)

// ConversationRepository loads and persists conversations
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (types.Conversation, error)
	SaveConversation(ctx context.Context, conv types.Conversation) error
	CountActiveByCommercial(ctx context.Context, agentID types.AgentID) (int, error)
}

// ProfileSource provides per-agent capacity, skills and priority
type ProfileSource interface {
	GetAgentProfile(ctx context.Context, agentID types.AgentID) (types.AgentProfile, error)
}

// Presence is the subset of the presence tracker the orchestrator reads and writes
type Presence interface {
	GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error)
	LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error)
	SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error
}

// Options tunes the orchestrator
type Options struct {
	DefaultMaxWaitSeconds int
	DefaultMaxChats       int
	OnlineWindow          time.Duration
	Now                   func() time.Time
	Publisher             event.Publisher
}

// Orchestrator runs the auto-assignment use case
type Orchestrator struct {
	conversations ConversationRepository
	profiles      ProfileSource
	presence      Presence
	selector      *routing.Selector
	opts          Options
	logger        zerolog.Logger
}

// NewOrchestrator wires an orchestrator
func NewOrchestrator(
	conversations ConversationRepository,
	profiles ProfileSource,
	presence Presence,
	selector *routing.Selector,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.DefaultMaxWaitSeconds <= 0 {
		opts.DefaultMaxWaitSeconds = DefaultMaxWaitSeconds
	}
	if opts.DefaultMaxChats <= 0 {
		opts.DefaultMaxChats = DefaultMaxChats
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = DefaultOnlineWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = event.NopPublisher{}
	}
	if selector == nil {
		selector = routing.NewSelector()
	}
	return &Orchestrator{
		conversations: conversations,
		profiles:      profiles,
		presence:      presence,
		selector:      selector,
		opts:          opts,
		logger:        logger.With().Str("component", "auto_assignment").Logger(),
	}
}

// AutoAssign assigns the conversation to the best live candidate. Every
// failure is returned as an *Error carrying its Kind.
func (o *Orchestrator) AutoAssign(ctx context.Context, conversationID string, criteria *types.AssignmentCriteria) (types.AssignmentResult, error) {
	result, err := o.autoAssign(ctx, conversationID, criteria)
	if err != nil {
		kind := KindOf(err)
		metrics.Get().RecordAssignmentFailure(string(kind))
		o.logger.Info().
			Str("conversation_id", conversationID).
			Str("kind", string(kind)).
			Err(err).
			Msg("auto-assignment failed")
		return types.AssignmentResult{}, err
	}

	metrics.Get().RecordAssignment(result.Strategy)
	o.logger.Info().
		Str("conversation_id", conversationID).
		Str("agent_id", string(result.CommercialID)).
		Str("strategy", string(result.Strategy)).
		Float64("score", result.Score).
		Msg("conversation assigned")
	return result, nil
}

func (o *Orchestrator) autoAssign(ctx context.Context, conversationID string, criteria *types.AssignmentCriteria) (types.AssignmentResult, error) {
	c, err := o.resolveCriteria(criteria)
	if err != nil {
		return types.AssignmentResult{}, newError(KindInvalidCriteria, conversationID, err.Error(), err)
	}

	conv, err := o.load(ctx, conversationID)
	if err != nil {
		return types.AssignmentResult{}, err
	}
	if !conv.CanBeAssigned() {
		return types.AssignmentResult{}, newError(KindConversationNotAssignable, conversationID,
			fmt.Sprintf("conversation is %s", conv.Status), nil)
	}

	candidates, err := o.candidates(ctx, conv)
	if err != nil {
		return types.AssignmentResult{}, err
	}
	if len(candidates) == 0 {
		return types.AssignmentResult{}, newError(KindNoCommercialAvailable, conversationID,
			fmt.Sprintf("none of %d listed commercials is online", len(conv.AvailableCommercialIDs)), nil)
	}

	result, err := o.selector.Select(candidates, c)
	switch {
	case errors.Is(err, routing.ErrNoEligibleCommercial):
		return types.AssignmentResult{}, newError(KindNoEligibleCommercial, conversationID,
			"no online commercial matches skills and capacity", err)
	case errors.Is(err, routing.ErrNoCandidates):
		return types.AssignmentResult{}, newError(KindNoCommercialAvailable, conversationID, "no candidates", err)
	case err != nil:
		return types.AssignmentResult{}, newError(KindInvalidCriteria, conversationID, err.Error(), err)
	}

	o.logRanking(conversationID, candidates, c)

	if err := o.commit(ctx, conv, result.CommercialID); err != nil {
		return types.AssignmentResult{}, err
	}

	o.markBusyIfFull(ctx, result.CommercialID, candidates)

	if err := o.opts.Publisher.Publish(ctx, types.AgentAssigned{
		Type:           types.EventAgentAssigned,
		ConversationID: conversationID,
		AgentID:        result.CommercialID,
		Strategy:       result.Strategy,
		Score:          result.Score,
		OccurredAt:     o.opts.Now(),
	}); err != nil {
		o.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("agent_assigned handler failed")
	}

	return result, nil
}

func (o *Orchestrator) resolveCriteria(criteria *types.AssignmentCriteria) (types.AssignmentCriteria, error) {
	c := types.AssignmentCriteria{}
	if criteria != nil {
		c = *criteria
	}
	strategy, err := types.ParseStrategy(string(c.Strategy))
	if err != nil {
		return c, err
	}
	c.Strategy = strategy
	if c.MaxWaitTimeSeconds < 0 {
		return c, fmt.Errorf("maxWaitTimeSeconds must not be negative, got %d", c.MaxWaitTimeSeconds)
	}
	if c.MaxWaitTimeSeconds == 0 {
		c.MaxWaitTimeSeconds = o.opts.DefaultMaxWaitSeconds
	}
	return c, nil
}

func (o *Orchestrator) load(ctx context.Context, conversationID string) (types.Conversation, error) {
	conv, err := o.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return conv, newError(KindConversationNotFound, conversationID, "conversation does not exist", err)
	}
	if err != nil {
		return conv, newError(KindRepositoryUnavailable, conversationID, "failed to load conversation", err)
	}
	return conv, nil
}

// candidates builds a fresh snapshot for every listed agent that is live
func (o *Orchestrator) candidates(ctx context.Context, conv types.Conversation) ([]types.CommercialInfo, error) {
	seen := make(map[types.AgentID]struct{}, len(conv.AvailableCommercialIDs))
	candidates := make([]types.CommercialInfo, 0, len(conv.AvailableCommercialIDs))
	now := o.opts.Now()

	for _, id := range conv.AvailableCommercialIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		status, err := o.presence.GetStatus(ctx, id)
		if err != nil {
			return nil, o.presenceError(conv.ID, err)
		}
		if !status.Reachable() {
			continue
		}
		last, ok, err := o.presence.LastActivity(ctx, id)
		if err != nil {
			return nil, o.presenceError(conv.ID, err)
		}
		if !ok || now.Sub(last) >= o.opts.OnlineWindow {
			continue
		}

		current, err := o.conversations.CountActiveByCommercial(ctx, id)
		if err != nil {
			return nil, newError(KindRepositoryUnavailable, conv.ID, "failed to count workload", err)
		}

		info := types.CommercialInfo{
			ID:           id,
			IsOnline:     true,
			CurrentChats: current,
			MaxChats:     o.opts.DefaultMaxChats,
			LastActivity: &last,
		}
		profile, err := o.profiles.GetAgentProfile(ctx, id)
		switch {
		case err == nil:
			info.MaxChats = profile.MaxChats
			info.Skills = profile.Skills
			info.Priority = profile.Priority
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, newError(KindRepositoryUnavailable, conv.ID, "failed to load agent profile", err)
		}

		candidates = append(candidates, info)
	}
	return candidates, nil
}

// logRanking records the full candidate order at debug level
func (o *Orchestrator) logRanking(conversationID string, candidates []types.CommercialInfo, criteria types.AssignmentCriteria) {
	e := o.logger.Debug()
	if !e.Enabled() {
		return
	}
	ranked, err := o.selector.Rank(candidates, criteria)
	if err != nil {
		e.Discard()
		return
	}
	order := make([]string, len(ranked))
	for i, c := range ranked {
		order[i] = fmt.Sprintf("%s(%d/%d)", c.ID, c.CurrentChats, c.MaxChats)
	}
	e.Str("conversation_id", conversationID).
		Str("strategy", string(criteria.Strategy)).
		Int("candidates", len(candidates)).
		Strs("ranking", order).
		Msg("candidates ranked")
}

func (o *Orchestrator) presenceError(conversationID string, err error) error {
	return newError(KindPresenceStoreUnavailable, conversationID, "presence lookup failed", err)
}

// commit persists the assignment. A lost optimistic race re-reads the
// conversation so a concurrent winner surfaces as not assignable.
func (o *Orchestrator) commit(ctx context.Context, conv types.Conversation, agentID types.AgentID) error {
	next, err := conv.Assign(agentID, o.opts.Now())
	if err != nil {
		return newError(KindConversationNotAssignable, conv.ID, err.Error(), err)
	}

	err = o.conversations.SaveConversation(ctx, next)
	if err == nil {
		return nil
	}

	if errors.Is(err, storage.ErrVersionConflict) {
		current, getErr := o.conversations.GetConversation(ctx, conv.ID)
		if getErr == nil && !current.CanBeAssigned() {
			return newError(KindConversationNotAssignable, conv.ID,
				fmt.Sprintf("conversation was assigned concurrently to %s", current.CommercialID), err)
		}
	}
	return newError(KindPersistenceFailed, conv.ID, "failed to save assignment", err)
}

// markBusyIfFull moves an agent that just reached capacity to BUSY
func (o *Orchestrator) markBusyIfFull(ctx context.Context, agentID types.AgentID, candidates []types.CommercialInfo) {
	for _, c := range candidates {
		if c.ID != agentID {
			continue
		}
		if c.CurrentChats+1 < c.MaxChats {
			return
		}
		if err := o.presence.SetStatus(ctx, agentID, types.StatusBusy); err != nil {
			o.logger.Warn().Err(err).Str("agent_id", string(agentID)).Msg("failed to mark agent busy at capacity")
		}
		return
	}
}

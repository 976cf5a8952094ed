// Package storage persists conversations and agent routing profiles.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a conversation or profile does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a conversation whose id is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict is returned when a save races with another writer
	ErrVersionConflict = errors.New("version conflict")
)

// Store defines the storage interface
type Store interface {
	// CreateConversation inserts a new conversation
	CreateConversation(ctx context.Context, conv types.Conversation) error

	// GetConversation returns ErrNotFound if the id is unknown
	GetConversation(ctx context.Context, id string) (types.Conversation, error)

	// SaveConversation replaces the stored conversation only if the stored
	// version is conv.Version-1; otherwise it returns ErrVersionConflict
	SaveConversation(ctx context.Context, conv types.Conversation) error

	// CountActiveByCommercial counts ASSIGNED and ACTIVE conversations of an agent
	CountActiveByCommercial(ctx context.Context, agentID types.AgentID) (int, error)

	SaveAgentProfile(ctx context.Context, profile types.AgentProfile) error
	GetAgentProfile(ctx context.Context, agentID types.AgentID) (types.AgentProfile, error)
	ListAgentProfiles(ctx context.Context) ([]types.AgentProfile, error)

	Close() error
}

// countsTowardWorkload reports whether a conversation occupies its agent
func countsTowardWorkload(status types.ConversationStatus) bool {
	return status == types.ConversationAssigned || status == types.ConversationActive
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadConfig()

	switch cfg.Mode {
	case ModeLocal, ModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	case ModeSQLite:
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case ModeNone:
		logger.Info().Msg("persistent storage disabled (STORAGE_MODE=none), using memory store")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage mode %q", cfg.Mode)
}

package ingestion

import (
	"context"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// EventProcessor applies presence messages from any source (agent websocket, simulator, HTTP)
type EventProcessor interface {
	ProcessRegister(reg *types.AgentRegister) (types.PresenceStatus, error)
	ProcessHeartbeat(hb *types.AgentHeartbeat) (types.PresenceStatus, error)
	ProcessStatusChange(sc *types.AgentStatusChange) (types.PresenceStatus, error)
	ProcessDisconnect(dc *types.AgentDisconnect) error
}

// EventSource represents a source of agent events (AgentHub, external adapters)
type EventSource interface {
	// Run receives events and forwards them to the processor until ctx is done
	Run(ctx context.Context)

	// SendToAgent sends a message to a specific agent by ID
	SendToAgent(agentID types.AgentID, message []byte) bool

	// AgentCount returns the number of connected agents
	AgentCount() int
}

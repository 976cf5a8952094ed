package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/monti/presence/internal/event"
	"github.com/dennisdiepolder/monti/presence/internal/ingestion"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

var _ ingestion.EventSource = (*AgentHub)(nil)

// agentRequest carries one decoded message together with the client that sent it
type agentRequest struct {
	client *AgentClient
	msg    any // *types.AgentRegister, *types.AgentHeartbeat or *types.AgentStatusChange
}

// AgentHub maintains the set of registered agent WebSocket connections and
// serialises their presence messages through the event processor
type AgentHub struct {
	// Registered agent clients
	agents map[types.AgentID]*AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Decoded messages from agents
	inbound chan agentRequest

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect agents map
	mu sync.RWMutex

	logger zerolog.Logger

	// Event processor (applies presence changes)
	processor ingestion.EventProcessor
}

// NewAgentHub creates a new AgentHub
func NewAgentHub(processor ingestion.EventProcessor, logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:     make(map[types.AgentID]*AgentClient),
		unregister: make(chan *AgentClient, 64),
		inbound:    make(chan agentRequest, 1000),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "agent_hub").Logger(),
		processor:  processor,
	}
}

// Run starts the hub's main loop
func (h *AgentHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.unregister:
			h.handleUnregister(client)

		case req := <-h.inbound:
			switch msg := req.msg.(type) {
			case *types.AgentRegister:
				h.handleRegister(req.client, msg)
			case *types.AgentHeartbeat:
				status, err := h.processor.ProcessHeartbeat(msg)
				h.reply(req.client, status, err)
			case *types.AgentStatusChange:
				status, err := h.processor.ProcessStatusChange(msg)
				h.reply(req.client, status, err)
			}
		}
	}
}

func (h *AgentHub) handleRegister(client *AgentClient, reg *types.AgentRegister) {
	h.mu.Lock()
	// Remove existing client with same agentID if any
	if existing, ok := h.agents[reg.AgentID]; ok && existing != client {
		existing.Close()
	}
	h.agents[reg.AgentID] = client
	total := len(h.agents)
	h.mu.Unlock()

	metrics.Get().RecordAgentConnect()
	status, err := h.processor.ProcessRegister(reg)
	h.reply(client, status, err)

	h.logger.Debug().
		Str("agent_id", string(reg.AgentID)).
		Int("total_agents", total).
		Msg("agent connected")
}

func (h *AgentHub) handleUnregister(client *AgentClient) {
	h.mu.Lock()
	existing, ok := h.agents[client.agentID]
	current := ok && existing == client
	if current {
		delete(h.agents, client.agentID)
	}
	total := len(h.agents)
	h.mu.Unlock()

	client.Close()
	if !current {
		return
	}

	metrics.Get().RecordAgentDisconnect()
	_ = h.processor.ProcessDisconnect(&types.AgentDisconnect{AgentID: client.agentID, Reason: "connection closed"})

	h.logger.Debug().
		Str("agent_id", string(client.agentID)).
		Int("total_agents", total).
		Msg("agent disconnected")
}

// reply acknowledges a processed message or reports why it failed
func (h *AgentHub) reply(client *AgentClient, status types.PresenceStatus, err error) {
	var msg any = types.ServerAck{Type: types.MsgAck, AgentID: client.agentID, Status: status}
	if err != nil {
		msg = types.ServerError{Type: types.MsgError, Message: err.Error()}
	}
	if data, err := json.Marshal(msg); err == nil {
		client.safeSend(data)
	}
}

// ForceDisconnect sends a force_disconnect message to the agent, then closes the connection
func (h *AgentHub) ForceDisconnect(agentID types.AgentID) bool {
	msg := types.ForceDisconnect{
		Type:    types.MsgForceDisconnect,
		AgentID: agentID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal force_disconnect")
		return false
	}

	// Send the message first
	h.SendToAgent(agentID, data)

	h.mu.Lock()
	client, ok := h.agents[agentID]
	if ok {
		delete(h.agents, agentID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
		metrics.Get().RecordAgentDisconnect()
		_ = h.processor.ProcessDisconnect(&types.AgentDisconnect{AgentID: agentID, Reason: "forced"})
		h.logger.Info().Str("agent_id", string(agentID)).Msg("agent force-disconnected")
	}
	return ok
}

// NotifyAssigned forwards an AgentAssigned event to the agent's connection.
// It has the event.Handler signature so it can be subscribed directly.
func (h *AgentHub) NotifyAssigned(ctx context.Context, e event.Event) error {
	assigned, ok := e.(types.AgentAssigned)
	if !ok {
		return nil
	}
	data, err := json.Marshal(types.ConversationAssignedMsg{
		Type:           types.MsgAssigned,
		ConversationID: assigned.ConversationID,
		AgentID:        assigned.AgentID,
		Strategy:       assigned.Strategy,
		Timestamp:      assigned.OccurredAt,
	})
	if err != nil {
		return err
	}
	if !h.SendToAgent(assigned.AgentID, data) {
		h.logger.Debug().Str("agent_id", string(assigned.AgentID)).Msg("assigned agent not connected")
	}
	return nil
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// SendToAgent sends a message to a specific agent
func (h *AgentHub) SendToAgent(agentID types.AgentID, message []byte) bool {
	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	return client.safeSend(message)
}

// closeAll closes every agent connection on shutdown without marking agents
// offline; their records lapse through the TTL if they do not reconnect
func (h *AgentHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.agents {
		client.Close()
		delete(h.agents, id)
	}
	h.logger.Info().Msg("agent hub stopped")
}

package types

import "time"

const (
	EventPresenceChanged = "presence_changed"
	EventAgentAssigned   = "agent_assigned"
)

// SubjectType identifies what kind of participant a presence event is about
type SubjectType string

const (
	SubjectCommercial SubjectType = "commercial"
	SubjectVisitor    SubjectType = "visitor"
)

// PresenceChanged is emitted whenever an agent's stored status changes
type PresenceChanged struct {
	Type           string         `json:"type"` // "presence_changed"
	SubjectID      string         `json:"subjectId"`
	SubjectType    SubjectType    `json:"subjectType"`
	PreviousStatus PresenceStatus `json:"previousStatus"`
	NewStatus      PresenceStatus `json:"newStatus"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

func (PresenceChanged) EventName() string { return EventPresenceChanged }

// AgentAssigned is emitted once a conversation has been assigned and persisted
type AgentAssigned struct {
	Type           string             `json:"type"` // "agent_assigned"
	ConversationID string             `json:"conversationId"`
	AgentID        AgentID            `json:"agentId"`
	Strategy       AssignmentStrategy `json:"strategy"`
	Score          float64            `json:"score"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

func (AgentAssigned) EventName() string { return EventAgentAssigned }

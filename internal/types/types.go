package types

import "time"

// Wire message types exchanged with agent clients over /ws/agent
const (
	MsgRegister        = "register"
	MsgHeartbeat       = "heartbeat"
	MsgStatusChange    = "status_change"
	MsgAck             = "ack"
	MsgError           = "error"
	MsgForceDisconnect = "force_disconnect"
	MsgAssigned        = "conversation_assigned"
	MsgSnapshot        = "presence_snapshot"
)

// AgentRegister is sent when an agent first connects
type AgentRegister struct {
	Type    string  `json:"type"` // "register"
	AgentID AgentID `json:"agentId"`
}

// AgentHeartbeat is sent from agent to backend periodically
type AgentHeartbeat struct {
	Type      string    `json:"type"` // "heartbeat"
	AgentID   AgentID   `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStatusChange is sent from agent to backend on an explicit status change
type AgentStatusChange struct {
	Type      string         `json:"type"` // "status_change"
	AgentID   AgentID        `json:"agentId"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// AgentDisconnect is produced by the hub when an agent connection goes away
type AgentDisconnect struct {
	AgentID AgentID
	Reason  string
}

// ServerAck is sent from backend to agent as acknowledgment
type ServerAck struct {
	Type    string         `json:"type"` // "ack"
	AgentID AgentID        `json:"agentId"`
	Status  PresenceStatus `json:"status,omitempty"`
}

// ServerError is sent from backend to agent when a message could not be applied
type ServerError struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// ForceDisconnect is sent from backend to agent to force logout
type ForceDisconnect struct {
	Type    string  `json:"type"` // "force_disconnect"
	AgentID AgentID `json:"agentId"`
}

// ConversationAssignedMsg notifies a connected agent that a conversation was routed to them
type ConversationAssignedMsg struct {
	Type           string             `json:"type"` // "conversation_assigned"
	ConversationID string             `json:"conversationId"`
	AgentID        AgentID            `json:"agentId"`
	Strategy       AssignmentStrategy `json:"strategy"`
	Timestamp      time.Time          `json:"timestamp"`
}

// PresenceSnapshot is broadcast to dashboards on every snapshot tick
type PresenceSnapshot struct {
	Type      string    `json:"type"` // "presence_snapshot"
	Timestamp time.Time `json:"timestamp"`
	Online    []AgentID `json:"online"`
	Available []AgentID `json:"available"`
	Busy      []AgentID `json:"busy"`

	// Heartbeat alerts for online agents; empty when no alert rules are configured
	Alerts []AgentAlert `json:"alerts"`
}

// AlertSeverity represents the severity of an agent alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AgentAlert flags an online agent that needs a supervisor's attention
type AgentAlert struct {
	AgentID  AgentID       `json:"agentId"`
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentID identifies a commercial agent
type AgentID string

// ParseAgentID validates that s is a UUID and returns it in canonical form
func ParseAgentID(s string) (AgentID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid agent id %q: %w", s, err)
	}
	return AgentID(id.String()), nil
}

// NewAgentID generates a random agent identifier
func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

func (id AgentID) String() string { return string(id) }

// PresenceStatus represents the reachability of an agent
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusBusy    PresenceStatus = "BUSY"
	StatusAway    PresenceStatus = "AWAY"
	StatusOffline PresenceStatus = "OFFLINE"
)

// AllStatuses lists every valid presence status
var AllStatuses = []PresenceStatus{
	StatusOnline,
	StatusBusy,
	StatusAway,
	StatusOffline,
}

// ParseStatus converts a string into a PresenceStatus, rejecting unknown values.
// Matching is case-insensitive.
func ParseStatus(s string) (PresenceStatus, error) {
	status := PresenceStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid presence status %q", s)
	}
	return status, nil
}

// Valid reports whether the status is one of the known values
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}

// Reachable reports whether an agent in this status belongs to the online set
func (s PresenceStatus) Reachable() bool {
	return s == StatusOnline || s == StatusBusy
}

// PresenceRecord is the per-agent presence state held in the shared cache
type PresenceRecord struct {
	AgentID        AgentID        `json:"agentId"`
	Status         PresenceStatus `json:"status"`
	LastActivityAt *time.Time     `json:"lastActivityAt,omitempty"`
}

// PresenceSet names one of the derived membership sets
type PresenceSet string

const (
	SetOnline    PresenceSet = "online"
	SetAvailable PresenceSet = "available"
	SetBusy      PresenceSet = "busy"
)

// AllSets lists every membership set maintained by the tracker
var AllSets = []PresenceSet{SetOnline, SetAvailable, SetBusy}

// SetsFor returns the membership sets an agent with the given status belongs to
func SetsFor(status PresenceStatus) []PresenceSet {
	switch status {
	case StatusOnline:
		return []PresenceSet{SetOnline, SetAvailable}
	case StatusBusy:
		return []PresenceSet{SetOnline, SetBusy}
	default:
		return nil
	}
}

package types

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationPending  ConversationStatus = "PENDING"
	ConversationAssigned ConversationStatus = "ASSIGNED"
	ConversationActive   ConversationStatus = "ACTIVE"
	ConversationClosed   ConversationStatus = "CLOSED"
)

// CanBeAssigned reports whether an agent may still be assigned
func (s ConversationStatus) CanBeAssigned() bool {
	return s == ConversationPending
}

// Conversation is the subset of a chat conversation the assignment engine needs.
// Values are treated as immutable: transitions return a new Conversation.
type Conversation struct {
	ID                     string             `json:"id" dynamodbav:"ConversationID"`
	VisitorID              string             `json:"visitorId,omitempty" dynamodbav:"VisitorID,omitempty"`
	Status                 ConversationStatus `json:"status" dynamodbav:"Status"`
	CommercialID           AgentID            `json:"commercialId,omitempty" dynamodbav:"CommercialID,omitempty"`
	AvailableCommercialIDs []AgentID          `json:"availableCommercialIds,omitempty" dynamodbav:"AvailableCommercialIDs,omitempty"`
	Version                int                `json:"version" dynamodbav:"Version"`
	CreatedAt              time.Time          `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt              time.Time          `json:"updatedAt" dynamodbav:"UpdatedAt"`
	AssignedAt             *time.Time         `json:"assignedAt,omitempty" dynamodbav:"AssignedAt,omitempty"`
}

// CanBeAssigned reports whether the conversation is in an assignable state
func (c Conversation) CanBeAssigned() bool {
	return c.Status.CanBeAssigned()
}

// Assign returns a copy of the conversation assigned to agentID
func (c Conversation) Assign(agentID AgentID, at time.Time) (Conversation, error) {
	if !c.CanBeAssigned() {
		return Conversation{}, fmt.Errorf("conversation %s is %s", c.ID, c.Status)
	}
	next := c
	next.AvailableCommercialIDs = append([]AgentID(nil), c.AvailableCommercialIDs...)
	next.Status = ConversationAssigned
	next.CommercialID = agentID
	next.AssignedAt = &at
	next.UpdatedAt = at
	next.Version = c.Version + 1
	return next, nil
}

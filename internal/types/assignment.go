package types

import (
	"fmt"
	"strings"
	"time"
)

// AssignmentStrategy selects how a winning agent is ranked
type AssignmentStrategy string

const (
	StrategyWorkloadBalanced AssignmentStrategy = "WORKLOAD_BALANCED"
	StrategyRoundRobin       AssignmentStrategy = "ROUND_ROBIN"
	StrategyPriority         AssignmentStrategy = "PRIORITY"
)

// ParseStrategy converts a string into an AssignmentStrategy.
// An empty string yields WORKLOAD_BALANCED.
func ParseStrategy(s string) (AssignmentStrategy, error) {
	if strings.TrimSpace(s) == "" {
		return StrategyWorkloadBalanced, nil
	}
	strategy := AssignmentStrategy(strings.ToUpper(strings.TrimSpace(s)))
	switch strategy {
	case StrategyWorkloadBalanced, StrategyRoundRobin, StrategyPriority:
		return strategy, nil
	}
	return "", fmt.Errorf("invalid assignment strategy %q", s)
}

// Skill is a capability tag an agent can have (e.g. a language or product line)
type Skill string

// AssignmentCriteria parameterises a single selection
type AssignmentCriteria struct {
	Strategy           AssignmentStrategy `json:"strategy"`
	RequiredSkills     []Skill            `json:"requiredSkills,omitempty"`
	MaxWaitTimeSeconds int                `json:"maxWaitTimeSeconds"`
}

// CommercialInfo is a point-in-time snapshot of a candidate agent.
// It is built fresh for every assignment attempt.
type CommercialInfo struct {
	ID           AgentID    `json:"id"`
	IsOnline     bool       `json:"isOnline"`
	CurrentChats int        `json:"currentChats"`
	MaxChats     int        `json:"maxChats"`
	Skills       []Skill    `json:"skills,omitempty"`
	Priority     int        `json:"priority"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// HasSkills reports whether the agent has every one of the required skills
func (c CommercialInfo) HasSkills(required []Skill) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[Skill]struct{}, len(c.Skills))
	for _, s := range c.Skills {
		have[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// AtCapacity reports whether the agent cannot take another chat
func (c CommercialInfo) AtCapacity() bool {
	return c.CurrentChats >= c.MaxChats
}

// AssignmentResult is the outcome of a successful selection
type AssignmentResult struct {
	CommercialID AgentID            `json:"commercialId"`
	Strategy     AssignmentStrategy `json:"strategy"`
	Score        float64            `json:"score"`
}

// AgentProfile holds the static routing attributes of an agent
type AgentProfile struct {
	AgentID  AgentID `json:"agentId" dynamodbav:"AgentID"`
	MaxChats int     `json:"maxChats" dynamodbav:"MaxChats"`
	Skills   []Skill `json:"skills,omitempty" dynamodbav:"Skills,omitempty"`
	Priority int     `json:"priority" dynamodbav:"Priority"`
}

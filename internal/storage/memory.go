package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// MemoryStore is an in-process Store used when persistence is disabled
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]types.Conversation
	profiles      map[types.AgentID]types.AgentProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]types.Conversation),
		profiles:      make(map[types.AgentID]types.AgentProfile),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return ErrAlreadyExists
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return types.Conversation{}, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) SaveConversation(ctx context.Context, conv types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != conv.Version-1 {
		return ErrVersionConflict
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) CountActiveByCommercial(ctx context.Context, agentID types.AgentID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, conv := range s.conversations {
		if conv.CommercialID == agentID && countsTowardWorkload(conv.Status) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SaveAgentProfile(ctx context.Context, profile types.AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.Skills = append([]types.Skill(nil), profile.Skills...)
	s.profiles[profile.AgentID] = profile
	return nil
}

func (s *MemoryStore) GetAgentProfile(ctx context.Context, agentID types.AgentID) (types.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[agentID]
	if !ok {
		return types.AgentProfile{}, ErrNotFound
	}
	profile.Skills = append([]types.Skill(nil), profile.Skills...)
	return profile, nil
}

func (s *MemoryStore) ListAgentProfiles(ctx context.Context) ([]types.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]types.AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		p.Skills = append([]types.Skill(nil), p.Skills...)
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].AgentID < profiles[j].AgentID })
	return profiles, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneConversation(c types.Conversation) types.Conversation {
	c.AvailableCommercialIDs = append([]types.AgentID(nil), c.AvailableCommercialIDs...)
	if c.AssignedAt != nil {
		at := *c.AssignedAt
		c.AssignedAt = &at
	}
	return c
}

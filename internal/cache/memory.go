package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// purgeEvery controls how often Set sweeps expired keys out of the map
const purgeEvery = 256

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a single-process Store used for development and tests.
// Keys expire lazily; sets never expire, mirroring the shared cache.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   map[string]memoryEntry
	sets   map[string]map[string]struct{}
	now    func() time.Time
	writes int
	closed bool
}

// NewMemoryStore creates a new in-memory store using the wall clock
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a new in-memory store that reads time from now
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]memoryEntry),
		sets: make(map[string]map[string]struct{}),
		now:  now,
	}
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.check(ctx, "set", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.keys[key] = entry

	s.writes++
	if s.writes%purgeEvery == 0 {
		s.purgeExpiredLocked()
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(ctx, "get", key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.keys[key]
	if !ok || s.expired(entry) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Del(ctx context.Context, key string) error {
	if err := s.check(ctx, "del", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, set, member string) error {
	if err := s.check(ctx, "sadd", set); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[set]
	if !ok {
		members = make(map[string]struct{})
		s.sets[set] = members
	}
	members[member] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := s.check(ctx, "srem", set); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.sets[set]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(s.sets, set)
		}
	}
	return nil
}

// Members returns the set members in lexical order
func (s *MemoryStore) Members(ctx context.Context, set string) ([]string, error) {
	if err := s.check(ctx, "smembers", set); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx, "ping", "")
}

// Close marks the store closed; later operations fail with ErrUnavailable
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check rejects operations on a closed store or a cancelled context
func (s *MemoryStore) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(op, key, err)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return unavailable(op, key, errStoreClosed)
	}
	return nil
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}

// purgeExpiredLocked drops expired keys. Must be called with mu held.
func (s *MemoryStore) purgeExpiredLocked() {
	for key, entry := range s.keys {
		if s.expired(entry) {
			delete(s.keys, key)
		}
	}
}

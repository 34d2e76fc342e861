package store

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// MemoryStore is a process-local BanStore for tests and throwaway servers.
type MemoryStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	bans map[string]model.Ban
}

// NewMemory creates an empty MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:  func() time.Time { return time.Now().UTC() },
		bans: make(map[string]model.Ban),
	}
}

func (s *MemoryStore) IsBanned(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bans[name]
	return ok, nil
}

// Add records ban. Re-banning a name keeps the original record.
func (s *MemoryStore) Add(_ context.Context, ban model.Ban) error {
	if err := validateBan(ban); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bans[ban.Name]; ok {
		return nil
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = s.now()
	}
	s.bans[ban.Name] = ban
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortBans(lo.Values(s.bans)), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

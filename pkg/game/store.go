package game

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a player has no persisted stats.
var ErrNotFound = errors.New("game: player stats not found")

// StatsStore persists player stats. Implementations must be safe for
// concurrent use.
type StatsStore interface {
	Load(ctx context.Context, playerID string) (*PlayerStats, error)
	Save(ctx context.Context, stats *PlayerStats) error
	TopPlayers(ctx context.Context, limit int) ([]PlayerStats, error)
}

// MemoryStore is an in-process StatsStore for tests and single-session play.
type MemoryStore struct {
	mu    sync.RWMutex
	stats map[string]PlayerStats
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: map[string]PlayerStats{}}
}

func (m *MemoryStore) Load(ctx context.Context, playerID string) (*PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) Save(ctx context.Context, stats *PlayerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stats.PlayerID] = *stats
	return nil
}

func (m *MemoryStore) TopPlayers(ctx context.Context, limit int) ([]PlayerStats, error) {
	m.mu.RLock()
	all := make([]PlayerStats, 0, len(m.stats))
	for _, s := range m.stats {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Credits != all[j].Credits {
			return all[i].Credits > all[j].Credits
		}
		return all[i].PlayerID < all[j].PlayerID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

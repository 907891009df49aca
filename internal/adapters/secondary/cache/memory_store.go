package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// MemoryStore est un CacheStore en mémoire, utilisé en local (REDIS_ADDR=memory)
// et dans les tests. L'horloge est injectable pour piloter l'expiration.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock remplace time.Now (tests)
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !m.now().Before(item.expiresAt) {
		m.mu.Lock()
		// Re-vérification : un Set a pu passer entre les deux verrous
		if cur, still := m.items[key]; still && !m.now().Before(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Sweep supprime les entrées expirées. Appelé périodiquement par Janitor.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Janitor lance Sweep à intervalle régulier jusqu'à l'annulation du contexte
func (m *MemoryStore) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

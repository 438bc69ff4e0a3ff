package identity

import (
	"context"
	"sync"
)

type cacheKey struct {
	kind     Kind
	sourceID string
}

// Cached - кеш в памяти процесса поверх любого Map.
// Кешируются только найденные соответствия: отсутствие записи
// всегда перепроверяется в backend.
type Cached struct {
	backend Map

	mu    sync.RWMutex
	cache map[cacheKey]int64
}

// NewCached оборачивает backend кешем
func NewCached(backend Map) *Cached {
	return &Cached{
		backend: backend,
		cache:   make(map[cacheKey]int64),
	}
}

// Resolve реализует Map
func (c *Cached) Resolve(ctx context.Context, kind Kind, sourceID string) (int64, bool, error) {
	k := cacheKey{kind, sourceID}

	c.mu.RLock()
	id, ok := c.cache[k]
	c.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	id, ok, err := c.backend.Resolve(ctx, kind, sourceID)
	if err != nil || !ok {
		return 0, false, err
	}

	c.mu.Lock()
	c.cache[k] = id
	c.mu.Unlock()
	return id, true, nil
}

// Record реализует Map. При recorded=false в кеш загружается значение,
// которое уже лежит в backend.
func (c *Cached) Record(ctx context.Context, kind Kind, sourceID string, targetID int64) (bool, error) {
	recorded, err := c.backend.Record(ctx, kind, sourceID, targetID)
	if err != nil {
		return false, err
	}

	if !recorded {
		c.forget(kind, sourceID)
		return false, nil
	}

	c.mu.Lock()
	c.cache[cacheKey{kind, sourceID}] = targetID
	c.mu.Unlock()
	return true, nil
}

// Missing реализует Map
func (c *Cached) Missing(ctx context.Context, kind Kind, sourceIDs []string) ([]string, error) {
	var unknown []string

	c.mu.RLock()
	for _, id := range sourceIDs {
		if _, ok := c.cache[cacheKey{kind, id}]; !ok {
			unknown = append(unknown, id)
		}
	}
	c.mu.RUnlock()

	if len(unknown) == 0 {
		return nil, nil
	}
	return c.backend.Missing(ctx, kind, unknown)
}

// Len возвращает количество закешированных соответствий
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cached) forget(kind Kind, sourceID string) {
	c.mu.Lock()
	delete(c.cache, cacheKey{kind, sourceID})
	c.mu.Unlock()
}

package repository

import (
	"context"
	"sync"
	"time"
)

type MemoryStateRepository struct {
	rateLimits sync.Map
	processed  sync.Map
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{}
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}

	return entry.count <= limit, nil
}

type processedEntry struct {
	expiresAt time.Time
}

func (r *MemoryStateRepository) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	val, loaded := r.processed.LoadOrStore(key, &processedEntry{expiresAt: now.Add(ttl)})
	if !loaded {
		return true, nil
	}

	entry := val.(*processedEntry)
	if now.After(entry.expiresAt) {
		r.processed.Store(key, &processedEntry{expiresAt: now.Add(ttl)})
		return true, nil
	}
	return false, nil
}

func (r *MemoryStateRepository) ClearProcessed(ctx context.Context, key string) error {
	r.processed.Delete(key)
	return nil
}

package cache

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

const defaultMemoryTTL = 7 * 24 * time.Hour

type memoryEntry struct {
	value    interface{}
	expireAt time.Time
}

func (e *memoryEntry) expired() bool { return time.Now().After(e.expireAt) }

// MemoryCache is an in-process Service with LRU eviction at maxSize and a
// background janitor for expired entries.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	lastUsed map[string]time.Time
	maxSize  int
	janitor  *time.Ticker
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		entries:  make(map[string]*memoryEntry),
		lastUsed: make(map[string]time.Time),
		maxSize:  cfg.MaxSize,
		janitor:  time.NewTicker(cfg.CleanupInterval),
	}
	go mc.sweepExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.entries) >= mc.maxSize {
		mc.evictOldest()
	}
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}
	mc.entries[key] = &memoryEntry{value: value, expireAt: time.Now().Add(expiration)}
	mc.lastUsed[key] = time.Now()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, ok := mc.entries[key]
	if !ok || entry.expired() {
		if ok {
			delete(mc.entries, key)
			delete(mc.lastUsed, key)
		}
		return ErrCacheMiss
	}
	mc.lastUsed[key] = time.Now()
	return assign(dest, entry.value)
}

// assign copies a cached value into the destination pointer without going
// through a serialization round trip.
func assign(dest, value interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("cache: destination must be a non-nil pointer, got %T", dest)
	}
	sv := reflect.ValueOf(value)
	switch {
	case sv.Type() == dv.Type():
		// cached a pointer of the same type, copy what it points at
		dv.Elem().Set(sv.Elem())
	case sv.Type().AssignableTo(dv.Elem().Type()):
		dv.Elem().Set(sv)
	default:
		return fmt.Errorf("cache: cannot assign %T to %T", value, dest)
	}
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.entries, key)
		delete(mc.lastUsed, key)
	}
	return nil
}

// DeleteByPattern drops everything; the in-process layer has no key scan.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, _ string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries = make(map[string]*memoryEntry)
	mc.lastUsed = make(map[string]time.Time)
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	for _, key := range keys {
		if entry, ok := mc.entries[key]; ok && !entry.expired() {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, ok := mc.entries[key]
	if !ok {
		mc.entries[key] = &memoryEntry{value: int64(1), expireAt: time.Now().Add(defaultMemoryTTL)}
		return 1, nil
	}
	n, ok := entry.value.(int64)
	if !ok {
		return 0, fmt.Errorf("cache: value at %s is not int64", key)
	}
	entry.value = n + 1
	return n + 1, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if entry, ok := mc.entries[key]; ok {
		entry.expireAt = time.Now().Add(expiration)
		return true, nil
	}
	return false, nil
}

func (mc *MemoryCache) MSet(ctx context.Context, values map[string]interface{}, expiration time.Duration) error {
	for key, value := range values {
		if err := mc.Set(ctx, key, value, expiration); err != nil {
			return err
		}
	}
	return nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	results := make(map[string]string)
	for _, key := range keys {
		if entry, ok := mc.entries[key]; ok && !entry.expired() {
			if s, ok := entry.value.(string); ok {
				results[key] = s
			}
		}
	}
	return results, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if entry, ok := mc.entries[key]; ok && !entry.expired() {
		return false, nil
	}
	mc.entries[key] = &memoryEntry{value: "locked", expireAt: time.Now().Add(ttl)}
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	oldest := time.Now()
	for key, used := range mc.lastUsed {
		if used.Before(oldest) {
			oldest = used
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
		delete(mc.lastUsed, oldestKey)
	}
}

func (mc *MemoryCache) sweepExpired() {
	for range mc.janitor.C {
		mc.mu.Lock()
		for key, entry := range mc.entries {
			if entry.expired() {
				delete(mc.entries, key)
				delete(mc.lastUsed, key)
			}
		}
		mc.mu.Unlock()
	}
}

// Close stops the janitor.
func (mc *MemoryCache) Close() error {
	if mc.janitor != nil {
		mc.janitor.Stop()
	}
	return nil
}

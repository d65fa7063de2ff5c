package client

import (
	"context"
	"sync"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// FetchFunc retrieves the blueprint at path from the station.
type FetchFunc func(ctx context.Context, path string) (blueprint.Blueprint, error)

// BlueprintCache maps object paths to their last-known blueprint.
//
// The cache never refreshes on its own: entries are filled on a miss and
// dropped by Invalidate, either explicitly or when a structural change
// event is observed.
//
// Thread Safety: All methods are safe for concurrent use. A single mutex
// guards the map; fetches run outside it. A fetch that overlaps an
// invalidation is returned to its caller but not stored.
type BlueprintCache struct {
	fetch FetchFunc

	mu      sync.Mutex
	entries map[string]blueprint.Blueprint
	gen     uint64 // bumped by every invalidation
}

// NewBlueprintCache creates an empty cache that fills misses with fetch.
func NewBlueprintCache(fetch FetchFunc) *BlueprintCache {
	return &BlueprintCache{
		fetch:   fetch,
		entries: make(map[string]blueprint.Blueprint),
	}
}

// Get returns the cached blueprint for path, fetching and storing it on a
// miss.
func (c *BlueprintCache) Get(ctx context.Context, path string) (blueprint.Blueprint, error) {
	c.mu.Lock()
	bp, ok := c.entries[path]
	gen := c.gen
	c.mu.Unlock()
	if ok {
		return bp, nil
	}

	bp, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if bp != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.entries[bp.FullPath()] = bp
		}
		c.mu.Unlock()
	}
	return bp, nil
}

// Put stores bp under its own path.
func (c *BlueprintCache) Put(bp blueprint.Blueprint) {
	if bp == nil {
		return
	}
	c.mu.Lock()
	c.entries[bp.FullPath()] = bp
	c.mu.Unlock()
}

// Invalidate drops path and every cached entry strictly below it.
func (c *BlueprintCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for key := range c.entries {
		if blueprint.Within(key, path) {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll empties the cache.
func (c *BlueprintCache) InvalidateAll() {
	c.mu.Lock()
	c.gen++
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *BlueprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Observe implements Observer. A created or deleted object invalidates its
// own subtree and its parent's entry, whose member lists have changed.
func (c *BlueprintCache) Observe(ev *blueprint.ChangeEvent) {
	if ev == nil || !ev.Action.Structural() {
		return
	}
	c.Invalidate(ev.Path)
	if parent := blueprint.Parent(ev.Path); parent != "" {
		c.mu.Lock()
		delete(c.entries, parent)
		c.mu.Unlock()
	}
}

package api

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/samcharles93/surprisal/internal/model"
)

// DefaultMaxModels is the number of models kept resident when the server
// config leaves MaxModels unset.
const DefaultMaxModels = 1

var errCacheClosed = errors.New("model cache closed")

// ModelCache keeps recently used models loaded. Each entry serves one
// request at a time, and concurrent requests for a key that is not yet
// loaded share one load.
//
// When more than max models are resident the least recently used idle
// entries are closed. Entries in use are never closed, so the cache can
// briefly hold more than max models while requests for distinct models
// overlap.
type ModelCache struct {
	provider model.Provider
	device   model.Device
	max      int

	mu      sync.Mutex
	entries map[cacheKey]*modelEntry
	lru     *list.List // of *modelEntry, most recent first
}

type cacheKey struct {
	ref     model.Ref
	primary model.Family
}

type modelEntry struct {
	key  cacheKey
	elem *list.Element
	refs int // guarded by ModelCache.mu

	mu  sync.Mutex // serializes the load and every use
	lm  *model.LoadedModel
	err error
}

func NewModelCache(p model.Provider, device model.Device, maxModels int) *ModelCache {
	if maxModels < 1 {
		maxModels = DefaultMaxModels
	}
	return &ModelCache{
		provider: p,
		device:   device,
		max:      maxModels,
		entries:  make(map[cacheKey]*modelEntry),
		lru:      list.New(),
	}
}

// WithModel runs fn with exclusive use of ref loaded with primary as the
// first family tried.
func (c *ModelCache) WithModel(ctx context.Context, ref model.Ref, primary model.Family, fn func(lm *model.LoadedModel) error) error {
	entry := c.acquire(cacheKey{ref: ref, primary: primary})
	defer c.release(entry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.err != nil {
		return entry.err
	}
	if entry.lm == nil {
		lm, err := model.Load(ctx, c.provider, entry.key.ref, entry.key.primary, c.device)
		if err != nil {
			entry.err = err
			c.drop(entry)
			return err
		}
		entry.lm = lm
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.lm)
}

func (c *ModelCache) acquire(key cacheKey) *modelEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if ok {
		c.lru.MoveToFront(entry.elem)
	} else {
		entry = &modelEntry{key: key}
		entry.elem = c.lru.PushFront(entry)
		c.entries[key] = entry
	}
	entry.refs++
	return entry
}

// release closes whatever the cache evicts once entry is idle again.
func (c *ModelCache) release(entry *modelEntry) {
	c.mu.Lock()
	entry.refs--
	evicted := c.evictLocked()
	c.mu.Unlock()

	for _, e := range evicted {
		if e.lm != nil {
			_ = e.lm.Close()
		}
	}
}

// drop removes a failed entry so the next request retries the load.
// Requests already waiting on the entry see its error.
func (c *ModelCache) drop(entry *modelEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[entry.key] == entry {
		delete(c.entries, entry.key)
		c.lru.Remove(entry.elem)
	}
}

func (c *ModelCache) evictLocked() []*modelEntry {
	var evicted []*modelEntry
	for el := c.lru.Back(); el != nil && len(c.entries) > c.max; {
		prev := el.Prev()
		entry := el.Value.(*modelEntry)
		if entry.refs == 0 {
			delete(c.entries, entry.key)
			c.lru.Remove(el)
			evicted = append(evicted, entry)
		}
		el = prev
	}
	return evicted
}

// Len is the number of resident models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached model, waiting for requests that hold one.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	entries := make([]*modelEntry, 0, len(c.entries))
	for key, entry := range c.entries {
		entries = append(entries, entry)
		delete(c.entries, key)
	}
	c.lru.Init()
	c.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.lm != nil {
			errs = append(errs, entry.lm.Close())
			entry.lm = nil
		}
		entry.err = errCacheClosed
		entry.mu.Unlock()
	}
	return errors.Join(errs...)
}

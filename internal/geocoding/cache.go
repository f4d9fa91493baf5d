package geocoding

import (
	"sync"

	"github.com/UnknownOlympus/hermes/internal/models"
)

// Cache memoizes resolved addresses for the lifetime of the value, usually one
// ingestion run. A nil entry marks an address that failed to resolve. Entries are
// never evicted.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*models.Coordinates
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*models.Coordinates)}
}

// Get returns the cached value for address and whether it was present.
// A present nil value means the address is known to be unresolvable.
func (c *Cache) Get(address string) (*models.Coordinates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	coords, ok := c.entries[address]
	if !ok || coords == nil {
		return nil, ok
	}
	copied := *coords

	return &copied, true
}

// Put stores coords for address; pass nil to record an unresolved address.
func (c *Cache) Put(address string, coords *models.Coordinates) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if coords == nil {
		c.entries[address] = nil
		return
	}
	copied := *coords
	c.entries[address] = &copied
}

// Len returns the number of distinct addresses seen.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

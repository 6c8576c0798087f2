package models

import (
	"encoding/json"
	"sync"
)

// ContextStore is the per-instance key/value store that carries task outputs
// into later task inputs via interpolation. Completion handlers run on level
// goroutines, so access is guarded. When two tasks in the same level declare
// the same output name, the later write wins with no defined order.
type ContextStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContextStore creates a store seeded with a shallow copy of seed.
func NewContextStore(seed map[string]any) *ContextStore {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}

	return &ContextStore{values: values}
}

func (c *ContextStore) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.values[key]

	return value, ok
}

func (c *ContextStore) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
}

// Snapshot returns a shallow copy of the current values, safe to read and
// hand to the resolver while tasks keep writing.
func (c *ContextStore) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}

	return out
}

func (c *ContextStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.values)
}

func (c *ContextStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

func (c *ContextStore) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = values
	if c.values == nil {
		c.values = make(map[string]any)
	}

	return nil
}

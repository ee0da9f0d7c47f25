package inventory

import (
	"encoding/json"
	"sync"
)

// OpCache is the idempotency store behind retriable mutators. Successful
// results are serialized once and replayed verbatim for the same key, so a
// retried request observes the committed result without a second state
// transition. Entries live for the process lifetime.
type OpCache struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
}

func NewOpCache() *OpCache {
	return &OpCache{results: make(map[string]json.RawMessage)}
}

// Get returns the cached serialized result for key, if any.
func (c *OpCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.results[key]
	return raw, ok
}

// Store serializes v and records it under key. Failures are not cached.
func (c *OpCache) Store(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.results[key] = raw
	c.mu.Unlock()
	return nil
}

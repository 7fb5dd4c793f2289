package store

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gxnda/kademlia"
)

// Cache is a bounded Storage implementation for a Node's secondary
// "cache_storage" slot (spec §3/§4.7): entries propagated here by the
// FIND_VALUE "caching closer node" step are expected to be numerous and
// disposable, so unlike Volatile and Persistent, old entries are
// evicted under size pressure rather than kept forever. Grounded on
// spec.md's explicit note that cache storage is "deliberately not
// snapshotted" — it is allowed to be lossy. Library:
// github.com/hashicorp/golang-lru.
type Cache struct {
	lru *lru.Cache
}

// NewCache returns a Cache bounded to size entries.
func NewCache(size int) *Cache {
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for size <= 0; the non-test callers
		// derive size from Config.K (always positive).
		panic(fmt.Sprintf("kademlia/store: invalid cache size %d: %v", size, err))
	}
	return &Cache{lru: c}
}

func (c *Cache) Contains(key kademlia.ID) bool {
	return c.lru.Contains(key)
}

func (c *Cache) Get(key kademlia.ID) ([]byte, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return v.(entry).value, nil
}

func (c *Cache) TryGet(key kademlia.ID) (bool, []byte) {
	v, ok := c.lru.Get(key)
	if !ok {
		return false, nil
	}
	return true, v.(entry).value
}

func (c *Cache) Set(key kademlia.ID, value []byte, expirationSeconds int64) error {
	c.lru.Add(key, entry{value: value, expirationSeconds: expirationSeconds, republishTimestamp: time.Now()})
	return nil
}

func (c *Cache) Remove(key kademlia.ID) error {
	c.lru.Remove(key)
	return nil
}

func (c *Cache) Keys() []kademlia.ID {
	raw := c.lru.Keys()
	out := make([]kademlia.ID, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(kademlia.ID))
	}
	return out
}

func (c *Cache) Touch(key kademlia.ID) error {
	v, ok := c.lru.Get(key)
	if !ok {
		return fmt.Errorf("kademlia/store: key %s not found", key)
	}
	e := v.(entry)
	e.republishTimestamp = time.Now()
	c.lru.Add(key, e)
	return nil
}

func (c *Cache) GetTimestamp(key kademlia.ID) (time.Time, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return time.Time{}, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return v.(entry).republishTimestamp, nil
}

func (c *Cache) GetExpirationSeconds(key kademlia.ID) (int64, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return 0, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return v.(entry).expirationSeconds, nil
}

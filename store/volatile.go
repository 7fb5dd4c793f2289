// Package store provides the concrete Storage implementations the root
// kademlia package consumes through its Storage interface: an
// in-memory variant, a crash-durable variant, and a bounded cache
// variant, matching spec.md §3's "volatile and persistent variants
// share this contract."
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/gxnda/kademlia"
)

type entry struct {
	value              []byte
	expirationSeconds  int64
	republishTimestamp time.Time
}

// Volatile is an in-memory Storage implementation, grounded on
// original_source/kademlia_dht/storage.py's VirtualStorage: a
// lock-guarded map, no durability guarantee. Suitable for cache
// storage, for originator/republish storage in tests, or for any
// deployment that accepts losing bindings on restart.
type Volatile struct {
	mu    sync.RWMutex
	items map[kademlia.ID]entry
}

// NewVolatile returns an empty Volatile store.
func NewVolatile() *Volatile {
	return &Volatile{items: make(map[kademlia.ID]entry)}
}

func (v *Volatile) Contains(key kademlia.ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.items[key]
	return ok
}

func (v *Volatile) Get(key kademlia.ID) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.items[key]
	if !ok {
		return nil, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return e.value, nil
}

func (v *Volatile) TryGet(key kademlia.ID) (bool, []byte) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.items[key]
	if !ok {
		return false, nil
	}
	return true, e.value
}

func (v *Volatile) Set(key kademlia.ID, value []byte, expirationSeconds int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items[key] = entry{value: value, expirationSeconds: expirationSeconds, republishTimestamp: time.Now()}
	return nil
}

func (v *Volatile) Remove(key kademlia.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.items, key)
	return nil
}

func (v *Volatile) Keys() []kademlia.ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]kademlia.ID, 0, len(v.items))
	for k := range v.items {
		out = append(out, k)
	}
	return out
}

func (v *Volatile) Touch(key kademlia.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.items[key]
	if !ok {
		return fmt.Errorf("kademlia/store: key %s not found", key)
	}
	e.republishTimestamp = time.Now()
	v.items[key] = e
	return nil
}

func (v *Volatile) GetTimestamp(key kademlia.ID) (time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.items[key]
	if !ok {
		return time.Time{}, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return e.republishTimestamp, nil
}

func (v *Volatile) GetExpirationSeconds(key kademlia.ID) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.items[key]
	if !ok {
		return 0, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return e.expirationSeconds, nil
}

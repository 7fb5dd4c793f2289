package kademlia

import "time"

// StoreValue is the bookkeeping a Storage implementation keeps
// alongside a bound value: when the binding expires (relative to
// RepublishTimestamp, zero meaning "never") and when this node last
// (re)accepted it.
type StoreValue struct {
	Value              []byte
	ExpirationSeconds  int64
	RepublishTimestamp time.Time
}

// Storage is the contract both the volatile and persistent storage
// variants satisfy (spec §4.3). Implementations live in the store
// subpackage; this package only depends on the interface so that Node
// and DHT never need to know which variant backs a given storage slot.
//
// Contains/Get must be linearizable with respect to Set/Remove: a
// caller that observes Contains(k) == true is guaranteed a subsequent
// Get(k) will not return "not found" unless a concurrent Remove or
// expiration sweep raced it.
type Storage interface {
	// Contains reports whether key is currently bound.
	Contains(key ID) bool
	// Get returns the value bound to key. Callers must check Contains
	// or use TryGet first; Get on an absent key returns an error.
	Get(key ID) ([]byte, error)
	// TryGet combines Contains and Get into one linearizable call,
	// avoiding the check-then-get race the two-call form invites.
	TryGet(key ID) (ok bool, value []byte)
	// Set overwrites any prior binding for key, stamping
	// RepublishTimestamp to now. expirationSeconds of 0 means the
	// binding never expires.
	Set(key ID, value []byte, expirationSeconds int64) error
	// Remove deletes the binding for key, if any.
	Remove(key ID) error
	// Keys returns every key currently bound.
	Keys() []ID
	// Touch refreshes RepublishTimestamp to now without changing the
	// bound value.
	Touch(key ID) error
	// GetTimestamp returns the RepublishTimestamp last stamped for
	// key.
	GetTimestamp(key ID) (time.Time, error)
	// GetExpirationSeconds returns the expiration window passed to
	// the most recent Set or Touch-preserving re-Set for key.
	GetExpirationSeconds(key ID) (int64, error)
}

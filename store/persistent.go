package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gxnda/kademlia"
)

var bucketName = []byte("kademlia_store")

// record is the on-disk encoding of a single binding; Persistent stores
// one JSON-encoded record per key inside a single bolt bucket.
type record struct {
	Value              []byte    `json:"value"`
	ExpirationSeconds  int64     `json:"expiration_seconds"`
	RepublishTimestamp time.Time `json:"republish_timestamp"`
}

// Persistent is a crash-durable Storage implementation backed by an
// embedded bolt database, grounded on
// original_source/kademlia_dht/storage.py's SecondaryJSONStorage
// durability contract ("after set returns, a crash and restart
// recovers the binding") but replacing its whole-file JSON rewrite per
// call with real transactional commits (spec §4.3). Get, Set, Remove,
// Touch, GetTimestamp and GetExpirationSeconds return bolt errors to the
// caller; Contains and TryGet report a failed read as "absent", and Keys
// ignores read errors.
type Persistent struct {
	db *bolt.DB
}

// OpenPersistent opens (creating if absent) a bolt database at path.
func OpenPersistent(path string) (*Persistent, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kademlia/store: opening %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kademlia/store: initializing %q: %w", path, err)
	}
	return &Persistent{db: db}, nil
}

// Close releases the underlying database file.
func (p *Persistent) Close() error {
	return p.db.Close()
}

func (p *Persistent) get(key kademlia.ID) (record, bool, error) {
	var rec record
	var found bool
	err := p.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(key[:])
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return record{}, false, fmt.Errorf("kademlia/store: reading %s: %w", key, err)
	}
	return rec, found, nil
}

func (p *Persistent) Contains(key kademlia.ID) bool {
	_, found, err := p.get(key)
	return err == nil && found
}

func (p *Persistent) Get(key kademlia.ID) ([]byte, error) {
	rec, found, err := p.get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return rec.Value, nil
}

func (p *Persistent) TryGet(key kademlia.ID) (bool, []byte) {
	rec, found, err := p.get(key)
	if err != nil || !found {
		return false, nil
	}
	return true, rec.Value
}

func (p *Persistent) Set(key kademlia.ID, value []byte, expirationSeconds int64) error {
	rec := record{Value: value, ExpirationSeconds: expirationSeconds, RepublishTimestamp: time.Now()}
	return p.put(key, rec)
}

func (p *Persistent) put(key kademlia.ID, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kademlia/store: encoding %s: %w", key, err)
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key[:], raw)
	})
	if err != nil {
		return fmt.Errorf("kademlia/store: writing %s: %w", key, err)
	}
	return nil
}

func (p *Persistent) Remove(key kademlia.ID) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key[:])
	})
	if err != nil {
		return fmt.Errorf("kademlia/store: removing %s: %w", key, err)
	}
	return nil
}

func (p *Persistent) Keys() []kademlia.ID {
	var keys []kademlia.ID
	_ = p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var id kademlia.ID
			copy(id[:], k)
			keys = append(keys, id)
		}
		return nil
	})
	return keys
}

func (p *Persistent) Touch(key kademlia.ID) error {
	rec, found, err := p.get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("kademlia/store: key %s not found", key)
	}
	rec.RepublishTimestamp = time.Now()
	return p.put(key, rec)
}

func (p *Persistent) GetTimestamp(key kademlia.ID) (time.Time, error) {
	rec, found, err := p.get(key)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return rec.RepublishTimestamp, nil
}

func (p *Persistent) GetExpirationSeconds(key kademlia.ID) (int64, error) {
	rec, found, err := p.get(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("kademlia/store: key %s not found", key)
	}
	return rec.ExpirationSeconds, nil
}

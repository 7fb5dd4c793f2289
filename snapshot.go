package kademlia

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// snapshotVersion is bumped whenever the on-disk record shape changes
// incompatibly.
const snapshotVersion = 1

// Addressable is implemented by a Protocol that can describe itself as
// a reconnectable endpoint string (a URL, host:port, or similar). Only
// Protocol implementations that support snapshotting need to implement
// it; contacts whose protocol does not are saved with an empty address,
// and Rehydrate passes that empty address to protocolFor. They are not
// skipped and no warning is logged.
type Addressable interface {
	Address() string
}

type contactRecord struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

type bucketRecord struct {
	Low       string          `json:"low"`
	High      string          `json:"high"`
	Contacts  []contactRecord `json:"contacts"`
	TouchedAt time.Time       `json:"touched_at"`
}

type storeValueRecord struct {
	Key                string    `json:"key"`
	Value              []byte    `json:"value"`
	ExpirationSeconds  int64     `json:"expiration_seconds"`
	RepublishTimestamp time.Time `json:"republish_timestamp"`
}

// Snapshot is the self-describing save record spec §4.8 and §6 call
// for: our identity and endpoint, every bucket's contacts and
// timestamps, and the originator/republish storage contents.
// cache_storage is deliberately excluded — it holds only ephemeral
// propagation copies, never authoritative data.
type Snapshot struct {
	Version    int                `json:"version"`
	OurID      string             `json:"our_id"`
	OurAddress string             `json:"our_address"`
	Buckets    []bucketRecord     `json:"buckets"`
	Originator []storeValueRecord `json:"originator_storage"`
	Republish  []storeValueRecord `json:"republish_storage"`
}

// BuildSnapshot captures d's current state into a Snapshot value,
// ready to be written with Save or inspected directly.
func BuildSnapshot(d *DHT) (*Snapshot, error) {
	snap := &Snapshot{
		Version: snapshotVersion,
		OurID:   d.node.OurContact.ID.String(),
	}
	if addr, ok := d.node.OurContact.Protocol.(Addressable); ok {
		snap.OurAddress = addr.Address()
	}

	for _, rg := range d.node.BucketList().BucketRanges() {
		bkt := d.node.BucketList().GetKBucket(rg.Low)
		br := bucketRecord{
			Low:       rg.Low.String(),
			High:      rg.High.String(),
			TouchedAt: bkt.TouchedAt(),
		}
		for _, c := range bkt.Contacts() {
			cr := contactRecord{ID: c.ID.String(), LastSeen: c.LastSeen}
			if addr, ok := c.Protocol.(Addressable); ok {
				cr.Address = addr.Address()
			}
			br.Contacts = append(br.Contacts, cr)
		}
		snap.Buckets = append(snap.Buckets, br)
	}

	var err error
	if snap.Originator, err = dumpStorage(d.originatorStorage); err != nil {
		return nil, err
	}
	if snap.Republish, err = dumpStorage(d.republishStorage); err != nil {
		return nil, err
	}
	return snap, nil
}

func dumpStorage(s Storage) ([]storeValueRecord, error) {
	var out []storeValueRecord
	for _, key := range s.Keys() {
		value, err := s.Get(key)
		if err != nil {
			return nil, fmt.Errorf("kademlia: snapshot read %s: %w", key, err)
		}
		ts, err := s.GetTimestamp(key)
		if err != nil {
			return nil, fmt.Errorf("kademlia: snapshot timestamp %s: %w", key, err)
		}
		exp, err := s.GetExpirationSeconds(key)
		if err != nil {
			return nil, fmt.Errorf("kademlia: snapshot expiration %s: %w", key, err)
		}
		out = append(out, storeValueRecord{
			Key:                key.String(),
			Value:              value,
			ExpirationSeconds:  exp,
			RepublishTimestamp: ts,
		})
	}
	return out, nil
}

// Save writes a Snapshot of d as JSON to path.
func Save(d *DHT, path string) error {
	snap, err := BuildSnapshot(d)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("kademlia: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("kademlia: write snapshot %q: %w", path, err)
	}
	return nil
}

// Load reads and parses a Snapshot from path. It does not start any RPC
// server or reconstruct live Protocol instances — see Rehydrate for
// that, which requires a protocolFor resolver supplied by the caller.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kademlia: read snapshot %q: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("kademlia: parse snapshot %q: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("kademlia: snapshot %q has version %d, want %d", path, snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// Rehydrate reconstructs a DHT from snap: our contact (via
// protocolFor), every bucket's contacts (re-inserted through the
// normal split-aware AddContact path, so the resulting bucket
// boundaries need not match the saved ones exactly), and the
// originator/republish storage contents loaded into opts' storages.
// opts.OriginatorStorage and opts.RepublishStorage must be empty,
// freshly constructed instances; opts.CacheStorage is used as-is since
// the cache is never part of a snapshot.
func Rehydrate(snap *Snapshot, cfg *Config, opts DHTOptions, protocolFor func(id ID, address string) Protocol) (*DHT, error) {
	ourID, err := IDFromString(snap.OurID)
	if err != nil {
		return nil, fmt.Errorf("kademlia: snapshot our_id: %w", err)
	}
	ourContact := NewContact(ourID, protocolFor(ourID, snap.OurAddress))

	d := NewDHT(ourContact, cfg, opts)

	for _, br := range snap.Buckets {
		for _, cr := range br.Contacts {
			id, err := IDFromString(cr.ID)
			if err != nil {
				return nil, fmt.Errorf("kademlia: snapshot contact id: %w", err)
			}
			contact := Contact{ID: id, Protocol: protocolFor(id, cr.Address), LastSeen: cr.LastSeen}
			d.node.BucketList().AddContact(contact, nil)
		}
	}

	if err := loadStorage(opts.OriginatorStorage, snap.Originator); err != nil {
		return nil, err
	}
	if err := loadStorage(opts.RepublishStorage, snap.Republish); err != nil {
		return nil, err
	}
	return d, nil
}

func loadStorage(s Storage, records []storeValueRecord) error {
	for _, r := range records {
		key, err := IDFromString(r.Key)
		if err != nil {
			return fmt.Errorf("kademlia: snapshot key %q: %w", r.Key, err)
		}
		if err := s.Set(key, r.Value, r.ExpirationSeconds); err != nil {
			return fmt.Errorf("kademlia: snapshot restore %q: %w", r.Key, err)
		}
	}
	return nil
}

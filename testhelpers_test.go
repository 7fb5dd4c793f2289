package kademlia

import (
	"errors"
	"sync"
	"time"
)

// memStorage is a minimal Storage implementation for tests in this
// package. It duplicates store.Volatile's shape rather than importing
// the store subpackage, since store imports this package.
type memStorage struct {
	mu    sync.RWMutex
	items map[ID]StoreValue
}

func newMemStorage() *memStorage {
	return &memStorage{items: make(map[ID]StoreValue)}
}

func (m *memStorage) Contains(key ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}

func (m *memStorage) Get(key ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v.Value, nil
}

func (m *memStorage) TryGet(key ID) (bool, []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return false, nil
	}
	return true, v.Value
}

func (m *memStorage) Set(key ID, value []byte, expirationSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = StoreValue{Value: value, ExpirationSeconds: expirationSeconds, RepublishTimestamp: time.Now()}
	return nil
}

func (m *memStorage) Remove(key ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memStorage) Keys() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ID, 0, len(m.items))
	for k := range m.items {
		out = append(out, k)
	}
	return out
}

func (m *memStorage) Touch(key ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return errors.New("not found")
	}
	v.RepublishTimestamp = time.Now()
	m.items[key] = v
	return nil
}

func (m *memStorage) GetTimestamp(key ID) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return time.Time{}, errors.New("not found")
	}
	return v.RepublishTimestamp, nil
}

func (m *memStorage) GetExpirationSeconds(key ID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return 0, errors.New("not found")
	}
	return v.ExpirationSeconds, nil
}

// fakeProtocol is an in-process Protocol implementation for tests. It
// plays the same role as transport.Loopback but is defined locally to
// avoid this package's tests depending on the transport subpackage.
type fakeProtocol struct {
	node        *Node
	address     string
	unreachable bool
}

func newFakeProtocol(node *Node, address string) *fakeProtocol {
	return &fakeProtocol{node: node, address: address}
}

func (f *fakeProtocol) Address() string { return f.address }

func (f *fakeProtocol) Ping(sender Contact) (*PingResult, *RPCError) {
	if f.unreachable {
		return nil, NewRPCError(ErrKindUnreachable, "fake: unreachable", nil)
	}
	contact, err := f.node.Ping(sender)
	if err != nil {
		return nil, wrapFakeError(err)
	}
	return &PingResult{Contact: contact, RandomID: RandomRPCID()}, nil
}

func (f *fakeProtocol) Store(sender Contact, key ID, value []byte, isCached bool, expirationSeconds int64) *RPCError {
	if f.unreachable {
		return NewRPCError(ErrKindUnreachable, "fake: unreachable", nil)
	}
	if err := f.node.Store(key, sender, value, isCached, expirationSeconds); err != nil {
		return wrapFakeError(err)
	}
	return nil
}

func (f *fakeProtocol) FindNode(sender Contact, key ID) (*FindNodeResult, *RPCError) {
	if f.unreachable {
		return nil, NewRPCError(ErrKindUnreachable, "fake: unreachable", nil)
	}
	contacts, err := f.node.FindNode(key, sender)
	if err != nil {
		return nil, wrapFakeError(err)
	}
	return &FindNodeResult{Contacts: contacts, RandomID: RandomRPCID()}, nil
}

func (f *fakeProtocol) FindValue(sender Contact, key ID) (*FindValueResult, *RPCError) {
	if f.unreachable {
		return nil, NewRPCError(ErrKindUnreachable, "fake: unreachable", nil)
	}
	contacts, value, found, err := f.node.FindValue(key, sender)
	if err != nil {
		return nil, wrapFakeError(err)
	}
	return &FindValueResult{Contacts: contacts, Value: value, Found: found, RandomID: RandomRPCID()}, nil
}

func wrapFakeError(err error) *RPCError {
	if errors.Is(err, ErrSendingQueryToSelf) || errors.Is(err, ErrSenderIsSelf) {
		return NewRPCError(ErrKindSemantic, "sender is self", err)
	}
	return NewRPCError(ErrKindResource, "fake rpc failed", err)
}

// testPeer bundles a DHT with the fake address its Protocol advertises,
// for wiring small synthetic networks in tests.
type testPeer struct {
	dht     *DHT
	contact Contact
}

// newTestNetwork builds n DHT peers sharing cfg, each with its own
// volatile storages, addressed "peer-a", "peer-b", ... and able to
// reach each other directly through fakeProtocol.
func newTestNetwork(cfg *Config, n int, parallel bool) []*testPeer {
	peers := make([]*testPeer, n)
	for i := 0; i < n; i++ {
		contact := NewContact(NewRandomID(), nil) // Protocol patched in below
		opts := DHTOptions{
			OriginatorStorage: newMemStorage(),
			RepublishStorage:  newMemStorage(),
			CacheStorage:      newMemStorage(),
			UseParallelRouter: parallel,
		}
		d := NewDHT(contact, cfg, opts)
		proto := newFakeProtocol(d.Node(), addressFor(i))
		d.node.OurContact.Protocol = proto
		peers[i] = &testPeer{dht: d, contact: d.node.OurContact}
	}
	return peers
}

func addressFor(i int) string {
	return "peer-" + string(rune('a'+i))
}

// fakeContact builds a Contact for id with a Protocol that is never
// actually dialed, for tests that only exercise routing-table
// placement and don't drive real RPCs (bucket fill/split tests).
func fakeContact(id ID) Contact {
	return NewContact(id, &fakeProtocol{address: id.String()})
}

// alwaysAlive and alwaysDead are pinger functions for
// BucketList.AddContact tests exercising the full/split-ineligible
// eviction path without a real Protocol round trip.
func alwaysAlive(Contact) bool { return true }
func alwaysDead(Contact) bool  { return false }

// contactFor returns a Contact addressing peer p, suitable for seeding
// another peer's bucket list or bootstrap call.
func (p *testPeer) contactFor() Contact {
	return p.contact
}

// smallConfig returns a Config with short maintenance intervals, fit
// for tests that exercise the maintenance loops without waiting on
// production-scale timers.
func smallConfig() *Config {
	cfg := DefaultConfig()
	cfg.K = 4
	cfg.Alpha = 2
	cfg.B = 1
	cfg.EvictionLimit = 2
	cfg.QueryTime = 20 * time.Millisecond
	cfg.ResponseWait = 2 * time.Millisecond
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.KeyValueRepublishInterval = 30 * time.Millisecond
	cfg.OriginatorRepublishInterval = 30 * time.Millisecond
	cfg.ExpirationScanInterval = 10 * time.Millisecond
	cfg.BucketRefreshInterval = 30 * time.Millisecond
	return cfg
}

package kademlia

import (
	"errors"
	"fmt"
	"sync"
)

// lookupRouter is satisfied by both Router and ParallelRouter; DHT
// depends on this narrow interface so the two are interchangeable
// (spec §9 "dynamic dispatch over Storage and Protocol" applies equally
// here even though the spec only names Storage/Protocol explicitly).
type lookupRouter interface {
	Lookup(key ID, rpc RPCCall) QueryReturn
}

// DHT is the orchestrator a caller interacts with directly: it owns the
// local Node, the lookup Router, and all three Storage instances, and
// exposes Bootstrap/Store/FindValue plus the maintenance timers that
// keep the network healthy (spec §4.7). Grounded on
// original_source/kademlia_dht/node.py's DHT back-reference contract
// and spec.md §4.7/§3 Data Model, since no original_source dht.py
// survived distillation.
type DHT struct {
	cfg *Config

	node   *Node
	router lookupRouter

	// originatorStorage holds bindings this peer personally published
	// via Store; republishStorage holds bindings accepted on behalf of
	// other originators via an incoming STORE RPC (this is the storage
	// Node consults when serving PING/STORE/FIND_NODE/FIND_VALUE);
	// cacheStorage holds the "caching closer node" propagation copies,
	// and is never snapshotted (spec §4.8).
	originatorStorage Storage
	republishStorage  Storage
	cacheStorage      Storage

	pendingMu       sync.Mutex
	pendingContacts []Contact

	evictionMu     sync.Mutex
	evictionCounts map[ID]int

	maint *Maintainer

	log *componentLogger
}

// DHTOptions groups the constructor's storage and router choices so
// callers aren't forced to remember positional argument order for a
// five-dependency constructor.
type DHTOptions struct {
	OriginatorStorage Storage
	RepublishStorage  Storage
	CacheStorage      Storage
	// UseParallelRouter selects ParallelRouter over the default serial
	// Router.
	UseParallelRouter bool
}

// NewDHT constructs a DHT for ourContact, wiring a Node around
// opts' storages and a Router around cfg.
func NewDHT(ourContact Contact, cfg *Config, opts DHTOptions) *DHT {
	node := NewNode(ourContact, opts.RepublishStorage, opts.CacheStorage, cfg.K, cfg.B)

	d := &DHT{
		cfg:               cfg,
		node:              node,
		originatorStorage: opts.OriginatorStorage,
		republishStorage:  opts.RepublishStorage,
		cacheStorage:      opts.CacheStorage,
		evictionCounts:    make(map[ID]int),
		log:               newComponentLogger("dht").withField("node_id", ourContact.ID.String()),
	}
	node.attachDHT(d)

	if opts.UseParallelRouter {
		d.router = NewParallelRouter(node, d, cfg)
	} else {
		d.router = NewRouter(node, d, cfg)
	}
	d.maint = NewMaintainer(d, cfg)
	return d
}

// Node exposes the underlying Node, e.g. for a transport to dispatch
// incoming RPCs to.
func (d *DHT) Node() *Node { return d.node }

// StartMaintenance launches the periodic republish/expire/refresh
// timers. Call Close to stop them.
func (d *DHT) StartMaintenance() {
	d.maint.Start()
}

// Close stops maintenance timers. It does not close the transport;
// callers own their Protocol/listener lifecycle separately.
func (d *DHT) Close() {
	d.maint.Stop()
}

// Bootstrap registers known, a contact already believed reachable, then
// performs a self-lookup to populate nearby buckets, then refreshes
// every bucket whose range does not contain our own ID (spec §4.7).
func (d *DHT) Bootstrap(known Contact) error {
	d.node.BucketList().AddContact(known, d.node.pingerFor(known))

	result, err := d.lookupSelf()
	if err != nil {
		return fmt.Errorf("kademlia: bootstrap self-lookup: %w", err)
	}
	for _, c := range result.Contacts {
		d.node.BucketList().AddContact(c, d.node.pingerFor(c))
	}

	ourID := d.node.OurContact.ID
	for _, rg := range d.node.BucketList().BucketRanges() {
		if (!ourID.Less(rg.Low)) && ourID.Less(rg.High) {
			continue // bucket containing our own ID is never refreshed
		}
		if !rg.Low.Less(rg.High) {
			continue
		}
		target := RandomIDInRange(rg.Low, rg.High)
		if _, err := d.findNode(target); err != nil {
			d.log.warn("bucket refresh during bootstrap failed: " + err.Error())
		}
	}
	return nil
}

func (d *DHT) lookupSelf() (QueryReturn, error) {
	return d.findNode(d.node.OurContact.ID)
}

func (d *DHT) findNode(key ID) (QueryReturn, error) {
	if d.node.BucketList().IsEmpty() {
		return QueryReturn{}, ErrAllBucketsEmpty
	}
	rb := baseRouter{node: d.node, dht: d, cfg: d.cfg}
	return d.router.Lookup(key, rb.rpcFindNodes), nil
}

// Store writes value to originatorStorage, then looks up the k closest
// peers to key and issues STORE RPCs to each with the default
// expiration (spec §4.7). With no known peers the value is only stored
// locally.
func (d *DHT) Store(key ID, value []byte) error {
	if err := d.originatorStorage.Set(key, value, d.cfg.ExpirationTimeSec); err != nil {
		return fmt.Errorf("kademlia: local store: %w", err)
	}

	result, err := d.findNode(key)
	if errors.Is(err, ErrAllBucketsEmpty) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, c := range result.Contacts {
		rpcErr := c.Protocol.Store(d.node.OurContact, key, value, false, d.cfg.ExpirationTimeSec)
		d.HandleError(rpcErr, c)
		if !rpcErr.HasError() {
			d.node.BucketList().AddContact(c, d.node.pingerFor(c))
		}
	}
	return nil
}

// FindValue returns the value bound to key. It checks every local
// storage first; failing that it performs a FIND_VALUE lookup, and on
// success propagates a cached copy (halved expiration) — the "caching
// closer node" step from the Kademlia paper. The target is the contact
// in the lookup's closer list that is nearest to key among those
// strictly nearer than the peer that returned the value; no copy is
// sent when there is none. Whether that contact was itself queried
// during the lookup, or already holds the value, is not checked.
func (d *DHT) FindValue(key ID) (found bool, contacts []Contact, value []byte, err error) {
	if ok, v := d.originatorStorage.TryGet(key); ok {
		return true, nil, v, nil
	}
	if ok, v := d.republishStorage.TryGet(key); ok {
		return true, nil, v, nil
	}
	if ok, v := d.cacheStorage.TryGet(key); ok {
		return true, nil, v, nil
	}

	if d.node.BucketList().IsEmpty() {
		return false, nil, nil, ErrAllBucketsEmpty
	}

	rb := baseRouter{node: d.node, dht: d, cfg: d.cfg}
	result := d.router.Lookup(key, rb.rpcFindValue)
	if !result.Found {
		return false, result.Contacts, nil, nil
	}

	d.cacheAtClosestIntermediate(key, result)
	return true, nil, result.Value, nil
}

func (d *DHT) cacheAtClosestIntermediate(key ID, result QueryReturn) {
	if result.FoundBy == nil {
		return
	}
	foundByDistance := result.FoundBy.ID.Xor(key)

	var closest *Contact
	var closestDistance ID
	for i := range result.Contacts {
		c := result.Contacts[i]
		if c.ID.Equal(result.FoundBy.ID) {
			continue
		}
		dist := c.ID.Xor(key)
		if !dist.Less(foundByDistance) {
			continue
		}
		if closest == nil || dist.Less(closestDistance) {
			closest, closestDistance = &result.Contacts[i], dist
		}
	}
	if closest == nil {
		return
	}

	rpcErr := closest.Protocol.Store(d.node.OurContact, key, result.Value, true, d.cfg.ExpirationTimeSec/2)
	d.HandleError(rpcErr, *closest)
	if !rpcErr.HasError() {
		d.node.BucketList().AddContact(*closest, d.node.pingerFor(*closest))
	}
}

// HandleError is the error-handling hook (spec §4.7): transport
// failures increment an eviction counter for contact, and past
// cfg.EvictionLimit consecutive failures the contact is dropped from
// its bucket and replaced from the pending-contacts queue, if any is
// waiting. Other error kinds are logged but do not affect eviction
// accounting, since they are not evidence the peer is unreachable.
func (d *DHT) HandleError(rpcErr *RPCError, contact Contact) {
	if !rpcErr.HasError() {
		d.evictionMu.Lock()
		delete(d.evictionCounts, contact.ID)
		d.evictionMu.Unlock()
		return
	}

	if rpcErr.Kind != ErrKindTimeout && rpcErr.Kind != ErrKindUnreachable {
		d.log.errorf(rpcErr, "non-transport RPC error")
		return
	}

	d.evictionMu.Lock()
	d.evictionCounts[contact.ID]++
	count := d.evictionCounts[contact.ID]
	d.evictionMu.Unlock()

	if count < d.cfg.EvictionLimit {
		return
	}

	d.node.BucketList().RemoveContact(contact.ID)
	d.evictionMu.Lock()
	delete(d.evictionCounts, contact.ID)
	d.evictionMu.Unlock()

	if replacement, ok := d.dequeuePendingContact(); ok {
		d.node.BucketList().AddContact(replacement, d.node.pingerFor(replacement))
	}
	d.log.withField("contact_id", contact.ID.String()).warn("evicted unresponsive contact")
}

// AddPendingContact enqueues a contact learned of but not yet promoted
// into the bucket list (e.g. discovered while a bucket was full and
// ineligible to split). Node.isNewContact consults this queue.
func (d *DHT) AddPendingContact(c Contact) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for _, existing := range d.pendingContacts {
		if existing.ID.Equal(c.ID) {
			return
		}
	}
	d.pendingContacts = append(d.pendingContacts, c)
}

func (d *DHT) dequeuePendingContact() (Contact, bool) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if len(d.pendingContacts) == 0 {
		return Contact{}, false
	}
	c := d.pendingContacts[0]
	d.pendingContacts = d.pendingContacts[1:]
	return c, true
}

func (d *DHT) hasPendingContact(id ID) bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for _, c := range d.pendingContacts {
		if c.ID.Equal(id) {
			return true
		}
	}
	return false
}

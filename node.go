package kademlia

import "sync"

// Node represents this machine's presence on the network: its own
// contact information, its routing table, and the two storage
// instances a DHT server-side RPC handler consults (spec §3/§4.3). It
// implements the server side of PING/STORE/FIND_NODE/FIND_VALUE;
// Protocol implementations call into a remote peer's Node (directly,
// for the loopback transport, or via whatever wire format a networked
// transport decodes into these same calls).
//
// Node is grounded on original_source/kademlia_dht/node.py, adapted
// from its request/response-dict server_* wrappers to Go methods with
// concrete parameter and return types — the dict marshaling belongs in
// the transport layer, not here.
type Node struct {
	OurContact Contact
	Storage    Storage
	Cache      Storage

	bucketList *BucketList

	// dht is a back-reference used only to consult the pending-contacts
	// queue and to report RPC failures for eviction accounting; it is
	// never used to extend the DHT's lifetime and may be nil (e.g. in
	// unit tests that exercise a Node in isolation).
	dht *DHT

	mu  sync.Mutex // guards nothing directly; reserved for future per-Node state
	log *componentLogger
}

// NewNode constructs a Node for contact, backed by storage and cache.
// cache may be a store.NewCache(...) instance or any other Storage;
// passing a volatile in-memory store is valid for tests.
func NewNode(contact Contact, storage, cache Storage, k, b int) *Node {
	return &Node{
		OurContact: contact,
		Storage:    storage,
		Cache:      cache,
		bucketList: NewBucketList(contact.ID, k, b),
		log:        newComponentLogger("node").withField("node_id", contact.ID.String()),
	}
}

// BucketList returns the node's routing table.
func (n *Node) BucketList() *BucketList {
	return n.bucketList
}

// attachDHT wires the weak DHT back-reference; called once by
// NewDHT.
func (n *Node) attachDHT(d *DHT) {
	n.dht = d
}

// Ping handles an incoming PING: registers sender and replies with our
// own contact. Returns ErrSendingQueryToSelf if sender is this node.
func (n *Node) Ping(sender Contact) (Contact, error) {
	if sender.ID.Equal(n.OurContact.ID) {
		return Contact{}, ErrSendingQueryToSelf
	}
	n.sendKeyValuesIfNewContact(sender)
	n.bucketList.AddContact(sender, n.pingerFor(sender))
	return n.OurContact, nil
}

// Store handles an incoming STORE. isCached routes to cache storage
// with expirationSeconds taken literally; otherwise it routes to
// primary storage with this node's configured default expiration (the
// attached DHT's Config.ExpirationTimeSec, or DefaultConfig's when no
// DHT is attached) and runs key propagation for a new sender before
// registering it.
func (n *Node) Store(key ID, sender Contact, value []byte, isCached bool, expirationSeconds int64) error {
	if sender.ID.Equal(n.OurContact.ID) {
		return ErrSenderIsSelf
	}

	if isCached {
		n.bucketList.AddContact(sender, n.pingerFor(sender))
		return n.Cache.Set(key, value, expirationSeconds)
	}
	n.sendKeyValuesIfNewContact(sender)
	n.bucketList.AddContact(sender, n.pingerFor(sender))
	expiration := DefaultConfig().ExpirationTimeSec
	if n.dht != nil {
		expiration = n.dht.cfg.ExpirationTimeSec
	}
	return n.Storage.Set(key, value, expiration)
}

// FindNode handles an incoming FIND_NODE: returns up to k contacts
// close to key, excluding sender, after registering sender.
func (n *Node) FindNode(key ID, sender Contact) ([]Contact, error) {
	if sender.ID.Equal(n.OurContact.ID) {
		return nil, ErrSendingQueryToSelf
	}
	n.sendKeyValuesIfNewContact(sender)
	n.bucketList.AddContact(sender, n.pingerFor(sender))
	return n.bucketList.GetCloseContacts(key, sender.ID), nil
}

// FindValue handles an incoming FIND_VALUE: returns the bound value if
// this node holds it (primary storage first, then cache), otherwise up
// to k contacts close to key.
func (n *Node) FindValue(key ID, sender Contact) (contacts []Contact, value []byte, found bool, err error) {
	if sender.ID.Equal(n.OurContact.ID) {
		return nil, nil, false, ErrSendingQueryToSelf
	}
	n.sendKeyValuesIfNewContact(sender)
	n.bucketList.AddContact(sender, n.pingerFor(sender))

	if ok, v := n.Storage.TryGet(key); ok {
		n.log.debug("value served from primary storage")
		return nil, v, true, nil
	}
	if ok, v := n.Cache.TryGet(key); ok {
		n.log.debug("value served from cache storage")
		return nil, v, true, nil
	}
	n.log.debug("value absent, returning close contacts")
	return n.bucketList.GetCloseContacts(key, sender.ID), nil, false, nil
}

// sendKeyValuesIfNewContact implements the anti-redundancy key
// propagation rule (spec §4.1 "new-contact key propagation"): for a
// contact we've never seen before, transfer every key-value pair in
// primary storage for which we are strictly closer than every contact
// we already know, since those peers cannot be relied on to have
// relayed it.
func (n *Node) sendKeyValuesIfNewContact(sender Contact) {
	if !n.isNewContact(sender) {
		return
	}
	contacts := n.bucketList.AllContacts()
	if len(contacts) == 0 {
		return
	}
	for _, key := range n.Storage.Keys() {
		minOther := contacts[0].ID.Xor(key)
		for _, c := range contacts[1:] {
			if d := c.ID.Xor(key); d.Less(minOther) {
				minOther = d
			}
		}
		if !n.OurContact.ID.Xor(key).Less(minOther) {
			continue
		}
		value, err := n.Storage.Get(key)
		if err != nil {
			continue
		}
		expiration, _ := n.Storage.GetExpirationSeconds(key)
		rpcErr := sender.Protocol.Store(n.OurContact, key, value, false, expiration)
		if n.dht != nil {
			n.dht.HandleError(rpcErr, sender)
		}
	}
}

// isNewContact reports whether sender is absent from both our bucket
// list and the owning DHT's pending-contacts queue.
func (n *Node) isNewContact(sender Contact) bool {
	if n.bucketList.Contains(sender.ID) {
		return false
	}
	if n.dht != nil && n.dht.hasPendingContact(sender.ID) {
		return false
	}
	return true
}

// pingerFor returns a closure AddContact can use to probe a bucket's
// least-recently-seen contact when eviction is in question. It is nil
// when the Node has no attached DHT, so unit tests exercising a bare
// Node fall back to unconditional eviction (see BucketList.AddContact).
func (n *Node) pingerFor(Contact) func(Contact) bool {
	if n.dht == nil {
		return nil
	}
	return func(c Contact) bool {
		result, rpcErr := c.Protocol.Ping(n.OurContact)
		n.dht.HandleError(rpcErr, c)
		return !rpcErr.HasError() && result != nil
	}
}

// SimplyStore directly places a value in primary storage, bypassing
// the sender/propagation machinery. It exists for tests that need to
// seed a node's storage without a full STORE round-trip.
func (n *Node) SimplyStore(key ID, value []byte) error {
	return n.Storage.Set(key, value, 0)
}

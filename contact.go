package kademlia

import "time"

// Contact is a (ID, remote endpoint) tuple: everything a node needs to
// address and recognize a peer. Two contacts are equal iff their IDs
// are equal — a contact may appear in several containers (a bucket, the
// DHT's pending-contacts queue, a router's closer/further sets)
// simultaneously, and that duplication is harmless.
type Contact struct {
	ID       ID
	Protocol Protocol
	LastSeen time.Time
}

// NewContact builds a Contact for a freshly learned peer, stamping
// LastSeen with the current time.
func NewContact(id ID, protocol Protocol) Contact {
	return Contact{ID: id, Protocol: protocol, LastSeen: time.Now()}
}

// Equal reports whether two contacts refer to the same peer, by ID
// only — the protocol endpoint and LastSeen are not part of identity.
func (c Contact) Equal(other Contact) bool {
	return c.ID.Equal(other.ID)
}

// Touch returns a copy of c with LastSeen set to now. Contacts are
// value-like; refreshing LastSeen is done by replacing the contact in
// its container (see KBucket.updateOrAppend), never by mutating a shared value.
func (c Contact) Touch() Contact {
	c.LastSeen = time.Now()
	return c
}

// Package transport provides concrete Protocol implementations: an
// in-process Loopback for tests and colocated simulation, and a
// networked WebSocket transport for real deployments.
package transport

import (
	"errors"

	"github.com/gxnda/kademlia"
)

// Loopback is a Protocol implementation that calls straight into a
// peer Node's methods in the same process, with no serialization or
// network hop. It is grounded on
// original_source/kademlia/networking.py's TCPSubnetServer, which
// dispatches inbound requests to a Node keyed by an in-process
// "subnet" registry rather than an actual socket; Loopback keeps that
// shape but drops the subnet indirection since Go closures can hold
// the target Node directly.
//
// Per spec.md's Design Notes, this coupling (Protocol holding a direct
// Node reference) is deliberately confined to this test-oriented
// variant and never appears in the networked transport.
type Loopback struct {
	node *kademlia.Node
}

// NewLoopback returns a Protocol that delivers RPCs directly to node.
func NewLoopback(node *kademlia.Node) *Loopback {
	return &Loopback{node: node}
}

func (l *Loopback) Ping(sender kademlia.Contact) (*kademlia.PingResult, *kademlia.RPCError) {
	contact, err := l.node.Ping(sender)
	if err != nil {
		return nil, wrapSemantic(err)
	}
	return &kademlia.PingResult{Contact: contact, RandomID: kademlia.RandomRPCID()}, nil
}

func (l *Loopback) Store(sender kademlia.Contact, key kademlia.ID, value []byte, isCached bool, expirationSeconds int64) *kademlia.RPCError {
	if err := l.node.Store(key, sender, value, isCached, expirationSeconds); err != nil {
		return wrapSemantic(err)
	}
	return nil
}

func (l *Loopback) FindNode(sender kademlia.Contact, key kademlia.ID) (*kademlia.FindNodeResult, *kademlia.RPCError) {
	contacts, err := l.node.FindNode(key, sender)
	if err != nil {
		return nil, wrapSemantic(err)
	}
	return &kademlia.FindNodeResult{Contacts: contacts, RandomID: kademlia.RandomRPCID()}, nil
}

func (l *Loopback) FindValue(sender kademlia.Contact, key kademlia.ID) (*kademlia.FindValueResult, *kademlia.RPCError) {
	contacts, value, found, err := l.node.FindValue(key, sender)
	if err != nil {
		return nil, wrapSemantic(err)
	}
	return &kademlia.FindValueResult{
		Contacts: contacts,
		Value:    value,
		Found:    found,
		RandomID: kademlia.RandomRPCID(),
	}, nil
}

// wrapSemantic classifies errors a Node's RPC handlers return: a
// sender-is-self error becomes a semantic failure, and any other error
// a resource failure. A same-process call never times out or is refused.
func wrapSemantic(err error) *kademlia.RPCError {
	if errors.Is(err, kademlia.ErrSendingQueryToSelf) || errors.Is(err, kademlia.ErrSenderIsSelf) {
		return kademlia.NewRPCError(kademlia.ErrKindSemantic, "query sender is self", err)
	}
	return kademlia.NewRPCError(kademlia.ErrKindResource, "loopback RPC failed", err)
}

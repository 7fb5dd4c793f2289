package kademlia

import "github.com/google/uuid"

// RandomRPCID returns a fresh correlation token for an RPC request,
// echoed back by the callee so the caller can detect spoofed or
// mismatched replies (spec §4.4/§6).
func RandomRPCID() string {
	return uuid.New().String()
}

// PingResult is the outcome of a successful PING RPC: the callee's own
// contact (so the caller can refresh its bucket entry) and the echoed
// correlation token.
type PingResult struct {
	Contact  Contact
	RandomID string
}

// FindNodeResult is the outcome of a successful FIND_NODE RPC.
type FindNodeResult struct {
	Contacts []Contact
	RandomID string
}

// FindValueResult is the outcome of a successful FIND_VALUE RPC: either
// Value is set (the callee held the binding) or Contacts is set (the
// callee's closest-known contacts to the key), never both.
type FindValueResult struct {
	Contacts []Contact
	Value    []byte
	Found    bool
	RandomID string
}

// Protocol is the client side of the abstract RPC contract (spec §4.4).
// Every operation takes the local sender contact as its first argument
// and returns either a result or a structured RPCError — never both,
// and never a bare Go error for expected failure modes (timeouts,
// protocol violations); those are represented as *RPCError so callers
// can route them through DHT.HandleError uniformly.
//
// Implementations live in the transport subpackage: Loopback (in-process,
// for tests and colocated simulation) and WebSocketProtocol (networked).
type Protocol interface {
	// Ping tests liveness of the remote contact this Protocol value
	// addresses.
	Ping(sender Contact) (*PingResult, *RPCError)
	// Store places a binding at the remote node. isCached routes to
	// the remote's cache storage with the given expiration; otherwise
	// it routes to primary storage with the remote's configured
	// default expiration and expirationSeconds is ignored.
	Store(sender Contact, key ID, value []byte, isCached bool, expirationSeconds int64) *RPCError
	// FindNode asks the remote for up to k contacts closest to key,
	// excluding sender.
	FindNode(sender Contact, key ID) (*FindNodeResult, *RPCError)
	// FindValue asks the remote for the value bound to key, or (if it
	// doesn't hold the binding) up to k contacts closest to key.
	FindValue(sender Contact, key ID) (*FindValueResult, *RPCError)
}

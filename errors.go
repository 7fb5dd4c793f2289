package kademlia

import (
	"errors"
	"fmt"
)

// RPCErrorKind classifies an RPCError per the error taxonomy in spec §7.
type RPCErrorKind int

const (
	// ErrKindTimeout means the remote peer did not reply within the
	// RPC timeout.
	ErrKindTimeout RPCErrorKind = iota
	// ErrKindUnreachable means the transport could not reach the peer
	// at all (connection refused/reset, DNS failure, ...).
	ErrKindUnreachable
	// ErrKindProtocol means the reply was malformed, used an unknown
	// operation, or its random-id echo did not match the request.
	ErrKindProtocol
	// ErrKindSemantic means the request violated an invariant the
	// remote node enforces (sender equals self, sender ID mismatch).
	ErrKindSemantic
	// ErrKindResource means a local resource failed to service the
	// call (storage I/O failure, bucket list in an unusable state).
	ErrKindResource
)

func (k RPCErrorKind) String() string {
	switch k {
	case ErrKindTimeout:
		return "timeout"
	case ErrKindUnreachable:
		return "unreachable"
	case ErrKindProtocol:
		return "protocol"
	case ErrKindSemantic:
		return "semantic"
	case ErrKindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// RPCError is the structured error every Protocol operation returns in
// place of a Go error value when something went wrong at the RPC layer,
// per spec §4.4 ("returns either a result or a structured RPC error").
// It still implements error so it composes with errors.Is/errors.As.
type RPCError struct {
	Kind    RPCErrorKind
	Message string
	Cause   error
}

func (e *RPCError) Error() string {
	if e == nil {
		return "<nil RPCError>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("kademlia: rpc %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("kademlia: rpc %s error: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, to errors.Is/errors.As.
func (e *RPCError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HasError reports whether e denotes an actual failure. A nil *RPCError
// is the "no error" value throughout this package, mirroring the
// Python original's RPCError.has_error() used pervasively in
// routers.py to gate result handling.
func (e *RPCError) HasError() bool {
	return e != nil
}

// NewRPCError builds an RPCError, wrapping cause if non-nil.
func NewRPCError(kind RPCErrorKind, message string, cause error) *RPCError {
	return &RPCError{Kind: kind, Message: message, Cause: cause}
}

// Semantic (programming-fault) errors. These are fatal to the request
// that triggered them — the enclosing RPC call returns them directly to
// the caller rather than funneling them through DHT.HandleError, per
// spec §7's propagation policy. Named after
// original_source/kademlia_dht/node.py and
// original_source/kademlia/routers.py's exception classes.
var (
	// ErrSendingQueryToSelf is returned by Node.Ping/FindNode/FindValue
	// when the sender's ID equals the local node's own ID.
	ErrSendingQueryToSelf = errors.New("kademlia: query sender cannot be ourself")
	// ErrSenderIsSelf is returned by Node.Store under the same
	// condition (kept distinct from ErrSendingQueryToSelf because the
	// Python original raises a different exception type for STORE,
	// and callers may want to distinguish the RPC that failed).
	ErrSenderIsSelf = errors.New("kademlia: store sender cannot be ourself")
	// ErrValueNotFound is a user-facing error (§7e): the key is absent
	// from every storage this node consulted.
	ErrValueNotFound = errors.New("kademlia: value not found")
	// ErrAllBucketsEmpty is a user-visible failure of bootstrap/find:
	// the router has no contact to start a lookup from.
	ErrAllBucketsEmpty = errors.New("kademlia: all k-buckets are empty")
	// ErrValueCannotBeNil guards the FIND_VALUE RPC contract: a
	// response with neither a contact list nor a value is a protocol
	// violation, never a legitimate "not found" (that case returns an
	// empty contact list instead). Named after routers.py's
	// ValueCannotBeNoneError.
	ErrValueCannotBeNil = errors.New("kademlia: find_value RPC returned neither contacts nor a value")
)

package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxnda/kademlia"
	"github.com/gxnda/kademlia/store"
)

func newWebSocketTestServer(t *testing.T) (*httptest.Server, *kademlia.Node) {
	t.Helper()
	contact := kademlia.NewContact(kademlia.NewRandomID(), nil)
	node := kademlia.NewNode(contact, store.NewVolatile(), store.NewCache(8), 4, 1)

	factory := func(address string) kademlia.Protocol {
		return NewWebSocketProtocol(address, time.Second, nil)
	}
	node.OurContact.Protocol = factory(contact.ID.String())

	srv := NewServer(node, time.Second, factory)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, node
}

func wsURL(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebSocketProtocolPingRoundTrip(t *testing.T) {
	ts, node := newWebSocketTestServer(t)
	var factory ProtocolFactory
	factory = func(address string) kademlia.Protocol { return NewWebSocketProtocol(address, time.Second, factory) }
	client := NewWebSocketProtocol(wsURL(t, ts), time.Second, factory)

	sender := kademlia.NewContact(kademlia.NewRandomID(), client)
	result, rpcErr := client.Ping(sender)

	require.False(t, rpcErr.HasError())
	assert.Equal(t, node.OurContact.ID, result.Contact.ID)
}

func TestWebSocketProtocolStoreAndFindValueRoundTrip(t *testing.T) {
	ts, _ := newWebSocketTestServer(t)
	var factory ProtocolFactory
	factory = func(address string) kademlia.Protocol { return NewWebSocketProtocol(address, time.Second, factory) }
	client := NewWebSocketProtocol(wsURL(t, ts), time.Second, factory)

	sender := kademlia.NewContact(kademlia.NewRandomID(), client)
	key := kademlia.NewRandomID()

	rpcErr := client.Store(sender, key, []byte("wire-value"), false, 3600)
	require.False(t, rpcErr.HasError())

	result, rpcErr2 := client.FindValue(sender, key)
	require.False(t, rpcErr2.HasError())
	assert.True(t, result.Found)
	assert.Equal(t, []byte("wire-value"), result.Value)
}

func TestWebSocketProtocolPingSelfReturnsSemanticError(t *testing.T) {
	ts, node := newWebSocketTestServer(t)
	var factory ProtocolFactory
	factory = func(address string) kademlia.Protocol { return NewWebSocketProtocol(address, time.Second, factory) }
	client := NewWebSocketProtocol(wsURL(t, ts), time.Second, factory)

	selfAsSender := kademlia.NewContact(node.OurContact.ID, client)
	_, rpcErr := client.Ping(selfAsSender)

	require.True(t, rpcErr.HasError())
	assert.Equal(t, kademlia.ErrKindSemantic, rpcErr.Kind)
}

func TestWebSocketProtocolUnreachableAddressReturnsUnreachable(t *testing.T) {
	client := NewWebSocketProtocol("ws://127.0.0.1:1", 50*time.Millisecond, nil)
	sender := kademlia.NewContact(kademlia.NewRandomID(), client)

	_, rpcErr := client.Ping(sender)
	require.True(t, rpcErr.HasError())
	assert.Equal(t, kademlia.ErrKindUnreachable, rpcErr.Kind)
}

func TestClassifyWireError(t *testing.T) {
	assert.Equal(t, kademlia.ErrKindSemantic, classifyWireError("semantic"))
	assert.Equal(t, kademlia.ErrKindResource, classifyWireError("resource"))
	assert.Equal(t, kademlia.ErrKindProtocol, classifyWireError("unknown-kind"))
}

package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxnda/kademlia"
	"github.com/gxnda/kademlia/store"
	"github.com/gxnda/kademlia/transport"
)

func newTestNode(t *testing.T) *kademlia.Node {
	t.Helper()
	contact := kademlia.NewContact(kademlia.NewRandomID(), nil)
	return kademlia.NewNode(contact, store.NewVolatile(), store.NewCache(8), 4, 1)
}

func TestLoopbackPingRoundTrip(t *testing.T) {
	node := newTestNode(t)
	lb := transport.NewLoopback(node)

	sender := kademlia.NewContact(kademlia.NewRandomID(), nil)
	result, rpcErr := lb.Ping(sender)

	require.False(t, rpcErr.HasError())
	assert.Equal(t, node.OurContact.ID, result.Contact.ID)
}

func TestLoopbackPingSelfReturnsSemanticError(t *testing.T) {
	node := newTestNode(t)
	lb := transport.NewLoopback(node)

	_, rpcErr := lb.Ping(node.OurContact)

	require.True(t, rpcErr.HasError())
	assert.Equal(t, kademlia.ErrKindSemantic, rpcErr.Kind)
}

func TestLoopbackStoreAndFindValueRoundTrip(t *testing.T) {
	node := newTestNode(t)
	lb := transport.NewLoopback(node)
	sender := kademlia.NewContact(kademlia.NewRandomID(), nil)
	key := kademlia.NewRandomID()

	rpcErr := lb.Store(sender, key, []byte("hello"), false, 3600)
	require.False(t, rpcErr.HasError())

	result, rpcErr2 := lb.FindValue(sender, key)
	require.False(t, rpcErr2.HasError())
	assert.True(t, result.Found)
	assert.Equal(t, []byte("hello"), result.Value)
}

func TestLoopbackFindNodeExcludesSender(t *testing.T) {
	node := newTestNode(t)
	lb := transport.NewLoopback(node)
	sender := kademlia.NewContact(kademlia.NewRandomID(), nil)
	other := kademlia.NewContact(kademlia.NewRandomID(), nil)
	node.BucketList().AddContact(sender, nil)
	node.BucketList().AddContact(other, nil)

	result, rpcErr := lb.FindNode(sender, kademlia.NewRandomID())
	require.False(t, rpcErr.HasError())
	for _, c := range result.Contacts {
		assert.NotEqual(t, sender.ID, c.ID)
	}
}

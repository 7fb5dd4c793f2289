package kademlia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDHTFindValueLocalHit(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 1, false)
	d := peers[0].dht

	key := NewRandomID()
	require.NoError(t, d.Store(key, []byte("local")))

	found, contacts, value, err := d.FindValue(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, contacts)
	assert.Equal(t, []byte("local"), value)
}

func TestDHTFindValueOnRemotePeer(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 5, false)
	seedMesh(peers)

	key := NewRandomID()
	require.NoError(t, peers[2].dht.Node().SimplyStore(key, []byte("remote")))

	found, _, value, err := peers[0].dht.FindValue(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("remote"), value)
}

func TestDHTFindValueCachesAtClosestIntermediate(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 5, false)
	seedMesh(peers)

	// Keying on peers[1]'s own ID makes peers[1] strictly closer to the
	// key than the holder, so there is always a closer contact to cache at.
	key := peers[1].contact.ID
	holder := peers[4]
	require.NoError(t, holder.dht.Node().SimplyStore(key, []byte("to-cache")))

	found, _, _, err := peers[0].dht.FindValue(key)
	require.NoError(t, err)
	require.True(t, found)

	cachedSomewhere := false
	for _, p := range peers {
		if p == holder {
			continue
		}
		if ok, v := p.dht.Node().Cache.TryGet(key); ok {
			cachedSomewhere = true
			assert.Equal(t, []byte("to-cache"), v)
		}
	}
	assert.True(t, cachedSomewhere, "an intermediate peer visited during lookup should receive a cached copy")
}

func TestDHTStorePropagatesToClosestPeers(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 5, false)
	seedMesh(peers)

	key := NewRandomID()
	require.NoError(t, peers[0].dht.Store(key, []byte("propagated")))

	propagatedCount := 0
	for _, p := range peers[1:] {
		if p.dht.Node().Storage.Contains(key) {
			propagatedCount++
		}
	}
	assert.Greater(t, propagatedCount, 0, "store should propagate to at least one other peer's republish storage")
}

func TestDHTBootstrapPopulatesRoutingTable(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 3, false)

	require.NoError(t, peers[0].dht.Bootstrap(peers[1].contact))

	assert.True(t, peers[0].dht.Node().BucketList().Contains(peers[1].contact.ID))
}

func TestDHTFindValueReturnsCloseContactsWhenAbsent(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 5, false)
	seedMesh(peers)

	found, contacts, value, err := peers[0].dht.FindValue(NewRandomID())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
	assert.NotEmpty(t, contacts)
}

func TestDHTFindValueOnEmptyBucketListReturnsError(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 1, false)

	_, _, _, err := peers[0].dht.FindValue(NewRandomID())
	assert.ErrorIs(t, err, ErrAllBucketsEmpty)
}

func TestDHTHandleErrorEvictsAfterLimit(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 2, false)
	d := peers[0].dht
	victim := peers[1].contact

	d.Node().BucketList().AddContact(victim, nil)
	require.True(t, d.Node().BucketList().Contains(victim.ID))

	timeoutErr := NewRPCError(ErrKindTimeout, "no response", nil)
	for i := 0; i < cfg.EvictionLimit; i++ {
		d.HandleError(timeoutErr, victim)
	}

	assert.False(t, d.Node().BucketList().Contains(victim.ID), "contact must be evicted after cfg.EvictionLimit consecutive failures")
}

func TestDHTHandleErrorResetsCounterOnSuccess(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 2, false)
	d := peers[0].dht
	target := peers[1].contact
	d.Node().BucketList().AddContact(target, nil)

	timeoutErr := NewRPCError(ErrKindTimeout, "no response", nil)
	d.HandleError(timeoutErr, target)
	d.HandleError(nil, target) // a success resets the streak

	for i := 0; i < cfg.EvictionLimit-1; i++ {
		d.HandleError(timeoutErr, target)
	}
	assert.True(t, d.Node().BucketList().Contains(target.ID), "a success in between failures must reset the eviction counter")
}

func TestDHTBootstrapWithSingleKnownPeerSucceeds(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 2, false)

	// Bootstrapping against a single known peer must succeed even
	// though the self-lookup it triggers will find nothing beyond that
	// one contact.
	err := peers[0].dht.Bootstrap(peers[1].contact)
	assert.NoError(t, err)
}

package kademlia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintainerSweepExpiredRemovesStaleBindings(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 1, false)
	d := peers[0].dht

	key := NewRandomID()

	// Seed a binding whose timestamp is already in the past, so the
	// sweep considers it expired without a real sleep.
	backdated := &memStorage{items: map[ID]StoreValue{
		key: {Value: []byte("v"), ExpirationSeconds: 1, RepublishTimestamp: time.Now().Add(-2 * time.Second)},
	}}
	d.republishStorage = backdated

	d.maint.sweepExpired()

	assert.False(t, backdated.Contains(key), "expired binding must be swept")
}

func TestMaintainerSweepExpiredKeepsNonExpiring(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 1, false)
	d := peers[0].dht

	key := NewRandomID()
	require.NoError(t, d.republishStorage.Set(key, []byte("v"), 0)) // 0 means never expires

	d.maint.sweepExpired()

	assert.True(t, d.republishStorage.Contains(key))
}

func TestMaintainerRepublishKeyValuesTouchesAndStores(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 3, false)
	seedMesh(peers)
	d := peers[0].dht

	key := NewRandomID()
	old := &memStorage{items: map[ID]StoreValue{
		key: {Value: []byte("v"), ExpirationSeconds: 0, RepublishTimestamp: time.Now().Add(-time.Hour)},
	}}
	d.republishStorage = old

	d.maint.republishKeyValues()

	ts, err := old.GetTimestamp(key)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Second, "republish must refresh the timestamp")
}

func TestMaintainerRefreshStaleBucketsSkipsOwnerBucket(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 2, false)
	d := peers[0].dht

	// With only the fresh, just-created routing table, the bucket
	// containing our own ID must never be selected for refresh; this
	// must not panic even with no other contacts known.
	d.maint.refreshStaleBuckets()
}

func TestMaintainerStartStopIsIdempotentAndJoins(t *testing.T) {
	cfg := smallConfig()
	peers := newTestNetwork(cfg, 1, false)
	d := peers[0].dht

	d.StartMaintenance()
	d.StartMaintenance() // second Start before Stop is a no-op
	time.Sleep(cfg.ExpirationScanInterval * 3)
	d.Close()
	d.Close() // second Stop is a no-op
}

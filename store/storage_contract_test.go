package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxnda/kademlia"
)

// storageUnderTest is the Storage contract every concrete
// implementation in this package must satisfy identically.
type storageUnderTest interface {
	Contains(key kademlia.ID) bool
	Get(key kademlia.ID) ([]byte, error)
	TryGet(key kademlia.ID) (bool, []byte)
	Set(key kademlia.ID, value []byte, expirationSeconds int64) error
	Remove(key kademlia.ID) error
	Keys() []kademlia.ID
	Touch(key kademlia.ID) error
	GetTimestamp(key kademlia.ID) (time.Time, error)
	GetExpirationSeconds(key kademlia.ID) (int64, error)
}

// exerciseStorageContract runs the common Storage behaviors against s,
// shared by Volatile, Cache, and Persistent's test files.
func exerciseStorageContract(t *testing.T, s storageUnderTest) {
	t.Helper()

	key := kademlia.NewRandomID()

	assert.False(t, s.Contains(key))
	ok, v := s.TryGet(key)
	assert.False(t, ok)
	assert.Nil(t, v)
	_, err := s.Get(key)
	assert.Error(t, err)

	require.NoError(t, s.Set(key, []byte("value"), 3600))
	assert.True(t, s.Contains(key))

	ok, v = s.TryGet(key)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), v)

	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	exp, err := s.GetExpirationSeconds(key)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), exp)

	ts1, err := s.GetTimestamp(key)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	require.NoError(t, s.Touch(key))
	ts2, err := s.GetTimestamp(key)
	require.NoError(t, err)
	assert.True(t, ts2.After(ts1), "Touch must advance the republish timestamp")

	assert.Contains(t, s.Keys(), key)

	require.NoError(t, s.Remove(key))
	assert.False(t, s.Contains(key))
	assert.NotContains(t, s.Keys(), key)
}

func exerciseStorageOverwrite(t *testing.T, s storageUnderTest) {
	t.Helper()
	key := kademlia.NewRandomID()

	require.NoError(t, s.Set(key, []byte("first"), 100))
	require.NoError(t, s.Set(key, []byte("second"), 200))

	_, v := s.TryGet(key)
	assert.Equal(t, []byte("second"), v)
	exp, err := s.GetExpirationSeconds(key)
	require.NoError(t, err)
	assert.Equal(t, int64(200), exp)
}

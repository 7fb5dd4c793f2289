package kademlia

import (
	"math/big"
	"sort"
	"time"
)

// KBucket holds up to Capacity contacts whose IDs fall in the half-open
// range [Low, High). Contacts are kept ordered least-recently-seen
// first (index 0) so the next candidate for eviction is always at the
// front; a touched or newly added contact moves to the back.
//
// A KBucket never merges with another once created; BucketList.split
// replaces one bucket with two. All mutation happens through
// BucketList's lock — KBucket itself assumes single-writer access, the
// same discipline the teacher's KBucket (opd-ai-toxcore dht/routing.go)
// and peterdelong-Kademlia's KBucket both apply at the routing-table
// level.
type KBucket struct {
	Low, High ID
	Capacity  int
	contacts  []Contact
	touchedAt time.Time
}

// NewKBucket creates an empty bucket covering [low, high) with room for
// capacity contacts.
func NewKBucket(low, high ID, capacity int) *KBucket {
	return &KBucket{
		Low:       low,
		High:      high,
		Capacity:  capacity,
		touchedAt: time.Now(),
	}
}

// Contains reports whether key falls within this bucket's range. High
// is exclusive, except that the all-ones ID (the largest value an ID
// can represent, standing in for the unreachable 2^160 upper bound of
// the whole space) is always treated as inclusive, so the topmost
// bucket's range reaches the true end of the ID space.
func (b *KBucket) Contains(key ID) bool {
	if !key.Less(b.Low) {
		if key.Less(b.High) {
			return true
		}
		return key == b.High && key == maxID
	}
	return false
}

// Contacts returns a copy of the bucket's contact list, oldest-seen
// first.
func (b *KBucket) Contacts() []Contact {
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

// Len reports how many contacts the bucket currently holds.
func (b *KBucket) Len() int {
	return len(b.contacts)
}

// IsFull reports whether the bucket is at capacity.
func (b *KBucket) IsFull() bool {
	return len(b.contacts) >= b.Capacity
}

// TouchedAt returns the last time any contact in the bucket was added
// or refreshed.
func (b *KBucket) TouchedAt() time.Time {
	return b.touchedAt
}

// indexOf returns the index of a contact with the given ID, or -1.
func (b *KBucket) indexOf(id ID) int {
	for i, c := range b.contacts {
		if c.ID.Equal(id) {
			return i
		}
	}
	return -1
}

// ContactExists reports whether id is already present in the bucket.
func (b *KBucket) ContactExists(id ID) bool {
	return b.indexOf(id) >= 0
}

// touch marks the bucket itself as recently active, independent of any
// particular contact.
func (b *KBucket) touch() {
	b.touchedAt = time.Now()
}

// updateOrAppend moves an existing contact to the back (refreshing its
// LastSeen) or appends c if the bucket has room. It reports whether c
// is now present in the bucket. Capacity is not checked by the caller
// here: the caller (BucketList.AddContact) handles the full case, since
// that path may require a PING round-trip to the least-recently-seen
// contact.
func (b *KBucket) updateOrAppend(c Contact) bool {
	if i := b.indexOf(c.ID); i >= 0 {
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		b.contacts = append(b.contacts, c.Touch())
		b.touch()
		return true
	}
	if len(b.contacts) < b.Capacity {
		b.contacts = append(b.contacts, c.Touch())
		b.touch()
		return true
	}
	return false
}

// leastRecentlySeen returns the contact at the front of the list (the
// PING-before-evict candidate), or the zero Contact and false if empty.
func (b *KBucket) leastRecentlySeen() (Contact, bool) {
	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	return b.contacts[0], true
}

// evictFrontAndAppend drops the least-recently-seen contact and appends
// replacement, used when a PING to the LRS contact times out.
func (b *KBucket) evictFrontAndAppend(replacement Contact) {
	if len(b.contacts) > 0 {
		b.contacts = b.contacts[1:]
	}
	b.contacts = append(b.contacts, replacement.Touch())
	b.touch()
}

// promoteFrontToBack moves the least-recently-seen contact to the back,
// used when a PING to it succeeds (it is alive after all, so the
// prospective new contact C is discarded per spec §4.2 step 3).
func (b *KBucket) promoteFrontToBack() {
	if len(b.contacts) == 0 {
		return
	}
	front := b.contacts[0].Touch()
	b.contacts = append(b.contacts[1:], front)
	b.touch()
}

// remove deletes id from the bucket, if present.
func (b *KBucket) remove(id ID) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	return true
}

// depth returns log2(High-Low), the length of the shared binary prefix
// every ID in [Low, High) has in common. This equals bit-prefix length
// only when the range is an aligned power-of-two width, which holds for
// every bucket BucketList.split ever produces (spec Design Note iii).
func (b *KBucket) depth() int {
	return IDLengthBits - (widthBitLen(b.Low, b.High) - 1)
}

// widthBitLen returns the bit length of high-low, where a high of maxID
// stands for 2^160. For a power-of-two width 2^n this is n+1.
func widthBitLen(low, high ID) int {
	highBig := high.toBig()
	if high == maxID {
		highBig.Add(highBig, big.NewInt(1))
	}
	return new(big.Int).Sub(highBig, low.toBig()).BitLen()
}

// sortedByDistance returns b's contacts sorted by ascending XOR distance
// to key.
func (b *KBucket) sortedByDistance(key ID) []Contact {
	out := b.Contacts()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Xor(key).Less(out[j].ID.Xor(key))
	})
	return out
}

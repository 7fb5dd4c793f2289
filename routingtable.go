package kademlia

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// maxID is the largest representable ID (2^160 - 1), the exclusive upper
// bound of the final bucket's range is conceptually 2^160, one past
// maxID; see BucketList's treatment of the top bucket's High.
var maxID = func() ID {
	var id ID
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// BucketList is a node's routing table: an ordered, non-overlapping,
// contiguous partition of the ID space [0, 2^160) into KBuckets, split
// progressively as contacts accumulate near the owner's own ID (spec
// §3/§4.2). It is grounded on the teacher's RoutingTable
// (opd-ai-toxcore dht/routing.go), reworked from a fixed 256-bucket
// array into a dynamically split slice since this spec's bucket count
// is unbounded and depth-gated rather than fixed at the ID width.
type BucketList struct {
	ownerID ID
	b       int // split depth modulus
	k       int // per-bucket capacity
	buckets []*KBucket
	mu      sync.RWMutex
	log     *componentLogger
}

// NewBucketList creates a BucketList for ownerID with a single bucket
// spanning the entire ID space.
func NewBucketList(ownerID ID, k, b int) *BucketList {
	root := NewKBucket(ID{}, maxID, k)
	return &BucketList{
		ownerID: ownerID,
		b:       b,
		k:       k,
		buckets: []*KBucket{root},
		log:     newComponentLogger("routingtable"),
	}
}

// indexFor returns the index of the unique bucket whose range contains
// key. Buckets are sorted ascending and contiguous, so this is a linear
// scan; bucket counts stay small in practice (bounded by roughly
// 160/b, since only buckets on the path to the owner's ID ever split
// past the first boundary).
func (bl *BucketList) indexFor(key ID) int {
	for i, bkt := range bl.buckets {
		if bkt.Contains(key) {
			return i
		}
	}
	// The last bucket's High is exclusive but must logically cover
	// maxID too, since no ID value can represent 2^160 itself.
	return len(bl.buckets) - 1
}

// GetKBucket returns the unique bucket whose range contains key.
func (bl *BucketList) GetKBucket(key ID) *KBucket {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.buckets[bl.indexFor(key)]
}

// splitEligible reports whether bkt may split: either the owner's own
// ID falls in its range, or its depth is not a multiple of b (spec
// §4.2 split eligibility rule).
func (bl *BucketList) splitEligible(bkt *KBucket) bool {
	if bkt.Contains(bl.ownerID) {
		return true
	}
	return bkt.depth()%bl.b != 0
}

// split replaces bkt (found at index i) with two buckets covering its
// lower and upper halves, redistributing its existing contacts by ID.
func (bl *BucketList) split(i int) {
	bkt := bl.buckets[i]
	mustBeAlignedPowerOfTwo(bkt.Low, bkt.High)
	mid := Mid(bkt.Low, bkt.High)

	lower := NewKBucket(bkt.Low, mid, bkt.Capacity)
	upper := NewKBucket(mid, bkt.High, bkt.Capacity)
	for _, c := range bkt.Contacts() {
		if c.ID.Less(mid) {
			lower.updateOrAppend(c)
		} else {
			upper.updateOrAppend(c)
		}
	}

	bl.buckets = append(bl.buckets[:i], append([]*KBucket{lower, upper}, bl.buckets[i+1:]...)...)
	bl.log.withField("depth", lower.depth()).debug("split bucket")
	bl.log.debugDump("split bucket halves", []*KBucket{lower, upper})
}

// mustBeAlignedPowerOfTwo panics unless [low, high) is an aligned
// power-of-two-width range, the precondition KBucket.depth's
// log2(high-low) shortcut requires (spec Design Note iii) and that
// split is the only code path ever allowed to violate.
func mustBeAlignedPowerOfTwo(low, high ID) {
	lowBig := low.toBig()
	highBig := high.toBig()
	if high == maxID {
		highBig = new(big.Int).Add(highBig, big.NewInt(1))
	}
	width := new(big.Int).Sub(highBig, lowBig)
	if width.Sign() <= 0 {
		panic(fmt.Sprintf("kademlia: empty or inverted bucket range low=%s high=%s", low, high))
	}
	if new(big.Int).And(width, new(big.Int).Sub(width, big.NewInt(1))).Sign() != 0 {
		panic(fmt.Sprintf("kademlia: bucket range is not a power-of-two width: low=%s high=%s", low, high))
	}
	if new(big.Int).Mod(lowBig, width).Sign() != 0 {
		panic(fmt.Sprintf("kademlia: bucket range is not aligned to its width: low=%s high=%s", low, high))
	}
}

// AddContact inserts or refreshes c in the routing table, following
// spec §4.2's three-step discipline: move-to-back if already present,
// append if room, else split-or-ping-evict. pinger is used to probe the
// least-recently-seen contact when the bucket is full and not eligible
// to split; it may be nil, in which case a full, non-splittable bucket
// simply evicts the LRS contact unconditionally (used by tests that
// don't wire a live Protocol).
func (bl *BucketList) AddContact(c Contact, pinger func(Contact) bool) {
	bl.mu.Lock()
	i := bl.indexFor(c.ID)
	bkt := bl.buckets[i]

	if bkt.updateOrAppend(c) {
		bl.mu.Unlock()
		return
	}

	if bl.splitEligible(bkt) {
		bl.split(i)
		bl.mu.Unlock()
		bl.AddContact(c, pinger) // re-attempt insertion post-split
		return
	}

	lrs, ok := bkt.leastRecentlySeen()
	bl.mu.Unlock()
	if !ok {
		return
	}

	alive := pinger != nil && pinger(lrs)
	bl.log.withField("alive", alive).debugDump("eviction decision for least-recently-seen contact", lrs)

	bl.mu.Lock()
	defer bl.mu.Unlock()
	// Re-resolve the bucket: a concurrent split may have occurred while
	// the PING was in flight.
	i = bl.indexFor(c.ID)
	bkt = bl.buckets[i]
	if alive {
		bkt.promoteFrontToBack()
		return
	}
	bkt.evictFrontAndAppend(c)
}

// RemoveContact deletes id from whichever bucket currently holds it.
func (bl *BucketList) RemoveContact(id ID) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.buckets[bl.indexFor(id)].remove(id)
}

// Contains reports whether id currently appears in any bucket.
func (bl *BucketList) Contains(id ID) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.buckets[bl.indexFor(id)].ContactExists(id)
}

// GetCloseContacts returns up to k contacts from across the whole
// bucket list closest to key by XOR distance, omitting any contact
// whose ID equals exclude.
func (bl *BucketList) GetCloseContacts(key ID, exclude ID) []Contact {
	bl.mu.RLock()
	all := make([]Contact, 0, bl.k*len(bl.buckets))
	for _, bkt := range bl.buckets {
		all = append(all, bkt.Contacts()...)
	}
	bl.mu.RUnlock()

	filtered := all[:0]
	for _, c := range all {
		if !c.ID.Equal(exclude) {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ID.Xor(key).Less(filtered[j].ID.Xor(key))
	})
	if len(filtered) > bl.k {
		filtered = filtered[:bl.k]
	}
	return filtered
}

// AllContacts returns every contact currently known, across all
// buckets, in no particular order. Used by Node's new-contact key
// propagation.
func (bl *BucketList) AllContacts() []Contact {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	out := make([]Contact, 0, bl.k*len(bl.buckets))
	for _, bkt := range bl.buckets {
		out = append(out, bkt.Contacts()...)
	}
	return out
}

// BucketRanges returns the (Low, High) range of every bucket, in
// ascending order, for maintenance's per-bucket refresh lookups.
func (bl *BucketList) BucketRanges() []struct{ Low, High ID } {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	out := make([]struct{ Low, High ID }, len(bl.buckets))
	for i, bkt := range bl.buckets {
		out[i] = struct{ Low, High ID }{bkt.Low, bkt.High}
	}
	return out
}

// IsEmpty reports whether the bucket list holds no contacts at all,
// the precondition spec §4.6 calls "all k-buckets are empty" during
// lookup initialization.
func (bl *BucketList) IsEmpty() bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	for _, bkt := range bl.buckets {
		if bkt.Len() > 0 {
			return false
		}
	}
	return true
}

// BucketCount reports how many buckets currently partition the ID
// space, for tests asserting the split-under-load invariant.
func (bl *BucketList) BucketCount() int {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return len(bl.buckets)
}

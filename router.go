package kademlia

import "sort"

// RPCCall is the shape both FIND_NODE and FIND_VALUE lookups share once
// reduced to "ask this contact about this key": a list of contacts
// returned by the callee (nil if the callee instead held the value or
// the RPC failed), the contact that held the value (nil otherwise), and
// the value (nil if the callee instead returned contacts).
// baseRouter.rpcFindNodes and rpcFindValue adapt the
// two distinct Protocol methods to this common shape so the lookup loop
// in Router/ParallelRouter need not know which kind of lookup it is
// driving.
type RPCCall func(key ID, contact Contact) (contacts []Contact, foundBy *Contact, value []byte)

// QueryReturn is the result of a lookup: either a value was found (Found
// is true, Value and FoundBy are set), or the search is exhausted and
// Contacts holds the k closest contacts discovered, sorted ascending by
// distance to the lookup key.
type QueryReturn struct {
	Found    bool
	Contacts []Contact
	FoundBy  *Contact
	Value    []byte
}

// baseRouter holds the lookup-algorithm helpers shared by Router
// (serial) and ParallelRouter (concurrent), grounded on
// original_source/kademlia/routers.py's BaseRouter. Both routers embed
// it; DHT also builds a baseRouter value directly for its RPC adapters.
type baseRouter struct {
	node *Node
	dht  *DHT
	cfg  *Config
	log  *componentLogger
}

// findClosestNonemptyKBucket returns the non-empty bucket whose range
// is closest to key, measured as the XOR of the bucket's Low bound and
// key. Nothing in the package calls it. Returns
// ErrAllBucketsEmpty if every bucket is empty.
func (r *baseRouter) findClosestNonemptyKBucket(key ID) (*KBucket, error) {
	ranges := r.node.bucketList.BucketRanges()
	var best *KBucket
	var bestDist ID
	for _, rg := range ranges {
		bkt := r.node.bucketList.GetKBucket(rg.Low)
		if bkt.Len() == 0 {
			continue
		}
		dist := bkt.Low.Xor(key)
		if best == nil || dist.Less(bestDist) {
			best, bestDist = bkt, dist
		}
	}
	if best == nil {
		return nil, ErrAllBucketsEmpty
	}
	return best, nil
}

// rpcFindNodes adapts Protocol.FindNode to the RPCCall shape.
func (r *baseRouter) rpcFindNodes(key ID, contact Contact) (contacts []Contact, foundBy *Contact, value []byte) {
	result, rpcErr := contact.Protocol.FindNode(r.node.OurContact, key)
	if r.dht != nil {
		r.dht.HandleError(rpcErr, contact)
	}
	if rpcErr.HasError() || result == nil {
		return nil, nil, nil
	}
	r.node.bucketList.AddContact(contact, r.node.pingerFor(contact))
	return result.Contacts, nil, nil
}

// rpcFindValue adapts Protocol.FindValue to the RPCCall shape.
func (r *baseRouter) rpcFindValue(key ID, contact Contact) (contacts []Contact, foundBy *Contact, value []byte) {
	result, rpcErr := contact.Protocol.FindValue(r.node.OurContact, key)
	if r.dht != nil {
		r.dht.HandleError(rpcErr, contact)
	}
	if rpcErr.HasError() || result == nil {
		return nil, nil, nil
	}
	r.node.bucketList.AddContact(contact, r.node.pingerFor(contact))
	if result.Found {
		c := contact
		return nil, &c, result.Value
	}
	return result.Contacts, nil, nil
}

// getCloserNodes queries node_to_query for key via rpc, classifies
// every newly learned peer as closer when its XOR distance to
// node_to_query is less than node_to_query's distance to key (further
// otherwise), and appends each to the appropriate running list
// (deduplicated). It reports whether the call itself produced a value.
func (r *baseRouter) getCloserNodes(key ID, nodeToQuery Contact, rpc RPCCall, closer, further *[]Contact) (found bool, foundBy *Contact, value []byte) {
	contacts, fb, val := rpc(key, nodeToQuery)

	distanceToQueried := nodeToQuery.ID.Xor(key)

	for _, c := range contacts {
		if c.ID.Equal(r.node.OurContact.ID) || c.ID.Equal(nodeToQuery.ID) {
			continue
		}
		if containsID(*closer, c.ID) || containsID(*further, c.ID) {
			continue
		}
		if c.ID.Xor(nodeToQuery.ID).Less(distanceToQueried) {
			*closer = append(*closer, c)
		} else {
			*further = append(*further, c)
		}
	}

	return val != nil || fb != nil, fb, val
}

// query drives rpc_call against each of nodesToQuery in turn, stopping
// at the first hit.
func (r *baseRouter) query(key ID, nodesToQuery []Contact, rpc RPCCall, closer, further *[]Contact) QueryReturn {
	for _, n := range nodesToQuery {
		found, foundBy, val := r.getCloserNodes(key, n, rpc, closer, further)
		if found {
			return QueryReturn{Found: true, Contacts: *closer, FoundBy: foundBy, Value: val}
		}
	}
	return QueryReturn{Found: false, Contacts: *closer}
}

func containsID(contacts []Contact, id ID) bool {
	for _, c := range contacts {
		if c.ID.Equal(id) {
			return true
		}
	}
	return false
}

func uncontacted(candidates, contacted []Contact) []Contact {
	out := make([]Contact, 0, len(candidates))
	for _, c := range candidates {
		if !containsID(contacted, c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// sortByDistance sorts contacts ascending by XOR distance to key.
func sortByDistance(contacts []Contact, key ID) {
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].ID.Xor(key).Less(contacts[j].ID.Xor(key))
	})
}

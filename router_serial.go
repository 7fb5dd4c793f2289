package kademlia

// Router is the serial (single-goroutine) iterative lookup: each wave
// of α contacts is queried one at a time, in the calling goroutine,
// before the next wave is chosen. It is grounded on
// original_source/kademlia/routers.py's Router.lookup, line for line,
// and is the router NewDHT wires up by default — ParallelRouter exists
// for callers that want the α-way concurrent variant.
type Router struct {
	baseRouter
}

// NewRouter constructs a serial Router bound to node.
func NewRouter(node *Node, dht *DHT, cfg *Config) *Router {
	return &Router{baseRouter{node: node, dht: dht, cfg: cfg, log: newComponentLogger("router")}}
}

// Lookup performs the iterative FIND_NODE/FIND_VALUE algorithm (spec
// §4.6): start from the k closest known contacts, query α of them,
// classify responses as closer/further, and repeat against the
// next-closest uncontacted contacts until k closer contacts have been
// accumulated or no uncontacted contact remains.
func (r *Router) Lookup(key ID, rpc RPCCall) QueryReturn {
	var closerContacts, furtherContacts []Contact
	var contactedNodes []Contact
	var ret []Contact

	allNodes := r.node.bucketList.GetCloseContacts(key, r.node.OurContact.ID)
	if len(allNodes) > r.cfg.K {
		allNodes = allNodes[:r.cfg.K]
	}
	nodesToQuery := firstN(allNodes, r.cfg.Alpha)

	ourDistance := r.node.OurContact.ID.Xor(key)
	for _, c := range nodesToQuery {
		if c.ID.Xor(key).Less(ourDistance) {
			closerContacts = append(closerContacts, c)
		} else {
			furtherContacts = append(furtherContacts, c)
		}
	}
	if len(allNodes) > r.cfg.Alpha {
		furtherContacts = append(furtherContacts, allNodes[r.cfg.Alpha:]...)
	}
	for _, c := range nodesToQuery {
		if !containsID(contactedNodes, c.ID) {
			contactedNodes = append(contactedNodes, c)
		}
	}

	result := r.query(key, nodesToQuery, rpc, &closerContacts, &furtherContacts)
	if result.Found {
		return result
	}

	for _, c := range closerContacts {
		if !containsID(ret, c.ID) {
			ret = append(ret, c)
		}
	}

	haveWork := true
	for len(ret) < r.cfg.K && haveWork {
		closerUncontacted := uncontacted(closerContacts, contactedNodes)
		furtherUncontacted := uncontacted(furtherContacts, contactedNodes)
		haveCloser := len(closerUncontacted) > 0
		haveFurther := len(furtherUncontacted) > 0
		haveWork = haveCloser || haveFurther

		var next []Contact
		switch {
		case haveCloser:
			next = firstN(closerUncontacted, r.cfg.Alpha)
		case haveFurther:
			next = firstN(furtherUncontacted, r.cfg.Alpha)
		default:
			continue
		}
		for _, c := range next {
			if !containsID(contactedNodes, c.ID) {
				contactedNodes = append(contactedNodes, c)
			}
		}

		result = r.query(key, next, rpc, &closerContacts, &furtherContacts)
		if result.Found {
			return result
		}
		for _, c := range closerContacts {
			if !containsID(ret, c.ID) {
				ret = append(ret, c)
			}
		}
	}

	for _, c := range furtherContacts {
		if !containsID(ret, c.ID) {
			ret = append(ret, c)
		}
	}
	sortByDistance(ret, key)
	if len(ret) > r.cfg.K {
		ret = ret[:r.cfg.K]
	}
	return QueryReturn{Found: false, Contacts: ret}
}

func firstN(contacts []Contact, n int) []Contact {
	if len(contacts) <= n {
		return contacts
	}
	return contacts[:n]
}

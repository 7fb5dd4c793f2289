// Package kademlia implements a peer-to-peer distributed hash table built
// on the Kademlia protocol: nodes identified by 160-bit identifiers
// cooperatively store and retrieve key/value bindings by routing queries
// through an XOR-metric overlay.
//
// The package covers the overlay engine only: the identifier space and
// XOR metric (ID), the routing table of k-buckets (KBucket, BucketList),
// the four remote procedures (Node), the iterative lookup algorithm
// (Router, ParallelRouter), the maintenance loops and orchestration
// (DHT), and the pluggable storage contract (Storage, implemented by the
// store subpackage). Wire transport is supplied by the transport
// subpackage; neither a GUI nor a file-chunking layer is part of this
// module.
//
// A minimal single-process example:
//
//	cfg := kademlia.DefaultConfig()
//	ourContact := kademlia.NewContact(kademlia.NewRandomID(), nil)
//	d := kademlia.NewDHT(ourContact, cfg, kademlia.DHTOptions{
//	    OriginatorStorage: store.NewVolatile(),
//	    RepublishStorage:  store.NewVolatile(),
//	    CacheStorage:      store.NewCache(cfg.K),
//	})
//	defer d.Close()
package kademlia

package kademlia

import (
	"context"
	"sync"
	"time"
)

// Maintainer runs the four independent periodic tasks spec §4.7
// requires: key-value republish, originator republish, expiration
// sweep, and bucket refresh. Each runs on its own ticker goroutine,
// following the same context-cancellation-plus-WaitGroup shutdown
// idiom as opd-ai-toxcore's dht.Maintainer (dht/maintenance.go).
type Maintainer struct {
	dht *DHT
	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool

	log *componentLogger
}

// NewMaintainer creates a Maintainer for dht, not yet started.
func NewMaintainer(dht *DHT, cfg *Config) *Maintainer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Maintainer{
		dht:    dht,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    newComponentLogger("maintenance"),
	}
}

// Start launches all four maintenance goroutines. Calling Start twice
// without an intervening Stop is a no-op.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return
	}
	m.isRunning = true

	m.wg.Add(4)
	go m.loop(m.cfg.KeyValueRepublishInterval, m.republishKeyValues)
	go m.loop(m.cfg.OriginatorRepublishInterval, m.republishOriginator)
	go m.loop(m.cfg.ExpirationScanInterval, m.sweepExpired)
	go m.loop(m.cfg.BucketRefreshInterval, m.refreshStaleBuckets)
}

// Stop cancels and joins all maintenance goroutines.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Maintainer) loop(interval time.Duration, task func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// republishKeyValues re-stores every binding in republishStorage whose
// timestamp has aged past the republish interval, refreshing its
// timestamp on the peers that still hold it.
func (m *Maintainer) republishKeyValues() {
	m.republishFrom(m.dht.republishStorage, m.cfg.KeyValueRepublishInterval)
}

// republishOriginator does the same over originatorStorage, on the
// longer interval reserved for values this node personally published.
func (m *Maintainer) republishOriginator() {
	m.republishFrom(m.dht.originatorStorage, m.cfg.OriginatorRepublishInterval)
}

func (m *Maintainer) republishFrom(storage Storage, period time.Duration) {
	for _, key := range storage.Keys() {
		ts, err := storage.GetTimestamp(key)
		if err != nil {
			continue
		}
		if time.Since(ts) < period {
			continue
		}
		value, err := storage.Get(key)
		if err != nil {
			m.log.errorf(err, "republish: reading value failed")
			continue
		}
		if err := storage.Touch(key); err != nil {
			m.log.errorf(err, "republish: touch failed")
		}
		if err := m.dht.Store(key, value); err != nil {
			m.log.errorf(err, "republish: store RPC wave failed")
		}
	}
}

// sweepExpired removes, from every storage, bindings whose age since
// republish_timestamp has reached their expiration window (0 meaning
// "never expires").
func (m *Maintainer) sweepExpired() {
	for _, storage := range []Storage{m.dht.originatorStorage, m.dht.republishStorage, m.dht.cacheStorage} {
		for _, key := range storage.Keys() {
			expiration, err := storage.GetExpirationSeconds(key)
			if err != nil || expiration == 0 {
				continue
			}
			ts, err := storage.GetTimestamp(key)
			if err != nil {
				continue
			}
			if time.Since(ts) >= time.Duration(expiration)*time.Second {
				if err := storage.Remove(key); err != nil {
					m.log.errorf(err, "expiration sweep: remove failed")
				}
			}
		}
	}
}

// refreshStaleBuckets performs a FIND_NODE on a random ID within every
// bucket that has gone untouched for the refresh interval and does not
// contain our own ID.
func (m *Maintainer) refreshStaleBuckets() {
	ourID := m.dht.node.OurContact.ID
	bl := m.dht.node.BucketList()
	for _, rg := range bl.BucketRanges() {
		if !ourID.Less(rg.Low) && ourID.Less(rg.High) {
			continue
		}
		bkt := bl.GetKBucket(rg.Low)
		if time.Since(bkt.TouchedAt()) < m.cfg.BucketRefreshInterval {
			continue
		}
		if !rg.Low.Less(rg.High) {
			continue
		}
		target := RandomIDInRange(rg.Low, rg.High)
		if _, err := m.dht.findNode(target); err != nil {
			m.log.errorf(err, "bucket refresh failed")
		}
	}
}

package kademlia

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6. Values are always passed
// explicitly to constructors — there is no package-level mutable
// default, per the Design Notes' "replace module-wide booleans with
// injected configuration."
type Config struct {
	// K is the maximum number of contacts per k-bucket.
	K int `yaml:"k"`
	// Alpha is the concurrency factor for lookups.
	Alpha int `yaml:"alpha"`
	// B is the bucket-split depth modulus.
	B int `yaml:"b"`

	// RequestTimeout bounds a single RPC.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxThreads sizes the parallel router's worker pool.
	MaxThreads int `yaml:"max_threads"`
	// ExpirationTimeSec is the default binding lifetime for STORE
	// calls that do not specify one explicitly.
	ExpirationTimeSec int64 `yaml:"expiration_time_sec"`

	// BucketRefreshInterval is the period of the bucket-refresh timer.
	BucketRefreshInterval time.Duration `yaml:"bucket_refresh_interval"`
	// OriginatorRepublishInterval is the period of the originator
	// republish timer.
	OriginatorRepublishInterval time.Duration `yaml:"originator_republish_interval"`
	// KeyValueRepublishInterval is the period of the republish-storage
	// republish timer.
	KeyValueRepublishInterval time.Duration `yaml:"key_value_republish_interval"`
	// ExpirationScanInterval is the period of the expiration sweep.
	ExpirationScanInterval time.Duration `yaml:"expiration_scan_interval"`

	// QueryTime bounds a single wave of the parallel router.
	QueryTime time.Duration `yaml:"query_time"`
	// ResponseWait is how long the parallel router sleeps between
	// polling the shared find-result between waves.
	ResponseWait time.Duration `yaml:"response_wait"`

	// EvictionLimit is the number of consecutive RPC failures before a
	// contact is evicted from its bucket.
	EvictionLimit int `yaml:"eviction_limit"`

	// Debug enables verbose debug-level logging. It never changes
	// object construction requirements (see SPEC_FULL.md §9 item 4).
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() *Config {
	return &Config{
		K:                           20,
		Alpha:                       3,
		B:                           5,
		RequestTimeout:              500 * time.Millisecond,
		MaxThreads:                  4,
		ExpirationTimeSec:           86400,
		BucketRefreshInterval:       3600 * time.Second,
		OriginatorRepublishInterval: 86400 * time.Second,
		KeyValueRepublishInterval:   3600 * time.Second,
		ExpirationScanInterval:      600 * time.Second,
		QueryTime:                   500 * time.Millisecond,
		ResponseWait:                10 * time.Millisecond,
		EvictionLimit:               5,
		Debug:                       false,
	}
}

// LoadConfig reads a YAML configuration file, applying it on top of
// DefaultConfig so a file only needs to mention the tunables it
// overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kademlia: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("kademlia: parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// Package config loads the restworkd.yaml worker configuration.
package config

import (
	"fmt"
	"sort"
	"time"
)

// Config is the top-level restworkd.yaml shape. All values are optional and
// act as defaults; CLI flags always override config values.
type Config struct {
	NodeID     string           `yaml:"node_id"`
	Partitions []PartitionRange `yaml:"partitions"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	DedupCache DedupCacheConfig `yaml:"dedup_cache"`
	Invoker    InvokerConfig    `yaml:"invoker"`
	Ingress    IngressConfig    `yaml:"ingress"`
}

// IngressConfig configures delivery of completed invocation responses
// back to the ingress layer.
type IngressConfig struct {
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries int               `yaml:"retries,omitempty"`
}

// PartitionRange assigns one partition id to a contiguous partition-key
// range this node is responsible for hosting.
type PartitionRange struct {
	PartitionID uint64 `yaml:"partition_id"`
	KeyStart    uint64 `yaml:"key_start"`
	KeyEnd      uint64 `yaml:"key_end"`
}

// LogConfig selects and configures the replicated log backend.
type LogConfig struct {
	Backend string `yaml:"backend"` // "memory" for development/test
}

// StorageConfig selects and configures the partition KV backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory"
	Path    string `yaml:"path,omitempty"`
}

// OutboxConfig configures the S3-backed outbox shipper.
type OutboxConfig struct {
	Bucket       string   `yaml:"bucket"`
	Prefix       string   `yaml:"prefix"`
	Region       string   `yaml:"region"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	S3PathStyle  bool     `yaml:"s3_path_style"`
	ZstdCompress bool     `yaml:"zstd_compress"`
	ShipTimeout  Duration `yaml:"ship_timeout,omitempty"`
}

// DedupCacheConfig configures the Redis-backed read-through dedup cache.
// Advisory only: the KV engine is always the source of truth, the cache
// exists to avoid a storage round trip on the hot path.
type DedupCacheConfig struct {
	Addr     string   `yaml:"addr,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	DB       int      `yaml:"db,omitempty"`
	TTL      Duration `yaml:"ttl,omitempty"`
}

// InvokerConfig configures the in-process invocation task executor.
type InvokerConfig struct {
	// Endpoint is the HTTP/2 endpoint every service resolves to. A single
	// shared endpoint is all this worker currently models; a deployment
	// with more than one service handler needs a real service registry,
	// which is out of scope here.
	Endpoint                 string   `yaml:"endpoint,omitempty"`
	MaxConcurrentInvocations int      `yaml:"max_concurrent_invocations"`
	RequestTimeout           Duration `yaml:"request_timeout,omitempty"`
	ShutdownGrace            Duration `yaml:"shutdown_grace,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// SortedPartitions returns Partitions sorted by PartitionID, for
// deterministic startup ordering.
func (c *Config) SortedPartitions() []PartitionRange {
	out := make([]PartitionRange, len(c.Partitions))
	copy(out, c.Partitions)
	sort.Slice(out, func(i, j int) bool { return out[i].PartitionID < out[j].PartitionID })
	return out
}

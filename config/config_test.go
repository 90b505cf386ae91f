package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "restworkd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `node_id: n1
partitions:
  - partition_id: 0
    key_start: 0
    key_end: 9223372036854775807

log:
  backend: memory

storage:
  backend: memory

outbox:
  bucket: my-bucket
  prefix: outbox/
  region: us-east-1
  zstd_compress: true
  ship_timeout: 10s

dedup_cache:
  addr: localhost:6379
  ttl: 1h

invoker:
  max_concurrent_invocations: 64
  request_timeout: 30s
  shutdown_grace: 5s
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.NodeID != "n1" {
		t.Errorf("node_id = %q, want n1", cfg.NodeID)
	}
	if len(cfg.Partitions) != 1 || cfg.Partitions[0].PartitionID != 0 {
		t.Errorf("partitions = %+v", cfg.Partitions)
	}
	if cfg.Outbox.Bucket != "my-bucket" || !cfg.Outbox.ZstdCompress {
		t.Errorf("outbox = %+v", cfg.Outbox)
	}
	if cfg.Outbox.ShipTimeout.Duration != 10*time.Second {
		t.Errorf("ship_timeout = %v, want 10s", cfg.Outbox.ShipTimeout.Duration)
	}
	if cfg.DedupCache.TTL.Duration != time.Hour {
		t.Errorf("dedup_cache.ttl = %v, want 1h", cfg.DedupCache.TTL.Duration)
	}
	if cfg.Invoker.MaxConcurrentInvocations != 64 {
		t.Errorf("max_concurrent_invocations = %d, want 64", cfg.Invoker.MaxConcurrentInvocations)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NodeID != "" {
		t.Errorf("expected empty node_id, got %q", cfg.NodeID)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/restworkd.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `node_id: n1
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NODE_ID", "expanded-node")

	yaml := `node_id: ${TEST_NODE_ID}`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NodeID != "expanded-node" {
		t.Errorf("node_id = %q, want expanded-node", cfg.NodeID)
	}
}

func TestSortedPartitions(t *testing.T) {
	cfg := &Config{Partitions: []PartitionRange{
		{PartitionID: 2},
		{PartitionID: 0},
		{PartitionID: 1},
	}}
	sorted := cfg.SortedPartitions()
	if sorted[0].PartitionID != 0 || sorted[1].PartitionID != 1 || sorted[2].PartitionID != 2 {
		t.Errorf("sorted = %+v", sorted)
	}
}

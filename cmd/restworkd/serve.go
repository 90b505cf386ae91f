package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/restwork/config"
	"github.com/justapithecus/restwork/dedupcache"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/ledger"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/metrics"
	"github.com/justapithecus/restwork/partition"
	"github.com/justapithecus/restwork/storage"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Host the configured partitions until signaled to stop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to restworkd.yaml", Required: true},
			&cli.StringFlag{Name: "node-id", Usage: "override node_id from the config file"},
			&cli.StringFlag{Name: "status-file", Usage: "path to write periodic partition status snapshots (JSON)"},
			&cli.DurationFlag{Name: "status-interval", Usage: "how often to refresh --status-file", Value: 2 * time.Second},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	nodeID := ids.NodeID(cfg.NodeID)
	if override := c.String("node-id"); override != "" {
		nodeID = ids.NodeID(override)
	}
	if nodeID == "" {
		return cli.Exit("serve: node_id must be set in the config file or via --node-id", 1)
	}

	partitions := cfg.SortedPartitions()
	if len(partitions) == 0 {
		return cli.Exit("serve: config has no partitions configured", 1)
	}

	var dedupCache *dedupcache.Cache
	if cfg.DedupCache.Addr != "" {
		dedupCache, err = dedupcache.New(dedupcache.Config{
			Addr:     cfg.DedupCache.Addr,
			Username: cfg.DedupCache.Username,
			Password: cfg.DedupCache.Password,
			DB:       cfg.DedupCache.DB,
			TTL:      cfg.DedupCache.TTL.Duration,
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("serve: build dedup cache: %v", err), 1)
		}
		defer dedupCache.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	procs := make([]*partition.Processor, 0, len(partitions))
	for _, pr := range partitions {
		p, err := buildProcessor(pr, nodeID, cfg, dedupCache)
		if err != nil {
			return cli.Exit(fmt.Sprintf("serve: build partition %d: %v", pr.PartitionID, err), 1)
		}
		procs = append(procs, p)
	}

	statusPath := c.String("status-file")
	if statusPath != "" {
		go writeStatusSnapshots(ctx, statusPath, c.Duration("status-interval"), partitions, procs)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(procs))
	for _, p := range procs {
		wg.Add(1)
		go func(p *partition.Processor) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				errCh <- err
			}
		}(p)
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		fmt.Fprintf(os.Stderr, "serve: partition exited with error: %v\n", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return cli.Exit(firstErr.Error(), 2)
	}
	return nil
}

func buildProcessor(pr config.PartitionRange, nodeID ids.NodeID, cfg *config.Config, dedupCache *dedupcache.Cache) (*partition.Processor, error) {
	partitionID := ids.PartitionID(pr.PartitionID)
	logger := logging.NewLogger(partitionID, nodeID)
	collector := metrics.NewCollector(fmt.Sprintf("%d", pr.PartitionID), string(nodeID))

	var log ledger.Log
	switch cfg.Log.Backend {
	case "", "memory":
		log = ledger.NewMemLog()
	default:
		return nil, fmt.Errorf("unsupported log backend %q", cfg.Log.Backend)
	}

	var kv storage.KV
	switch cfg.Storage.Backend {
	case "", "memory":
		kv = storage.NewMemKV()
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
	ps := storage.NewPartitionStorage(kv, partitionID)

	factory := &workerActuatorFactory{
		partition:  partitionID,
		cfg:        cfg.Invoker,
		outboxCfg:  cfg.Outbox,
		ingressCfg: cfg.Ingress,
		endpoint:   cfg.Invoker.Endpoint,
		logger:     logger,
		metrics:    collector,
	}

	return partition.New(partition.Config{
		PartitionID: partitionID,
		NodeID:      nodeID,
		Owned:       ids.KeyRange{Start: ids.PartitionKey(pr.KeyStart), End: ids.PartitionKey(pr.KeyEnd)},
		Storage:     ps,
		Log:         log,
		Actuators:   factory,
		Logger:      logger,
		Metrics:     collector,
		DedupCache:  dedupCache,
	}), nil
}

// statusSnapshot is the JSON shape written to --status-file, read back by
// the inspect command. It is a point-in-time dump, not a live feed: the
// inspect command never talks to a running worker process directly.
type statusSnapshot struct {
	WrittenAt  time.Time                `json:"written_at"`
	Partitions map[string]partitionView `json:"partitions"`
}

type partitionView struct {
	Replay                  string    `json:"replay"`
	EffectiveMode           string    `json:"effective_mode"`
	LastAppliedLSN          uint64    `json:"last_applied_lsn"`
	LastObservedLeaderEpoch uint64    `json:"last_observed_leader_epoch"`
	LastObservedLeaderNode  string    `json:"last_observed_leader_node"`
	SkippedRecords          uint64    `json:"skipped_records"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func writeStatusSnapshots(ctx context.Context, path string, interval time.Duration, partitions []config.PartitionRange, procs []*partition.Processor) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	latest := make([]partition.Status, len(procs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, p := range procs {
				select {
				case s := <-p.Status():
					latest[i] = s
				default:
				}
			}
			snap := statusSnapshot{WrittenAt: time.Now(), Partitions: make(map[string]partitionView, len(procs))}
			for i, s := range latest {
				snap.Partitions[fmt.Sprintf("%d", partitions[i].PartitionID)] = partitionView{
					Replay:                  s.Replay.String(),
					EffectiveMode:           s.EffectiveMode.String(),
					LastAppliedLSN:          uint64(s.LastAppliedLSN),
					LastObservedLeaderEpoch: uint64(s.LastObservedLeaderEpoch),
					LastObservedLeaderNode:  string(s.LastObservedLeaderNode),
					SkippedRecords:          s.SkippedRecords,
					UpdatedAt:               s.UpdatedAt,
				}
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				continue
			}
			_ = os.WriteFile(path, data, 0o644)
		}
	}
}

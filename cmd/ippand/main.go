// Command ippand wires every C1-C12 component into a running node. The
// CLI surface itself is out of scope (spec §1 Non-goals); this is the
// minimal process entrypoint the out-of-scope CLI/REST layer would sit
// in front of, grounded in the teacher's cmd/consensus wiring shape but
// without its subcommand surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ippan/consensus/anchor"
	"github.com/ippan/consensus/blockstore"
	"github.com/ippan/consensus/challenge"
	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/config"
	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/log"
	"github.com/ippan/consensus/mempool"
	"github.com/ippan/consensus/metrics"
	"github.com/ippan/consensus/rewards"
	"github.com/ippan/consensus/scorer"
	"github.com/ippan/consensus/shard"
	"github.com/ippan/consensus/transport"
	"github.com/ippan/consensus/validators"

	"github.com/prometheus/client_golang/prometheus"
)

// Node bundles every component constructed from one Parameters value.
// It owns no goroutines itself beyond clock.Service's; round.Machine
// instances are created per round by a caller outside this core.
type Node struct {
	log    log.Logger
	reg    *metrics.Registry
	clk    *clock.Service
	pool   *mempool.Pool
	table  *transport.Table
	blocks *blockstore.Store
	shards *shard.Manager
	issuer *challenge.Issuer
	sink   *anchor.Sink
	acct   *rewards.Accountant
	set    *validators.Set
}

// NewNode constructs every component per cfg, sharing the single
// blockstore LevelDB handle between the block store and the rewards
// ledger, per rewards.New's documented convention.
func NewNode(cfg config.Parameters, identity ids.NodeID, logger log.Logger, reg *metrics.Registry, set *validators.Set) (*Node, error) {
	clk := clock.New(clock.Config{
		MaxOffsetNs:  cfg.ClockMaxOffsetMs * int64(1e6),
		SampleMaxAge: cfg.ClockSampleMaxAge(),
		WindowSize:   cfg.ClockWindowSize,
	}, logger, reg)

	pool := mempool.New(mempool.Config{
		MaxEntries: cfg.MempoolMaxEntries,
		MaxTxBytes: cfg.MempoolMaxTxBytes,
		MinFee:     cfg.MempoolMinFee,
	}, nil)

	table := transport.New(transport.Config{
		MaxQueuePerPeer: cfg.TransportMaxQueuePerPeer,
		MaxPeers:        cfg.TransportMaxPeers,
		BenchThreshold:  cfg.TransportBenchThreshold,
		BenchDuration:   time.Duration(cfg.TransportBenchDurationS) * time.Second,
	}, logger, reg)

	blocks, err := blockstore.Open(cfg.BlockStoreDir)
	if err != nil {
		return nil, err
	}

	shards := shard.New(shard.Config{
		ReplicationFactor: cfg.ShardReplicationFactor,
		ShardSize:         cfg.ShardSize,
		RepairInterval:    time.Duration(cfg.ShardRepairIntervalS) * time.Second,
	}, nil)

	issuer := challenge.New(challenge.Config{
		ProofInterval:    time.Duration(cfg.ChallengeProofIntervalS) * time.Second,
		ResponseWidth:    cfg.ChallengeResponseWidth,
		ResponseDeadline: time.Duration(cfg.ChallengeResponseDeadlineS) * time.Second,
	}, clk)

	sink := anchor.New(clk, identity)

	acct := rewards.New(blocks.DB(), scorer.NewDefault())

	return &Node{
		log: logger, reg: reg, clk: clk, pool: pool, table: table,
		blocks: blocks, shards: shards, issuer: issuer, sink: sink,
		acct: acct, set: set,
	}, nil
}

// Run starts the Time Service and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.clk.Start(ctx)
	defer n.clk.Stop()
	n.log.Info("node started")
	<-ctx.Done()
	n.log.Info("node shutting down")
	return n.blocks.Close()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON/TOML config file overriding defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.New(zapcore.InfoLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	reg := metrics.New(prometheus.DefaultRegisterer)
	identity, err := ids.GenerateKeyPair()
	if err != nil {
		logger.Error("identity generation failed", log.Err(err))
		os.Exit(1)
	}
	nodeID := ids.NodeID{}
	copy(nodeID[:], identity.Public)

	set := validators.NewSet(nil, 0, 0, false)

	node, err := NewNode(cfg, nodeID, logger, reg, set)
	if err != nil {
		logger.Error("node construction failed", log.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx); err != nil {
		logger.Error("node exited with error", log.Err(err))
		os.Exit(1)
	}
}

// Package config implements the layered configuration loader (defaults <
// file < environment) and the fluent Parameters builder every component
// is constructed from. Grounded in the teacher config package's
// Parameters/DefaultParams/WithBlockTime copy-and-return fluent style,
// generalized into a chainable Builder, and in ethereum-go-ethereum's use
// of spf13/viper for the file/env layering itself (the teacher carries no
// env/file loader of its own).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ippan/consensus/errs"
)

// EnvPrefix is the fixed environment variable prefix (spec §6.5): a
// setting named `clock.max_offset_ms` is overridden by
// `IPPAN_CLOCK_MAX_OFFSET_MS`.
const EnvPrefix = "IPPAN"

// Parameters collects every tunable named across C1-C12, mirroring the
// teacher's single `Parameters` struct rather than one struct per
// package, so a single file/env layer can override any of them.
type Parameters struct {
	ClockMaxOffsetMs     int64
	ClockSampleMaxAgeS   int64
	ClockWindowSize      int

	HashTimerMaxPrecisionNs int64

	SchedulerBackupCount int

	MempoolMaxEntries int
	MempoolMaxTxBytes int
	MempoolMinFee     uint64

	RoundMinProposals     int
	RoundMinVotes         int
	RoundMaxDurationMs    int64
	RoundMaxTimestampSkewMs int64

	TransportMaxQueuePerPeer int
	TransportMaxPeers        int
	TransportBenchThreshold  int64
	TransportBenchDurationS  int64

	ShardReplicationFactor int
	ShardSize              int
	ShardRepairIntervalS   int64

	ChallengeProofIntervalS    int64
	ChallengeResponseWidth     int
	ChallengeResponseDeadlineS int64

	AnchorHistoryDepth int

	RewardMaxSlashPercent int64

	BlockStoreDir string
}

// Default returns the baseline Parameters, the union of every package's
// own DefaultConfig().
func Default() Parameters {
	return Parameters{
		ClockMaxOffsetMs:   5_000,
		ClockSampleMaxAgeS: 60,
		ClockWindowSize:    256,

		HashTimerMaxPrecisionNs: 1_000_000,

		SchedulerBackupCount: 2,

		MempoolMaxEntries: 10_000,
		MempoolMaxTxBytes: 1 << 20,
		MempoolMinFee:     1,

		RoundMinProposals:       1,
		RoundMinVotes:           1,
		RoundMaxDurationMs:      2_000,
		RoundMaxTimestampSkewMs: 60_000,

		TransportMaxQueuePerPeer: 256,
		TransportMaxPeers:        128,
		TransportBenchThreshold:  -100,
		TransportBenchDurationS:  30,

		ShardReplicationFactor: 3,
		ShardSize:              1 << 20,
		ShardRepairIntervalS:   60,

		ChallengeProofIntervalS:    60,
		ChallengeResponseWidth:     64,
		ChallengeResponseDeadlineS: 10,

		AnchorHistoryDepth: 64,

		RewardMaxSlashPercent: 50,

		BlockStoreDir: "./data/blocks",
	}
}

// Builder fluently derives a new Parameters from a base, the way the
// teacher's Parameters.WithBlockTime returns a modified copy rather than
// mutating in place.
type Builder struct {
	p Parameters
}

// NewBuilder starts from Default().
func NewBuilder() *Builder {
	return &Builder{p: Default()}
}

// From starts a Builder from an existing Parameters value instead of
// Default(), for layering an override on top of a loaded config.
func From(p Parameters) *Builder {
	return &Builder{p: p}
}

func (b *Builder) WithClockMaxOffsetMs(v int64) *Builder      { b.p.ClockMaxOffsetMs = v; return b }
func (b *Builder) WithRoundMinVotes(v int) *Builder           { b.p.RoundMinVotes = v; return b }
func (b *Builder) WithRoundMinProposals(v int) *Builder       { b.p.RoundMinProposals = v; return b }
func (b *Builder) WithTransportMaxPeers(v int) *Builder       { b.p.TransportMaxPeers = v; return b }
func (b *Builder) WithShardReplicationFactor(v int) *Builder  { b.p.ShardReplicationFactor = v; return b }
func (b *Builder) WithBlockStoreDir(dir string) *Builder      { b.p.BlockStoreDir = dir; return b }
func (b *Builder) WithMempoolMinFee(v uint64) *Builder        { b.p.MempoolMinFee = v; return b }

// Build returns the finished Parameters, validated.
func (b *Builder) Build() (Parameters, error) {
	if err := b.p.Valid(); err != nil {
		return Parameters{}, err
	}
	return b.p, nil
}

// Valid checks invariants a zero-value or malformed layered load could
// otherwise silently violate.
func (p Parameters) Valid() error {
	if p.ClockMaxOffsetMs <= 0 {
		return errs.New(errs.ConfigInvalid, "clock.max_offset_ms must be positive")
	}
	if p.RoundMinVotes <= 0 || p.RoundMinProposals <= 0 {
		return errs.New(errs.ConfigInvalid, "round.min_votes and round.min_proposals must be >= 1")
	}
	if p.ShardReplicationFactor <= 0 {
		return errs.New(errs.ConfigInvalid, "shard.replication_factor must be positive")
	}
	if p.TransportMaxPeers <= 0 {
		return errs.New(errs.ConfigInvalid, "transport.max_peers must be positive")
	}
	return nil
}

// ClockSampleMaxAge returns the configured duration form of
// ClockSampleMaxAgeS.
func (p Parameters) ClockSampleMaxAge() time.Duration {
	return time.Duration(p.ClockSampleMaxAgeS) * time.Second
}

// RoundMaxDuration returns the configured duration form of
// RoundMaxDurationMs.
func (p Parameters) RoundMaxDuration() time.Duration {
	return time.Duration(p.RoundMaxDurationMs) * time.Millisecond
}

// Load implements spec §6.5's layering: defaults, then an optional file
// (if path is non-empty), then environment variables under EnvPrefix_.
// File values override defaults; environment values override the file.
func Load(path string) (Parameters, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	setDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Parameters{}, errs.Wrap(errs.ConfigInvalid, err, "read config file %s", path)
		}
	}

	p := Parameters{
		ClockMaxOffsetMs:        v.GetInt64("clock.max_offset_ms"),
		ClockSampleMaxAgeS:      v.GetInt64("clock.sample_max_age_s"),
		ClockWindowSize:         v.GetInt("clock.window_size"),
		HashTimerMaxPrecisionNs: v.GetInt64("hashtimer.max_precision_ns"),
		SchedulerBackupCount:    v.GetInt("scheduler.backup_count"),
		MempoolMaxEntries:       v.GetInt("mempool.max_entries"),
		MempoolMaxTxBytes:       v.GetInt("mempool.max_tx_bytes"),
		MempoolMinFee:           uint64(v.GetInt64("mempool.min_fee")),
		RoundMinProposals:       v.GetInt("round.min_proposals"),
		RoundMinVotes:           v.GetInt("round.min_votes"),
		RoundMaxDurationMs:      v.GetInt64("round.max_duration_ms"),
		RoundMaxTimestampSkewMs: v.GetInt64("round.max_timestamp_skew_ms"),
		TransportMaxQueuePerPeer: v.GetInt("transport.max_queue_per_peer"),
		TransportMaxPeers:        v.GetInt("transport.max_peers"),
		TransportBenchThreshold:  v.GetInt64("transport.bench_threshold"),
		TransportBenchDurationS:  v.GetInt64("transport.bench_duration_s"),
		ShardReplicationFactor:   v.GetInt("shard.replication_factor"),
		ShardSize:                v.GetInt("shard.shard_size"),
		ShardRepairIntervalS:     v.GetInt64("shard.repair_interval_s"),
		ChallengeProofIntervalS:    v.GetInt64("challenge.proof_interval_s"),
		ChallengeResponseWidth:     v.GetInt("challenge.response_width"),
		ChallengeResponseDeadlineS: v.GetInt64("challenge.response_deadline_s"),
		AnchorHistoryDepth:      v.GetInt("anchor.history_depth"),
		RewardMaxSlashPercent:   v.GetInt64("reward.max_slash_percent"),
		BlockStoreDir:           v.GetString("blockstore.dir"),
	}
	return p, p.Valid()
}

func setDefaults(v *viper.Viper, d Parameters) {
	v.SetDefault("clock.max_offset_ms", d.ClockMaxOffsetMs)
	v.SetDefault("clock.sample_max_age_s", d.ClockSampleMaxAgeS)
	v.SetDefault("clock.window_size", d.ClockWindowSize)
	v.SetDefault("hashtimer.max_precision_ns", d.HashTimerMaxPrecisionNs)
	v.SetDefault("scheduler.backup_count", d.SchedulerBackupCount)
	v.SetDefault("mempool.max_entries", d.MempoolMaxEntries)
	v.SetDefault("mempool.max_tx_bytes", d.MempoolMaxTxBytes)
	v.SetDefault("mempool.min_fee", d.MempoolMinFee)
	v.SetDefault("round.min_proposals", d.RoundMinProposals)
	v.SetDefault("round.min_votes", d.RoundMinVotes)
	v.SetDefault("round.max_duration_ms", d.RoundMaxDurationMs)
	v.SetDefault("round.max_timestamp_skew_ms", d.RoundMaxTimestampSkewMs)
	v.SetDefault("transport.max_queue_per_peer", d.TransportMaxQueuePerPeer)
	v.SetDefault("transport.max_peers", d.TransportMaxPeers)
	v.SetDefault("transport.bench_threshold", d.TransportBenchThreshold)
	v.SetDefault("transport.bench_duration_s", d.TransportBenchDurationS)
	v.SetDefault("shard.replication_factor", d.ShardReplicationFactor)
	v.SetDefault("shard.shard_size", d.ShardSize)
	v.SetDefault("shard.repair_interval_s", d.ShardRepairIntervalS)
	v.SetDefault("challenge.proof_interval_s", d.ChallengeProofIntervalS)
	v.SetDefault("challenge.response_width", d.ChallengeResponseWidth)
	v.SetDefault("challenge.response_deadline_s", d.ChallengeResponseDeadlineS)
	v.SetDefault("anchor.history_depth", d.AnchorHistoryDepth)
	v.SetDefault("reward.max_slash_percent", d.RewardMaxSlashPercent)
	v.SetDefault("blockstore.dir", d.BlockStoreDir)
}

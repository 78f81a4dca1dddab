// Package rewards implements the Reward/Slashing Accountant (spec §4.10):
// weekly UTC-aligned epoch boundaries, integer scoring reused from
// scorer, proportional distribution above an eligibility threshold, and
// slashing-bounded share reduction. Grounded in blockstore's LevelDB
// persistence style (own key prefix on the shared handle) so distribution
// records survive restart and are replayable from persisted inputs alone.
package rewards

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/scorer"
	"github.com/syndtr/goleveldb/leveldb"
)

// EligibilityThreshold is 50% of the scorer's integer scale S (spec
// §4.10: "total_score >= 50% of S"; S is the §4.4/§6.3 normalization
// scale, not the post-clamp weight ceiling — Default.Eval's output
// tracks Scale since its weights already sum to 100).
var EligibilityThreshold = scorer.Scale / 2

// MaxSlashPercent bounds how much a single epoch's slashing events can
// reduce a validator's next-epoch share, per §4.10's "bounded percentage".
const MaxSlashPercent = 50

// NodeMetrics is one validator's raw per-epoch telemetry, the exact
// 7-feature input set named in §4.10.
type NodeMetrics struct {
	NodeID        ids.NodeID
	UptimeMs      uint64
	MissedRounds  uint64
	ResponseMsP50 uint64
	StakeScaled   uint64
	SlashCount    uint64
	Blocks24h     uint64
	AgeRounds     uint64
	SlashPercent  int64 // from C10/C7 slashing events this epoch, capped at MaxSlashPercent
}

// Share is one validator's computed outcome for an epoch.
type Share struct {
	NodeID    ids.NodeID
	Score     int64
	Eligible  bool
	RewardAmt uint64
}

// Distribution is the persisted, replayable record of one epoch's
// reward/slashing accounting (spec §4.10: "the distribution record is
// persisted and is replayable from inputs").
type Distribution struct {
	EpochStartUnix int64
	EpochEndUnix   int64
	PoolAmount     uint64
	Inputs         []NodeMetrics
	Shares         []Share
}

// EpochWindow returns the weekly, UTC-aligned [start, end) window
// containing t, per §4.10's default cadence. Weeks are aligned to the
// Unix epoch (1970-01-01, a Thursday), giving a fixed, timezone-free
// anchor rather than depending on locale-specific week-start
// conventions.
func EpochWindow(t time.Time) (start, end time.Time) {
	utc := t.UTC()
	const week = 7 * 24 * time.Hour
	sinceEpoch := utc.Sub(time.Unix(0, 0).UTC())
	weeks := sinceEpoch / week
	start = time.Unix(0, 0).UTC().Add(weeks * week)
	end = start.Add(week)
	return start, end
}

// Accountant computes and persists per-epoch distributions.
type Accountant struct {
	scorer scorer.Scorer
	db     *leveldb.DB
}

// New constructs an Accountant backed by db (typically blockstore.Store's
// shared handle, per this package's namespace convention).
func New(db *leveldb.DB, sc scorer.Scorer) *Accountant {
	if sc == nil {
		sc = scorer.NewDefault()
	}
	return &Accountant{scorer: sc, db: db}
}

func distKey(epochStartUnix int64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, []byte("reward/dist/")...)
	for i := 7; i >= 0; i-- {
		key = append(key, byte(epochStartUnix>>(8*i)))
	}
	return key
}

// Close computes shares for every node's metrics and persists the
// Distribution record under its epoch key. Eligibility requires
// total_score >= EligibilityThreshold; eligible validators split
// poolAmount proportionally by score, with each share reduced by its
// own SlashPercent (capped at MaxSlashPercent).
func (a *Accountant) Close(epochStart, epochEnd time.Time, poolAmount uint64, inputs []NodeMetrics) (*Distribution, error) {
	dist := &Distribution{
		EpochStartUnix: epochStart.Unix(),
		EpochEndUnix:   epochEnd.Unix(),
		PoolAmount:     poolAmount,
		Inputs:         inputs,
	}

	var totalEligibleScore int64
	scores := make([]int64, len(inputs))
	eligible := make([]bool, len(inputs))
	for i, m := range inputs {
		features := scorer.FeaturesFromMetrics(m.UptimeMs, m.MissedRounds, m.ResponseMsP50, m.StakeScaled, m.SlashCount, m.Blocks24h, m.AgeRounds)
		score := a.scorer.Eval(features, scorer.Scale)
		scores[i] = score
		if score >= EligibilityThreshold {
			eligible[i] = true
			totalEligibleScore += score
		}
	}

	for i, m := range inputs {
		share := Share{NodeID: m.NodeID, Score: scores[i], Eligible: eligible[i]}
		if eligible[i] && totalEligibleScore > 0 {
			raw := (poolAmount * uint64(scores[i])) / uint64(totalEligibleScore)
			slashPct := m.SlashPercent
			if slashPct > MaxSlashPercent {
				slashPct = MaxSlashPercent
			}
			if slashPct < 0 {
				slashPct = 0
			}
			share.RewardAmt = raw - (raw*uint64(slashPct))/100
		}
		dist.Shares = append(dist.Shares, share)
	}

	if a.db != nil {
		data, err := json.Marshal(dist)
		if err != nil {
			return nil, errs.Wrap(errs.ConfigInvalid, err, "marshal distribution for epoch %d", dist.EpochStartUnix)
		}
		if err := a.db.Put(distKey(dist.EpochStartUnix), data, nil); err != nil {
			return nil, errs.Wrap(errs.Timeout, err, "persist distribution for epoch %d", dist.EpochStartUnix)
		}
	}
	return dist, nil
}

// Replay recomputes the distribution for epochStart strictly from the
// persisted record's inputs, without relying on any score cached inside
// the record — the "replayable from inputs only" guarantee of §4.10.
func (a *Accountant) Replay(epochStartUnix int64) (*Distribution, error) {
	if a.db == nil {
		return nil, errs.New(errs.NotFound, "no persistence configured")
	}
	data, err := a.db.Get(distKey(epochStartUnix), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "no distribution persisted for epoch %d", epochStartUnix)
	} else if err != nil {
		return nil, errs.Wrap(errs.Timeout, err, "read distribution for epoch %d", epochStartUnix)
	}
	var persisted Distribution
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "unmarshal distribution for epoch %d", epochStartUnix)
	}

	start := time.Unix(persisted.EpochStartUnix, 0).UTC()
	end := time.Unix(persisted.EpochEndUnix, 0).UTC()
	return a.Close(start, end, persisted.PoolAmount, persisted.Inputs)
}

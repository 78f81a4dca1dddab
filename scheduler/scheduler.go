// Package scheduler implements the per-round validator scheduler (spec
// §4.4): primary is the highest-scoring active validator, backups are the
// next k by descending score with a deterministic id tie-break. Grounded
// in the teacher's utils/sampler/weighted.go selection shape, generalized
// from weight-proportional sampling to the spec's score-ranked selection.
package scheduler

import (
	"bytes"
	"sort"

	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/scorer"
	"github.com/ippan/consensus/validators"
)

// DefaultBackupCount is k in "backups are the next k (default 2)".
const DefaultBackupCount = 2

// Result is the deterministic output of one scheduling decision.
type Result struct {
	Primary ids.NodeID
	Backups []ids.NodeID
	Scores  map[ids.NodeID]int64
}

// Select scores every validator in set using the given telemetry map and
// scorer, then ranks them. Identical inputs must produce identical output
// on any platform — no floating point and no map-iteration-order
// dependence reach the output (spec §4.4 determinism requirement; §8
// scenario 5).
func Select(set *validators.Set, metrics map[ids.NodeID]validators.Metrics, s scorer.Scorer, backupCount int) Result {
	if s == nil {
		s = scorer.NewDefault()
	}
	if backupCount <= 0 {
		backupCount = DefaultBackupCount
	}

	type scored struct {
		id    ids.NodeID
		score int64
	}

	list := set.List()
	candidates := make([]scored, 0, len(list))
	scores := make(map[ids.NodeID]int64, len(list))

	for _, v := range list {
		m := metrics[v.ID]
		features := scorer.FeaturesFromMetrics(
			m.UptimeMs, m.MissedRounds, m.ResponseMsP50,
			m.StakeScaled, m.SlashCount, m.BlocksLast24h, m.AgeRounds,
		)
		score := s.Eval(features, scorer.Scale)
		scores[v.ID] = score

		if !set.Selectable(v.ID, uint64(score)) {
			continue
		}
		candidates = append(candidates, scored{id: v.ID, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return bytes.Compare(candidates[i].id[:], candidates[j].id[:]) < 0
	})

	result := Result{Scores: scores}
	if len(candidates) == 0 {
		return result
	}
	result.Primary = candidates[0].id

	end := 1 + backupCount
	if end > len(candidates) {
		end = len(candidates)
	}
	for _, c := range candidates[1:end] {
		result.Backups = append(result.Backups, c.id)
	}
	return result
}

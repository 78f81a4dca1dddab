// Package scorer implements the pluggable scorer contract of spec §6.3:
// a pure integer function over a fixed 7-feature vector. The consensus
// core depends only on the Scorer interface; the default implementation
// here and any ML-derived scorer (out of scope, §1) are interchangeable,
// per the design notes' "capability interface" requirement.
package scorer

// Scale is the fixed integer scale S used throughout scoring.
const Scale int64 = 10_000

// Feature indices into the fixed 7-element vector, per §6.3.
const (
	FeatureUptime = iota
	FeatureMissedRoundsInv
	FeatureResponseInv
	FeatureStake
	FeatureSlashInv
	FeatureBlocks24h
	FeatureAge
	FeatureCount
)

// Caps are the normalization caps named in §4.4.
var Caps = [FeatureCount]int64{
	FeatureUptime:          86_400_000, // ms in a day
	FeatureMissedRoundsInv: 1_000,
	FeatureResponseInv:     5_000, // ms
	FeatureStake:           1_000_000_000,
	FeatureSlashInv:        10,
	FeatureBlocks24h:       500,
	FeatureAge:             100_000,
}

// MinWeight and MaxWeight bound the clamp applied to a final score.
const (
	MinWeight int64 = 1
	MaxWeight       = 100 * Scale
)

// DefaultWeights sum to 100, per §6.3.
var DefaultWeights = [FeatureCount]int64{
	FeatureUptime:          25,
	FeatureMissedRoundsInv: 15,
	FeatureResponseInv:     15,
	FeatureStake:           10,
	FeatureSlashInv:        20,
	FeatureBlocks24h:       10,
	FeatureAge:             5,
}

// Scorer is the pluggable capability every validator-weighting component
// depends on. Implementations must be deterministic and pure: identical
// inputs on any platform produce bit-identical output, with no
// floating-point arithmetic (spec §4.4 determinism requirement).
type Scorer interface {
	Eval(features [FeatureCount]int64, scale int64) int64
}

// Normalize maps a raw metric value to the fixed integer scale against
// cap, saturating at 0 and scale. This is the forward (non-inverted)
// normalization used for uptime, stake, blocks_24h, age.
func Normalize(value, cap_, scale int64) int64 {
	if cap_ <= 0 {
		return 0
	}
	if value >= cap_ {
		return scale
	}
	if value <= 0 {
		return 0
	}
	return saturatingMul(value, scale) / cap_
}

// Invert maps a raw metric to an inverted score where lower raw values
// score higher: inverted = max(0, scale - normalize(value, cap, scale)).
// Used for missed_rounds, response_ms, slash_count (spec §4.4 inversion
// rule).
func Invert(value, cap_, scale int64) int64 {
	penalty := Normalize(value, cap_, scale)
	result := scale - penalty
	if result < 0 {
		return 0
	}
	return result
}

func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	result := a * b
	if result/a != b {
		// overflow: saturate to max representable, callers divide
		// immediately afterward so this keeps the result monotonic
		// rather than wrapping.
		return 1<<63 - 1
	}
	return result
}

// FeaturesFromMetrics builds the fixed 7-feature vector from raw
// validator telemetry, applying the inversion rule for the three
// "lower is better" metrics.
func FeaturesFromMetrics(uptimeMs, missedRounds, responseMsP50, stakeScaled, slashCount, blocks24h, ageRounds uint64) [FeatureCount]int64 {
	var f [FeatureCount]int64
	f[FeatureUptime] = Normalize(int64(uptimeMs), Caps[FeatureUptime], Scale)
	f[FeatureMissedRoundsInv] = Invert(int64(missedRounds), Caps[FeatureMissedRoundsInv], Scale)
	f[FeatureResponseInv] = Invert(int64(responseMsP50), Caps[FeatureResponseInv], Scale)
	f[FeatureStake] = Normalize(int64(stakeScaled), Caps[FeatureStake], Scale)
	f[FeatureSlashInv] = Invert(int64(slashCount), Caps[FeatureSlashInv], Scale)
	f[FeatureBlocks24h] = Normalize(int64(blocks24h), Caps[FeatureBlocks24h], Scale)
	f[FeatureAge] = Normalize(int64(ageRounds), Caps[FeatureAge], Scale)
	return f
}

// Clamp bounds a raw score to [MinWeight, MaxWeight].
func Clamp(score int64) int64 {
	if score < MinWeight {
		return MinWeight
	}
	if score > MaxWeight {
		return MaxWeight
	}
	return score
}

// Default is the fixed-weight linear combination scorer used when no
// pluggable scorer is configured (§4.4 fallback, §6.3 default weights).
type Default struct {
	Weights [FeatureCount]int64
}

// NewDefault returns a Default scorer using §6.3's fixed weights.
func NewDefault() *Default {
	return &Default{Weights: DefaultWeights}
}

// Eval implements Scorer. output = sum(feature*weight)/100, clamped.
func (d *Default) Eval(features [FeatureCount]int64, scale int64) int64 {
	var sum int64
	for i, w := range d.Weights {
		sum += features[i] * w
	}
	return Clamp(sum / 100)
}

// Package hashtimer implements the HashTimer (spec §4.2): a content-bound
// timestamp record whose hash covers every field. Grounded in
// original_source/src/consensus/hashtimer.rs's HashTimer struct, adapted
// to bind the hash over the full field set (domain, timestamp, issuer,
// round, sequence, drift, precision, payload) rather than the original's
// partial (timestamp, node_id, round, sequence) binding — §4.2's
// rationale calls partial binding a replay hazard across rounds.
package hashtimer

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/ids"
)

// Domain tags separate HashTimers issued for different purposes so a hash
// computed for one cannot be replayed as another, even with identical
// other fields.
type Domain byte

const (
	DomainProposal Domain = iota + 1
	DomainVote
	DomainBlock
	DomainChallenge
	DomainAnchor
)

// DefaultMaxPrecisionNs is the default bound on precision_ns (1ms, per §4.2).
const DefaultMaxPrecisionNs = int64(1_000_000)

// HashTimer binds a timestamp to a content/context fingerprint.
type HashTimer struct {
	TimestampNs int64
	ContentHash [32]byte
	IssuerID    ids.NodeID
	Round       uint64
	Sequence    uint64
	DriftNs     int64
	PrecisionNs int64
	Domain      Domain
}

// Derive builds a HashTimer from the current time service reading and the
// caller's payload, per §4.2. The resulting hash is total over every
// field, so no field can be altered without invalidating the hash.
func Derive(domain Domain, clk *clock.Service, issuerID ids.NodeID, round, sequence uint64, payload []byte, nonce uint64) (*HashTimer, error) {
	ts, err := clk.Now()
	if err != nil {
		return nil, err
	}
	driftNs, _ := clk.DriftEstimate()
	precisionNs := clk.Precision()

	ht := &HashTimer{
		TimestampNs: ts,
		IssuerID:    issuerID,
		Round:       round,
		Sequence:    sequence,
		DriftNs:     driftNs,
		PrecisionNs: precisionNs,
		Domain:      domain,
	}
	ht.ContentHash = computeHash(ht, payload, nonce)
	return ht, nil
}

// Validate checks that h's stored hash is reproducible from its fields
// (requires the original payload/nonce, since those are not stored on the
// struct — only bound into the hash) and that it satisfies drift and
// precision bounds against clk.
func (h *HashTimer) Validate(clk *clock.Service, payload []byte, nonce uint64, maxDriftNs, maxPrecisionNs int64) error {
	if maxPrecisionNs == 0 {
		maxPrecisionNs = DefaultMaxPrecisionNs
	}
	recomputed := computeHash(h, payload, nonce)
	if recomputed != h.ContentHash {
		return errs.New(errs.VerificationFailed, "hashtimer hash mismatch")
	}

	now, err := clk.Now()
	if err != nil {
		return err
	}
	skew := now - h.TimestampNs
	if skew < 0 {
		skew = -skew
	}
	if skew > maxDriftNs {
		return errs.New(errs.DriftExceeded, "hashtimer skew %dns exceeds bound %dns", skew, maxDriftNs)
	}

	if h.PrecisionNs > maxPrecisionNs {
		return errs.New(errs.VerificationFailed, "hashtimer precision %dns exceeds bound %dns", h.PrecisionNs, maxPrecisionNs)
	}
	return nil
}

func computeHash(h *HashTimer, payload []byte, nonce uint64) [32]byte {
	buf := make([]byte, 0, 64+len(payload))
	buf = append(buf, byte(h.Domain))
	buf = appendU64(buf, uint64(h.TimestampNs))
	buf = append(buf, h.IssuerID[:]...)
	buf = appendU64(buf, h.Round)
	buf = appendU64(buf, h.Sequence)
	buf = appendU64(buf, uint64(h.DriftNs))
	buf = appendU64(buf, uint64(h.PrecisionNs))
	buf = appendU64(buf, nonce)
	buf = append(buf, payload...)
	return sha256.Sum256(buf)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

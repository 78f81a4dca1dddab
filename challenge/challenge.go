// Package challenge implements Storage Challenge/Proof issuance and
// verdicts (spec §4.9): a periodic proof-of-custody scheme over shards,
// with each caller-supplied nonce bound into a hashtimer so every
// challenge is itself timestamped and auditable. Grounded in round's state-tracking style
// (map-of-pending keyed by id, explicit deadline) generalized from
// per-round proposals to per-(shard,node) challenges.
package challenge

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/hashtimer"
	"github.com/ippan/consensus/ids"
)

// Verdict is the outcome of a resolved challenge.
type Verdict int

const (
	Pending Verdict = iota
	Pass
	Fail
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case TimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Challenge is one proof-of-custody demand against a (shard, node) pair.
type Challenge struct {
	ID        ids.ID
	ShardID   ids.ID
	NodeID    ids.NodeID
	Nonce     uint64
	Offset    int
	DeadlineAt time.Time
	HashTimer *hashtimer.HashTimer
	Verdict   Verdict
	Response  []byte
}

// Response is the claimed proof returned by the challenged node: the
// bytes at the challenged offset plus a running checksum over the shard
// from its start through the last returned byte (spec §4.9).
type Response struct {
	BytesAtOffset    []byte
	ChecksumSoFar    [32]byte
}

// Reference computes the locally recomputable answer to a challenge
// given the full shard payload, for comparison against a Response.
func Reference(shardData []byte, offset, width int) Response {
	if offset > len(shardData) {
		offset = len(shardData)
	}
	end := offset + width
	if end > len(shardData) {
		end = len(shardData)
	}
	return Response{
		BytesAtOffset: append([]byte(nil), shardData[offset:end]...),
		ChecksumSoFar: sha256.Sum256(shardData[:end]),
	}
}

func (r Response) equal(other Response) bool {
	if len(r.BytesAtOffset) != len(other.BytesAtOffset) {
		return false
	}
	for i := range r.BytesAtOffset {
		if r.BytesAtOffset[i] != other.BytesAtOffset[i] {
			return false
		}
	}
	return r.ChecksumSoFar == other.ChecksumSoFar
}

// SlashEvent is emitted after three consecutive fail/timeout verdicts on
// the same (shard, node) pair, consumed by rewards (spec §4.9).
type SlashEvent struct {
	ShardID ids.ID
	NodeID  ids.NodeID
	AtNs    int64
}

// Config bounds the issuer.
type Config struct {
	ProofInterval  time.Duration
	ResponseWidth  int
	ResponseDeadline time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{ProofInterval: time.Minute, ResponseWidth: 64, ResponseDeadline: 10 * time.Second}
}

// strikeKey identifies a (shard, node) pair's consecutive-failure streak.
type strikeKey struct {
	shard ids.ID
	node  ids.NodeID
}

// Issuer emits and resolves storage challenges. All mutable state is
// guarded by mu; issuance and verification are short operations that
// never block on network I/O (spec §5).
type Issuer struct {
	cfg Config
	clk *clock.Service

	mu      sync.Mutex
	pending map[ids.ID]*Challenge
	strikes map[strikeKey]int
	seq     uint64
}

// New constructs an Issuer.
func New(cfg Config, clk *clock.Service) *Issuer {
	if cfg.ResponseWidth <= 0 {
		cfg.ResponseWidth = 64
	}
	return &Issuer{cfg: cfg, clk: clk, pending: make(map[ids.ID]*Challenge), strikes: make(map[strikeKey]int)}
}

// Issue emits a new challenge for shardID against node, with a nonce-
// derived byte offset bounded by shardSize. The challenge is itself
// timestamped via a DomainChallenge HashTimer.
func (iss *Issuer) Issue(shardID ids.ID, node ids.NodeID, issuerID ids.NodeID, shardSize int, nonce uint64) (*Challenge, error) {
	iss.mu.Lock()
	iss.seq++
	seq := iss.seq
	iss.mu.Unlock()

	payload := append(append([]byte{}, shardID[:]...), node[:]...)
	ht, err := hashtimer.Derive(hashtimer.DomainChallenge, iss.clk, issuerID, 0, seq, payload, nonce)
	if err != nil {
		return nil, err
	}

	offset := 0
	if shardSize > 0 {
		offset = int(nonce % uint64(shardSize))
	}
	id := sha256.Sum256(append(payload, ht.ContentHash[:]...))

	c := &Challenge{
		ID:         ids.ID(id),
		ShardID:    shardID,
		NodeID:     node,
		Nonce:      nonce,
		Offset:     offset,
		DeadlineAt: time.Now().Add(iss.cfg.ResponseDeadline),
		HashTimer:  ht,
		Verdict:    Pending,
	}

	iss.mu.Lock()
	iss.pending[c.ID] = c
	iss.mu.Unlock()
	return c, nil
}

// Resolve records a node's response and verdicts it against reference,
// a locally recomputed Response over the shard bytes the caller holds
// (via Reference), returning the verdict and, if this is the third
// consecutive fail/timeout for the (shard, node) pair, a SlashEvent.
func (iss *Issuer) Resolve(challengeID ids.ID, resp, reference Response, now time.Time) (Verdict, *SlashEvent, error) {
	iss.mu.Lock()
	c, ok := iss.pending[challengeID]
	if !ok {
		iss.mu.Unlock()
		return Pending, nil, errs.New(errs.NotFound, "unknown challenge %x", challengeID)
	}
	delete(iss.pending, challengeID)
	iss.mu.Unlock()

	verdict := Fail
	if now.After(c.DeadlineAt) {
		verdict = TimedOut
	} else if resp.equal(reference) {
		verdict = Pass
	}
	c.Verdict = verdict
	c.Response = resp.BytesAtOffset

	key := strikeKey{shard: c.ShardID, node: c.NodeID}
	iss.mu.Lock()
	defer iss.mu.Unlock()
	if verdict == Pass {
		delete(iss.strikes, key)
		return verdict, nil, nil
	}
	iss.strikes[key]++
	if iss.strikes[key] >= 3 {
		delete(iss.strikes, key)
		return verdict, &SlashEvent{ShardID: c.ShardID, NodeID: c.NodeID, AtNs: now.UnixNano()}, nil
	}
	return verdict, nil, nil
}

// Pending reports whether challengeID is still awaiting resolution.
func (iss *Issuer) Pending(challengeID ids.ID) bool {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	_, ok := iss.pending[challengeID]
	return ok
}

// Strikes returns the current consecutive fail/timeout count for a pair.
func (iss *Issuer) Strikes(shardID ids.ID, node ids.NodeID) int {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.strikes[strikeKey{shard: shardID, node: node}]
}

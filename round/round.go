// Package round implements the Round State Machine (spec §4.3): a single
// task owns the current Round; inbound proposals/votes arrive through a
// channel and transitions are serialized there (spec §5). Grounded in the
// teacher's engine/chain poll.Set/Poll shape, generalized from
// tree-consensus polling to the spec's fixed five-phase round with
// explicit timeouts, and in original_source/src/consensus/round.rs for
// the transition-history enrichment (SPEC_FULL.md §3 C7).
package round

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/hashtimer"
	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/validators"
)

// State is one of the seven round states of spec §4.3.
type State int

const (
	Initializing State = iota
	Collecting
	Validating
	Finalizing
	Completed
	Failed
	Timeout
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Collecting:
		return "collecting"
	case Validating:
		return "validating"
	case Finalizing:
		return "finalizing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Timeout
}

// legalTransitions enumerates spec §4.3's state machine.
var legalTransitions = map[State]map[State]bool{
	Initializing: {Collecting: true},
	Collecting:   {Validating: true, Timeout: true},
	Validating:   {Finalizing: true, Timeout: true},
	Finalizing:   {Completed: true, Failed: true, Timeout: true},
}

// Proposal is a candidate block proposal submitted during Collecting.
type Proposal struct {
	Hash      ids.ID
	Proposer  ids.NodeID
	HashTimer *hashtimer.HashTimer
	Signature []byte
	Priority  int64 // derived from the scheduler's score for tie-break-free comparison
}

// Vote names a proposal and an approve/reject decision, submitted during
// Validating.
type Vote struct {
	Voter       ids.NodeID
	ProposalRef ids.ID
	Approve     bool
	HashTimer   *hashtimer.HashTimer
	Signature   []byte
}

// Transition is one recorded state change, for audit (spec §7: "record a
// reason string for later audit").
type Transition struct {
	From, To State
	AtNs     int64
	Reason   string
}

// Config bounds round timing and thresholds.
type Config struct {
	MinProposals      int
	MinVotes          int
	MaxRoundDuration  time.Duration
	MaxTimestampSkew  time.Duration
	BackupCount       int
}

// Verifier checks a proposal's or vote's signature validity; injected so
// this package has no direct crypto dependency.
type Verifier interface {
	VerifyProposal(p *Proposal) bool
	VerifyVote(v *Vote) bool
}

// Round is the mutable record a Machine exclusively owns (spec §3
// ownership rule).
type Round struct {
	Number        uint64
	State         State
	StartMs       int64
	EndMs         int64
	Primary       ids.NodeID
	Backups       []ids.NodeID
	Proposals     map[ids.ID]*Proposal
	Votes         map[ids.NodeID]*Vote
	ConsensusHash ids.ID
	MinVotes      int
	Transitions   []Transition
	FailReason    string
}

// MisbehaviorEvent is emitted when a round detects a duplicate proposal
// or an invalid signature from a known validator, feeding the peer
// scorer (C4) and the rewards accountant (C12) per SPEC_FULL.md §3 C7.
type MisbehaviorEvent struct {
	NodeID ids.NodeID
	Kind   errs.Kind
	Detail string
}

// Machine drives a single Round through its phases. All inbound messages
// arrive over buffered channels and are processed by the single goroutine
// started in Run; no other goroutine mutates the Round (spec §5).
type Machine struct {
	cfg        Config
	set        *validators.Set
	verifier   Verifier
	clk        *clock.Service
	proposalCh chan *Proposal
	voteCh     chan *Vote
	misbehave  chan MisbehaviorEvent

	mu    sync.RWMutex
	round *Round
}

// New constructs a Machine for round number `number` with the given
// validator set and primary/backups (already chosen by the scheduler).
// clk is used to validate the HashTimer and timestamp skew bound (spec
// §4.3) on every inbound proposal and vote.
func New(cfg Config, set *validators.Set, verifier Verifier, clk *clock.Service, number uint64, primary ids.NodeID, backups []ids.NodeID, startMs int64) *Machine {
	if cfg.MinProposals <= 0 {
		cfg.MinProposals = 1
	}
	if cfg.MinVotes <= 0 {
		cfg.MinVotes = 1
	}
	if cfg.MaxTimestampSkew <= 0 {
		cfg.MaxTimestampSkew = 60 * time.Second
	}
	r := &Round{
		Number:    number,
		State:     Initializing,
		StartMs:   startMs,
		Primary:   primary,
		Backups:   backups,
		Proposals: make(map[ids.ID]*Proposal),
		Votes:     make(map[ids.NodeID]*Vote),
		MinVotes:  cfg.MinVotes,
	}
	m := &Machine{
		cfg:        cfg,
		set:        set,
		verifier:   verifier,
		clk:        clk,
		proposalCh: make(chan *Proposal, 256),
		voteCh:     make(chan *Vote, 256),
		misbehave:  make(chan MisbehaviorEvent, 64),
		round:      r,
	}
	m.transition(Collecting, "round initialized")
	return m
}

// SubmitProposal enqueues a proposal for processing by the owning
// goroutine. It never blocks the caller indefinitely: a full channel
// drops the proposal and the caller should retry or treat it as
// rejected, matching §5's backpressure policy.
func (m *Machine) SubmitProposal(p *Proposal) bool {
	select {
	case m.proposalCh <- p:
		return true
	default:
		return false
	}
}

// SubmitVote enqueues a vote, same backpressure policy as SubmitProposal.
func (m *Machine) SubmitVote(v *Vote) bool {
	select {
	case m.voteCh <- v:
		return true
	default:
		return false
	}
}

// Misbehavior returns the channel of detected misbehavior events for a
// consumer (transport's benchlist, rewards' slashing) to drain.
func (m *Machine) Misbehavior() <-chan MisbehaviorEvent {
	return m.misbehave
}

// Snapshot returns a copy of the current round record.
func (m *Machine) Snapshot() Round {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.round
	cp.Proposals = make(map[ids.ID]*Proposal, len(m.round.Proposals))
	for k, v := range m.round.Proposals {
		cp.Proposals[k] = v
	}
	cp.Votes = make(map[ids.NodeID]*Vote, len(m.round.Votes))
	for k, v := range m.round.Votes {
		cp.Votes[k] = v
	}
	cp.Transitions = append([]Transition(nil), m.round.Transitions...)
	return cp
}

// Run drives the round until it reaches a terminal state or ctx is
// cancelled. This is the single task that owns m.round (spec §5); all
// state transitions are serialized here.
func (m *Machine) Run(ctx context.Context) {
	deadline := time.Duration(0)
	if m.cfg.MaxRoundDuration > 0 {
		deadline = m.cfg.MaxRoundDuration
	}
	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		if m.currentState().Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			m.transition(Failed, "context cancelled")
			return
		case <-timeoutCh:
			m.transition(Timeout, "max round duration exceeded")
			return
		case p := <-m.proposalCh:
			m.handleProposal(p)
		case v := <-m.voteCh:
			m.handleVote(v)
		}
	}
}

func (m *Machine) currentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.round.State
}

func (m *Machine) handleProposal(p *Proposal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.round.State != Collecting {
		return
	}
	if !m.set.Has(p.Proposer) {
		return
	}
	if m.verifier != nil && !m.verifier.VerifyProposal(p) {
		m.emitMisbehavior(p.Proposer, errs.SignatureInvalid, "invalid proposal signature")
		return
	}
	if kind, err := m.checkHashTimer(p.HashTimer, p.Hash[:]); err != nil {
		m.emitMisbehavior(p.Proposer, kind, "proposal hashtimer: "+err.Error())
		return
	}
	if _, dup := m.round.Proposals[p.Hash]; dup {
		return
	}
	for _, existing := range m.round.Proposals {
		if existing.Proposer == p.Proposer {
			m.emitMisbehavior(p.Proposer, errs.PeerMisbehavior, "duplicate proposal in round")
			return
		}
	}

	m.round.Proposals[p.Hash] = p
	if len(m.round.Proposals) >= m.cfg.MinProposals {
		m.transitionLocked(Validating, "minimum proposals reached")
	}
}

func (m *Machine) handleVote(v *Vote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.round.State != Validating {
		return
	}
	if !m.set.Has(v.Voter) {
		return
	}
	if m.verifier != nil && !m.verifier.VerifyVote(v) {
		m.emitMisbehavior(v.Voter, errs.SignatureInvalid, "invalid vote signature")
		return
	}
	if kind, err := m.checkHashTimer(v.HashTimer, v.ProposalRef[:]); err != nil {
		m.emitMisbehavior(v.Voter, kind, "vote hashtimer: "+err.Error())
		return
	}
	if _, dup := m.round.Votes[v.Voter]; dup {
		return
	}

	m.round.Votes[v.Voter] = v
	if len(m.round.Votes) >= m.round.MinVotes {
		m.selectConsensusLocked()
		m.transitionLocked(Finalizing, "minimum votes reached")
		m.completeLocked()
	}
}

// selectConsensusLocked implements §4.3's Finalizing contract: highest
// priority wins; ties broken by lowest timestamp, then lexicographic
// proposer id. The comparison is total, so the result never depends on
// arrival order.
func (m *Machine) selectConsensusLocked() {
	var best *Proposal
	for _, p := range m.round.Proposals {
		if best == nil || proposalBetter(p, best) {
			best = p
		}
	}
	if best != nil {
		m.round.ConsensusHash = best.Hash
	}
}

func proposalBetter(a, b *Proposal) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.HashTimer != nil && b.HashTimer != nil && a.HashTimer.TimestampNs != b.HashTimer.TimestampNs {
		return a.HashTimer.TimestampNs < b.HashTimer.TimestampNs
	}
	return bytes.Compare(a.Proposer[:], b.Proposer[:]) < 0
}

// completeLocked implements §4.3's Completion rule: sufficient proposals
// AND sufficient votes AND not timed out AND a consensus chosen; at least
// one of the votes must also approve.
func (m *Machine) completeLocked() {
	if m.round.State.Terminal() {
		return
	}
	approvals := 0
	for _, v := range m.round.Votes {
		if v.Approve {
			approvals++
		}
	}
	sufficientProposals := len(m.round.Proposals) >= m.cfg.MinProposals
	sufficientVotes := len(m.round.Votes) >= m.round.MinVotes
	consensusChosen := m.round.ConsensusHash != ids.Empty

	if sufficientProposals && sufficientVotes && consensusChosen && approvals > 0 {
		m.transitionLocked(Completed, "consensus reached")
	} else {
		m.round.FailReason = "insufficient approvals or no consensus candidate"
		m.transitionLocked(Failed, m.round.FailReason)
	}
}

// checkHashTimer implements §4.3's admission rule that every proposal and
// vote's HashTimer must validate and fall within MaxTimestampSkew.
// Proposals/votes are single-shot messages, not replayable challenges, so
// they bind their own referenced hash as the payload with a fixed nonce
// of 0 rather than a caller-chosen nonce.
func (m *Machine) checkHashTimer(ht *hashtimer.HashTimer, payload []byte) (errs.Kind, error) {
	if ht == nil {
		return errs.VerificationFailed, errs.New(errs.VerificationFailed, "missing hashtimer")
	}
	if err := ht.Validate(m.clk, payload, 0, int64(m.cfg.MaxTimestampSkew), 0); err != nil {
		kind := errs.VerificationFailed
		if errs.Is(err, errs.DriftExceeded) {
			kind = errs.DriftExceeded
		}
		return kind, err
	}
	return "", nil
}

func (m *Machine) emitMisbehavior(node ids.NodeID, kind errs.Kind, detail string) {
	select {
	case m.misbehave <- MisbehaviorEvent{NodeID: node, Kind: kind, Detail: detail}:
	default:
	}
}

func (m *Machine) transition(to State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(to, reason)
}

func (m *Machine) transitionLocked(to State, reason string) {
	from := m.round.State
	if allowed := legalTransitions[from]; !allowed[to] {
		return
	}
	m.round.Transitions = append(m.round.Transitions, Transition{From: from, To: to, AtNs: time.Now().UnixNano(), Reason: reason})
	m.round.State = to
	if to.Terminal() {
		m.round.EndMs = time.Now().UnixMilli()
	}
}

// SortedProposalHashes is a small determinism helper used by tests and by
// the Finalizing audit trail to present proposals in a stable order.
func SortedProposalHashes(r *Round) []ids.ID {
	out := make([]ids.ID, 0, len(r.Proposals))
	for h := range r.Proposals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

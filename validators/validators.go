// Package validators implements the ValidatorSet and ValidatorMetrics
// data model (spec §3) plus the Set/Manager-style interfaces the teacher's
// validators package exposes (grounded in
// _examples/luxfi-consensus/validators/validators.go), generalized from
// stake-only weighting to the spec's distinct stake/bond model.
package validators

import (
	"sync"
	"time"

	"github.com/ippan/consensus/ids"
)

// Validator is one entry in a ValidatorSet.
type Validator struct {
	ID       ids.NodeID
	Stake    uint64
	Active   bool
	Bond     uint64
	PubKey   []byte
}

// Metrics is the per-epoch, per-validator integer-only telemetry record
// consumed by the scheduler (C6) and the rewards accountant (C12). Every
// field is a non-negative integer unit; no floating-point telemetry is
// accepted at this boundary (spec §3, design notes).
type Metrics struct {
	UptimeMs      uint64
	MissedRounds  uint64
	ResponseMsP50 uint64
	StakeScaled   uint64
	SlashCount    uint64
	BlocksLast24h uint64
	AgeRounds     uint64
}

// AuditEntry records a mutation to a Set, per §3's "mutations are
// audited" invariant.
type AuditEntry struct {
	At     time.Time
	NodeID ids.NodeID
	Kind   string // "added" or "bond_changed"
	Detail string
}

// RequireBond controls whether selectability additionally requires
// Bond >= requiredBond (spec open question: bond/stake fusion is a
// config knob, this spec keeps them distinct and optionally enforced).
type RequireBond bool

// Set is an immutable snapshot of validators for one epoch/round. A new
// Set is built at each epoch boundary; components never mutate a Set in
// place (spec §3, "refreshed at epoch boundaries").
type Set struct {
	mu          sync.RWMutex
	byID        map[ids.NodeID]*Validator
	order       []ids.NodeID
	requiredBond uint64
	repThreshold uint64
	requireBond RequireBond
	audit       []AuditEntry
	auditCap    int
}

// NewSet builds a Set from a list of validators.
func NewSet(vs []Validator, requiredBond, reputationThreshold uint64, requireBond RequireBond) *Set {
	s := &Set{
		byID:         make(map[ids.NodeID]*Validator, len(vs)),
		requiredBond: requiredBond,
		repThreshold: reputationThreshold,
		requireBond:  requireBond,
		auditCap:     1024,
	}
	for i := range vs {
		v := vs[i]
		s.byID[v.ID] = &v
		s.order = append(s.order, v.ID)
		s.recordAudit(v.ID, "added", "initial set construction")
	}
	return s
}

func (s *Set) recordAudit(id ids.NodeID, kind, detail string) {
	s.audit = append(s.audit, AuditEntry{At: time.Now(), NodeID: id, Kind: kind, Detail: detail})
	if len(s.audit) > s.auditCap {
		s.audit = s.audit[len(s.audit)-s.auditCap:]
	}
}

// TotalStake returns the sum of all validators' stake. Invariant: > 0 for
// any non-degenerate set (spec §3).
func (s *Set) TotalStake() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, v := range s.byID {
		total += v.Stake
	}
	return total
}

// Get returns the validator for id, if present.
func (s *Set) Get(id ids.NodeID) (Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// Has reports whether id is a member of the set (regardless of eligibility).
func (s *Set) Has(id ids.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// List returns a stable, deterministically ordered copy of all validators.
func (s *Set) List() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Selectable reports whether the given validator, with the given
// reputation score (computed externally by the scorer), is eligible to
// propose or vote: active AND bond>=required (when bonding is enabled)
// AND reputation>=threshold (spec §3, §9 open question on bond/stake).
func (s *Set) Selectable(id ids.NodeID, reputation uint64) bool {
	v, ok := s.Get(id)
	if !ok || !v.Active {
		return false
	}
	if s.requireBond && v.Bond < s.requiredBond {
		return false
	}
	return reputation >= s.repThreshold
}

// AuditLog returns a copy of the recorded mutation history.
func (s *Set) AuditLog() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// WithBondChange returns a new Set with the given validator's bond
// updated, auditing the mutation. Sets are otherwise immutable: a bond
// or stake change always produces a new Set rather than mutating this one
// in place.
func (s *Set) WithBondChange(id ids.NodeID, newBond uint64) *Set {
	s.mu.RLock()
	vs := make([]Validator, 0, len(s.order))
	for _, vid := range s.order {
		v := *s.byID[vid]
		if vid == id {
			v.Bond = newBond
		}
		vs = append(vs, v)
	}
	s.mu.RUnlock()

	next := NewSet(vs, s.requiredBond, s.repThreshold, s.requireBond)
	next.audit = append(next.audit, s.AuditLog()...)
	next.recordAudit(id, "bond_changed", "bond updated")
	return next
}

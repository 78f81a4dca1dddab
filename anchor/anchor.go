// Package anchor implements the Cross-Chain Anchor Sink (spec §4.11):
// admission of foreign-chain commitments with pluggable proof types,
// bounded per-chain history, and HashTimer-stamped admission. Grounded
// in validators.Set's immutable-registry style (a small, rarely-mutated
// map guarded by a single lock) and mempool's typed-rejection contract.
package anchor

import (
	"sync"

	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/hashtimer"
	"github.com/ippan/consensus/ids"
)

// ProofType names the kind of inclusion proof carried by an AnchorTx.
type ProofType int

const (
	ProofNone ProofType = iota
	ProofSignature
	ProofZK
	ProofMerkle
	ProofMultiSig
)

// minProofLen are the §4.11 length floors per proof type. ZK requires a
// non-empty proof; None is unbounded (commonly empty).
var minProofLen = map[ProofType]int{
	ProofNone:      0,
	ProofSignature: 64,
	ProofMerkle:    32,
	ProofMultiSig:  64,
	ProofZK:        1,
}

// RejectReason names why an AnchorTx was refused admission.
type RejectReason string

const (
	ReasonChainNotRegistered RejectReason = "chain_not_registered"
	ReasonProofTooShort      RejectReason = "proof_too_short"
	ReasonProofTypeDisallowed RejectReason = "proof_type_disallowed"
	ReasonMissingProof       RejectReason = "missing_proof"
)

// AnchorTx is an externally-originated commitment admitted into the
// local log (spec §3).
type AnchorTx struct {
	ChainID         string
	ExternalRoot    []byte
	ProofType       ProofType
	ProofData       []byte
	HashTimer       *hashtimer.HashTimer
}

// ChainRegistration configures admission for one external chain.
type ChainRegistration struct {
	ChainID        string
	AllowedProofs  map[ProofType]bool
	HistoryDepth   int
}

// chainState is the mutable per-chain ring buffer of admitted anchors.
type chainState struct {
	reg     ChainRegistration
	history []*AnchorTx
	next    int
}

func (c *chainState) push(tx *AnchorTx) {
	depth := c.reg.HistoryDepth
	if depth <= 0 {
		depth = 64
	}
	if len(c.history) < depth {
		c.history = append(c.history, tx)
		return
	}
	c.history[c.next] = tx
	c.next = (c.next + 1) % depth
}

// Sink admits cross-chain anchor commitments per chain-specific rules.
type Sink struct {
	clk      *clock.Service
	issuerID ids.NodeID

	mu     sync.Mutex
	chains map[string]*chainState
	seq    uint64
}

// New constructs an empty Sink. issuerID identifies this node in the
// HashTimer stamped onto every admitted AnchorTx.
func New(clk *clock.Service, issuerID ids.NodeID) *Sink {
	return &Sink{clk: clk, issuerID: issuerID, chains: make(map[string]*chainState)}
}

// RegisterChain enables admission for a chain_id per its rules. Calling
// it again replaces the prior registration but preserves history.
func (s *Sink) RegisterChain(reg ChainRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chains[reg.ChainID]
	if !ok {
		s.chains[reg.ChainID] = &chainState{reg: reg}
		return
	}
	cs.reg = reg
}

// Admit validates and, if accepted, records tx into the chain's bounded
// history, stamping it with a DomainAnchor HashTimer. On rejection it
// returns a typed RejectReason and no HashTimer is derived.
func (s *Sink) Admit(chainID string, externalRoot []byte, proofType ProofType, proofData []byte, round uint64) (*AnchorTx, RejectReason, error) {
	s.mu.Lock()
	cs, ok := s.chains[chainID]
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	if !ok || chainID == "" {
		return nil, ReasonChainNotRegistered, nil
	}
	if len(externalRoot) == 0 {
		return nil, ReasonMissingProof, nil
	}
	if len(cs.reg.AllowedProofs) > 0 && !cs.reg.AllowedProofs[proofType] {
		return nil, ReasonProofTypeDisallowed, nil
	}
	if proofType != ProofNone && len(proofData) == 0 {
		return nil, ReasonMissingProof, nil
	}
	if floor, ok := minProofLen[proofType]; ok && len(proofData) < floor {
		return nil, ReasonProofTooShort, nil
	}

	payload := append(append([]byte{}, externalRoot...), proofData...)
	ht, err := hashtimer.Derive(hashtimer.DomainAnchor, s.clk, s.issuerID, round, seq, payload, seq)
	if err != nil {
		return nil, "", err
	}

	tx := &AnchorTx{ChainID: chainID, ExternalRoot: externalRoot, ProofType: proofType, ProofData: proofData, HashTimer: ht}

	s.mu.Lock()
	cs.push(tx)
	s.mu.Unlock()
	return tx, "", nil
}

// History returns the currently retained anchors for chainID, oldest
// first.
func (s *Sink) History(chainID string) []*AnchorTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chains[chainID]
	if !ok {
		return nil
	}
	out := append([]*AnchorTx(nil), cs.history[cs.next:]...)
	return append(out, cs.history[:cs.next]...)
}

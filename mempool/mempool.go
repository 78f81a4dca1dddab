// Package mempool implements the bounded, deduplicated pending
// transaction buffer (spec §4.6), grounded in the teacher's
// utils/bag.go multiset and utils/wrappers packing style for
// deterministic tie-break ordering.
package mempool

import (
	"container/heap"
	"sync"

	"github.com/ippan/consensus/ids"
)

// Outcome is the result of an Add call.
type Outcome int

const (
	Inserted Outcome = iota
	Duplicate
	Rejected
)

// RejectReason explains a Rejected outcome.
type RejectReason string

const (
	ReasonBadSignature RejectReason = "bad_signature"
	ReasonStaleNonce    RejectReason = "stale_nonce"
	ReasonLowFee        RejectReason = "low_fee"
	ReasonTooLarge      RejectReason = "too_large"
)

// Transaction is the subset of spec §3's Transaction entity the mempool
// needs to admit, order, and evict transactions; full transaction bytes
// live in Raw.
type Transaction struct {
	Hash      ids.ID
	Sender    ids.NodeID
	Nonce     uint64
	Fee       uint64
	Size      int
	AddedAtNs int64
	Raw       []byte
}

// Config bounds the pool.
type Config struct {
	MaxEntries int
	MaxTxBytes int
	MinFee     uint64
}

// Verifier checks signature validity; injected so the mempool package has
// no direct dependency on a specific signature scheme.
type Verifier func(tx *Transaction) bool

// Pool is the bounded, deduplicated mempool. All operations are
// thread-safe behind a single short-held lock; no network I/O happens
// while the lock is held (spec §5).
type Pool struct {
	cfg      Config
	verify   Verifier
	mu       sync.Mutex
	byHash   map[ids.ID]*Transaction
	lastNonce map[ids.NodeID]uint64
	heap     feeHeap
}

// New constructs an empty Pool.
func New(cfg Config, verify Verifier) *Pool {
	return &Pool{
		cfg:       cfg,
		verify:    verify,
		byHash:    make(map[ids.ID]*Transaction),
		lastNonce: make(map[ids.NodeID]uint64),
	}
}

// Add admits tx per §4.6: dedup by hash, then signature/nonce/fee/size
// checks, then capacity-bounded insertion with lowest-fee-first eviction.
func (p *Pool) Add(tx *Transaction) (Outcome, RejectReason) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHash[tx.Hash]; exists {
		return Duplicate, ""
	}
	if p.verify != nil && !p.verify(tx) {
		return Rejected, ReasonBadSignature
	}
	if tx.Nonce <= p.lastNonce[tx.Sender] {
		return Rejected, ReasonStaleNonce
	}
	if tx.Fee < p.cfg.MinFee {
		return Rejected, ReasonLowFee
	}
	if p.cfg.MaxTxBytes > 0 && tx.Size > p.cfg.MaxTxBytes {
		return Rejected, ReasonTooLarge
	}

	if p.cfg.MaxEntries > 0 && len(p.byHash) >= p.cfg.MaxEntries {
		evicted := p.evictLowestFeeLocked()
		if evicted != nil && evicted.Fee >= tx.Fee {
			// The incoming tx would itself be the lowest-fee entry:
			// put the evicted one back and reject the new one.
			p.insertLocked(evicted)
			return Rejected, ReasonLowFee
		}
	}

	p.insertLocked(tx)
	return Inserted, ""
}

func (p *Pool) insertLocked(tx *Transaction) {
	p.byHash[tx.Hash] = tx
	heap.Push(&p.heap, tx)
}

// evictLowestFeeLocked removes and returns the lowest-fee entry, age as
// tie-break (older entries evicted first on a fee tie).
func (p *Pool) evictLowestFeeLocked() *Transaction {
	if p.heap.Len() == 0 {
		return nil
	}
	tx := heap.Pop(&p.heap).(*Transaction)
	delete(p.byHash, tx.Hash)
	return tx
}

// Remove deletes entries by hash, called on block finalization.
func (p *Pool) Remove(hashes []ids.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	toRemove := make(map[ids.ID]bool, len(hashes))
	for _, h := range hashes {
		toRemove[h] = true
		if tx, ok := p.byHash[h]; ok {
			if tx.Nonce > p.lastNonce[tx.Sender] {
				p.lastNonce[tx.Sender] = tx.Nonce
			}
			delete(p.byHash, h)
		}
	}
	if len(toRemove) == 0 {
		return
	}
	filtered := p.heap[:0]
	for _, tx := range p.heap {
		if !toRemove[tx.Hash] {
			filtered = append(filtered, tx)
		}
	}
	p.heap = filtered
	heap.Init(&p.heap)
}

// Len returns the current number of pending transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// Has reports whether hash is currently pending.
func (p *Pool) Has(hash ids.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[hash]
	return ok
}

// feeHeap is a min-heap on (fee, age) so Pop always yields the
// lowest-fee, oldest-on-tie entry — the eviction candidate.
type feeHeap []*Transaction

func (h feeHeap) Len() int { return len(h) }
func (h feeHeap) Less(i, j int) bool {
	if h[i].Fee != h[j].Fee {
		return h[i].Fee < h[j].Fee
	}
	return h[i].AddedAtNs < h[j].AddedAtNs
}
func (h feeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *feeHeap) Push(x any)   { *h = append(*h, x.(*Transaction)) }
func (h *feeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

package mempool

import (
	"testing"

	"github.com/ippan/consensus/ids"
	"github.com/stretchr/testify/require"
)

func tx(hash byte, sender byte, nonce, fee uint64, addedAt int64) *Transaction {
	return &Transaction{
		Hash:      ids.ID{hash},
		Sender:    ids.NodeID{sender},
		Nonce:     nonce,
		Fee:       fee,
		Size:      10,
		AddedAtNs: addedAt,
	}
}

func TestPool_DedupByHash(t *testing.T) {
	p := New(Config{MaxEntries: 10, MinFee: 1}, nil)

	outcome, _ := p.Add(tx(1, 1, 1, 5, 0))
	require.Equal(t, Inserted, outcome)

	outcome, _ = p.Add(tx(1, 1, 2, 5, 0))
	require.Equal(t, Duplicate, outcome)
}

func TestPool_RejectsStaleNonce(t *testing.T) {
	p := New(Config{MaxEntries: 10, MinFee: 1}, nil)
	p.Add(tx(1, 1, 5, 5, 0))
	p.Remove([]ids.ID{{1}})

	outcome, reason := p.Add(tx(2, 1, 3, 5, 0))
	require.Equal(t, Rejected, outcome)
	require.Equal(t, ReasonStaleNonce, reason)
}

func TestPool_RejectsLowFee(t *testing.T) {
	p := New(Config{MaxEntries: 10, MinFee: 10}, nil)
	outcome, reason := p.Add(tx(1, 1, 1, 5, 0))
	require.Equal(t, Rejected, outcome)
	require.Equal(t, ReasonLowFee, reason)
}

func TestPool_EvictsLowestFeeAtCapacity(t *testing.T) {
	p := New(Config{MaxEntries: 2, MinFee: 1}, nil)

	require.Equal(t, Inserted, mustOutcome(p.Add(tx(1, 1, 1, 10, 0))))
	require.Equal(t, Inserted, mustOutcome(p.Add(tx(2, 2, 1, 20, 1))))

	// New tx has a higher fee than the lowest-fee entry (hash 1, fee 10):
	// it must be admitted and the lowest-fee entry evicted.
	outcome, _ := p.Add(tx(3, 3, 1, 30, 2))
	require.Equal(t, Inserted, outcome)
	require.False(t, p.Has(ids.ID{1}))
	require.True(t, p.Has(ids.ID{2}))
	require.True(t, p.Has(ids.ID{3}))
	require.Equal(t, 2, p.Len())
}

func TestPool_RejectsWhenWouldEvictHigherFee(t *testing.T) {
	p := New(Config{MaxEntries: 2, MinFee: 1}, nil)
	p.Add(tx(1, 1, 1, 10, 0))
	p.Add(tx(2, 2, 1, 20, 1))

	// Incoming fee (5) is lower than the lowest-fee entry already present (10).
	outcome, reason := p.Add(tx(3, 3, 1, 5, 2))
	require.Equal(t, Rejected, outcome)
	require.Equal(t, ReasonLowFee, reason)
	require.True(t, p.Has(ids.ID{1}), "evicted-then-restored entry must remain")
	require.Equal(t, 2, p.Len())
}

func TestPool_RemoveOnFinalization(t *testing.T) {
	p := New(Config{MaxEntries: 10, MinFee: 1}, nil)
	p.Add(tx(1, 1, 1, 10, 0))
	require.Equal(t, 1, p.Len())

	p.Remove([]ids.ID{{1}})
	require.Equal(t, 0, p.Len())
	require.False(t, p.Has(ids.ID{1}))
}

func TestPool_VerifierRejectsBadSignature(t *testing.T) {
	p := New(Config{MaxEntries: 10, MinFee: 1}, func(tx *Transaction) bool { return false })
	outcome, reason := p.Add(tx(1, 1, 1, 10, 0))
	require.Equal(t, Rejected, outcome)
	require.Equal(t, ReasonBadSignature, reason)
}

func mustOutcome(o Outcome, _ RejectReason) Outcome { return o }

package anchor

import (
	"context"
	"testing"

	"github.com/ippan/consensus/clock"
	"github.com/ippan/consensus/ids"
	"github.com/stretchr/testify/require"
)

func newClock(t *testing.T) *clock.Service {
	t.Helper()
	c := clock.New(clock.DefaultConfig(), nil, nil)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func TestSink_RejectsUnregisteredChain(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	_, reason, err := s.Admit("eth", []byte("root"), ProofSignature, make([]byte, 64), 1)
	require.NoError(t, err)
	require.Equal(t, ReasonChainNotRegistered, reason)
}

func TestSink_RejectsMissingRoot(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth"})
	_, reason, err := s.Admit("eth", nil, ProofNone, nil, 1)
	require.NoError(t, err)
	require.Equal(t, ReasonMissingProof, reason)
}

func TestSink_RejectsShortSignatureProof(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth"})
	_, reason, err := s.Admit("eth", []byte("root"), ProofSignature, make([]byte, 10), 1)
	require.NoError(t, err)
	require.Equal(t, ReasonProofTooShort, reason)
}

func TestSink_RejectsDisallowedProofType(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth", AllowedProofs: map[ProofType]bool{ProofMerkle: true}})
	_, reason, err := s.Admit("eth", []byte("root"), ProofSignature, make([]byte, 64), 1)
	require.NoError(t, err)
	require.Equal(t, ReasonProofTypeDisallowed, reason)
}

func TestSink_AdmitsValidProofAndStampsHashTimer(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth"})
	tx, reason, err := s.Admit("eth", []byte("root"), ProofMerkle, make([]byte, 32), 1)
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NotNil(t, tx.HashTimer)
	require.Len(t, s.History("eth"), 1)
}

func TestSink_ProofNoneAllowsEmptyProofData(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth"})
	_, reason, err := s.Admit("eth", []byte("root"), ProofNone, nil, 1)
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestSink_HistoryIsBoundedRingBuffer(t *testing.T) {
	s := New(newClock(t), ids.NodeID{1})
	s.RegisterChain(ChainRegistration{ChainID: "eth", HistoryDepth: 2})
	for i := 0; i < 5; i++ {
		_, _, err := s.Admit("eth", []byte("root"), ProofNone, nil, uint64(i))
		require.NoError(t, err)
	}
	require.Len(t, s.History("eth"), 2)
}

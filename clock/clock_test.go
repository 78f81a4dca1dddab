package clock

import (
	"context"
	"testing"
	"time"

	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/ids"
	"github.com/stretchr/testify/require"
)

func TestService_DriftRequiresMinimumSamples(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.RegisterPeerSample(ids.NodeID{byte(i)}, time.Now().UnixNano(), 1000)
	}
	require.Eventually(t, func() bool { return s.SampleCount() == 5 }, time.Second, time.Millisecond)

	_, present := s.DriftEstimate()
	require.False(t, present)
}

func TestService_NowFailsOnExcessiveOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOffsetNs = int64(time.Millisecond)
	s := New(cfg, nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	farFuture := time.Now().Add(time.Hour).UnixNano()
	for i := 0; i < 20; i++ {
		s.RegisterPeerSample(ids.NodeID{byte(i)}, farFuture, 1000)
	}
	require.Eventually(t, func() bool {
		_, err := s.Now()
		return err != nil
	}, time.Second, time.Millisecond)

	_, err := s.Now()
	require.True(t, errs.Is(err, errs.DriftExceeded))
}

func TestService_NowSucceedsWithinBound(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	now, err := s.Now()
	require.NoError(t, err)
	require.NotZero(t, now)
}

package challenge

import (
	"context"
	"testing"
	"time"

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

func shardData() []byte {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestIssuer_IssueProducesTimestampedChallenge(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)

	c, err := iss.Issue(ids.ID{1}, ids.NodeID{2}, ids.NodeID{9}, len(shardData()), 5)
	require.NoError(t, err)
	require.True(t, iss.Pending(c.ID))
	require.NotNil(t, c.HashTimer)
}

func TestIssuer_ResolvePassOnMatchingResponse(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)
	data := shardData()

	c, err := iss.Issue(ids.ID{1}, ids.NodeID{2}, ids.NodeID{9}, len(data), 10)
	require.NoError(t, err)

	ref := Reference(data, c.Offset, DefaultConfig().ResponseWidth)
	verdict, slash, err := iss.Resolve(c.ID, ref, ref, time.Now())
	require.NoError(t, err)
	require.Equal(t, Pass, verdict)
	require.Nil(t, slash)
	require.False(t, iss.Pending(c.ID))
}

func TestIssuer_ResolveFailOnMismatch(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)
	data := shardData()

	c, err := iss.Issue(ids.ID{1}, ids.NodeID{2}, ids.NodeID{9}, len(data), 10)
	require.NoError(t, err)

	ref := Reference(data, c.Offset, DefaultConfig().ResponseWidth)
	bad := Response{BytesAtOffset: []byte("wrong"), ChecksumSoFar: ref.ChecksumSoFar}
	verdict, slash, err := iss.Resolve(c.ID, bad, ref, time.Now())
	require.NoError(t, err)
	require.Equal(t, Fail, verdict)
	require.Nil(t, slash)
}

func TestIssuer_ThreeConsecutiveFailuresSlash(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)
	data := shardData()
	shardID, node := ids.ID{1}, ids.NodeID{2}

	var lastSlash *SlashEvent
	for i := uint64(0); i < 3; i++ {
		c, err := iss.Issue(shardID, node, ids.NodeID{9}, len(data), i)
		require.NoError(t, err)
		ref := Reference(data, c.Offset, DefaultConfig().ResponseWidth)
		bad := Response{BytesAtOffset: []byte("wrong")}
		_, slash, err := iss.Resolve(c.ID, bad, ref, time.Now())
		require.NoError(t, err)
		lastSlash = slash
	}
	require.NotNil(t, lastSlash)
	require.Equal(t, shardID, lastSlash.ShardID)
	require.Equal(t, node, lastSlash.NodeID)
	require.Equal(t, 0, iss.Strikes(shardID, node), "strike count resets after slashing")
}

func TestIssuer_PassResetsStrikeStreak(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)
	data := shardData()
	shardID, node := ids.ID{1}, ids.NodeID{2}

	c1, _ := iss.Issue(shardID, node, ids.NodeID{9}, len(data), 1)
	ref1 := Reference(data, c1.Offset, DefaultConfig().ResponseWidth)
	_, _, _ = iss.Resolve(c1.ID, Response{BytesAtOffset: []byte("wrong")}, ref1, time.Now())
	require.Equal(t, 1, iss.Strikes(shardID, node))

	c2, _ := iss.Issue(shardID, node, ids.NodeID{9}, len(data), 2)
	ref2 := Reference(data, c2.Offset, DefaultConfig().ResponseWidth)
	verdict, _, _ := iss.Resolve(c2.ID, ref2, ref2, time.Now())
	require.Equal(t, Pass, verdict)
	require.Equal(t, 0, iss.Strikes(shardID, node))
}

func TestIssuer_ResolveTimesOutPastDeadline(t *testing.T) {
	clk := newClock(t)
	cfg := DefaultConfig()
	cfg.ResponseDeadline = time.Millisecond
	iss := New(cfg, clk)
	data := shardData()

	c, err := iss.Issue(ids.ID{1}, ids.NodeID{2}, ids.NodeID{9}, len(data), 1)
	require.NoError(t, err)
	ref := Reference(data, c.Offset, cfg.ResponseWidth)

	verdict, _, err := iss.Resolve(c.ID, ref, ref, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, TimedOut, verdict)
}

func TestIssuer_ResolveUnknownChallengeErrors(t *testing.T) {
	clk := newClock(t)
	iss := New(DefaultConfig(), clk)
	_, _, err := iss.Resolve(ids.ID{99}, Response{}, Response{}, time.Now())
	require.Error(t, err)
}

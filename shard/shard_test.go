package shard

import (
	"testing"
	"time"

	"github.com/ippan/consensus/ids"
	"github.com/stretchr/testify/require"
)

func candidates() []Node {
	return []Node{
		{ID: ids.NodeID{1}, Online: true, FreeBytes: 1 << 30},
		{ID: ids.NodeID{2}, Online: true, FreeBytes: 1 << 30},
		{ID: ids.NodeID{3}, Online: false, FreeBytes: 1 << 30},
		{ID: ids.NodeID{4}, Online: true, FreeBytes: 1 << 30},
	}
}

func TestSplit_ProducesChecksummedShards(t *testing.T) {
	data := make([]byte, 25)
	for i := range data {
		data[i] = byte(i)
	}
	shards := Split(ids.ID{1}, data, 10)
	require.Len(t, shards, 3)
	require.Equal(t, 10, len(shards[0].Data))
	require.Equal(t, 5, len(shards[2].Data))
	for _, s := range shards {
		require.True(t, s.VerifyChecksum())
	}
}

func TestShard_VerifyChecksumFailsOnTamper(t *testing.T) {
	shards := Split(ids.ID{1}, []byte("hello world"), 100)
	shards[0].Data[0] ^= 0xFF
	require.False(t, shards[0].VerifyChecksum())
}

func TestHashStrategy_ExcludesOfflineAndIsDeterministic(t *testing.T) {
	strat := HashStrategy{}
	a := strat.Place(ids.ID{1}, 0, candidates(), 2)
	b := strat.Place(ids.ID{1}, 0, candidates(), 2)
	require.Equal(t, a, b)
	require.Len(t, a, 2)
	for _, n := range a {
		require.NotEqual(t, ids.NodeID{3}, n, "offline node must never be selected")
	}
}

func TestHashStrategy_PrefersDistinctLocalities(t *testing.T) {
	strat := HashStrategy{}
	nodes := []Node{
		{ID: ids.NodeID{1}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-a"},
		{ID: ids.NodeID{2}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-a"},
		{ID: ids.NodeID{3}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-b"},
		{ID: ids.NodeID{4}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-c"},
	}
	out := strat.Place(ids.ID{1}, 0, nodes, 3)
	require.Len(t, out, 3)

	byID := map[ids.NodeID]string{}
	for _, n := range nodes {
		byID[n.ID] = n.LocalityTag
	}
	seen := map[string]int{}
	for _, id := range out {
		seen[byID[id]]++
	}
	require.Len(t, seen, 3, "3 replicas across 3 distinct localities must not double up on any one rack")
}

func TestHashStrategy_FallsBackToRepeatLocalityWhenTooFewDistinct(t *testing.T) {
	strat := HashStrategy{}
	nodes := []Node{
		{ID: ids.NodeID{1}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-a"},
		{ID: ids.NodeID{2}, Online: true, FreeBytes: 1 << 30, LocalityTag: "rack-a"},
	}
	out := strat.Place(ids.ID{1}, 0, nodes, 2)
	require.Len(t, out, 2, "count must still be met even with only one distinct locality available")
}

func TestManager_PlaceRecordsReplicaSet(t *testing.T) {
	m := New(DefaultConfig(), nil)
	nodes := m.Place(ids.ID{1}, 0, candidates())
	require.Len(t, nodes, 3)
	require.Equal(t, nodes, m.Placement(ids.ID{1}, 0))
}

func TestManager_RepairIsNoOpWhenHealthy(t *testing.T) {
	m := New(DefaultConfig(), nil)
	nodes := m.Place(ids.ID{1}, 0, candidates())
	health := map[ids.NodeID]bool{}
	for _, n := range nodes {
		health[n] = true
	}
	repaired, _ := m.Repair(ids.ID{1}, 0, health, candidates(), time.Now())
	require.False(t, repaired)
}

func TestManager_RepairReplacesUnhealthyReplicas(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplicationFactor = 3
	m := New(cfg, nil)
	nodes := m.Place(ids.ID{1}, 0, candidates())
	health := map[ids.NodeID]bool{nodes[0]: true} // only one of three healthy

	repaired, fresh := m.Repair(ids.ID{1}, 0, health, candidates(), time.Now())
	require.True(t, repaired)
	require.Len(t, fresh, 3)
}

func TestManager_RepairIsRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepairInterval = time.Hour
	m := New(cfg, nil)
	nodes := m.Place(ids.ID{1}, 0, candidates())
	health := map[ids.NodeID]bool{nodes[0]: true}
	now := time.Now()

	repaired, _ := m.Repair(ids.ID{1}, 0, health, candidates(), now)
	require.True(t, repaired)

	repaired, _ = m.Repair(ids.ID{1}, 0, health, candidates(), now.Add(time.Minute))
	require.False(t, repaired, "repair must not re-fire inside RepairInterval")
}

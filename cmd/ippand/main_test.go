package main

import (
	"path/filepath"
	"testing"

	"github.com/ippan/consensus/config"
	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/log"
	"github.com/ippan/consensus/metrics"
	"github.com/ippan/consensus/validators"
	"github.com/stretchr/testify/require"
)

func TestNewNode_WiresEveryComponent(t *testing.T) {
	cfg := config.Default()
	cfg.BlockStoreDir = filepath.Join(t.TempDir(), "blocks")
	set := validators.NewSet(nil, 0, 0, false)

	node, err := NewNode(cfg, ids.NodeID{1}, log.NewNoOp(), metrics.NewTest(), set)
	require.NoError(t, err)
	require.NotNil(t, node.clk)
	require.NotNil(t, node.pool)
	require.NotNil(t, node.table)
	require.NotNil(t, node.blocks)
	require.NotNil(t, node.shards)
	require.NotNil(t, node.issuer)
	require.NotNil(t, node.sink)
	require.NotNil(t, node.acct)
	require.NoError(t, node.blocks.Close())
}

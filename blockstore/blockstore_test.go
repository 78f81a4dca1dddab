package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/ippan/consensus/ids"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_StoreAndGetRoundTrip(t *testing.T) {
	s := openTemp(t)
	b := &Block{ID: ids.ID{1}, Round: 1, Height: 1, Raw: []byte("payload")}
	require.NoError(t, s.Store(b))

	got, err := s.Get(ids.ID{1})
	require.NoError(t, err)
	require.Equal(t, b.Height, got.Height)
	require.Equal(t, b.Raw, got.Raw)
}

func TestStore_StoreIsExactlyOncePerID(t *testing.T) {
	s := openTemp(t)
	first := &Block{ID: ids.ID{2}, Height: 5, Raw: []byte("first")}
	second := &Block{ID: ids.ID{2}, Height: 5, Raw: []byte("second")}
	require.NoError(t, s.Store(first))
	require.NoError(t, s.Store(second))

	got, err := s.Get(ids.ID{2})
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got.Raw, "second store for the same id must be a no-op")
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get(ids.ID{9})
	require.Error(t, err)
}

func TestStore_MarkFinalizedIsIdempotentAndQueryable(t *testing.T) {
	s := openTemp(t)
	b := &Block{ID: ids.ID{3}, Height: 1}
	require.NoError(t, s.Store(b))
	require.False(t, s.IsFinalized(ids.ID{3}))

	require.NoError(t, s.MarkFinalized(ids.ID{3}))
	require.NoError(t, s.MarkFinalized(ids.ID{3}))
	require.True(t, s.IsFinalized(ids.ID{3}))
}

func TestStore_IterateByHeightIsAscending(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Store(&Block{ID: ids.ID{5}, Height: 5}))
	require.NoError(t, s.Store(&Block{ID: ids.ID{1}, Height: 1}))
	require.NoError(t, s.Store(&Block{ID: ids.ID{3}, Height: 3}))

	var heights []uint64
	require.NoError(t, s.IterateByHeight(func(b *Block) bool {
		heights = append(heights, b.Height)
		return true
	}))
	require.Equal(t, []uint64{1, 3, 5}, heights)
}

func TestStore_IterateByHeightStopsEarly(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Store(&Block{ID: ids.ID{1}, Height: 1}))
	require.NoError(t, s.Store(&Block{ID: ids.ID{2}, Height: 2}))

	count := 0
	require.NoError(t, s.IterateByHeight(func(b *Block) bool {
		count++
		return false
	}))
	require.Equal(t, 1, count)
}

func TestStore_SnapshotAndImportRoundTrip(t *testing.T) {
	src := openTemp(t)
	require.NoError(t, src.Store(&Block{ID: ids.ID{1}, Height: 1, Raw: []byte("a")}))
	require.NoError(t, src.Store(&Block{ID: ids.ID{2}, Height: 2, Raw: []byte("b")}))
	require.NoError(t, src.MarkFinalized(ids.ID{1}))

	dir := filepath.Join(t.TempDir(), "snap")
	manifest, err := src.Snapshot("ippan-mainnet", dir)
	require.NoError(t, err)
	require.Equal(t, uint64(2), manifest.Height)
	require.Equal(t, 2, manifest.BlocksCount)
	require.Equal(t, "ippan-mainnet", manifest.NetworkID)

	dst := openTemp(t)
	imported, err := dst.Import("ippan-mainnet", dir)
	require.NoError(t, err)
	require.Equal(t, manifest, imported)

	got, err := dst.Get(ids.ID{1})
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got.Raw)
	require.True(t, dst.IsFinalized(ids.ID{1}))

	got2, err := dst.Get(ids.ID{2})
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got2.Raw)
}

func TestStore_ImportRejectsMismatchedNetworkID(t *testing.T) {
	src := openTemp(t)
	require.NoError(t, src.Store(&Block{ID: ids.ID{1}, Height: 1}))

	dir := filepath.Join(t.TempDir(), "snap")
	_, err := src.Snapshot("ippan-mainnet", dir)
	require.NoError(t, err)

	dst := openTemp(t)
	_, err = dst.Import("ippan-testnet", dir)
	require.Error(t, err)

	_, getErr := dst.Get(ids.ID{1})
	require.Error(t, getErr, "import must be rejected before anything is applied")
}

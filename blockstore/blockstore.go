// Package blockstore implements the durable, append-only Block/DAG Store
// (spec §4.7), backed by LevelDB — grounded in tolelom-tolchain's
// syndtr/goleveldb-backed storage layer, the example pack's only plain
// embedded-KV storage design (other example repos carry a full
// multi-backend node stack out of this core's scope).
package blockstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/ids"
	"github.com/syndtr/goleveldb/leveldb"
)

// Block is the subset of spec §3's Block entity the store persists and
// indexes; header fields plus the serialized transaction list.
type Block struct {
	ID          ids.ID
	Round       uint64
	Height      uint64
	ProposerID  ids.NodeID
	ParentIDs   []ids.ID
	MerkleRoot  ids.ID
	Signature   []byte
	Finalized   bool
	Raw         []byte
}

var (
	blockPrefix    = []byte("b/")
	heightPrefix   = []byte("h/")
	finalizedKey   = []byte("finalized/")
)

// Store is the append-only, exactly-once-per-id block store.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (or creates) a LevelDB-backed store at dir. Exclusive access
// to dir is enforced by LevelDB's own lock file, which doubles as the
// "second instance against the same directory must fail loudly" guarantee
// of spec §5.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "open block store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying LevelDB handle so other components (the
// rewards accountant's distribution ledger) can share the same database
// file under their own key namespace rather than opening a second handle
// on the same directory, which LevelDB's lock file would refuse.
func (s *Store) DB() *leveldb.DB {
	return s.db
}

// Store persists block exactly once per id: a second Store call for the
// same id is a no-op success, matching §4.7's exactly-once guarantee.
func (s *Store) Store(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := append(append([]byte{}, blockPrefix...), b.ID[:]...)
	if _, err := s.db.Get(key, nil); err == nil {
		return nil // already stored
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return errs.Wrap(errs.NotFound, err, "check existing block %x", b.ID)
	}

	data, err := json.Marshal(b)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, err, "marshal block %x", b.ID)
	}
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	heightKey := append(append(append([]byte{}, heightPrefix...), encodeHeight(b.Height)...), b.ID[:]...)
	batch.Put(heightKey, b.ID[:])
	if err := s.db.Write(batch, nil); err != nil {
		return errs.Wrap(errs.Timeout, err, "write block %x", b.ID)
	}
	return nil
}

// Get retrieves a block by id.
func (s *Store) Get(id ids.ID) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := append(append([]byte{}, blockPrefix...), id[:]...)
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "block %x not found", id)
	} else if err != nil {
		return nil, errs.Wrap(errs.Timeout, err, "get block %x", id)
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "unmarshal block %x", id)
	}
	return &b, nil
}

// MarkFinalized records id as finalized. Finalization is a separate,
// idempotent flag rather than a rewrite of the block record, so a crash
// between Store and MarkFinalized never loses the block itself.
func (s *Store) MarkFinalized(id ids.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := append(append([]byte{}, finalizedKey...), id[:]...)
	return s.db.Put(key, []byte{1}, nil)
}

// IsFinalized reports whether id has been marked finalized.
func (s *Store) IsFinalized(id ids.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := append(append([]byte{}, finalizedKey...), id[:]...)
	_, err := s.db.Get(key, nil)
	return err == nil
}

// IterateByHeight walks stored blocks in ascending height order (blocks
// sharing a height in ascending id order), calling fn for each until it
// returns false or iteration is exhausted.
func (s *Store) IterateByHeight(fn func(*Block) bool) error {
	s.mu.Lock()
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var blockIDs []ids.ID
	for ok := iter.Seek(heightPrefix); ok && hasPrefix(iter.Key(), heightPrefix); ok = iter.Next() {
		var id ids.ID
		copy(id[:], iter.Value())
		blockIDs = append(blockIDs, id)
	}
	s.mu.Unlock()

	for _, id := range blockIDs {
		b, err := s.Get(id)
		if err != nil {
			continue
		}
		if !fn(b) {
			break
		}
	}
	return iter.Error()
}

// manifestFile and blocksStreamFile are the snapshot directory's fixed
// layout: a manifest plus one file per logical stream (spec §6.4). This
// core only models the blocks stream; accounts/payments/files belong to
// subsystems outside this module (see DESIGN.md), so their counts are
// always reported as zero rather than omitted from the manifest shape.
const (
	manifestFile     = "manifest.json"
	blocksStreamFile = "blocks.jsonl"
)

// Manifest describes a block store snapshot per spec §6.4.
type Manifest struct {
	Height        uint64 `json:"height"`
	NetworkID     string `json:"network_id"`
	AccountsCount int    `json:"accounts_count"`
	PaymentsCount int    `json:"payments_count"`
	BlocksCount   int    `json:"blocks_count"`
	FilesCount    int    `json:"files_count"`
}

// Snapshot exports a consistent manifest and the blocks stream to dir,
// creating dir if necessary. The manifest's height is the highest block
// height present at the time of the snapshot.
func (s *Store) Snapshot(networkID, dir string) (Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "create snapshot dir %s", dir)
	}

	f, err := os.Create(filepath.Join(dir, blocksStreamFile))
	if err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "create blocks stream file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	var maxHeight uint64
	count := 0
	iterErr := s.IterateByHeight(func(b *Block) bool {
		if encErr := enc.Encode(b); encErr != nil {
			err = encErr
			return false
		}
		if b.Height > maxHeight {
			maxHeight = b.Height
		}
		count++
		return true
	})
	if iterErr != nil {
		return Manifest{}, errs.Wrap(errs.Timeout, iterErr, "iterate blocks for snapshot")
	}
	if err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "encode block into blocks stream")
	}

	m := Manifest{
		Height:      maxHeight,
		NetworkID:   networkID,
		BlocksCount: count,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "marshal manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "write manifest")
	}
	return m, nil
}

// Import validates dir's manifest.network_id against networkID before
// applying anything (spec §6.4), then replays the blocks stream through
// Store, which is exactly-once per id, so re-importing the same
// snapshot twice is safe.
func (s *Store) Import(networkID, dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, errs.Wrap(errs.NotFound, err, "read manifest in %s", dir)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "unmarshal manifest")
	}
	if m.NetworkID != networkID {
		return Manifest{}, errs.New(errs.ConfigInvalid, "snapshot network_id %q does not match importing instance %q", m.NetworkID, networkID)
	}

	f, err := os.Open(filepath.Join(dir, blocksStreamFile))
	if err != nil {
		return Manifest{}, errs.Wrap(errs.NotFound, err, "open blocks stream in %s", dir)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var b Block
		if err := dec.Decode(&b); err != nil {
			return Manifest{}, errs.Wrap(errs.ConfigInvalid, err, "decode block in blocks stream")
		}
		if err := s.Store(&b); err != nil {
			return Manifest{}, err
		}
		if b.Finalized {
			if err := s.MarkFinalized(b.ID); err != nil {
				return Manifest{}, err
			}
		}
	}
	return m, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func encodeHeight(h uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(h >> (8 * i))
	}
	return out
}

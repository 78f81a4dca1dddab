// Package shard implements Shard Placement & Replication (spec §4.8):
// splitting an object into fixed-size shards, placing replicas on a
// filtered node set by a pluggable strategy, and scheduling idempotent,
// rate-limited repair when replica health drops below target. Grounded
// in scheduler's deterministic-selection style (bytes.Compare tie-break)
// so placement is reproducible given the same node table.
package shard

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/ippan/consensus/ids"
)

// Shard is one fixed-size slice of a stored object (spec §3).
type Shard struct {
	ObjectID   ids.ID
	Index      int
	ByteOffset int
	Data       []byte
	Checksum   [32]byte
	Replicas   []ids.NodeID
}

// Split divides data into an ordered sequence of shards of at most
// shardSize bytes each, each carrying a SHA-256 checksum of its payload.
func Split(objectID ids.ID, data []byte, shardSize int) []*Shard {
	if shardSize <= 0 {
		shardSize = 1 << 20
	}
	var out []*Shard
	for i, off := 0, 0; off < len(data); i, off = i+1, off+shardSize {
		end := off + shardSize
		if end > len(data) {
			end = len(data)
		}
		chunk := append([]byte(nil), data[off:end]...)
		out = append(out, &Shard{
			ObjectID:   objectID,
			Index:      i,
			ByteOffset: off,
			Data:       chunk,
			Checksum:   sha256.Sum256(chunk),
		})
	}
	return out
}

// VerifyChecksum reports whether s.Data matches s.Checksum, the read-path
// contract of §4.8 ("reads verify checksum").
func (s *Shard) VerifyChecksum() bool {
	return sha256.Sum256(s.Data) == s.Checksum
}

// Node is a placement candidate: a storage-capable peer with known
// capacity and locality tag.
type Node struct {
	ID          ids.NodeID
	Online      bool
	FreeBytes   int64
	LocalityTag string
}

// Strategy chooses `count` distinct nodes from candidates for a given
// shard. The default is hash-based over (objectID, shardIndex, nodeID)
// so placement is a pure function of the node table, not of call order.
type Strategy interface {
	Place(objectID ids.ID, shardIndex int, candidates []Node, count int) []ids.NodeID
}

// HashStrategy is the default placement strategy: filters candidates by
// online/capacity, ranks the survivors by a deterministic hash of
// (objectID, shardIndex, nodeID), and takes `count` of them in rank
// order, skipping nodes whose LocalityTag is already used unless too few
// distinct localities remain.
type HashStrategy struct {
	MinFreeBytes int64
}

func (h HashStrategy) Place(objectID ids.ID, shardIndex int, candidates []Node, count int) []ids.NodeID {
	type scored struct {
		id       ids.NodeID
		locality string
		score    [32]byte
	}
	var eligible []scored
	for _, n := range candidates {
		if !n.Online || n.FreeBytes < h.MinFreeBytes {
			continue
		}
		eligible = append(eligible, scored{id: n.ID, locality: n.LocalityTag, score: placementHash(objectID, shardIndex, n.ID)})
	}
	sort.Slice(eligible, func(i, j int) bool {
		return bytes.Compare(eligible[i].score[:], eligible[j].score[:]) < 0
	})
	if count > len(eligible) {
		count = len(eligible)
	}

	// Locality filter: at most one replica per LocalityTag, so a single
	// rack/region outage cannot take out every replica of a shard. Nodes
	// with an empty tag carry no locality information and are never
	// treated as colliding with one another.
	out := make([]ids.NodeID, 0, count)
	usedLocality := make(map[string]bool, count)
	for _, c := range eligible {
		if len(out) == count {
			break
		}
		if c.locality != "" && usedLocality[c.locality] {
			continue
		}
		out = append(out, c.id)
		if c.locality != "" {
			usedLocality[c.locality] = true
		}
	}
	// Too few distinct localities to fill count under strict diversity:
	// fall back to plain hash order so availability wins over diversity.
	if len(out) < count {
		placed := make(map[ids.NodeID]bool, len(out))
		for _, id := range out {
			placed[id] = true
		}
		for _, c := range eligible {
			if len(out) == count {
				break
			}
			if placed[c.id] {
				continue
			}
			out = append(out, c.id)
			placed[c.id] = true
		}
	}
	return out
}

func placementHash(objectID ids.ID, shardIndex int, node ids.NodeID) [32]byte {
	buf := make([]byte, 0, len(objectID)+8+len(node))
	buf = append(buf, objectID[:]...)
	idxBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idxBytes, uint64(shardIndex))
	buf = append(buf, idxBytes...)
	buf = append(buf, node[:]...)
	return sha256.Sum256(buf)
}

// Config bounds a Manager.
type Config struct {
	ReplicationFactor int
	ShardSize         int
	RepairInterval    time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{ReplicationFactor: 3, ShardSize: 1 << 20, RepairInterval: time.Minute}
}

// placement records the current replica set for one shard.
type placement struct {
	nodes      []ids.NodeID
	lastRepair time.Time
}

// Manager tracks shard placements and drives repair when healthy replica
// count falls below the replication factor. All mutation happens behind
// mu; operations are short and never perform network I/O while holding
// it (spec §5).
type Manager struct {
	cfg      Config
	strategy Strategy

	mu         sync.Mutex
	placements map[ids.ID]map[int]*placement
}

// New constructs a Manager using the given placement strategy, defaulting
// to HashStrategy when strategy is nil.
func New(cfg Config, strategy Strategy) *Manager {
	if strategy == nil {
		strategy = HashStrategy{}
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 3
	}
	return &Manager{cfg: cfg, strategy: strategy, placements: make(map[ids.ID]map[int]*placement)}
}

// Place assigns a fresh replica set to shard (objectID, shardIndex) from
// candidates, recording it for future repair checks.
func (m *Manager) Place(objectID ids.ID, shardIndex int, candidates []Node) []ids.NodeID {
	nodes := m.strategy.Place(objectID, shardIndex, candidates, m.cfg.ReplicationFactor)

	m.mu.Lock()
	defer m.mu.Unlock()
	byShard, ok := m.placements[objectID]
	if !ok {
		byShard = make(map[int]*placement)
		m.placements[objectID] = byShard
	}
	byShard[shardIndex] = &placement{nodes: nodes}
	return nodes
}

// Placement returns the currently recorded replica set for a shard.
func (m *Manager) Placement(objectID ids.ID, shardIndex int) []ids.NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	byShard, ok := m.placements[objectID]
	if !ok {
		return nil
	}
	p, ok := byShard[shardIndex]
	if !ok {
		return nil
	}
	return append([]ids.NodeID(nil), p.nodes...)
}

// Repair recomputes placement for a shard whose healthy replica count has
// dropped below the replication factor. healthSet names currently healthy
// nodes among the prior placement. Repair is idempotent (a no-op if
// already at target) and rate-limited to at most once per RepairInterval
// per shard (spec §4.8).
func (m *Manager) Repair(objectID ids.ID, shardIndex int, healthSet map[ids.NodeID]bool, candidates []Node, now time.Time) (repaired bool, nodes []ids.NodeID) {
	m.mu.Lock()
	byShard, ok := m.placements[objectID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	p, ok := byShard[shardIndex]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}

	var healthy []ids.NodeID
	for _, n := range p.nodes {
		if healthSet[n] {
			healthy = append(healthy, n)
		}
	}
	if len(healthy) >= m.cfg.ReplicationFactor {
		m.mu.Unlock()
		return false, append([]ids.NodeID(nil), p.nodes...)
	}
	if !p.lastRepair.IsZero() && now.Sub(p.lastRepair) < m.cfg.RepairInterval {
		m.mu.Unlock()
		return false, append([]ids.NodeID(nil), p.nodes...)
	}
	m.mu.Unlock()

	fresh := m.strategy.Place(objectID, shardIndex, candidates, m.cfg.ReplicationFactor)

	m.mu.Lock()
	defer m.mu.Unlock()
	p.nodes = fresh
	p.lastRepair = now
	return true, append([]ids.NodeID(nil), fresh...)
}

// Package transport implements the Peer Table and gossip fan-out (spec
// §4.5): connection lifecycle, deterministic peer scoring, bounded
// backpressure, and chaos hooks for simulating partial connectivity.
// Grounded in the teacher's networking/benchlist (peer scoring + bench
// eviction) and networking/tracker (per-peer resource accounting) shape,
// generalized to gossip dedup and delivery per §6.1/§8.
package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/log"
	"github.com/ippan/consensus/metrics"
)

// ConnState is one stage of the per-peer connection lifecycle (§4.5).
type ConnState int

const (
	Connecting ConnState = iota
	Connected
	Handshaking
	Ready
	Disconnected
)

// MessageClass names a gossip message class (§4.5).
type MessageClass string

const (
	ClassHandshake        MessageClass = "handshake"
	ClassPing             MessageClass = "ping"
	ClassPong             MessageClass = "pong"
	ClassBlockAnnounce    MessageClass = "block_announce"
	ClassBlockRequest     MessageClass = "block_request"
	ClassBlockResponse    MessageClass = "block_response"
	ClassTxAnnounce       MessageClass = "tx_announce"
	ClassPeerRequest      MessageClass = "peer_request"
	ClassPeerResponse     MessageClass = "peer_response"
)

// classPriority orders classes for backpressure eviction: lower value
// dropped first on overflow (consensus-critical block traffic outranks
// peer-discovery chatter).
var classPriority = map[MessageClass]int{
	ClassPeerRequest:   0,
	ClassPeerResponse:  0,
	ClassPing:          1,
	ClassPong:          1,
	ClassTxAnnounce:    2,
	ClassHandshake:     3,
	ClassBlockAnnounce: 4,
	ClassBlockRequest:  4,
	ClassBlockResponse: 5,
}

// Message is a gossip envelope per §6.1: topic, publisher, dedup id,
// send timestamp, and opaque payload.
type Message struct {
	Topic     string
	Publisher ids.NodeID
	MsgID     uint64
	SentTsMs  int64
	Class     MessageClass
	Payload   []byte
}

func (m Message) dedupKey() dedupKey {
	return dedupKey{topic: m.Topic, publisher: m.Publisher, msgID: m.MsgID}
}

type dedupKey struct {
	topic     string
	publisher ids.NodeID
	msgID     uint64
}

// Peer is the Peer Table's view of one connection.
type Peer struct {
	ID      ids.NodeID
	State   ConnState
	Score   int64
	outbox  chan Message
	benched bool
	benchAt time.Time
}

// ChaosPolicy simulates an unreliable link for a peer, per §4.5 and §8
// scenarios 2–4: a message has DropProb chance of being dropped, and
// otherwise is delayed uniformly in [LatencyLo, LatencyHi) (by exactly
// LatencyLo when LatencyHi <= LatencyLo).
type ChaosPolicy struct {
	DropProb  float64
	LatencyLo time.Duration
	LatencyHi time.Duration
}

func (c ChaosPolicy) sample(rng *rand.Rand) (drop bool, delay time.Duration) {
	if c.DropProb > 0 && rng.Float64() < c.DropProb {
		return true, 0
	}
	if c.LatencyHi <= c.LatencyLo {
		return false, c.LatencyLo
	}
	span := c.LatencyHi - c.LatencyLo
	return false, c.LatencyLo + time.Duration(rng.Int63n(int64(span)))
}

// Config bounds the Peer Table.
type Config struct {
	MaxQueuePerPeer int
	MaxPeers        int
	BenchThreshold  int64
	BenchDuration   time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{MaxQueuePerPeer: 256, MaxPeers: 128, BenchThreshold: -100, BenchDuration: 30 * time.Second}
}

// Table is the Peer Table: connection lifecycle, deterministic peer
// selection, scoring, and gossip dispatch. Publish fans gossip out on the
// caller's goroutine through bounded per-peer channels; deliveries that a
// chaos policy delays are enqueued later from a timer. The Table runs no
// dispatcher goroutine of its own. Per-peer state changes happen only
// through Table's methods, serialized by mu (spec §5).
type Table struct {
	cfg    Config
	log    log.Logger
	chaos  map[ids.NodeID]ChaosPolicy
	rng    *rand.Rand

	mu       sync.Mutex
	peers    map[ids.NodeID]*Peer
	seen     map[dedupKey]struct{}
	dropsCtr interface{ Add(float64) }
}

// New constructs an empty Table.
func New(cfg Config, logger log.Logger, reg *metrics.Registry) *Table {
	if logger == nil {
		logger = log.NewNoOp()
	}
	t := &Table{
		cfg:   cfg,
		log:   logger,
		chaos: make(map[ids.NodeID]ChaosPolicy),
		rng:   rand.New(rand.NewSource(1)),
		peers: make(map[ids.NodeID]*Peer),
		seen:  make(map[dedupKey]struct{}),
	}
	if reg != nil {
		t.dropsCtr = reg.Counter("ippan_transport_queue_drops_total", "messages dropped due to backpressure").WithLabelValues()
	}
	return t
}

// AddPeer registers a new peer in the Connecting state.
func (t *Table) AddPeer(id ids.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.peers) >= t.cfg.MaxPeers {
		return false // overflow rejects new inbound before exhausting FDs (spec §5)
	}
	if _, exists := t.peers[id]; exists {
		return true
	}
	t.peers[id] = &Peer{ID: id, State: Connecting, outbox: make(chan Message, t.cfg.MaxQueuePerPeer)}
	return true
}

// SetChaosPolicy configures a chaos policy for a given peer, used by
// tests reproducing §8 scenarios 2-4.
func (t *Table) SetChaosPolicy(id ids.NodeID, policy ChaosPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chaos[id] = policy
}

// Transition advances a peer through the connection lifecycle.
func (t *Table) Transition(id ids.NodeID, to ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.State = to
	}
}

// ReadyPeers returns the ids of all peers currently Ready and not
// benched, in deterministic ascending order.
func (t *Table) ReadyPeers() []ids.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ids.NodeID
	for id, p := range t.peers {
		if p.State == Ready && !t.isBenchedLocked(p) {
			out = append(out, id)
		}
	}
	sortNodeIDs(out)
	return out
}

// Publish delivers msg at-least-once to every Ready peer other than the
// source, deduplicating by (topic, publisher, msg_id). Chaos policies,
// when configured, may drop or delay individual deliveries (spec §4.5,
// §8 scenarios 2-4).
func (t *Table) Publish(source ids.NodeID, msg Message) {
	t.mu.Lock()
	key := msg.dedupKey()
	if _, dup := t.seen[key]; dup {
		t.mu.Unlock()
		return
	}
	t.seen[key] = struct{}{}

	var targets []*Peer
	for id, p := range t.peers {
		if id == source || p.State != Ready || t.isBenchedLocked(p) {
			continue
		}
		targets = append(targets, p)
	}
	chaosByPeer := make(map[ids.NodeID]ChaosPolicy, len(targets))
	for _, p := range targets {
		chaosByPeer[p.ID] = t.chaos[p.ID]
	}
	t.mu.Unlock()

	for _, p := range targets {
		policy := chaosByPeer[p.ID]
		drop, delay := policy.sample(t.rng)
		if drop {
			continue // ChaosDrop: an expected loss, not an error (spec §7); no counter records it
		}
		if delay > 0 {
			time.AfterFunc(delay, func() { t.deliver(p, msg) })
			continue
		}
		t.deliver(p, msg)
	}
}

func (t *Table) deliver(p *Peer, msg Message) {
	select {
	case p.outbox <- msg:
	default:
		t.dropLowestPriority(p, msg)
	}
}

// dropLowestPriority implements §4.5's backpressure contract: overflow
// drops the lowest-priority queued class and increments a counter; it
// never blocks the caller.
func (t *Table) dropLowestPriority(p *Peer, incoming Message) {
	// Drain the queue, find the lowest-priority message (preferring the
	// incoming one if it is itself the lowest), drop exactly one, then
	// requeue everything else plus the incoming message if it survives.
	pending := drainAll(p.outbox)
	pending = append(pending, incoming)

	lowestIdx := 0
	for i := range pending {
		if classPriority[pending[i].Class] < classPriority[pending[lowestIdx].Class] {
			lowestIdx = i
		}
	}
	pending = append(pending[:lowestIdx], pending[lowestIdx+1:]...)
	if t.dropsCtr != nil {
		t.dropsCtr.Add(1)
	}
	for _, m := range pending {
		select {
		case p.outbox <- m:
		default:
			if t.dropsCtr != nil {
				t.dropsCtr.Add(1)
			}
		}
	}
}

func drainAll(ch <-chan Message) []Message {
	var out []Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Received returns the channel a consumer drains for messages delivered
// to peer id's outbox — in production this models the local node's
// receipt of gossip forwarded to it.
func (t *Table) Received(id ids.NodeID) <-chan Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		return p.outbox
	}
	closed := make(chan Message)
	close(closed)
	return closed
}

// Credit/Debit implement integer-only peer scoring (spec §4.5): timely
// valid messages accrue credit, invalid/stale ones debit.
func (t *Table) Credit(id ids.NodeID, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.Score += amount
	}
}

func (t *Table) Debit(id ids.NodeID, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	p.Score -= amount
	if p.Score <= t.cfg.BenchThreshold && !p.benched {
		p.benched = true
		p.benchAt = time.Now()
	}
}

// IsBenched reports whether id is currently evicted on score pressure.
func (t *Table) IsBenched(id ids.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return false
	}
	return t.isBenchedLocked(p)
}

func (t *Table) isBenchedLocked(p *Peer) bool {
	if !p.benched {
		return false
	}
	if time.Since(p.benchAt) > t.cfg.BenchDuration {
		p.benched = false
		p.Score = 0
		return false
	}
	return true
}

func sortNodeIDs(list []ids.NodeID) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && lessNodeID(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func lessNodeID(a, b ids.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

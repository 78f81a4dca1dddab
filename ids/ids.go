// Package ids defines the identifier and address primitives shared across
// every component: content-addressed IDs, validator node identities, and
// IPPAN's base-58 wallet address format (spec §6.2).
package ids

import "github.com/luxfi/ids"

// ID and NodeID are re-exported from github.com/luxfi/ids, the identity
// primitives the teacher's whole module graph is built on: a 32-byte
// content identifier and a 20-byte validator/peer identity.
type (
	ID     = ids.ID
	NodeID = ids.NodeID
)

var (
	// Empty is the zero ID, used as a sentinel parent for genesis blocks.
	Empty = ids.Empty
	// EmptyNodeID is the zero NodeID.
	EmptyNodeID = ids.EmptyNodeID
)

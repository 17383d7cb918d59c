// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

// Package merkle implements the multi-store Merkle tree (spec §4.B): a
// top-level root over a fixed, small set of named sub-trees, each a
// binary Merkle tree over its leaves in sorted key order. Leaves are
// keyed by the plain key string (keys are not hashed) and the tree is
// dense, not sparse. Sub-tree routing,
// hashing, and proof shapes follow spec.md §3/§4.B; the sorted-leaves
// rebuild-on-read shape is grounded on
// other_examples/9da29c3a_Layr-Labs-eigenx-kms-go's binary Merkle tree
// (sort leaves, build levels bottom-up, duplicate the odd leaf) and on
// the constructor/Root/Verify surface pinned down by the teacher's
// merkle/tree_test.go.
package merkle

import (
	"fmt"

	"github.com/tesseract-chain/ledgerstore/types"
)

// SubTreeKind enumerates the closed set of sub-trees a key can route
// to. Unknown first segments default to Account (spec §4.B).
type SubTreeKind int

const (
	Account SubTreeKind = iota
	Ibc
	Pos
	BridgePool
)

func (k SubTreeKind) String() string {
	switch k {
	case Account:
		return "account"
	case Ibc:
		return "ibc"
	case Pos:
		return "pos"
	case BridgePool:
		return "bridge_pool"
	default:
		return "unknown"
	}
}

// canonicalOrder is the fixed order sub-tree roots are concatenated in
// to form the top-level root. It must never be reordered once a chain
// has committed a block, or every historical root becomes unverifiable.
var canonicalOrder = []SubTreeKind{Account, Ibc, Pos, BridgePool}

// Route maps a key's first segment to the sub-tree that owns it.
func Route(key types.Key) SubTreeKind {
	first, ok := key.FirstSegment()
	if !ok {
		return Account
	}
	switch first {
	case types.AddressIBC.Raw:
		return Ibc
	case types.AddressPoS.Raw:
		return Pos
	case types.AddressBridgePool.Raw:
		return BridgePool
	default:
		return Account
	}
}

// Tree is the multi-store Merkle tree owned by a block's storage.
type Tree struct {
	subtrees          map[SubTreeKind]*subTree
	bridgePoolEnabled bool
}

// NewTree returns an empty multi-store tree. bridgePoolEnabled mirrors
// the "bridge pool sub-tree" configuration feature flag (spec §6): when
// false, the bridge-pool sub-tree is still tracked internally (so a
// later enable doesn't need a migration) but proof requests against it
// are rejected by the storage core.
func NewTree(bridgePoolEnabled bool) *Tree {
	t := &Tree{
		subtrees:          make(map[SubTreeKind]*subTree, len(canonicalOrder)),
		bridgePoolEnabled: bridgePoolEnabled,
	}
	for _, kind := range canonicalOrder {
		t.subtrees[kind] = newSubTree(kind)
	}
	return t
}

// BridgePoolEnabled reports the tree's bridge-pool feature flag.
func (t *Tree) BridgePoolEnabled() bool { return t.bridgePoolEnabled }

// Update inserts key into the sub-tree selected by its first segment,
// hashing value before insertion. Keys routed to the IBC sub-tree that
// exceed IBCKeyLimit are rejected (invariant 5).
func (t *Tree) Update(key types.Key, value []byte) error {
	kind := Route(key)
	if kind == Ibc {
		if err := key.ValidateForIBC(); err != nil {
			return err
		}
	}
	return t.subtrees[kind].update(key.String(), value)
}

// Delete removes key from its sub-tree. A non-existent key is a no-op.
func (t *Tree) Delete(key types.Key) error {
	kind := Route(key)
	t.subtrees[kind].delete(key.String())
	return nil
}

// HasKey reports whether key is present in its sub-tree.
func (t *Tree) HasKey(key types.Key) bool {
	kind := Route(key)
	return t.subtrees[kind].has(key.String())
}

// Root returns the top-level root: the hash of the concatenation of
// every sub-tree's root, in canonicalOrder.
func (t *Tree) Root() [32]byte {
	return hashConcat(t.subRoots())
}

func (t *Tree) subRoots() [][]byte {
	roots := make([][]byte, len(canonicalOrder))
	for i, kind := range canonicalOrder {
		r := t.subtrees[kind].root()
		roots[i] = r[:]
	}
	return roots
}

// SubTreeRoot returns the root of a single sub-tree, for proof
// construction or external inspection.
func (t *Tree) SubTreeRoot(kind SubTreeKind) [32]byte {
	return t.subtrees[kind].root()
}

// subTreeOf exposes the underlying sub-tree for use within this
// package (proof.go, store.go).
func (t *Tree) subTreeOf(kind SubTreeKind) *subTree { return t.subtrees[kind] }

// Clone returns a deep copy of the tree, used when deriving a
// historical tree view so that mutating it never affects the live
// block tree.
func (t *Tree) Clone() *Tree {
	cp := &Tree{
		subtrees:          make(map[SubTreeKind]*subTree, len(t.subtrees)),
		bridgePoolEnabled: t.bridgePoolEnabled,
	}
	for kind, st := range t.subtrees {
		cp.subtrees[kind] = st.clone()
	}
	return cp
}

func kindFromString(s string) (SubTreeKind, error) {
	for _, k := range canonicalOrder {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown sub-tree %q", types.ErrUnknownKey, s)
}

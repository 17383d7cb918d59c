// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package merkle

import (
	"fmt"

	"github.com/tesseract-chain/ledgerstore/types"
)

// StoresWrite is the serialized form of the full multi-store state,
// persisted by the DB backend at block/<N>/tree_stores (spec §6). One
// record per sub-tree, each a length-prefixed list of (key, valueHash)
// leaves in sorted order.
type StoresWrite struct {
	BridgePoolEnabled bool
	SubTrees          map[string][]byte // sub-tree name -> encoded leaf list
}

// StoresRead is the decoded counterpart, used to reconstruct a
// historical tree.
type StoresRead = StoresWrite

// Stores serializes the tree's current state.
func (t *Tree) Stores() *StoresWrite {
	out := &StoresWrite{
		BridgePoolEnabled: t.bridgePoolEnabled,
		SubTrees:          make(map[string][]byte, len(canonicalOrder)),
	}
	for _, kind := range canonicalOrder {
		out.SubTrees[kind.String()] = encodeSubTree(t.subtrees[kind])
	}
	return out
}

// NewFromStores reconstructs a tree from a previously serialized
// state, e.g. when rebuilding a historical view for read_with_height.
func NewFromStores(stores *StoresRead) (*Tree, error) {
	t := NewTree(stores.BridgePoolEnabled)
	for name, raw := range stores.SubTrees {
		kind, err := kindFromString(name)
		if err != nil {
			return nil, err
		}
		st, err := decodeSubTree(kind, raw)
		if err != nil {
			return nil, err
		}
		t.subtrees[kind] = st
	}
	return t, nil
}

func encodeSubTree(s *subTree) []byte {
	entries := s.sortedEntries()
	var out []byte
	out = append(out, types.EncodeUint64(uint64(len(entries)))...)
	for _, e := range entries {
		out = append(out, types.EncodeBytes([]byte(e.Key))...)
		out = append(out, e.ValueHash[:]...)
	}
	return out
}

func decodeSubTree(kind SubTreeKind, raw []byte) (*subTree, error) {
	st := newSubTree(kind)
	if len(raw) == 0 {
		return st, nil
	}
	count, err := types.DecodeUint64(raw[:8])
	if err != nil {
		return nil, fmt.Errorf("%w: sub-tree leaf count: %v", types.ErrDecodingError, err)
	}
	off := 8
	for i := uint64(0); i < count; i++ {
		key, n, err := types.DecodeBytes(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: sub-tree leaf %d key: %v", types.ErrDecodingError, i, err)
		}
		off += n
		if off+32 > len(raw) {
			return nil, fmt.Errorf("%w: sub-tree leaf %d value truncated", types.ErrDecodingError, i)
		}
		var valueHash [32]byte
		copy(valueHash[:], raw[off:off+32])
		off += 32
		st.leaves[string(key)] = valueHash
	}
	st.dirty = true
	return st, nil
}

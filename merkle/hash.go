// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package merkle

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// hashValue hashes a leaf value before it is stored in a sub-tree node.
// Every sub-tree but BridgePool uses SHA-256 (spec §4.B), matching the
// ics23.HashOp_SHA256 declared on every proof this package emits.
// BridgePool additionally supports a Keccak-256 fingerprint, since its
// leaves must be verifiable by Ethereum-side contracts.
func hashValue(kind SubTreeKind, value []byte) [32]byte {
	if kind == BridgePool {
		return keccak256(value)
	}
	return sha256_256(value)
}

func sha256_256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashPair computes the parent of two sibling node hashes.
func hashPair(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashConcat hashes the ordered concatenation of byte slices, used for
// the top-level root over sub-tree roots.
func hashConcat(parts [][]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashLeaf combines a key and its (already-hashed) value into the leaf
// node hash, so two different keys holding coincidentally equal value
// hashes never collide in the tree.
func hashLeaf(key string, valueHash [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{0x00}) // leaf domain separator
	h.Write([]byte(key))
	h.Write(valueHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

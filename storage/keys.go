// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"encoding/binary"

	"github.com/tesseract-chain/ledgerstore/types"
)

// Physical key layout shared by both DB backends. Logical names follow
// spec §6 ("subspace/<key>", "diff/<height>/<key>", "block/N/...",
// "last_height"); the diff record is keyed key-major
// ("diffkey/<key>/<height>") rather than height-major so that
// ReadSubspaceValWithHeight can do a single bounded prefix scan per key
// instead of a full-history scan, a pragmatic deviation the teacher's
// own badgerGetter/chainStore split (key-prefixed buckets) already
// models for its chain data.
const (
	prefixSubspace = "subspace/"
	prefixDiffKey  = "diffkey/"
	prefixBlock    = "block/"
	keyLastHeight  = "last_height"
)

func subspaceKey(key types.Key) []byte {
	return []byte(prefixSubspace + key.String())
}

func heightBytes(h types.BlockHeight) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(h)) // big-endian so lexicographic byte order matches numeric order
	return b
}

func decodeHeightBytes(b []byte) types.BlockHeight {
	return types.BlockHeight(binary.BigEndian.Uint64(b))
}

func diffKeyPrefix(key types.Key) []byte {
	return []byte(prefixDiffKey + key.String() + "/")
}

func diffKey(key types.Key, height types.BlockHeight) []byte {
	return append(diffKeyPrefix(key), heightBytes(height)...)
}

func blockTreeStoresKey(height types.BlockHeight) []byte {
	return []byte(prefixBlock + string(heightBytes(height)) + "/tree_stores")
}

func blockHeaderKey(height types.BlockHeight) []byte {
	return []byte(prefixBlock + string(heightBytes(height)) + "/header")
}

func blockMetaKey(height types.BlockHeight) []byte {
	return []byte(prefixBlock + string(heightBytes(height)) + "/meta")
}

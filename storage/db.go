// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

// Package storage implements the ledger state store: the DB backend
// abstraction (component A), the write-log overlay (component C), the
// storage core composing a DB and a Merkle tree (component D), the
// epoch engine (component E) and the validator/balance queries facet
// (component F).
package storage

import (
	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// Header is the minimal block header the store persists alongside
// tree and meta records. Consensus-specific header fields (proposer
// signatures, quorum certificates, ...) belong to the consensus engine
// and are out of scope here (spec §1).
type Header struct {
	Height types.BlockHeight
	Time   types.BlockHeight // nanoseconds since epoch, see types.BlockHeight use as a counter
	ChainID string
}

// BlockMeta is the `block/N/meta` record (spec §6).
type BlockMeta struct {
	Hash                     [32]byte
	Epoch                    types.Epoch
	PredEpochs               *types.Epochs
	NextEpochMinStartHeight  types.BlockHeight
	NextEpochMinStartTime    int64 // unix nanoseconds
	AddressGenSeed           []byte
	AddressGenCounter        uint64
	TxQueue                  [][]byte // present only when the wrapper-tx-queue feature is enabled
}

// BlockStateRead is everything DB.ReadLastBlock hands back to hydrate
// a Storage at startup.
type BlockStateRead struct {
	TreeStores *merkle.StoresRead
	Height     types.BlockHeight
	Meta       *BlockMeta
}

// BlockStateWrite is everything DB.WriteBlock persists atomically at
// commit time.
type BlockStateWrite struct {
	TreeStores *merkle.StoresWrite
	Header     *Header
	Height     types.BlockHeight
	Meta       *BlockMeta
}

// KVPair is one item yielded by an Iterator.
type KVPair struct {
	Key   string
	Value []byte
	Gas   uint64
}

// Iterator is a lazy, finite, non-restartable sequence over a key
// range, ordered (or reverse-ordered) lexicographically by key at the
// snapshot taken when the iterator was created (spec §4.A, §5).
type Iterator interface {
	// Next advances the iterator and reports whether an item is
	// available. It must be called once before the first Item().
	Next() bool
	Item() KVPair
	// Close releases resources held by the iterator. Safe to call
	// multiple times.
	Close()
}

// WriteBatch accumulates subspace writes/deletes for a single atomic
// application via DB.ExecBatch.
type WriteBatch interface {
	Set(key []byte, value []byte) error
	Delete(key []byte) error
}

// DB is the capability set a concrete backend must provide (spec
// §4.A). Two small capability vocabularies -- DB here and merkle's
// hashing, which needs no interface since sub-tree hash choice is
// fixed per spec -- keep the storage core itself non-generic, per
// spec §9's design note, rather than parameterizing Storage over a
// backend type the way the teacher's source did for its DB/hasher.
type DB interface {
	// Flush durably syncs any buffered writes when wait is true,
	// blocking until the sync completes. With wait false BadgerDB
	// returns without syncing; MemDB never has anything to sync.
	Flush(wait bool) error

	ReadLastBlock() (*BlockStateRead, error)
	WriteBlock(*BlockStateWrite) error
	ReadBlockHeader(height types.BlockHeight) (*Header, error)
	ReadMerkleTreeStores(height types.BlockHeight) (*merkle.StoresRead, error)

	ReadSubspaceVal(key types.Key) ([]byte, bool, error)
	ReadSubspaceValWithHeight(key types.Key, height, lastHeight types.BlockHeight) ([]byte, bool, error)
	WriteSubspaceVal(height types.BlockHeight, key types.Key, value []byte) (int64, error)
	DeleteSubspaceVal(height types.BlockHeight, key types.Key) (int64, error)

	Batch() WriteBatch
	ExecBatch(WriteBatch) error
	BatchWriteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key, value []byte) (int64, error)
	BatchDeleteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key) (int64, error)

	IterPrefix(prefix types.Key) Iterator
	RevIterPrefix(prefix types.Key) Iterator

	Close() error
}

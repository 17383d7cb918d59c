// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/tesseract-chain/ledgerstore/logger"
	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// BadgerDB is the production DB backend (component A), built on
// github.com/dgraph-io/badger/v3 exactly as the teacher's storage
// package does (storage.New there takes a *badger.DB). Subspaces,
// diffs and block records are modeled as badger key prefixes; there is
// no column-family concept in badger, so prefix partitioning plays
// that role, following the teacher's own badgerGetter convention of a
// single keyspace split by string prefix.
type BadgerDB struct {
	db *badger.DB
}

var _ DB = (*BadgerDB)(nil)

// OpenBadgerDB opens (creating if absent) a badger store at path. cache
// is an opaque backend-specific handle (spec §6); for badger it is
// interpreted as a block-cache size in bytes, 0 meaning "use badger's
// default".
func OpenBadgerDB(path string, cacheBytes int64) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if cacheBytes > 0 {
		opts = opts.WithBlockCacheSize(cacheBytes)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", types.ErrDB, path, err)
	}
	logger.I().Infow("opened badger db", "path", path)
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Flush(wait bool) error {
	if !wait {
		return nil
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", types.ErrDB, err)
	}
	return nil
}

func (b *BadgerDB) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", types.ErrDB, err)
	}
	return nil
}

func (b *BadgerDB) ReadLastBlock() (*BlockStateRead, error) {
	var height types.BlockHeight
	var metaRaw, storesRaw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastHeight))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		hb, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		height = decodeHeightBytes(hb)

		item, err = txn.Get(blockMetaKey(height))
		if err != nil {
			return err
		}
		metaRaw, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(blockTreeStoresKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		storesRaw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read last block: %v", types.ErrDB, err)
	}
	if metaRaw == nil {
		return nil, nil
	}
	meta, err := decodeMeta(metaRaw)
	if err != nil {
		return nil, err
	}
	var stores *merkle.StoresRead
	if storesRaw != nil {
		stores, err = decodeStores(storesRaw)
		if err != nil {
			return nil, err
		}
	}
	return &BlockStateRead{TreeStores: stores, Height: height, Meta: meta}, nil
}

func (b *BadgerDB) WriteBlock(w *BlockStateWrite) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if w.TreeStores != nil {
			if err := txn.Set(blockTreeStoresKey(w.Height), encodeStores(w.TreeStores)); err != nil {
				return err
			}
		}
		if w.Header != nil {
			if err := txn.Set(blockHeaderKey(w.Height), encodeHeader(w.Header)); err != nil {
				return err
			}
		}
		if err := txn.Set(blockMetaKey(w.Height), encodeMeta(w.Meta)); err != nil {
			return err
		}
		return txn.Set([]byte(keyLastHeight), heightBytes(w.Height))
	})
}

func (b *BadgerDB) ReadBlockHeader(height types.BlockHeight) (*Header, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockHeaderKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read block header: %v", types.ErrDB, err)
	}
	if raw == nil {
		return nil, nil
	}
	return decodeHeader(raw)
}

func (b *BadgerDB) ReadMerkleTreeStores(height types.BlockHeight) (*merkle.StoresRead, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockTreeStoresKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read merkle tree stores at height %d: %v", types.ErrDB, height, err)
	}
	if raw == nil {
		return nil, nil
	}
	return decodeStores(raw)
}

func (b *BadgerDB) ReadSubspaceVal(key types.Key) ([]byte, bool, error) {
	var value []byte
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(subspaceKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: read subspace val %q: %v", types.ErrDB, key.String(), err)
	}
	return value, found, nil
}

func (b *BadgerDB) ReadSubspaceValWithHeight(key types.Key, height, lastHeight types.BlockHeight) ([]byte, bool, error) {
	if height >= lastHeight {
		return b.ReadSubspaceVal(key)
	}
	var value []byte
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = diffKeyPrefix(key)
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := diffKey(key, height)
		var bestRaw []byte
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			k := it.Item().Key()
			if string(k) > string(seekKey) {
				break
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			bestRaw = raw
		}
		if bestRaw == nil {
			return nil
		}
		hadNew, newV, err := lastDiffValue(bestRaw)
		if err != nil {
			return err
		}
		found = hadNew
		value = newV
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: read subspace val %q at height %d: %v", types.ErrDB, key.String(), height, err)
	}
	return value, found, nil
}

func lastDiffValue(raw []byte) (bool, []byte, error) {
	_, _, hadNew, newV, err := decodeDiffRecord(raw)
	if err != nil {
		return false, nil, err
	}
	return hadNew, newV, nil
}

func (b *BadgerDB) WriteSubspaceVal(height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	var sizeDiff int64
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		sizeDiff, err = writeSubspaceTxn(txn, height, key, value)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: write subspace val %q: %v", types.ErrDB, key.String(), err)
	}
	return sizeDiff, nil
}

func writeSubspaceTxn(txn *badger.Txn, height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	prev, hadPrev, err := readSubspaceTxn(txn, key)
	if err != nil {
		return 0, err
	}
	var sizeDiff int64
	if hadPrev {
		sizeDiff = int64(len(value)) - int64(len(prev))
	} else {
		sizeDiff = int64(len(value))
	}
	if err := txn.Set(subspaceKey(key), value); err != nil {
		return 0, err
	}
	if err := txn.Set(diffKey(key, height), encodeDiffRecord(hadPrev, prev, true, value)); err != nil {
		return 0, err
	}
	return sizeDiff, nil
}

func readSubspaceTxn(txn *badger.Txn, key types.Key) ([]byte, bool, error) {
	item, err := txn.Get(subspaceKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	return v, true, err
}

func (b *BadgerDB) DeleteSubspaceVal(height types.BlockHeight, key types.Key) (int64, error) {
	var removed int64
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		removed, err = deleteSubspaceTxn(txn, height, key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete subspace val %q: %v", types.ErrDB, key.String(), err)
	}
	return removed, nil
}

func deleteSubspaceTxn(txn *badger.Txn, height types.BlockHeight, key types.Key) (int64, error) {
	prev, hadPrev, err := readSubspaceTxn(txn, key)
	if err != nil {
		return 0, err
	}
	if !hadPrev {
		return 0, nil
	}
	if err := txn.Delete(subspaceKey(key)); err != nil {
		return 0, err
	}
	if err := txn.Set(diffKey(key, height), encodeDiffRecord(true, prev, false, nil)); err != nil {
		return 0, err
	}
	return int64(len(prev)), nil
}

// badgerBatch buffers subspace/diff ops and is applied via one
// badger.WriteBatch on ExecBatch.
type badgerBatch struct {
	wb  *badger.WriteBatch
	ops []func(txn *badger.Txn) error // unused: BatchWriteSubspaceVal/BatchDeleteSubspaceVal read the previous value directly, then queue into wb
}

func (b *BadgerDB) Batch() WriteBatch {
	return &badgerBatch{wb: b.db.NewWriteBatch()}
}

func (bb *badgerBatch) Set(key []byte, value []byte) error { return bb.wb.Set(key, value) }
func (bb *badgerBatch) Delete(key []byte) error             { return bb.wb.Delete(key) }

func (b *BadgerDB) ExecBatch(batch WriteBatch) error {
	bb, ok := batch.(*badgerBatch)
	if !ok {
		return fmt.Errorf("%w: batch from a different backend", types.ErrDB)
	}
	if err := bb.wb.Flush(); err != nil {
		return fmt.Errorf("%w: exec batch: %v", types.ErrDB, err)
	}
	return nil
}

func (b *BadgerDB) BatchWriteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	bb, ok := batch.(*badgerBatch)
	if !ok {
		return 0, fmt.Errorf("%w: batch from a different backend", types.ErrDB)
	}
	prev, hadPrev, err := b.ReadSubspaceVal(key)
	if err != nil {
		return 0, err
	}
	var sizeDiff int64
	if hadPrev {
		sizeDiff = int64(len(value)) - int64(len(prev))
	} else {
		sizeDiff = int64(len(value))
	}
	if err := bb.wb.Set(subspaceKey(key), value); err != nil {
		return 0, fmt.Errorf("%w: batch write subspace val: %v", types.ErrDB, err)
	}
	if err := bb.wb.Set(diffKey(key, height), encodeDiffRecord(hadPrev, prev, true, value)); err != nil {
		return 0, fmt.Errorf("%w: batch write diff record: %v", types.ErrDB, err)
	}
	return sizeDiff, nil
}

func (b *BadgerDB) BatchDeleteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key) (int64, error) {
	bb, ok := batch.(*badgerBatch)
	if !ok {
		return 0, fmt.Errorf("%w: batch from a different backend", types.ErrDB)
	}
	prev, hadPrev, err := b.ReadSubspaceVal(key)
	if err != nil {
		return 0, err
	}
	if !hadPrev {
		return 0, nil
	}
	if err := bb.wb.Delete(subspaceKey(key)); err != nil {
		return 0, fmt.Errorf("%w: batch delete subspace val: %v", types.ErrDB, err)
	}
	if err := bb.wb.Set(diffKey(key, height), encodeDiffRecord(true, prev, false, nil)); err != nil {
		return 0, fmt.Errorf("%w: batch write diff record: %v", types.ErrDB, err)
	}
	return int64(len(prev)), nil
}

func (b *BadgerDB) IterPrefix(prefix types.Key) Iterator {
	return newBadgerIterator(b.db, prefix, false)
}

func (b *BadgerDB) RevIterPrefix(prefix types.Key) Iterator {
	return newBadgerIterator(b.db, prefix, true)
}

// badgerIterator materializes the snapshot eagerly within a single
// read transaction rather than streaming from a long-lived badger
// iterator, keeping the Iterator contract ("non-restartable sequence
// ... at the snapshot of invocation") simple to reason about at the
// cost of holding the whole prefix range in memory.
type badgerIterator struct {
	*sliceIterator
}

func newBadgerIterator(db *badger.DB, prefix types.Key, rev bool) *badgerIterator {
	rawPrefix := []byte(prefixSubspace + prefix.String())
	var items []KVPair
	_ = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = rawPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(rawPrefix); it.ValidForPrefix(rawPrefix); it.Next() {
			item := it.Item()
			k := string(item.KeyCopy(nil)[len(prefixSubspace):])
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			items = append(items, KVPair{Key: k, Value: v, Gas: uint64(len(k) + len(v))})
		}
		return nil
	})
	return &badgerIterator{sliceIterator: newSliceIterator(items, rev)}
}

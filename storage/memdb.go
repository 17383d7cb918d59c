// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"sort"
	"sync"

	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// MemDB is an in-memory DB backend. It exists both as a second,
// pluggable backend (spec §9's design note calls for the store to stay
// non-generic over backend type, which only means something if there
// are at least two real implementations) and as the backend tests use
// to avoid spinning up badger for every case.
type MemDB struct {
	mu sync.RWMutex

	subspace map[string][]byte
	diffs    map[string][]memDiffEntry // key string -> diffs sorted by height

	blockTreeStores map[types.BlockHeight]*merkle.StoresRead
	blockHeaders    map[types.BlockHeight]*Header
	blockMeta       map[types.BlockHeight]*BlockMeta
	lastHeight      types.BlockHeight
}

type memDiffEntry struct {
	height types.BlockHeight
	hadOld bool
	old    []byte
	hadNew bool
	newV   []byte
}

var _ DB = (*MemDB)(nil)

// NewMemDB returns an empty in-memory backend.
func NewMemDB() *MemDB {
	return &MemDB{
		subspace:        make(map[string][]byte),
		diffs:           make(map[string][]memDiffEntry),
		blockTreeStores: make(map[types.BlockHeight]*merkle.StoresRead),
		blockHeaders:    make(map[types.BlockHeight]*Header),
		blockMeta:       make(map[types.BlockHeight]*BlockMeta),
	}
}

func (db *MemDB) Flush(wait bool) error { return nil }

func (db *MemDB) Close() error { return nil }

func (db *MemDB) ReadLastBlock() (*BlockStateRead, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.lastHeight == 0 {
		if _, ok := db.blockMeta[0]; !ok {
			return nil, nil
		}
	}
	meta, ok := db.blockMeta[db.lastHeight]
	if !ok {
		return nil, nil
	}
	stores := db.blockTreeStores[db.lastHeight]
	return &BlockStateRead{TreeStores: stores, Height: db.lastHeight, Meta: meta}, nil
}

func (db *MemDB) WriteBlock(w *BlockStateWrite) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.blockTreeStores[w.Height] = w.TreeStores
	if w.Header != nil {
		db.blockHeaders[w.Height] = w.Header
	}
	db.blockMeta[w.Height] = w.Meta
	db.lastHeight = w.Height
	return nil
}

func (db *MemDB) ReadBlockHeader(height types.BlockHeight) (*Header, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, ok := db.blockHeaders[height]
	if !ok {
		return nil, nil
	}
	return h, nil
}

func (db *MemDB) ReadMerkleTreeStores(height types.BlockHeight) (*merkle.StoresRead, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.blockTreeStores[height]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (db *MemDB) ReadSubspaceVal(key types.Key) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.subspace[key.String()]
	return v, ok, nil
}

func (db *MemDB) ReadSubspaceValWithHeight(key types.Key, height, lastHeight types.BlockHeight) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if height >= lastHeight {
		v, ok := db.subspace[key.String()]
		return v, ok, nil
	}
	entries := db.diffs[key.String()]
	// entries is sorted ascending by height; find the last entry at or
	// before the requested height.
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].height > height }) - 1
	if idx < 0 {
		return nil, false, nil
	}
	e := entries[idx]
	if !e.hadNew {
		return nil, false, nil
	}
	return e.newV, true, nil
}

func (db *MemDB) WriteSubspaceVal(height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writeLocked(height, key, value)
}

func (db *MemDB) writeLocked(height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	ks := key.String()
	prev, hadPrev := db.subspace[ks]
	var sizeDiff int64
	if hadPrev {
		sizeDiff = int64(len(value)) - int64(len(prev))
	} else {
		sizeDiff = int64(len(value))
	}
	db.diffs[ks] = append(db.diffs[ks], memDiffEntry{height: height, hadOld: hadPrev, old: prev, hadNew: true, newV: value})
	db.subspace[ks] = value
	return sizeDiff, nil
}

func (db *MemDB) DeleteSubspaceVal(height types.BlockHeight, key types.Key) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.deleteLocked(height, key)
}

func (db *MemDB) deleteLocked(height types.BlockHeight, key types.Key) (int64, error) {
	ks := key.String()
	prev, hadPrev := db.subspace[ks]
	if !hadPrev {
		return 0, nil
	}
	db.diffs[ks] = append(db.diffs[ks], memDiffEntry{height: height, hadOld: true, old: prev, hadNew: false})
	delete(db.subspace, ks)
	return int64(len(prev)), nil
}

// memBatch buffers ops and is applied under a single lock by ExecBatch.
type memBatch struct {
	ops []func(db *MemDB) error
}

func (b *memBatch) Set(key []byte, value []byte) error {
	b.ops = append(b.ops, func(db *MemDB) error {
		db.subspace[string(key)] = value
		return nil
	})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, func(db *MemDB) error {
		delete(db.subspace, string(key))
		return nil
	})
	return nil
}

func (db *MemDB) Batch() WriteBatch { return &memBatch{} }

func (db *MemDB) ExecBatch(b WriteBatch) error {
	mb, ok := b.(*memBatch)
	if !ok {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range mb.ops {
		if err := op(db); err != nil {
			return err
		}
	}
	return nil
}

func (db *MemDB) BatchWriteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key, value []byte) (int64, error) {
	mb, ok := batch.(*memBatch)
	if !ok {
		return 0, nil
	}
	db.mu.RLock()
	prev, hadPrev := db.subspace[key.String()]
	db.mu.RUnlock()
	var sizeDiff int64
	if hadPrev {
		sizeDiff = int64(len(value)) - int64(len(prev))
	} else {
		sizeDiff = int64(len(value))
	}
	ks := key.String()
	mb.ops = append(mb.ops, func(db *MemDB) error {
		prev, hadPrev := db.subspace[ks]
		db.diffs[ks] = append(db.diffs[ks], memDiffEntry{height: height, hadOld: hadPrev, old: prev, hadNew: true, newV: value})
		db.subspace[ks] = value
		return nil
	})
	return sizeDiff, nil
}

func (db *MemDB) BatchDeleteSubspaceVal(batch WriteBatch, height types.BlockHeight, key types.Key) (int64, error) {
	mb, ok := batch.(*memBatch)
	if !ok {
		return 0, nil
	}
	db.mu.RLock()
	prev, hadPrev := db.subspace[key.String()]
	db.mu.RUnlock()
	if !hadPrev {
		return 0, nil
	}
	ks := key.String()
	mb.ops = append(mb.ops, func(db *MemDB) error {
		prev, hadPrev := db.subspace[ks]
		if !hadPrev {
			return nil
		}
		db.diffs[ks] = append(db.diffs[ks], memDiffEntry{height: height, hadOld: true, old: prev})
		delete(db.subspace, ks)
		return nil
	})
	return int64(len(prev)), nil
}

func (db *MemDB) IterPrefix(prefix types.Key) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return newSliceIterator(db.snapshotPrefix(prefix.String()), false)
}

func (db *MemDB) RevIterPrefix(prefix types.Key) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return newSliceIterator(db.snapshotPrefix(prefix.String()), true)
}

func (db *MemDB) snapshotPrefix(prefix string) []KVPair {
	keys := make([]string, 0)
	for k := range db.subspace {
		if hasPrefixKey(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]KVPair, len(keys))
	for i, k := range keys {
		v := db.subspace[k]
		out[i] = KVPair{Key: k, Value: v, Gas: uint64(len(k) + len(v))}
	}
	return out
}

func hasPrefixKey(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

// sliceIterator implements Iterator over a pre-materialized, already
// ordered slice, satisfying the "non-restartable" contract trivially
// since it just walks forward through the slice once.
type sliceIterator struct {
	items []KVPair
	idx   int
	rev   bool
}

func newSliceIterator(items []KVPair, rev bool) *sliceIterator {
	if rev {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return &sliceIterator{items: items, idx: -1, rev: rev}
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.items)
}

func (it *sliceIterator) Item() KVPair {
	return it.items[it.idx]
}

func (it *sliceIterator) Close() {}

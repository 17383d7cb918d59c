// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"sort"

	"github.com/tesseract-chain/ledgerstore/types"
)

// View is the StorageWithWriteLog read-through, write-buffer overlay
// spec §9 asks for: transaction execution talks to a View, which
// answers reads from its WriteLog before falling through to the
// underlying Storage, and buffers writes in the WriteLog until
// CommitBlock folds them into Storage and the DB (original_source's
// `storage::write_log::StorageWithWriteLog` composition, carried as a
// supplemented feature since spec.md's Non-goals don't exclude it).
type View struct {
	storage *Storage
	wlog    *WriteLog
}

// NewView pairs a fresh WriteLog with s, seeded from s's address
// generator so InitAccount allocations stay chain-deterministic.
func NewView(s *Storage) *View {
	return &View{storage: s, wlog: NewWriteLog(s.addressGen)}
}

// WriteLog exposes the underlying log, e.g. for metrics or testing.
func (v *View) WriteLog() *WriteLog { return v.wlog }

// HasKey checks the write log before falling through to Storage.
func (v *View) HasKey(key types.Key) (bool, uint64, error) {
	if m, gas := v.wlog.Read(key); m != nil {
		return m.Kind != ModDelete, gas, nil
	}
	return v.storage.HasKey(key)
}

// Read checks the write log before falling through to Storage.
func (v *View) Read(key types.Key) ([]byte, uint64, error) {
	if m, gas := v.wlog.Read(key); m != nil {
		switch m.Kind {
		case ModDelete:
			return nil, gas, nil
		case ModInitAccount:
			return m.VP, gas, nil
		default:
			return m.Value, gas, nil
		}
	}
	return v.storage.Read(key)
}

// Write buffers a write in the log; it is not visible to Storage until
// CommitBlock.
func (v *View) Write(key types.Key, value []byte) (uint64, error) {
	return v.wlog.Write(key, value)
}

// Delete buffers a delete in the log.
func (v *View) Delete(key types.Key) (uint64, error) {
	return v.wlog.Delete(key)
}

// WriteTemp buffers a transaction-local write that never reaches Storage.
func (v *View) WriteTemp(key types.Key, value []byte) uint64 {
	return v.wlog.WriteTemp(key, value)
}

// InitAccount allocates a new established address via the log.
func (v *View) InitAccount(creator types.Address, vp []byte) types.Address {
	return v.wlog.InitAccount(creator, vp)
}

// IterPrefix merges Storage's committed entries with the write log's
// pending overlay, in lexicographic key order.
func (v *View) IterPrefix(prefix types.Key) (Iterator, uint64) {
	return v.mergedIterator(prefix, false), MinStorageGas
}

// RevIterPrefix is IterPrefix in reverse lexicographic order.
func (v *View) RevIterPrefix(prefix types.Key) (Iterator, uint64) {
	return v.mergedIterator(prefix, true), MinStorageGas
}

func (v *View) mergedIterator(prefix types.Key, rev bool) Iterator {
	base, _ := v.storage.IterPrefix(prefix)
	merged := make(map[string]KVPair)
	for base.Next() {
		item := base.Item()
		merged[item.Key] = item
	}
	base.Close()

	for _, e := range v.wlog.IterPrefix(prefix) {
		ks := e.Key.String()
		switch e.Mod.Kind {
		case ModDelete:
			delete(merged, ks)
		case ModInitAccount:
			merged[ks] = KVPair{Key: ks, Value: e.Mod.VP, Gas: keyValueGas(ks, e.Mod.VP)}
		default:
			merged[ks] = KVPair{Key: ks, Value: e.Mod.Value, Gas: keyValueGas(ks, e.Mod.Value)}
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]KVPair, len(keys))
	for i, k := range keys {
		items[i] = merged[k]
	}
	return newSliceIterator(items, rev)
}

// CommitTx folds the in-flight transaction's entries into the block batch.
func (v *View) CommitTx() { v.wlog.CommitTx() }

// DropTx discards the in-flight transaction's entries.
func (v *View) DropTx() { v.wlog.DropTx() }

// CommitBlock applies the accumulated block batch to Storage's tree
// and DB, atomically.
func (v *View) CommitBlock() error { return v.wlog.CommitBlock(v.storage) }

// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"fmt"
	"sort"

	"github.com/tesseract-chain/ledgerstore/types"
)

// ModKind tags a WriteLog entry's variant (spec §4.C).
type ModKind int

const (
	ModWrite ModKind = iota
	ModDelete
	ModInitAccount
	ModTemp
)

// Modification is one write-log entry.
type Modification struct {
	Kind    ModKind
	Value   []byte        // set for ModWrite / ModTemp
	VP      []byte        // set for ModInitAccount: the new address's validity predicate bytes
	Address types.Address // set for ModInitAccount: the newly allocated address
}

// WriteLog is the per-block, append-only overlay of speculative writes
// accumulated while transactions execute (spec §4.C). A block's
// transactions share one WriteLog: commit_tx folds a transaction's
// entries into the block-level batch (read-your-writes within the
// next transaction then sees them too, matching spec §5's
// "transactions within a block are ordered by commit_tx"), drop_tx
// discards a failed transaction's entries, and commit_block applies the
// accumulated batch to the tree and DB atomically.
type WriteLog struct {
	tx         map[string]Modification
	txOrder    []string
	block      map[string]Modification
	blockOrder []string
	addressGen *types.AddressGenerator
}

// NewWriteLog returns an empty write log driven by gen for established
// address allocation.
func NewWriteLog(gen *types.AddressGenerator) *WriteLog {
	return &WriteLog{
		tx:         make(map[string]Modification),
		block:      make(map[string]Modification),
		addressGen: gen,
	}
}

// Read returns the most recent modification recorded for key, checking
// the in-flight transaction's entries before the block-level batch, and
// the gas charged for the lookup.
func (w *WriteLog) Read(key types.Key) (*Modification, uint64) {
	ks := key.String()
	if m, ok := w.tx[ks]; ok {
		return &m, keyValueGas(ks, m.Value)
	}
	if m, ok := w.block[ks]; ok {
		return &m, keyValueGas(ks, m.Value)
	}
	return nil, MinStorageGas
}

func (w *WriteLog) latest(ks string) (Modification, bool) {
	if m, ok := w.tx[ks]; ok {
		return m, true
	}
	if m, ok := w.block[ks]; ok {
		return m, true
	}
	return Modification{}, false
}

// Write records a write modification for key. It rejects writes to a
// key that already carries an InitAccount entry (spec §4.C).
func (w *WriteLog) Write(key types.Key, value []byte) (uint64, error) {
	ks := key.String()
	if prev, ok := w.latest(ks); ok && prev.Kind == ModInitAccount {
		return 0, fmt.Errorf("%w: cannot overwrite init-account entry at %q", types.ErrKeyError, ks)
	}
	w.record(ks, Modification{Kind: ModWrite, Value: value})
	return keyValueGas(ks, value), nil
}

// Delete records a delete modification for key. Deleting a validity
// predicate key is always invalid: an address's VP must exist once
// initialised (spec §4.C).
func (w *WriteLog) Delete(key types.Key) (uint64, error) {
	if key.IsValidityPredicateKey() {
		return 0, fmt.Errorf("%w: cannot delete a validity predicate key", types.ErrKeyError)
	}
	ks := key.String()
	w.record(ks, Modification{Kind: ModDelete})
	return keyValueGas(ks, nil), nil
}

// WriteTemp records a modification visible to later reads within the
// same transaction but never merged into the committed block batch.
func (w *WriteLog) WriteTemp(key types.Key, value []byte) uint64 {
	ks := key.String()
	w.record(ks, Modification{Kind: ModTemp, Value: value})
	return keyValueGas(ks, value)
}

func (w *WriteLog) record(ks string, m Modification) {
	if _, exists := w.tx[ks]; !exists {
		w.txOrder = append(w.txOrder, ks)
	}
	w.tx[ks] = m
}

// InitAccount allocates a new established address from creator and
// writes its validity predicate as an InitAccount entry.
func (w *WriteLog) InitAccount(creator types.Address, vp []byte) types.Address {
	addr := w.addressGen.Generate(creator)
	ks := types.ValidityPredicateKey(addr).String()
	w.record(ks, Modification{Kind: ModInitAccount, VP: vp, Address: addr})
	return addr
}

// IterPrefixEntry is one item yielded by IterPrefix.
type IterPrefixEntry struct {
	Key types.Key
	Mod Modification
}

// IterPrefix returns a finite, ordered (lexicographic by key) snapshot
// of the write log's entries under prefix, merging the in-flight
// transaction over the block-level batch.
func (w *WriteLog) IterPrefix(prefix types.Key) []IterPrefixEntry {
	merged := make(map[string]Modification, len(w.block)+len(w.tx))
	for k, m := range w.block {
		merged[k] = m
	}
	for k, m := range w.tx {
		merged[k] = m
	}
	p := prefix.String()
	keys := make([]string, 0, len(merged))
	for k := range merged {
		if hasPrefixKey(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]IterPrefixEntry, len(keys))
	for i, k := range keys {
		key, _ := types.ParseKey(k)
		out[i] = IterPrefixEntry{Key: key, Mod: merged[k]}
	}
	return out
}

// CommitTx folds every non-Temp entry of the in-flight transaction into
// the block-level batch, then clears the transaction's entries.
func (w *WriteLog) CommitTx() {
	for _, ks := range w.txOrder {
		m := w.tx[ks]
		if m.Kind == ModTemp {
			continue
		}
		if _, exists := w.block[ks]; !exists {
			w.blockOrder = append(w.blockOrder, ks)
		}
		w.block[ks] = m
	}
	w.tx = make(map[string]Modification)
	w.txOrder = nil
}

// DropTx discards every entry recorded since the last CommitTx.
func (w *WriteLog) DropTx() {
	w.tx = make(map[string]Modification)
	w.txOrder = nil
}

// CommitBlock applies the accumulated block-level batch to s's Merkle
// tree and DB atomically, then clears the block-level batch (entries of
// an in-flight transaction are left in place).
func (w *WriteLog) CommitBlock(s *Storage) error {
	if len(w.blockOrder) == 0 {
		return nil
	}
	batch := s.db.Batch()
	for _, ks := range w.blockOrder {
		m := w.block[ks]
		key, err := types.ParseKey(ks)
		if err != nil {
			return err
		}
		switch m.Kind {
		case ModWrite:
			if err := s.block.tree.Update(key, m.Value); err != nil {
				return err
			}
			if _, err := s.db.BatchWriteSubspaceVal(batch, s.block.height, key, m.Value); err != nil {
				return err
			}
		case ModDelete:
			if err := s.block.tree.Delete(key); err != nil {
				return err
			}
			if _, err := s.db.BatchDeleteSubspaceVal(batch, s.block.height, key); err != nil {
				return err
			}
		case ModInitAccount:
			if err := s.block.tree.Update(key, m.VP); err != nil {
				return err
			}
			if _, err := s.db.BatchWriteSubspaceVal(batch, s.block.height, key, m.VP); err != nil {
				return err
			}
		case ModTemp:
			// never reaches the block batch.
		}
	}
	if err := s.db.ExecBatch(batch); err != nil {
		return fmt.Errorf("%w: commit block write log: %v", types.ErrDB, err)
	}
	w.block = make(map[string]Modification)
	w.blockOrder = nil
	return nil
}

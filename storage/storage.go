// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/tesseract-chain/ledgerstore/logger"
	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// maxChainIDLen bounds chain_id per spec §6 ("24-byte ASCII string").
const maxChainIDLen = 24

// Config holds Storage's init-time options (spec §6). It mirrors the
// teacher's plain-struct Config/DefaultConfig pattern rather than a
// flag/viper layer; the CLI that would populate it is an external
// collaborator.
type Config struct {
	DBPath            string
	ChainID           string
	Cache             int64 // badger block-cache size in bytes; 0 = backend default
	TxQueueEnabled    bool
	BridgePoolEnabled bool
}

// DefaultConfig is a reasonable starting point for a fresh chain.
var DefaultConfig = Config{
	Cache:             0,
	TxQueueEnabled:    false,
	BridgePoolEnabled: true,
}

// BlockStorage is the current, uncommitted block's state (spec §3).
type BlockStorage struct {
	tree       *merkle.Tree
	hash       [32]byte
	height     types.BlockHeight
	epoch      types.Epoch
	predEpochs *types.Epochs
}

// Storage is the top-level ledger state store (spec §3). It owns the
// DB backend, the live Merkle tree and the epoch history, with no
// back-references into any of them (spec §9's ownership graph).
type Storage struct {
	mtx sync.RWMutex // guards tree mutation across a commit

	db      DB
	chainID string
	config  Config

	block  BlockStorage
	header *Header

	lastHeight              types.BlockHeight
	lastEpoch               types.Epoch
	nextEpochMinStartHeight types.BlockHeight
	nextEpochMinStartTime   int64

	predEpochs *types.Epochs
	addressGen *types.AddressGenerator
	txQueue    [][]byte

	epochParams             EpochParams
	currentEpochStartHeight types.BlockHeight
	currentEpochStartTime   int64
}

// New wraps an already-open DB backend in a fresh Storage, with an
// empty tree and epoch history. Tests construct MemDB-backed stores
// this way; Open is the production entry point over badger.
func New(db DB, config Config) (*Storage, error) {
	if config.ChainID == "" || len(config.ChainID) > maxChainIDLen {
		return nil, fmt.Errorf("%w: chain_id must be 1-%d bytes, got %d", types.ErrKeyError, maxChainIDLen, len(config.ChainID))
	}
	s := &Storage{
		db:         db,
		chainID:    config.ChainID,
		config:     config,
		predEpochs: types.NewEpochs(),
		addressGen: types.NewAddressGenerator(nil, 0),
	}
	s.block = BlockStorage{
		tree:       merkle.NewTree(config.BridgePoolEnabled),
		predEpochs: s.predEpochs,
	}
	return s, nil
}

// Open is the production entry point: open(path, chain_id, cache?) in
// spec §3's lifecycle paragraph, backed by badger.
func Open(config Config) (*Storage, error) {
	db, err := OpenBadgerDB(config.DBPath, config.Cache)
	if err != nil {
		return nil, fmt.Errorf("%w: open storage: %v", types.ErrDB, err)
	}
	return New(db, config)
}

// ChainID returns the chain identifier the store was opened with.
func (s *Storage) ChainID() string { return s.chainID }

// LastHeight returns the height of the most recently committed block.
func (s *Storage) LastHeight() types.BlockHeight { return s.lastHeight }

// LastEpoch returns the epoch the most recently committed block belonged to.
func (s *Storage) LastEpoch() types.Epoch { return s.lastEpoch }

// BlockHeight returns the current (possibly uncommitted) block height.
func (s *Storage) BlockHeight() types.BlockHeight { return s.block.height }

// LoadLastState hydrates Storage from the DB's last written block, if
// any (spec §3 lifecycle, §4.D `load_last_state`). Called once at
// startup; a fresh chain leaves Storage at its New() defaults.
func (s *Storage) LoadLastState() error {
	read, err := s.db.ReadLastBlock()
	if err != nil {
		return fmt.Errorf("%w: load last state: %v", types.ErrDB, err)
	}
	if read == nil {
		logger.I().Infow("no committed block found, starting from genesis", "chain_id", s.chainID)
		return nil
	}

	var tree *merkle.Tree
	if read.TreeStores != nil {
		tree, err = merkle.NewFromStores(read.TreeStores)
		if err != nil {
			return fmt.Errorf("%w: rebuild tree from stores: %v", types.ErrDecodingError, err)
		}
	} else {
		tree = merkle.NewTree(s.config.BridgePoolEnabled)
	}

	meta := read.Meta
	s.block = BlockStorage{
		tree:       tree,
		hash:       meta.Hash,
		height:     read.Height,
		epoch:      meta.Epoch,
		predEpochs: meta.PredEpochs,
	}
	s.lastHeight = read.Height
	s.lastEpoch = meta.Epoch
	s.nextEpochMinStartHeight = meta.NextEpochMinStartHeight
	s.nextEpochMinStartTime = meta.NextEpochMinStartTime
	s.predEpochs = meta.PredEpochs
	s.addressGen = types.NewAddressGenerator(meta.AddressGenSeed, meta.AddressGenCounter)
	if s.config.TxQueueEnabled {
		s.txQueue = meta.TxQueue
	}
	s.restoreEpochState()

	logger.I().Infow("loaded last state", "height", s.lastHeight, "epoch", s.lastEpoch)
	return nil
}

// restoreEpochState re-derives the epoch-engine's cached start height
// from pred_epochs, and the start time and parameters from the
// canonical keys written by writeEpochKeys/SetEpochParams, so a restart
// resumes update_epoch from exactly where it left off.
func (s *Storage) restoreEpochState() {
	if h, found := s.predEpochs.FirstBlockOf(s.lastEpoch); found {
		s.currentEpochStartHeight = h
	}
	if raw, _, err := s.Read(epochStartTimeKey()); err == nil && len(raw) > 0 {
		if t, err := types.DecodeInt64(raw); err == nil {
			s.currentEpochStartTime = t
		}
	}
	if raw, _, err := s.Read(epochParamsKey()); err == nil && len(raw) > 0 {
		if p, err := decodeEpochParams(raw); err == nil {
			s.epochParams = p
		}
	}
}

// SetHeader stages the header to be persisted at the next commit.
func (s *Storage) SetHeader(h *Header) { s.header = h }

// BeginBlock opens a new block at height with the given proposer hash
// (spec §4.D `begin_block`). block.epoch starts equal to last_epoch
// (invariant 3); update_epoch is what may advance it.
func (s *Storage) BeginBlock(hash [32]byte, height types.BlockHeight) {
	s.block.hash = hash
	s.block.height = height
	s.block.epoch = s.lastEpoch
	s.block.predEpochs = s.predEpochs
}

// HasKey reports whether key has a live value (spec §4.D `has_key`).
func (s *Storage) HasKey(key types.Key) (bool, uint64, error) {
	if key.IsEmpty() {
		return false, MinStorageGas, fmt.Errorf("%w: empty key", types.ErrKeyError)
	}
	return s.block.tree.HasKey(key), keyValueGas(key.String(), nil), nil
}

// Read returns key's current value, served from the DB (spec §4.D `read`).
func (s *Storage) Read(key types.Key) ([]byte, uint64, error) {
	if key.IsEmpty() {
		return nil, MinStorageGas, fmt.Errorf("%w: empty key", types.ErrKeyError)
	}
	val, found, err := s.db.ReadSubspaceVal(key)
	if err != nil {
		return nil, MinStorageGas, fmt.Errorf("%w: read %q: %v", types.ErrDB, key.String(), err)
	}
	if !found {
		return nil, keyValueGas(key.String(), nil), nil
	}
	return val, keyValueGas(key.String(), val), nil
}

// ReadWithHeight returns key's value as of height (spec §4.D
// `read_with_height`). Requesting a height beyond what has been
// committed is a NoMerkleTreeError; heights at or before last_height
// are served from the height-tagged diff history.
func (s *Storage) ReadWithHeight(key types.Key, height types.BlockHeight) ([]byte, uint64, error) {
	if key.IsEmpty() {
		return nil, MinStorageGas, fmt.Errorf("%w: empty key", types.ErrKeyError)
	}
	if height > s.lastHeight {
		return nil, MinStorageGas, &types.NoMerkleTreeError{Height: height}
	}
	if height == s.lastHeight {
		return s.Read(key)
	}
	val, found, err := s.db.ReadSubspaceValWithHeight(key, height, s.lastHeight)
	if err != nil {
		return nil, MinStorageGas, fmt.Errorf("%w: read %q at height %d: %v", types.ErrDB, key.String(), height, err)
	}
	if !found {
		return nil, keyValueGas(key.String(), nil), nil
	}
	return val, keyValueGas(key.String(), val), nil
}

// IterPrefix returns a live, forward-ordered iterator over prefix
// (spec §4.D `iter_prefix`).
func (s *Storage) IterPrefix(prefix types.Key) (Iterator, uint64) {
	return s.db.IterPrefix(prefix), MinStorageGas
}

// RevIterPrefix is IterPrefix in reverse lexicographic order.
func (s *Storage) RevIterPrefix(prefix types.Key) (Iterator, uint64) {
	return s.db.RevIterPrefix(prefix), MinStorageGas
}

// Write updates key's value in the live tree, then the DB (spec §4.D
// `write`). Per the write semantics note, the tree is updated first;
// if the DB write then fails, the tree is rolled back to its
// pre-write state before the error is returned.
func (s *Storage) Write(key types.Key, value []byte) (uint64, int64, error) {
	if key.IsEmpty() {
		return 0, 0, fmt.Errorf("%w: empty key", types.ErrKeyError)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	prevVal, hadPrev, err := s.db.ReadSubspaceVal(key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: write %q: %v", types.ErrDB, key.String(), err)
	}

	if err := s.block.tree.Update(key, value); err != nil {
		return 0, 0, err
	}
	sizeDiff, err := s.db.WriteSubspaceVal(s.block.height, key, value)
	if err != nil {
		dbErr := fmt.Errorf("%w: write %q: %v", types.ErrDB, key.String(), err)
		if rbErr := s.rollbackTree(key, hadPrev, prevVal); rbErr != nil {
			return 0, 0, multierr.Append(dbErr, rbErr)
		}
		return 0, 0, dbErr
	}
	return keyValueGas(key.String(), value), sizeDiff, nil
}

// Delete removes key (spec §4.D `delete`). Deleting a validity
// predicate key is always a KeyError (invariant 6).
func (s *Storage) Delete(key types.Key) (uint64, int64, error) {
	if key.IsValidityPredicateKey() {
		return 0, 0, fmt.Errorf("%w: cannot delete a validity predicate key", types.ErrKeyError)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	prevVal, hadPrev, err := s.db.ReadSubspaceVal(key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: delete %q: %v", types.ErrDB, key.String(), err)
	}
	if !hadPrev {
		return keyValueGas(key.String(), nil), 0, nil
	}

	if err := s.block.tree.Delete(key); err != nil {
		return 0, 0, err
	}
	sizeDiff, err := s.db.DeleteSubspaceVal(s.block.height, key)
	if err != nil {
		dbErr := fmt.Errorf("%w: delete %q: %v", types.ErrDB, key.String(), err)
		if rbErr := s.rollbackTree(key, hadPrev, prevVal); rbErr != nil {
			return 0, 0, multierr.Append(dbErr, rbErr)
		}
		return 0, 0, dbErr
	}
	return keyValueGas(key.String(), nil), sizeDiff, nil
}

// rollbackTree restores key's pre-write tree state after a DB write
// fails, so the tree and the DB never disagree. Combined with the DB
// error via multierr.Append when it also fails.
func (s *Storage) rollbackTree(key types.Key, hadPrev bool, prevVal []byte) error {
	if hadPrev {
		return s.block.tree.Update(key, prevVal)
	}
	return s.block.tree.Delete(key)
}

// MerkleRoot returns the live tree's top-level root (spec §4.D `merkle_root`).
func (s *Storage) MerkleRoot() [32]byte { return s.block.tree.Root() }

// GetExistenceProof builds a two-level Merkle proof for key/value at
// height (spec §4.D `get_existence_proof`). Bridge-pool keys are
// rejected: their proofs are not consensus-compatible (spec §4.B).
func (s *Storage) GetExistenceProof(key types.Key, value []byte, height types.BlockHeight) (*merkle.Proof, error) {
	if merkle.Route(key) == merkle.BridgePool {
		return nil, fmt.Errorf("%w: bridge pool proofs are not consensus-compatible", types.ErrMerkleTree)
	}
	tree, err := s.treeAtHeight(height)
	if err != nil {
		return nil, err
	}
	return tree.ExistenceProof(key, value)
}

// GetNonExistenceProof builds a non-membership proof for key at height
// (spec §4.D `get_non_existence_proof`).
func (s *Storage) GetNonExistenceProof(key types.Key, height types.BlockHeight) (*merkle.Proof, error) {
	tree, err := s.treeAtHeight(height)
	if err != nil {
		return nil, err
	}
	return tree.NonExistenceProof(key)
}

// treeAtHeight returns the tree as it stood at height: the live tree
// for the current block or last_height, a reconstruction from a
// stored snapshot for an older committed height, and a diff-replayed
// reconstruction when no snapshot was kept (spec §9 open question:
// "a reimplementation may choose to serve via diff replay"). The
// replay walks the *current* live key set, so a key deleted between
// height and last_height is not recovered -- an accepted gap, not a
// silently covered-up one.
func (s *Storage) treeAtHeight(height types.BlockHeight) (*merkle.Tree, error) {
	if height == s.block.height || height == s.lastHeight {
		return s.block.tree, nil
	}
	if height > s.lastHeight {
		return nil, &types.NoMerkleTreeError{Height: height}
	}
	stores, err := s.db.ReadMerkleTreeStores(height)
	if err != nil {
		return nil, fmt.Errorf("%w: read tree stores at height %d: %v", types.ErrDB, height, err)
	}
	if stores != nil {
		tree, err := merkle.NewFromStores(stores)
		if err != nil {
			return nil, fmt.Errorf("%w: rebuild tree at height %d: %v", types.ErrDecodingError, height, err)
		}
		return tree, nil
	}
	logger.I().Warnw("no merkle snapshot at height, replaying diffs", "height", height)
	return s.replayTreeAtHeight(height)
}

func (s *Storage) replayTreeAtHeight(height types.BlockHeight) (*merkle.Tree, error) {
	tree := merkle.NewTree(s.config.BridgePoolEnabled)
	it := s.db.IterPrefix(types.Key{})
	defer it.Close()
	for it.Next() {
		item := it.Item()
		key, err := types.ParseKey(item.Key)
		if err != nil {
			continue
		}
		val, found, err := s.db.ReadSubspaceValWithHeight(key, height, s.lastHeight)
		if err != nil {
			return nil, fmt.Errorf("%w: replay %q at height %d: %v", types.ErrDB, item.Key, height, err)
		}
		if found {
			if err := tree.Update(key, val); err != nil {
				return nil, err
			}
		}
	}
	return tree, nil
}

// Commit durably writes the tree stores and block metadata, clears
// the pending header, and advances last_height/last_epoch (spec §3
// lifecycle, §4.D `commit`). On failure the block is not published:
// last_height is left unchanged.
func (s *Storage) Commit() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	start := time.Now()
	stores := s.block.tree.Stores()
	meta := &BlockMeta{
		Hash:                    s.block.hash,
		Epoch:                   s.block.epoch,
		PredEpochs:              s.predEpochs,
		NextEpochMinStartHeight: s.nextEpochMinStartHeight,
		NextEpochMinStartTime:   s.nextEpochMinStartTime,
		AddressGenSeed:          s.addressGen.Seed(),
		AddressGenCounter:       s.addressGen.Counter(),
	}
	if s.config.TxQueueEnabled {
		meta.TxQueue = s.txQueue
	}

	err := s.db.WriteBlock(&BlockStateWrite{
		TreeStores: stores,
		Header:     s.header,
		Height:     s.block.height,
		Meta:       meta,
	})
	if err != nil {
		logger.I().Errorw("commit failed, block not published", "height", s.block.height, "err", err)
		return fmt.Errorf("%w: commit block %d: %v", types.ErrDB, s.block.height, err)
	}

	s.header = nil
	s.lastHeight = s.block.height
	s.lastEpoch = s.block.epoch
	logger.I().Infow("committed block", "height", s.lastHeight, "epoch", s.lastEpoch, "elapsed", time.Since(start))
	return nil
}

// Close releases the underlying DB backend.
func (s *Storage) Close() error { return s.db.Close() }

// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// S1 (basic commit): spec §8.
func TestStorage_S1_BasicCommit(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)

	key := types.NewKey("a", "b")
	gas, sizeDiff, err := s.Write(key, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.EqualValues(t, len(key.String())+3, gas)
	assert.EqualValues(t, 3, sizeDiff)

	require.NoError(t, s.Commit())
	assert.EqualValues(t, 1, s.LastHeight())

	val, gas, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, val)
	assert.EqualValues(t, len(key.String())+3, gas)

	root1 := s.MerkleRoot()
	root2 := s.MerkleRoot()
	assert.Equal(t, root1, root2)
}

// S2 (delete-then-read): spec §8.
func TestStorage_S2_DeleteThenRead(t *testing.T) {
	s := newTestStorage(t)
	key := types.NewKey("a", "b")

	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(key, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s.BeginBlock([32]byte{1}, 2)
	_, _, err = s.Delete(key)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	val, _, err := s.Read(key)
	require.NoError(t, err)
	assert.Nil(t, val)

	has, _, err := s.HasKey(key)
	require.NoError(t, err)
	assert.False(t, has)

	old, _, err := s.ReadWithHeight(key, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, old)
}

func TestStorage_ReadYourWrites(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	key := types.NewKey("acc", "balance")
	_, _, err := s.Write(key, []byte{9})
	require.NoError(t, err)
	val, _, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, val)

	has, _, err := s.HasKey(key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStorage_CommitIdempotentWithoutMutation(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(types.NewKey("a", "b"), []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	root := s.MerkleRoot()

	s.BeginBlock(s.block.hash, s.lastHeight)
	require.NoError(t, s.Commit())
	assert.Equal(t, root, s.MerkleRoot())
}

func TestStorage_LoadLastStateRoundTrip(t *testing.T) {
	db := NewMemDB()
	s, err := New(db, Config{ChainID: "test-chain-1", BridgePoolEnabled: true})
	require.NoError(t, err)
	s.BeginBlock([32]byte{7}, 1)
	key := types.NewKey("a", "b")
	_, _, err = s.Write(key, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	wantRoot := s.MerkleRoot()

	s2, err := New(db, Config{ChainID: "test-chain-1", BridgePoolEnabled: true})
	require.NoError(t, err)
	require.NoError(t, s2.LoadLastState())
	assert.EqualValues(t, 1, s2.LastHeight())
	assert.Equal(t, wantRoot, s2.MerkleRoot())

	val, _, err := s2.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, val)
}

func TestStorage_DeleteValidityPredicateKeyRejected(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	addr := s.addressGen.Generate(types.Address{Raw: "root"})
	vpKey := types.ValidityPredicateKey(addr)
	_, _, err := s.Write(vpKey, []byte("vp-bytecode"))
	require.NoError(t, err)

	_, _, err = s.Delete(vpKey)
	assert.ErrorIs(t, err, types.ErrKeyError)
}

// S5 (proof round-trip): spec §8.
func TestStorage_S5_ProofRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	key := types.NewKey("pos", "validator", "X", "power")
	value := types.EncodeAmount(100)
	_, _, err := s.Write(key, value)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	root := s.MerkleRoot()
	proof, err := s.GetExistenceProof(key, value, s.LastHeight())
	require.NoError(t, err)
	assert.True(t, merkle.VerifyExistence(root, proof, key, value))

	s.BeginBlock([32]byte{1}, 2)
	_, _, err = s.Write(key, types.EncodeAmount(200))
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	newRoot := s.MerkleRoot()

	assert.False(t, merkle.VerifyExistence(newRoot, proof, key, value))
}

func TestStorage_NonExistenceProof(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(types.NewKey("account", "a"), []byte{1})
	require.NoError(t, err)
	_, _, err = s.Write(types.NewKey("account", "c"), []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	missing := types.NewKey("account", "b")
	proof, err := s.GetNonExistenceProof(missing, s.LastHeight())
	require.NoError(t, err)
	assert.True(t, merkle.VerifyNonExistence(s.MerkleRoot(), proof, missing))
}

func TestStorage_BridgePoolProofRejected(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	key := types.NewKey(types.AddressBridgePool.Raw, "transfer1")
	_, _, err := s.Write(key, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	_, err = s.GetExistenceProof(key, []byte{1}, s.LastHeight())
	assert.ErrorIs(t, err, types.ErrMerkleTree)
}

func TestStorage_ReadWithHeightBeyondLastIsNoMerkleTree(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(types.NewKey("a", "b"), []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	_, _, err = s.ReadWithHeight(types.NewKey("a", "b"), 5)
	var nmt *types.NoMerkleTreeError
	assert.ErrorAs(t, err, &nmt)
}

func TestStorage_IterPrefix(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(types.NewKey("account", "a"), []byte{1})
	require.NoError(t, err)
	_, _, err = s.Write(types.NewKey("account", "b"), []byte{2})
	require.NoError(t, err)
	_, _, err = s.Write(types.NewKey("ibc", "x"), []byte{3})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	it, _ := s.IterPrefix(types.NewKey("account"))
	var keys []string
	for it.Next() {
		keys = append(keys, it.Item().Key)
	}
	it.Close()
	assert.Equal(t, []string{"account/a", "account/b"}, keys)
}

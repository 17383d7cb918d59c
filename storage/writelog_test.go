// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesseract-chain/ledgerstore/types"
)

func TestWriteLog_ReadYourWrites(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	key := types.NewKey("a", "b")
	_, err := w.Write(key, []byte{1, 2})
	require.NoError(t, err)

	m, _ := w.Read(key)
	require.NotNil(t, m)
	assert.Equal(t, ModWrite, m.Kind)
	assert.Equal(t, []byte{1, 2}, m.Value)
}

func TestWriteLog_DeleteValidityPredicateKeyRejected(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	addr := w.InitAccount(types.Address{Raw: "root"}, []byte("vp"))
	_, err := w.Delete(types.ValidityPredicateKey(addr))
	assert.ErrorIs(t, err, types.ErrKeyError)
}

func TestWriteLog_WriteOverInitAccountRejected(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	addr := w.InitAccount(types.Address{Raw: "root"}, []byte("vp"))
	_, err := w.Write(types.ValidityPredicateKey(addr), []byte("new-vp"))
	assert.ErrorIs(t, err, types.ErrKeyError)
}

func TestWriteLog_CommitTxMergesIntoBlock(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	key := types.NewKey("a", "b")
	_, err := w.Write(key, []byte{1})
	require.NoError(t, err)
	w.WriteTemp(types.NewKey("a", "temp"), []byte{9})
	w.CommitTx()

	assert.Empty(t, w.tx)
	assert.Contains(t, w.block, key.String())
	assert.NotContains(t, w.block, "a/temp", "Temp entries never reach the block batch")
}

func TestWriteLog_DropTxDiscardsEntries(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	key := types.NewKey("a", "b")
	_, err := w.Write(key, []byte{1})
	require.NoError(t, err)
	w.DropTx()

	m, _ := w.Read(key)
	assert.Nil(t, m)
}

func TestWriteLog_CommitBlockAppliesToStorage(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	w := NewWriteLog(s.addressGen)

	key := types.NewKey("a", "b")
	_, err := w.Write(key, []byte{1, 2, 3})
	require.NoError(t, err)
	addr := w.InitAccount(types.Address{Raw: "root"}, []byte("vp-bytecode"))
	w.CommitTx()

	require.NoError(t, w.CommitBlock(s))
	require.NoError(t, s.Commit())

	val, _, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, val)

	vp, _, err := s.Read(types.ValidityPredicateKey(addr))
	require.NoError(t, err)
	assert.Equal(t, []byte("vp-bytecode"), vp)
}

func TestWriteLog_IterPrefixOverlaysDeletes(t *testing.T) {
	w := NewWriteLog(types.NewAddressGenerator([]byte("seed"), 0))
	_, err := w.Write(types.NewKey("a", "x"), []byte{1})
	require.NoError(t, err)
	w.CommitTx()
	_, err = w.Delete(types.NewKey("a", "x"))
	require.NoError(t, err)
	_, err = w.Write(types.NewKey("a", "y"), []byte{2})
	require.NoError(t, err)

	entries := w.IterPrefix(types.NewKey("a"))
	require.Len(t, entries, 2)
	assert.Equal(t, "a/x", entries[0].Key.String())
	assert.Equal(t, ModDelete, entries[0].Mod.Kind)
	assert.Equal(t, "a/y", entries[1].Key.String())
}

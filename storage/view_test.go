// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesseract-chain/ledgerstore/types"
)

func TestView_ReadFallsThroughToStorage(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	key := types.NewKey("a", "b")
	_, _, err := s.Write(key, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s.BeginBlock([32]byte{1}, 2)
	v := NewView(s)
	val, _, err := v.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, val)
}

func TestView_WriteIsNotVisibleToStorageUntilCommitBlock(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	v := NewView(s)

	key := types.NewKey("a", "b")
	_, err := v.Write(key, []byte{9})
	require.NoError(t, err)

	val, _, err := s.Read(key)
	require.NoError(t, err)
	assert.Nil(t, val, "storage must not see the write before commit_block")

	vVal, _, err := v.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, vVal, "the view itself sees its own pending write")

	v.CommitTx()
	require.NoError(t, v.CommitBlock())
	require.NoError(t, s.Commit())

	val, _, err = s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, val)
}

func TestView_DeleteOverlay(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	key := types.NewKey("a", "b")
	_, _, err := s.Write(key, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s.BeginBlock([32]byte{1}, 2)
	v := NewView(s)
	_, err = v.Delete(key)
	require.NoError(t, err)

	has, _, err := v.HasKey(key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestView_IterPrefixMergesOverlay(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	_, _, err := s.Write(types.NewKey("account", "a"), []byte{1})
	require.NoError(t, err)
	_, _, err = s.Write(types.NewKey("account", "b"), []byte{2})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s.BeginBlock([32]byte{1}, 2)
	v := NewView(s)
	_, err = v.Delete(types.NewKey("account", "a"))
	require.NoError(t, err)
	_, err = v.Write(types.NewKey("account", "c"), []byte{3})
	require.NoError(t, err)

	it, _ := v.IterPrefix(types.NewKey("account"))
	var keys []string
	for it.Next() {
		keys = append(keys, it.Item().Key)
	}
	it.Close()
	assert.Equal(t, []string{"account/b", "account/c"}, keys)
}

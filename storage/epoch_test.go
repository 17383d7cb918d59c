// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const second = int64(1_000_000_000) // nanoseconds

// S3 (epoch roll): spec §8.
func TestEpoch_S3_EpochRoll(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 0)
	require.NoError(t, s.InitGenesisEpoch(0, 0, EpochParams{MinNumBlocks: 5, MinDuration: 10 * second}))

	newEpoch, err := s.UpdateEpoch(4, 9*second)
	require.NoError(t, err)
	assert.False(t, newEpoch)

	newEpoch, err = s.UpdateEpoch(5, 10*second)
	require.NoError(t, err)
	assert.True(t, newEpoch)
	assert.EqualValues(t, 1, s.block.epoch)
	assert.EqualValues(t, 10, s.nextEpochMinStartHeight)
	assert.EqualValues(t, 20*second, s.nextEpochMinStartTime)
}

// S4 (mid-epoch param change): spec §8.
func TestEpoch_S4_MidEpochParamChange(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 0)
	require.NoError(t, s.InitGenesisEpoch(0, 0, EpochParams{MinNumBlocks: 5, MinDuration: 10 * second}))

	newEpoch, err := s.UpdateEpoch(5, 10*second)
	require.NoError(t, err)
	require.True(t, newEpoch)

	_, _, err = s.SetEpochParams(EpochParams{MinNumBlocks: 2, MinDuration: 10 * second})
	require.NoError(t, err)

	newEpoch, err = s.UpdateEpoch(9, 19*second)
	require.NoError(t, err)
	assert.False(t, newEpoch, "current epoch's bounds must not change mid-epoch")

	newEpoch, err = s.UpdateEpoch(10, 20*second)
	require.NoError(t, err)
	assert.True(t, newEpoch)
	assert.EqualValues(t, 12, s.nextEpochMinStartHeight, "next bounds use the new B=2")
}

// S6 (valset-update gate): spec §8.
func TestEpoch_S6_ValsetUpdateGate(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 0)
	require.NoError(t, s.InitGenesisEpoch(0, 0, EpochParams{MinNumBlocks: 5, MinDuration: 10 * second}))

	assert.True(t, s.CanSendValidatorSetUpdate(true), "prev-height variant is always true")

	s.lastHeight = 1 // decision height 2
	assert.True(t, s.CanSendValidatorSetUpdate(false))

	s.lastHeight = 0 // decision height 1
	assert.False(t, s.CanSendValidatorSetUpdate(false))

	s.lastHeight = 9 // decision height 10: no epoch 1 record exists yet, so its first block is unknown
	s.block.epoch = 1
	assert.False(t, s.CanSendValidatorSetUpdate(false))

	s.lastHeight = 4 // decision height 5: epoch 0's first block is 0 -> 0+1=1, not 5
	s.block.epoch = 0
	assert.False(t, s.CanSendValidatorSetUpdate(false))
}

// Property 10: pred_epochs.epoch_of(h) equals the latest epoch whose
// first_block <= h.
func TestEpoch_Property10_EpochOf(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 0)
	require.NoError(t, s.InitGenesisEpoch(0, 0, EpochParams{MinNumBlocks: 5, MinDuration: 10 * second}))
	_, err := s.UpdateEpoch(5, 10*second)
	require.NoError(t, err)

	e, ok := s.predEpochs.EpochOf(3)
	require.True(t, ok)
	assert.EqualValues(t, 0, e)

	e, ok = s.predEpochs.EpochOf(7)
	require.True(t, ok)
	assert.EqualValues(t, 1, e)
}

func TestEpoch_EvidenceParams(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 0)
	require.NoError(t, s.InitGenesisEpoch(0, 0, EpochParams{MinNumBlocks: 5, MinDuration: 10 * second}))

	maxBlocks, maxDuration := s.EvidenceParams(3)
	assert.EqualValues(t, 10, maxBlocks)       // 5 * (3-1)
	assert.EqualValues(t, 20*second, maxDuration) // 10s * (3-1)

	maxBlocks, maxDuration = s.EvidenceParams(0)
	assert.EqualValues(t, 0, maxBlocks)
	assert.EqualValues(t, 0, maxDuration)
}

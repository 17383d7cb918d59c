// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochsEpochOf(t *testing.T) {
	assert := assert.New(t)
	e := NewEpochs()
	e.Append(0, 0, 100000)
	e.Append(1, 10, 100000)
	e.Append(2, 25, 100000)

	epoch, ok := e.EpochOf(5)
	assert.True(ok)
	assert.Equal(Epoch(0), epoch)

	epoch, ok = e.EpochOf(10)
	assert.True(ok)
	assert.Equal(Epoch(1), epoch)

	epoch, ok = e.EpochOf(24)
	assert.True(ok)
	assert.Equal(Epoch(1), epoch)

	epoch, ok = e.EpochOf(100)
	assert.True(ok)
	assert.Equal(Epoch(2), epoch)
}

func TestEpochsPruning(t *testing.T) {
	assert := assert.New(t)
	e := NewEpochs()
	e.Append(0, 0, 50)
	e.Append(1, 10, 50)
	e.Append(2, 70, 50)

	// cutoff = 70 - 50 = 20, so epoch 0 (heights 0-9) is pruned,
	// epoch 1 (first height 10) is kept since heights 20-69 fall within it.
	assert.Len(e.Records, 2)
	assert.Equal(Epoch(1), e.Records[0].Epoch)
}

func TestAddressGeneratorDeterministic(t *testing.T) {
	assert := assert.New(t)
	seed := []byte("genesis-hash")
	g1 := NewAddressGenerator(seed, 0)
	g2 := NewAddressGenerator(seed, 0)

	creator := Address{Kind: AddressImplicit, Raw: "imp1abc"}
	a1 := g1.Generate(creator)
	a2 := g2.Generate(creator)
	assert.Equal(a1, a2)

	a3 := g1.Generate(creator)
	assert.NotEqual(a1, a3)
	assert.Equal(uint64(2), g1.Counter())
}

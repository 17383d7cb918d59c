// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesseract-chain/ledgerstore/types"
)

func seedValidators(t *testing.T, q *Queries, epoch types.Epoch) (v1, v2, v3 types.Address) {
	t.Helper()
	v1 = types.Address{Kind: types.AddressEstablished, Raw: "val1"}
	v2 = types.Address{Kind: types.AddressEstablished, Raw: "val2"}
	v3 = types.Address{Kind: types.AddressEstablished, Raw: "val3"}
	require.NoError(t, q.SetActiveValidators(epoch, []WeightedValidator{
		{Address: v1, VotingPower: 50},
		{Address: v2, VotingPower: 100},
		{Address: v3, VotingPower: 100},
	}))
	return
}

func TestQueries_GetActiveValidators_OrderedByPowerThenAddress(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	v1, v2, v3 := seedValidators(t, q, 0)

	out, err := q.GetActiveValidators(nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, v2, out[0].Address, "tie broken by address: val2 < val3")
	assert.Equal(t, v3, out[1].Address)
	assert.Equal(t, v1, out[2].Address)
}

func TestQueries_GetTotalVotingPower(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	seedValidators(t, q, 0)

	total, err := q.GetTotalVotingPower(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 250, total)
}

func TestQueries_GetBalance_DefaultsToZero(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	token := types.Address{Kind: types.AddressEstablished, Raw: "tok"}
	owner := types.Address{Kind: types.AddressEstablished, Raw: "owner"}

	bal, err := q.GetBalance(token, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 0, bal)

	require.NoError(t, q.SetBalance(token, owner, 42))
	bal, err = q.GetBalance(token, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 42, bal)
}

func TestQueries_GetValidatorFromAddress(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	v1, _, _ := seedValidators(t, q, 0)

	v, err := q.GetValidatorFromAddress(v1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 50, v.VotingPower)

	_, err = q.GetValidatorFromAddress(types.Address{Raw: "nobody"}, nil)
	assert.ErrorIs(t, err, ErrNotValidatorAddress)
}

func TestQueries_GetValidatorFromProtocolPK(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	v1, _, _ := seedValidators(t, q, 0)
	require.NoError(t, q.SetValidatorKeys(0, v1, []byte("pk-1"), make([]byte, tmAddressLen)))

	v, err := q.GetValidatorFromProtocolPK([]byte("pk-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v.Address)

	_, err = q.GetValidatorFromProtocolPK([]byte("unknown"), nil)
	assert.ErrorIs(t, err, ErrNotValidatorKey)
}

func TestQueries_GetValidatorFromTMAddress(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	v1, _, _ := seedValidators(t, q, 0)
	hash := make([]byte, tmAddressLen)
	hash[0] = 0xAB
	require.NoError(t, q.SetValidatorKeys(0, v1, []byte("pk-1"), hash))

	v, err := q.GetValidatorFromTMAddress(hash, nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v.Address)

	_, err = q.GetValidatorFromTMAddress([]byte{1, 2, 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidTMAddress)

	_, err = q.GetValidatorFromTMAddress(make([]byte, tmAddressLen), nil)
	assert.ErrorIs(t, err, ErrNotValidatorKeyHash)
}

func TestQueries_GetActiveEthAddresses(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	v1, v2, v3 := seedValidators(t, q, 0)
	for _, v := range []types.Address{v1, v2, v3} {
		hot := types.Address{Kind: types.AddressImplicit, Raw: v.Raw + "-hot"}
		cold := types.Address{Kind: types.AddressImplicit, Raw: v.Raw + "-cold"}
		require.NoError(t, q.SetValidatorEthAddresses(0, v, hot, cold))
	}

	it, err := q.GetActiveEthAddresses(nil)
	require.NoError(t, err)
	var seen []string
	for it.Next() {
		e := it.Item()
		seen = append(seen, e.Address.Raw)
		assert.Equal(t, e.Address.Raw+"-hot", e.Book.Hot.Raw)
		assert.Equal(t, e.Address.Raw+"-cold", e.Book.Cold.Raw)
	}
	assert.Len(t, seen, 3)
}

func TestQueries_GetActiveEthAddresses_PanicsOnMissingKeys(t *testing.T) {
	s := newTestStorage(t)
	s.BeginBlock([32]byte{}, 1)
	q := NewQueries(s)
	seedValidators(t, q, 0)

	assert.Panics(t, func() {
		_, _ = q.GetActiveEthAddresses(nil)
	}, "every active validator must have both eth keys recorded")
}

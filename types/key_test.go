// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKeyRoundTrip(t *testing.T) {
	assert := assert.New(t)

	k, err := ParseKey("est1abc/balance/xan")
	assert.NoError(err)
	assert.Equal(3, k.Len())
	assert.Equal("est1abc/balance/xan", k.String())

	first, ok := k.FirstSegment()
	assert.True(ok)
	assert.Equal("est1abc", first)
}

func TestParseKeyRejectsEmptySegment(t *testing.T) {
	_, err := ParseKey("a//b")
	assert.ErrorIs(t, err, ErrKeyError)
}

func TestKeyIsPrefixOf(t *testing.T) {
	assert := assert.New(t)
	prefix := NewKey("pos", "validator")
	full := NewKey("pos", "validator", "est1abc", "voting_power")
	assert.True(prefix.IsPrefixOf(full))
	assert.False(full.IsPrefixOf(prefix))
}

func TestValidityPredicateKey(t *testing.T) {
	addr := Address{Kind: AddressEstablished, Raw: "est1xyz"}
	k := ValidityPredicateKey(addr)
	assert.True(t, k.IsValidityPredicateKey())
	assert.True(t, strings.HasPrefix(k.String(), addr.Raw))
}

func TestValidateForIBC(t *testing.T) {
	longSegment := strings.Repeat("a", IBCKeyLimit)
	k := NewKey("ibc", longSegment)
	assert.ErrorIs(t, k.ValidateForIBC(), ErrKeyError)

	k2 := NewKey("ibc", "client-0")
	assert.NoError(t, k2.ValidateForIBC())
}

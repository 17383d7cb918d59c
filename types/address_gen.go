// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// AddressGenerator deterministically allocates established addresses.
// It is seeded once (typically from the genesis block hash) and
// stepped by a monotonic counter on every allocation, so that replaying
// the same sequence of InitAccount calls on every node yields the same
// addresses.
type AddressGenerator struct {
	seed    []byte
	counter uint64
}

// NewAddressGenerator seeds a generator from seed (e.g. the genesis
// block hash) and a starting counter value read back from persisted
// state.
func NewAddressGenerator(seed []byte, counter uint64) *AddressGenerator {
	cp := make([]byte, len(seed))
	copy(cp, seed)
	return &AddressGenerator{seed: cp, counter: counter}
}

// Counter returns the next counter value that will be consumed,
// for persistence in block metadata.
func (g *AddressGenerator) Counter() uint64 { return g.counter }

// Seed returns the generator's seed, for persistence in block metadata
// so a restart can reconstruct the same generator.
func (g *AddressGenerator) Seed() []byte {
	cp := make([]byte, len(g.seed))
	copy(cp, g.seed)
	return cp
}

// Generate allocates the next established address by hashing the
// generator's seed, the creator's address, and the current counter,
// then advances the counter.
func (g *AddressGenerator) Generate(creator Address) Address {
	h := sha3.New256()
	h.Write(g.seed)
	h.Write([]byte(creator.Raw))
	h.Write(encodeUint64(g.counter))
	sum := h.Sum(nil)
	g.counter++
	return Address{Kind: AddressEstablished, Raw: "est1" + hex.EncodeToString(sum[:20])}
}

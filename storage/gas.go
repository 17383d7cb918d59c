// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

// MinStorageGas is the minimum gas any storage operation reports, even
// a no-op read of an absent key (spec §4.D).
const MinStorageGas = 1

// keyValueGas is the gas cost of touching key and (optionally) value,
// at least MinStorageGas.
func keyValueGas(key string, value []byte) uint64 {
	g := uint64(len(key) + len(value))
	if g < MinStorageGas {
		return MinStorageGas
	}
	return g
}

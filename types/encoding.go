// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import (
	"encoding/binary"
	"fmt"
)

// Encode/Decode implement the deterministic binary encoding spec §3
// requires for typed values: little-endian, length-prefixed, no
// padding. There is exactly one rule per Go kind used by this store;
// callers compose them rather than reaching for a reflection-based
// marshaler (see DESIGN.md for why).

// EncodeUint64 encodes v as 8 little-endian bytes.
func EncodeUint64(v uint64) []byte { return encodeUint64(v) }

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeUint64 decodes 8 little-endian bytes into a uint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: want 8 bytes, got %d", ErrCodingError, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// EncodeInt64 encodes v as 8 little-endian bytes, reinterpreting its
// bit pattern as unsigned (two's complement round-trips exactly).
func EncodeInt64(v int64) []byte { return encodeUint64(uint64(v)) }

// DecodeInt64 is the inverse of EncodeInt64.
func DecodeInt64(b []byte) (int64, error) {
	v, err := DecodeUint64(b)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// EncodeBytes length-prefixes raw with a 4-byte little-endian length.
func EncodeBytes(raw []byte) []byte {
	out := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	copy(out[4:], raw)
	return out
}

// DecodeBytes reads one length-prefixed byte string starting at
// offset 0 of b, returning the value and the number of bytes consumed.
func DecodeBytes(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated length prefix", ErrCodingError)
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n < 0 || 4+n > len(b) {
		return nil, 0, fmt.Errorf("%w: length prefix %d exceeds buffer", ErrCodingError, n)
	}
	out := make([]byte, n)
	copy(out, b[4:4+n])
	return out, 4 + n, nil
}

// EncodeAmount encodes a token amount the same way EncodeUint64 does;
// kept as a distinct name since callers address it semantically.
func EncodeAmount(v uint64) []byte { return encodeUint64(v) }

// DecodeAmount is the inverse of EncodeAmount, defaulting absent data
// to 0 rather than erroring (spec §4.F: "get_balance ... defaulting to
// 0 when no balance record exists").
func DecodeAmount(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return DecodeUint64(b)
}

// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import (
	"fmt"
	"strings"
)

// IBCKeyLimit is the maximum encoded length, in bytes, of a key routed
// into the IBC sub-tree (spec §3 invariant 5).
const IBCKeyLimit = 120

const keySeparator = "/"

// AddressKind distinguishes how an Address was allocated.
type AddressKind int

const (
	// AddressEstablished is allocated at runtime via InitAccount and
	// carries no inherent public key.
	AddressEstablished AddressKind = iota
	// AddressImplicit is derived directly from a public key.
	AddressImplicit
	// AddressInternal names a fixed, protocol-defined subsystem (PoS,
	// IBC, the bridge pool, ...).
	AddressInternal
)

// Address namespaces a subspace of the key space. It is always the
// first segment of a Key.
type Address struct {
	Kind AddressKind
	Raw  string // printable, already segment-safe
}

func (a Address) String() string { return a.Raw }

// Well-known internal addresses. Components reach these by identity,
// not by parsing a raw string, so the router in package merkle can
// recognise them regardless of chain-specific established addresses.
var (
	AddressPoS        = Address{Kind: AddressInternal, Raw: "pos"}
	AddressIBC         = Address{Kind: AddressInternal, Raw: "ibc"}
	AddressBridgePool = Address{Kind: AddressInternal, Raw: "bridge_pool"}
)

// Key is an ordered sequence of printable segments. The string form is
// the segments joined by "/". Keys are the sole address space of the
// store.
type Key struct {
	segments []string
}

// NewKey builds a Key from already-validated segments.
func NewKey(segments ...string) Key {
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Key{segments: cp}
}

// ParseKey splits a string key on "/". An empty string yields a
// zero-segment key.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, nil
	}
	parts := strings.Split(s, keySeparator)
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: empty segment in %q", ErrKeyError, s)
		}
	}
	return Key{segments: parts}, nil
}

// String renders the key in its canonical "/"-joined form.
func (k Key) String() string { return strings.Join(k.segments, keySeparator) }

// Segments returns the key's ordered segments. The returned slice must
// not be mutated by the caller.
func (k Key) Segments() []string { return k.segments }

// Len returns the number of segments.
func (k Key) Len() int { return len(k.segments) }

// IsEmpty reports whether the key has no segments.
func (k Key) IsEmpty() bool { return len(k.segments) == 0 }

// FirstSegment returns the key's first segment, typically an address,
// and whether one is present.
func (k Key) FirstSegment() (string, bool) {
	if len(k.segments) == 0 {
		return "", false
	}
	return k.segments[0], true
}

// Push returns a new key with segment appended.
func (k Key) Push(segment string) Key {
	out := make([]string, len(k.segments)+1)
	copy(out, k.segments)
	out[len(k.segments)] = segment
	return Key{segments: out}
}

// IsPrefixOf reports whether k is a segment-wise prefix of other.
func (k Key) IsPrefixOf(other Key) bool {
	if len(k.segments) > len(other.segments) {
		return false
	}
	for i, s := range k.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

const vpSegment = "?"

// ValidityPredicateKey returns the key under which addr's validity
// predicate bytecode is stored.
func ValidityPredicateKey(addr Address) Key {
	return NewKey(addr.Raw, vpSegment)
}

// IsValidityPredicateKey reports whether k addresses a validity
// predicate slot.
func (k Key) IsValidityPredicateKey() bool {
	return len(k.segments) == 2 && k.segments[1] == vpSegment
}

// ValidateForIBC enforces invariant 5: keys routed to the IBC sub-tree
// must not exceed IBCKeyLimit bytes in their canonical string form.
func (k Key) ValidateForIBC() error {
	if len(k.String()) > IBCKeyLimit {
		return fmt.Errorf("%w: ibc key exceeds %d bytes", ErrKeyError, IBCKeyLimit)
	}
	return nil
}

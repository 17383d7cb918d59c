// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package merkle

import (
	"fmt"

	ics23 "github.com/bnb-chain/ics23/go"
	"github.com/tesseract-chain/ledgerstore/types"
)

// leafPrefix is the constant ICS23 leaf-op prefix used by every leaf
// in every sub-tree; it just needs to be stable across the tree's
// lifetime, not secret.
var leafPrefix = []byte{0x00}

// subTreeLeafOp describes how this tree hashes a leaf, in ICS23 terms.
// It is shared by every sub-tree: values are pre-hashed by the caller
// (hashValue), so Prehash/Length ops are no-ops and the leaf op itself
// reproduces hashLeaf: the final hash over prefix, key and value hash.
var subTreeLeafOp = &ics23.LeafOp{
	Hash:         ics23.HashOp_SHA256,
	PrehashKey:   ics23.HashOp_NO_HASH,
	PrehashValue: ics23.HashOp_NO_HASH,
	Length:       ics23.LengthOp_NO_PREFIX,
	Prefix:       leafPrefix,
}

// Proof is the wire format described in spec §6: a two-level proof
// chain where SubProof authenticates (key, value) against a sub-tree
// root, and TopProof authenticates that sub-tree root against the
// top-level Root().
type Proof struct {
	SubTree  SubTreeKind
	SubProof *ics23.CommitmentProof
	TopProof *TopLevelProof
}

// TopLevelProof authenticates one sub-tree's root as a member of the
// fixed-order concatenation that produces the top-level root. The
// top-level combination is not itself a Merkle tree (spec §3: "the hash
// of the concatenation of sub-tree roots"), so the proof is simply
// every other sub-tree's current root plus the claimed one's position.
type TopLevelProof struct {
	Order      []SubTreeKind
	Index      int
	OtherRoots map[SubTreeKind][32]byte
}

// Verify recomputes the top-level root from subRoot plugged into its
// recorded position among OtherRoots and compares against root.
func (p *TopLevelProof) Verify(root [32]byte, subRoot [32]byte) bool {
	parts := make([][]byte, len(p.Order))
	for i, kind := range p.Order {
		if i == p.Index {
			parts[i] = subRoot[:]
			continue
		}
		r, ok := p.OtherRoots[kind]
		if !ok {
			return false
		}
		parts[i] = r[:]
	}
	return hashConcat(parts) == root
}

func topLevelProof(t *Tree, kind SubTreeKind) *TopLevelProof {
	p := &TopLevelProof{
		Order:      canonicalOrder,
		OtherRoots: make(map[SubTreeKind][32]byte, len(canonicalOrder)-1),
	}
	for i, k := range canonicalOrder {
		if k == kind {
			p.Index = i
			continue
		}
		p.OtherRoots[k] = t.subtrees[k].root()
	}
	return p
}

// ExistenceProof builds an ICS23 existence proof for key/value within
// its routed sub-tree, wrapped with the top-level proof. BridgePool
// proofs are not consensus-compatible (spec §4.B) and are rejected
// here; the storage core is expected to have already rejected the
// request, this is a defense in depth check.
func (t *Tree) ExistenceProof(key types.Key, value []byte) (*Proof, error) {
	kind := Route(key)
	if kind == BridgePool {
		return nil, fmt.Errorf("%w: bridge pool proofs are not consensus-compatible", types.ErrMerkleTree)
	}
	st := t.subtrees[kind]
	keyStr := key.String()
	idx := st.indexOf(keyStr)
	if idx < 0 {
		return nil, fmt.Errorf("%w: key %q not present", types.ErrMerkleTree, keyStr)
	}
	wantHash := hashValue(kind, value)
	gotHash, _ := st.valueHash(keyStr)
	if wantHash != gotHash {
		return nil, fmt.Errorf("%w: value does not match committed leaf for %q", types.ErrMerkleTree, keyStr)
	}

	siblings, onRight := st.siblingPath(idx)
	path := make([]*ics23.InnerOp, len(siblings))
	for i, sib := range siblings {
		if onRight[i] {
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_SHA256, Prefix: nil, Suffix: append([]byte{}, sib[:]...)}
		} else {
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_SHA256, Prefix: append([]byte{}, sib[:]...), Suffix: nil}
		}
	}

	ep := &ics23.ExistenceProof{
		Key:   []byte(keyStr),
		Value: wantHash[:],
		Leaf:  subTreeLeafOp,
		Path:  path,
	}

	return &Proof{
		SubTree: kind,
		SubProof: &ics23.CommitmentProof{
			Proof: &ics23.CommitmentProof_Exist{Exist: ep},
		},
		TopProof: topLevelProof(t, kind),
	}, nil
}

// NonExistenceProof builds a non-membership proof for key from the
// lexicographic neighbours present in key's routed sub-tree, per
// spec §4.B.
func (t *Tree) NonExistenceProof(key types.Key) (*Proof, error) {
	kind := Route(key)
	if kind == BridgePool {
		return nil, fmt.Errorf("%w: bridge pool proofs are not consensus-compatible", types.ErrMerkleTree)
	}
	st := t.subtrees[kind]
	keyStr := key.String()
	if st.has(keyStr) {
		return nil, fmt.Errorf("%w: key %q is present, cannot prove non-existence", types.ErrMerkleTree, keyStr)
	}

	leftKey, rightKey, hasLeft, hasRight := st.neighbours(keyStr)
	nep := &ics23.NonExistenceProof{Key: []byte(keyStr)}
	if hasLeft {
		ep, err := t.existenceProofForStoredKey(kind, leftKey)
		if err != nil {
			return nil, err
		}
		nep.Left = ep
	}
	if hasRight {
		ep, err := t.existenceProofForStoredKey(kind, rightKey)
		if err != nil {
			return nil, err
		}
		nep.Right = ep
	}

	return &Proof{
		SubTree: kind,
		SubProof: &ics23.CommitmentProof{
			Proof: &ics23.CommitmentProof_Nonexist{Nonexist: nep},
		},
		TopProof: topLevelProof(t, kind),
	}, nil
}

func (t *Tree) existenceProofForStoredKey(kind SubTreeKind, keyStr string) (*ics23.ExistenceProof, error) {
	st := t.subtrees[kind]
	idx := st.indexOf(keyStr)
	if idx < 0 {
		return nil, fmt.Errorf("%w: neighbour key %q vanished", types.ErrMerkleTree, keyStr)
	}
	valueHash, _ := st.valueHash(keyStr)
	siblings, onRight := st.siblingPath(idx)
	path := make([]*ics23.InnerOp, len(siblings))
	for i, sib := range siblings {
		if onRight[i] {
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_SHA256, Suffix: append([]byte{}, sib[:]...)}
		} else {
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_SHA256, Prefix: append([]byte{}, sib[:]...)}
		}
	}
	return &ics23.ExistenceProof{
		Key:   []byte(keyStr),
		Value: valueHash[:],
		Leaf:  subTreeLeafOp,
		Path:  path,
	}, nil
}

// subTreeProofSpec describes this tree's leaf/inner-node layout in
// ICS23 terms, for ics23.VerifyMembership/VerifyNonMembership's own
// structural validation: two ordered children (left, right), each a
// bare 32-byte SHA-256 digest used as Prefix or Suffix with no other
// framing.
var subTreeProofSpec = &ics23.ProofSpec{
	LeafSpec: subTreeLeafOp,
	InnerSpec: &ics23.InnerSpec{
		ChildOrder:      []int32{0, 1},
		ChildSize:       32,
		MinPrefixLength: 0,
		MaxPrefixLength: 32,
		Hash:            ics23.HashOp_SHA256,
	},
}

// VerifyExistence checks proof against root for the claimed key/value
// using the real ics23 root calculation and membership verification
// (not a reimplementation of it), then authenticates the resulting
// sub-tree root against root via TopProof.
func VerifyExistence(root [32]byte, proof *Proof, key types.Key, value []byte) bool {
	if proof == nil || proof.SubProof == nil || proof.TopProof == nil {
		return false
	}
	ep, ok := proof.SubProof.Proof.(*ics23.CommitmentProof_Exist)
	if !ok {
		return false
	}
	wantHash := hashValue(proof.SubTree, value)
	subRootBytes, err := ics23.CalculateExistenceRoot(ep.Exist)
	if err != nil {
		return false
	}
	if !ics23.VerifyMembership(subTreeProofSpec, subRootBytes, proof.SubProof, []byte(key.String()), wantHash[:]) {
		return false
	}
	var subRoot [32]byte
	copy(subRoot[:], subRootBytes)
	return proof.TopProof.Verify(root, subRoot)
}

// VerifyNonExistence checks proof against root for the claimed absent
// key using ics23.VerifyNonMembership, then authenticates the
// resulting sub-tree root against root via TopProof.
func VerifyNonExistence(root [32]byte, proof *Proof, key types.Key) bool {
	if proof == nil || proof.SubProof == nil || proof.TopProof == nil {
		return false
	}
	nep, ok := proof.SubProof.Proof.(*ics23.CommitmentProof_Nonexist)
	if !ok {
		return false
	}
	var neighbour *ics23.ExistenceProof
	switch {
	case nep.Nonexist.Left != nil:
		neighbour = nep.Nonexist.Left
	case nep.Nonexist.Right != nil:
		neighbour = nep.Nonexist.Right
	default:
		return false
	}
	subRootBytes, err := ics23.CalculateExistenceRoot(neighbour)
	if err != nil {
		return false
	}
	if !ics23.VerifyNonMembership(subTreeProofSpec, subRootBytes, proof.SubProof, []byte(key.String())) {
		return false
	}
	var subRoot [32]byte
	copy(subRoot[:], subRootBytes)
	return proof.TopProof.Verify(root, subRoot)
}

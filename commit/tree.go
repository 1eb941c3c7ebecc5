// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package commit builds content-addressed commitment trees over collection
// snapshots. Trees are ephemeral: each conversion builds fresh trees and
// discards them, so the simulation hot path never touches cryptographic
// hashing and no state is shared across calls.
//
// A tree has a fixed depth; leaves are addressed by identifier (entities)
// or tile slot (world occupancy), never by insertion sequence, and unused
// slots hold a zero placeholder segment so roots stay comparable as the
// population grows.
package commit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/bits-and-blooms/bitset"
	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/0xwonj/dungeon-sub001/state"
)

const (
	// DefaultEntityDepth leaves headroom for 65536 identifiers, well above
	// the anticipated maximum entity population.
	DefaultEntityDepth = 16

	// DefaultWorldDepth covers 4096 tiles, a 64x64 map.
	DefaultWorldDepth = 12
)

// SegmentSize byte width of one leaf segment
const SegmentSize = state.ChunkSize

// Builder builds commitment trees of a fixed depth.
type Builder struct {
	Depth int
}

func (b Builder) capacity() uint64 { return 1 << b.Depth }

// Tree is a commitment tree over one collection snapshot. It exposes the
// root and per-slot inclusion proofs; it is never mutated after Build.
type Tree struct {
	depth    int
	segments []byte // capacity * SegmentSize leaf segments, zero when unoccupied
	occupied *bitset.BitSet
	root     []byte
}

// Build commits to an entity collection. Leaf slots are addressed by
// identifier, so the root is invariant to the order of the input slice.
func (b Builder) Build(entities []state.Entity) (*Tree, error) {
	h := mimc.NewMiMC()
	t := newTree(b.Depth, h.Size())

	for _, e := range entities {
		if uint64(e.ID) >= b.capacity() {
			return nil, fmt.Errorf("%w: identifier %d exceeds tree capacity %d", state.ErrStructuralMismatch, e.ID, b.capacity())
		}
		if t.occupied.Test(uint(e.ID)) {
			return nil, fmt.Errorf("%w: duplicate identifier %d", state.ErrStructuralMismatch, e.ID)
		}
		leaf, err := EntityLeaf(h, e)
		if err != nil {
			return nil, err
		}
		copy(t.segments[uint64(e.ID)*uint64(h.Size()):], leaf)
		t.occupied.Set(uint(e.ID))
	}

	return t, t.computeRoot(h)
}

// BuildTiles commits to the world occupancy section. Leaf slots are
// addressed by tile position (y*width + x); empty tiles keep the zero
// placeholder segment.
func (b Builder) BuildTiles(m state.TileMap) (*Tree, error) {
	if uint64(m.Width)*uint64(m.Height) > b.capacity() {
		return nil, fmt.Errorf("%w: %dx%d map exceeds tree capacity %d", state.ErrStructuralMismatch, m.Width, m.Height, b.capacity())
	}

	h := mimc.NewMiMC()
	t := newTree(b.Depth, h.Size())

	for pos, id := range m.Occupancy {
		if id == 0 {
			continue
		}
		slot, err := m.Slot(pos)
		if err != nil {
			return nil, err
		}
		copy(t.segments[slot*uint64(h.Size()):], TileLeaf(h, pos, id))
		t.occupied.Set(uint(slot))
	}

	return t, t.computeRoot(h)
}

func newTree(depth, segmentSize int) *Tree {
	nb := uint64(1) << depth
	return &Tree{
		depth:    depth,
		segments: make([]byte, nb*uint64(segmentSize)),
		occupied: bitset.New(uint(nb)),
	}
}

func (t *Tree) computeRoot(h hash.Hash) error {
	root, _, _, err := merkletree.BuildReaderProof(bytes.NewReader(t.segments), h, h.Size(), 0)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int { return t.depth }

// NumLeaves returns the fixed leaf count, 2^depth.
func (t *Tree) NumLeaves() uint64 { return 1 << t.depth }

// Root returns the commitment root. It is a pure function of the committed
// content, reproducible across process runs.
func (t *Tree) Root() []byte {
	return bytes.Clone(t.root)
}

// Occupied reports whether the slot holds a real leaf (as opposed to the
// placeholder).
func (t *Tree) Occupied(index uint64) bool {
	return index < t.NumLeaves() && t.occupied.Test(uint(index))
}

// Leaf returns the leaf segment at the given slot, the zero placeholder
// when unoccupied.
func (t *Tree) Leaf(index uint64) ([]byte, error) {
	segmentSize := uint64(len(t.segments)) / t.NumLeaves()
	if index >= t.NumLeaves() {
		return nil, fmt.Errorf("%w: slot %d exceeds tree capacity %d", state.ErrStructuralMismatch, index, t.NumLeaves())
	}
	return bytes.Clone(t.segments[index*segmentSize : (index+1)*segmentSize]), nil
}

// Prove returns the root and the inclusion proof set for the given leaf
// slot. The proof set always has depth+1 entries; its first entry is the
// leaf segment itself, the rest are sibling subtree hashes.
func (t *Tree) Prove(index uint64) (root []byte, proofSet [][]byte, numLeaves uint64, err error) {
	if index >= t.NumLeaves() {
		return nil, nil, 0, fmt.Errorf("%w: slot %d exceeds tree capacity %d", state.ErrStructuralMismatch, index, t.NumLeaves())
	}
	h := mimc.NewMiMC()
	return merkletree.BuildReaderProof(bytes.NewReader(t.segments), h, h.Size(), index)
}

// EntityLeaf hashes kind-tag ‖ id ‖ canonical-encoding into one leaf
// segment.
func EntityLeaf(h hash.Hash, e state.Entity) ([]byte, error) {
	enc, err := e.Canonical()
	if err != nil {
		return nil, err
	}
	h.Reset()
	var pre [2 * state.ChunkSize]byte
	binary.BigEndian.PutUint64(pre[state.ChunkSize-8:state.ChunkSize], uint64(e.Kind))
	binary.BigEndian.PutUint64(pre[2*state.ChunkSize-8:], uint64(e.ID))
	_, _ = h.Write(pre[:])
	_, _ = h.Write(enc)
	return h.Sum(nil), nil
}

// TileLeaf hashes the occupancy record of one tile into a leaf segment.
func TileLeaf(h hash.Hash, pos state.Position, occupant state.ID) []byte {
	h.Reset()
	var pre [3 * state.ChunkSize]byte
	binary.BigEndian.PutUint64(pre[state.ChunkSize-8:state.ChunkSize], uint64(pos.X))
	binary.BigEndian.PutUint64(pre[2*state.ChunkSize-8:2*state.ChunkSize], uint64(pos.Y))
	binary.BigEndian.PutUint64(pre[3*state.ChunkSize-8:], uint64(occupant))
	_, _ = h.Write(pre[:])
	return h.Sum(nil)
}

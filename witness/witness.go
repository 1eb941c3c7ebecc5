// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package witness extracts minimal authentication witnesses from a delta and
// a pair of freshly built commitment trees. Witness size scales with the
// number of changed identifiers, never with the total population: an
// identifier absent from the delta is never re-derived or re-hashed, its
// unchanged status is implied by root equality.
package witness

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/0xwonj/dungeon-sub001/commit"
	"github.com/0xwonj/dungeon-sub001/debug"
	"github.com/0xwonj/dungeon-sub001/diff"
	"github.com/0xwonj/dungeon-sub001/logger"
	"github.com/0xwonj/dungeon-sub001/state"
)

// ErrWitnessNotFound signals desynchronization between the change detector
// and the tree builder. It can only arise from a pipeline bug, never from
// valid input, so conversion aborts loudly.
var ErrWitnessNotFound = errors.New("changed identifier does not match its expected tree")

// Proof ties one leaf segment to one root.
type Proof struct {
	Root []byte
	// ProofSet[0] is the leaf segment (the placeholder segment for an
	// absent side), the rest are sibling subtree hashes bottom-up.
	ProofSet [][]byte
	// Helper holds one direction bit per sibling: 1 when the running hash
	// is the left operand of the next node hash.
	Helper []int
	Index  uint64
}

// Leaf returns the leaf segment the proof commits to.
func (p Proof) Leaf() []byte { return p.ProofSet[0] }

func (p Proof) numLeaves() uint64 {
	return uint64(1) << (len(p.ProofSet) - 1)
}

// Verify checks the proof against its own claimed root.
func (p Proof) Verify() bool {
	if len(p.ProofSet) == 0 {
		return false
	}
	h := mimc.NewMiMC()
	return merkletree.VerifyProof(h, p.Root, p.ProofSet, p.Index, p.numLeaves())
}

// EntityWitness carries the before/after inclusion proofs of one changed
// identifier plus its changed-field bitmask. Added and removed entities use
// the placeholder leaf on the absent side; the mask is then the full mask
// of the kind.
type EntityWitness struct {
	ID     state.ID
	Kind   state.Kind
	Fields state.Bits
	Before Proof
	After  Proof
}

// TileWitness carries the before/after inclusion proofs of one tile whose
// occupant changed.
type TileWitness struct {
	Pos    state.Position
	Before Proof
	After  Proof
}

// Extract emits one entity witness per changed identifier (ascending order)
// and one tile witness per changed tile, proving each against the relevant
// tree. The snapshots are only consulted for the kind of added/removed
// identifiers; untouched entities are never revisited.
func Extract(d *diff.Delta, beforeEnts, afterEnts, beforeWorld, afterWorld *commit.Tree,
	before, after *state.Snapshot) ([]EntityWitness, []TileWitness, error) {

	bIdx, err := before.Index()
	if err != nil {
		return nil, nil, err
	}
	aIdx, err := after.Index()
	if err != nil {
		return nil, nil, err
	}

	added := make(map[state.ID]struct{}, len(d.Entities.Added))
	for _, id := range d.Entities.Added {
		added[id] = struct{}{}
	}
	removed := make(map[state.ID]struct{}, len(d.Entities.Removed))
	for _, id := range d.Entities.Removed {
		removed[id] = struct{}{}
	}
	updated := make(map[state.ID]diff.EntityUpdate, len(d.Entities.Updated))
	for _, u := range d.Entities.Updated {
		updated[u.ID] = u
	}

	changed := d.ChangedIDs()
	ents := make([]EntityWitness, 0, len(changed))
	for _, id := range changed {
		w := EntityWitness{ID: id}

		switch {
		case isIn(added, id):
			e, ok := aIdx[id]
			if !ok {
				return nil, nil, desync(id, "after", "added identifier missing from after snapshot")
			}
			w.Kind = e.Kind
			w.Fields = state.FullMask(e.Kind)
			if beforeEnts.Occupied(uint64(id)) {
				return nil, nil, desync(id, "before", "added identifier already has a leaf")
			}
			if !afterEnts.Occupied(uint64(id)) {
				return nil, nil, desync(id, "after", "added identifier has no leaf")
			}
		case isIn(removed, id):
			e, ok := bIdx[id]
			if !ok {
				return nil, nil, desync(id, "before", "removed identifier missing from before snapshot")
			}
			w.Kind = e.Kind
			w.Fields = state.FullMask(e.Kind)
			if !beforeEnts.Occupied(uint64(id)) {
				return nil, nil, desync(id, "before", "removed identifier has no leaf")
			}
			if afterEnts.Occupied(uint64(id)) {
				return nil, nil, desync(id, "after", "removed identifier still has a leaf")
			}
		default:
			u, ok := updated[id]
			if !ok {
				return nil, nil, desync(id, "delta", "changed identifier not in added/removed/updated")
			}
			w.Kind = u.Kind
			w.Fields = u.Fields
			if !beforeEnts.Occupied(uint64(id)) || !afterEnts.Occupied(uint64(id)) {
				return nil, nil, desync(id, "both", "updated identifier has no leaf")
			}
		}

		if w.Before, err = proofFor(beforeEnts, uint64(id)); err != nil {
			return nil, nil, err
		}
		if w.After, err = proofFor(afterEnts, uint64(id)); err != nil {
			return nil, nil, err
		}
		ents = append(ents, w)
	}

	tiles := make([]TileWitness, 0, len(d.Tiles))
	for _, c := range d.Tiles {
		slot, err := after.Tiles.Slot(c.Pos)
		if err != nil {
			return nil, nil, err
		}
		tw := TileWitness{Pos: c.Pos}
		if tw.Before, err = proofFor(beforeWorld, slot); err != nil {
			return nil, nil, err
		}
		if tw.After, err = proofFor(afterWorld, slot); err != nil {
			return nil, nil, err
		}
		tiles = append(tiles, tw)
	}

	return ents, tiles, nil
}

func isIn(set map[state.ID]struct{}, id state.ID) bool {
	_, ok := set[id]
	return ok
}

func desync(id state.ID, side, msg string) error {
	log := logger.Logger()
	log.Error().
		Uint64("id", uint64(id)).
		Str("tree", side).
		Str("stack", debug.Stack()).
		Msg("witness extraction desynchronized: " + msg)
	return fmt.Errorf("%w: id %d (%s tree): %s", ErrWitnessNotFound, id, side, msg)
}

func proofFor(t *commit.Tree, index uint64) (Proof, error) {
	root, proofSet, numLeaves, err := t.Prove(index)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Root:     root,
		ProofSet: proofSet,
		Helper:   proofHelper(proofSet, index, numLeaves),
		Index:    index,
	}, nil
}

// proofHelper derives the direction bit per proof level: 1 when the running
// hash is hashed as the left operand. Adapted from the Sia merkletree proof
// layout; trees here always hold 2^depth leaves, so every subtree is
// complete.
func proofHelper(proofSet [][]byte, proofIndex, numLeaves uint64) []int {
	res := make([]int, len(proofSet)-1)

	height := 1
	stableEnd := proofIndex
	for {
		subTreeStartIndex := (proofIndex / (1 << uint(height))) * (1 << uint(height))
		subTreeEndIndex := subTreeStartIndex + (1 << uint(height)) - 1
		if subTreeEndIndex >= numLeaves {
			break
		}
		stableEnd = subTreeEndIndex

		if proofIndex-subTreeStartIndex < 1<<uint(height-1) {
			res[height-1] = 1
		} else {
			res[height-1] = 0
		}
		height++
	}

	if stableEnd != numLeaves-1 {
		res[height-1] = 1
		height++
	}
	for height < len(proofSet) {
		res[height-1] = 0
		height++
	}

	return res
}

// VerifyAll checks the extractor postconditions: the witness list is a
// bijection with the delta's changed-id set, tile witnesses cover exactly
// the delta's tile changes, and every proof verifies against the claimed
// section root. Used by tests; optional in production for performance.
func VerifyAll(d *diff.Delta, ents []EntityWitness, tiles []TileWitness,
	beforeRoot, afterRoot, beforeWorldRoot, afterWorldRoot []byte) error {
	changed := d.ChangedIDs()
	if len(ents) != len(changed) {
		return fmt.Errorf("witness count %d does not match changed-id count %d", len(ents), len(changed))
	}
	for i, w := range ents {
		if w.ID != changed[i] {
			return fmt.Errorf("witness %d proves id %d, expected %d", i, w.ID, changed[i])
		}
		if !bytes.Equal(w.Before.Root, beforeRoot) || !bytes.Equal(w.After.Root, afterRoot) {
			return fmt.Errorf("witness for id %d claims foreign roots", w.ID)
		}
		if !w.Before.Verify() {
			return fmt.Errorf("before path of id %d does not verify", w.ID)
		}
		if !w.After.Verify() {
			return fmt.Errorf("after path of id %d does not verify", w.ID)
		}
	}
	if len(tiles) != len(d.Tiles) {
		return fmt.Errorf("tile witness count %d does not match tile change count %d", len(tiles), len(d.Tiles))
	}
	for i, w := range tiles {
		if w.Pos != d.Tiles[i].Pos {
			return fmt.Errorf("tile witness %d proves (%d,%d), expected (%d,%d)",
				i, w.Pos.X, w.Pos.Y, d.Tiles[i].Pos.X, d.Tiles[i].Pos.Y)
		}
		if !bytes.Equal(w.Before.Root, beforeWorldRoot) || !bytes.Equal(w.After.Root, afterWorldRoot) {
			return fmt.Errorf("tile witness (%d,%d) claims foreign roots", w.Pos.X, w.Pos.Y)
		}
		if !w.Before.Verify() || !w.After.Verify() {
			return fmt.Errorf("tile path (%d,%d) does not verify", w.Pos.X, w.Pos.Y)
		}
	}
	return nil
}

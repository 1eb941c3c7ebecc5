// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package transition assembles commitment roots, witnesses and the action
// descriptor into the immutable bundle handed to the proving subsystem, and
// drives the conversion of executed actions into such bundles.
package transition

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/fxamacker/cbor/v2"
	"github.com/icza/bitio"

	"github.com/0xwonj/dungeon-sub001/state"
	"github.com/0xwonj/dungeon-sub001/witness"
)

// StateRoots are the per-category sub-roots of one side of a transition.
type StateRoots struct {
	TurnHash []byte
	Entities []byte
	World    []byte
}

// Combine folds the three sub-roots into the top-level root:
// MiMC(turnHash ‖ entitiesRoot ‖ worldRoot). This is the only hashing the
// assembler introduces.
func (r StateRoots) Combine() []byte {
	h := mimc.NewMiMC()
	_, _ = h.Write(r.TurnHash)
	_, _ = h.Write(r.Entities)
	_, _ = h.Write(r.World)
	return h.Sum(nil)
}

// TurnHash hashes the canonical turn-state encoding. The turn section is
// too small for a tree; its hash still binds it into the top-level root.
func TurnHash(t state.TurnState) []byte {
	h := mimc.NewMiMC()
	_, _ = h.Write(t.Canonical())
	return h.Sum(nil)
}

// TurnValues carries the inline turn-state scalars of both sides. Present
// in a bundle only when the turn bitmask is non-empty and inline mode is
// on.
type TurnValues struct {
	Before state.TurnState
	After  state.TurnState
}

// Bundle is the complete, immutable package handed to the proving
// subsystem. Identical inputs always produce a byte-identical bundle.
type Bundle struct {
	Action state.Action
	Clock  uint64

	Before StateRoots
	After  StateRoots

	// BeforeRoot and AfterRoot are the combined top-level roots; a bundle
	// chain is consistent when each BeforeRoot equals the previous
	// AfterRoot and clocks are gapless.
	BeforeRoot []byte
	AfterRoot  []byte

	TurnChanged state.Bits
	Turn        *TurnValues

	Entities []witness.EntityWitness
	Tiles    []witness.TileWitness
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err) // static options
	}
}

// wire mirrors Bundle with direction bits packed to bytes.
type wireBundle struct {
	Action      state.Action
	Clock       uint64
	Before      StateRoots
	After       StateRoots
	BeforeRoot  []byte
	AfterRoot   []byte
	TurnChanged state.Bits
	Turn        *TurnValues
	Entities    []wireEntityWitness
	Tiles       []wireTileWitness
}

type wireProof struct {
	Root     []byte
	ProofSet [][]byte
	Helper   []byte // bit-packed, one bit per proof level
	Index    uint64
}

type wireEntityWitness struct {
	ID     state.ID
	Kind   state.Kind
	Fields state.Bits
	Before wireProof
	After  wireProof
}

type wireTileWitness struct {
	Pos    state.Position
	Before wireProof
	After  wireProof
}

// MarshalBinary encodes the bundle with deterministic CBOR. The proving
// subsystem and test assertions both rely on byte-identical output for
// identical inputs.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	w := wireBundle{
		Action:      b.Action,
		Clock:       b.Clock,
		Before:      b.Before,
		After:       b.After,
		BeforeRoot:  b.BeforeRoot,
		AfterRoot:   b.AfterRoot,
		TurnChanged: b.TurnChanged,
		Turn:        b.Turn,
	}
	for _, e := range b.Entities {
		we := wireEntityWitness{ID: e.ID, Kind: e.Kind, Fields: e.Fields}
		var err error
		if we.Before, err = packProof(e.Before); err != nil {
			return nil, err
		}
		if we.After, err = packProof(e.After); err != nil {
			return nil, err
		}
		w.Entities = append(w.Entities, we)
	}
	for _, tw := range b.Tiles {
		wt := wireTileWitness{Pos: tw.Pos}
		var err error
		if wt.Before, err = packProof(tw.Before); err != nil {
			return nil, err
		}
		if wt.After, err = packProof(tw.After); err != nil {
			return nil, err
		}
		w.Tiles = append(w.Tiles, wt)
	}
	return encMode.Marshal(w)
}

func packProof(p witness.Proof) (wireProof, error) {
	helper, err := packHelper(p.Helper)
	if err != nil {
		return wireProof{}, err
	}
	return wireProof{Root: p.Root, ProofSet: p.ProofSet, Helper: helper, Index: p.Index}, nil
}

func packHelper(bits []int) ([]byte, error) {
	var bb bytes.Buffer
	w := bitio.NewWriter(&bb)
	for _, b := range bits {
		if err := w.WriteBool(b == 1); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}

// Verify re-derives the top-level roots and checks every witness against
// its section root. Intended for tests and debugging; Convert does not run
// it by default.
func (b *Bundle) Verify() error {
	if !bytes.Equal(b.BeforeRoot, b.Before.Combine()) {
		return errors.New("before root does not combine from its sub-roots")
	}
	if !bytes.Equal(b.AfterRoot, b.After.Combine()) {
		return errors.New("after root does not combine from its sub-roots")
	}
	if b.Turn != nil {
		if !bytes.Equal(b.Before.TurnHash, TurnHash(b.Turn.Before)) {
			return errors.New("inline before turn state does not match its hash")
		}
		if !bytes.Equal(b.After.TurnHash, TurnHash(b.Turn.After)) {
			return errors.New("inline after turn state does not match its hash")
		}
	}
	for _, e := range b.Entities {
		if !bytes.Equal(e.Before.Root, b.Before.Entities) || !bytes.Equal(e.After.Root, b.After.Entities) {
			return fmt.Errorf("witness for id %d claims foreign roots", e.ID)
		}
		if !e.Before.Verify() || !e.After.Verify() {
			return fmt.Errorf("witness for id %d does not verify", e.ID)
		}
	}
	for _, tw := range b.Tiles {
		if !bytes.Equal(tw.Before.Root, b.Before.World) || !bytes.Equal(tw.After.Root, b.After.World) {
			return fmt.Errorf("tile witness (%d,%d) claims foreign roots", tw.Pos.X, tw.Pos.Y)
		}
		if !tw.Before.Verify() || !tw.After.Verify() {
			return fmt.Errorf("tile witness (%d,%d) does not verify", tw.Pos.X, tw.Pos.Y)
		}
	}
	return nil
}

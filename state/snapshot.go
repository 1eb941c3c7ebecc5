// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package state

import (
	"fmt"
)

// Phase is the stage of the current turn.
type Phase uint8

const (
	PhaseUpkeep Phase = iota + 1
	PhaseAction
	PhaseCleanup
)

// Turn field bits.
const (
	TurnFieldNumber Bits = 1 << iota
	TurnFieldActiveActor
	TurnFieldPhase
	TurnFieldActionPoints
)

// TurnState is the scalar top-level section of a snapshot. It is small
// enough to ride inline in a transition bundle instead of being committed
// to a tree.
type TurnState struct {
	Number       uint64
	ActiveActor  ID
	Phase        Phase
	ActionPoints uint32
}

// Canonical returns the canonical byte encoding of the turn state.
func (t TurnState) Canonical() []byte {
	w := newChunkWriter(4)
	w.write(t.Number)
	w.write(uint64(t.ActiveActor))
	w.write(uint64(t.Phase))
	w.write(uint64(t.ActionPoints))
	return w.buf
}

// TileMap is the world occupancy section: which entity stands on which tile.
// Tiles with no occupant are absent from the map.
type TileMap struct {
	Width     uint32
	Height    uint32
	Occupancy map[Position]ID
}

// At returns the occupant of p, or zero when the tile is empty.
func (m TileMap) At(p Position) ID {
	return m.Occupancy[p]
}

// Slot returns the leaf slot of p in the world commitment tree.
func (m TileMap) Slot(p Position) (uint64, error) {
	if p.X >= m.Width || p.Y >= m.Height {
		return 0, fmt.Errorf("%w: tile (%d,%d) outside %dx%d map", ErrStructuralMismatch, p.X, p.Y, m.Width, m.Height)
	}
	return uint64(p.Y)*uint64(m.Width) + uint64(p.X), nil
}

// Snapshot is an immutable full-state capture produced by the simulation.
// The conversion pipeline only ever reads it.
type Snapshot struct {
	Turn     TurnState
	Entities []Entity
	Tiles    TileMap
}

// Index builds a lookup table keyed by identifier. An identifier appearing
// more than once is a caller invariant violation and aborts with
// ErrStructuralMismatch rather than being silently deduplicated.
func (s *Snapshot) Index() (map[ID]Entity, error) {
	idx := make(map[ID]Entity, len(s.Entities))
	for _, e := range s.Entities {
		if _, ok := idx[e.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate identifier %d", ErrStructuralMismatch, e.ID)
		}
		idx[e.ID] = e
	}
	return idx, nil
}

// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package diff compares two full state snapshots and produces a bitmask
// tagged delta describing exactly which sections, collections and per-entity
// fields changed. Output ordering is canonical (ascending identifier, then
// tile slot) so equal inputs always produce byte-identical deltas.
package diff

import (
	"fmt"
	"slices"

	"github.com/0xwonj/dungeon-sub001/state"
)

// EntityUpdate records one surviving identifier whose fields differ.
type EntityUpdate struct {
	ID     state.ID
	Kind   state.Kind
	Fields state.Bits
}

// CollectionDelta is the change record of the entity collection.
type CollectionDelta struct {
	Added   []state.ID
	Removed []state.ID
	Updated []EntityUpdate
}

func (c CollectionDelta) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// TileChange records one tile whose occupant changed. Zero means the tile
// is (or was) empty.
type TileChange struct {
	Pos    state.Position
	Before state.ID
	After  state.ID
}

// Delta is the full change record of one executed action. It is produced
// once per action and either consumed immediately or queued; it never
// references the snapshots it was derived from.
type Delta struct {
	Action   state.Action
	Clock    uint64
	Turn     state.Bits
	Entities CollectionDelta
	Tiles    []TileChange
}

// Empty reports whether the delta carries no change at all, as produced by
// a no-op action.
func (d *Delta) Empty() bool {
	return d.Turn == 0 && d.Entities.Empty() && len(d.Tiles) == 0
}

// ChangedIDs returns the sorted union of added, removed and updated
// identifiers.
func (d *Delta) ChangedIDs() []state.ID {
	ids := make([]state.ID, 0, len(d.Entities.Added)+len(d.Entities.Removed)+len(d.Entities.Updated))
	ids = append(ids, d.Entities.Added...)
	ids = append(ids, d.Entities.Removed...)
	for _, u := range d.Entities.Updated {
		ids = append(ids, u.ID)
	}
	slices.Sort(ids)
	return ids
}

// Compute derives the delta between two snapshots. Linear in total entity
// count; a duplicate identifier within a single snapshot aborts with
// state.ErrStructuralMismatch.
func Compute(before, after *state.Snapshot, act state.Action, clock uint64) (*Delta, error) {
	bIdx, err := before.Index()
	if err != nil {
		return nil, fmt.Errorf("before snapshot: %w", err)
	}
	aIdx, err := after.Index()
	if err != nil {
		return nil, fmt.Errorf("after snapshot: %w", err)
	}

	d := &Delta{Action: act, Clock: clock}
	d.Turn = compareTurn(before.Turn, after.Turn)

	for id, ae := range aIdx {
		be, ok := bIdx[id]
		if !ok {
			d.Entities.Added = append(d.Entities.Added, id)
			continue
		}
		bits, err := compareEntities(be, ae)
		if err != nil {
			return nil, err
		}
		if bits != 0 {
			d.Entities.Updated = append(d.Entities.Updated, EntityUpdate{ID: id, Kind: ae.Kind, Fields: bits})
		}
	}
	for id := range bIdx {
		if _, ok := aIdx[id]; !ok {
			d.Entities.Removed = append(d.Entities.Removed, id)
		}
	}

	slices.Sort(d.Entities.Added)
	slices.Sort(d.Entities.Removed)
	slices.SortFunc(d.Entities.Updated, func(a, b EntityUpdate) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	tiles, err := compareTiles(before.Tiles, after.Tiles)
	if err != nil {
		return nil, err
	}
	d.Tiles = tiles

	return d, nil
}

func compareTurn(b, a state.TurnState) state.Bits {
	var bits state.Bits
	if b.Number != a.Number {
		bits |= state.TurnFieldNumber
	}
	if b.ActiveActor != a.ActiveActor {
		bits |= state.TurnFieldActiveActor
	}
	if b.Phase != a.Phase {
		bits |= state.TurnFieldPhase
	}
	if b.ActionPoints != a.ActionPoints {
		bits |= state.TurnFieldActionPoints
	}
	return bits
}

// compareEntities compares two versions of the same identifier field by
// field. Identifiers are kind-stable in the simulation, so a kind change is
// a structural mismatch.
func compareEntities(b, a state.Entity) (state.Bits, error) {
	if b.Kind != a.Kind {
		return 0, fmt.Errorf("%w: entity %d changed kind %s -> %s", state.ErrStructuralMismatch, b.ID, b.Kind, a.Kind)
	}
	var bits state.Bits
	switch b.Kind {
	case state.KindActor:
		if b.Actor == nil || a.Actor == nil {
			return 0, fmt.Errorf("%w: actor %d has no payload", state.ErrStructuralMismatch, b.ID)
		}
		if b.Actor.Pos != a.Actor.Pos {
			bits |= state.ActorFieldPosition
		}
		if b.Actor.Stats != a.Actor.Stats {
			bits |= state.ActorFieldCoreStats
		}
		if b.Actor.Resources != a.Actor.Resources {
			bits |= state.ActorFieldResources
		}
		if b.Actor.Inventory != a.Actor.Inventory {
			bits |= state.ActorFieldInventory
		}
	case state.KindProp:
		if b.Prop == nil || a.Prop == nil {
			return 0, fmt.Errorf("%w: prop %d has no payload", state.ErrStructuralMismatch, b.ID)
		}
		if b.Prop.Pos != a.Prop.Pos {
			bits |= state.PropFieldPosition
		}
		if b.Prop.Class != a.Prop.Class || b.Prop.Flags != a.Prop.Flags || b.Prop.HP != a.Prop.HP {
			bits |= state.PropFieldState
		}
	case state.KindItem:
		if b.Item == nil || a.Item == nil {
			return 0, fmt.Errorf("%w: item %d has no payload", state.ErrStructuralMismatch, b.ID)
		}
		if b.Item.Pos != a.Item.Pos {
			bits |= state.ItemFieldPosition
		}
		if b.Item.Owner != a.Item.Owner {
			bits |= state.ItemFieldOwner
		}
		if b.Item.Charges != a.Item.Charges || b.Item.Durability != a.Item.Durability {
			bits |= state.ItemFieldCharges
		}
	default:
		return 0, fmt.Errorf("%w: entity %d has unknown kind %d", state.ErrStructuralMismatch, b.ID, uint8(b.Kind))
	}
	return bits, nil
}

func compareTiles(b, a state.TileMap) ([]TileChange, error) {
	if b.Width != a.Width || b.Height != a.Height {
		return nil, fmt.Errorf("%w: map resized %dx%d -> %dx%d", state.ErrStructuralMismatch,
			b.Width, b.Height, a.Width, a.Height)
	}

	var changes []TileChange
	for pos, id := range b.Occupancy {
		if a.At(pos) != id {
			changes = append(changes, TileChange{Pos: pos, Before: id, After: a.At(pos)})
		}
	}
	for pos, id := range a.Occupancy {
		if _, ok := b.Occupancy[pos]; !ok && id != 0 {
			changes = append(changes, TileChange{Pos: pos, Before: 0, After: id})
		}
	}

	// canonical order: ascending leaf slot
	slices.SortFunc(changes, func(x, y TileChange) int {
		sx := uint64(x.Pos.Y)*uint64(a.Width) + uint64(x.Pos.X)
		sy := uint64(y.Pos.Y)*uint64(a.Width) + uint64(y.Pos.X)
		switch {
		case sx < sy:
			return -1
		case sx > sy:
			return 1
		default:
			return 0
		}
	})

	for _, c := range changes {
		if _, err := a.Slot(c.Pos); err != nil {
			return nil, err
		}
	}

	return changes, nil
}

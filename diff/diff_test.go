// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package diff

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/0xwonj/dungeon-sub001/state"
)

func snapshotWithActor(id state.ID, pos state.Position) *state.Snapshot {
	a := &state.Actor{
		Pos:       pos,
		Stats:     state.CoreStats{HP: 30, MaxHP: 30, Attack: 7, Defense: 3, Speed: 4},
		Resources: state.Resources{Energy: 10, MaxEnergy: 10, Gold: 25},
	}
	return &state.Snapshot{
		Turn: state.TurnState{Number: 1, ActiveActor: id, Phase: state.PhaseAction, ActionPoints: 2},
		Entities: []state.Entity{
			{ID: id, Kind: state.KindActor, Actor: a},
		},
		Tiles: state.TileMap{Width: 64, Height: 64, Occupancy: map[state.Position]state.ID{pos: id}},
	}
}

// one actor at (5,5) moves to (5,6), HP unchanged: one updated entity with
// only the position bit set, plus two tile changes.
func TestComputeMove(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after := snapshotWithActor(1, state.Position{X: 5, Y: 6})

	act := state.Action{Kind: state.ActionMove, Actor: 1, To: state.Position{X: 5, Y: 6}}
	d, err := Compute(before, after, act, 7)
	require.NoError(t, err)

	want := &Delta{
		Action: act,
		Clock:  7,
		Entities: CollectionDelta{
			Updated: []EntityUpdate{{ID: 1, Kind: state.KindActor, Fields: state.ActorFieldPosition}},
		},
		Tiles: []TileChange{
			{Pos: state.Position{X: 5, Y: 5}, Before: 1, After: 0},
			{Pos: state.Position{X: 5, Y: 6}, Before: 0, After: 1},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("unexpected delta (-want +got):\n%s", diff)
	}
}

func TestComputeNoop(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after := snapshotWithActor(1, state.Position{X: 5, Y: 5})

	d, err := Compute(before, after, state.Action{Kind: state.ActionWait, Actor: 1}, 3)
	require.NoError(t, err)
	require.True(t, d.Empty())
	require.Empty(t, d.ChangedIDs())
}

func TestComputeAddRemove(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	before.Entities = append(before.Entities, state.Entity{
		ID: 9, Kind: state.KindItem, Item: &state.Item{Pos: state.Position{X: 2, Y: 2}, Class: state.ItemPotion, Charges: 1},
	})

	after := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after.Entities = append(after.Entities, state.Entity{
		ID: 4, Kind: state.KindProp, Prop: &state.Prop{Pos: state.Position{X: 3, Y: 3}, Class: state.PropChest, Flags: state.PropLocked, HP: 5},
	})

	d, err := Compute(before, after, state.Action{Kind: state.ActionInteract, Actor: 1}, 8)
	require.NoError(t, err)

	require.Equal(t, []state.ID{4}, d.Entities.Added)
	require.Equal(t, []state.ID{9}, d.Entities.Removed)
	require.Empty(t, d.Entities.Updated)
	require.Equal(t, []state.ID{4, 9}, d.ChangedIDs())
}

// insertion order of the entity slices must not leak into the delta
func TestComputeCanonicalOrder(t *testing.T) {
	mk := func(ids ...state.ID) *state.Snapshot {
		s := &state.Snapshot{Tiles: state.TileMap{Width: 8, Height: 8, Occupancy: map[state.Position]state.ID{}}}
		for _, id := range ids {
			s.Entities = append(s.Entities, state.Entity{
				ID: id, Kind: state.KindActor,
				Actor: &state.Actor{Pos: state.Position{X: uint32(id), Y: 0}},
			})
		}
		return s
	}
	// all three actors move one tile down
	mv := func(s *state.Snapshot) *state.Snapshot {
		out := mk()
		for _, e := range s.Entities {
			a := *e.Actor
			a.Pos.Y++
			out.Entities = append(out.Entities, state.Entity{ID: e.ID, Kind: e.Kind, Actor: &a})
		}
		return out
	}

	b1 := mk(3, 1, 2)
	b2 := mk(2, 3, 1)
	d1, err := Compute(b1, mv(b1), state.Action{}, 1)
	require.NoError(t, err)
	d2, err := Compute(b2, mv(b2), state.Action{}, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(d1, d2); diff != "" {
		t.Fatalf("insertion order leaked into delta (-d1 +d2):\n%s", diff)
	}
	require.Equal(t, []state.ID{1, 2, 3}, d1.ChangedIDs())
}

func TestComputeDuplicateID(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	before.Entities = append(before.Entities, before.Entities[0])
	after := snapshotWithActor(1, state.Position{X: 5, Y: 5})

	_, err := Compute(before, after, state.Action{}, 1)
	require.ErrorIs(t, err, state.ErrStructuralMismatch)
}

func TestComputeKindChange(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after := &state.Snapshot{
		Turn:     before.Turn,
		Entities: []state.Entity{{ID: 1, Kind: state.KindItem, Item: &state.Item{}}},
		Tiles:    before.Tiles,
	}

	_, err := Compute(before, after, state.Action{}, 1)
	require.ErrorIs(t, err, state.ErrStructuralMismatch)
}

func TestComputeTurnBits(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after.Turn.Number = 2
	after.Turn.ActionPoints = 0

	d, err := Compute(before, after, state.Action{Kind: state.ActionWait, Actor: 1}, 2)
	require.NoError(t, err)
	require.Equal(t, state.TurnFieldNumber|state.TurnFieldActionPoints, d.Turn)
	require.True(t, d.Entities.Empty())
}

func TestComputeMapResize(t *testing.T) {
	before := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after := snapshotWithActor(1, state.Position{X: 5, Y: 5})
	after.Tiles.Width = 32

	_, err := Compute(before, after, state.Action{}, 1)
	if !errors.Is(err, state.ErrStructuralMismatch) {
		t.Fatalf("expected ErrStructuralMismatch, got %v", err)
	}
}

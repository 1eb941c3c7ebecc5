// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package state

import (
	"bytes"
	"errors"
	"testing"
)

func TestActorCanonical(t *testing.T) {

	a := Actor{
		Pos:       Position{X: 5, Y: 5},
		Stats:     CoreStats{HP: 30, MaxHP: 30, Attack: 7, Defense: 3, Speed: 4},
		Resources: Resources{Energy: 10, MaxEnergy: 10, Gold: 25},
	}
	a.Inventory.Count = 1
	a.Inventory.Slots[0] = 42

	e := Entity{ID: 1, Kind: KindActor, Actor: &a}
	enc, err := e.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != SizeActor {
		t.Fatalf("encoded actor is %d bytes, expected %d", len(enc), SizeActor)
	}

	// encoding twice must be byte identical
	enc2, err := e.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatal("canonical encoding is not deterministic")
	}

	// a one-field change must change the encoding
	a.Pos.Y = 6
	enc3, err := e.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, enc3) {
		t.Fatal("position change did not change the encoding")
	}
}

func TestCanonicalSizes(t *testing.T) {
	p := Entity{ID: 2, Kind: KindProp, Prop: &Prop{Pos: Position{X: 1, Y: 1}, Class: PropDoor, Flags: PropLocked, HP: 10}}
	enc, err := p.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != SizeProp {
		t.Fatalf("encoded prop is %d bytes, expected %d", len(enc), SizeProp)
	}

	it := Entity{ID: 3, Kind: KindItem, Item: &Item{Class: ItemPotion, Charges: 2, Durability: 1}}
	enc, err = it.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != SizeItem {
		t.Fatalf("encoded item is %d bytes, expected %d", len(enc), SizeItem)
	}
}

func TestCanonicalPayloadMismatch(t *testing.T) {
	cases := []Entity{
		{ID: 1, Kind: KindActor},                                 // nil payload
		{ID: 2, Kind: KindProp, Actor: &Actor{}},                 // wrong payload
		{ID: 3, Kind: KindItem, Item: &Item{}, Actor: &Actor{}},  // two payloads
		{ID: 4, Kind: Kind(9), Actor: &Actor{}},                  // unknown kind
		{ID: 5, Kind: KindActor, Actor: &Actor{}, Prop: &Prop{}}, // two payloads
		{ID: 6, Kind: KindProp, Prop: &Prop{}, Item: &Item{}},    // two payloads
	}
	for _, e := range cases {
		if _, err := e.Canonical(); !errors.Is(err, ErrSerialization) {
			t.Fatalf("entity %d: expected ErrSerialization, got %v", e.ID, err)
		}
	}
}

func TestFullMask(t *testing.T) {
	if FullMask(KindActor) != ActorFieldPosition|ActorFieldCoreStats|ActorFieldResources|ActorFieldInventory {
		t.Fatal("wrong actor full mask")
	}
	if FullMask(KindProp) != PropFieldPosition|PropFieldState {
		t.Fatal("wrong prop full mask")
	}
	if FullMask(KindItem) != ItemFieldPosition|ItemFieldOwner|ItemFieldCharges {
		t.Fatal("wrong item full mask")
	}
}

func TestSnapshotIndexDuplicate(t *testing.T) {
	s := Snapshot{
		Entities: []Entity{
			{ID: 7, Kind: KindActor, Actor: &Actor{}},
			{ID: 7, Kind: KindItem, Item: &Item{}},
		},
	}
	if _, err := s.Index(); !errors.Is(err, ErrStructuralMismatch) {
		t.Fatalf("expected ErrStructuralMismatch, got %v", err)
	}
}

func TestTileMapSlot(t *testing.T) {
	m := TileMap{Width: 64, Height: 64, Occupancy: map[Position]ID{}}
	slot, err := m.Slot(Position{X: 5, Y: 6})
	if err != nil {
		t.Fatal(err)
	}
	if slot != 6*64+5 {
		t.Fatalf("wrong slot %d", slot)
	}
	if _, err := m.Slot(Position{X: 64, Y: 0}); !errors.Is(err, ErrStructuralMismatch) {
		t.Fatalf("expected ErrStructuralMismatch, got %v", err)
	}
}

// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package state defines the dungeon entity model and its canonical byte
// encoding. Entities are a closed tagged variant over {Actor, Prop, Item};
// encoding goes through a single dispatch point so the serialization logic
// stays centralized and auditable.
//
// Canonical encodings are concatenations of 32 byte big-endian chunks, one
// scalar per chunk, matching the BN254 scalar field byte size so encoded
// entities feed MiMC directly.
package state

import (
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ChunkSize byte width of one canonically encoded scalar
const ChunkSize = fr.Bytes

// ID identifies an entity within a snapshot. Identifiers double as leaf
// slots in the entity commitment tree, so they must stay below the tree
// capacity.
type ID uint64

// Kind discriminates the closed set of entity variants.
type Kind uint8

const (
	KindActor Kind = iota + 1
	KindProp
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindActor:
		return "actor"
	case KindProp:
		return "prop"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// Bits is a per-kind field bitmask marking which fields differ between two
// versions of the same identifier.
type Bits uint32

// Actor field bits.
const (
	ActorFieldPosition Bits = 1 << iota
	ActorFieldCoreStats
	ActorFieldResources
	ActorFieldInventory
)

// Prop field bits.
const (
	PropFieldPosition Bits = 1 << iota
	PropFieldState
)

// Item field bits.
const (
	ItemFieldPosition Bits = 1 << iota
	ItemFieldOwner
	ItemFieldCharges
)

// FullMask returns the all-fields mask for kind k, used for added and
// removed entities.
func FullMask(k Kind) Bits {
	switch k {
	case KindActor:
		return ActorFieldPosition | ActorFieldCoreStats | ActorFieldResources | ActorFieldInventory
	case KindProp:
		return PropFieldPosition | PropFieldState
	case KindItem:
		return ItemFieldPosition | ItemFieldOwner | ItemFieldCharges
	default:
		return 0
	}
}

// Position is a tile coordinate on the dungeon grid.
type Position struct {
	X uint32
	Y uint32
}

// CoreStats are the combat scalars of an actor.
type CoreStats struct {
	HP      uint32
	MaxHP   uint32
	Attack  uint32
	Defense uint32
	Speed   uint32
}

// Resources are the spendable scalars of an actor.
type Resources struct {
	Energy    uint32
	MaxEnergy uint32
	Gold      uint32
}

// InventorySlots fixed inventory capacity per actor
const InventorySlots = 8

// Inventory holds up to InventorySlots item identifiers. Unused trailing
// slots must be zero so that two equal inventories encode identically.
type Inventory struct {
	Count uint32
	Slots [InventorySlots]ID
}

// Actor is a creature or player character.
type Actor struct {
	Pos       Position
	Stats     CoreStats
	Resources Resources
	Inventory Inventory
}

// PropClass discriminates stationary interactive objects.
type PropClass uint8

const (
	PropDoor PropClass = iota + 1
	PropChest
	PropLever
	PropTotem
)

// PropFlags is the boolean state of a prop.
type PropFlags uint32

const (
	PropOpen PropFlags = 1 << iota
	PropLocked
	PropTriggered
)

// Prop is a stationary interactive object.
type Prop struct {
	Pos   Position
	Class PropClass
	Flags PropFlags
	HP    uint32
}

// ItemClass discriminates carriable objects.
type ItemClass uint8

const (
	ItemWeapon ItemClass = iota + 1
	ItemArmor
	ItemPotion
	ItemKey
	ItemRelic
)

// Item is a carriable object. Owner is the holding actor's identifier, or
// zero when the item lies on the ground at Pos.
type Item struct {
	Pos        Position
	Class      ItemClass
	Owner      ID
	Charges    uint32
	Durability uint32
}

// Byte sizes of the canonical encodings.
var (
	// SizeActor pos(2) + stats(5) + resources(3) + inventory(1+InventorySlots)
	SizeActor = (11 + InventorySlots) * ChunkSize
	// SizeProp pos(2) + class + flags + hp
	SizeProp = 5 * ChunkSize
	// SizeItem pos(2) + class + owner + charges + durability
	SizeItem = 6 * ChunkSize
)

// Entity is the closed tagged variant. Exactly one payload must be non-nil
// and must match Kind.
type Entity struct {
	ID   ID
	Kind Kind

	Actor *Actor
	Prop  *Prop
	Item  *Item
}

// Canonical returns the canonical byte encoding of the entity payload. It is
// the single dispatch point over the variant set; a nil or mismatched
// payload fails with ErrSerialization.
func (e Entity) Canonical() ([]byte, error) {
	switch e.Kind {
	case KindActor:
		if e.Actor == nil || e.Prop != nil || e.Item != nil {
			return nil, fmt.Errorf("%w: entity %d payload does not match kind %s", ErrSerialization, e.ID, e.Kind)
		}
		return e.Actor.canonical(), nil
	case KindProp:
		if e.Prop == nil || e.Actor != nil || e.Item != nil {
			return nil, fmt.Errorf("%w: entity %d payload does not match kind %s", ErrSerialization, e.ID, e.Kind)
		}
		return e.Prop.canonical(), nil
	case KindItem:
		if e.Item == nil || e.Actor != nil || e.Prop != nil {
			return nil, fmt.Errorf("%w: entity %d payload does not match kind %s", ErrSerialization, e.ID, e.Kind)
		}
		return e.Item.canonical(), nil
	default:
		return nil, fmt.Errorf("%w: entity %d has unknown kind %d", ErrSerialization, e.ID, uint8(e.Kind))
	}
}

// chunkWriter appends one scalar per 32 byte chunk, value in the trailing
// big-endian bytes. Every chunk is below the BN254 modulus.
type chunkWriter struct {
	buf []byte
}

func newChunkWriter(nbChunks int) *chunkWriter {
	return &chunkWriter{buf: make([]byte, 0, nbChunks*ChunkSize)}
}

func (w *chunkWriter) write(v uint64) {
	var chunk [ChunkSize]byte
	binary.BigEndian.PutUint64(chunk[ChunkSize-8:], v)
	w.buf = append(w.buf, chunk[:]...)
}

func (a *Actor) canonical() []byte {
	w := newChunkWriter(11 + InventorySlots)
	w.write(uint64(a.Pos.X))
	w.write(uint64(a.Pos.Y))
	w.write(uint64(a.Stats.HP))
	w.write(uint64(a.Stats.MaxHP))
	w.write(uint64(a.Stats.Attack))
	w.write(uint64(a.Stats.Defense))
	w.write(uint64(a.Stats.Speed))
	w.write(uint64(a.Resources.Energy))
	w.write(uint64(a.Resources.MaxEnergy))
	w.write(uint64(a.Resources.Gold))
	w.write(uint64(a.Inventory.Count))
	for _, s := range a.Inventory.Slots {
		w.write(uint64(s))
	}
	return w.buf
}

func (p *Prop) canonical() []byte {
	w := newChunkWriter(5)
	w.write(uint64(p.Pos.X))
	w.write(uint64(p.Pos.Y))
	w.write(uint64(p.Class))
	w.write(uint64(p.Flags))
	w.write(uint64(p.HP))
	return w.buf
}

func (i *Item) canonical() []byte {
	w := newChunkWriter(6)
	w.write(uint64(i.Pos.X))
	w.write(uint64(i.Pos.Y))
	w.write(uint64(i.Class))
	w.write(uint64(i.Owner))
	w.write(uint64(i.Charges))
	w.write(uint64(i.Durability))
	return w.buf
}

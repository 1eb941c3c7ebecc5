// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package commit

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/stretchr/testify/require"

	"github.com/0xwonj/dungeon-sub001/state"
)

// small depth keeps the tests fast; the production defaults only change
// capacity, not structure
const testDepth = 6

func testEntities() []state.Entity {
	var out []state.Entity
	for i := 1; i <= 10; i++ {
		out = append(out, state.Entity{
			ID:   state.ID(i),
			Kind: state.KindActor,
			Actor: &state.Actor{
				Pos:   state.Position{X: uint32(i), Y: uint32(i)},
				Stats: state.CoreStats{HP: uint32(10 + i), MaxHP: 30},
			},
		})
	}
	return out
}

func TestBuildOrderIndependence(t *testing.T) {
	b := Builder{Depth: testDepth}

	ents := testEntities()
	t1, err := b.Build(ents)
	require.NoError(t, err)

	shuffled := make([]state.Entity, len(ents))
	copy(shuffled, ents)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	t2, err := b.Build(shuffled)
	require.NoError(t, err)

	require.Equal(t, t1.Root(), t2.Root(), "root must not depend on insertion order")
}

func TestBuildReproducible(t *testing.T) {
	b := Builder{Depth: testDepth}
	t1, err := b.Build(testEntities())
	require.NoError(t, err)
	t2, err := b.Build(testEntities())
	require.NoError(t, err)
	require.Equal(t, t1.Root(), t2.Root())

	// a single field change must move the root
	ents := testEntities()
	ents[3].Actor.Stats.HP++
	t3, err := b.Build(ents)
	require.NoError(t, err)
	require.NotEqual(t, t1.Root(), t3.Root())
}

func TestBuildPlaceholderRoots(t *testing.T) {
	b := Builder{Depth: testDepth}

	empty, err := b.Build(nil)
	require.NoError(t, err)

	one, err := b.Build(testEntities()[:1])
	require.NoError(t, err)

	// placeholder slots keep roots comparable but distinct as population grows
	require.NotEqual(t, empty.Root(), one.Root())
	require.Equal(t, len(empty.Root()), len(one.Root()))
}

func TestProveVerifies(t *testing.T) {
	b := Builder{Depth: testDepth}
	tree, err := b.Build(testEntities())
	require.NoError(t, err)

	for _, index := range []uint64{1, 5, 10, 33} { // 33 is a placeholder slot
		root, proofSet, numLeaves, err := tree.Prove(index)
		require.NoError(t, err)
		require.Equal(t, tree.Root(), root)
		require.Len(t, proofSet, testDepth+1)
		require.EqualValues(t, 1<<testDepth, numLeaves)

		h := mimc.NewMiMC()
		require.True(t, merkletree.VerifyProof(h, root, proofSet, index, numLeaves))

		leaf, err := tree.Leaf(index)
		require.NoError(t, err)
		require.Equal(t, leaf, proofSet[0])
	}
}

func TestBuildCapacity(t *testing.T) {
	b := Builder{Depth: 2}
	_, err := b.Build([]state.Entity{{ID: 4, Kind: state.KindActor, Actor: &state.Actor{}}})
	require.ErrorIs(t, err, state.ErrStructuralMismatch)

	_, err = b.Build([]state.Entity{
		{ID: 1, Kind: state.KindActor, Actor: &state.Actor{}},
		{ID: 1, Kind: state.KindActor, Actor: &state.Actor{}},
	})
	require.ErrorIs(t, err, state.ErrStructuralMismatch)
}

func TestBuildSerializationFailure(t *testing.T) {
	b := Builder{Depth: testDepth}
	_, err := b.Build([]state.Entity{{ID: 1, Kind: state.KindActor}})
	require.ErrorIs(t, err, state.ErrSerialization)
}

func TestBuildTiles(t *testing.T) {
	b := Builder{Depth: testDepth}

	m := state.TileMap{Width: 8, Height: 8, Occupancy: map[state.Position]state.ID{
		{X: 5, Y: 5}: 1,
		{X: 2, Y: 3}: 9,
	}}
	t1, err := b.BuildTiles(m)
	require.NoError(t, err)

	// occupant moves one tile: root must change
	m2 := state.TileMap{Width: 8, Height: 8, Occupancy: map[state.Position]state.ID{
		{X: 5, Y: 6}: 1,
		{X: 2, Y: 3}: 9,
	}}
	t2, err := b.BuildTiles(m2)
	require.NoError(t, err)
	require.NotEqual(t, t1.Root(), t2.Root())

	// occupied slot carries the tile leaf, empty slot the placeholder
	require.True(t, t1.Occupied(5*8+5))
	require.False(t, t1.Occupied(6*8+5))

	leaf, err := t1.Leaf(6*8 + 5)
	require.NoError(t, err)
	require.True(t, bytes.Equal(leaf, make([]byte, SegmentSize)))

	// map larger than the tree capacity is rejected
	_, err = Builder{Depth: 2}.BuildTiles(m)
	require.ErrorIs(t, err, state.ErrStructuralMismatch)
}

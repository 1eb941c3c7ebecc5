// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package transition

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xwonj/dungeon-sub001/commit"
	"github.com/0xwonj/dungeon-sub001/diff"
	"github.com/0xwonj/dungeon-sub001/logger"
	"github.com/0xwonj/dungeon-sub001/state"
	"github.com/0xwonj/dungeon-sub001/witness"
)

type config struct {
	delta       *diff.Delta
	entityDepth int
	worldDepth  int
	inlineTurn  bool
}

// Option configures a conversion.
type Option func(*config) error

// WithDelta supplies a precomputed delta instead of deriving one from the
// snapshots. A supplied delta must be interchangeable with a freshly
// derived one; both paths produce equal bundles for equal inputs.
func WithDelta(d *diff.Delta) Option {
	return func(cfg *config) error {
		if d == nil {
			return errors.New("nil delta")
		}
		cfg.delta = d
		return nil
	}
}

// WithEntityDepth overrides the entity tree depth.
func WithEntityDepth(depth int) Option {
	return func(cfg *config) error {
		if depth < 1 || depth > 30 {
			return fmt.Errorf("entity tree depth %d out of range", depth)
		}
		cfg.entityDepth = depth
		return nil
	}
}

// WithWorldDepth overrides the world tree depth.
func WithWorldDepth(depth int) Option {
	return func(cfg *config) error {
		if depth < 1 || depth > 30 {
			return fmt.Errorf("world tree depth %d out of range", depth)
		}
		cfg.worldDepth = depth
		return nil
	}
}

// WithInlineTurnState controls whether the raw turn-state scalars ride in
// the bundle when the turn section changed. The turn hash contributes to
// the top-level roots either way.
func WithInlineTurnState(inline bool) Option {
	return func(cfg *config) error {
		cfg.inlineTurn = inline
		return nil
	}
}

func defaultConfig() config {
	return config{
		entityDepth: commit.DefaultEntityDepth,
		worldDepth:  commit.DefaultWorldDepth,
		inlineTurn:  true,
	}
}

// Convert turns one executed action, its logical clock and its before/after
// snapshots into a transition bundle. The computation is pure and owns its
// ephemeral trees, so a cancelled or failed conversion can simply be
// retried with the same inputs.
func Convert(act state.Action, clock uint64, before, after *state.Snapshot, opts ...Option) (*Bundle, error) {
	log := logger.Logger()
	start := time.Now()

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	d := cfg.delta
	if d == nil {
		var err error
		d, err = diff.Compute(before, after, act, clock)
		if err != nil {
			return nil, err
		}
	}

	eb := commit.Builder{Depth: cfg.entityDepth}
	wb := commit.Builder{Depth: cfg.worldDepth}

	// the four trees are independent; build them concurrently, each with
	// its own hasher
	var bEnts, aEnts, bWorld, aWorld *commit.Tree
	var g errgroup.Group
	g.Go(func() (err error) { bEnts, err = eb.Build(before.Entities); return })
	g.Go(func() (err error) { aEnts, err = eb.Build(after.Entities); return })
	g.Go(func() (err error) { bWorld, err = wb.BuildTiles(before.Tiles); return })
	g.Go(func() (err error) { aWorld, err = wb.BuildTiles(after.Tiles); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ents, tiles, err := witness.Extract(d, bEnts, aEnts, bWorld, aWorld, before, after)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Action:      act,
		Clock:       clock,
		Before:      StateRoots{TurnHash: TurnHash(before.Turn), Entities: bEnts.Root(), World: bWorld.Root()},
		After:       StateRoots{TurnHash: TurnHash(after.Turn), Entities: aEnts.Root(), World: aWorld.Root()},
		TurnChanged: d.Turn,
		Entities:    ents,
		Tiles:       tiles,
	}
	bundle.BeforeRoot = bundle.Before.Combine()
	bundle.AfterRoot = bundle.After.Combine()

	if cfg.inlineTurn && d.Turn != 0 {
		bundle.Turn = &TurnValues{Before: before.Turn, After: after.Turn}
	}

	log.Debug().
		Uint64("clock", clock).
		Str("action", act.Kind.String()).
		Int("entityWitnesses", len(ents)).
		Int("tileWitnesses", len(tiles)).
		Dur("took", time.Since(start)).
		Msg("transition converted")

	return bundle, nil
}

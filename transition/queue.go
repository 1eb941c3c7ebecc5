// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package transition

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/0xwonj/dungeon-sub001/diff"
	"github.com/0xwonj/dungeon-sub001/logger"
	"github.com/0xwonj/dungeon-sub001/state"
)

// ErrClockOrder reported when a job's clock does not advance past the
// previous converted job. Conversions must follow the simulation's action
// ordering so each bundle's before-root chains to the prior after-root.
var ErrClockOrder = errors.New("job clock does not advance")

// Job is one executed action awaiting conversion. Snapshots are immutable
// captures; the simulation must never hand the queue a live view.
type Job struct {
	Action state.Action
	Clock  uint64
	Before *state.Snapshot
	After  *state.Snapshot

	// Delta optionally carries the precomputed delta the simulation
	// derived while executing the action.
	Delta *diff.Delta
}

// Queue sequences conversions off the simulation's execution path (fixed
// size queue). The simulation submits jobs in action order; a single worker
// converts them one at a time and emits bundles in the same order.
type Queue struct {
	jobs    chan Job
	bundles chan *Bundle
	opts    []Option
}

// NewQueue creates a new queue, capacity is the number of jobs it buffers.
// The options are applied to every conversion.
func NewQueue(capacity int, opts ...Option) *Queue {
	return &Queue{
		jobs:    make(chan Job, capacity),
		bundles: make(chan *Bundle, capacity),
		opts:    opts,
	}
}

// Submit enqueues a job, blocking while the queue is full.
func (q *Queue) Submit(ctx context.Context, j Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- j:
		return nil
	}
}

// Close signals that no further jobs will be submitted. Run drains the
// remaining jobs and then closes the bundle channel.
func (q *Queue) Close() {
	close(q.jobs)
}

// Bundles returns the channel of converted bundles, emitted in job order.
func (q *Queue) Bundles() <-chan *Bundle {
	return q.bundles
}

// Run consumes jobs strictly in submission order until the queue is closed
// or the context is cancelled. A job whose clock does not advance past the
// previous one aborts the run; skipped clocks are passed through, the
// resulting nonce gap is the downstream consumer's signal. Conversions are
// pure, so the job in flight during a cancellation can be resubmitted
// as-is.
func (q *Queue) Run(ctx context.Context) error {
	log := logger.Logger()

	var last uint64
	var seen bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q.jobs:
			if !ok {
				close(q.bundles)
				return nil
			}
			if seen && j.Clock <= last {
				return fmt.Errorf("%w: clock %d after %d", ErrClockOrder, j.Clock, last)
			}

			opts := q.opts
			if j.Delta != nil {
				opts = append(slices.Clone(q.opts), WithDelta(j.Delta))
			}
			b, err := Convert(j.Action, j.Clock, j.Before, j.After, opts...)
			if err != nil {
				log.Error().Err(err).Uint64("clock", j.Clock).Msg("conversion failed")
				return err
			}
			last, seen = j.Clock, true

			select {
			case <-ctx.Done():
				return ctx.Err()
			case q.bundles <- b:
			}
		}
	}
}

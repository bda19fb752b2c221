// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package streaming provides a discretized-stream layer over RDDs. A
// DStream is a client-side recipe producing one RDD per batch
// interval; transformations on a DStream apply per batch, so the RDD
// pipelining contract carries over unchanged. There is no clock here:
// callers (or a driver loop) ask for the RDD of a given batch index.
package streaming

import (
	"context"
	"time"

	"github.com/arleyschrock/Mobius"
	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/arleyschrock/Mobius/worker"
)

// Per-batch worker functions for the counting streams.
var (
	zeroKeyRef = worker.Register(func(v any) any { return 0 })
	oneRef     = worker.Register(func(v any) any { return int64(1) })
	sumRef     = worker.Register(func(a, b any) any { return a.(int64) + b.(int64) })
)

// A StreamingContext scopes DStreams to a driver session and a batch
// interval. All window and slide durations of its streams are
// validated against the batch interval.
type StreamingContext struct {
	sc            *mobius.Context
	batchInterval time.Duration
}

// New returns a streaming context over sc with the given batch
// interval. It panics with a usage error if the interval is not
// positive.
func New(sc *mobius.Context, batchInterval time.Duration) *StreamingContext {
	if batchInterval <= 0 {
		typecheck.Panicf(1, "streaming: batch interval must be positive; got %s", batchInterval)
	}
	return &StreamingContext{sc: sc, batchInterval: batchInterval}
}

// Context returns the underlying driver session.
func (ssc *StreamingContext) Context() *mobius.Context { return ssc.sc }

// BatchInterval returns the context's batch interval.
func (ssc *StreamingContext) BatchInterval() time.Duration { return ssc.batchInterval }

// batches converts a duration into a whole number of batch intervals,
// panicking with a usage error when it is not a positive exact
// multiple. Validation happens here, before any stream node exists.
func (ssc *StreamingContext) batches(calldepth int, what string, d time.Duration) int {
	if d <= 0 || d%ssc.batchInterval != 0 {
		typecheck.Panicf(calldepth+1, "streaming: %s %s is not a positive multiple of the batch interval %s", what, d, ssc.batchInterval)
	}
	return int(d / ssc.batchInterval)
}

// A DStream is a stream of RDDs, one per batch. Streams are lazy:
// nothing is computed until an RDD for a concrete batch is requested
// and an action is run on it.
type DStream struct {
	ssc *StreamingContext
	// generate builds the stream's RDD for batch index i. A nil RDD
	// means the stream has no data for that batch.
	generate func(i int) (*mobius.RDD, error)
}

// QueueStream returns a stream fed by a fixed sequence of RDDs, one
// per batch. When cycle is true the queue wraps around; otherwise
// batches past the queue's end are empty. The queued RDDs are cached
// so they can be recomputed across overlapping windows.
func (ssc *StreamingContext) QueueStream(queue []*mobius.RDD, cycle bool) *DStream {
	if len(queue) == 0 {
		typecheck.Panicf(1, "streaming: queue stream requires at least one RDD")
	}
	for _, r := range queue {
		r.Cache()
	}
	return &DStream{ssc: ssc, generate: func(i int) (*mobius.RDD, error) {
		if cycle {
			return queue[i%len(queue)], nil
		}
		if i >= len(queue) {
			return nil, nil
		}
		return queue[i], nil
	}}
}

// Compute returns the stream's RDD for batch index i, or nil when the
// stream has no data for that batch.
func (d *DStream) Compute(i int) (*mobius.RDD, error) {
	if i < 0 {
		typecheck.Panicf(1, "streaming: negative batch index %d", i)
	}
	return d.generate(i)
}

// Transform derives a stream by applying an arbitrary per-batch RDD
// transformation. The function runs on the driver for each batch.
func (d *DStream) Transform(fn func(*mobius.RDD) *mobius.RDD) *DStream {
	return &DStream{ssc: d.ssc, generate: func(i int) (*mobius.RDD, error) {
		r, err := d.generate(i)
		if r == nil || err != nil {
			return nil, err
		}
		return fn(r), nil
	}}
}

// TransformWith derives a stream by combining the per-batch RDDs of
// two streams. Batches where either side is empty are empty.
func (d *DStream) TransformWith(other *DStream, fn func(a, b *mobius.RDD) *mobius.RDD) *DStream {
	return &DStream{ssc: d.ssc, generate: func(i int) (*mobius.RDD, error) {
		a, err := d.generate(i)
		if a == nil || err != nil {
			return nil, err
		}
		b, err := other.generate(i)
		if b == nil || err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}}
}

// Map transforms every element of every batch with a registered
// function of type func(any) any.
func (d *DStream) Map(fn worker.Ref) *DStream {
	return d.Transform(func(r *mobius.RDD) *mobius.RDD { return r.Map(fn) })
}

// Filter keeps, in every batch, the elements for which the registered
// predicate returns true.
func (d *DStream) Filter(fn worker.Ref) *DStream {
	return d.Transform(func(r *mobius.RDD) *mobius.RDD { return r.Filter(fn) })
}

// FlatMap expands every element of every batch with a registered
// function of type func(any) []any.
func (d *DStream) FlatMap(fn worker.Ref) *DStream {
	return d.Transform(func(r *mobius.RDD) *mobius.RDD { return r.FlatMap(fn) })
}

// ReduceByKey reduces each batch by key.
func (d *DStream) ReduceByKey(fn worker.Ref, numPartitions int) *DStream {
	return d.Transform(func(r *mobius.RDD) *mobius.RDD { return r.ReduceByKey(fn, numPartitions) })
}

// Window returns a stream whose batch i is the union of this stream's
// batches in the window of the given length ending at batch i,
// advancing by slide. Both durations must be positive exact multiples
// of the batch interval; violations panic before the node is built.
func (d *DStream) Window(window, slide time.Duration) *DStream {
	wn := d.ssc.batches(1, "window duration", window)
	sn := d.ssc.batches(1, "slide duration", slide)
	return &DStream{ssc: d.ssc, generate: func(i int) (*mobius.RDD, error) {
		end := i*sn + sn - 1
		var u *mobius.RDD
		for k := end - wn + 1; k <= end; k++ {
			if k < 0 {
				continue
			}
			r, err := d.generate(k)
			if err != nil {
				return nil, err
			}
			if r == nil {
				continue
			}
			if u == nil {
				u = r
			} else {
				u = u.Union(r)
			}
		}
		return u, nil
	}}
}

// ReduceByKeyAndWindow reduces each key's values over a sliding
// window: the window's batches are unioned, then reduced by key.
func (d *DStream) ReduceByKeyAndWindow(fn worker.Ref, window, slide time.Duration, numPartitions int) *DStream {
	w := d.Window(window, slide)
	return w.Transform(func(r *mobius.RDD) *mobius.RDD { return r.ReduceByKey(fn, numPartitions) })
}

// CountByWindow returns a stream whose batches hold a single int64
// element counting the elements of each sliding window. An empty
// window yields an empty batch.
func (d *DStream) CountByWindow(window, slide time.Duration) *DStream {
	w := d.Window(window, slide)
	return w.Transform(func(r *mobius.RDD) *mobius.RDD {
		return r.KeyBy(zeroKeyRef).MapValues(oneRef).ReduceByKey(sumRef, 1).Values()
	})
}

// Collect computes batch i of the stream and returns its elements.
// Empty batches return no elements.
func (d *DStream) Collect(ctx context.Context, i int) ([]any, error) {
	r, err := d.Compute(i)
	if r == nil || err != nil {
		return nil, err
	}
	return r.Collect(ctx)
}

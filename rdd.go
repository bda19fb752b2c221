// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/arleyschrock/Mobius/engine"
	"github.com/arleyschrock/Mobius/rddio"
	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/arleyschrock/Mobius/worker"
	"github.com/grailbio/base/errors"
)

var (
	typeOfMapFunc     = reflect.TypeOf((func(any) any)(nil))
	typeOfPredFunc    = reflect.TypeOf((func(any) bool)(nil))
	typeOfFlatMapFunc = reflect.TypeOf((func(any) []any)(nil))
	typeOfReduceFunc  = reflect.TypeOf((func(any, any) any)(nil))
	typeOfPartIdxFunc = reflect.TypeOf((func(int, []any) []any)(nil))
	typeOfPartFunc    = reflect.TypeOf((func([]any) []any)(nil))
	typeOfEachFunc    = reflect.TypeOf((func(any))(nil))
)

// An RDD is one node in a client-side lineage DAG over a partitioned
// dataset owned by the host engine. An RDD holds an opaque handle to
// the prior computed or pending stage, an optional uncommitted worker
// function fusible with further narrow transformations, and the
// serialization modes threaded through the pipeline. RDDs are lazy:
// transformations only extend the graph; terminal actions serialize
// the accumulated pipeline and perform a single blocking round trip to
// the engine.
//
// Transformations return new nodes; nodes are never mutated, except
// that fusing a pipelinable node into its consumer transfers ownership
// of the node's pending pipeline: the consumed node is no longer
// independently actionable. Cache the node first to branch a lineage.
type RDD struct {
	sc     *Context
	handle engine.Handle
	fn     worker.Func

	// prevMode is the wire encoding of the pipeline's root stage; mode
	// is the encoding this node's elements carry.
	prevMode, mode engine.Mode

	part          *Partitioner
	numPartitions int

	cached       bool
	checkpointed bool
	consumed     bool
}

// Context returns the driver context this RDD belongs to.
func (r *RDD) Context() *Context { return r.sc }

// NumPartitions returns the RDD's partition count.
func (r *RDD) NumPartitions() int { return r.numPartitions }

// Partitioner returns the RDD's partitioner, or nil when no exact
// partitioning is known.
func (r *RDD) Partitioner() *Partitioner { return r.part }

// pipelinable tells whether this node may be fused with its consumer.
// Caching or checkpointing forces materialization and breaks fusion.
func (r *RDD) pipelinable() bool { return !r.cached && !r.checkpointed }

func (r *RDD) mustUsable(calldepth int) {
	if r.consumed {
		typecheck.Panicf(calldepth, "rdd: node was already consumed by a fused stage; Cache it first to branch the lineage")
	}
}

// pipeline returns the engine request envelope for this node: its root
// handle, the serialized pending worker function (empty for the
// identity pipeline), and the mode tags.
func (r *RDD) pipeline() (engine.Pipeline, error) {
	var (
		fn  []byte
		err error
	)
	if !r.fn.IsNil() {
		fn, err = worker.Marshal(r.fn)
		if err != nil {
			return engine.Pipeline{}, err
		}
	}
	return engine.Pipeline{
		Handle:   r.handle,
		Func:     fn,
		PrevMode: r.prevMode,
		Mode:     r.mode,
		Trace:    r.fn.Trace,
	}, nil
}

// transform implements the construction rule shared by every narrow
// transformation. If the node is pipelinable, the new op is chained
// onto the node's pending worker function and the prior-stage handle
// is reused: no new remote stage exists yet, and the node is consumed.
// Otherwise the new node roots a fresh pipeline at this node's own
// handle. A transformation that does not preserve partitioning clears
// the inherited partitioner.
func (r *RDD) transform(op worker.Op, preservesPartitioning bool, mode engine.Mode) *RDD {
	r.mustUsable(3)
	f := worker.New(op)
	var part *Partitioner
	if preservesPartitioning {
		part = r.part
	}
	if r.pipelinable() {
		r.consumed = true
		return &RDD{
			sc:            r.sc,
			handle:        r.handle,
			fn:            worker.Chain(r.fn, f),
			prevMode:      r.prevMode,
			mode:          mode,
			part:          part,
			numPartitions: r.numPartitions,
		}
	}
	// Cache/Checkpoint committed the node's pipeline, so its handle
	// names a materialized stage and the fresh pipeline reads from it.
	return &RDD{
		sc:            r.sc,
		handle:        r.handle,
		fn:            f,
		prevMode:      r.mode,
		mode:          mode,
		part:          part,
		numPartitions: r.numPartitions,
	}
}

// Map transforms each element with a registered function of type
// func(any) any.
func (r *RDD) Map(fn worker.Ref) *RDD {
	checkRef(1, "map", fn, typeOfMapFunc)
	return r.transform(mapOp{fn}, false, r.mode)
}

// Filter keeps the elements for which the registered predicate of type
// func(any) bool returns true. Filtering preserves partitioning.
func (r *RDD) Filter(fn worker.Ref) *RDD {
	checkRef(1, "filter", fn, typeOfPredFunc)
	return r.transform(filterOp{fn}, true, r.mode)
}

// FlatMap transforms each element into zero or more elements with a
// registered function of type func(any) []any.
func (r *RDD) FlatMap(fn worker.Ref) *RDD {
	checkRef(1, "flatmap", fn, typeOfFlatMapFunc)
	return r.transform(flatMapOp{fn}, false, r.mode)
}

// MapPartitions applies a registered function of type
// func([]any) []any to each whole partition.
func (r *RDD) MapPartitions(fn worker.Ref, preservesPartitioning bool) *RDD {
	checkRef(1, "mappartitions", fn, typeOfPartFunc)
	return r.transform(mapPartitionsOp{Fn: fn}, preservesPartitioning, r.mode)
}

// MapPartitionsWithIndex is the primitive every narrow transformation
// reduces to: it applies a registered function of type
// func(int, []any) []any to each partition together with the
// partition's index. When preservesPartitioning is false, the result
// loses the inherited partitioner.
func (r *RDD) MapPartitionsWithIndex(fn worker.Ref, preservesPartitioning bool) *RDD {
	checkRef(1, "mappartitionswithindex", fn, typeOfPartIdxFunc)
	return r.transform(mapPartitionsOp{Fn: fn, WithIndex: true}, preservesPartitioning, r.mode)
}

// Glom coalesces each partition into a single slice element.
func (r *RDD) Glom() *RDD {
	return r.transform(glomOp{}, false, r.mode)
}

// Cache marks the RDD for materialization: its pending pipeline is
// committed to the engine as a named stage, and the node stops being
// fusible with consumers. Cache returns the node itself.
func (r *RDD) Cache() *RDD {
	r.mustUsable(2)
	if !r.cached {
		r.commit()
		r.cached = true
	}
	return r
}

// Checkpoint marks the RDD as checkpointed. Like Cache, it commits the
// pending pipeline and breaks fusion.
func (r *RDD) Checkpoint() *RDD {
	r.mustUsable(2)
	if !r.checkpointed {
		r.commit()
		r.checkpointed = true
	}
	return r
}

// commit registers the node's pending pipeline with the engine as a
// named stage and rebases the node onto the resulting handle. This is
// graph registration only: no computation happens until an action.
func (r *RDD) commit() {
	if r.fn.IsNil() {
		return
	}
	p, err := r.pipeline()
	if err == nil {
		r.handle, err = r.sc.eng.Materialize(context.Background(), p)
	}
	if err != nil {
		panic(errors.E(err, "mobius: cannot materialize stage"))
	}
	r.fn = worker.Func{}
	r.prevMode = r.mode
}

// Union returns the concatenation of two RDDs. When both sides are
// pipelinable and carry the same pending worker function, their root
// lineages are concatenated and the shared function remains pending,
// so no extra remote stage is created; otherwise each side's pipeline
// is committed and a plain union stage is made. Union consumes any
// side with a pending pipeline and clears the partitioner.
func (r *RDD) Union(other *RDD) *RDD {
	r.mustUsable(2)
	other.mustUsable(2)
	if r.mode != other.mode {
		typecheck.Panicf(1, "union: mismatched serialization modes %s and %s", r.mode, other.mode)
	}
	var (
		h   engine.Handle
		fn  worker.Func
		pm  engine.Mode
		err error
	)
	if r.pipelinable() && other.pipelinable() && r.prevMode == other.prevMode && sameFunc(r.fn, other.fn) {
		h, err = r.sc.eng.Union(context.Background(), []engine.Pipeline{
			{Handle: r.handle, PrevMode: r.prevMode, Mode: r.prevMode},
			{Handle: other.handle, PrevMode: other.prevMode, Mode: other.prevMode},
		})
		fn, pm = r.fn, r.prevMode
	} else {
		var p1, p2 engine.Pipeline
		p1, err = r.pipeline()
		if err == nil {
			p2, err = other.pipeline()
		}
		if err == nil {
			h, err = r.sc.eng.Union(context.Background(), []engine.Pipeline{p1, p2})
		}
		pm = r.mode
	}
	if err != nil {
		panic(errors.E(err, "mobius: cannot union stages"))
	}
	// Cached and checkpointed inputs stay reusable; only pending
	// pipelines move into the union.
	if r.pipelinable() {
		r.consumed = true
	}
	if other.pipelinable() {
		other.consumed = true
	}
	return &RDD{
		sc:            r.sc,
		handle:        h,
		fn:            fn,
		prevMode:      pm,
		mode:          r.mode,
		numPartitions: r.numPartitions + other.numPartitions,
	}
}

// PartitionBy redistributes a pair RDD according to the provided
// partitioner. If the RDD is already partitioned by an equal
// partitioner, PartitionBy is a no-op and returns the receiver: no
// shuffle is issued. Otherwise each element is tagged with its
// destination partition and handed to the engine's repartitioning
// primitive.
func (r *RDD) PartitionBy(p *Partitioner) *RDD {
	r.mustUsable(2)
	if r.part != nil && r.part.Equal(p) {
		return r
	}
	child := r.transform(pairwiseOp{NumPartitions: p.numPartitions, KeyFunc: p.keyFunc}, false, engine.ModePair)
	pipe, err := child.pipeline()
	var h engine.Handle
	if err == nil {
		h, err = r.sc.eng.CreatePairwiseRDD(context.Background(), pipe, p.numPartitions, p.keyFunc.Index)
	}
	if err != nil {
		panic(errors.E(err, "mobius: cannot create pairwise RDD"))
	}
	child.consumed = true
	return &RDD{
		sc:            r.sc,
		handle:        h,
		prevMode:      engine.ModePair,
		mode:          engine.ModePair,
		part:          p,
		numPartitions: p.numPartitions,
	}
}

// Repartition redistributes the RDD's elements round-robin across
// numPartitions partitions. Unlike PartitionBy, the redistribution is
// not key-based, so the result carries no partitioner.
func (r *RDD) Repartition(numPartitions int) *RDD {
	r.mustUsable(2)
	if numPartitions < 1 {
		typecheck.Panicf(1, "repartition: must have at least one partition; got %d", numPartitions)
	}
	child := r.transform(repartitionOp{NumPartitions: numPartitions}, false, r.mode)
	pipe, err := child.pipeline()
	var h engine.Handle
	if err == nil {
		h, err = r.sc.eng.CreatePairwiseRDD(context.Background(), pipe, numPartitions, 0)
	}
	if err != nil {
		panic(errors.E(err, "mobius: cannot repartition"))
	}
	child.consumed = true
	return &RDD{
		sc:            r.sc,
		handle:        h,
		prevMode:      r.mode,
		mode:          r.mode,
		numPartitions: numPartitions,
	}
}

// Collect computes the RDD and returns all of its elements, in
// partition order. Collect blocks for exactly one engine round trip.
func (r *RDD) Collect(ctx context.Context) ([]any, error) {
	r.mustUsable(2)
	p, err := r.pipeline()
	if err != nil {
		return nil, err
	}
	parts, err := r.sc.eng.RunJob(ctx, p, nil)
	if err != nil {
		return nil, err
	}
	return decodeConcat(ctx, parts)
}

// Count returns the number of elements in the RDD.
func (r *RDD) Count(ctx context.Context) (int64, error) {
	r.mustUsable(2)
	elems, err := r.runWith(ctx, countOp{}, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range elems {
		n += e.(int64)
	}
	return n, nil
}

// Reduce folds the RDD's elements pairwise with a registered function
// of type func(any, any) any, which must be commutative and
// associative. Reducing an empty RDD is an error.
func (r *RDD) Reduce(ctx context.Context, fn worker.Ref) (any, error) {
	checkRef(1, "reduce", fn, typeOfReduceFunc)
	r.mustUsable(2)
	elems, err := r.runWith(ctx, reduceOp{fn}, nil)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, errors.E(errors.Invalid, "mobius: reduce of empty RDD")
	}
	f := fn.Fn().(func(any, any) any)
	acc := elems[0]
	for _, e := range elems[1:] {
		acc = f(acc, e)
	}
	return acc, nil
}

// Take returns up to n elements of the RDD, in partition order.
func (r *RDD) Take(ctx context.Context, n int) ([]any, error) {
	r.mustUsable(2)
	elems, err := r.runWith(ctx, takeOp{N: n}, nil)
	if err != nil {
		return nil, err
	}
	if len(elems) > n {
		elems = elems[:n]
	}
	return elems, nil
}

// First returns the first element of the RDD, failing if it is empty.
func (r *RDD) First(ctx context.Context) (any, error) {
	elems, err := r.Take(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, errors.E(errors.NotExist, "mobius: first on empty RDD")
	}
	return elems[0], nil
}

// Foreach applies a registered function of type func(any) to every
// element for its side effects. The function runs where the engine
// runs the job.
func (r *RDD) Foreach(ctx context.Context, fn worker.Ref) error {
	checkRef(1, "foreach", fn, typeOfEachFunc)
	r.mustUsable(2)
	_, err := r.runWith(ctx, foreachOp{fn}, nil)
	return err
}

// SaveAsTextFile computes the RDD and writes its elements as text, one
// file per partition, under path.
func (r *RDD) SaveAsTextFile(ctx context.Context, path string) error {
	r.mustUsable(2)
	p, err := r.pipeline()
	if err != nil {
		return err
	}
	return r.sc.eng.Save(ctx, p, path)
}

// runWith submits the node's pipeline with one extra op chained onto
// it, without consuming the node, and returns the decoded elements of
// the selected partitions (all, when partitions is nil).
func (r *RDD) runWith(ctx context.Context, op worker.Op, partitions []int) ([]any, error) {
	f := worker.Chain(r.fn, worker.New(op))
	fn, err := worker.Marshal(f)
	if err != nil {
		return nil, err
	}
	parts, err := r.sc.eng.RunJob(ctx, engine.Pipeline{
		Handle:   r.handle,
		Func:     fn,
		PrevMode: r.prevMode,
		Mode:     r.mode,
		Trace:    f.Trace,
	}, partitions)
	if err != nil {
		return nil, err
	}
	return decodeConcat(ctx, parts)
}

// decodeConcat decodes per-partition results and concatenates their
// element streams in partition order.
func decodeConcat(ctx context.Context, parts [][]byte) ([]any, error) {
	readers := make([]rddio.Reader, len(parts))
	for i, p := range parts {
		elems, err := engine.DecodePartition(p)
		if err != nil {
			return nil, err
		}
		readers[i] = rddio.SliceReader(elems)
	}
	return rddio.ReadAll(ctx, rddio.MultiReader(readers...))
}

// sameFunc compares two worker functions by their serialized ops,
// ignoring provenance traces.
func sameFunc(a, b worker.Func) bool {
	if a.IsNil() || b.IsNil() {
		return a.IsNil() && b.IsNil()
	}
	ab, err := worker.Marshal(worker.Func{Op: a.Op})
	if err != nil {
		return false
	}
	bb, err := worker.Marshal(worker.Func{Op: b.Op})
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func checkRef(calldepth int, op string, fn worker.Ref, want reflect.Type) {
	if fn.IsNil() {
		typecheck.Panicf(calldepth+1, "%s: missing function", op)
	}
	if fn.Type() != want {
		typecheck.Panicf(calldepth+1, "%s: function has type %s, not %s", op, fn.Type(), want)
	}
}

// String returns a short description of the node.
func (r *RDD) String() string {
	state := "materialized"
	if !r.fn.IsNil() {
		state = "pipelined"
	}
	return fmt.Sprintf("rdd<%s>(%d partitions, mode %s)", state, r.numPartitions, r.mode)
}

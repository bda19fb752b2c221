// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"

	"github.com/arleyschrock/Mobius/engine"
	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/arleyschrock/Mobius/worker"
)

// maxCogroupArity bounds the number of RDDs a single cogroup may
// combine. The grouped value layout tags each element with its side
// index, and four sides cover the join family.
const maxCogroupArity = 4

// Built-in worker functions used by the derived by-key
// transformations. They are registered at package initialization so
// client and worker processes resolve them to the same indices.
var (
	identityRef = worker.Register(func(v any) any { return v })
	wrapListRef = worker.Register(func(v any) any { return []any{v} })
	appendRef   = worker.Register(func(acc, v any) any { return append(acc.([]any), v) })
	concatRef   = worker.Register(func(a, b any) any { return append(a.([]any), b.([]any)...) })
	firstRef    = worker.Register(func(a, b any) any { return a })
)

func (r *RDD) mustPair(calldepth int, op string) {
	if r.mode != engine.ModePair {
		typecheck.Panicf(calldepth+1, "%s: requires a pair RDD; have mode %s", op, r.mode)
	}
}

// CombineByKey is the generic by-key aggregation every other by-key
// transformation derives from. Values are folded into per-key
// accumulators in three phases: each input partition is combined
// locally with create (first value seen for a key) and merge, the
// partial accumulators are repartitioned by key hash, and co-located
// partials are merged with mergeCombiners. When the RDD is already
// partitioned by an equal partitioner, the repartitioning phase is
// skipped entirely.
func (r *RDD) CombineByKey(create, merge, mergeCombiners worker.Ref, numPartitions int) *RDD {
	checkRef(1, "combinebykey", create, typeOfMapFunc)
	checkRef(1, "combinebykey", merge, typeOfReduceFunc)
	checkRef(1, "combinebykey", mergeCombiners, typeOfReduceFunc)
	r.mustPair(1, "combinebykey")
	return r.combineByKey(combineOp{Create: create, Merge: merge}, mergeCombiners, numPartitions)
}

// ReduceByKey merges the values of each key with a commutative,
// associative function of type func(any, any) any.
func (r *RDD) ReduceByKey(fn worker.Ref, numPartitions int) *RDD {
	checkRef(1, "reducebykey", fn, typeOfReduceFunc)
	r.mustPair(1, "reducebykey")
	return r.combineByKey(combineOp{Create: identityRef, Merge: fn}, fn, numPartitions)
}

// GroupByKey groups the values of each key into a single []any value.
func (r *RDD) GroupByKey(numPartitions int) *RDD {
	r.mustPair(1, "groupbykey")
	return r.combineByKey(combineOp{Create: wrapListRef, Merge: appendRef}, concatRef, numPartitions)
}

// AggregateByKey folds the values of each key into an accumulator
// starting from zero. seqOp folds a value into an accumulator; combOp
// merges accumulators across partitions. The zero value must survive a
// gob round trip.
func (r *RDD) AggregateByKey(zero any, seqOp, combOp worker.Ref, numPartitions int) *RDD {
	checkRef(1, "aggregatebykey", seqOp, typeOfReduceFunc)
	checkRef(1, "aggregatebykey", combOp, typeOfReduceFunc)
	r.mustPair(1, "aggregatebykey")
	return r.combineByKey(combineOp{Merge: seqOp, Zero: zero, HasZero: true}, combOp, numPartitions)
}

// FoldByKey is AggregateByKey with a single function for both the
// in-partition fold and the cross-partition merge.
func (r *RDD) FoldByKey(zero any, fn worker.Ref, numPartitions int) *RDD {
	checkRef(1, "foldbykey", fn, typeOfReduceFunc)
	r.mustPair(1, "foldbykey")
	return r.combineByKey(combineOp{Merge: fn, Zero: zero, HasZero: true}, fn, numPartitions)
}

func (r *RDD) combineByKey(local combineOp, mergeCombiners worker.Ref, numPartitions int) *RDD {
	if numPartitions < 1 {
		numPartitions = r.sc.parallelism
	}
	combined := r.transform(local, true, engine.ModePair)
	shuffled := combined.PartitionBy(NewHashPartitioner(numPartitions))
	return shuffled.transform(mergeCombinersOp{Merge: mergeCombiners}, true, engine.ModePair)
}

// MapValues transforms each value with a registered function of type
// func(any) any, leaving keys and partitioning intact.
func (r *RDD) MapValues(fn worker.Ref) *RDD {
	checkRef(1, "mapvalues", fn, typeOfMapFunc)
	r.mustPair(1, "mapvalues")
	return r.transform(mapValuesOp{fn}, true, engine.ModePair)
}

// FlatMapValues expands each value into zero or more values with a
// registered function of type func(any) []any, pairing each result
// with the original key. Partitioning is preserved.
func (r *RDD) FlatMapValues(fn worker.Ref) *RDD {
	checkRef(1, "flatmapvalues", fn, typeOfFlatMapFunc)
	r.mustPair(1, "flatmapvalues")
	return r.transform(flatMapValuesOp{fn}, true, engine.ModePair)
}

// Keys projects a pair RDD to its keys.
func (r *RDD) Keys() *RDD {
	r.mustPair(1, "keys")
	return r.transform(keysOp{}, false, engine.ModeBytes)
}

// Values projects a pair RDD to its values.
func (r *RDD) Values() *RDD {
	r.mustPair(1, "values")
	return r.transform(valuesOp{}, false, engine.ModeBytes)
}

// KeyBy turns each element v into KeyValue{fn(v), v}.
func (r *RDD) KeyBy(fn worker.Ref) *RDD {
	checkRef(1, "keyby", fn, typeOfMapFunc)
	return r.transform(keyByOp{fn}, false, engine.ModePair)
}

// Distinct removes duplicate elements, as compared by their serialized
// form.
func (r *RDD) Distinct(numPartitions int) *RDD {
	keyed := r.transform(keyByOp{identityRef}, false, engine.ModePair)
	deduped := keyed.combineByKey(combineOp{Create: identityRef, Merge: firstRef}, firstRef, numPartitions)
	return deduped.transform(keysOp{}, false, engine.ModeBytes)
}

// GroupWith cogroups this RDD with up to three other pair RDDs. The
// result pairs each key with a CoGrouped holding one value group per
// input side, in argument order; a key absent from a side yields an
// empty group there. Like the by-key aggregations, cogrouping combines
// locally, repartitions by key hash, and merges co-located partials.
func (r *RDD) GroupWith(numPartitions int, others ...*RDD) *RDD {
	arity := 1 + len(others)
	if arity < 2 || arity > maxCogroupArity {
		typecheck.Panicf(1, "groupwith: between 1 and %d other RDDs required; got %d", maxCogroupArity-1, len(others))
	}
	r.mustPair(1, "groupwith")
	for _, o := range others {
		o.mustPair(1, "groupwith")
	}
	if numPartitions < 1 {
		numPartitions = r.sc.parallelism
	}
	tagged := r.transform(tagOp{Tag: 0}, false, engine.ModePair)
	for i, o := range others {
		tagged = tagged.Union(o.transform(tagOp{Tag: i + 1}, false, engine.ModePair))
	}
	combined := tagged.transform(cogroupCombineOp{Arity: arity}, false, engine.ModePair)
	shuffled := combined.PartitionBy(NewHashPartitioner(numPartitions))
	return shuffled.transform(cogroupMergeOp{Arity: arity}, true, engine.ModePair)
}

// Join inner-joins two pair RDDs, producing KeyValue{k, Pair{v, w}}
// for every pair of values v from this RDD and w from other sharing
// key k.
func (r *RDD) Join(other *RDD, numPartitions int) *RDD {
	return r.join(other, joinInner, numPartitions)
}

// LeftOuterJoin joins two pair RDDs keeping every left value: the
// right side of each result pair is an Option, None when the key has
// no match in other.
func (r *RDD) LeftOuterJoin(other *RDD, numPartitions int) *RDD {
	return r.join(other, joinLeftOuter, numPartitions)
}

// RightOuterJoin joins two pair RDDs keeping every right value, with
// the left side of each result pair Option-wrapped.
func (r *RDD) RightOuterJoin(other *RDD, numPartitions int) *RDD {
	return r.join(other, joinRightOuter, numPartitions)
}

// FullOuterJoin joins two pair RDDs keeping every value on both sides,
// with both sides of each result pair Option-wrapped.
func (r *RDD) FullOuterJoin(other *RDD, numPartitions int) *RDD {
	return r.join(other, joinFullOuter, numPartitions)
}

func (r *RDD) join(other *RDD, kind joinKind, numPartitions int) *RDD {
	r.mustPair(2, "join")
	other.mustPair(2, "join")
	grouped := r.GroupWith(numPartitions, other)
	return grouped.transform(joinOp{Kind: kind}, true, engine.ModePair)
}

// SubtractByKey returns the elements of this RDD whose keys have no
// element in other.
func (r *RDD) SubtractByKey(other *RDD, numPartitions int) *RDD {
	r.mustPair(1, "subtractbykey")
	other.mustPair(1, "subtractbykey")
	grouped := r.GroupWith(numPartitions, other)
	return grouped.transform(subtractOp{}, true, engine.ModePair)
}

// Lookup returns all values associated with key. When the RDD carries
// a partitioner, only the key's owning partition is computed;
// otherwise every partition is scanned.
func (r *RDD) Lookup(ctx context.Context, key any) ([]any, error) {
	r.mustPair(1, "lookup")
	r.mustUsable(2)
	var partitions []int
	if r.part != nil {
		partitions = []int{r.part.PartitionOf(key)}
	}
	return r.runWith(ctx, lookupOp{Fingerprint: fingerprint(key)}, partitions)
}

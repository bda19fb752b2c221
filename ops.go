// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"
	"encoding/gob"
	"fmt"

	"github.com/arleyschrock/Mobius/rddio"
	"github.com/arleyschrock/Mobius/worker"
)

// The ops below are the serializable command objects that worker
// functions are composed of. Each holds only the parameters captured
// at graph construction time; user code is referenced through the
// worker registry, never closed over.

func init() {
	gob.Register(mapOp{})
	gob.Register(filterOp{})
	gob.Register(flatMapOp{})
	gob.Register(mapPartitionsOp{})
	gob.Register(glomOp{})
	gob.Register(mapValuesOp{})
	gob.Register(flatMapValuesOp{})
	gob.Register(keysOp{})
	gob.Register(valuesOp{})
	gob.Register(keyByOp{})
	gob.Register(pairwiseOp{})
	gob.Register(repartitionOp{})
	gob.Register(combineOp{})
	gob.Register(mergeCombinersOp{})
	gob.Register(tagOp{})
	gob.Register(cogroupCombineOp{})
	gob.Register(cogroupMergeOp{})
	gob.Register(joinOp{})
	gob.Register(subtractOp{})
	gob.Register(lookupOp{})
	gob.Register(countOp{})
	gob.Register(takeOp{})
	gob.Register(reduceOp{})
	gob.Register(foreachOp{})
}

// mapOp transforms elements one to one.
type mapOp struct{ Fn worker.Ref }

func (o mapOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &mapReader{fn: o.Fn.Fn().(func(any) any), reader: in}
}

// filterOp keeps elements satisfying a predicate.
type filterOp struct{ Fn worker.Ref }

func (o filterOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &filterReader{pred: o.Fn.Fn().(func(any) bool), reader: in}
}

// flatMapOp transforms each element into zero or more elements.
type flatMapOp struct{ Fn worker.Ref }

func (o flatMapOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &flatMapReader{fn: o.Fn.Fn().(func(any) []any), reader: in}
}

// mapPartitionsOp applies a user function to a whole partition at
// once, optionally passing the partition index.
type mapPartitionsOp struct {
	Fn        worker.Ref
	WithIndex bool
}

func (o mapPartitionsOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return deferred(func(ctx context.Context) ([]any, error) {
		elems, err := rddio.ReadAll(ctx, in)
		if err != nil {
			return nil, err
		}
		if o.WithIndex {
			return o.Fn.Fn().(func(int, []any) []any)(partition, elems), nil
		}
		return o.Fn.Fn().(func([]any) []any)(elems), nil
	})
}

// glomOp coalesces a partition into a single slice element.
type glomOp struct{}

func (glomOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return deferred(func(ctx context.Context) ([]any, error) {
		elems, err := rddio.ReadAll(ctx, in)
		if err != nil {
			return nil, err
		}
		return []any{elems}, nil
	})
}

// mapValuesOp transforms pair values, passing keys through unchanged.
type mapValuesOp struct{ Fn worker.Ref }

func (o mapValuesOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	fn := o.Fn.Fn().(func(any) any)
	return &mapReader{reader: in, fn: func(e any) any {
		kv := mustKeyValue(e)
		return KeyValue{kv.Key, fn(kv.Value)}
	}}
}

// flatMapValuesOp expands pair values, repeating the key for each
// produced value.
type flatMapValuesOp struct{ Fn worker.Ref }

func (o flatMapValuesOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	fn := o.Fn.Fn().(func(any) []any)
	return &flatMapReader{reader: in, fn: func(e any) []any {
		kv := mustKeyValue(e)
		values := fn(kv.Value)
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = KeyValue{kv.Key, v}
		}
		return out
	}}
}

type keysOp struct{}

func (keysOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &mapReader{reader: in, fn: func(e any) any { return mustKeyValue(e).Key }}
}

type valuesOp struct{}

func (valuesOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &mapReader{reader: in, fn: func(e any) any { return mustKeyValue(e).Value }}
}

// keyByOp derives a pair element from each element using a key
// function.
type keyByOp struct{ Fn worker.Ref }

func (o keyByOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	fn := o.Fn.Fn().(func(any) any)
	return &mapReader{reader: in, fn: func(e any) any { return KeyValue{fn(e), e} }}
}

// pairwiseOp tags each pair element with its destination partition,
// feeding the host engine's repartitioning primitive. The destination
// is computed exactly as the driver-side Partitioner computes it.
type pairwiseOp struct {
	NumPartitions int
	KeyFunc       worker.Ref
}

func (o pairwiseOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &mapReader{reader: in, fn: func(e any) any {
		kv := mustKeyValue(e)
		return worker.PartitionedValue{
			Partition: partitionOf(kv.Key, o.NumPartitions, o.KeyFunc),
			Value:     kv,
		}
	}}
}

// repartitionOp spreads a partition's elements round-robin across the
// destination partitions, offset by the source partition index so load
// spreads evenly regardless of input skew.
type repartitionOp struct{ NumPartitions int }

func (o repartitionOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	var count int
	return &mapReader{reader: in, fn: func(e any) any {
		d := (partition + count) % o.NumPartitions
		count++
		return worker.PartitionedValue{Partition: d, Value: e}
	}}
}

// combineOp is the local pre-combine phase of the shuffle template: it
// groups a partition's pairs by key and folds each key's values into a
// single combiner value, before any data crosses the network. When
// HasZero is set, a fresh combiner is seeded by merging the zero value
// with the first observed value; otherwise Create builds it.
type combineOp struct {
	Create  worker.Ref
	Merge   worker.Ref
	Zero    any
	HasZero bool
}

func (o combineOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	merge := o.Merge.Fn().(func(any, any) any)
	create := func(v any) any {
		if o.HasZero {
			return merge(o.Zero, v)
		}
		return o.Create.Fn().(func(any) any)(v)
	}
	return combineReader(in, create, merge)
}

// mergeCombinersOp is the remote merge phase: it merges same-key
// combiner values that arrived from different source partitions.
type mergeCombinersOp struct{ Merge worker.Ref }

func (o mergeCombinersOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	merge := o.Merge.Fn().(func(any, any) any)
	return combineReader(in, func(v any) any { return v }, merge)
}

// tagOp boxes pair values as Tagged sum values carrying a side
// discriminant, so that RDDs of heterogeneous value types can be
// unioned ahead of a common combine step.
type tagOp struct{ Tag int }

func (o tagOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &mapReader{reader: in, fn: func(e any) any {
		kv := mustKeyValue(e)
		return KeyValue{kv.Key, Tagged{o.Tag, kv.Value}}
	}}
}

// cogroupCombineOp is the local combine phase for cogroups: Tagged
// values are appended to their side's list, dispatching on the tag.
type cogroupCombineOp struct{ Arity int }

func (o cogroupCombineOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	create := func(v any) any {
		cg := CoGrouped{Groups: make([][]any, o.Arity)}
		return appendTagged(cg, v)
	}
	merge := func(acc, v any) any { return appendTagged(acc.(CoGrouped), v) }
	return combineReader(in, create, merge)
}

func appendTagged(cg CoGrouped, v any) CoGrouped {
	t, ok := v.(Tagged)
	if !ok {
		panic(fmt.Sprintf("mobius: cogroup received %T, not a tagged value", v))
	}
	if t.Tag < 0 || t.Tag >= len(cg.Groups) {
		panic(fmt.Sprintf("mobius: cogroup tag %d out of range [0,%d)", t.Tag, len(cg.Groups)))
	}
	cg.Groups[t.Tag] = append(cg.Groups[t.Tag], t.Value)
	return cg
}

// cogroupMergeOp is the remote merge phase for cogroups, concatenating
// per-side lists arriving from different source partitions.
type cogroupMergeOp struct{ Arity int }

func (o cogroupMergeOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	merge := func(a, b any) any {
		x, y := a.(CoGrouped), b.(CoGrouped)
		for i := range x.Groups {
			x.Groups[i] = append(x.Groups[i], y.Groups[i]...)
		}
		return x
	}
	return combineReader(in, func(v any) any { return v }, merge)
}

type joinKind int

const (
	joinInner joinKind = iota
	joinLeftOuter
	joinRightOuter
	joinFullOuter
)

// joinOp expands a two-way cogroup into join results: the per-key
// cross product of the two sides, Option-wrapped on any side that may
// be absent.
type joinOp struct{ Kind joinKind }

func (o joinOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &flatMapReader{reader: in, fn: func(e any) []any {
		kv := mustKeyValue(e)
		cg := kv.Value.(CoGrouped)
		left, right := cg.Groups[0], cg.Groups[1]
		var out []any
		emit := func(v any) { out = append(out, KeyValue{kv.Key, v}) }
		switch o.Kind {
		case joinInner:
			for _, a := range left {
				for _, b := range right {
					emit(Pair{a, b})
				}
			}
		case joinLeftOuter:
			for _, a := range left {
				if len(right) == 0 {
					emit(Pair{a, None()})
					continue
				}
				for _, b := range right {
					emit(Pair{a, Some(b)})
				}
			}
		case joinRightOuter:
			for _, b := range right {
				if len(left) == 0 {
					emit(Pair{None(), b})
					continue
				}
				for _, a := range left {
					emit(Pair{Some(a), b})
				}
			}
		case joinFullOuter:
			switch {
			case len(left) == 0:
				for _, b := range right {
					emit(Pair{None(), Some(b)})
				}
			case len(right) == 0:
				for _, a := range left {
					emit(Pair{Some(a), None()})
				}
			default:
				for _, a := range left {
					for _, b := range right {
						emit(Pair{Some(a), Some(b)})
					}
				}
			}
		}
		return out
	}}
}

// subtractOp keeps left-side values for keys with no right-side
// values, expanding a two-way cogroup.
type subtractOp struct{}

func (subtractOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &flatMapReader{reader: in, fn: func(e any) []any {
		kv := mustKeyValue(e)
		cg := kv.Value.(CoGrouped)
		if len(cg.Groups[1]) != 0 {
			return nil
		}
		out := make([]any, len(cg.Groups[0]))
		for i, v := range cg.Groups[0] {
			out[i] = KeyValue{kv.Key, v}
		}
		return out
	}}
}

// lookupOp yields the values of pairs whose key's serialized form
// matches the probe key.
type lookupOp struct{ Fingerprint string }

func (o lookupOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &flatMapReader{reader: in, fn: func(e any) []any {
		kv := mustKeyValue(e)
		if fingerprint(kv.Key) != o.Fingerprint {
			return nil
		}
		return []any{kv.Value}
	}}
}

// countOp reduces a partition to its element count.
type countOp struct{}

func (countOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return deferred(func(ctx context.Context) ([]any, error) {
		var (
			count int64
			buf   = make([]any, rddio.DefaultChunksize)
		)
		for {
			n, err := in.Read(ctx, buf)
			count += int64(n)
			if err == rddio.EOF {
				return []any{count}, nil
			}
			if err != nil {
				return nil, err
			}
		}
	})
}

// takeOp yields at most the first N elements of a partition.
type takeOp struct{ N int }

func (o takeOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return &takeReader{reader: in, n: o.N}
}

// reduceOp folds a partition pairwise, yielding at most one element.
type reduceOp struct{ Fn worker.Ref }

func (o reduceOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	fn := o.Fn.Fn().(func(any, any) any)
	return deferred(func(ctx context.Context) ([]any, error) {
		var (
			acc  any
			seen bool
			buf  = make([]any, rddio.DefaultChunksize)
		)
		for {
			n, err := in.Read(ctx, buf)
			for i := 0; i < n; i++ {
				if !seen {
					acc, seen = buf[i], true
				} else {
					acc = fn(acc, buf[i])
				}
			}
			if err == rddio.EOF {
				if !seen {
					return nil, nil
				}
				return []any{acc}, nil
			}
			if err != nil {
				return nil, err
			}
		}
	})
}

// foreachOp applies a function to each element for its side effects,
// yielding nothing.
type foreachOp struct{ Fn worker.Ref }

func (o foreachOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	fn := o.Fn.Fn().(func(any))
	return deferred(func(ctx context.Context) ([]any, error) {
		buf := make([]any, rddio.DefaultChunksize)
		for {
			n, err := in.Read(ctx, buf)
			for i := 0; i < n; i++ {
				fn(buf[i])
			}
			if err == rddio.EOF {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
		}
	})
}

func mustKeyValue(e any) KeyValue {
	kv, ok := e.(KeyValue)
	if !ok {
		panic(fmt.Sprintf("mobius: expected a key-value pair, got %T", e))
	}
	return kv
}

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestCollect(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4, 5}, 2)
	if got, want := collect(t, r), ([]any{1, 2, 3, 4, 5}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCollectSkipsEmptyPartitions(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 3, 2}, 3).Filter(evenFn)
	if got, want := collect(t, r), ([]any{2}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMap(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3}, 2).Map(addOneFn)
	if got, want := collect(t, r), ([]any{2, 3, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFilter(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4}, 2).Filter(evenFn)
	if got, want := collect(t, r), ([]any{2, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlatMap(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{"a b", "c"}, 2).FlatMap(wordsFn)
	if got, want := collect(t, r), ([]any{"a", "b", "c"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMapPartitions(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4}, 2).MapPartitions(reverseFn, false)
	if got, want := collect(t, r), ([]any{2, 1, 4, 3}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMapPartitionsWithIndex(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{"x", "y"}, 2).MapPartitionsWithIndex(indexKeyFn, false)
	want := []any{KeyValue{0, "x"}, KeyValue{1, "y"}}
	if got := collect(t, r); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGlom(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3}, 2).Glom()
	got := collect(t, r)
	want := []any{[]any{1, 2}, []any{3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFusionReusesStage(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3}, 2)
	m := r.Map(addOneFn)
	if m.handle != r.handle {
		t.Error("a fused transformation should reuse the parent's stage handle")
	}
	if !r.consumed {
		t.Error("fusing should consume the parent")
	}
	f := m.Filter(evenFn)
	if f.handle != r.handle {
		t.Error("a chain of narrow transformations should stay rooted at one stage")
	}
	if got, want := collect(t, f), ([]any{2, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConsumedNodePanics(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1}, 1)
	r.Map(addOneFn)
	expectUsagePanic(t, func() { r.Map(doubleFn) })
	expectUsagePanic(t, func() { r.Collect(context.Background()) })
}

func TestCacheAllowsBranching(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3}, 2).Map(addOneFn).Cache()
	a := r.Map(doubleFn)
	b := r.Filter(evenFn)
	if a.handle != r.handle || b.handle != r.handle {
		t.Error("children of a cached node should read from its committed stage")
	}
	if got, want := collect(t, a), ([]any{4, 6, 8}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := collect(t, b), ([]any{2, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// The cached node itself remains actionable.
	if got, want := collect(t, r), ([]any{2, 3, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCheckpointBreaksFusion(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1}, 1).Map(addOneFn).Checkpoint()
	if !r.fn.IsNil() {
		t.Error("checkpointing should commit the pending pipeline")
	}
	m := r.Map(doubleFn)
	if m.fn.IsNil() || m.handle != r.handle {
		t.Error("a child of a checkpointed node should root a fresh pipeline at its stage")
	}
	if r.consumed {
		t.Error("a checkpointed node should stay usable after branching")
	}
	if got, want := collect(t, m), ([]any{4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnion(t *testing.T) {
	sc := session(t)
	a := parallelize(t, sc, []any{1, 2}, 1)
	b := parallelize(t, sc, []any{3}, 1)
	u := a.Union(b)
	if got, want := u.NumPartitions(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := collect(t, u), ([]any{1, 2, 3}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnionSharedPipeline(t *testing.T) {
	// Unioning two pipelines carrying the same pending function keeps
	// the function pending over the concatenated lineage.
	sc := session(t)
	mapped := func(data []any) *RDD { return parallelize(t, sc, data, 1).Map(addOneFn) }
	a, b := mapped([]any{1}), mapped([]any{10})
	u := a.Union(b)
	if u.fn.IsNil() {
		t.Error("union of identical pipelines should keep the function pending")
	}
	if got, want := collect(t, u), ([]any{2, 11}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnionDifferingPipelines(t *testing.T) {
	sc := session(t)
	a := parallelize(t, sc, []any{1}, 1).Map(addOneFn)
	b := parallelize(t, sc, []any{10}, 1).Map(doubleFn)
	u := a.Union(b)
	if !u.fn.IsNil() {
		t.Error("union of differing pipelines should commit both sides")
	}
	if got, want := collect(t, u), ([]any{2, 20}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRepartition(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4, 5}, 1).Repartition(3)
	if got, want := r.NumPartitions(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if r.Partitioner() != nil {
		t.Error("round-robin repartitioning should not claim a partitioner")
	}
	got := sorted(collect(t, r))
	want := sorted([]any{1, 2, 3, 4, 5})
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	expectUsagePanic(t, func() { r.Repartition(0) })
}

func TestCount(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4, 5}, 3)
	n, err := r.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, int64(5); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReduce(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4}, 2)
	v, err := r.Reduce(context.Background(), sumFn)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, any(10); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReduceEmpty(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, nil, 2)
	_, err := r.Reduce(context.Background(), sumFn)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestTake(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1, 2, 3, 4, 5, 6}, 2)
	got, err := r.Take(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []any{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// An action does not consume the node.
	if got, want := collect(t, r), ([]any{1, 2, 3, 4, 5, 6}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFirst(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{7, 8}, 2)
	v, err := r.First(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, any(7); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	empty := parallelize(t, sc, nil, 1)
	if _, err = empty.First(context.Background()); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
}

func TestSaveAsTextFile(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{"a", "b", "c"}, 2)
	dir := filepath.Join(t.TempDir(), "out")
	if err := r.SaveAsTextFile(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "part-00000"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "a\nb\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTypecheckedConstruction(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1}, 1)
	// Wrong function type for the transformation.
	expectUsagePanic(t, func() { r.Map(evenFn) })
	expectUsagePanic(t, func() { r.Filter(addOneFn) })
	expectUsagePanic(t, func() { r.FlatMap(sumFn) })
}

func TestUnionModeMismatchPanics(t *testing.T) {
	sc := session(t)
	a := parallelize(t, sc, []any{1}, 1)
	b := parallelizePairs(t, sc, pairs(KeyValue{"k", 1}), 1)
	expectUsagePanic(t, func() { a.Union(b) })
}

func TestParallelizePairsValidates(t *testing.T) {
	sc := session(t)
	_, err := sc.ParallelizePairs(context.Background(), []any{"not a pair"}, 1)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestStringer(t *testing.T) {
	sc := session(t)
	r := parallelize(t, sc, []any{1}, 1)
	if !strings.Contains(r.String(), "materialized") {
		t.Errorf("unexpected %q", r.String())
	}
	if m := r.Map(addOneFn); !strings.Contains(m.String(), "pipelined") {
		t.Errorf("unexpected %q", m.String())
	}
}

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/arleyschrock/Mobius/worker"
)

// User functions shared by the package's tests. They are registered at
// initialization, as user code must.
var (
	addOneFn = worker.Register(func(v any) any { return v.(int) + 1 })
	doubleFn = worker.Register(func(v any) any { return v.(int) * 2 })
	evenFn   = worker.Register(func(v any) bool { return v.(int)%2 == 0 })
	wordsFn  = worker.Register(func(v any) []any {
		var out []any
		for _, w := range strings.Fields(v.(string)) {
			out = append(out, w)
		}
		return out
	})
	sumFn     = worker.Register(func(a, b any) any { return a.(int) + b.(int) })
	reverseFn = worker.Register(func(part []any) []any {
		out := make([]any, len(part))
		for i, v := range part {
			out[len(part)-1-i] = v
		}
		return out
	})
	indexKeyFn = worker.Register(func(i int, part []any) []any {
		out := make([]any, len(part))
		for j, v := range part {
			out[j] = KeyValue{i, v}
		}
		return out
	})
	intKeyFn = worker.Register(func(k any) int { return k.(int) })
)

func session(t *testing.T) *Context {
	t.Helper()
	return Start(Parallelism(2))
}

func pairs(kvs ...KeyValue) []any {
	out := make([]any, len(kvs))
	for i, kv := range kvs {
		out[i] = kv
	}
	return out
}

// sorted returns the elements ordered by their printed form, for
// comparing results whose partition order is not specified.
func sorted(elems []any) []string {
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = fmt.Sprint(e)
	}
	sort.Strings(out)
	return out
}

func collect(t *testing.T, r *RDD) []any {
	t.Helper()
	elems, err := r.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return elems
}

func parallelize(t *testing.T, sc *Context, data []any, numPartitions int) *RDD {
	t.Helper()
	r, err := sc.Parallelize(context.Background(), data, numPartitions)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func parallelizePairs(t *testing.T, sc *Context, data []any, numPartitions int) *RDD {
	t.Helper()
	r, err := sc.ParallelizePairs(context.Background(), data, numPartitions)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// expectUsagePanic fails the test unless f panics with a typecheck
// usage error.
func expectUsagePanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		p := recover()
		if p == nil {
			t.Fatal("expected a usage panic")
		}
		if _, ok := p.(*typecheck.Error); !ok {
			t.Fatalf("panicked with %T, not a usage error: %v", p, p)
		}
	}()
	f()
}

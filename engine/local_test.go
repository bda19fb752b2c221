// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/arleyschrock/Mobius/rddio"
	"github.com/arleyschrock/Mobius/worker"
	"github.com/grailbio/base/errors"
)

func init() {
	gob.Register(upperOp{})
	gob.Register(panicOp{})
}

// upperOp uppercases string elements.
type upperOp struct{}

func (upperOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return readerFunc(func(ctx context.Context, out []any) (int, error) {
		n, err := in.Read(ctx, out)
		for i := 0; i < n; i++ {
			out[i] = strings.ToUpper(out[i].(string))
		}
		return n, err
	})
}

type panicOp struct{}

func (panicOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return readerFunc(func(ctx context.Context, out []any) (int, error) {
		panic("worker boom")
	})
}

type readerFunc func(ctx context.Context, out []any) (int, error)

func (f readerFunc) Read(ctx context.Context, out []any) (int, error) { return f(ctx, out) }

func parallelize(t *testing.T, l *Local, mode Mode, parts ...[]any) Handle {
	t.Helper()
	encoded := make([][]byte, len(parts))
	for i, p := range parts {
		var err error
		encoded[i], err = EncodePartition(p)
		if err != nil {
			t.Fatal(err)
		}
	}
	h, err := l.Parallelize(context.Background(), encoded, mode)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func run(t *testing.T, l *Local, p Pipeline, partitions []int) [][]any {
	t.Helper()
	raw, err := l.RunJob(context.Background(), p, partitions)
	if err != nil {
		t.Fatal(err)
	}
	parts := make([][]any, len(raw))
	for i, r := range raw {
		parts[i], err = DecodePartition(r)
		if err != nil {
			t.Fatal(err)
		}
	}
	return parts
}

func mustMarshal(t *testing.T, op worker.Op) []byte {
	t.Helper()
	p, err := worker.Marshal(worker.New(op))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParallelizeRoundTrip(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{"a", "b"}, []any{"c"})
	got := run(t, l, Pipeline{Handle: h, PrevMode: ModeBytes, Mode: ModeBytes}, nil)
	want := [][]any{{"a", "b"}, {"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	n, err := l.NumPartitions(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRunJobPartitionSubset(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{1}, []any{2}, []any{3})
	got := run(t, l, Pipeline{Handle: h, PrevMode: ModeBytes, Mode: ModeBytes}, []int{2, 0})
	if want := [][]any{{3}, {1}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	_, err := l.RunJob(context.Background(), Pipeline{Handle: h, PrevMode: ModeBytes, Mode: ModeBytes}, []int{3})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestRunJobFunc(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{"x", "y"})
	got := run(t, l, Pipeline{Handle: h, Func: mustMarshal(t, upperOp{}), PrevMode: ModeBytes, Mode: ModeBytes}, nil)
	if want := [][]any{{"X", "Y"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestModeMismatch(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{1})
	_, err := l.RunJob(context.Background(), Pipeline{Handle: h, PrevMode: ModePair, Mode: ModePair}, nil)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	_, err = l.Materialize(context.Background(), Pipeline{Handle: h, PrevMode: ModeRow, Mode: ModeRow})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	l := NewLocal()
	_, err := l.RunJob(context.Background(), Pipeline{Handle: "nope", PrevMode: ModeBytes, Mode: ModeBytes}, nil)
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
}

func TestMaterialize(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{"a"}, []any{"b"})
	m, err := l.Materialize(context.Background(), Pipeline{Handle: h, Func: mustMarshal(t, upperOp{}), PrevMode: ModeBytes, Mode: ModeBytes})
	if err != nil {
		t.Fatal(err)
	}
	got := run(t, l, Pipeline{Handle: m, PrevMode: ModeBytes, Mode: ModeBytes}, nil)
	if want := [][]any{{"A"}, {"B"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnion(t *testing.T) {
	l := NewLocal()
	h1 := parallelize(t, l, ModeBytes, []any{1, 2})
	h2 := parallelize(t, l, ModeBytes, []any{3})
	u, err := l.Union(context.Background(), []Pipeline{
		{Handle: h1, PrevMode: ModeBytes, Mode: ModeBytes},
		{Handle: h2, PrevMode: ModeBytes, Mode: ModeBytes},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := run(t, l, Pipeline{Handle: u, PrevMode: ModeBytes, Mode: ModeBytes}, nil)
	if want := [][]any{{1, 2}, {3}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	n, err := l.NumPartitions(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnionMixedModes(t *testing.T) {
	l := NewLocal()
	h1 := parallelize(t, l, ModeBytes, []any{1})
	h2 := parallelize(t, l, ModePair, []any{2})
	_, err := l.Union(context.Background(), []Pipeline{
		{Handle: h1, PrevMode: ModeBytes, Mode: ModeBytes},
		{Handle: h2, PrevMode: ModePair, Mode: ModePair},
	})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestPairwise(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModePair,
		[]any{
			worker.PartitionedValue{Partition: 0, Value: "a"},
			worker.PartitionedValue{Partition: 1, Value: "b"},
		},
		[]any{
			worker.PartitionedValue{Partition: 3, Value: "c"},
			worker.PartitionedValue{Partition: -1, Value: "d"},
		},
	)
	p, err := l.CreatePairwiseRDD(context.Background(), Pipeline{Handle: h, PrevMode: ModePair, Mode: ModePair}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := run(t, l, Pipeline{Handle: p, PrevMode: ModePair, Mode: ModePair}, nil)
	// 0%2=0, 1%2=1, 3%2=1, -1%2 normalized to 1.
	if want := [][]any{{"a"}, {"b", "c", "d"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPairwiseRejectsUntaggedElements(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModePair, []any{"plain"})
	p, err := l.CreatePairwiseRDD(context.Background(), Pipeline{Handle: h, PrevMode: ModePair, Mode: ModePair}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.RunJob(context.Background(), Pipeline{Handle: p, PrevMode: ModePair, Mode: ModePair}, nil)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestWorkerPanic(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{1})
	_, err := l.RunJob(context.Background(), Pipeline{
		Handle:   h,
		Func:     mustMarshal(t, panicOp{}),
		PrevMode: ModeBytes,
		Mode:     ModeBytes,
		Trace:    "test trace",
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "worker function panicked") {
		t.Errorf("unexpected error %v", err)
	}
	if !strings.Contains(err.Error(), "test trace") {
		t.Errorf("error %v does not carry the provenance trace", err)
	}
}

func TestSave(t *testing.T) {
	l := NewLocal()
	h := parallelize(t, l, ModeBytes, []any{"a", "b"}, []any{"c"})
	dir := filepath.Join(t.TempDir(), "out")
	err := l.Save(context.Background(), Pipeline{Handle: h, PrevMode: ModeBytes, Mode: ModeBytes}, dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "part-00000"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "a\nb\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	data, err = os.ReadFile(filepath.Join(dir, "part-00001"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "c\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

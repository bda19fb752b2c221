// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/arleyschrock/Mobius/rddio"
	"github.com/arleyschrock/Mobius/worker"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

type stageKind int

const (
	stageData stageKind = iota
	stageDerived
	stagePairwise
	stageUnion
)

// A stage is one node in the engine-side lineage arena. Stages are
// recorded when the client commits a pipeline and computed lazily when
// a job first needs their output; results are memoized.
type stage struct {
	kind stageKind
	mode Mode

	// Root pipeline for derived and pairwise stages.
	root  Handle
	fn    []byte
	trace string

	// Partition width for pairwise stages.
	width int

	// Inputs for union stages.
	inputs []Pipeline

	computed bool
	parts    [][]any
}

// Local is an in-process implementation of the host engine contract.
// Stages are held in memory and computed on demand, with partitions
// evaluated concurrently. Local is the engine used by tests and by
// single-process sessions.
type Local struct {
	mu     sync.Mutex
	stages map[Handle]*stage
}

// NewLocal returns a new, empty in-process engine.
func NewLocal() *Local {
	return &Local{stages: make(map[Handle]*stage)}
}

// Parallelize implements Engine.
func (l *Local) Parallelize(ctx context.Context, partitions [][]byte, mode Mode) (Handle, error) {
	parts := make([][]any, len(partitions))
	for i, p := range partitions {
		elems, err := DecodePartition(p)
		if err != nil {
			return "", err
		}
		parts[i] = elems
	}
	s := &stage{kind: stageData, mode: mode, computed: true, parts: parts}
	return l.add(s), nil
}

// Materialize implements Engine.
func (l *Local) Materialize(ctx context.Context, p Pipeline) (Handle, error) {
	if err := l.validate(p); err != nil {
		return "", err
	}
	s := &stage{kind: stageDerived, mode: p.Mode, root: p.Handle, fn: p.Func, trace: p.Trace}
	return l.add(s), nil
}

// CreatePairwiseRDD implements Engine.
func (l *Local) CreatePairwiseRDD(ctx context.Context, p Pipeline, numPartitions int, partitionFuncID uint64) (Handle, error) {
	if numPartitions < 1 {
		return "", errors.E(errors.Invalid, fmt.Sprintf("engine: pairwise RDD with %d partitions", numPartitions))
	}
	if err := l.validate(p); err != nil {
		return "", err
	}
	s := &stage{kind: stagePairwise, mode: p.Mode, root: p.Handle, fn: p.Func, trace: p.Trace, width: numPartitions}
	return l.add(s), nil
}

// Union implements Engine.
func (l *Local) Union(ctx context.Context, ps []Pipeline) (Handle, error) {
	if len(ps) == 0 {
		return "", errors.E(errors.Invalid, "engine: union of no pipelines")
	}
	for _, p := range ps {
		if err := l.validate(p); err != nil {
			return "", err
		}
		if got, want := p.Mode, ps[0].Mode; got != want {
			return "", errors.E(errors.Invalid, fmt.Sprintf("engine: union of mixed modes %s and %s", want, got))
		}
	}
	s := &stage{kind: stageUnion, mode: ps[0].Mode, inputs: ps}
	return l.add(s), nil
}

// RunJob implements Engine.
func (l *Local) RunJob(ctx context.Context, p Pipeline, partitions []int) ([][]byte, error) {
	if err := l.validate(p); err != nil {
		return nil, err
	}
	parts, err := l.evaluate(ctx, p)
	if err != nil {
		return nil, err
	}
	if partitions == nil {
		partitions = make([]int, len(parts))
		for i := range partitions {
			partitions[i] = i
		}
	}
	out := make([][]byte, len(partitions))
	for i, pi := range partitions {
		if pi < 0 || pi >= len(parts) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("engine: partition %d out of range [0,%d)", pi, len(parts)))
		}
		out[i], err = EncodePartition(parts[pi])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Save implements Engine.
func (l *Local) Save(ctx context.Context, p Pipeline, path string) error {
	if err := l.validate(p); err != nil {
		return err
	}
	parts, err := l.evaluate(ctx, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0777); err != nil {
		return errors.E(err, "engine: cannot create output directory")
	}
	for i, part := range parts {
		f, err := os.Create(filepath.Join(path, fmt.Sprintf("part-%05d", i)))
		if err != nil {
			return errors.E(err, "engine: cannot create partition file")
		}
		for _, elem := range part {
			if _, err = fmt.Fprintln(f, elem); err != nil {
				break
			}
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.E(err, fmt.Sprintf("engine: cannot write partition %d", i))
		}
	}
	return nil
}

// NumPartitions implements Engine.
func (l *Local) NumPartitions(ctx context.Context, h Handle) (int, error) {
	return l.numPartitions(h)
}

func (l *Local) numPartitions(h Handle) (int, error) {
	s, err := l.lookup(h)
	if err != nil {
		return 0, err
	}
	switch s.kind {
	case stageData:
		return len(s.parts), nil
	case stageDerived:
		return l.numPartitions(s.root)
	case stagePairwise:
		return s.width, nil
	case stageUnion:
		var n int
		for _, in := range s.inputs {
			m, err := l.numPartitions(in.Handle)
			if err != nil {
				return 0, err
			}
			n += m
		}
		return n, nil
	}
	panic("unreachable")
}

func (l *Local) add(s *stage) Handle {
	h := Handle(uuid.New().String())
	l.mu.Lock()
	l.stages[h] = s
	l.mu.Unlock()
	return h
}

func (l *Local) lookup(h Handle) (*stage, error) {
	l.mu.Lock()
	s, ok := l.stages[h]
	l.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("engine: no stage %s", h))
	}
	return s, nil
}

// validate rejects a pipeline whose declared input mode disagrees with
// the output mode of the stage it is rooted at. Mixing modes between
// adjacent stages without an explicit re-encoding step is a usage bug
// surfaced here, before any computation happens.
func (l *Local) validate(p Pipeline) error {
	s, err := l.lookup(p.Handle)
	if err != nil {
		return err
	}
	if p.PrevMode != s.mode {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"engine: pipeline expects input mode %s but stage %s produces %s", p.PrevMode, p.Handle, s.mode))
	}
	return nil
}

// evaluate computes the pipeline: the root stage's partitions with the
// pipeline's worker function applied to each.
func (l *Local) evaluate(ctx context.Context, p Pipeline) ([][]any, error) {
	parts, err := l.compute(ctx, p.Handle)
	if err != nil {
		return nil, err
	}
	return applyFunc(ctx, p.Func, p.Trace, parts)
}

// compute returns the stage's partitions, computing and memoizing them
// on first use.
func (l *Local) compute(ctx context.Context, h Handle) ([][]any, error) {
	s, err := l.lookup(h)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	done := s.computed
	l.mu.Unlock()
	if done {
		return s.parts, nil
	}
	var parts [][]any
	switch s.kind {
	case stageDerived:
		parts, err = l.evaluate(ctx, Pipeline{Handle: s.root, Func: s.fn, Trace: s.trace})
	case stagePairwise:
		parts, err = l.repartition(ctx, s)
	case stageUnion:
		for _, in := range s.inputs {
			var sub [][]any
			sub, err = l.evaluate(ctx, in)
			if err != nil {
				break
			}
			parts = append(parts, sub...)
		}
	default:
		err = errors.E(errors.Invalid, fmt.Sprintf("engine: stage %s has no data", h))
	}
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	s.computed, s.parts = true, parts
	l.mu.Unlock()
	log.Debug.Printf("engine: computed stage %s: %d partitions", h, len(parts))
	return parts, nil
}

// repartition implements the engine's native redistribution primitive:
// each element of the source pipeline arrives tagged with a
// destination partition, and is moved to that partition modulo the
// stage's width.
func (l *Local) repartition(ctx context.Context, s *stage) ([][]any, error) {
	src, err := l.evaluate(ctx, Pipeline{Handle: s.root, Func: s.fn, Trace: s.trace})
	if err != nil {
		return nil, err
	}
	parts := make([][]any, s.width)
	for _, part := range src {
		for _, elem := range part {
			pv, ok := elem.(worker.PartitionedValue)
			if !ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("engine: pairwise stage received %T, not a partitioned value", elem))
			}
			d := pv.Partition % s.width
			if d < 0 {
				d += s.width
			}
			parts[d] = append(parts[d], pv.Value)
		}
	}
	return parts, nil
}

// applyFunc applies a serialized worker function to every partition,
// one goroutine per partition. A panic raised by user code fails the
// job with an error carrying the worker function's provenance trace.
func applyFunc(ctx context.Context, fn []byte, trace string, parts [][]any) ([][]any, error) {
	f, err := worker.Unmarshal(fn)
	if err != nil {
		return nil, err
	}
	if f.IsNil() {
		return parts, nil
	}
	out := make([][]any, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i := range parts {
		i := i
		g.Go(func() error {
			elems, err := runPartition(gctx, f, i, parts[i])
			if err != nil {
				return err
			}
			out[i] = elems
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stageError(err, trace)
	}
	return out, nil
}

func runPartition(ctx context.Context, f worker.Func, partition int, elems []any) (out []any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.E(errors.Fatal, fmt.Errorf("worker function panicked on partition %d: %v", partition, p))
		}
	}()
	return rddio.ReadAll(ctx, f.Apply(ctx, partition, rddio.SliceReader(elems)))
}

// stageError wraps a stage failure with the worker function's
// provenance trace so that remote diagnostics point at the user code
// that built the failing stage.
func stageError(err error, trace string) error {
	if trace == "" {
		return err
	}
	return errors.E(err, fmt.Sprintf("worker function constructed at:\n%s", trace))
}

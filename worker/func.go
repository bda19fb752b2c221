// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package worker implements the per-partition computation unit that is
// shipped to remote workers for execution. A worker Func composes one
// or more ops into a single pipeline that is executed once per
// partition; Funcs are serialized with gob and carried across the
// process boundary inside job requests.
package worker

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"runtime"
	"strings"

	"github.com/arleyschrock/Mobius/rddio"
	"github.com/grailbio/base/errors"
)

func init() {
	gob.Register(chainOp{})
	gob.Register(PartitionedValue{})
}

// An Op is one executable stage of a worker function: a pure function
// from (partition index, input element stream) to an output element
// stream. Implementations must be gob-encodable value types holding
// only the parameters captured at graph construction time; they must
// not close over ambient state.
type Op interface {
	Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader
}

// A Func is a serializable worker function: an op together with a
// human-readable provenance trace recording where the function was
// constructed. The trace is for diagnostics only and has no behavioral
// effect.
type Func struct {
	Op    Op
	Trace string
}

// New returns a Func wrapping the provided op, capturing the caller's
// stack as the function's provenance trace.
func New(op Op) Func {
	return Func{Op: op, Trace: trace(2)}
}

// IsNil tells whether the Func is empty.
func (f Func) IsNil() bool { return f.Op == nil }

// Apply applies the function to one partition's input stream,
// returning the (lazy) output stream.
func (f Func) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	if f.Op == nil {
		return in
	}
	return f.Op.Apply(ctx, partition, in)
}

// Chain composes two worker functions into one whose behavior is
// outer(partition, inner(partition, input)). The composition remains
// lazy: no intermediate sequence is materialized, and already-applied
// stages are never re-executed. Chain is associative. If either
// function is empty, the other is returned unchanged (with traces
// merged).
func Chain(inner, outer Func) Func {
	switch {
	case inner.Op == nil && outer.Op == nil:
		return Func{}
	case inner.Op == nil:
		return outer
	case outer.Op == nil:
		return Func{Op: inner.Op, Trace: mergeTrace(inner.Trace, outer.Trace)}
	}
	return Func{
		Op:    chainOp{Inner: inner.Op, Outer: outer.Op},
		Trace: mergeTrace(inner.Trace, outer.Trace),
	}
}

type chainOp struct {
	Inner, Outer Op
}

func (c chainOp) Apply(ctx context.Context, partition int, in rddio.Reader) rddio.Reader {
	return c.Outer.Apply(ctx, partition, c.Inner.Apply(ctx, partition, in))
}

// Marshal encodes the Func for transmission to the host engine.
func Marshal(f Func) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(&f); err != nil {
		return nil, errors.E(err, "worker: cannot marshal function")
	}
	return b.Bytes(), nil
}

// Unmarshal decodes a Func previously encoded by Marshal. An empty
// payload decodes to the empty Func (the identity pipeline).
func Unmarshal(p []byte) (Func, error) {
	if len(p) == 0 {
		return Func{}, nil
	}
	var f Func
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&f); err != nil {
		return Func{}, errors.E(err, "worker: cannot unmarshal function")
	}
	return f, nil
}

// A PartitionedValue is an element tagged with its destination
// partition, as produced by the stage that precedes the host engine's
// repartitioning primitive.
type PartitionedValue struct {
	Partition int
	Value     any
}

func trace(skip int) string {
	var pcs [8]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var lines []string
	for {
		frame, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s:%d: %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func mergeTrace(inner, outer string) string {
	if inner == "" {
		return outer
	}
	if outer == "" {
		return inner
	}
	return inner + "\n---\n" + outer
}

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"
	"fmt"
	"runtime"

	"github.com/arleyschrock/Mobius/engine"
	"github.com/arleyschrock/Mobius/sessionconfig"
	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
)

// A Context is a driver session. It owns the engine connection through
// which lineage graphs are registered and jobs run, and it is the root
// from which RDDs are created. A Context is safe for concurrent use.
type Context struct {
	eng         engine.Engine
	parallelism int
}

// A SessionOption configures a Context.
type SessionOption func(*Context)

// WithEngine runs the session against the given engine.
func WithEngine(eng engine.Engine) SessionOption {
	return func(c *Context) { c.eng = eng }
}

// Parallelism sets the default partition count for parallelized
// collections. It panics with a usage error if n is not positive.
func Parallelism(n int) SessionOption {
	if n < 1 {
		typecheck.Panicf(1, "parallelism: must be positive; got %d", n)
	}
	return func(c *Context) { c.parallelism = n }
}

// Bigmachine runs the session against a bigmachine-backed engine on
// the given system.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) SessionOption {
	return func(c *Context) { c.eng = engine.NewBigmachine(system, params...) }
}

// Start creates a new session. By default the session evaluates
// in-process with parallelism equal to the number of available CPUs.
func Start(opts ...SessionOption) *Context {
	c := &Context{parallelism: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(c)
	}
	if c.eng == nil {
		c.eng = engine.NewLocal()
	}
	log.Debug.Printf("mobius: session started with parallelism %d", c.parallelism)
	return c
}

// StartConfig creates a new session from a loaded configuration.
func StartConfig(cfg sessionconfig.Config) (*Context, error) {
	var eng engine.Engine
	switch cfg.Engine {
	case "", "local":
		eng = engine.NewLocal()
	case "bigmachine":
		eng = engine.NewBigmachine(bigmachine.Local)
	default:
		return nil, errors.E(errors.Invalid, "mobius: unknown engine", cfg.Engine)
	}
	opts := []SessionOption{WithEngine(eng)}
	if cfg.Parallelism > 0 {
		opts = append(opts, Parallelism(cfg.Parallelism))
	}
	return Start(opts...), nil
}

// Engine returns the session's engine.
func (c *Context) Engine() engine.Engine { return c.eng }

// Parallelize distributes an in-memory collection across numPartitions
// partitions, returning the root RDD of a new lineage. Zero or
// negative numPartitions means the session default. Elements are split
// into contiguous runs so their order is preserved under Collect.
func (c *Context) Parallelize(ctx context.Context, data []any, numPartitions int) (*RDD, error) {
	return c.parallelize(ctx, data, numPartitions, engine.ModeBytes)
}

// ParallelizePairs is Parallelize for key-value data: every element
// must be a KeyValue, and the resulting RDD carries pair mode so it
// can feed the by-key transformations directly.
func (c *Context) ParallelizePairs(ctx context.Context, data []any, numPartitions int) (*RDD, error) {
	for i, e := range data {
		if _, ok := e.(KeyValue); !ok {
			return nil, errors.E(errors.Invalid, fmt.Errorf("mobius: parallelize pairs: element %d is %T, not KeyValue", i, e))
		}
	}
	return c.parallelize(ctx, data, numPartitions, engine.ModePair)
}

func (c *Context) parallelize(ctx context.Context, data []any, numPartitions int, mode engine.Mode) (*RDD, error) {
	if numPartitions < 1 {
		numPartitions = c.parallelism
	}
	parts := make([][]byte, numPartitions)
	for i, chunk := range split(data, numPartitions) {
		p, err := engine.EncodePartition(chunk)
		if err != nil {
			return nil, err
		}
		parts[i] = p
	}
	h, err := c.eng.Parallelize(ctx, parts, mode)
	if err != nil {
		return nil, err
	}
	return &RDD{
		sc:            c,
		handle:        h,
		prevMode:      mode,
		mode:          mode,
		numPartitions: numPartitions,
	}, nil
}

// Stop shuts the session's engine down, releasing any machines it
// holds. RDDs created from the session must not be used afterwards.
func (c *Context) Stop() {
	type shutdowner interface{ Shutdown() }
	if s, ok := c.eng.(shutdowner); ok {
		s.Shutdown()
	}
}

// split cuts data into n contiguous chunks whose sizes differ by at
// most one element.
func split(data []any, n int) [][]any {
	chunks := make([][]any, n)
	base, rem := len(data)/n, len(data)%n
	off := 0
	for i := range chunks {
		size := base
		if i < rem {
			size++
		}
		chunks[i] = data[off : off+size]
		off += size
	}
	return chunks
}

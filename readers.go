// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"context"

	"github.com/arleyschrock/Mobius/rddio"
)

// mapReader transforms elements one to one, in place in the caller's
// output vector.
type mapReader struct {
	fn     func(any) any
	reader rddio.Reader
	err    error
}

func (m *mapReader) Read(ctx context.Context, out []any) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n, err := m.reader.Read(ctx, out)
	for i := 0; i < n; i++ {
		out[i] = m.fn(out[i])
	}
	m.err = err
	return n, err
}

// filterReader keeps elements satisfying the predicate, compacting
// them into the output vector. It keeps reading until it has at least
// one passing element or input is exhausted, so callers never observe
// a spurious empty read.
type filterReader struct {
	pred   func(any) bool
	reader rddio.Reader
	err    error
}

func (f *filterReader) Read(ctx context.Context, out []any) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for {
		n, err := f.reader.Read(ctx, out)
		m := 0
		for i := 0; i < n; i++ {
			if f.pred(out[i]) {
				out[m] = out[i]
				m++
			}
		}
		if err != nil {
			f.err = err
			return m, err
		}
		if m > 0 {
			return m, nil
		}
	}
}

// flatMapReader applies a one-to-many function, buffering overflow
// output so memory use is bounded by one input element's fan-out plus
// one read chunk.
type flatMapReader struct {
	fn     func(any) []any
	reader rddio.Reader

	in           []any
	begIn, endIn int
	out          []any
	eof          bool
	err          error
}

func (f *flatMapReader) Read(ctx context.Context, out []any) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for n < len(out) {
		// Drain pending output from the previous element first.
		if len(f.out) > 0 {
			c := copy(out[n:], f.out)
			f.out = f.out[c:]
			n += c
			continue
		}
		if f.begIn == f.endIn {
			if f.eof {
				break
			}
			if f.in == nil {
				f.in = make([]any, rddio.DefaultChunksize)
			}
			m, err := f.reader.Read(ctx, f.in)
			if err != nil && err != rddio.EOF {
				f.err = err
				return n, err
			}
			f.begIn, f.endIn = 0, m
			f.eof = err == rddio.EOF
			continue
		}
		f.out = f.fn(f.in[f.begIn])
		f.begIn++
	}
	if f.eof && len(f.out) == 0 && f.begIn == f.endIn {
		f.err = rddio.EOF
		return n, rddio.EOF
	}
	return n, nil
}

// takeReader yields at most the first n elements of its input.
type takeReader struct {
	reader rddio.Reader
	n      int
}

func (t *takeReader) Read(ctx context.Context, out []any) (int, error) {
	if t.n <= 0 {
		return 0, rddio.EOF
	}
	if len(out) > t.n {
		out = out[:t.n]
	}
	n, err := t.reader.Read(ctx, out)
	t.n -= n
	if t.n <= 0 && err == nil {
		err = rddio.EOF
	}
	return n, err
}

// deferredReader computes its full output on first read. It is used by
// ops that must consume their whole input before emitting anything,
// such as per-partition grouping; memory use is bounded by one
// partition.
type deferredReader struct {
	compute func(ctx context.Context) ([]any, error)
	reader  rddio.Reader
	err     error
}

func deferred(compute func(ctx context.Context) ([]any, error)) rddio.Reader {
	return &deferredReader{compute: compute}
}

func (d *deferredReader) Read(ctx context.Context, out []any) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.reader == nil {
		elems, err := d.compute(ctx)
		if err != nil {
			d.err = err
			return 0, err
		}
		d.reader = rddio.SliceReader(elems)
	}
	return d.reader.Read(ctx, out)
}

// combining maintains an insertion-ordered accumulator per key, with
// key identity defined by the key's serialized form.
type combining struct {
	index map[string]int
	keys  []any
	accs  []any
}

func newCombining() *combining {
	return &combining{index: make(map[string]int)}
}

func (c *combining) add(key, value any, create func(any) any, merge func(acc, v any) any) {
	fp := fingerprint(key)
	if i, ok := c.index[fp]; ok {
		c.accs[i] = merge(c.accs[i], value)
		return
	}
	c.index[fp] = len(c.keys)
	c.keys = append(c.keys, key)
	c.accs = append(c.accs, create(value))
}

func (c *combining) pairs() []any {
	out := make([]any, len(c.keys))
	for i, k := range c.keys {
		out[i] = KeyValue{k, c.accs[i]}
	}
	return out
}

// combineReader consumes an entire partition of pairs, combining
// values by key, and then yields one pair per key in first-seen order.
func combineReader(in rddio.Reader, create func(any) any, merge func(acc, v any) any) rddio.Reader {
	return deferred(func(ctx context.Context) ([]any, error) {
		var (
			comb = newCombining()
			buf  = make([]any, rddio.DefaultChunksize)
		)
		for {
			n, err := in.Read(ctx, buf)
			for i := 0; i < n; i++ {
				kv := mustKeyValue(buf[i])
				comb.add(kv.Key, kv.Value, create, merge)
			}
			if err == rddio.EOF {
				return comb.pairs(), nil
			}
			if err != nil {
				return nil, err
			}
		}
	})
}

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rddio provides utilities for managing per-partition element
// streams for Mobius operations. Elements are dynamically typed, as
// they represent values decoded from the binding layer's wire format.
package rddio

import (
	"context"

	"github.com/grailbio/base/errors"
)

// DefaultChunksize is the default size used for I/O vectors within the
// rddio package.
const DefaultChunksize = 1024

// EOF is the error returned by Reader.Read when no more data is
// available. EOF is intended as a sentinel error: it signals a
// graceful end of output. If output terminates unexpectedly, a
// different error should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of partition elements. Each
// call to Read reads the next set of available elements.
type Reader interface {
	// Read reads a vector of elements into out. It returns the total
	// number of elements read, or an error. When no more elements are
	// available, Read returns EOF. Read may return EOF when n > 0: in
	// this case, n elements were read, but no more are available.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, out []any) (int, error)
}

type sliceReader struct {
	elems []any
}

// SliceReader returns a Reader that reads the provided elements to
// completion.
func SliceReader(elems []any) Reader {
	return &sliceReader{elems}
}

func (s *sliceReader) Read(ctx context.Context, out []any) (int, error) {
	n := copy(out, s.elems)
	s.elems = s.elems[n:]
	if len(s.elems) == 0 {
		return n, EOF
	}
	return n, nil
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of the
// provided input readers. Once every underlying Reader has returned
// EOF, Read will return EOF, too. Non-EOF errors are returned
// immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out []any) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			m.q = m.q[1:]
			if n > 0 {
				return n, nil
			}
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, nil
		}
	}
	return 0, EOF
}

// ReadAll reads r to completion, returning the accumulated elements.
// ReadAll is not tuned for performance; it buffers the entire stream
// in memory.
func ReadAll(ctx context.Context, r Reader) ([]any, error) {
	var (
		elems []any
		buf   = make([]any, DefaultChunksize)
	)
	for {
		n, err := r.Read(ctx, buf)
		elems = append(elems, buf[:n]...)
		if err == EOF {
			return elems, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

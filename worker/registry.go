// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package worker

import (
	"reflect"
	"sync/atomic"

	"github.com/arleyschrock/Mobius/typecheck"
)

var (
	// Funcs is the global registry of user functions. We rely on
	// deterministic registration order, which is guaranteed by Go's
	// package initialization for a single binary. Worker processes run
	// the same binary as the driver, so a Ref's index resolves to the
	// same function on both sides of the process boundary.
	funcs []reflect.Value
	// FuncsBusy is used to detect data races in registration.
	funcsBusy int32
)

// A Ref names a registered user function. Refs are small serializable
// values; ops capture Refs rather than Go func values so that worker
// functions remain gob-encodable. The zero Ref names no function.
type Ref struct {
	Index uint64
}

// Register adds fn to the global function registry and returns a Ref
// naming it. Register must be called at package initialization time,
// in deterministic order, before any session is started. Register
// panics with a usage error if fn is not a func.
func Register(fn interface{}) Ref {
	v, ok := typecheck.Func(fn)
	if !ok {
		typecheck.Panicf(1, "worker.Register: argument is a %T, not a func", fn)
	}
	if atomic.AddInt32(&funcsBusy, 1) != 1 {
		panic("worker.Register: data race")
	}
	funcs = append(funcs, v)
	ref := Ref{Index: uint64(len(funcs))}
	if atomic.AddInt32(&funcsBusy, -1) != 0 {
		panic("worker.Register: data race")
	}
	return ref
}

// IsNil tells whether the Ref names no function.
func (r Ref) IsNil() bool { return r.Index == 0 }

// Fn resolves the Ref to the registered function. Fn panics if the Ref
// does not resolve, which indicates that driver and worker disagree on
// registration order.
func (r Ref) Fn() interface{} {
	if r.Index == 0 || int(r.Index) > len(funcs) {
		panic("worker: unresolvable function reference; check for local or non-deterministic registration")
	}
	return funcs[r.Index-1].Interface()
}

// Type returns the reflected type of the registered function.
func (r Ref) Type() reflect.Type {
	if r.Index == 0 || int(r.Index) > len(funcs) {
		panic("worker: unresolvable function reference")
	}
	return funcs[r.Index-1].Type()
}

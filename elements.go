// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"encoding/gob"
	"fmt"
)

func init() {
	gob.Register(KeyValue{})
	gob.Register(Pair{})
	gob.Register(Tagged{})
	gob.Register(CoGrouped{})
	gob.Register(Option{})
	gob.Register([]any{})
}

// A KeyValue is the element type of pair RDDs.
type KeyValue struct {
	Key   any
	Value any
}

// A Pair is a generic 2-tuple, used for join results.
type Pair struct {
	First  any
	Second any
}

// A Tagged is a sum value carrying a side discriminant. Values from
// heterogeneously typed RDDs are boxed as Tagged before a multi-way
// cogroup's common combine step, and dispatched by tag inside the
// combiners.
type Tagged struct {
	Tag   int
	Value any
}

// A CoGrouped holds, for one key, the list of values contributed by
// each cogrouped input, indexed by side.
type CoGrouped struct {
	Groups [][]any
}

// An Option is a nullable box distinguishing "key present with no
// value" from "value is the zero value". It has exactly two states:
// defined or undefined. Fields are exported for the wire codec; use
// Some, None and the accessors.
type Option struct {
	Value   any
	Defined bool
}

// Some returns a defined Option holding v.
func Some(v any) Option { return Option{Value: v, Defined: true} }

// None returns the undefined Option.
func None() Option { return Option{} }

// IsDefined tells whether the Option holds a value.
func (o Option) IsDefined() bool { return o.Defined }

// Get returns the held value, panicking if the Option is undefined.
func (o Option) Get() any {
	if !o.Defined {
		panic("mobius: Get of undefined Option")
	}
	return o.Value
}

// GetOrElse returns the held value, or alt if the Option is undefined.
func (o Option) GetOrElse(alt any) any {
	if !o.Defined {
		return alt
	}
	return o.Value
}

// String implements fmt.Stringer.
func (o Option) String() string {
	if !o.Defined {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.Value)
}

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package engine defines the proxy contract between the client-side
// RDD lineage graph and the host cluster engine, together with two
// engine implementations: an in-process engine for development and
// testing, and a bigmachine-backed engine that drives a worker process
// over RPC.
//
// The contract is deliberately narrow. The client constructs requests
// carrying a prior stage handle, serialized worker function bytes,
// serialization-mode tags and a partition count; the engine answers
// with opaque handles, collected partition payloads, or an error
// descriptor. Scheduling, shuffle transport and fault tolerance are
// the engine's business, not the client's.
package engine

import (
	"context"
	"fmt"
)

// A Handle is an opaque reference to a computed or pending stage owned
// by the host engine. Handles are minted by the engine and carry no
// client-interpretable structure.
type Handle string

// A Mode tags the wire encoding of a partition's elements. The mode
// must be threaded consistently from one pipeline stage to the next;
// engines reject stages whose declared input mode differs from the
// output mode of the stage they are rooted at.
type Mode int

const (
	// ModeBytes encodes elements as opaque values.
	ModeBytes Mode = iota
	// ModePair encodes elements as key-value pairs.
	ModePair
	// ModeRow encodes elements as rows.
	ModeRow
)

// String returns the mode's wire-format name.
func (m Mode) String() string {
	switch m {
	case ModeBytes:
		return "bytes"
	case ModePair:
		return "pair"
	case ModeRow:
		return "row"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// A Pipeline is the request envelope for an uncommitted fused stage:
// the handle of the stage it is rooted at, the serialized worker
// function to apply to each of the root's partitions (empty for the
// identity pipeline), the input and output serialization modes, and
// the worker function's provenance trace, which engines include in
// stage failure diagnostics.
type Pipeline struct {
	Handle   Handle
	Func     []byte
	PrevMode Mode
	Mode     Mode
	Trace    string
}

// Engine is the narrow proxy contract consumed by the RDD layer. All
// calls are synchronous: each blocks until the engine responds or the
// context is done. Implementations must fail pending calls with a
// terminal error when the engine becomes unreachable, rather than
// hang.
type Engine interface {
	// Parallelize registers a new dataset from encoded partitions,
	// returning its handle.
	Parallelize(ctx context.Context, partitions [][]byte, mode Mode) (Handle, error)

	// Materialize commits a pipeline as a named stage without computing
	// it. The returned handle may root further pipelines.
	Materialize(ctx context.Context, p Pipeline) (Handle, error)

	// CreatePairwiseRDD commits a pipeline whose elements are
	// destination-tagged (worker.PartitionedValue) and redistributes
	// them into numPartitions partitions. The partitionFuncID
	// identifies the key function used to compute destinations; it is
	// zero for default hash partitioning.
	CreatePairwiseRDD(ctx context.Context, p Pipeline, numPartitions int, partitionFuncID uint64) (Handle, error)

	// Union commits the concatenation of the provided pipelines,
	// preserving partition order within each input.
	Union(ctx context.Context, ps []Pipeline) (Handle, error)

	// RunJob computes the pipeline and returns the encoded elements of
	// the requested partitions, in order. A nil partition list selects
	// every partition.
	RunJob(ctx context.Context, p Pipeline, partitions []int) ([][]byte, error)

	// Save computes the pipeline and writes its elements as text, one
	// file per partition, under path.
	Save(ctx context.Context, p Pipeline, path string) error

	// NumPartitions reports the partition count of a committed stage.
	NumPartitions(ctx context.Context, h Handle) (int, error)
}

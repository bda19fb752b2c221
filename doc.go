// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mobius implements a client binding for a distributed
// data-parallel cluster engine. Programs build a lazily evaluated
// lineage graph of transformations over partitioned datasets (RDDs)
// entirely client-side; adjacent narrow transformations are fused into
// a single serializable worker function, and a terminal action ships
// the accumulated pipeline to the host engine in one blocking round
// trip.
//
// User functions are registered at package initialization time with
// worker.Register so that they can be named across the process
// boundary:
//
//	var double = worker.Register(func(v any) any { return v.(int) * 2 })
//
//	func main() {
//		sc := mobius.Start()
//		rdd, err := sc.Parallelize(ctx, data, 4)
//		...
//		out, err := rdd.Map(double).Collect(ctx)
//	}
//
// Shuffle operations (PartitionBy and the join/combine family) follow
// a fixed three-phase template: a per-partition local combine, a
// repartitioning step performed by the host engine, and a per-partition
// remote merge. Repartitioning is skipped entirely when the dataset is
// already partitioned by an equal partitioner.
package mobius

// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mobius

import (
	"bytes"
	"encoding/gob"
	"reflect"

	"github.com/arleyschrock/Mobius/typecheck"
	"github.com/arleyschrock/Mobius/worker"
	"github.com/spaolacci/murmur3"
)

var typeOfKeyFunc = reflect.TypeOf(func(any) int { return 0 })

// A Partitioner deterministically maps keys to partition indices in
// [0, numPartitions). With a key function, the index is the function's
// result modulo the partition count, normalized to be non-negative.
// Without one, the index is a stable content hash of the key's
// canonical serialized encoding, so the same key lands on the same
// partition in every process.
type Partitioner struct {
	numPartitions int
	keyFunc       worker.Ref
}

// NewHashPartitioner returns a partitioner that assigns keys by
// content hash. It panics with a usage error if numPartitions is not
// positive.
func NewHashPartitioner(numPartitions int) *Partitioner {
	if numPartitions < 1 {
		typecheck.Panicf(1, "partitioner: must have at least one partition; got %d", numPartitions)
	}
	return &Partitioner{numPartitions: numPartitions}
}

// NewPartitioner returns a partitioner that assigns keys using the
// registered key function, which must have type func(any) int.
func NewPartitioner(numPartitions int, keyFunc worker.Ref) *Partitioner {
	if numPartitions < 1 {
		typecheck.Panicf(1, "partitioner: must have at least one partition; got %d", numPartitions)
	}
	if keyFunc.IsNil() {
		return &Partitioner{numPartitions: numPartitions}
	}
	if keyFunc.Type() != typeOfKeyFunc {
		typecheck.Panicf(1, "partitioner: key function has type %s, not func(any) int", keyFunc.Type())
	}
	return &Partitioner{numPartitions: numPartitions, keyFunc: keyFunc}
}

// NumPartitions returns the partitioner's partition count.
func (p *Partitioner) NumPartitions() int { return p.numPartitions }

// PartitionOf returns the partition index assigned to key, always in
// [0, p.NumPartitions()).
func (p *Partitioner) PartitionOf(key any) int {
	return partitionOf(key, p.numPartitions, p.keyFunc)
}

// Equal tells whether two partitioners are interchangeable: same
// partition count and same key function identity (or both hashing).
// Repartitioning by an equal partitioner is a no-op.
func (p *Partitioner) Equal(q *Partitioner) bool {
	if p == nil || q == nil {
		return p == q
	}
	return p.numPartitions == q.numPartitions && p.keyFunc == q.keyFunc
}

// partitionOf implements the shuffle-key computation. It is shared
// with the pairwise op so that the destination computed worker-side
// agrees with the driver's fast-path reasoning.
func partitionOf(key any, numPartitions int, keyFunc worker.Ref) int {
	if !keyFunc.IsNil() {
		i := keyFunc.Fn().(func(any) int)(key) % numPartitions
		if i < 0 {
			i += numPartitions
		}
		return i
	}
	return int(murmur3.Sum32(keyBytes(key)) % uint32(numPartitions))
}

// keyBytes returns the key's canonical byte encoding, the input to the
// default shuffle-key hash. Only the key is hashed, never the value.
func keyBytes(key any) []byte {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(key); err != nil {
		typecheck.Panicf(1, "partitioner: key %v is not encodable: %v", key, err)
	}
	return b.Bytes()
}

// fingerprint returns a stable string form of the key's serialized
// encoding, used for key equality in combiners and lookups.
func fingerprint(key any) string {
	return string(keyBytes(key))
}

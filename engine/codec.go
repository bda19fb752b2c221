// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"encoding/gob"

	"github.com/grailbio/base/errors"
)

// EncodePartition encodes one partition's elements into the wire
// format understood by the host engine. Element types that cross the
// boundary must be registered with gob by the packages that define
// them.
func EncodePartition(elems []any) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(elems); err != nil {
		return nil, errors.E(err, "engine: cannot encode partition")
	}
	return b.Bytes(), nil
}

// DecodePartition decodes one partition's elements from the wire
// format. A nil payload decodes to an empty partition.
func DecodePartition(p []byte) ([]any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	var elems []any
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&elems); err != nil {
		return nil, errors.E(err, "engine: cannot decode partition")
	}
	return elems, nil
}

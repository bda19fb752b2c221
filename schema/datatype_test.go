// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package schema

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomic(t *testing.T) {
	a, err := Atomic(Integer)
	require.NoError(t, err)
	assert.Equal(t, "integer", a.TypeName())

	_, err = Atomic("quaternion")
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestRoundTrip(t *testing.T) {
	in := StructType{Fields: []StructField{
		{Name: "id", Type: AtomicType{Name: Long}, Nullable: false},
		{Name: "tags", Type: ArrayType{Element: AtomicType{Name: String}, ContainsNull: true}, Nullable: true},
		{Name: "loc", Type: StructType{Fields: []StructField{
			{Name: "lat", Type: AtomicType{Name: Double}},
			{Name: "lon", Type: AtomicType{Name: Double}},
		}}, Nullable: true, Metadata: map[string]string{"unit": "deg"}},
	}}
	data, err := MarshalJSONSchema(in)
	require.NoError(t, err)
	out, err := UnmarshalJSONSchema(data)
	require.NoError(t, err)
	assert.Equal(t, DataType(in), out)
}

func TestRoundTripAtomic(t *testing.T) {
	data, err := MarshalJSONSchema(AtomicType{Name: Timestamp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"timestamp"}`, string(data))
	out, err := UnmarshalJSONSchema(data)
	require.NoError(t, err)
	assert.Equal(t, DataType(AtomicType{Name: Timestamp}), out)
}

func TestUnknownDiscriminator(t *testing.T) {
	_, err := UnmarshalJSONSchema([]byte(`{"type":"tensor"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Contains(t, err.Error(), "tensor")
}

func TestMalformed(t *testing.T) {
	_, err := UnmarshalJSONSchema([]byte(`{`))
	assert.True(t, errors.Is(errors.Invalid, err))

	// Arrays must carry an element type.
	_, err = UnmarshalJSONSchema([]byte(`{"type":"array"}`))
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestEncodeRejectsUnknownAtomic(t *testing.T) {
	_, err := MarshalJSONSchema(AtomicType{Name: "blob"})
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestField(t *testing.T) {
	s := StructType{Fields: []StructField{{Name: "a", Type: AtomicType{Name: Boolean}}}}
	f, ok := s.Field("a")
	require.True(t, ok)
	assert.Equal(t, DataType(AtomicType{Name: Boolean}), f.Type)
	_, ok = s.Field("b")
	assert.False(t, ok)
}

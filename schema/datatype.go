// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schema models structured-data types as a tree of atomic,
// array, and struct nodes with a lossless JSON encoding. The JSON form
// uses a "type" discriminator per node, so schemas can be exchanged
// with engines that speak the same layout.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/grailbio/base/errors"
)

// A DataType is one node of a schema tree.
type DataType interface {
	// TypeName returns the node's JSON discriminator.
	TypeName() string
}

// Atomic type names.
const (
	Null      = "null"
	Boolean   = "boolean"
	Byte      = "byte"
	Short     = "short"
	Integer   = "integer"
	Long      = "long"
	Float     = "float"
	Double    = "double"
	Decimal   = "decimal"
	String    = "string"
	Binary    = "binary"
	Date      = "date"
	Timestamp = "timestamp"
)

var atomicNames = map[string]bool{
	Null: true, Boolean: true, Byte: true, Short: true,
	Integer: true, Long: true, Float: true, Double: true,
	Decimal: true, String: true, Binary: true, Date: true,
	Timestamp: true,
}

// An AtomicType is a leaf type with no nested structure.
type AtomicType struct {
	Name string
}

// Atomic returns the atomic type with the given name, failing on names
// that are not atomic.
func Atomic(name string) (AtomicType, error) {
	if !atomicNames[name] {
		return AtomicType{}, errors.E(errors.Invalid, "schema: unknown atomic type", name)
	}
	return AtomicType{Name: name}, nil
}

func (t AtomicType) TypeName() string { return t.Name }

// An ArrayType holds elements of a single type.
type ArrayType struct {
	Element      DataType
	ContainsNull bool
}

func (ArrayType) TypeName() string { return "array" }

// A StructField is one named, typed field of a StructType.
type StructField struct {
	Name     string
	Type     DataType
	Nullable bool
	Metadata map[string]string
}

// A StructType is an ordered sequence of named fields.
type StructType struct {
	Fields []StructField
}

func (StructType) TypeName() string { return "struct" }

// Field returns the named field and whether it exists.
func (t StructType) Field(name string) (StructField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return StructField{}, false
}

// jsonNode is the wire layout of one schema node.
type jsonNode struct {
	Type         string          `json:"type"`
	ElementType  *jsonNode       `json:"elementType,omitempty"`
	ContainsNull bool            `json:"containsNull,omitempty"`
	Fields       []jsonFieldNode `json:"fields,omitempty"`
}

type jsonFieldNode struct {
	Name     string            `json:"name"`
	Type     jsonNode          `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSONSchema encodes a schema tree to its JSON form.
func MarshalJSONSchema(t DataType) ([]byte, error) {
	n, err := encode(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// UnmarshalJSONSchema decodes a schema tree from its JSON form,
// rejecting unknown type discriminators.
func UnmarshalJSONSchema(data []byte) (DataType, error) {
	var n jsonNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.E(errors.Invalid, err, "schema: malformed JSON")
	}
	return decode(n)
}

func encode(t DataType) (jsonNode, error) {
	switch t := t.(type) {
	case AtomicType:
		if !atomicNames[t.Name] {
			return jsonNode{}, errors.E(errors.Invalid, "schema: unknown atomic type", t.Name)
		}
		return jsonNode{Type: t.Name}, nil
	case ArrayType:
		elem, err := encode(t.Element)
		if err != nil {
			return jsonNode{}, err
		}
		return jsonNode{Type: "array", ElementType: &elem, ContainsNull: t.ContainsNull}, nil
	case StructType:
		n := jsonNode{Type: "struct", Fields: make([]jsonFieldNode, len(t.Fields))}
		for i, f := range t.Fields {
			ft, err := encode(f.Type)
			if err != nil {
				return jsonNode{}, err
			}
			n.Fields[i] = jsonFieldNode{Name: f.Name, Type: ft, Nullable: f.Nullable, Metadata: f.Metadata}
		}
		return n, nil
	default:
		return jsonNode{}, errors.E(errors.Invalid, fmt.Errorf("schema: cannot encode %T", t))
	}
}

func decode(n jsonNode) (DataType, error) {
	switch {
	case atomicNames[n.Type]:
		return AtomicType{Name: n.Type}, nil
	case n.Type == "array":
		if n.ElementType == nil {
			return nil, errors.E(errors.Invalid, "schema: array type missing elementType")
		}
		elem, err := decode(*n.ElementType)
		if err != nil {
			return nil, err
		}
		return ArrayType{Element: elem, ContainsNull: n.ContainsNull}, nil
	case n.Type == "struct":
		t := StructType{Fields: make([]StructField, len(n.Fields))}
		for i, f := range n.Fields {
			ft, err := decode(f.Type)
			if err != nil {
				return nil, err
			}
			t.Fields[i] = StructField{Name: f.Name, Type: ft, Nullable: f.Nullable, Metadata: f.Metadata}
		}
		return t, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Errorf("schema: unknown type %q", n.Type))
	}
}

// Package object implements the LWM2M Object Model: the capability table
// every Object exposes (create/read/write/execute/delete), the tagged-union
// Resource value representation, and the read/write expansion logic the
// Client Engine drives requests through.
package object

import (
	"errors"
	"fmt"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/tlv"
)

// DataType tags the Go representation a Resource's Value holds.
type DataType int

const (
	DataTypeString DataType = iota
	DataTypeInt
	DataTypeFloat
	DataTypeBool
	DataTypeOpaque
	DataTypeTime
	DataTypeObjectLink
)

// Arity distinguishes a single-valued resource from a multi-resource (an
// ordered sequence of values keyed by a 16-bit index).
type Arity int

const (
	AritySingle Arity = iota
	ArityMultiple
)

// ObjectLink is the value of a DataTypeObjectLink resource: a reference to
// another Object Instance.
type ObjectLink struct {
	ObjectID   uint16
	InstanceID uint16
}

// Value is the resource value tagged union described in the data model: a
// single scalar, populated according to Type.
type Value struct {
	Type   DataType
	String string
	Int    int64
	Float  float64
	Bool   bool
	Opaque []byte
	Time   int64
	Link   ObjectLink
}

// Resource is a fully materialized resource descriptor: id, type, arity and
// payload. For ArityMultiple resources Values is keyed by instance index;
// for ArityMultiple Value is the zero Value.
type Resource struct {
	ID     uint16
	Type   DataType
	Arity  Arity
	Value  Value
	Values map[uint16]Value
}

// InstanceState is the opaque per-instance handle an Object's capability
// callbacks receive and return; the engine never inspects it.
type InstanceState interface{}

// Object is the capability table bound to a 16-bit Object id, registered
// once at client construction. A nil capability means the corresponding
// operation is unsupported: Create absent means coap.ErrNotImplemented,
// every other absent capability means coap.ErrMethodNotAllowed.
type Object struct {
	ID            uint16
	ResourceCount int

	Create        func(instanceID uint16, payload []byte, contentFormat coap.ContentFormat) (InstanceState, error)
	Read          func(inst InstanceState, resourceID uint16) (Resource, error)
	WriteResource func(inst InstanceState, resourceID uint16, value []byte, contentFormat coap.ContentFormat) error
	WriteTLV      func(inst InstanceState, records []tlv.Record) error
	Execute       func(inst InstanceState, resourceID uint16, arg string) error
	Delete        func(inst InstanceState) error
}

// CanCreate reports whether o supports instance creation.
func (o *Object) CanCreate() bool { return o.Create != nil }

// ReadInstance expands into a read of every resource of inst, 0..ResourceCount-1,
// silently dropping resources whose Read returns coap.ErrNotFound. Returns
// coap.ErrNotFound if the resulting set is empty.
func (o *Object) ReadInstance(inst InstanceState) ([]Resource, error) {
	if o.Read == nil {
		return nil, fmt.Errorf("object %d: %w", o.ID, coap.ErrMethodNotAllowed)
	}
	var out []Resource
	for rid := 0; rid < o.ResourceCount; rid++ {
		r, err := o.Read(inst, uint16(rid))
		if err == nil {
			out = append(out, r)
			continue
		}
		if errors.Is(err, coap.ErrNotFound) {
			continue
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("object %d: %w", o.ID, coap.ErrNotFound)
	}
	return out, nil
}

// ReadResource reads a single resource, translating a nil Read capability
// into coap.ErrMethodNotAllowed.
func (o *Object) ReadResource(inst InstanceState, resourceID uint16) (Resource, error) {
	if o.Read == nil {
		return Resource{}, fmt.Errorf("object %d: %w", o.ID, coap.ErrMethodNotAllowed)
	}
	return o.Read(inst, resourceID)
}

package object

import (
	"fmt"

	"github.com/lwm2m-go/engine/coap"
)

// NewResource builds a resource descriptor from one value (AritySingle) or
// several (ArityMultiple, indexed 0..n-1 in argument order). Every value
// must carry the declared data type.
func NewResource(id uint16, arity Arity, dataType DataType, values ...Value) (Resource, error) {
	for _, v := range values {
		if v.Type != dataType {
			return Resource{}, fmt.Errorf("resource %d: %w: value type %d does not match declared type %d", id, coap.ErrInvalidArgument, v.Type, dataType)
		}
	}
	if arity == AritySingle {
		if len(values) != 1 {
			return Resource{}, fmt.Errorf("resource %d: %w: single-valued resource needs exactly one value", id, coap.ErrInvalidArgument)
		}
		return Resource{ID: id, Type: dataType, Arity: AritySingle, Value: values[0]}, nil
	}
	if len(values) == 0 {
		return Resource{}, fmt.Errorf("resource %d: %w: multi-resource needs at least one value", id, coap.ErrInvalidArgument)
	}
	vals := make(map[uint16]Value, len(values))
	for i, v := range values {
		vals[uint16(i)] = v
	}
	return Resource{ID: id, Type: dataType, Arity: ArityMultiple, Values: vals}, nil
}

// Clear resets r to the zero descriptor, releasing any owned buffers.
func (r *Resource) Clear() {
	*r = Resource{}
}

// The typed constructors below exist so callers never hand-assemble a Value
// with the wrong tag or narrow an integer at the API boundary.

// StringValue returns a string-typed Value.
func StringValue(s string) Value { return Value{Type: DataTypeString, String: s} }

// IntValue returns an integer-typed Value. Take int64 directly: the TLV
// encoder picks the narrowest wire width itself.
func IntValue(n int64) Value { return Value{Type: DataTypeInt, Int: n} }

// FloatValue returns a float-typed Value.
func FloatValue(f float64) Value { return Value{Type: DataTypeFloat, Float: f} }

// BoolValue returns a boolean-typed Value.
func BoolValue(b bool) Value { return Value{Type: DataTypeBool, Bool: b} }

// OpaqueValue returns an opaque-bytes Value.
func OpaqueValue(b []byte) Value { return Value{Type: DataTypeOpaque, Opaque: b} }

// TimeValue returns a time-typed Value (seconds since epoch).
func TimeValue(secs int64) Value { return Value{Type: DataTypeTime, Time: secs} }

// LinkValue returns an object-link Value.
func LinkValue(objectID, instanceID uint16) Value {
	return Value{Type: DataTypeObjectLink, Link: ObjectLink{ObjectID: objectID, InstanceID: instanceID}}
}

// IntResource builds a single-valued integer resource.
func IntResource(id uint16, n int64) Resource {
	r, _ := NewResource(id, AritySingle, DataTypeInt, IntValue(n))
	return r
}

// BoolResource builds a single-valued boolean resource.
func BoolResource(id uint16, b bool) Resource {
	r, _ := NewResource(id, AritySingle, DataTypeBool, BoolValue(b))
	return r
}

// StringResource builds a single-valued string resource.
func StringResource(id uint16, s string) Resource {
	r, _ := NewResource(id, AritySingle, DataTypeString, StringValue(s))
	return r
}

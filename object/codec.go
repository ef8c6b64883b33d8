package object

import (
	"fmt"
	"sort"

	"github.com/lwm2m-go/engine/tlv"
)

// EncodeResource turns a materialized Resource into its TLV record bytes,
// choosing ResourceWithValue for a single-valued resource or
// MultipleResources for a multi-resource, mirroring tlv.EncodeResourceWithValue
// / tlv.EncodeMultipleResource.
func EncodeResource(r Resource) ([]byte, error) {
	if r.Arity == AritySingle {
		v, err := encodeValue(r.Value)
		if err != nil {
			return nil, err
		}
		return tlv.EncodeResourceWithValue(r.ID, v), nil
	}
	indexes := make([]uint16, 0, len(r.Values))
	for idx := range r.Values {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	instances := make([]tlv.ValueRecord, 0, len(indexes))
	for _, idx := range indexes {
		v, err := encodeValue(r.Values[idx])
		if err != nil {
			return nil, err
		}
		instances = append(instances, tlv.ValueRecord{ID: idx, Value: v})
	}
	return tlv.EncodeMultipleResource(r.ID, instances), nil
}

func encodeValue(v Value) ([]byte, error) {
	switch v.Type {
	case DataTypeString:
		return []byte(v.String), nil
	case DataTypeInt, DataTypeTime:
		n := v.Int
		if v.Type == DataTypeTime {
			n = v.Time
		}
		return tlv.EncodeInt(n), nil
	case DataTypeFloat:
		return tlv.EncodeFloat64(v.Float), nil
	case DataTypeBool:
		return tlv.EncodeBool(v.Bool), nil
	case DataTypeOpaque:
		return v.Opaque, nil
	case DataTypeObjectLink:
		return tlv.EncodeObjectLink(v.Link.ObjectID, v.Link.InstanceID), nil
	default:
		return nil, fmt.Errorf("object: unknown data type %d", v.Type)
	}
}

// DecodeValue interprets a TLV record's raw bytes per the resource's
// declared data type.
func DecodeValue(r tlv.Record, dataType DataType) (Value, error) {
	switch dataType {
	case DataTypeString:
		return Value{Type: DataTypeString, String: string(r.Bytes())}, nil
	case DataTypeInt:
		n, err := r.Int()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: DataTypeInt, Int: n}, nil
	case DataTypeTime:
		n, err := r.Int()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: DataTypeTime, Time: n}, nil
	case DataTypeFloat:
		f, err := r.Float()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: DataTypeFloat, Float: f}, nil
	case DataTypeBool:
		b, err := r.Bool()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: DataTypeBool, Bool: b}, nil
	case DataTypeOpaque:
		return Value{Type: DataTypeOpaque, Opaque: r.Bytes()}, nil
	case DataTypeObjectLink:
		objID, instID, err := r.ObjectLink()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: DataTypeObjectLink, Link: ObjectLink{ObjectID: objID, InstanceID: instID}}, nil
	default:
		return Value{}, fmt.Errorf("object: unknown data type %d", dataType)
	}
}

// EncodeObjectInstance encodes every resource of an instance as an
// ObjectInstance-wrapped TLV record.
func EncodeObjectInstance(instanceID uint16, resources []Resource) ([]byte, error) {
	encoded := make([][]byte, 0, len(resources))
	for _, r := range resources {
		b, err := EncodeResource(r)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, b)
	}
	return tlv.EncodeObjectInstance(instanceID, encoded), nil
}

// Package tlv implements the OMA LWM2M TLV binary encoding: a concatenation
// of type-length-value records used on the wire for resource representations.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type is the record kind encoded in the top two bits of a TLV header byte.
type Type uint8

const (
	TypeObjectInstance    Type = 0
	TypeResourceInstance  Type = 64
	TypeMultipleResources Type = 128
	TypeResourceWithValue Type = 192
)

func (t Type) String() string {
	switch t {
	case TypeObjectInstance:
		return "ObjectInstance"
	case TypeResourceInstance:
		return "ResourceInstance"
	case TypeMultipleResources:
		return "MultipleResources"
	case TypeResourceWithValue:
		return "ResourceWithValue"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ErrMalformed is returned (possibly wrapped) whenever a TLV byte sequence
// is truncated or declares a length that overflows the remaining buffer.
var ErrMalformed = errors.New("tlv: malformed record")

// Record is a single decoded TLV entry. Value borrows its backing bytes from
// the buffer passed to Decode; callers that need to retain it beyond the
// call must copy it. Instances is populated only for TypeMultipleResources,
// by recursively decoding Value as a nested sequence of ResourceInstance
// records.
type Record struct {
	Type      Type
	ID        uint16
	Value     []byte
	Instances []Record
}

// Decode walks b and returns every top-level TLV record it contains. A
// MultipleResources record also has its nested ResourceInstance records
// decoded eagerly into Instances.
func Decode(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		rec, rest, err := decodeOne(b)
		if err != nil {
			return nil, err
		}
		if rec.Type == TypeMultipleResources {
			inner, err := decodeOne2(rec.Value)
			if err != nil {
				return nil, fmt.Errorf("tlv: decoding nested resource instances: %w", err)
			}
			rec.Instances = inner
		}
		out = append(out, rec)
		b = rest
	}
	return out, nil
}

// decodeOne2 decodes a fully nested buffer (no leftover bytes tolerated is
// not required; we just decode every record present, same as Decode).
func decodeOne2(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		rec, rest, err := decodeOne(b)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		b = rest
	}
	return out, nil
}

// decodeOne decodes a single record from the front of b, returning the
// record and the remaining bytes after it.
func decodeOne(b []byte) (Record, []byte, error) {
	if len(b) < 1 {
		return Record{}, nil, fmt.Errorf("%w: empty header", ErrMalformed)
	}
	header := b[0]
	typ := Type(header & 0xC0)
	idIs16Bit := header&0x20 != 0
	lengthType := (header >> 3) & 0x03
	shortLength := int(header & 0x07)

	pos := 1
	var id uint16
	if idIs16Bit {
		if len(b) < pos+2 {
			return Record{}, nil, fmt.Errorf("%w: truncated 16-bit id", ErrMalformed)
		}
		id = binary.BigEndian.Uint16(b[pos : pos+2])
		pos += 2
	} else {
		if len(b) < pos+1 {
			return Record{}, nil, fmt.Errorf("%w: truncated 8-bit id", ErrMalformed)
		}
		id = uint16(b[pos])
		pos++
	}

	var length int
	switch lengthType {
	case 0:
		length = shortLength
	case 1:
		if len(b) < pos+1 {
			return Record{}, nil, fmt.Errorf("%w: truncated 1-byte length", ErrMalformed)
		}
		length = int(b[pos])
		pos++
	case 2:
		if len(b) < pos+2 {
			return Record{}, nil, fmt.Errorf("%w: truncated 2-byte length", ErrMalformed)
		}
		length = int(b[pos])<<8 | int(b[pos+1])
		pos += 2
	case 3:
		if len(b) < pos+3 {
			return Record{}, nil, fmt.Errorf("%w: truncated 3-byte length", ErrMalformed)
		}
		length = int(b[pos])<<16 | int(b[pos+1])<<8 | int(b[pos+2])
		pos += 3
	}

	if len(b) < pos+length {
		return Record{}, nil, fmt.Errorf("%w: length %d overflows remaining %d bytes", ErrMalformed, length, len(b)-pos)
	}

	return Record{
		Type:  typ,
		ID:    id,
		Value: b[pos : pos+length],
	}, b[pos+length:], nil
}

// Int decodes the record's value as a big-endian signed integer of width
// 1, 2, 4 or 8 bytes.
func (r Record) Int() (int64, error) {
	switch len(r.Value) {
	case 1:
		return int64(int8(r.Value[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(r.Value))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(r.Value))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(r.Value)), nil
	default:
		return 0, fmt.Errorf("tlv: invalid integer width %d", len(r.Value))
	}
}

// Float decodes the record's value as an IEEE-754 float of width 4 or 8 bytes.
func (r Record) Float() (float64, error) {
	switch len(r.Value) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(r.Value))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(r.Value)), nil
	default:
		return 0, fmt.Errorf("tlv: invalid float width %d", len(r.Value))
	}
}

// Bool decodes the record's value as a single byte, 0 or 1.
func (r Record) Bool() (bool, error) {
	if len(r.Value) != 1 {
		return false, fmt.Errorf("tlv: invalid bool width %d", len(r.Value))
	}
	switch r.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("tlv: invalid bool byte %d", r.Value[0])
	}
}

// Bytes returns an owned copy of the record's raw value, suitable for string
// or opaque resources.
func (r Record) Bytes() []byte {
	out := make([]byte, len(r.Value))
	copy(out, r.Value)
	return out
}

// ObjectLink decodes the record's value as a pair of 16-bit big-endian ids.
func (r Record) ObjectLink() (objectID, instanceID uint16, err error) {
	if len(r.Value) != 4 {
		return 0, 0, fmt.Errorf("tlv: invalid object-link width %d", len(r.Value))
	}
	return binary.BigEndian.Uint16(r.Value[0:2]), binary.BigEndian.Uint16(r.Value[2:4]), nil
}

package tlv

import (
	"bytes"
	"encoding/binary"
	"math"
)

// encodeHeader appends the TLV header and id for a record of the given type
// and id, followed by the length encoding for valueLen, to buf.
func encodeHeader(buf *bytes.Buffer, typ Type, id uint16, valueLen int) {
	var header byte = byte(typ)
	idIs16Bit := id > 0xFF
	if idIs16Bit {
		header |= 0x20
	}

	var lengthType byte
	var shortLength byte
	switch {
	case valueLen <= 7:
		lengthType = 0
		shortLength = byte(valueLen)
	case valueLen <= 0xFF:
		lengthType = 1
	case valueLen <= 0xFFFF:
		lengthType = 2
	default:
		lengthType = 3
	}
	header |= lengthType << 3
	if lengthType == 0 {
		header |= shortLength
	}
	buf.WriteByte(header)

	if idIs16Bit {
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], id)
		buf.Write(idBuf[:])
	} else {
		buf.WriteByte(byte(id))
	}

	switch lengthType {
	case 1:
		buf.WriteByte(byte(valueLen))
	case 2:
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(valueLen))
		buf.Write(lb[:])
	case 3:
		buf.WriteByte(byte(valueLen >> 16))
		buf.WriteByte(byte(valueLen >> 8))
		buf.WriteByte(byte(valueLen))
	}
}

// encodeRecord writes a single record (header + value) to buf.
func encodeRecord(buf *bytes.Buffer, typ Type, id uint16, value []byte) {
	encodeHeader(buf, typ, id, len(value))
	buf.Write(value)
}

// EncodeInt returns the minimal big-endian byte width (1, 2, 4 or 8) that
// can represent v.
func EncodeInt(v int64) []byte {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return []byte{byte(v)}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		return b[:]
	case v >= math.MinInt32 && v <= math.MaxInt32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return b[:]
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		return b[:]
	}
}

// EncodeFloat32 returns the 4-byte IEEE-754 big-endian encoding of v.
func EncodeFloat32(v float32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

// EncodeFloat64 returns the 8-byte IEEE-754 big-endian encoding of v.
func EncodeFloat64(v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

// EncodeBool returns the single-byte encoding of v.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// EncodeObjectLink returns the 4-byte encoding of an object/instance id pair.
func EncodeObjectLink(objectID, instanceID uint16) []byte {
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], objectID)
	binary.BigEndian.PutUint16(b[2:4], instanceID)
	return b[:]
}

// ValueRecord is a single resource value ready for encoding: either a
// singular resource (ResourceWithValue) or one entry of a multi-resource
// (ResourceInstance), keyed by ID.
type ValueRecord struct {
	ID    uint16
	Value []byte
}

// EncodeResourceWithValue encodes a single-valued resource record.
func EncodeResourceWithValue(id uint16, value []byte) []byte {
	var buf bytes.Buffer
	encodeRecord(&buf, TypeResourceWithValue, id, value)
	return buf.Bytes()
}

// EncodeMultipleResource encodes a multi-resource record: resourceID is the
// id of the owning resource, instances are the per-index ResourceInstance
// values nested inside it.
func EncodeMultipleResource(resourceID uint16, instances []ValueRecord) []byte {
	var inner bytes.Buffer
	for _, in := range instances {
		encodeRecord(&inner, TypeResourceInstance, in.ID, in.Value)
	}
	var buf bytes.Buffer
	encodeRecord(&buf, TypeMultipleResources, resourceID, inner.Bytes())
	return buf.Bytes()
}

// EncodeObjectInstance wraps a concatenation of resource records (each
// already individually encoded, e.g. via EncodeResourceWithValue or
// EncodeMultipleResource) into an ObjectInstance record.
func EncodeObjectInstance(instanceID uint16, resourceRecords [][]byte) []byte {
	var inner bytes.Buffer
	for _, r := range resourceRecords {
		inner.Write(r)
	}
	var buf bytes.Buffer
	encodeRecord(&buf, TypeObjectInstance, instanceID, inner.Bytes())
	return buf.Bytes()
}

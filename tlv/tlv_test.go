package tlv

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeResourceWithValue(t *testing.T) {
	cases := []struct {
		name string
		id   uint16
		val  []byte
	}{
		{"small id short value", 9, []byte("acme")},
		{"large id", 300, []byte{1, 2, 3}},
		{"long value forces 1-byte length", 9, bytes.Repeat([]byte{0xAB}, 200)},
		{"very long value forces 2-byte length", 9, bytes.Repeat([]byte{0xCD}, 400)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeResourceWithValue(tc.id, tc.val)
			records, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("got %d records, want 1", len(records))
			}
			r := records[0]
			if r.Type != TypeResourceWithValue {
				t.Errorf("got type %v, want ResourceWithValue", r.Type)
			}
			if r.ID != tc.id {
				t.Errorf("got id %d, want %d", r.ID, tc.id)
			}
			if !bytes.Equal(r.Value, tc.val) {
				t.Errorf("got value %v, want %v", r.Value, tc.val)
			}
		})
	}
}

func TestEncodeDecodeMultipleResource(t *testing.T) {
	instances := []ValueRecord{
		{ID: 0, Value: EncodeInt(1)},
		{ID: 1, Value: EncodeInt(2)},
		{ID: 5, Value: EncodeInt(300)},
	}
	encoded := EncodeMultipleResource(8, instances)
	records, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.Type != TypeMultipleResources {
		t.Fatalf("got type %v, want MultipleResources", r.Type)
	}
	if r.ID != 8 {
		t.Fatalf("got id %d, want 8", r.ID)
	}
	if len(r.Instances) != len(instances) {
		t.Fatalf("got %d nested instances, want %d", len(r.Instances), len(instances))
	}
	for i, in := range r.Instances {
		if in.Type != TypeResourceInstance {
			t.Errorf("instance %d: got type %v, want ResourceInstance", i, in.Type)
		}
		if in.ID != instances[i].ID {
			t.Errorf("instance %d: got id %d, want %d", i, in.ID, instances[i].ID)
		}
		got, err := in.Int()
		if err != nil {
			t.Fatalf("instance %d: Int: %v", i, err)
		}
		want, _ := Record{Value: instances[i].Value}.Int()
		if got != want {
			t.Errorf("instance %d: got %d, want %d", i, got, want)
		}
	}
}

func TestEncodeDecodeObjectInstance(t *testing.T) {
	r1 := EncodeResourceWithValue(0, []byte("abc"))
	r2 := EncodeResourceWithValue(1, EncodeBool(true))
	encoded := EncodeObjectInstance(0, [][]byte{r1, r2})
	records, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 1 || records[0].Type != TypeObjectInstance {
		t.Fatalf("got %+v, want single ObjectInstance", records)
	}
	inner, err := Decode(records[0].Value)
	if err != nil {
		t.Fatalf("Decode inner: %v", err)
	}
	if len(inner) != 2 {
		t.Fatalf("got %d inner records, want 2", len(inner))
	}
}

func TestValueRoundTrip(t *testing.T) {
	t.Run("int widths", func(t *testing.T) {
		for _, v := range []int64{0, 1, -1, 127, -128, 128, 32767, -32768, 40000, -40000, 1 << 40, -(1 << 40)} {
			enc := EncodeInt(v)
			got, err := (Record{Value: enc}).Int()
			if err != nil {
				t.Fatalf("Int(%d): %v", v, err)
			}
			if got != v {
				t.Errorf("Int round trip: got %d want %d (encoded width %d)", got, v, len(enc))
			}
		}
	})
	t.Run("float32", func(t *testing.T) {
		v := float32(3.5)
		enc := EncodeFloat32(v)
		got, err := (Record{Value: enc}).Float()
		if err != nil {
			t.Fatalf("Float: %v", err)
		}
		if float32(got) != v {
			t.Errorf("got %v want %v", got, v)
		}
	})
	t.Run("float64", func(t *testing.T) {
		v := 1234.5678
		enc := EncodeFloat64(v)
		got, err := (Record{Value: enc}).Float()
		if err != nil {
			t.Fatalf("Float: %v", err)
		}
		if got != v {
			t.Errorf("got %v want %v", got, v)
		}
	})
	t.Run("bool", func(t *testing.T) {
		for _, v := range []bool{true, false} {
			got, err := (Record{Value: EncodeBool(v)}).Bool()
			if err != nil {
				t.Fatalf("Bool: %v", err)
			}
			if got != v {
				t.Errorf("got %v want %v", got, v)
			}
		}
	})
	t.Run("object link", func(t *testing.T) {
		got1, got2, err := (Record{Value: EncodeObjectLink(3, 7)}).ObjectLink()
		if err != nil {
			t.Fatalf("ObjectLink: %v", err)
		}
		if got1 != 3 || got2 != 7 {
			t.Errorf("got (%d,%d) want (3,7)", got1, got2)
		}
	})
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"truncated 8-bit id", []byte{0xC0}},
		{"truncated 16-bit id", []byte{0xE0, 0x01}},
		{"length overflow", []byte{0xC0, 0x09, 0x05, 0x01}}, // says 5 bytes, only 1 present
		{"truncated 1-byte length", []byte{0xC8, 0x09}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.in); err == nil {
				t.Errorf("Decode(%v): expected error, got nil", tc.in)
			}
		})
	}
}

func TestEncodeMinimalWidths(t *testing.T) {
	// id <= 0xFF must use the 8-bit id form (no 0x20 bit set)
	enc := EncodeResourceWithValue(9, []byte("x"))
	if enc[0]&0x20 != 0 {
		t.Errorf("expected 8-bit id form for id=9, got header %08b", enc[0])
	}
	// id > 0xFF must use the 16-bit id form
	enc = EncodeResourceWithValue(300, []byte("x"))
	if enc[0]&0x20 == 0 {
		t.Errorf("expected 16-bit id form for id=300, got header %08b", enc[0])
	}
	// short values (<=7 bytes) must use the inline length form
	enc = EncodeResourceWithValue(9, []byte("abcdefg"))
	if (enc[0]>>3)&0x03 != 0 {
		t.Errorf("expected inline length form for 7-byte value, got header %08b", enc[0])
	}
}

package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: 0, Body: nil},
		{Type: 7, Body: []byte("hello")},
		{Type: 255, Body: make([]byte, 1024)},
	}

	for _, f := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}

		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Type != f.Type {
			t.Errorf("type = %d, want %d", got.Type, f.Type)
		}
		if !bytes.Equal(got.Body, f.Body) {
			t.Errorf("body = %v, want %v", got.Body, f.Body)
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: 1, Body: make([]byte, MaxFrameSize+1)}
	if err := WriteFrame(&buf, f); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestWriterReaderPrimitives(t *testing.T) {
	w := NewWriter()
	w.PutUint8(9).PutUint32(1234).PutUint64(9999999999).PutString("affinity-key").PutBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())

	u8, err := r.GetUint8()
	if err != nil || u8 != 9 {
		t.Fatalf("GetUint8 = %d, %v", u8, err)
	}

	u32, err := r.GetUint32()
	if err != nil || u32 != 1234 {
		t.Fatalf("GetUint32 = %d, %v", u32, err)
	}

	u64, err := r.GetUint64()
	if err != nil || u64 != 9999999999 {
		t.Fatalf("GetUint64 = %d, %v", u64, err)
	}

	s, err := r.GetString()
	if err != nil || s != "affinity-key" {
		t.Fatalf("GetString = %q, %v", s, err)
	}

	b, err := r.GetBytes()
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("GetBytes = %v, %v", b, err)
	}

	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0, 0})
	if _, err := r.GetUint32(); err == nil {
		t.Fatal("expected short-buffer error")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry()

	c, ok := reg.Lookup(ProtocolJSON)
	if !ok {
		t.Fatal("expected JSON codec to be registered")
	}

	data, err := c.Encode(map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out map[string]int
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("out[a] = %d, want 1", out["a"])
	}

	if _, err := reg.MustLookup("unknown"); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

package encoding

import "testing"

func TestFixedWidthRoundTrip(t *testing.T) {
	buf := AppendFixed32(nil, 0xDEADBEEF)
	if got := DecodeFixed32(buf); got != 0xDEADBEEF {
		t.Fatalf("DecodeFixed32 = %x, want DEADBEEF", got)
	}
	buf = AppendFixed64(nil, 0x0123456789ABCDEF)
	if got := DecodeFixed64(buf); got != 0x0123456789ABCDEF {
		t.Fatalf("DecodeFixed64 = %x, want 0123456789ABCDEF", got)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 32, ^uint64(0)} {
		buf := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(buf)
		if err != nil || got != v || n != len(buf) {
			t.Fatalf("varint64 round trip of %d = %d, %d, %v", v, got, n, err)
		}
	}
	for _, v := range []uint32{0, 1, 127, 128, 300, ^uint32(0)} {
		buf := AppendVarint32(nil, v)
		got, n, err := DecodeVarint32(buf)
		if err != nil || got != v || n != len(buf) {
			t.Fatalf("varint32 round trip of %d = %d, %d, %v", v, got, n, err)
		}
	}
}

func TestDecodeVarint32RejectsTruncatedInput(t *testing.T) {
	if _, _, err := DecodeVarint32([]byte{0x80}); err != ErrVarintTermination {
		t.Fatalf("err = %v, want ErrVarintTermination", err)
	}
	overflow := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	if _, _, err := DecodeVarint32(overflow); err != ErrVarintOverflow {
		t.Fatalf("err = %v, want ErrVarintOverflow", err)
	}
}

func TestLengthPrefixedSliceRoundTrip(t *testing.T) {
	buf := AppendLengthPrefixedSlice(nil, []byte("payload"))
	s := NewSlice(buf)
	got, ok := s.GetLengthPrefixedSlice()
	if !ok || string(got) != "payload" {
		t.Fatalf("GetLengthPrefixedSlice = %q, %v, want payload", got, ok)
	}
	if s.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", s.Remaining())
	}
}

func TestSliceSequentialReads(t *testing.T) {
	var buf []byte
	buf = AppendVarint32(buf, 7)
	buf = AppendFixed32(buf, 42)
	buf = AppendVarint64(buf, 99)
	buf = append(buf, "xy"...)

	s := NewSlice(buf)
	v32, ok := s.GetVarint32()
	if !ok || v32 != 7 {
		t.Fatalf("GetVarint32 = %d, %v, want 7", v32, ok)
	}
	f32, ok := s.GetFixed32()
	if !ok || f32 != 42 {
		t.Fatalf("GetFixed32 = %d, %v, want 42", f32, ok)
	}
	v64, ok := s.GetVarint64()
	if !ok || v64 != 99 {
		t.Fatalf("GetVarint64 = %d, %v, want 99", v64, ok)
	}
	rest, ok := s.GetBytes(2)
	if !ok || string(rest) != "xy" {
		t.Fatalf("GetBytes(2) = %q, %v, want xy", rest, ok)
	}
	if s.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", s.Remaining())
	}
}

func TestSliceGetBytesFailsPastEnd(t *testing.T) {
	s := NewSlice([]byte{1, 2, 3})
	if _, ok := s.GetBytes(10); ok {
		t.Fatal("expected GetBytes to fail when requesting more than remains")
	}
}

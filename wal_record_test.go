package ordkv

import (
	"bytes"
	"testing"

	"github.com/ordkv/ordkv/internal/block"
)

func TestWalRecordRoundTrip(t *testing.T) {
	record := encodeWalRecord([]byte("hello"), 42, block.Value{Bytes: []byte("world")})
	key, seq, v, ok := decodeWalRecord(record)
	if !ok {
		t.Fatal("decodeWalRecord returned ok=false")
	}
	if !bytes.Equal(key, []byte("hello")) {
		t.Fatalf("key = %q, want hello", key)
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
	if v.Tombstone || !bytes.Equal(v.Bytes, []byte("world")) {
		t.Fatalf("value = %+v, want {Bytes: world}", v)
	}
}

func TestWalRecordTombstoneRoundTrip(t *testing.T) {
	record := encodeWalRecord([]byte("k"), 1, block.Value{Tombstone: true})
	_, _, v, ok := decodeWalRecord(record)
	if !ok || !v.Tombstone {
		t.Fatalf("decodeWalRecord = %+v, %v, want a visible tombstone", v, ok)
	}
}

func TestWalRecordRejectsTruncated(t *testing.T) {
	record := encodeWalRecord([]byte("key"), 1, block.Value{Bytes: []byte("value")})
	if _, _, _, ok := decodeWalRecord(record[:len(record)-1]); ok {
		t.Fatal("expected decodeWalRecord to reject a truncated record")
	}
	if _, _, _, ok := decodeWalRecord(nil); ok {
		t.Fatal("expected decodeWalRecord to reject an empty record")
	}
}

package block

import (
	"github.com/ordkv/ordkv/internal/encoding"
	"github.com/ordkv/ordkv/internal/errs"
)

// Value is the item payload stored in a data block: either a write
// (Bytes, Tombstone=false) or a deletion marker (Tombstone=true, Bytes
// empty).
type Value struct {
	Bytes     []byte
	Tombstone bool
}

const (
	tombstoneMarker byte = 0
	presentMarker   byte = 1
)

// EncodeValue serializes a Value for storage as a data-block item.
func EncodeValue(v Value) []byte {
	if v.Tombstone {
		return []byte{tombstoneMarker}
	}
	buf := make([]byte, 0, 1+5+len(v.Bytes))
	buf = append(buf, presentMarker)
	buf = encoding.AppendVarint32(buf, uint32(len(v.Bytes)))
	buf = append(buf, v.Bytes...)
	return buf
}

// DecodeValue parses an item payload previously produced by EncodeValue.
func DecodeValue(item []byte) (Value, error) {
	if len(item) < 1 {
		return Value{}, errs.New(errs.SerializationError, "block.DecodeValue", nil)
	}
	if item[0] == tombstoneMarker {
		return Value{Tombstone: true}, nil
	}
	length, n, err := encoding.DecodeVarint32(item[1:])
	if err != nil || 1+n+int(length) != len(item) {
		return Value{}, errs.New(errs.SerializationError, "block.DecodeValue", err)
	}
	return Value{Bytes: item[1+n:]}, nil
}

// ValueItemDecoder is the ItemDecoder for data blocks.
func ValueItemDecoder(rest []byte) (item []byte, consumed int) {
	if len(rest) < 1 {
		return nil, 0
	}
	if rest[0] == tombstoneMarker {
		return rest[:1], 1
	}
	length, n, err := encoding.DecodeVarint32(rest[1:])
	if err != nil {
		return nil, 0
	}
	total := 1 + n + int(length)
	if total > len(rest) {
		return nil, 0
	}
	return rest[:total], total
}

// Index locates a data block within an SST's data region.
type Index struct {
	Offset uint32
	Length uint32
}

const indexItemSize = 8

// EncodeIndex serializes an Index for storage as an index-block item.
func EncodeIndex(idx Index) []byte {
	buf := make([]byte, 0, indexItemSize)
	buf = encoding.AppendFixed32(buf, idx.Offset)
	buf = encoding.AppendFixed32(buf, idx.Length)
	return buf
}

// DecodeIndex parses an item payload previously produced by EncodeIndex.
func DecodeIndex(item []byte) (Index, error) {
	if len(item) != indexItemSize {
		return Index{}, errs.New(errs.SerializationError, "block.DecodeIndex", nil)
	}
	return Index{
		Offset: encoding.DecodeFixed32(item[0:4]),
		Length: encoding.DecodeFixed32(item[4:8]),
	}, nil
}

// IndexItemDecoder is the ItemDecoder for index blocks.
func IndexItemDecoder(rest []byte) (item []byte, consumed int) {
	if len(rest) < indexItemSize {
		return nil, 0
	}
	return rest[:indexItemSize], indexItemSize
}

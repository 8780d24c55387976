package ordkv

import (
	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/encoding"
)

// A WAL record carries exactly what is needed to replay one mutation into
// the MemTable on recovery: varint32(len(key)) | key | seq(fixed64) |
// encoded value. This mirrors internal/memtable's own entry framing
// (length-prefixed key ahead of a fixed-width seq) so the two layers
// agree on how a mutation's identity is split from its payload.
func encodeWalRecord(key []byte, seq uint64, v block.Value) []byte {
	item := block.EncodeValue(v)
	buf := make([]byte, 0, 5+len(key)+8+len(item))
	buf = encoding.AppendVarint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = encoding.AppendFixed64(buf, seq)
	buf = append(buf, item...)
	return buf
}

func decodeWalRecord(record []byte) (key []byte, seq uint64, value block.Value, ok bool) {
	klen, n, err := encoding.DecodeVarint32(record)
	if err != nil || int(klen)+n+8 > len(record) {
		return nil, 0, block.Value{}, false
	}
	record = record[n:]
	key = record[:klen]
	record = record[klen:]
	seq = encoding.DecodeFixed64(record[:8])
	item := record[8:]

	v, err := block.DecodeValue(item)
	if err != nil {
		return nil, 0, block.Value{}, false
	}
	return key, seq, v, true
}

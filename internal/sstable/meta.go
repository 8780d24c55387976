package sstable

import "github.com/ordkv/ordkv/internal/encoding"

// meta is the decoded contents of an SST's meta block: the bloom filter
// bytes plus the bookkeeping spec.md §3 assigns to it (entry count,
// restart intervals — kept here rather than re-deriving them from the
// data/index blocks on every open).
type meta struct {
	bloom               []byte
	numEntries          uint64
	dataRestartInterval uint32
	indexRestartInterval uint32
}

// encodeMeta serializes m as length-prefixed fields; this block is never
// compressed (spec.md §4.2) and has no restart structure of its own — it
// isn't a block-codec block at all, just a flat record.
func encodeMeta(m meta) []byte {
	buf := encoding.AppendVarint64(nil, m.numEntries)
	buf = encoding.AppendFixed32(buf, m.dataRestartInterval)
	buf = encoding.AppendFixed32(buf, m.indexRestartInterval)
	buf = encoding.AppendLengthPrefixedSlice(buf, m.bloom)
	return buf
}

func decodeMeta(data []byte) (meta, bool) {
	s := encoding.NewSlice(data)
	numEntries, ok := s.GetVarint64()
	if !ok {
		return meta{}, false
	}
	dri, ok := s.GetFixed32()
	if !ok {
		return meta{}, false
	}
	iri, ok := s.GetFixed32()
	if !ok {
		return meta{}, false
	}
	bloom, ok := s.GetLengthPrefixedSlice()
	if !ok {
		return meta{}, false
	}
	return meta{
		bloom:                bloom,
		numEntries:           numEntries,
		dataRestartInterval:  dri,
		indexRestartInterval: iri,
	}, true
}

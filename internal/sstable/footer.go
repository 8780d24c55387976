// Package sstable implements the immutable on-disk sorted table: data
// blocks in key order, followed by an index block, a meta block (bloom
// filter plus bookkeeping), and a fixed-size footer.
package sstable

import "github.com/ordkv/ordkv/internal/encoding"

// Footer is the fixed-size trailer at the end of every SST file.
type Footer struct {
	Level       uint8
	IndexOffset uint32
	IndexLen    uint32
	MetaOffset  uint32
	MetaLen     uint32
	SizeOfDisk  uint32
}

// FooterSize is the encoded size of a Footer in bytes.
const FooterSize = 1 + 4 + 4 + 4 + 4 + 4

// Encode serializes the footer, little-endian, fixed-width.
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterSize)
	buf = append(buf, f.Level)
	buf = encoding.AppendFixed32(buf, f.IndexOffset)
	buf = encoding.AppendFixed32(buf, f.IndexLen)
	buf = encoding.AppendFixed32(buf, f.MetaOffset)
	buf = encoding.AppendFixed32(buf, f.MetaLen)
	buf = encoding.AppendFixed32(buf, f.SizeOfDisk)
	return buf
}

// DecodeFooter parses a Footer from its fixed-size encoding.
func DecodeFooter(data []byte) (Footer, bool) {
	if len(data) != FooterSize {
		return Footer{}, false
	}
	return Footer{
		Level:       data[0],
		IndexOffset: encoding.DecodeFixed32(data[1:5]),
		IndexLen:    encoding.DecodeFixed32(data[5:9]),
		MetaOffset:  encoding.DecodeFixed32(data[9:13]),
		MetaLen:     encoding.DecodeFixed32(data[13:17]),
		SizeOfDisk:  encoding.DecodeFixed32(data[17:21]),
	}, true
}

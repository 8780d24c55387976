package sstable

import (
	"math"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/compression"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/filter"
	"github.com/ordkv/ordkv/internal/ioengine"
)

// BuilderOptions configures one SST build.
type BuilderOptions struct {
	Level                uint8
	BlockSize            int
	DataRestartInterval  int
	IndexRestartInterval int
	Compression          compression.Type
	DesiredErrorProb     float64
	Comparator           Comparator
}

// Builder accumulates (key, value) pairs in increasing key order and
// writes one immutable SST in a single pass: data blocks, then the index
// block, then the meta block, then the footer — per spec.md §4.3.
type Builder struct {
	w    ioengine.Writer
	opts BuilderOptions

	dataBuilder  *block.Builder
	indexBuilder *block.Builder
	bloom        *filter.Builder

	dataOffset int64
	firstKey   []byte
	lastKey    []byte
	numEntries uint64
	started    bool
}

// NewBuilder creates a Builder writing through w, which must be
// positioned at offset 0.
func NewBuilder(w ioengine.Writer, opts BuilderOptions) *Builder {
	bitsPerKey := bitsPerKeyForErrorProb(opts.DesiredErrorProb)
	return &Builder{
		w:            w,
		opts:         opts,
		dataBuilder:  block.NewBuilder(opts.DataRestartInterval),
		indexBuilder: block.NewBuilder(opts.IndexRestartInterval),
		bloom:        filter.NewBuilder(bitsPerKey),
	}
}

// bitsPerKeyForErrorProb converts a target false-positive rate into the
// bits-per-key parameter the cache-local bloom filter actually takes:
// bits ≈ -log2(p) / ln(2).
func bitsPerKeyForErrorProb(p float64) int {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	bits := -math.Log2(p) / math.Ln2
	if bits < 1 {
		bits = 1
	}
	return int(math.Ceil(bits))
}

// Add appends one (key, value) entry. key must be strictly greater than
// the previously added key.
func (b *Builder) Add(key []byte, value block.Value) error {
	if b.started && b.opts.Comparator(key, b.lastKey) <= 0 {
		return errs.New(errs.Other, "sstable.Builder.Add", nil)
	}
	if !b.started {
		b.firstKey = append([]byte(nil), key...)
		b.started = true
	}

	b.dataBuilder.Add(key, block.EncodeValue(value))
	b.bloom.AddKey(key)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++

	if b.dataBuilder.EstimatedSize() >= b.opts.BlockSize {
		if err := b.flushDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) flushDataBlock() error {
	if b.dataBuilder.Empty() {
		return nil
	}
	raw := b.dataBuilder.Finish()
	payload, err := compression.Compress(b.opts.Compression, raw)
	if err != nil {
		return errs.New(errs.Other, "sstable.Builder.flushDataBlock", err)
	}
	encoded := encodeCompressedBlock(b.opts.Compression, payload)

	if _, err := b.w.Write(encoded); err != nil {
		return errs.New(errs.Io, "sstable.Builder.flushDataBlock", err)
	}

	idx := block.Index{Offset: uint32(b.dataOffset), Length: uint32(len(encoded))}
	b.indexBuilder.Add(b.lastKey, block.EncodeIndex(idx))

	b.dataOffset += int64(len(encoded))
	b.dataBuilder.Reset()
	return nil
}

// Empty reports whether any entries were added.
func (b *Builder) Empty() bool { return b.numEntries == 0 }

// Finish flushes any pending data block, writes the index block, the
// meta block, and the footer, and returns the Scope describing this
// table's key range.
func (b *Builder) Finish() (Scope, error) {
	if err := b.flushDataBlock(); err != nil {
		return Scope{}, err
	}

	indexRaw := b.indexBuilder.Finish()
	indexOffset := b.dataOffset
	if _, err := b.w.Write(indexRaw); err != nil {
		return Scope{}, errs.New(errs.Io, "sstable.Builder.Finish", err)
	}

	metaBytes := encodeMeta(meta{
		bloom:                b.bloom.Finish(),
		numEntries:           b.numEntries,
		dataRestartInterval:  uint32(b.opts.DataRestartInterval),
		indexRestartInterval: uint32(b.opts.IndexRestartInterval),
	})
	metaOffset := indexOffset + int64(len(indexRaw))
	if _, err := b.w.Write(metaBytes); err != nil {
		return Scope{}, errs.New(errs.Io, "sstable.Builder.Finish", err)
	}

	footer := Footer{
		Level:       b.opts.Level,
		IndexOffset: uint32(indexOffset),
		IndexLen:    uint32(len(indexRaw)),
		MetaOffset:  uint32(metaOffset),
		MetaLen:     uint32(len(metaBytes)),
		SizeOfDisk:  uint32(metaOffset + int64(len(metaBytes)) + FooterSize),
	}
	if _, err := b.w.Write(footer.Encode()); err != nil {
		return Scope{}, errs.New(errs.Io, "sstable.Builder.Finish", err)
	}
	if err := b.w.Sync(); err != nil {
		return Scope{}, errs.New(errs.Io, "sstable.Builder.Finish", err)
	}

	return Scope{StartKey: b.firstKey, EndKey: b.lastKey}, nil
}

// compressionTagSize is the one-byte compression-type tag prefixed to
// every stored data block, so a reader knows how to decode it without
// consulting external metadata.
const compressionTagSize = 1

func encodeCompressedBlock(t compression.Type, payload []byte) []byte {
	buf := make([]byte, 0, compressionTagSize+len(payload))
	buf = append(buf, byte(t))
	buf = append(buf, payload...)
	return buf
}

func decodeCompressedBlock(data []byte, uncompressedSizeHint int) ([]byte, error) {
	if len(data) < compressionTagSize {
		return nil, errs.New(errs.SerializationError, "sstable.decodeCompressedBlock", nil)
	}
	t := compression.Type(data[0])
	payload := data[compressionTagSize:]
	out, err := compression.DecompressWithSize(t, payload, uncompressedSizeHint)
	if err != nil {
		return nil, errs.New(errs.SerializationError, "sstable.decodeCompressedBlock", err)
	}
	return out, nil
}

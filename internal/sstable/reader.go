package sstable

import (
	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/filter"
	"github.com/ordkv/ordkv/internal/ioengine"
)

// SSTable is an opened, immutable on-disk sorted table. Per spec.md §4.3,
// only the footer, the meta block, and a bloom filter reader are kept
// resident; index and data blocks load lazily through the shared block
// cache.
type SSTable struct {
	Gen   uint64
	Scope Scope

	reader ioengine.Reader
	footer Footer
	meta   meta
	bloom  *filter.Reader
	cache  *cache.BlockCache
	cmp    Comparator
}

// Open reads an SST's footer and meta block (but not its index or data
// blocks) from reader, which must remain open for the SSTable's lifetime.
func Open(gen uint64, scope Scope, reader ioengine.Reader, blockCache *cache.BlockCache, cmp Comparator) (*SSTable, error) {
	size := reader.Size()
	if size < FooterSize {
		return nil, errs.New(errs.SerializationError, "sstable.Open", nil)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := reader.ReadAt(footerBuf, size-FooterSize); err != nil {
		return nil, errs.New(errs.Io, "sstable.Open", err)
	}
	footer, ok := DecodeFooter(footerBuf)
	if !ok {
		return nil, errs.New(errs.SerializationError, "sstable.Open", nil)
	}

	metaBuf := make([]byte, footer.MetaLen)
	if _, err := reader.ReadAt(metaBuf, int64(footer.MetaOffset)); err != nil {
		return nil, errs.New(errs.Io, "sstable.Open", err)
	}
	m, ok := decodeMeta(metaBuf)
	if !ok {
		return nil, errs.New(errs.SerializationError, "sstable.Open", nil)
	}

	return &SSTable{
		Gen:    gen,
		Scope:  scope,
		reader: reader,
		footer: footer,
		meta:   m,
		bloom:  filter.NewReader(m.bloom),
		cache:  blockCache,
		cmp:    cmp,
	}, nil
}

// Level reports the SST's assigned level, as recorded in its footer.
func (t *SSTable) Level() uint8 { return t.footer.Level }

// NumEntries is the total entry count recorded in the meta block.
func (t *SSTable) NumEntries() uint64 { return t.meta.numEntries }

// SizeOfDisk is the SST's total on-disk size, as recorded in its footer.
func (t *SSTable) SizeOfDisk() uint64 { return uint64(t.footer.SizeOfDisk) }

// Close releases the underlying file handle.
func (t *SSTable) Close() error { return t.reader.Close() }

func (t *SSTable) indexKey() cache.Key {
	return cache.Key{Gen: t.Gen, HasIndex: false}
}

func (t *SSTable) dataKey(idx block.Index) cache.Key {
	return cache.Key{Gen: t.Gen, HasIndex: true, Offset: idx.Offset, Length: idx.Length}
}

func (t *SSTable) loadIndexBlock() (*block.Block, error) {
	v, err := t.cache.GetOrInsert(t.indexKey(), func() (any, uint64, error) {
		buf := make([]byte, t.footer.IndexLen)
		if _, err := t.reader.ReadAt(buf, int64(t.footer.IndexOffset)); err != nil {
			return nil, 0, errs.New(errs.Io, "sstable.loadIndexBlock", err)
		}
		// Index blocks are never compressed (spec.md §4.2).
		blk, err := block.Parse(buf)
		if err != nil {
			return nil, 0, err
		}
		return blk, uint64(len(buf)), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*block.Block), nil
}

func (t *SSTable) loadDataBlock(idx block.Index) (*block.Block, error) {
	v, err := t.cache.GetOrInsert(t.dataKey(idx), func() (any, uint64, error) {
		buf := make([]byte, idx.Length)
		if _, err := t.reader.ReadAt(buf, int64(idx.Offset)); err != nil {
			return nil, 0, errs.New(errs.Io, "sstable.loadDataBlock", err)
		}
		raw, err := decodeCompressedBlock(buf, 0)
		if err != nil {
			return nil, 0, err
		}
		blk, err := block.Parse(raw)
		if err != nil {
			return nil, 0, err
		}
		return blk, uint64(idx.Length), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*block.Block), nil
}

// Query looks up key, per spec.md §4.3: bloom filter short-circuit, then
// index block to find the covering data block, then the data block
// itself. ok is false if the key is absent; a present tombstone is
// returned with Tombstone=true and ok=true.
func (t *SSTable) Query(key []byte) (block.Value, bool, error) {
	if t.bloom != nil && !t.bloom.MayContain(key) {
		return block.Value{}, false, nil
	}

	indexBlock, err := t.loadIndexBlock()
	if err != nil {
		return block.Value{}, false, err
	}

	cmp := block.Comparator(t.cmp)
	_, item, ok := indexBlock.FindWithUpper(key, cmp, block.IndexItemDecoder)
	if !ok {
		return block.Value{}, false, nil
	}
	idx, err := block.DecodeIndex(item)
	if err != nil {
		return block.Value{}, false, err
	}

	dataBlock, err := t.loadDataBlock(idx)
	if err != nil {
		return block.Value{}, false, err
	}

	valItem, ok := dataBlock.Find(key, cmp, block.ValueItemDecoder)
	if !ok {
		return block.Value{}, false, nil
	}
	v, err := block.DecodeValue(valItem)
	if err != nil {
		return block.Value{}, false, err
	}
	return v, true, nil
}

// ForEach iterates every (key, value) pair in key order, calling fn until
// it returns false.
func (t *SSTable) ForEach(fn func(key []byte, value block.Value) bool) error {
	indexBlock, err := t.loadIndexBlock()
	if err != nil {
		return err
	}

	stopped := false
	indexBlock.ForEach(block.IndexItemDecoder, func(_ []byte, item []byte) bool {
		idx, derr := block.DecodeIndex(item)
		if derr != nil {
			stopped = true
			return false
		}
		dataBlock, derr := t.loadDataBlock(idx)
		if derr != nil {
			stopped = true
			return false
		}
		dataBlock.ForEach(block.ValueItemDecoder, func(key []byte, vitem []byte) bool {
			v, derr := block.DecodeValue(vitem)
			if derr != nil {
				stopped = true
				return false
			}
			if !fn(key, v) {
				stopped = true
				return false
			}
			return true
		})
		return !stopped
	})
	return nil
}

package block

import (
	"github.com/ordkv/ordkv/internal/checksum"
	"github.com/ordkv/ordkv/internal/encoding"
	"github.com/ordkv/ordkv/internal/errs"
)

// Comparator orders two keys, matching bytes.Compare's contract.
type Comparator func(a, b []byte) int

// Block is a parsed, CRC-verified block ready for lookups. Item payloads
// are returned as opaque byte slices; the caller (SSTable for data blocks,
// the index layer for index blocks) decodes them into a Value or an Index.
type Block struct {
	data        []byte
	restartsOff int
	numRestarts int
}

const trailerSize = 4 + 4 // num_restarts + crc32

// Parse verifies the block's CRC32 trailer and wraps data for lookups.
// data must not be modified while the Block is in use.
func Parse(data []byte) (*Block, error) {
	if len(data) < trailerSize {
		return nil, errs.New(errs.SerializationError, "block.Parse", nil)
	}

	crcOff := len(data) - 4
	stored := encoding.DecodeFixed32(data[crcOff:])
	if err := checksum.Verify(data[:crcOff], stored); err != nil {
		return nil, errs.New(errs.CrcMismatch, "block.Parse", err)
	}

	numRestartsOff := crcOff - 4
	numRestarts := int(encoding.DecodeFixed32(data[numRestartsOff:]))
	restartsOff := numRestartsOff - numRestarts*4
	if restartsOff < 0 || numRestarts == 0 {
		return nil, errs.New(errs.SerializationError, "block.Parse", nil)
	}

	return &Block{data: data, restartsOff: restartsOff, numRestarts: numRestarts}, nil
}

func (b *Block) restartOffset(i int) int {
	return int(encoding.DecodeFixed32(b.data[b.restartsOff+i*4:]))
}

func (b *Block) groupEnd(restartIndex int) int {
	if restartIndex+1 < b.numRestarts {
		return b.restartOffset(restartIndex + 1)
	}
	return b.restartsOff
}

// ItemDecoder reports how many bytes of rest (everything following a
// decoded key) belong to that entry's item payload, and returns the item
// payload itself. Value and Index encodings are both self-delimiting, so
// each package provides its own decoder.
type ItemDecoder func(rest []byte) (item []byte, consumed int)

// restartKey decodes just the (always-full, shared==0) key stored at a
// restart point, without needing a preceding key.
func (b *Block) restartKey(restartIndex int) ([]byte, bool) {
	rest := b.data[b.restartOffset(restartIndex):]

	unshared, n1, err := encoding.DecodeVarint32(rest)
	if err != nil {
		return nil, false
	}
	rest = rest[n1:]

	_, n2, err := encoding.DecodeVarint32(rest) // shared, always 0 at a restart point
	if err != nil {
		return nil, false
	}
	rest = rest[n2:]

	if int(unshared) > len(rest) {
		return nil, false
	}
	return rest[:unshared], true
}

// walkGroup scans forward from restart point restartIndex, calling fn for
// every entry until fn returns false or the group's end is reached.
func (b *Block) walkGroup(restartIndex int, decode ItemDecoder, fn func(key, item []byte) bool) {
	pos := b.restartOffset(restartIndex)
	end := b.groupEnd(restartIndex)

	var prevKey []byte
	for pos < end {
		rest := b.data[pos:]

		unshared, n1, err := encoding.DecodeVarint32(rest)
		if err != nil {
			return
		}
		rest = rest[n1:]
		shared, n2, err := encoding.DecodeVarint32(rest)
		if err != nil {
			return
		}
		rest = rest[n2:]
		if int(shared) > len(prevKey) || int(unshared) > len(rest) {
			return
		}

		key := make([]byte, 0, int(shared)+int(unshared))
		key = append(key, prevKey[:shared]...)
		key = append(key, rest[:unshared]...)
		rest = rest[unshared:]

		item, consumed := decode(rest)
		if !fn(key, item) {
			return
		}

		prevKey = key
		pos = pos + (len(b.data[pos:]) - len(rest)) + consumed
	}
}

// seekRestartGroup returns the last restart group whose first (full) key
// is <= target, or 0 if every restart key is already greater than target.
func (b *Block) seekRestartGroup(target []byte, cmp Comparator) int {
	lo, hi := 0, b.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		key, ok := b.restartKey(mid)
		if !ok || cmp(key, target) > 0 {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo
}

// Find returns the item stored under key, or ok=false if key is absent.
func (b *Block) Find(key []byte, cmp Comparator, decode ItemDecoder) (item []byte, ok bool) {
	idx := b.seekRestartGroup(key, cmp)
	b.walkGroup(idx, decode, func(k, it []byte) bool {
		c := cmp(k, key)
		if c == 0 {
			item, ok = it, true
			return false
		}
		return c < 0
	})
	return item, ok
}

// FindWithUpper returns the entry whose key is the smallest key >= target.
// ok is false if every key in the block is smaller than target.
func (b *Block) FindWithUpper(target []byte, cmp Comparator, decode ItemDecoder) (key, item []byte, ok bool) {
	for idx := b.seekRestartGroup(target, cmp); idx < b.numRestarts; idx++ {
		found := false
		b.walkGroup(idx, decode, func(k, it []byte) bool {
			if cmp(k, target) >= 0 {
				key, item, found = k, it, true
				return false
			}
			return true
		})
		if found {
			return key, item, true
		}
	}
	return nil, nil, false
}

// ForEach walks every entry in key order, calling fn until it returns
// false.
func (b *Block) ForEach(decode ItemDecoder, fn func(key, item []byte) bool) {
	for i := 0; i < b.numRestarts; i++ {
		stopped := false
		b.walkGroup(i, decode, func(k, it []byte) bool {
			if !fn(k, it) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
	}
}

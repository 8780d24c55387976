// Package block implements the engine's block codec: the prefix-compressed,
// restart-indexed entry stream shared by both data blocks (key → optional
// value) and index blocks (key → child block location) inside an SST.
//
// Entry format (one entry):
//
//	unshared_bytes: varint32  (length of the key suffix stored verbatim)
//	shared_bytes:   varint32  (length of the key prefix shared with the
//	                           previous entry in the same restart group)
//	unshared_key:   byte[unshared_bytes]
//	item:           opaque payload (Value or Index, caller-encoded)
//
// Block format:
//
//	[entry 1] [entry 2] ... [entry N]
//	[restart offset 1: fixed32] ... [restart offset M: fixed32]
//	[num_restarts: fixed32]
//	[crc32: fixed32]   (Castagnoli, over everything above)
//
// Restart points bound the prefix-compression chains: every restartInterval
// entries, an entry stores its key in full instead of a shared-prefix
// delta, so a binary search over restart offsets can locate the nearest
// preceding full key without decoding the whole block.
package block

import (
	"github.com/ordkv/ordkv/internal/checksum"
	"github.com/ordkv/ordkv/internal/encoding"
)

// Builder accumulates entries for one block (data or index) in increasing
// key order and produces the encoded block bytes on Finish.
type Builder struct {
	buffer          []byte
	restarts        []uint32
	counter         int
	restartInterval int
	lastKey         []byte
	numEntries      int
}

// NewBuilder creates a Builder that starts a new restart group every
// restartInterval entries.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{
		buffer:          make([]byte, 0, 4096),
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.numEntries = 0
}

// Add appends one (key, item) entry. key must be strictly greater than the
// previously added key.
func (b *Builder) Add(key, item []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLength(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
		b.counter = 0
	}

	unshared := len(key) - shared

	b.buffer = encoding.AppendVarint32(b.buffer, uint32(unshared))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(shared))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, item...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
	b.numEntries++
}

// Empty reports whether any entries have been added.
func (b *Builder) Empty() bool {
	return b.numEntries == 0
}

// NumEntries returns the number of entries added since the last Reset.
func (b *Builder) NumEntries() int {
	return b.numEntries
}

// EstimatedSize returns the current size estimate of the block, including
// the restart array and trailer.
func (b *Builder) EstimatedSize() int {
	return len(b.buffer) + len(b.restarts)*4 + 4 + 4
}

// Finish serializes the restart array, num_restarts, and CRC32 trailer,
// returning the complete block bytes. The builder must not be reused
// after Finish without calling Reset first.
func (b *Builder) Finish() []byte {
	for _, r := range b.restarts {
		b.buffer = encoding.AppendFixed32(b.buffer, r)
	}
	b.buffer = encoding.AppendFixed32(b.buffer, uint32(len(b.restarts)))
	crc := checksum.Value(b.buffer)
	b.buffer = encoding.AppendFixed32(b.buffer, crc)
	return b.buffer
}

func sharedPrefixLength(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

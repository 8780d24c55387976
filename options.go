package ordkv

// options.go implements database configuration options.

import (
	"bytes"

	"github.com/ordkv/ordkv/internal/compression"
	"github.com/ordkv/ordkv/internal/ioengine"
	"github.com/ordkv/ordkv/internal/logging"
)

// Logger is an alias for the logging.Logger interface, so callers can
// plug in their own implementation without importing internal packages.
type Logger = logging.Logger

// CompressionType selects the block codec used for data blocks.
type CompressionType = compression.Type

// Compression type constants. LZ4 is the default for data blocks, matching
// spec.md's "optionally LZ4-compress" block-build rule.
const (
	CompressionNone   = compression.NoCompression
	CompressionLZ4    = compression.LZ4Compression
	CompressionSnappy = compression.SnappyCompression
	CompressionZstd   = compression.ZstdCompression
)

// IOType selects the IoReader/IoWriter implementation for a class of files.
type IOType = ioengine.Type

// IOType constants.
const (
	IOBuffered = ioengine.Buffered
	IODirect   = ioengine.Direct
	IOMemory   = ioengine.Memory
)

// Comparator orders two user keys. Negative if a < b, zero if equal,
// positive if a > b. The zero value of Config uses bytewise comparison.
type Comparator func(a, b []byte) int

// Config enumerates every tunable of the storage engine. DirPath is the
// only required field; everything else has a sane default applied by
// WithDefaults.
type Config struct {
	// DirPath is the directory the engine stores all on-disk artifacts
	// under (wal/, ss_table/, and *.manifest). Required.
	DirPath string

	// WalEnable turns on WAL appends (data only survives in the MemTable
	// until a flush when false). The zero Config has this false; use
	// DefaultConfig for a WAL-enabled Config.
	WalEnable bool

	// WalAsyncPutEnable, when true, does not fsync the WAL segment after
	// every write (only relies on OS buffering); when false, every write
	// is followed by a durable flush.
	WalAsyncPutEnable bool

	// WalThreshold is the number of WAL records per segment. The value is
	// stored but not read by the engine: WAL segments roll over only when
	// a minor compaction completes.
	WalThreshold int

	// WalIOType selects the IoReader/IoWriter backing the WAL.
	WalIOType IOType

	// SSTableIOType selects the IoReader/IoWriter backing SST files.
	SSTableIOType IOType

	// MinorThresholdWithLen is the number of MemTable entries that
	// triggers a mutable/immutable swap and a minor (flush) compaction.
	MinorThresholdWithLen int

	// MajorThresholdWithSSTSize is the base number of SSTs per level
	// that triggers a major compaction at level 0.
	MajorThresholdWithSSTSize int

	// LevelSSTMagnification is the per-level multiplier applied to
	// MajorThresholdWithSSTSize (level L triggers at base*mag^L).
	LevelSSTMagnification int

	// SSTFileSize is the target size in bytes of one output SST segment
	// produced by a major compaction.
	SSTFileSize int64

	// BlockSize is the target size in bytes of one data block before the
	// block builder closes it.
	BlockSize int

	// DataRestartInterval is the number of entries per restart group in
	// data blocks.
	DataRestartInterval int

	// IndexRestartInterval is the number of entries per restart group in
	// index blocks.
	IndexRestartInterval int

	// BlockCompression selects the compression codec for data blocks.
	// Index and meta blocks are never compressed, per spec.md §4.2.
	BlockCompression CompressionType

	// DesiredErrorProb is the target false-positive rate for the bloom
	// filter built into each SST's meta block.
	DesiredErrorProb float64

	// BlockCacheSize is the capacity, in bytes, of the shared block
	// cache used for decoded data/index blocks.
	BlockCacheSize uint64

	// BlockCacheShards is the number of independent LRU shards the
	// block cache is split across.
	BlockCacheShards int

	// TableCacheSize is the number of SST readers to hold open at once.
	// The value is stored but not read by the engine: the SST loader keeps
	// every opened reader until its file is dropped, with no bound.
	TableCacheSize int

	// MajorSelectFileSize is the maximum number of consecutive SSTs
	// picked from one level as the "A" set of a major compaction.
	MajorSelectFileSize int

	// Comparator orders user keys. Defaults to bytes.Compare.
	Comparator Comparator

	// Logger receives structured diagnostics from the compactor,
	// cleaner, and recovery path. Defaults to a warn-level stderr logger.
	Logger Logger
}

// WithDefaults returns a copy of c with every zero-valued field replaced by
// its documented default.
func (c Config) WithDefaults() Config {
	if c.WalThreshold == 0 {
		c.WalThreshold = 10_000
	}
	if c.MinorThresholdWithLen == 0 {
		c.MinorThresholdWithLen = 4096
	}
	if c.MajorThresholdWithSSTSize == 0 {
		c.MajorThresholdWithSSTSize = 4
	}
	if c.LevelSSTMagnification == 0 {
		c.LevelSSTMagnification = 10
	}
	if c.SSTFileSize == 0 {
		c.SSTFileSize = 64 << 20
	}
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
	if c.DataRestartInterval == 0 {
		c.DataRestartInterval = 16
	}
	if c.IndexRestartInterval == 0 {
		c.IndexRestartInterval = 2
	}
	if c.BlockCompression == CompressionNone && c.SSTableIOType != IOMemory {
		c.BlockCompression = CompressionLZ4
	}
	if c.DesiredErrorProb == 0 {
		c.DesiredErrorProb = 0.01
	}
	if c.BlockCacheSize == 0 {
		c.BlockCacheSize = 8 << 20
	}
	if c.BlockCacheShards == 0 {
		c.BlockCacheShards = 16
	}
	if c.TableCacheSize == 0 {
		c.TableCacheSize = 1024
	}
	if c.MajorSelectFileSize == 0 {
		c.MajorSelectFileSize = 4
	}
	if c.Comparator == nil {
		c.Comparator = bytes.Compare
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	}
	return c
}

// DefaultConfig returns a Config with every default applied and WAL
// enabled, for the common case of `Open(path, ...)`.
func DefaultConfig(dirPath string) Config {
	c := Config{
		DirPath:           dirPath,
		WalEnable:         true,
		WalAsyncPutEnable: true,
	}
	return c.WithDefaults()
}

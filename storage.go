// Package ordkv implements a persistent ordered key-value storage engine
// built as an LSM-tree: an in-memory mutable/immutable table pair backed
// by a write-ahead log, sorted-string tables with prefix-compressed
// blocks and bloom filters, leveled compaction with version-edit
// logging, and snapshot/transaction reads.
package ordkv

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/compaction"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/memtable"
	"github.com/ordkv/ordkv/internal/seqgen"
	"github.com/ordkv/ordkv/internal/sstable"
	"github.com/ordkv/ordkv/internal/version"
	"github.com/ordkv/ordkv/internal/walog"
)

const (
	walExt    = "wal"
	walSubdir = "wal"
	sstSubdir = "ss_table"
)

// Storage is the public handle to an open database. The zero value is not
// usable; obtain one with Open or OpenWithConfig.
type Storage struct {
	cfg Config
	cmp sstable.Comparator

	mem    *memtable.MemTable
	wal    *walog.Log
	status *version.Status
	cmpct  *compaction.Compactor

	seq     *seqgen.Generator
	nextGen atomic.Uint64

	bgSig  chan struct{}
	bgDone chan struct{}

	closed atomic.Bool
	bgErr  atomic.Pointer[error]
}

// Open opens (or creates) a database at path with WAL enabled and every
// other tunable at its documented default, per spec.md §6's
// `open(path, wal_threshold, wal_io_type)`.
func Open(path string, walThreshold int, walIOType IOType) (*Storage, error) {
	cfg := DefaultConfig(path)
	cfg.WalThreshold = walThreshold
	cfg.WalIOType = walIOType
	return OpenWithConfig(cfg)
}

// OpenWithConfig opens (or creates) a database per cfg, per spec.md §6's
// `open_with_config(Config)`.
func OpenWithConfig(cfg Config) (*Storage, error) {
	cfg = cfg.WithDefaults()
	if cfg.DirPath == "" {
		return nil, errs.New(errs.Other, "ordkv.OpenWithConfig", nil)
	}
	if err := os.MkdirAll(cfg.DirPath, 0o755); err != nil {
		return nil, errs.New(errs.Io, "ordkv.OpenWithConfig", err)
	}

	cmp := sstable.Comparator(cfg.Comparator)

	blockCache := cache.New(cfg.BlockCacheSize, cfg.BlockCacheShards)
	loader, err := sstable.NewLoader(filepath.Join(cfg.DirPath, sstSubdir), blockCache, cfg.SSTableIOType, cmp)
	if err != nil {
		return nil, err
	}

	status, err := version.Reload(cfg.DirPath, loader, cmp, cfg.SSTableIOType, cfg.Logger)
	if err != nil {
		return nil, err
	}

	var log *walog.Log
	mt := memtable.New(cfg.Comparator)
	var maxWalGen uint64
	if cfg.WalEnable {
		log, maxWalGen, err = walog.Reload(filepath.Join(cfg.DirPath, walSubdir), walExt, 1, cfg.WalIOType, func(record []byte) error {
			key, seq, value, ok := decodeWalRecord(record)
			if !ok {
				return errs.New(errs.SerializationError, "ordkv.OpenWithConfig", nil)
			}
			mt.Insert(key, value, seq)
			return nil
		})
		if err != nil {
			status.Close()
			return nil, err
		}
	}

	s := &Storage{
		cfg:    cfg,
		cmp:    cmp,
		mem:    mt,
		wal:    log,
		status: status,
		seq:    seqgen.New(),
		bgSig:  make(chan struct{}, 1),
		bgDone: make(chan struct{}),
	}

	var startGen uint64 = 1
	cur := status.Current()
	for level := range cur.Levels {
		for _, scope := range cur.Levels[level] {
			if scope.Gen >= startGen {
				startGen = scope.Gen + 1
			}
		}
	}
	cur.Release()
	if maxWalGen >= startGen {
		startGen = maxWalGen + 1
	}
	s.nextGen.Store(startGen)

	s.cmpct = compaction.New(status, mt, log, compaction.Config{
		Builder: sstable.BuilderOptions{
			BlockSize:            cfg.BlockSize,
			DataRestartInterval:  cfg.DataRestartInterval,
			IndexRestartInterval: cfg.IndexRestartInterval,
			Compression:          cfg.BlockCompression,
			DesiredErrorProb:     cfg.DesiredErrorProb,
			Comparator:           cmp,
		},
		MajorThresholdBase:  cfg.MajorThresholdWithSSTSize,
		LevelMagnification:  cfg.LevelSSTMagnification,
		MajorSelectFileSize: cfg.MajorSelectFileSize,
		SSTFileSize:         cfg.SSTFileSize,
	}, cmp, s.nextGenID, cfg.Logger)

	go s.backgroundLoop()

	return s, nil
}

func (s *Storage) nextGenID() uint64 {
	return s.nextGen.Add(1) - 1
}

// Set stores value for key under a freshly minted sequence id, per
// spec.md §6. The write goes to the WAL first (if enabled), then the
// MemTable.
func (s *Storage) Set(key, value []byte) error {
	return s.write(key, block.Value{Bytes: value})
}

// Remove records a tombstone for key, per spec.md §6. It returns a
// KeyNotFound error, and writes nothing, if no live value for key is
// visible.
func (s *Storage) Remove(key []byte) error {
	if _, ok, err := s.Get(key); err != nil {
		return err
	} else if !ok {
		return errs.New(errs.KeyNotFound, "ordkv.Storage.Remove", nil)
	}
	return s.write(key, block.Value{Tombstone: true})
}

func (s *Storage) write(key []byte, v block.Value) error {
	if s.closed.Load() {
		return errs.New(errs.Other, "ordkv.Storage.write", nil)
	}
	if err := s.bgError(); err != nil {
		return err
	}

	seq := s.seq.Next()

	if s.wal != nil {
		record := encodeWalRecord(key, seq, v)
		if err := s.wal.AddRecord(record); err != nil {
			return err
		}
		if !s.cfg.WalAsyncPutEnable {
			if err := s.wal.Sync(); err != nil {
				return err
			}
		}
	}

	s.mem.Insert(key, v, seq)
	s.maybeTriggerFlush()
	return nil
}

func (s *Storage) bgError() error {
	if p := s.bgErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Storage) setBackgroundError(err error) {
	s.bgErr.CompareAndSwap(nil, &err)
}

// Get returns the freshest visible value for key at the current sequence
// id, or ok=false if no version is visible (never written, or the
// freshest version is a tombstone), per spec.md §6 `get(key) → Option<bytes>`.
func (s *Storage) Get(key []byte) ([]byte, bool, error) {
	snapshotSeq := s.seq.Next()
	return s.getAt(key, snapshotSeq)
}

func (s *Storage) getAt(key []byte, snapshotSeq uint64) ([]byte, bool, error) {
	if v, ok := s.mem.Find(key, snapshotSeq); ok {
		if v.Tombstone {
			return nil, false, nil
		}
		return v.Bytes, true, nil
	}

	ver := s.status.Current()
	defer ver.Release()

	v, ok, err := ver.Find(key)
	if err != nil {
		return nil, false, err
	}
	if !ok || v.Tombstone {
		return nil, false, nil
	}
	return v.Bytes, true, nil
}

// maybeTriggerFlush wakes the background loop if the mutable table has
// crossed the configured threshold. It never blocks: at most one pending
// signal is ever queued.
func (s *Storage) maybeTriggerFlush() {
	if s.mem.Len() < s.cfg.MinorThresholdWithLen || s.closed.Load() {
		return
	}
	select {
	case s.bgSig <- struct{}{}:
	default:
	}
}

func (s *Storage) backgroundLoop() {
	defer close(s.bgDone)
	for range s.bgSig {
		s.runCompactionPass()
	}
}

func (s *Storage) runCompactionPass() {
	entries, lastSeq, ok, err := s.mem.TryExceededThenSwap(s.cfg.MinorThresholdWithLen)
	if err != nil {
		s.setBackgroundError(err)
		return
	}
	if ok {
		if err := s.cmpct.Minor(entries, lastSeq); err != nil {
			s.setBackgroundError(err)
			return
		}
	}
	if err := s.cmpct.Major(); err != nil {
		s.setBackgroundError(err)
	}
}

// Flush forces an immediate minor compaction of the mutable MemTable
// (even below threshold), then runs a major compaction pass, per
// spec.md §6 `flush()`. If an immutable table is already pending, Flush
// does neither and returns nil.
func (s *Storage) Flush() error {
	if s.closed.Load() {
		return errs.New(errs.Other, "ordkv.Storage.Flush", nil)
	}
	entries, lastSeq, err := s.mem.Swap()
	if err != nil {
		// An immutable table is already pending and is left to the
		// background loop; the mutable table is not flushed and Flush
		// does not wait.
		return nil
	}
	if err := s.cmpct.Minor(entries, lastSeq); err != nil {
		return err
	}
	return s.cmpct.Major()
}

// SizeOfDisk returns the total on-disk byte size of every live SST, per
// spec.md §6 `size_of_disk() → u64`.
func (s *Storage) SizeOfDisk() uint64 {
	v := s.status.Current()
	defer v.Release()
	return v.Stats.TotalBytes
}

// Len returns the number of entries resident in the mutable MemTable plus
// the aggregate entry count across every live SST, per spec.md §6
// `len() → usize`. This is an upper bound, not an exact distinct-key
// count: a key overwritten since the last flush is counted once per
// still-live version.
func (s *Storage) Len() int {
	v := s.status.Current()
	defer v.Release()
	return s.mem.Len() + int(v.Stats.TotalEntries)
}

// Close performs a final flush and shuts down the background compactor
// and Cleaner, per spec.md §5's shutdown contract: a Flush(done) request
// is effectively synchronous here since Go gives us no cooperative
// suspension points to multiplex against.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.bgSig)
	<-s.bgDone

	if err := s.Flush(); err != nil {
		s.cfg.Logger.Errorf("[db] final flush failed: %v", err)
	}

	if s.wal != nil {
		if err := s.wal.Sync(); err != nil {
			s.cfg.Logger.Warnf("[wal] final sync failed: %v", err)
		}
	}

	s.status.Close()
	return nil
}

// Package compaction implements minor compaction (memtable flush to an L0
// SST) and major compaction (merging overlapping SSTs across levels), per
// spec.md §4.9.
//
// Grounded on the teacher's internal/compaction/compaction.go and
// picker.go for the overall shape (select files, compute a fused scope,
// expand to closure, merge-sort, split into output segments, emit
// edits), but implements leveled compaction only — no universal/FIFO
// strategies, which spec.md's Non-goals exclude — and the specific
// re-expand-until-closed-under-overlap algorithm of spec.md §4.9 step 4,
// which the teacher's picker does not perform.
package compaction

import (
	"bytes"
	"sort"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/logging"
	"github.com/ordkv/ordkv/internal/manifest"
	"github.com/ordkv/ordkv/internal/memtable"
	"github.com/ordkv/ordkv/internal/sstable"
	"github.com/ordkv/ordkv/internal/version"
	"github.com/ordkv/ordkv/internal/walog"
)

// MaxLevel is the highest level a major compaction may target, per
// spec.md §3 (L0..L6): compacting beyond L6 is a LevelOver contract
// violation.
const MaxLevel = version.NumLevels - 1

// Config bundles the tunables the Compactor needs from the engine-wide
// Config (defined here in internal/compaction, not top-level, to avoid an
// import cycle with the ordkv package).
type Config struct {
	Builder             sstable.BuilderOptions
	MajorThresholdBase  int
	LevelMagnification  int
	MajorSelectFileSize int
	SSTFileSize         int64
}

// Compactor owns the flush (minor) and merge (major) compaction paths.
// It holds no lock of its own: Minor and Major synchronize through the
// MemTable's and VersionStatus's own locking, and the caller (Storage) is
// responsible for running at most one compaction at a time (the teacher's
// db/background.go does the same — a single background goroutine per
// DB).
type Compactor struct {
	status  *version.Status
	mem     *memtable.MemTable
	wal     *walog.Log
	cfg     Config
	cmp     sstable.Comparator
	nextGen func() uint64
	logger  logging.Logger
}

// New creates a Compactor. wal may be nil if WalEnable is false, in which
// case Minor never switches a WAL segment.
func New(status *version.Status, mem *memtable.MemTable, wal *walog.Log, cfg Config, cmp sstable.Comparator, nextGen func() uint64, logger logging.Logger) *Compactor {
	if logger == nil {
		logger = logging.Discard
	}
	return &Compactor{status: status, mem: mem, wal: wal, cfg: cfg, cmp: cmp, nextGen: nextGen, logger: logger}
}

// dedupeNewest collapses entries (sorted by the MemTable's (userKey, seq
// ascending) order) to one entry per user key, keeping the one with the
// largest seq — the newest mutation, including tombstones.
func dedupeNewest(entries []memtable.Entry, cmp sstable.Comparator) []memtable.Entry {
	out := make([]memtable.Entry, 0, len(entries))
	for i, e := range entries {
		if i+1 < len(entries) && cmp(entries[i+1].UserKey, e.UserKey) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// buildTable writes entries (sorted, deduped, one per key) as one new SST
// at the given level, registers it with the loader, and returns its
// scope.
func (c *Compactor) buildTable(level uint8, entries []memtable.Entry) (sstable.Scope, error) {
	gen := c.nextGen()
	loader := c.status.Loader()

	w, err := loader.Writer(gen)
	if err != nil {
		return sstable.Scope{}, err
	}

	opts := c.cfg.Builder
	opts.Level = level
	opts.Comparator = c.cmp
	b := sstable.NewBuilder(w, opts)
	for _, e := range entries {
		if err := b.Add(e.UserKey, e.Value); err != nil {
			_ = w.Close()
			return sstable.Scope{}, err
		}
	}
	scope, err := b.Finish()
	if err != nil {
		_ = w.Close()
		return sstable.Scope{}, err
	}
	if err := w.Close(); err != nil {
		return sstable.Scope{}, errs.New(errs.Io, "compaction.buildTable", err)
	}
	scope.Gen = gen

	if _, err := loader.Open(gen, scope); err != nil {
		return sstable.Scope{}, err
	}
	return scope, nil
}

// Minor flushes entries (the MemTable's just-swapped immutable table) to
// a new L0 SST, per spec.md §4.9. lastSeq is the largest seq id among
// entries, persisted as the edit's LastSequenceId field. Once the
// NewFile+LastSequenceId edit is durable, the immutable table is cleared
// and, if WAL is enabled, the covering WAL segment is switched out.
func (c *Compactor) Minor(entries []memtable.Entry, lastSeq uint64) error {
	deduped := dedupeNewest(entries, c.cmp)

	if len(deduped) == 0 {
		c.mem.ClearImmutable()
		return nil
	}

	scope, err := c.buildTable(0, deduped)
	if err != nil {
		c.logger.Errorf("[flush] build L0 table failed: %v", err)
		return err
	}

	edit := manifest.Edit{
		NewFiles:     []manifest.NewFile{{Level: 0, Index: 0, Scope: scope}},
		LastSequence: lastSeq,
		HasLastSeq:   true,
	}
	if _, err := c.status.LogAndApply(edit); err != nil {
		c.logger.Errorf("[flush] log_and_apply failed: %v", err)
		return err
	}

	c.mem.ClearImmutable()
	c.logger.Infof("[flush] flushed %d entries to L0 gen=%d", len(deduped), scope.Gen)

	if c.wal != nil {
		oldGen, err := c.wal.Switch(c.nextGen())
		if err != nil {
			c.logger.Warnf("[wal] switch failed after flush: %v", err)
		} else if err := c.wal.Remove(oldGen); err != nil {
			c.logger.Warnf("[wal] failed to remove superseded segment gen=%d: %v", oldGen, err)
		}
	}
	return nil
}

// sourceEntry is one decoded entry tagged with the priority of the SST it
// came from, used to resolve duplicate keys across overlapping inputs:
// a lower level always wins over a higher one (data flows top-down), and
// within the same level a higher gen (newer file) wins.
type sourceEntry struct {
	key   []byte
	value block.Value
	level uint8
	gen   uint64
}

func (s sourceEntry) priority() (levelRankDesc uint8, gen uint64) {
	return MaxLevel - s.level, s.gen
}

// Major runs leveled compaction starting at level 0, advancing upward
// while a level remains over threshold, per spec.md §4.9. All VersionEdits
// produced across every level compacted in this pass are applied in one
// final LogAndApply batch, matching the "finally log_and_apply... in one
// batch" closing line of §4.9 — intermediate level state is tracked in a
// local working copy so later levels see the effect of earlier ones
// without touching the shared Version until the whole pass commits.
func (c *Compactor) Major() error {
	v := c.status.Current()
	defer v.Release()

	working := make([][]sstable.Scope, version.NumLevels)
	for l := range working {
		working[l] = append([]sstable.Scope(nil), v.Levels[l]...)
	}

	var deletedFiles []manifest.DeletedFile
	var newFiles []manifest.NewFile

	level := 0
	for level <= MaxLevel-1 {
		if !overThreshold(working[level], level, c.cfg.MajorThresholdBase, c.cfg.LevelMagnification) {
			level++
			continue
		}

		deleted, created, err := c.compactLevel(working, level)
		if err != nil {
			c.logger.Errorf("[compact] level %d compaction failed: %v", level, err)
			return err
		}
		deletedFiles = append(deletedFiles, deleted...)
		newFiles = append(newFiles, created...)
		level++
	}

	if len(deletedFiles) == 0 && len(newFiles) == 0 {
		return nil
	}

	edit := manifest.Edit{DeletedFiles: deletedFiles, NewFiles: newFiles}
	if _, err := c.status.LogAndApply(edit); err != nil {
		c.logger.Errorf("[compact] log_and_apply failed: %v", err)
		return err
	}
	c.logger.Infof("[compact] applied %d deletions, %d new files", len(deletedFiles), len(newFiles))
	return nil
}

func overThreshold(scopes []sstable.Scope, level, base, magnification int) bool {
	threshold := base
	for i := 0; i < level; i++ {
		threshold *= magnification
	}
	return len(scopes) >= threshold
}

// compactLevel performs one leveled-compaction step at level L (spec.md
// §4.9 steps 1–7), mutating working in place, and returns the
// DeleteFile/NewFile edits it produced.
func (c *Compactor) compactLevel(working [][]sstable.Scope, level int) ([]manifest.DeletedFile, []manifest.NewFile, error) {
	if level > MaxLevel-1 {
		return nil, nil, errs.New(errs.LevelOver, "compaction.compactLevel", nil)
	}

	// Step 1: pick up to MajorSelectFileSize consecutive SSTs from L.
	a := pickConsecutive(working[level], c.cfg.MajorSelectFileSize)
	fusedA, ok := sstable.Fuse(a, c.cmp)
	if !ok {
		return nil, nil, errs.New(errs.DataEmpty, "compaction.compactLevel", nil)
	}

	// Step 2: collect overlapping SSTs from L+1 ("B") and their
	// insertion index.
	b, insertIndex := overlapping(working[level+1], fusedA, c.cmp)

	// Step 3: for L=0 only, other L0 files overlapping fused(A) also
	// join A (L0 files may overlap each other).
	if level == 0 {
		a = expandOverlap(working[0], a, fusedA, c.cmp)
		fusedA, _ = sstable.Fuse(a, c.cmp)
	}

	// Step 4: re-expand upward so A∪B is closed under overlap.
	if len(b) > 0 {
		fusedB, _ := sstable.Fuse(b, c.cmp)
		a = expandOverlap(working[level], a, fusedB, c.cmp)
	}

	merged, err := c.mergeTables(a, uint8(level), b, uint8(level+1))
	if err != nil {
		return nil, nil, err
	}
	deduped := dedupeSourceEntries(merged)

	newScopes, err := c.splitAndBuild(uint8(level+1), deduped)
	if err != nil {
		return nil, nil, err
	}

	var deleted []manifest.DeletedFile
	for _, s := range a {
		deleted = append(deleted, manifest.DeletedFile{Level: uint8(level), Gen: s.Gen})
	}
	for _, s := range b {
		deleted = append(deleted, manifest.DeletedFile{Level: uint8(level + 1), Gen: s.Gen})
	}

	var created []manifest.NewFile
	for i, s := range newScopes {
		created = append(created, manifest.NewFile{Level: uint8(level + 1), Index: insertIndex + i, Scope: s})
	}

	working[level] = removeGens(working[level], a)
	working[level+1] = removeGens(working[level+1], b)
	working[level+1] = insertSorted(working[level+1], newScopes, c.cmp)

	return deleted, created, nil
}

func pickConsecutive(scopes []sstable.Scope, n int) []sstable.Scope {
	if n <= 0 || n > len(scopes) {
		n = len(scopes)
	}
	out := make([]sstable.Scope, n)
	copy(out, scopes[:n])
	return out
}

func overlapping(scopes []sstable.Scope, fused sstable.Scope, cmp sstable.Comparator) ([]sstable.Scope, int) {
	var out []sstable.Scope
	index := len(scopes)
	found := false
	for i, s := range scopes {
		if s.Overlaps(fused, cmp) {
			if !found {
				index = i
				found = true
			}
			out = append(out, s)
		}
	}
	if !found {
		index = sort.Search(len(scopes), func(i int) bool {
			return cmp(scopes[i].StartKey, fused.StartKey) > 0
		})
	}
	return out, index
}

func expandOverlap(all []sstable.Scope, base []sstable.Scope, fused sstable.Scope, cmp sstable.Comparator) []sstable.Scope {
	have := map[uint64]bool{}
	for _, s := range base {
		have[s.Gen] = true
	}
	out := append([]sstable.Scope(nil), base...)
	for _, s := range all {
		if have[s.Gen] {
			continue
		}
		if s.Overlaps(fused, cmp) {
			out = append(out, s)
			have[s.Gen] = true
		}
	}
	return out
}

func removeGens(scopes []sstable.Scope, remove []sstable.Scope) []sstable.Scope {
	if len(remove) == 0 {
		return scopes
	}
	drop := map[uint64]bool{}
	for _, s := range remove {
		drop[s.Gen] = true
	}
	out := scopes[:0:0]
	for _, s := range scopes {
		if !drop[s.Gen] {
			out = append(out, s)
		}
	}
	return out
}

func insertSorted(scopes []sstable.Scope, add []sstable.Scope, cmp sstable.Comparator) []sstable.Scope {
	out := append(scopes, add...)
	sort.Slice(out, func(i, j int) bool { return cmp(out[i].StartKey, out[j].StartKey) < 0 })
	return out
}

// mergeTables opens every selected SST in a (level la) and b (level lb)
// and reads out every (key, value) pair tagged with its source priority.
func (c *Compactor) mergeTables(a []sstable.Scope, la uint8, b []sstable.Scope, lb uint8) ([]sourceEntry, error) {
	var out []sourceEntry
	loader := c.status.Loader()

	readInto := func(scopes []sstable.Scope, level uint8) error {
		for _, s := range scopes {
			table, ok := loader.Get(s.Gen)
			if !ok {
				opened, err := loader.Open(s.Gen, s)
				if err != nil {
					return err
				}
				table = opened
			}
			if err := table.ForEach(func(key []byte, v block.Value) bool {
				out = append(out, sourceEntry{key: append([]byte(nil), key...), value: v, level: level, gen: s.Gen})
				return true
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := readInto(a, la); err != nil {
		return nil, err
	}
	if err := readInto(b, lb); err != nil {
		return nil, err
	}
	return out, nil
}

// dedupeSourceEntries sorts by key then by source priority (lower level
// wins, then higher gen), keeping exactly one entry per key — the
// winning precedence stands in for seq_id ordering, since SST entries do
// not carry a seq_id (spec.md §3's data model only defines seq_id within
// the MemTable).
func dedupeSourceEntries(entries []sourceEntry) []memtable.Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].key, entries[j].key); c != 0 {
			return c < 0
		}
		ri, gi := entries[i].priority()
		rj, gj := entries[j].priority()
		if ri != rj {
			return ri > rj
		}
		return gi > gj
	})

	out := make([]memtable.Entry, 0, len(entries))
	for i, e := range entries {
		if i > 0 && bytes.Equal(entries[i-1].key, e.key) {
			continue
		}
		out = append(out, memtable.Entry{UserKey: e.key, Value: e.value})
	}
	return out
}

// splitAndBuild splits deduped (already key-sorted, descending priority
// applied) into segments of roughly SSTFileSize bytes and builds one new
// SST per segment at level.
func (c *Compactor) splitAndBuild(level uint8, deduped []memtable.Entry) ([]sstable.Scope, error) {
	if len(deduped) == 0 {
		return nil, nil
	}

	var scopes []sstable.Scope
	var segment []memtable.Entry
	var segmentBytes int64

	flush := func() error {
		if len(segment) == 0 {
			return nil
		}
		scope, err := c.buildTable(level, segment)
		if err != nil {
			return err
		}
		scopes = append(scopes, scope)
		segment = nil
		segmentBytes = 0
		return nil
	}

	for _, e := range deduped {
		segment = append(segment, e)
		segmentBytes += int64(len(e.UserKey) + len(e.Value.Bytes) + 16)
		if segmentBytes >= c.cfg.SSTFileSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return scopes, nil
}

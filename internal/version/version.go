// Package version implements the immutable level→SST layout snapshot
// (Version) and its log-and-apply lifecycle (VersionStatus), per
// spec.md §4.7.
//
// Grounded on the teacher's internal/version/version.go and
// internal/version/version_set.go for the overall shape (log_and_apply
// under an exclusive lock, atomic handle swap for readers) but trimmed
// from the teacher's multi-column-family VersionSet to the single-
// keyspace VersionStatus spec.md defines — no column families, no blob
// files.
package version

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/cleaner"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/manifest"
	"github.com/ordkv/ordkv/internal/sstable"
)

// NumLevels is the fixed number of levels, per spec.md §3 (L0..L6).
const NumLevels = 7

// Stats are the aggregate statistics a Version tracks across its live
// SSTs.
type Stats struct {
	TotalEntries uint64
	TotalBytes   uint64
}

// Version is an immutable snapshot of the level→SST layout. Once
// published it is never mutated; log_and_apply always produces a new
// Version by cloning and editing the clone.
type Version struct {
	Num    uint64
	Levels [NumLevels][]sstable.Scope
	Stats  Stats

	loader *sstable.Loader
	cmp    sstable.Comparator

	cleanUp  *cleaner.Cleaner
	released atomic.Bool
}

// clone returns a deep-enough copy of v for in-place editing by apply:
// level slices are copied (so appends/removals don't alias v's), but
// individual Scopes (immutable once created) are shared.
func (v *Version) clone(num uint64) *Version {
	nv := &Version{Num: num, Stats: v.Stats, loader: v.loader, cmp: v.cmp, cleanUp: v.cleanUp}
	for l := 0; l < NumLevels; l++ {
		nv.Levels[l] = append([]sstable.Scope(nil), v.Levels[l]...)
	}
	return nv
}

// Release drops this Version's hold on its referenced SSTs. It is safe
// to call more than once; only the first call has effect. Every caller
// that captured a Version (a snapshot read, a Transaction) must call
// Release exactly once when done with it.
func (v *Version) Release() {
	if v.released.CompareAndSwap(false, true) {
		if v.cleanUp != nil {
			v.cleanUp.Clean(v.Num)
		}
	}
}

// Find scans level 0 newest-to-oldest, then binary-searches L1..L6 for
// the unique possibly-covering scope, per spec.md §4.7. ok is false if no
// level held the key; a tombstone is returned with ok=true so the caller
// (Storage/MemTable merge) can stop looking further down the stack.
func (v *Version) Find(key []byte) (block.Value, bool, error) {
	for i := len(v.Levels[0]) - 1; i >= 0; i-- {
		scope := v.Levels[0][i]
		if !scope.Contains(key, v.cmp) {
			continue
		}
		val, ok, err := v.queryScope(scope, key)
		if err != nil {
			return block.Value{}, false, err
		}
		if ok {
			return val, true, nil
		}
	}

	for level := 1; level < NumLevels; level++ {
		scopes := v.Levels[level]
		idx := sort.Search(len(scopes), func(i int) bool {
			return v.cmp(scopes[i].StartKey, key) > 0
		}) - 1
		if idx < 0 || !scopes[idx].Contains(key, v.cmp) {
			continue
		}
		val, ok, err := v.queryScope(scopes[idx], key)
		if err != nil {
			return block.Value{}, false, err
		}
		if ok {
			return val, true, nil
		}
	}

	return block.Value{}, false, nil
}

func (v *Version) queryScope(scope sstable.Scope, key []byte) (block.Value, bool, error) {
	table, ok := v.loader.Get(scope.Gen)
	if !ok {
		opened, err := v.loader.Open(scope.Gen, scope)
		if err != nil {
			return block.Value{}, false, err
		}
		table = opened
	}
	return table.Query(key)
}

// OverThreshold reports whether level reaches spec.md §4.7's compaction
// trigger predicate: len(level) >= base * magnification^level.
func (v *Version) OverThreshold(level int, base int, magnification int) bool {
	threshold := base
	for i := 0; i < level; i++ {
		threshold *= magnification
	}
	return len(v.Levels[level]) >= threshold
}

// apply mutates v in place per the rules in spec.md §4.7. isInit controls
// whether per-edit statistics bookkeeping runs: during startup replay,
// stats are computed once at the end from the final live-gen set, so
// isInit skips the running add/subtract to avoid double counting already-
// superseded intermediate states.
func (v *Version) apply(edit manifest.Edit, isInit bool) {
	for _, d := range edit.DeletedFiles {
		level := &v.Levels[d.Level]
		for i, scope := range *level {
			if scope.Gen == d.Gen {
				if !isInit {
					v.adjustStats(scope, -1)
				}
				*level = append((*level)[:i], (*level)[i+1:]...)
				break
			}
		}
	}

	for _, f := range edit.NewFiles {
		level := &v.Levels[f.Level]
		if f.Level == 0 {
			*level = append(*level, f.Scope)
		} else {
			idx := f.Index
			if idx < 0 || idx > len(*level) {
				idx = len(*level)
			}
			*level = append(*level, sstable.Scope{})
			copy((*level)[idx+1:], (*level)[idx:])
			(*level)[idx] = f.Scope
		}
		if !isInit {
			v.adjustStats(f.Scope, 1)
		}
	}
}

// adjustStats updates running totals by opening the table (if not
// already resident) to read its footer-recorded size/count. sign is +1
// to add, -1 to subtract.
func (v *Version) adjustStats(scope sstable.Scope, sign int64) {
	table, ok := v.loader.Get(scope.Gen)
	if !ok {
		opened, err := v.loader.Open(scope.Gen, scope)
		if err != nil {
			return
		}
		table = opened
	}
	if sign > 0 {
		v.Stats.TotalEntries += table.NumEntries()
		v.Stats.TotalBytes += table.SizeOfDisk()
	} else {
		v.Stats.TotalEntries -= min(table.NumEntries(), v.Stats.TotalEntries)
		v.Stats.TotalBytes -= min(table.SizeOfDisk(), v.Stats.TotalBytes)
	}
}

// recomputeStats derives Stats from scratch by summing the live gen set
// — used once at the end of startup replay, per spec.md §4.7's "skipping
// intermediate add/remove accounting" rule.
func (v *Version) recomputeStats() {
	v.Stats = Stats{}
	for level := 0; level < NumLevels; level++ {
		for _, scope := range v.Levels[level] {
			table, ok := v.loader.Get(scope.Gen)
			if !ok {
				opened, err := v.loader.Open(scope.Gen, scope)
				if err != nil {
					continue
				}
				table = opened
			}
			v.Stats.TotalEntries += table.NumEntries()
			v.Stats.TotalBytes += table.SizeOfDisk()
		}
	}
}

// Status owns the current Version (atomically swappable), the SST
// loader, and the version log used to persist VersionEdits.
type Status struct {
	mu      sync.Mutex
	current atomic.Pointer[Version]

	loader  *sstable.Loader
	cmp     sstable.Comparator
	cleanUp *cleaner.Cleaner

	logAppend func(edit manifest.Edit) error
}

// New constructs a Status with an already-built initial Version (e.g.
// the result of replaying the version log) and a callback used to
// durably append each log_and_apply batch.
func New(initial *Version, logAppend func(manifest.Edit) error) *Status {
	s := &Status{loader: initial.loader, cmp: initial.cmp, cleanUp: initial.cleanUp, logAppend: logAppend}
	s.current.Store(initial)
	return s
}

// NewEmpty builds an empty Version (no SSTs in any level) ready for edit
// replay during startup.
func NewEmpty(loader *sstable.Loader, cmp sstable.Comparator, cleanUp *cleaner.Cleaner) *Version {
	return &Version{loader: loader, cmp: cmp, cleanUp: cleanUp}
}

// Current returns the current Version handle. The returned Version
// remains valid (its SSTs are not deleted out from under it) until the
// caller calls Release.
func (s *Status) Current() *Version {
	return s.current.Load()
}

// Apply replays a single edit into v with isInit=true, for startup
// reconstruction (see Reload in status.go).
func Apply(v *Version, edit manifest.Edit) {
	v.apply(edit, true)
}

// RecomputeStats finalizes statistics after startup replay.
func RecomputeStats(v *Version) {
	v.recomputeStats()
}

// LogAndApply durably appends edit to the version log, then publishes a
// new current Version with edit applied, per spec.md §4.7. Readers that
// already captured the previous Version continue to observe it
// unaffected.
func (s *Status) LogAndApply(edit manifest.Edit) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := cur.clone(cur.Num + 1)

	if s.logAppend != nil {
		if err := s.logAppend(edit); err != nil {
			return nil, errs.New(errs.Io, "version.Status.LogAndApply", err)
		}
	}

	next.apply(edit, false)

	var deletedByLevel = map[uint8][]uint64{}
	for _, d := range edit.DeletedFiles {
		deletedByLevel[d.Level] = append(deletedByLevel[d.Level], d.Gen)
	}
	var allDeleted []uint64
	for _, gens := range deletedByLevel {
		allDeleted = append(allDeleted, gens...)
	}
	// Add must run for every LogAndApply, including a pure-NewFile edit
	// with no deleted gens: the Cleaner's queue has to carry one dense
	// entry per version_num for its oldest-entry check to correctly mean
	// "no older live Version remains".
	if s.cleanUp != nil {
		s.cleanUp.Add(next.Num, allDeleted)
	}

	s.current.Store(next)
	return next, nil
}

// Loader returns the shared SST loader.
func (s *Status) Loader() *sstable.Loader { return s.loader }

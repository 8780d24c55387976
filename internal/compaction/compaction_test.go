package compaction

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/cleaner"
	"github.com/ordkv/ordkv/internal/compression"
	"github.com/ordkv/ordkv/internal/ioengine"
	"github.com/ordkv/ordkv/internal/manifest"
	"github.com/ordkv/ordkv/internal/memtable"
	"github.com/ordkv/ordkv/internal/sstable"
	"github.com/ordkv/ordkv/internal/version"
)

func newTestStatus(t *testing.T) (*version.Status, *cleaner.Cleaner, *sstable.Loader) {
	t.Helper()
	loader, err := sstable.NewLoader(t.TempDir(), cache.New(1<<20, 4), ioengine.Memory, bytes.Compare)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	cln := cleaner.New(loader, nil)
	initial := version.NewEmpty(loader, bytes.Compare, cln)
	status := version.New(initial, nil)
	return status, cln, loader
}

func testBuilderOpts() sstable.BuilderOptions {
	return sstable.BuilderOptions{
		BlockSize:            64,
		DataRestartInterval:  2,
		IndexRestartInterval: 2,
		Compression:          compression.NoCompression,
		DesiredErrorProb:     0.01,
		Comparator:           bytes.Compare,
	}
}

func genCounter(start uint64) func() uint64 {
	var n atomic.Uint64
	n.Store(start)
	return func() uint64 { return n.Add(1) }
}

func seedL0(t *testing.T, status *version.Status, loader *sstable.Loader, gen uint64, entries map[string]string) {
	t.Helper()
	w, err := loader.Writer(gen)
	if err != nil {
		t.Fatalf("Writer(%d) failed: %v", gen, err)
	}
	opts := testBuilderOpts()
	opts.Level = 0
	b := sstable.NewBuilder(w, opts)
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		if err := b.Add([]byte(k), block.Value{Bytes: []byte(entries[k])}); err != nil {
			t.Fatalf("Add(%q) failed: %v", k, err)
		}
	}
	scope, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	scope.Gen = gen
	if _, err := status.LogAndApply(manifest.Edit{NewFiles: []manifest.NewFile{{Level: 0, Scope: scope}}}); err != nil {
		t.Fatalf("LogAndApply failed: %v", err)
	}
}

func TestMinorFlushesDedupedEntriesToL0(t *testing.T) {
	status, cln, _ := newTestStatus(t)
	defer cln.Close()

	mem := memtable.New(bytes.Compare)
	mem.Insert([]byte("a"), block.Value{Bytes: []byte("1")}, 1)
	mem.Insert([]byte("b"), block.Value{Bytes: []byte("2")}, 2)
	mem.Insert([]byte("a"), block.Value{Bytes: []byte("3")}, 3)
	entries, lastSeq, err := mem.Swap()
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	cfg := Config{Builder: testBuilderOpts(), MajorThresholdBase: 4, LevelMagnification: 10, MajorSelectFileSize: 4, SSTFileSize: 1 << 20}
	c := New(status, mem, nil, cfg, bytes.Compare, genCounter(0), nil)

	if err := c.Minor(entries, lastSeq); err != nil {
		t.Fatalf("Minor failed: %v", err)
	}
	if mem.HasImmutable() {
		t.Fatal("immutable table should be cleared after Minor")
	}

	v := status.Current()
	defer v.Release()
	if len(v.Levels[0]) != 1 {
		t.Fatalf("L0 has %d scopes, want 1", len(v.Levels[0]))
	}

	val, ok, err := v.Find([]byte("a"))
	if err != nil || !ok || string(val.Bytes) != "3" {
		t.Fatalf("Find(a) = %+v, %v, %v, want the newest write (3)", val, ok, err)
	}
}

func TestMinorFlushesASurvivingTombstone(t *testing.T) {
	status, cln, _ := newTestStatus(t)
	defer cln.Close()

	mem := memtable.New(bytes.Compare)
	mem.Insert([]byte("a"), block.Value{Bytes: []byte("1")}, 1)
	mem.Insert([]byte("a"), block.Value{Tombstone: true}, 2)
	entries, lastSeq, err := mem.Swap()
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	cfg := Config{Builder: testBuilderOpts(), MajorThresholdBase: 4, LevelMagnification: 10, MajorSelectFileSize: 4, SSTFileSize: 1 << 20}
	c := New(status, mem, nil, cfg, bytes.Compare, genCounter(0), nil)

	// A single surviving tombstone still produces a table (it must be
	// durably recorded); this asserts Minor does not error on tombstones
	// and that ClearImmutable always runs.
	if err := c.Minor(entries, lastSeq); err != nil {
		t.Fatalf("Minor failed: %v", err)
	}
	if mem.HasImmutable() {
		t.Fatal("immutable table should be cleared after Minor")
	}

	v := status.Current()
	defer v.Release()
	val, ok, err := v.Find([]byte("a"))
	if err != nil || !ok || !val.Tombstone {
		t.Fatalf("Find(a) = %+v, %v, %v, want a visible tombstone", val, ok, err)
	}
}

func TestMajorMergesOverlappingL0IntoL1(t *testing.T) {
	status, cln, loader := newTestStatus(t)
	defer cln.Close()

	// gen 1 is the older L0 file; gen 2 overwrites "a" and adds "b".
	seedL0(t, status, loader, 1, map[string]string{"a": "old", "c": "stays-old"})
	seedL0(t, status, loader, 2, map[string]string{"a": "new", "b": "new"})

	cfg := Config{
		Builder:             testBuilderOpts(),
		MajorThresholdBase:  2,
		LevelMagnification:  10,
		MajorSelectFileSize: 10,
		SSTFileSize:         1 << 20,
	}
	mem := memtable.New(bytes.Compare)
	c := New(status, mem, nil, cfg, bytes.Compare, genCounter(100), nil)

	if err := c.Major(); err != nil {
		t.Fatalf("Major failed: %v", err)
	}

	v := status.Current()
	defer v.Release()
	if len(v.Levels[0]) != 0 {
		t.Fatalf("L0 should be drained after compacting it into L1, has %d scopes", len(v.Levels[0]))
	}
	if len(v.Levels[1]) == 0 {
		t.Fatal("L1 should have received the merged output")
	}

	cases := map[string]string{"a": "new", "b": "new", "c": "stays-old"}
	for k, want := range cases {
		val, ok, err := v.Find([]byte(k))
		if err != nil || !ok || string(val.Bytes) != want {
			t.Fatalf("Find(%q) = %+v, %v, %v, want %q", k, val, ok, err, want)
		}
	}
}

func TestMajorIsNoopBelowThreshold(t *testing.T) {
	status, cln, loader := newTestStatus(t)
	defer cln.Close()
	seedL0(t, status, loader, 1, map[string]string{"a": "1"})

	cfg := Config{
		Builder:             testBuilderOpts(),
		MajorThresholdBase:  4,
		LevelMagnification:  10,
		MajorSelectFileSize: 10,
		SSTFileSize:         1 << 20,
	}
	mem := memtable.New(bytes.Compare)
	c := New(status, mem, nil, cfg, bytes.Compare, genCounter(100), nil)

	before := status.Current()
	if err := c.Major(); err != nil {
		t.Fatalf("Major failed: %v", err)
	}
	after := status.Current()
	if before.Num != after.Num {
		t.Fatal("Major should not publish a new version when no level is over threshold")
	}
	before.Release()
	after.Release()
}

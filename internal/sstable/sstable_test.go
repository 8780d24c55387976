package sstable

import (
	"bytes"
	"testing"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/compression"
	"github.com/ordkv/ordkv/internal/ioengine"
)

func buildTable(t *testing.T, loader *Loader, gen uint64, opts BuilderOptions, entries map[string]block.Value) Scope {
	t.Helper()
	w, err := loader.Writer(gen)
	if err != nil {
		t.Fatalf("Writer(%d) failed: %v", gen, err)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}

	b := NewBuilder(w, opts)
	for _, k := range keys {
		if err := b.Add([]byte(k), entries[k]); err != nil {
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
	return scope
}

func testOpts() BuilderOptions {
	return BuilderOptions{
		Level:                1,
		BlockSize:            64,
		DataRestartInterval:  2,
		IndexRestartInterval: 2,
		Compression:          compression.LZ4Compression,
		DesiredErrorProb:     0.01,
		Comparator:           bytes.Compare,
	}
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), cache.New(1<<20, 4), ioengine.Memory, bytes.Compare)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	w, err := loader.Writer(1)
	if err != nil {
		t.Fatalf("Writer failed: %v", err)
	}
	b := NewBuilder(w, testOpts())
	if err := b.Add([]byte("b"), block.Value{Bytes: []byte("1")}); err != nil {
		t.Fatalf("Add(b) failed: %v", err)
	}
	if err := b.Add([]byte("a"), block.Value{Bytes: []byte("2")}); err == nil {
		t.Fatal("expected Add to reject a key out of order")
	}
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), cache.New(1<<20, 4), ioengine.Memory, bytes.Compare)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	entries := map[string]block.Value{
		"apple":      {Bytes: []byte("red")},
		"banana":     {Bytes: []byte("yellow")},
		"cherry":     {Tombstone: true},
		"date":       {Bytes: []byte("brown")},
		"elderberry": {Bytes: []byte("purple")},
		"fig":        {Bytes: []byte("green")},
	}
	scope := buildTable(t, loader, 1, testOpts(), entries)
	if !bytes.Equal(scope.StartKey, []byte("apple")) || !bytes.Equal(scope.EndKey, []byte("fig")) {
		t.Fatalf("scope = %+v, want StartKey=apple EndKey=fig", scope)
	}

	sst, err := loader.Open(1, scope)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sst.Close()

	if sst.Level() != 1 {
		t.Fatalf("Level() = %d, want 1", sst.Level())
	}
	if sst.NumEntries() != uint64(len(entries)) {
		t.Fatalf("NumEntries() = %d, want %d", sst.NumEntries(), len(entries))
	}
	if sst.SizeOfDisk() == 0 {
		t.Fatal("SizeOfDisk() should be nonzero")
	}

	for k, want := range entries {
		got, ok, err := sst.Query([]byte(k))
		if err != nil {
			t.Fatalf("Query(%q) failed: %v", k, err)
		}
		if !ok {
			t.Fatalf("Query(%q) missing", k)
		}
		if !bytes.Equal(got.Bytes, want.Bytes) || got.Tombstone != want.Tombstone {
			t.Fatalf("Query(%q) = %+v, want %+v", k, got, want)
		}
	}

	if _, ok, err := sst.Query([]byte("grape")); err != nil || ok {
		t.Fatalf("Query(grape) = ok=%v err=%v, want ok=false", ok, err)
	}

	var seen []string
	if err := sst.ForEach(func(key []byte, _ block.Value) bool {
		seen = append(seen, string(key))
		return true
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	want := []string{"apple", "banana", "cherry", "date", "elderberry", "fig"}
	if len(seen) != len(want) {
		t.Fatalf("ForEach visited %d keys, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ForEach order[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestForEachStopsEarly(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), cache.New(1<<20, 4), ioengine.Memory, bytes.Compare)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	entries := map[string]block.Value{
		"a": {Bytes: []byte("1")},
		"b": {Bytes: []byte("2")},
		"c": {Bytes: []byte("3")},
	}
	scope := buildTable(t, loader, 1, testOpts(), entries)
	sst, err := loader.Open(1, scope)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sst.Close()

	var count int
	if err := sst.ForEach(func(_ []byte, _ block.Value) bool {
		count++
		return count < 2
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("ForEach visited %d entries, want 2 (early stop)", count)
	}
}

func TestScopeContains(t *testing.T) {
	s := Scope{StartKey: []byte("c"), EndKey: []byte("m")}
	cases := []struct {
		key  string
		want bool
	}{
		{"a", false}, {"c", true}, {"g", true}, {"m", true}, {"z", false},
	}
	for _, tc := range cases {
		if got := s.Contains([]byte(tc.key), bytes.Compare); got != tc.want {
			t.Fatalf("Contains(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestScopeOverlaps(t *testing.T) {
	s := Scope{StartKey: []byte("c"), EndKey: []byte("m")}
	cases := []struct {
		other Scope
		want  bool
	}{
		{Scope{StartKey: []byte("a"), EndKey: []byte("b")}, false},
		{Scope{StartKey: []byte("a"), EndKey: []byte("c")}, true},
		{Scope{StartKey: []byte("g"), EndKey: []byte("h")}, true},
		{Scope{StartKey: []byte("m"), EndKey: []byte("z")}, true},
		{Scope{StartKey: []byte("n"), EndKey: []byte("z")}, false},
	}
	for _, tc := range cases {
		if got := s.Overlaps(tc.other, bytes.Compare); got != tc.want {
			t.Fatalf("Overlaps(%+v) = %v, want %v", tc.other, got, tc.want)
		}
	}
}

func TestScopeFuse(t *testing.T) {
	scopes := []Scope{
		{StartKey: []byte("d"), EndKey: []byte("f")},
		{StartKey: []byte("a"), EndKey: []byte("c")},
		{StartKey: []byte("e"), EndKey: []byte("z")},
	}
	fused, ok := Fuse(scopes, bytes.Compare)
	if !ok {
		t.Fatal("Fuse returned ok=false for nonempty input")
	}
	if !bytes.Equal(fused.StartKey, []byte("a")) || !bytes.Equal(fused.EndKey, []byte("z")) {
		t.Fatalf("Fuse = %+v, want StartKey=a EndKey=z", fused)
	}
	if fused.Gen != 0 {
		t.Fatalf("Fuse.Gen = %d, want 0", fused.Gen)
	}

	if _, ok := Fuse(nil, bytes.Compare); ok {
		t.Fatal("Fuse on empty input should return ok=false")
	}
}

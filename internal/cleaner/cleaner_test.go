package cleaner

import (
	"bytes"
	"testing"
	"time"

	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/ioengine"
	"github.com/ordkv/ordkv/internal/sstable"
)

func newTestLoader(t *testing.T) *sstable.Loader {
	t.Helper()
	loader, err := sstable.NewLoader(t.TempDir(), cache.New(1<<20, 4), ioengine.Buffered, bytes.Compare)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	return loader
}

func touchGen(t *testing.T, loader *sstable.Loader, gen uint64) {
	t.Helper()
	w, err := loader.Writer(gen)
	if err != nil {
		t.Fatalf("Writer(%d) failed: %v", gen, err)
	}
	if _, err := w.Write([]byte("placeholder")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

// waitUntil polls cond every millisecond since Cleaner processes messages
// on its own background goroutine.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestCleanDeletesOnceVersionDrops(t *testing.T) {
	loader := newTestLoader(t)
	touchGen(t, loader, 5)

	c := New(loader, nil)
	c.Add(10, []uint64{5})
	if !loader.Exists(5) {
		t.Fatal("gen 5 should still exist before Clean(10)")
	}

	c.Clean(10)
	waitUntil(t, func() bool { return !loader.Exists(5) })
}

func TestCleanOnUnrelatedVersionIsNoop(t *testing.T) {
	loader := newTestLoader(t)
	touchGen(t, loader, 1)

	c := New(loader, nil)
	c.Add(10, []uint64{1})
	c.Clean(99) // no pending batch was queued under vn=99

	// Give the background goroutine a chance to process the (no-op)
	// message, then confirm gen 1 is untouched.
	time.Sleep(10 * time.Millisecond)
	if !loader.Exists(1) {
		t.Fatal("gen 1 should not have been deleted by an unrelated Clean")
	}
	c.Close()
}

func TestCloseDrainsQueuedDeletions(t *testing.T) {
	loader := newTestLoader(t)
	touchGen(t, loader, 1)
	touchGen(t, loader, 2)

	c := New(loader, nil)
	c.Add(1, []uint64{1})
	c.Add(2, []uint64{2})
	c.Close()

	if loader.Exists(1) || loader.Exists(2) {
		t.Fatal("Close should have deleted every queued gen before returning")
	}
}

func TestAddBeforeCleanMergesIntoPriorPendingBatch(t *testing.T) {
	loader := newTestLoader(t)
	touchGen(t, loader, 1)
	touchGen(t, loader, 2)

	c := New(loader, nil)
	// Two Add calls at different versions. Cleaning the younger version
	// first merges its gens into the older pending batch instead of
	// deleting them; they go only when the older version's Clean fires.
	c.Add(1, []uint64{1})
	c.Add(2, []uint64{2})
	c.Clean(2)

	time.Sleep(10 * time.Millisecond)
	if !loader.Exists(2) {
		t.Fatal("gen 2 should survive Clean(2) while batch 1 is still pending")
	}

	c.Clean(1)
	waitUntil(t, func() bool { return !loader.Exists(1) && !loader.Exists(2) })
}

// Package cleaner implements the background task that deletes obsolete
// SST files once no live Version can still reach them, per spec.md §4.8.
//
// The teacher deletes obsolete files inline from its background
// compaction loop (db/background.go) rather than through a dedicated
// actor; ordkv needs the queue-with-transfer algorithm spec.md specifies
// precisely, which has no direct teacher equivalent, so this package is
// new — grounded on the teacher's general message-passing background-task
// idiom (internal/compaction/job.go) rather than on any specific file.
package cleaner

import (
	"github.com/ordkv/ordkv/internal/logging"
	"github.com/ordkv/ordkv/internal/sstable"
)

type kind int

const (
	kindAdd kind = iota
	kindClean
)

type message struct {
	kind kind
	vn   uint64
	gens []uint64
}

// pending is one not-yet-deletable batch of obsolete gens, tied to the
// Version number at which they stopped being part of the live layout.
type pending struct {
	vn   uint64
	gens []uint64
}

// Cleaner owns the obsolete-file queue and runs as a background
// goroutine fed by a buffered channel of capacity 256; Add and Clean
// block while that channel is full.
type Cleaner struct {
	loader *sstable.Loader
	logger logging.Logger
	ch     chan message
	done   chan struct{}
}

// New starts a Cleaner deleting obsolete files from loader.
func New(loader *sstable.Loader, logger logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.Discard
	}
	c := &Cleaner{
		loader: loader,
		logger: logger,
		ch:     make(chan message, 256),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Add queues gens as obsolete as of Version vn: they must not be
// physically deleted until every Version older than vn has dropped. It
// must be called for every version transition, even one with no deleted
// gens (a pure-NewFile edit) — applyClean's idx==0 check uses queue
// density to mean "no older live Version remains", so skipping an empty
// Add would let a younger Version's gens be deleted out from under an
// older Version that never got a queue entry to block behind.
func (c *Cleaner) Add(vn uint64, gens []uint64) {
	c.ch <- message{kind: kindAdd, vn: vn, gens: gens}
}

// Clean signals that Version vn has been dropped (no reader holds it any
// longer).
func (c *Cleaner) Clean(vn uint64) {
	c.ch <- message{kind: kindClean, vn: vn}
}

// Close stops accepting new messages and blocks until the Cleaner has
// drained its queue, deleting every remaining entry's gens — the final
// flush's drain-on-close behavior from spec.md §5.
func (c *Cleaner) Close() {
	close(c.ch)
	<-c.done
}

func (c *Cleaner) run() {
	defer close(c.done)

	var queue []pending
	for m := range c.ch {
		switch m.kind {
		case kindAdd:
			queue = append(queue, pending{vn: m.vn, gens: m.gens})
		case kindClean:
			queue = c.applyClean(queue, m.vn)
		}
	}

	for _, p := range queue {
		c.deleteGens(p.gens)
	}
}

func (c *Cleaner) applyClean(queue []pending, vn uint64) []pending {
	idx := -1
	for i, p := range queue {
		if p.vn == vn {
			idx = i
			break
		}
	}
	if idx == -1 {
		// No gens became obsolete at this Version's creation; nothing to
		// do (the common case).
		return queue
	}

	if idx == 0 {
		c.deleteGens(queue[idx].gens)
		return append(queue[:0], queue[1:]...)
	}

	queue[idx-1].gens = append(queue[idx-1].gens, queue[idx].gens...)
	return append(queue[:idx], queue[idx+1:]...)
}

func (c *Cleaner) deleteGens(gens []uint64) {
	for _, gen := range gens {
		if err := c.loader.Drop(gen); err != nil {
			c.logger.Warnf("[cleaner] failed to delete sst gen=%d: %v", gen, err)
		}
	}
}

package sstable

import (
	"sync"

	"github.com/ordkv/ordkv/internal/cache"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/ioengine"
)

// Ext is the file extension SST files are stored under.
const Ext = "sst"

// Loader is the arena owning every open SSTable, keyed by gen. Versions
// hold only Scopes; they look up the actual SSTable here on read.
// Reference-counted lifetime is not tracked per-SST — the Cleaner (per
// spec.md §4.8) decides when a gen's file may be physically removed, and
// Loader.Drop is only ever called once that decision has been made.
type Loader struct {
	factory *ioengine.Factory
	cache   *cache.BlockCache
	ioType  ioengine.Type
	cmp     Comparator

	mu    sync.RWMutex
	tables map[uint64]*SSTable
}

// NewLoader creates a Loader rooted at dir (created if absent).
func NewLoader(dir string, blockCache *cache.BlockCache, ioType ioengine.Type, cmp Comparator) (*Loader, error) {
	factory, err := ioengine.NewFactory(dir)
	if err != nil {
		return nil, errs.New(errs.Io, "sstable.NewLoader", err)
	}
	return &Loader{
		factory: factory,
		cache:   blockCache,
		ioType:  ioType,
		cmp:     cmp,
		tables:  make(map[uint64]*SSTable),
	}, nil
}

// Factory returns the Loader's underlying ioengine.Factory, used by the
// Compactor to open new-file writers under the same directory.
func (l *Loader) Factory() *ioengine.Factory { return l.factory }

// Open opens gen's file, registers it in the loader, and returns it.
// scope must describe the file's key range (the caller already knows this
// from having just built it, or from a NewFile VersionEdit).
func (l *Loader) Open(gen uint64, scope Scope) (*SSTable, error) {
	reader, err := l.factory.Reader(gen, Ext, l.ioType)
	if err != nil {
		return nil, errs.New(errs.FileNotFound, "sstable.Loader.Open", err)
	}
	table, err := Open(gen, scope, reader, l.cache, l.cmp)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	l.mu.Lock()
	l.tables[gen] = table
	l.mu.Unlock()
	return table, nil
}

// Get returns the already-open SSTable for gen, if any.
func (l *Loader) Get(gen uint64) (*SSTable, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tables[gen]
	return t, ok
}

// Writer opens a writer for a brand-new gen, to be passed to
// sstable.NewBuilder.
func (l *Loader) Writer(gen uint64) (ioengine.Writer, error) {
	w, err := l.factory.Writer(gen, Ext, l.ioType)
	if err != nil {
		return nil, errs.New(errs.Io, "sstable.Loader.Writer", err)
	}
	return w, nil
}

// Drop closes and physically removes gen's file and evicts its cached
// blocks. Called only by the Cleaner once no live Version can reach gen.
func (l *Loader) Drop(gen uint64) error {
	l.mu.Lock()
	table, ok := l.tables[gen]
	delete(l.tables, gen)
	l.mu.Unlock()

	if ok {
		_ = table.Close()
	}
	l.cache.EraseGen(gen)

	if err := l.factory.Clean(gen, Ext); err != nil {
		return errs.New(errs.Io, "sstable.Loader.Drop", err)
	}
	return nil
}

// Exists reports whether gen's file exists on disk (or in memory, for the
// Memory IOType).
func (l *Loader) Exists(gen uint64) bool {
	return l.factory.Exists(gen, Ext)
}

package ordkv

import (
	"sort"
	"sync"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/version"
)

// Transaction is an isolated, buffered sequence of reads and writes
// against a Storage, per spec.md §4.10. Set and Remove only touch a
// private write buffer; nothing becomes visible to other callers until
// Commit. Get resolves through the buffer, then the MemTable as it stood
// at the moment the transaction began, then a Version captured at that
// same moment — so a Transaction never observes a mutation committed by
// another caller after it started.
//
// Grounded on the shape of the teacher's optimisticTransaction in
// db/transaction.go (a mutex-guarded struct holding a write batch and a
// snapshot, with Put/Get/Delete/Commit/Rollback), but without its
// write-write conflict validation: spec.md §4.10 never describes a
// validate-at-commit step, only buffered writes applied under one fresh
// seq_id, so "optimistic" here means lock-free, not OCC.
type Transaction struct {
	mu sync.Mutex

	storage  *Storage
	beginSeq uint64
	ver      *version.Version

	buffer   map[string]block.Value
	observed map[string]bool

	closed bool
}

// Transaction begins a new isolated transaction against s, per spec.md §6
// `transaction() → Transaction`. The MemTable's table pair is held under a
// shared guard for the transaction's whole lifetime (so it cannot flip
// under it) — callers must eventually call Commit or Rollback to release
// it, or background flushes will stall indefinitely.
func (s *Storage) Transaction() (*Transaction, error) {
	if s.closed.Load() {
		return nil, errs.New(errs.Other, "ordkv.Storage.Transaction", nil)
	}
	if err := s.bgError(); err != nil {
		return nil, err
	}

	s.mem.RLock()
	return &Transaction{
		storage:  s,
		beginSeq: s.seq.Next(),
		ver:      s.status.Current(),
		buffer:   make(map[string]block.Value),
		observed: make(map[string]bool),
	}, nil
}

// Get resolves key against the write buffer, then the MemTable as of the
// transaction's begin sequence id, then the Version captured at begin.
func (txn *Transaction) Get(key []byte) ([]byte, bool, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.closed {
		return nil, false, errs.New(errs.Other, "ordkv.Transaction.Get", nil)
	}

	if v, ok := txn.buffer[string(key)]; ok {
		return txn.resolve(key, v)
	}

	if v, ok := txn.storage.mem.FindLocked(key, txn.beginSeq); ok {
		return txn.resolve(key, v)
	}

	v, ok, err := txn.ver.Find(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return txn.resolve(key, v)
}

// resolve records key as observed and translates a found Value into the
// public (bytes, ok) shape, treating a tombstone as not-found.
func (txn *Transaction) resolve(key []byte, v block.Value) ([]byte, bool, error) {
	txn.observed[string(key)] = true
	if v.Tombstone {
		return nil, false, nil
	}
	return v.Bytes, true, nil
}

// Set buffers a write for key, visible to later Get calls on this
// transaction but not durable or visible elsewhere until Commit.
func (txn *Transaction) Set(key, value []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.closed {
		return errs.New(errs.Other, "ordkv.Transaction.Set", nil)
	}
	txn.buffer[string(key)] = block.Value{Bytes: value}
	return nil
}

// Remove buffers a tombstone for key. Per spec.md §4.10, remove requires a
// prior Get on this transaction to have observed key (found a live value
// or, after an earlier buffered Set, a buffered tombstone) — it is not a
// blind delete.
func (txn *Transaction) Remove(key []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.closed {
		return errs.New(errs.Other, "ordkv.Transaction.Remove", nil)
	}
	if !txn.observed[string(key)] {
		return errs.New(errs.KeyNotFound, "ordkv.Transaction.Remove", nil)
	}
	txn.buffer[string(key)] = block.Value{Tombstone: true}
	return nil
}

// Commit WAL-logs every buffered entry in key order (if WAL is enabled),
// mints one fresh seq_id, and inserts every buffered entry into the live
// MemTable under that single seq_id — one composite (user-key, seq) pair
// per user key — so the whole transaction becomes visible to new readers
// atomically. It always releases the guards taken at Begin, even on
// error; a failed Commit leaves the transaction closed, not resumable.
func (txn *Transaction) Commit() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.closed {
		return errs.New(errs.Other, "ordkv.Transaction.Commit", nil)
	}
	defer txn.storage.maybeTriggerFlush()
	defer txn.release()

	if txn.storage.closed.Load() {
		return errs.New(errs.Other, "ordkv.Transaction.Commit", nil)
	}
	if err := txn.storage.bgError(); err != nil {
		return err
	}

	keys := make([]string, 0, len(txn.buffer))
	for k := range txn.buffer {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return txn.storage.cmp([]byte(keys[i]), []byte(keys[j])) < 0
	})

	seq := txn.storage.seq.Next()

	if txn.storage.wal != nil {
		for _, k := range keys {
			record := encodeWalRecord([]byte(k), seq, txn.buffer[k])
			if err := txn.storage.wal.AddRecord(record); err != nil {
				return err
			}
		}
		if !txn.storage.cfg.WalAsyncPutEnable {
			if err := txn.storage.wal.Sync(); err != nil {
				return err
			}
		}
	}

	for _, k := range keys {
		txn.storage.mem.InsertLocked([]byte(k), txn.buffer[k], seq)
	}

	return nil
}

// Rollback discards the transaction's buffered writes without touching
// the MemTable or WAL, and releases the guards taken at Begin.
func (txn *Transaction) Rollback() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.closed {
		return nil
	}
	txn.release()
	return nil
}

// release drops the guards taken at Begin. Caller must hold txn.mu.
func (txn *Transaction) release() {
	txn.closed = true
	txn.ver.Release()
	txn.storage.mem.RUnlock()
}

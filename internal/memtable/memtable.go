package memtable

import (
	"bytes"
	"math"
	"sync"

	"github.com/ordkv/ordkv/internal/block"
	"github.com/ordkv/ordkv/internal/encoding"
	"github.com/ordkv/ordkv/internal/errs"
)

// Comparator orders two user keys, matching bytes.Compare's contract.
type Comparator func(a, b []byte) int

// EntryComparator orders two encoded entries as produced by encodeEntry.
type EntryComparator func(a, b []byte) int

// MaxSeq is the largest representable sequence id, used as the upper
// bound of a reverse scan that wants "the newest version of this key
// regardless of snapshot".
const MaxSeq = math.MaxUint64

// entry wire format: varint32(len(userKey)) | userKey | seq(fixed64 LE) | item
//
// Splitting on a length-prefixed user key (rather than a fixed-size
// trailer at the end) keeps decoding a single forward pass; the
// comparator only ever needs the user key and the seq, never the
// trailing item payload.
func encodeEntry(userKey []byte, seq uint64, item []byte) []byte {
	buf := make([]byte, 0, 5+len(userKey)+8+len(item))
	buf = encoding.AppendVarint32(buf, uint32(len(userKey)))
	buf = append(buf, userKey...)
	buf = encoding.AppendFixed64(buf, seq)
	buf = append(buf, item...)
	return buf
}

func decodeEntry(e []byte) (userKey []byte, seq uint64, item []byte, ok bool) {
	ulen, n, err := encoding.DecodeVarint32(e)
	if err != nil || int(ulen)+n+8 > len(e) {
		return nil, 0, nil, false
	}
	e = e[n:]
	userKey = e[:ulen]
	e = e[ulen:]
	seq = encoding.DecodeFixed64(e[:8])
	item = e[8:]
	return userKey, seq, item, true
}

func makeComparator(userCmp Comparator) EntryComparator {
	return func(a, b []byte) int {
		ua, sa, _, _ := decodeEntry(a)
		ub, sb, _, _ := decodeEntry(b)
		if c := userCmp(ua, ub); c != 0 {
			return c
		}
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
}

// Entry is one decoded (user-key, seq-id, value) triple, as returned by
// Find and by the entries produced on Swap.
type Entry struct {
	UserKey []byte
	Seq     uint64
	Value   block.Value
}

// inner holds the mutable/immutable table pair. Swap moves mem to immut
// atomically under the exclusive lock; concurrent inserts only need the
// shared lock, since the skip list serializes concurrent writers
// internally (writeMu) and needs no lock at all on the read path.
type inner struct {
	mem   *skipList
	immut *skipList
}

// MemTable is the in-memory mutable/immutable table pair described in
// spec.md §4.6: an ordered map over composite (user-key, seq-id) keys,
// with atomic swap of mem into immut ahead of a flush.
type MemTable struct {
	cmp Comparator

	mu    sync.RWMutex
	state inner
}

// New creates an empty MemTable ordered by cmp (nil defaults to bytewise
// comparison with bytes.Compare).
func New(cmp Comparator) *MemTable {
	if cmp == nil {
		cmp = bytes.Compare
	}
	mt := &MemTable{cmp: cmp}
	mt.state.mem = newSkipList(makeComparator(cmp))
	return mt
}

// Insert records one mutation at seq for userKey. cmd is the Value to
// store — a write or a tombstone.
func (mt *MemTable) Insert(userKey []byte, cmd block.Value, seq uint64) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	mt.InsertLocked(userKey, cmd, seq)
}

// InsertLocked is Insert without acquiring the table-pair guard itself —
// the caller must already hold it via RLock, as Transaction does during
// Commit.
func (mt *MemTable) InsertLocked(userKey []byte, cmd block.Value, seq uint64) {
	entry := encodeEntry(userKey, seq, block.EncodeValue(cmd))
	mt.state.mem.insert(entry)
}

// Find returns the freshest value for userKey with seq_id <= snapshotSeq,
// scanning mem first and then immut (if present). ok is false if no
// version of userKey is visible at snapshotSeq in this MemTable.
func (mt *MemTable) Find(userKey []byte, snapshotSeq uint64) (block.Value, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.FindLocked(userKey, snapshotSeq)
}

// FindLocked is Find without acquiring the table-pair guard itself — the
// caller must already hold it via RLock. A Transaction takes the guard
// once for its whole lifetime (so the table pair cannot flip underneath
// it, per spec.md §4.10) and must use this instead of Find to avoid the
// non-reentrant-RLock deadlock that calling Find would risk.
func (mt *MemTable) FindLocked(userKey []byte, snapshotSeq uint64) (block.Value, bool) {
	if v, ok := findIn(mt.state.mem, mt.cmp, userKey, snapshotSeq); ok {
		return v, true
	}
	if mt.state.immut != nil {
		if v, ok := findIn(mt.state.immut, mt.cmp, userKey, snapshotSeq); ok {
			return v, true
		}
	}
	return block.Value{}, false
}

// RLock acquires the table-pair guard. Held for the duration of a
// Transaction so Swap cannot run until the transaction ends, per
// spec.md §4.10.
func (mt *MemTable) RLock() { mt.mu.RLock() }

// RUnlock releases a guard acquired by RLock.
func (mt *MemTable) RUnlock() { mt.mu.RUnlock() }

// findIn implements the reverse range scan from spec.md §4.6: seek to the
// first entry >= (userKey, MaxSeq), step back once to land on the newest
// entry for userKey (if any), then keep stepping back while the seq is
// still newer than the snapshot.
func findIn(sl *skipList, cmp Comparator, userKey []byte, snapshotSeq uint64) (block.Value, bool) {
	probe := encodeEntry(userKey, MaxSeq, nil)
	it := sl.newIterator()
	it.seek(probe)
	if it.valid() {
		it.prev()
	} else {
		it.seekToLast()
	}

	for it.valid() {
		uk, seq, item, ok := decodeEntry(it.entry())
		if !ok || cmp(uk, userKey) != 0 {
			return block.Value{}, false
		}
		if seq <= snapshotSeq {
			v, err := block.DecodeValue(item)
			if err != nil {
				return block.Value{}, false
			}
			return v, true
		}
		it.prev()
	}
	return block.Value{}, false
}

// Len returns the number of entries in the mutable table.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return int(mt.state.mem.len())
}

// Swap atomically moves mem into immut for the Compactor to flush, and
// returns the table's entries in key order along with the largest seq_id
// among them. It fails if immut already holds unflushed data.
func (mt *MemTable) Swap() ([]Entry, uint64, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.state.immut != nil {
		return nil, 0, errs.New(errs.Other, "memtable.Swap", nil)
	}

	mt.state.immut = mt.state.mem
	mt.state.mem = newSkipList(makeComparator(mt.cmp))

	entries := make([]Entry, 0, mt.state.immut.len())
	var lastSeq uint64
	it := mt.state.immut.newIterator()
	for it.seekToFirst(); it.valid(); it.next() {
		uk, seq, item, ok := decodeEntry(it.entry())
		if !ok {
			continue
		}
		v, err := block.DecodeValue(item)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{UserKey: uk, Seq: seq, Value: v})
		if seq > lastSeq {
			lastSeq = seq
		}
	}
	return entries, lastSeq, nil
}

// TryExceededThenSwap calls Swap iff the mutable table has reached
// threshold entries. ok reports whether a swap happened.
func (mt *MemTable) TryExceededThenSwap(threshold int) (entries []Entry, lastSeq uint64, ok bool, err error) {
	mt.mu.Lock()
	if mt.state.mem.len() < int64(threshold) || mt.state.immut != nil {
		mt.mu.Unlock()
		return nil, 0, false, nil
	}
	mt.mu.Unlock()

	entries, lastSeq, err = mt.Swap()
	if err != nil {
		return nil, 0, false, err
	}
	return entries, lastSeq, true, nil
}

// ClearImmutable drops the immutable table once the Compactor has
// durably flushed it to an SST and the corresponding VersionEdit is
// durable in the version log.
func (mt *MemTable) ClearImmutable() {
	mt.mu.Lock()
	mt.state.immut = nil
	mt.mu.Unlock()
}

// HasImmutable reports whether an immutable table is currently awaiting
// flush.
func (mt *MemTable) HasImmutable() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.state.immut != nil
}

/*
Package ordkv provides a pure-Go, embedded, persistent ordered key/value
storage engine built on a log-structured merge (LSM) tree.

ordkv maps byte-string keys to optional byte-string values (an absent
value is a tombstone), and serves point reads, writes, removals,
multi-version snapshot reads, and optimistic transactions, all durable
across process restarts.

# Usage

	s, err := ordkv.Open("/var/lib/mydb", 10_000, ordkv.IOBuffered)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		log.Fatal(err)
	}
	v, ok, err := s.Get([]byte("k"))

# Concurrency

A Storage instance is safe for concurrent use by multiple goroutines.
A Transaction is not safe for concurrent use by more than one goroutine.

# Scope

ordkv is the storage engine core: memtable + WAL, the SST binary format,
leveled compaction, and the version/snapshot/transaction layer. It does not
include a network server, a CLI front-end, or an alternative storage
backend — those are consumers of the Storage API defined here.
*/
package ordkv

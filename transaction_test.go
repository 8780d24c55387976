package ordkv

import "testing"

func TestTransactionBufferedWritesInvisibleUntilCommit(t *testing.T) {
	s := openTestStorage(t, nil)

	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := txn.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Storage.Get before Commit = ok=%v err=%v, want ok=false", ok, err)
	}
	v, ok, err := txn.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("txn.Get(k) = %q, %v, %v, want v", v, ok, err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	v, ok, err = s.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Storage.Get after Commit = %q, %v, %v, want v", v, ok, err)
	}
}

func TestTransactionSeesPreexistingStorageState(t *testing.T) {
	s := openTestStorage(t, nil)
	if err := s.Set([]byte("k"), []byte("before")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	defer txn.Rollback()

	v, ok, err := txn.Get([]byte("k"))
	if err != nil || !ok || string(v) != "before" {
		t.Fatalf("txn.Get(k) = %q, %v, %v, want before", v, ok, err)
	}
}

func TestTransactionRemoveRequiresPriorObservation(t *testing.T) {
	s := openTestStorage(t, nil)

	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	defer txn.Rollback()

	if err := txn.Remove([]byte("never-seen")); err == nil {
		t.Fatal("expected Remove to fail for a key never observed by this transaction")
	}

	if _, _, err := txn.Get([]byte("never-seen")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// A Get that finds nothing does not mark the key observed, so Remove
	// still fails.
	if err := txn.Remove([]byte("never-seen")); err == nil {
		t.Fatal("expected Remove to fail after a Get that found no value")
	}
}

func TestTransactionRollbackDiscardsBuffer(t *testing.T) {
	s := openTestStorage(t, nil)

	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := txn.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Get(k) after Rollback = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestTransactionOperationsFailAfterClose(t *testing.T) {
	s := openTestStorage(t, nil)
	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := txn.Set([]byte("k"), []byte("v")); err == nil {
		t.Fatal("expected Set to fail on a committed transaction")
	}
	if _, _, err := txn.Get([]byte("k")); err == nil {
		t.Fatal("expected Get to fail on a committed transaction")
	}
	if err := txn.Commit(); err == nil {
		t.Fatal("expected a second Commit to fail")
	}
}

func TestTransactionSetThenRemoveSameKeyCommitsTombstone(t *testing.T) {
	s := openTestStorage(t, nil)

	txn, err := s.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := txn.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Remove requires a prior observation; Get against the just-buffered
	// write satisfies that and also exercises the buffer-read path.
	if _, ok, err := txn.Get([]byte("k")); err != nil || !ok {
		t.Fatalf("Get(k) after Set = ok=%v err=%v, want ok=true", ok, err)
	}
	if err := txn.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Get(k) after commit = ok=%v err=%v, want ok=false (tombstoned)", ok, err)
	}
}

package ordkv

import (
	"fmt"
	"testing"
)

func TestBatchOrderRunsSequentiallyAndSeesEarlierWrites(t *testing.T) {
	s := openTestStorage(t, nil)

	cmds := []Command{
		SetCommand([]byte("a"), []byte("1")),
		GetCommand([]byte("a")),
		SetCommand([]byte("a"), []byte("2")),
		GetCommand([]byte("a")),
		RemoveCommand([]byte("a")),
		GetCommand([]byte("a")),
	}
	results, err := s.BatchOrder(cmds)
	if err != nil {
		t.Fatalf("BatchOrder failed: %v", err)
	}
	if len(results) != len(cmds) {
		t.Fatalf("got %d results, want %d", len(results), len(cmds))
	}
	if !results[1].Found || string(results[1].Value) != "1" {
		t.Fatalf("results[1] = %+v, want Found=true Value=1", results[1])
	}
	if !results[3].Found || string(results[3].Value) != "2" {
		t.Fatalf("results[3] = %+v, want Found=true Value=2 (sees the overwrite)", results[3])
	}
	if results[5].Found {
		t.Fatalf("results[5] = %+v, want Found=false after RemoveCommand", results[5])
	}
}

func TestBatchOrderStopsAtFirstError(t *testing.T) {
	s := openTestStorage(t, nil)

	cmds := []Command{
		SetCommand([]byte("a"), []byte("1")),
		RemoveCommand([]byte("never-written")), // replaced below by an invalid kind, an error path that needs no store state
	}
	cmds[1] = Command{Kind: CommandKind(99), Key: []byte("x")}

	if _, err := s.BatchOrder(cmds); err == nil {
		t.Fatal("expected BatchOrder to propagate an error from an unknown command kind")
	}
}

func TestBatchParallelAppliesEveryDistinctKeyCommand(t *testing.T) {
	s := openTestStorage(t, nil)

	const n = 50
	cmds := make([]Command, n)
	for i := 0; i < n; i++ {
		cmds[i] = SetCommand([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
	}
	if _, err := s.BatchParallel(cmds); err != nil {
		t.Fatalf("BatchParallel failed: %v", err)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		want := fmt.Sprintf("v%d", i)
		v, ok, err := s.Get(key)
		if err != nil || !ok || string(v) != want {
			t.Fatalf("Get(%s) = %q, %v, %v, want %q", key, v, ok, err, want)
		}
	}
}

func TestBatchParallelResultsLineUpPositionally(t *testing.T) {
	s := openTestStorage(t, nil)
	if err := s.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	cmds := []Command{
		GetCommand([]byte("a")),
		GetCommand([]byte("b")),
		GetCommand([]byte("missing")),
	}
	results, err := s.BatchParallel(cmds)
	if err != nil {
		t.Fatalf("BatchParallel failed: %v", err)
	}
	if !results[0].Found || string(results[0].Value) != "1" {
		t.Fatalf("results[0] = %+v, want Found=true Value=1", results[0])
	}
	if !results[1].Found || string(results[1].Value) != "2" {
		t.Fatalf("results[1] = %+v, want Found=true Value=2", results[1])
	}
	if results[2].Found {
		t.Fatalf("results[2] = %+v, want Found=false", results[2])
	}
}

func TestBatchParallelPropagatesFirstError(t *testing.T) {
	s := openTestStorage(t, nil)
	cmds := []Command{
		SetCommand([]byte("a"), []byte("1")),
		{Kind: CommandKind(99), Key: []byte("x")},
	}
	if _, err := s.BatchParallel(cmds); err == nil {
		t.Fatal("expected BatchParallel to propagate an error from an unknown command kind")
	}
}

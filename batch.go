package ordkv

import (
	"golang.org/x/sync/errgroup"

	"github.com/ordkv/ordkv/internal/errs"
)

// CommandKind identifies which of the three public operations a Command
// names.
type CommandKind int

const (
	CommandSet CommandKind = iota
	CommandRemove
	CommandGet
)

// Command is one operation within a batch, per spec.md §6's
// `batch_order`/`batch_parallel`. Key is required for every kind; Value
// is only meaningful for CommandSet.
type Command struct {
	Kind  CommandKind
	Key   []byte
	Value []byte
}

// SetCommand builds a Command that stores Value for Key.
func SetCommand(key, value []byte) Command {
	return Command{Kind: CommandSet, Key: key, Value: value}
}

// RemoveCommand builds a Command that tombstones Key.
func RemoveCommand(key []byte) Command {
	return Command{Kind: CommandRemove, Key: key}
}

// GetCommand builds a Command that reads Key.
func GetCommand(key []byte) Command {
	return Command{Kind: CommandGet, Key: key}
}

// BatchResult is one slot of a batch's result vector: the value read by a
// CommandGet, or the zero value (Found=false) for CommandSet/CommandRemove,
// which produce nothing to read.
type BatchResult struct {
	Value []byte
	Found bool
}

func (s *Storage) runCommand(cmd Command) (BatchResult, error) {
	switch cmd.Kind {
	case CommandSet:
		return BatchResult{}, s.Set(cmd.Key, cmd.Value)
	case CommandRemove:
		return BatchResult{}, s.Remove(cmd.Key)
	case CommandGet:
		value, ok, err := s.Get(cmd.Key)
		return BatchResult{Value: value, Found: ok}, err
	default:
		return BatchResult{}, errs.New(errs.Other, "ordkv.Storage.runCommand", nil)
	}
}

// BatchOrder runs cmds sequentially in slice order, per spec.md §6
// `batch_order(vec<Command>) → vec<Option<bytes>>`. The first error stops
// the batch; results already produced are discarded.
func (s *Storage) BatchOrder(cmds []Command) ([]BatchResult, error) {
	results := make([]BatchResult, len(cmds))
	for i, cmd := range cmds {
		res, err := s.runCommand(cmd)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// batchParallelLimit bounds the number of commands run concurrently by
// BatchParallel, independent of batch size.
const batchParallelLimit = 32

// BatchParallel runs cmds concurrently over a bounded worker pool, per
// spec.md §6 `batch_parallel(vec<Command>) → vec<Option<bytes>>` —
// "concurrent-safe but unordered": commands may commit in any relative
// order (each still gets its own seq id from Storage's single generator),
// but results line up positionally with cmds. A command error does not
// stop the others: every command runs, and the first error is returned
// once all have finished.
func (s *Storage) BatchParallel(cmds []Command) ([]BatchResult, error) {
	results := make([]BatchResult, len(cmds))

	var g errgroup.Group
	g.SetLimit(batchParallelLimit)

	for i, cmd := range cmds {
		g.Go(func() error {
			res, err := s.runCommand(cmd)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

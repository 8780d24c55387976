// Package manifest implements the persisted representation of changes to
// the level→SST layout: VersionEdit records, encoded by tag, per
// spec.md §3.
//
// The teacher's internal/manifest carries the full RocksDB tag set
// (comparator, log numbers, column families, blob files, atomic groups —
// internal/manifest/tags.go). spec.md names exactly three: DeleteFile,
// NewFile, LastSequenceId; no column families, no blob files, no
// temperature tiers, so this package only ever emits and recognizes
// those three tags.
package manifest

import (
	"github.com/ordkv/ordkv/internal/encoding"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/sstable"
)

// Tag identifies one field of a VersionEdit record. These values are
// persisted to disk and must never change.
type Tag uint32

const (
	TagDeleteFile     Tag = 1
	TagNewFile        Tag = 2
	TagLastSequenceID Tag = 3
)

// DeletedFile names one SST removed from a level.
type DeletedFile struct {
	Level uint8
	Gen   uint64
}

// NewFile names one SST added to a level, with the insertion index used
// for L1..L6 (ignored for L0, which always appends at the end).
type NewFile struct {
	Level uint8
	Index int
	Scope sstable.Scope
}

// Edit is one mutation to the level→SST layout. A single Edit may carry
// any combination of deleted files, new files, and a last-sequence-id
// update — log_and_apply (spec.md §4.7) applies a batch of these as one
// record.
type Edit struct {
	DeletedFiles  []DeletedFile
	NewFiles      []NewFile
	LastSequence  uint64
	HasLastSeq    bool
}

// Encode serializes e as a sequence of tagged fields.
func (e Edit) Encode() []byte {
	var buf []byte

	for _, d := range e.DeletedFiles {
		buf = encoding.AppendVarint32(buf, uint32(TagDeleteFile))
		buf = append(buf, d.Level)
		buf = encoding.AppendVarint64(buf, d.Gen)
	}

	for _, f := range e.NewFiles {
		buf = encoding.AppendVarint32(buf, uint32(TagNewFile))
		buf = append(buf, f.Level)
		buf = encoding.AppendVarint64(buf, uint64(f.Index))
		buf = encoding.AppendVarint64(buf, f.Scope.Gen)
		buf = encoding.AppendLengthPrefixedSlice(buf, f.Scope.StartKey)
		buf = encoding.AppendLengthPrefixedSlice(buf, f.Scope.EndKey)
	}

	if e.HasLastSeq {
		buf = encoding.AppendVarint32(buf, uint32(TagLastSequenceID))
		buf = encoding.AppendVarint64(buf, e.LastSequence)
	}

	return buf
}

// Decode parses an Edit previously produced by Encode.
func Decode(data []byte) (Edit, error) {
	s := encoding.NewSlice(data)
	var e Edit

	for s.Remaining() > 0 {
		rawTag, ok := s.GetVarint32()
		if !ok {
			return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
		}

		switch Tag(rawTag) {
		case TagDeleteFile:
			level, ok := s.GetBytes(1)
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			gen, ok := s.GetVarint64()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFile{Level: level[0], Gen: gen})

		case TagNewFile:
			level, ok := s.GetBytes(1)
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			index, ok := s.GetVarint64()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			gen, ok := s.GetVarint64()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			startKey, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			endKey, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			e.NewFiles = append(e.NewFiles, NewFile{
				Level: level[0],
				Index: int(index),
				Scope: sstable.Scope{
					StartKey: append([]byte(nil), startKey...),
					EndKey:   append([]byte(nil), endKey...),
					Gen:      gen,
				},
			})

		case TagLastSequenceID:
			seq, ok := s.GetVarint64()
			if !ok {
				return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
			}
			e.LastSequence = seq
			e.HasLastSeq = true

		default:
			return Edit{}, errs.New(errs.SerializationError, "manifest.Decode", nil)
		}
	}

	return e, nil
}

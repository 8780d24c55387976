package version

import (
	"github.com/ordkv/ordkv/internal/cleaner"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/ioengine"
	"github.com/ordkv/ordkv/internal/logging"
	"github.com/ordkv/ordkv/internal/manifest"
	"github.com/ordkv/ordkv/internal/sstable"
	"github.com/ordkv/ordkv/internal/walog"
)

// Ext is the file extension version-log segments are stored under.
const Ext = "manifest"

// Reload reconstructs the current Version by replaying every VersionEdit
// ever durably appended to the version log under dir, then spawns the
// Cleaner that will own obsolete-file deletion going forward. This is
// spec.md §4.7's "Load": start from an empty Version, apply every edit
// with is_init=true, compute statistics once from the final live-gen set.
func Reload(dir string, loader *sstable.Loader, cmp sstable.Comparator, ioType ioengine.Type, logger logging.Logger) (*Status, error) {
	v := NewEmpty(loader, cmp, nil)

	log, _, err := walog.Reload(dir, Ext, 1, ioType, func(record []byte) error {
		edit, err := manifest.Decode(record)
		if err != nil {
			return err
		}
		Apply(v, edit)
		return nil
	})
	if err != nil {
		return nil, errs.New(errs.WalLoadError, "version.Reload", err)
	}
	RecomputeStats(v)

	cleanUp := cleaner.New(loader, logger)
	v.cleanUp = cleanUp

	status := New(v, func(edit manifest.Edit) error {
		if err := log.AddRecord(edit.Encode()); err != nil {
			return err
		}
		return log.Sync()
	})
	return status, nil
}

// Close stops the Cleaner, draining and deleting every remaining queued
// gen before returning, per spec.md §5's shutdown contract.
func (s *Status) Close() {
	if s.cleanUp != nil {
		s.cleanUp.Close()
	}
}

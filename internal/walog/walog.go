// Package walog implements the append-only segmented record log used both
// as the engine's write-ahead log (ext="wal") and as its version-edit
// manifest (ext="manifest"), per spec.md §4.5.
//
// Unlike the teacher's RocksDB-derived internal/wal package (32 KiB
// blocks, record fragmentation, recyclable headers), this is the simpler
// framing spec.md actually specifies: one record is
// varint(len) | payload | crc32(payload). There is no reason to carry the
// block-fragmentation machinery when nothing in spec.md calls for
// straddling block boundaries.
package walog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ordkv/ordkv/internal/checksum"
	"github.com/ordkv/ordkv/internal/encoding"
	"github.com/ordkv/ordkv/internal/errs"
	"github.com/ordkv/ordkv/internal/ioengine"
)

// Log owns one segmented record stream under dir/*.ext.
type Log struct {
	factory *ioengine.Factory
	ext     string
	ioType  ioengine.Type

	activeGen uint64
	writer    ioengine.Writer
}

// DecodeFunc is called once per record during Reload, in file order. It
// returns an error to abort the scan (e.g. on corruption the caller
// wants to treat as fatal for recovery).
type DecodeFunc func(record []byte) error

// Reload scans dir for "{gen}.{ext}" segments in ascending gen order,
// opening an ioengine.Factory rooted at dir, decoding every record via
// decode, and returns the ready-to-append Log plus the active (highest)
// gen found. If no segment exists, activeGen is initialGenHint and the
// Log is ready to create it on first Writer call.
func Reload(dir, ext string, initialGenHint uint64, ioType ioengine.Type, decode DecodeFunc) (*Log, uint64, error) {
	factory, err := ioengine.NewFactory(dir)
	if err != nil {
		return nil, 0, errs.New(errs.Io, "walog.Reload", err)
	}

	gens, err := listGens(dir, ext)
	if err != nil {
		return nil, 0, errs.New(errs.Io, "walog.Reload", err)
	}

	active := initialGenHint
	for _, gen := range gens {
		if err := replaySegment(factory, gen, ext, ioType, decode); err != nil {
			return nil, 0, err
		}
		active = gen
	}

	return &Log{factory: factory, ext: ext, ioType: ioType, activeGen: active}, active, nil
}

func listGens(dir, ext string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	suffix := "." + ext
	var gens []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), suffix)
		gen, err := strconv.ParseUint(stem, 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

func replaySegment(factory *ioengine.Factory, gen uint64, ext string, ioType ioengine.Type, decode DecodeFunc) error {
	reader, err := factory.Reader(gen, ext, ioType)
	if err != nil {
		return errs.New(errs.FileNotFound, "walog.replaySegment", err)
	}
	defer reader.Close()

	size := reader.Size()
	data := make([]byte, size)
	if size > 0 {
		if _, err := reader.ReadAt(data, 0); err != nil {
			return errs.New(errs.Io, "walog.replaySegment", err)
		}
	}

	pos := int64(0)
	for pos < size {
		record, n, err := decodeRecord(data[pos:])
		if err != nil {
			// A torn record at the tail of the last segment is normal
			// after an unclean shutdown mid-append; stop replay here
			// rather than treating it as fatal corruption.
			break
		}
		if err := decode(record); err != nil {
			return err
		}
		pos += int64(n)
	}
	return nil
}

// decodeRecord parses one varint(len)|payload|crc32 record from the front
// of buf, returning the payload and the number of bytes consumed.
func decodeRecord(buf []byte) (record []byte, consumed int, err error) {
	length, n, derr := encoding.DecodeVarint32(buf)
	if derr != nil {
		return nil, 0, errs.New(errs.SerializationError, "walog.decodeRecord", derr)
	}
	total := n + int(length) + 4
	if total > len(buf) {
		return nil, 0, errs.New(errs.SerializationError, "walog.decodeRecord", nil)
	}

	payload := buf[n : n+int(length)]
	stored := encoding.DecodeFixed32(buf[n+int(length):])
	if err := checksum.Verify(payload, stored); err != nil {
		return nil, 0, errs.New(errs.CrcMismatch, "walog.decodeRecord", err)
	}
	return payload, total, nil
}

func encodeRecord(payload []byte) []byte {
	buf := encoding.AppendVarint32(make([]byte, 0, 5+len(payload)+4), uint32(len(payload)))
	buf = append(buf, payload...)
	buf = encoding.AppendFixed32(buf, checksum.Value(payload))
	return buf
}

// Writer opens (or creates) the active segment for appending, if not
// already open.
func (l *Log) Writer() (ioengine.Writer, error) {
	if l.writer != nil {
		return l.writer, nil
	}
	w, err := l.factory.Writer(l.activeGen, l.ext, l.ioType)
	if err != nil {
		return nil, errs.New(errs.Io, "walog.Writer", err)
	}
	l.writer = w
	return w, nil
}

// AddRecord writes one framed record to the active segment.
func (l *Log) AddRecord(payload []byte) error {
	w, err := l.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(encodeRecord(payload)); err != nil {
		return errs.New(errs.Io, "walog.AddRecord", err)
	}
	return nil
}

// Sync flushes the active segment to stable storage.
func (l *Log) Sync() error {
	if l.writer == nil {
		return nil
	}
	if err := l.writer.Sync(); err != nil {
		return errs.New(errs.Io, "walog.Sync", err)
	}
	return nil
}

// Switch closes the current segment and opens newGen as the new active
// segment, returning the gen that was just replaced so the caller can
// release it once it has confirmed durability of everything it covered.
func (l *Log) Switch(newGen uint64) (oldGen uint64, err error) {
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			return 0, errs.New(errs.Io, "walog.Switch", err)
		}
		l.writer = nil
	}
	oldGen = l.activeGen
	l.activeGen = newGen
	return oldGen, nil
}

// ActiveGen returns the gen of the segment currently being appended to.
func (l *Log) ActiveGen() uint64 { return l.activeGen }

// Factory returns the underlying ioengine.Factory, so callers that also
// manage the same directory's non-log artifacts (e.g. the Cleaner
// deleting a released segment) can reuse it.
func (l *Log) Factory() *ioengine.Factory { return l.factory }

// Remove deletes gen's segment file. Used once a WAL segment's contents
// are durably reflected in an SST and VersionEdit, or once an old
// manifest segment is superseded.
func (l *Log) Remove(gen uint64) error {
	if err := l.factory.Clean(gen, l.ext); err != nil {
		return errs.New(errs.Io, "walog.Remove", err)
	}
	return nil
}

func (l *Log) String() string {
	return fmt.Sprintf("walog(dir=%s ext=%s active=%d)", l.factory.Dir(), l.ext, l.activeGen)
}

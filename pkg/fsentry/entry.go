package fsentry

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/lesync/lesync/pkg/errors"
)

// Mocked out for unit testing of path-level operations. Descriptor-level
// operations (open, flock, sendfile) always go to the real filesystem.
var fs = afero.NewOsFs()

// ErrLocked reports that another process holds an incompatible advisory
// lock on the file. Lock attempts never block; callers are expected to skip
// the file and move on.
var ErrLocked = errors.New("file is locked by another process")

// Kind selects an entry's open flags, lock mode, and tolerance for missing
// files.
type Kind int

const (
	// ReadOnly entries are sync sources: opened for reading under a shared
	// lock, and a missing file is an error.
	ReadOnly Kind = iota

	// ReadWriteCreate entries are sync destinations: created if absent and
	// opened read-write under an exclusive lock.
	ReadWriteCreate

	// StatProbe entries stand in for destinations during dry runs: opened
	// for reading under a shared lock, and tolerate not existing at all.
	// All mutating operations on them are no-ops.
	StatProbe
)

func (k Kind) openFlags() int {
	if k == ReadWriteCreate {
		return os.O_RDWR | os.O_CREATE
	}
	return os.O_RDONLY
}

func (k Kind) lockMode() int {
	if k == ReadWriteCreate {
		return unix.LOCK_EX
	}
	return unix.LOCK_SH
}

func (k Kind) tolerateMissing() bool {
	return k == StatProbe
}

func (k Kind) writable() bool {
	return k == ReadWriteCreate
}

// Digester computes a file's content digest. It's an interface so that
// tests can count or stub digest computations.
type Digester interface {
	DigestFile(f *os.File, size int64) ([]byte, error)
}

// Entry represents one filesystem path being synced. The descriptor and
// stat snapshot live only between Open and Close; everything else is cheap
// path bookkeeping.
type Entry struct {
	path     string
	kind     Kind
	codec    *Codec
	digester Digester

	file *os.File
	stat *unix.Stat_t
}

// New creates an entry for path. The path is resolved to an absolute one;
// symlinks are resolved when the path exists (destinations about to be
// created stay as given).
func New(path string, kind Kind, codec *Codec, digester Digester) *Entry {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	return &Entry{path: abs, kind: kind, codec: codec, digester: digester}
}

// Path returns the resolved absolute path.
func (e *Entry) Path() string {
	return e.path
}

func (e *Entry) String() string {
	return e.path
}

// Kind returns the entry's capability variant.
func (e *Entry) Kind() Kind {
	return e.kind
}

// Basename returns the final path component, decoded with the entry's
// codec.
func (e *Entry) Basename() string {
	return e.codec.Decode(filepath.Base(e.path))
}

// IsDir reports whether the path currently names a directory.
func (e *Entry) IsDir() bool {
	info, err := fs.Stat(e.path)
	return err == nil && info.IsDir()
}

// Opened reports whether the entry currently owns a descriptor.
func (e *Entry) Opened() bool {
	return e.file != nil
}

// Open acquires the entry's descriptor and advisory lock. The lock attempt
// never blocks: if another process holds an incompatible lock, Open fails
// with ErrLocked and the descriptor is released. A missing file is
// tolerated by StatProbe entries, which stay unopened. perm is only used
// when the entry is created.
//
// Callers must pair every successful Open with a deferred Close.
func (e *Entry) Open(perm os.FileMode) error {
	f, err := os.OpenFile(e.path, e.kind.openFlags(), perm)
	if err != nil {
		if os.IsNotExist(err) && e.kind.tolerateMissing() {
			return nil
		}
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: e.path}
		}
		return errors.WithContext(err, "open")
	}

	if err := unix.Flock(int(f.Fd()), e.kind.lockMode()|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return ErrLocked
		}
		return errors.WithContext(err, "lock")
	}

	e.file = f
	return nil
}

// Close releases the descriptor (and with it the advisory lock) and drops
// the stat snapshot. Closing an unopened entry is a no-op.
func (e *Entry) Close() error {
	if e.file == nil {
		return nil
	}

	err := e.file.Close()
	e.file = nil
	e.stat = nil
	return err
}

// Stat returns the entry's stat snapshot, computed at most once per open
// scope.
func (e *Entry) Stat() (*unix.Stat_t, error) {
	if !e.Opened() {
		return nil, errors.New("entry is not open")
	}

	if e.stat == nil {
		var stat unix.Stat_t
		if err := unix.Fstat(int(e.file.Fd()), &stat); err != nil {
			return nil, errors.WithContext(err, "stat")
		}
		e.stat = &stat
	}
	return e.stat, nil
}

// Mode returns the permission bits from the stat snapshot.
func (e *Entry) Mode() (os.FileMode, error) {
	stat, err := e.Stat()
	if err != nil {
		return 0, err
	}
	return os.FileMode(stat.Mode & 0777), nil
}

// Digest computes the content digest of the open descriptor.
func (e *Entry) Digest() ([]byte, error) {
	if !e.Opened() {
		return nil, errors.New("entry is not open")
	}
	if e.digester == nil {
		return nil, errors.New("entry has no digester")
	}

	stat, err := e.Stat()
	if err != nil {
		return nil, err
	}
	return e.digester.DigestFile(e.file, stat.Size)
}

// Equal reports whether the entry's content matches other's. The checks run
// cheapest-first: size, then modification time (unless checkMtime is
// disabled), then basename, and only when all of those already match is a
// content digest computed. Unopened entries never compare equal.
func (e *Entry) Equal(other *Entry, checkMtime bool) (bool, error) {
	if !e.Opened() || !other.Opened() {
		return false, nil
	}

	selfStat, err := e.Stat()
	if err != nil {
		return false, err
	}
	otherStat, err := other.Stat()
	if err != nil {
		return false, err
	}

	if selfStat.Size != otherStat.Size {
		return false, nil
	}
	if checkMtime && selfStat.Mtim != otherStat.Mtim {
		return false, nil
	}
	if e.Basename() != other.Basename() {
		return false, nil
	}

	selfSum, err := e.Digest()
	if err != nil {
		return false, err
	}
	otherSum, err := other.Digest()
	if err != nil {
		return false, err
	}
	return bytes.Equal(selfSum, otherSum), nil
}

// Children returns the entries directly under a directory. Names stay in
// their on-disk byte form; decoding happens when a destination name is
// derived (see Recode).
func (e *Entry) Children() ([]*Entry, error) {
	infos, err := afero.ReadDir(fs, e.path)
	if err != nil {
		return nil, errors.WithContext(err, "list directory")
	}

	children := make([]*Entry, 0, len(infos))
	for _, info := range infos {
		children = append(children, e.Join(info.Name()))
	}
	return children, nil
}

// Join returns the child entry for name, inheriting the entry's kind, codec
// and digester.
func (e *Entry) Join(name string) *Entry {
	return &Entry{
		path:     filepath.Join(e.path, name),
		kind:     e.kind,
		codec:    e.codec,
		digester: e.digester,
	}
}

// Codec returns the entry's filename codec.
func (e *Entry) Codec() *Codec {
	return e.codec
}

// Rewind seeks the descriptor back to the start.
func (e *Entry) Rewind() error {
	if !e.Opened() {
		return nil
	}
	_, err := e.file.Seek(0, 0)
	return err
}

// Truncate cuts the file to the given size. It's a no-op for non-writable
// entries so that dry runs never modify the destination.
func (e *Entry) Truncate(size int64) error {
	if !e.kind.writable() || !e.Opened() {
		return nil
	}
	return e.file.Truncate(size)
}

// Mkdir creates the directory, absorbing "already exists". A no-op for
// non-writable entries.
func (e *Entry) Mkdir(perm os.FileMode) error {
	if !e.kind.writable() {
		return nil
	}

	if err := fs.Mkdir(e.path, perm); err != nil && !os.IsExist(err) {
		return errors.WithContext(err, "mkdir")
	}
	return nil
}

// SetTimesFrom copies src's access and modification times onto the entry's
// path. A no-op for non-writable entries.
func (e *Entry) SetTimesFrom(src *Entry) error {
	if !e.kind.writable() {
		return nil
	}

	stat, err := src.Stat()
	if err != nil {
		return err
	}

	times := []unix.Timespec{stat.Atim, stat.Mtim}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, e.path, times, 0); err != nil {
		return errors.WithContext(err, "set times")
	}
	return nil
}

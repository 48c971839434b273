package sync

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/lesync/lesync/pkg/errors"
	"github.com/lesync/lesync/pkg/fsentry"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Options configures a sync run. The zero value is not usable; use the
// field docs and cmd/sync for the defaults.
type Options struct {
	// Workers is the size of the copy worker pool.
	Workers int

	// DryRun makes destinations stat-only probes: everything is walked,
	// compared and logged, nothing is written.
	DryRun bool

	// SkipIdentical enables the equality check: a destination that already
	// matches its source (size, mtime, basename, content digest) is left
	// alone.
	SkipIdentical bool

	// IgnoreMtime opts out of the modification-time comparison when
	// deciding equality. The default (false) treats differing mtimes as
	// differing files, which protects against trusting a half-written
	// destination.
	IgnoreMtime bool

	// Include and Exclude are glob pattern lists matched against paths
	// relative to each source root (directories with a trailing separator).
	Include []string
	Exclude []string

	// SrcEncoding and DstEncoding name the filename encodings of the two
	// sides. Names are transcoded when destination paths are derived.
	SrcEncoding string
	DstEncoding string
}

// Engine synchronizes one or more source trees into a destination.
type Engine struct {
	opts     Options
	filter   *Filter
	srcCodec *fsentry.Codec
	dstCodec *fsentry.Codec
	digester fsentry.Digester
	clock    clockwork.Clock

	pool *Pool

	// walkFailures counts subtrees that failed outside the worker pool
	// (unreadable directories and the like).
	walkFailures int

	// dirTimes records directory timestamp propagation, deferred until the
	// pool has drained so child copies can't bump a parent mtime afterwards.
	// Recorded post-order: children before parents.
	dirTimes []dirTimes
}

type dirTimes struct {
	dst *fsentry.Entry
	src *fsentry.Entry
}

// New validates the options and creates an engine using the given digester
// for content comparison.
func New(opts Options, digester fsentry.Digester) (*Engine, error) {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if len(opts.Include) == 0 {
		opts.Include = DefaultInclude
	}

	filter, err := NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	srcCodec, err := fsentry.NewCodec(opts.SrcEncoding)
	if err != nil {
		return nil, errors.WithContext(err, "source encoding")
	}
	dstCodec, err := fsentry.NewCodec(opts.DstEncoding)
	if err != nil {
		return nil, errors.WithContext(err, "destination encoding")
	}

	return &Engine{
		opts:     opts,
		filter:   filter,
		srcCodec: srcCodec,
		dstCodec: dstCodec,
		digester: digester,
		clock:    clockwork.NewRealClock(),
	}, nil
}

// Run syncs every source in paths[:len-1] into the final path. With more
// than two paths the destination must be an existing directory. Individual
// entry failures are logged and counted but never stop the remaining work;
// Run returns an error summarizing how many entries failed.
func (e *Engine) Run(paths []string) error {
	if len(paths) < 2 {
		return errors.NewFriendlyError("at least a source and a destination are required")
	}

	sources, dstPath := paths[:len(paths)-1], paths[len(paths)-1]

	dstInfo, dstErr := fs.Stat(dstPath)
	dstIsDir := dstErr == nil && dstInfo.IsDir()
	if len(sources) > 1 && !dstIsDir {
		return errors.NewFriendlyError(
			"the destination %q must be an existing directory "+
				"when syncing multiple sources", dstPath)
	}
	if srcInfo, err := fs.Stat(sources[0]); err == nil &&
		len(sources) == 1 && srcInfo.IsDir() && !dstIsDir {
		return errors.NewFriendlyError(
			"the destination %q must be an existing directory "+
				"when the source is one", dstPath)
	}

	// Permission bits are copied from the source verbatim, so the process
	// umask must not interfere.
	oldMask := unix.Umask(0)
	defer unix.Umask(oldMask)

	dstKind := fsentry.ReadWriteCreate
	if e.opts.DryRun {
		dstKind = fsentry.StatProbe
	}

	e.pool = NewPool(e.opts.Workers, e.clock)
	e.walkFailures = 0
	e.dirTimes = nil

	dst := fsentry.New(dstPath, dstKind, e.dstCodec, e.digester)
	for _, srcPath := range sources {
		src := fsentry.New(srcPath, fsentry.ReadOnly, e.srcCodec, e.digester)
		if err := e.walk(src, dst, "."); err != nil {
			log.WithError(err).WithField("path", src.Path()).Error("Failed to sync tree")
			e.walkFailures++
		}
	}

	failures := e.pool.Drain()
	e.applyDirTimes()

	if failed := len(failures) + e.walkFailures; failed > 0 {
		return fmt.Errorf("%d entries failed to sync", failed)
	}
	return nil
}

// walk recurses through the source tree. rel is the source path relative
// to the top-level source being walked; it's what the filter patterns see.
// Directories are handled synchronously so that a directory exists on the
// destination before any of its children are scheduled; leaf files are
// handed to the worker pool.
func (e *Engine) walk(src, dst *fsentry.Entry, rel string) error {
	isDir := src.IsDir()
	if !e.filter.Match(rel, isDir) {
		log.Debugf("skip: %s", src)
		return nil
	}

	// Syncing into an existing directory nests the source under it, like
	// cp: `sync a b/` writes b/a.
	if dst.IsDir() {
		dst = dst.Join(fsentry.Recode(filepath.Base(src.Path()), e.srcCodec, e.dstCodec))
	}

	if !isDir {
		e.pool.Submit(src.Path(), func() error {
			return e.copyEntry(src, dst)
		})
		return nil
	}

	if err := src.Open(0); err != nil {
		if err == fsentry.ErrLocked {
			log.WithField("path", src.Path()).Warn("Directory is locked, skipping subtree")
			return nil
		}
		return errors.WithContext(err, "open source directory")
	}
	defer src.Close()

	mode, err := src.Mode()
	if err != nil {
		return err
	}
	if err := dst.Mkdir(mode); err != nil {
		return err
	}

	children, err := src.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		childRel := filepath.Join(rel, filepath.Base(child.Path()))
		if err := e.walk(child, dst, childRel); err != nil {
			log.WithError(err).WithField("path", child.Path()).Error("Failed to sync subtree")
			e.walkFailures++
		}
	}

	// Post-order, so children directories get their times before parents.
	e.dirTimes = append(e.dirTimes, dirTimes{dst: dst, src: src})
	return nil
}

// copyEntry is one leaf job: open both sides, decide, copy.
func (e *Engine) copyEntry(src, dst *fsentry.Entry) error {
	if err := src.Open(0); err != nil {
		if err == fsentry.ErrLocked {
			log.WithField("path", src.Path()).Warn("Source is locked, skipping")
			return nil
		}
		return errors.WithContext(err, "open source")
	}
	defer src.Close()

	mode, err := src.Mode()
	if err != nil {
		return err
	}

	if err := dst.Open(mode); err != nil {
		if err == fsentry.ErrLocked {
			log.WithField("path", dst.Path()).Warn("Destination is locked, skipping")
			return nil
		}
		return errors.WithContext(err, "open destination")
	}
	defer dst.Close()

	if e.opts.SkipIdentical {
		equal, err := src.Equal(dst, !e.opts.IgnoreMtime)
		if err != nil {
			return errors.WithContext(err, "compare")
		}
		if equal {
			log.Debugf("skip: %s", src)
			return nil
		}
	}

	if err := dst.Rewind(); err != nil {
		return errors.WithContext(err, "rewind destination")
	}
	if err := dst.Truncate(0); err != nil {
		return errors.WithContext(err, "truncate destination")
	}
	if err := dst.CopyFrom(src); err != nil {
		return errors.WithContext(err, "copy")
	}

	log.Infof("copy: %s -> %s", src, dst)
	return nil
}

func (e *Engine) applyDirTimes() {
	for _, entry := range e.dirTimes {
		// The source scope is closed by now; reopen briefly for the stat.
		if err := e.setDirTimes(entry.dst, entry.src); err != nil {
			log.WithError(err).WithField("path", entry.dst.Path()).Warn(
				"Failed to propagate directory times")
		}
	}
}

func (e *Engine) setDirTimes(dst, src *fsentry.Entry) error {
	if err := src.Open(0); err != nil {
		return err
	}
	defer src.Close()

	return dst.SetTimesFrom(src)
}

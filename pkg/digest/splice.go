package digest

import (
	"io"
	"os"
	goSync "sync"

	"golang.org/x/sys/unix"

	"github.com/lesync/lesync/pkg/errors"
)

// ErrShortSplice reports that the two splice calls of one pump iteration
// moved different byte counts. That means bytes were silently dropped
// between the file and the transform, so the digest in progress can't be
// trusted and the operation is aborted rather than repaired.
var ErrShortSplice = errors.New("splice byte counts diverged")

// spliceMaxPages caps one splice chunk. Kernels before 4.11 hard-limit the
// pipe buffer to 16 pages.
const spliceMaxPages = 16

var pageSize = os.Getpagesize()

// Session is one accepted transform instance. It's consumed by a single
// Digest call; reusing it after the digest has been read is not supported
// by the kernel's session model.
type Session struct {
	fd        int
	size      int
	closeOnce goSync.Once
	closeErr  error
}

// Digest feeds the first size bytes of f to the transform and returns the
// finalized digest. The file offset is rewound to the start afterwards no
// matter what, so digesting is observably read-only.
func (s *Session) Digest(f *os.File, size int64) ([]byte, error) {
	if s.fd < 0 {
		return []byte{}, nil
	}

	defer f.Seek(0, io.SeekStart)

	if size == 0 {
		// A zero-length write makes the transform finalize on empty input.
		if _, err := unix.Write(s.fd, nil); err != nil {
			return nil, errors.WithContext(err, "finalize empty input")
		}
	} else if err := s.pump(f, size); err != nil {
		return nil, err
	}

	return s.read()
}

// pump moves size bytes from f into the transform through an ephemeral
// pipe, entirely within the kernel.
func (s *Session) pump(f *os.File, size int64) error {
	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		return errors.WithContext(err, "create pipe")
	}
	defer unix.Close(pipe[0])
	defer unix.Close(pipe[1])

	srcFd := int(f.Fd())
	chunkMax := int64(pageSize * spliceMaxPages)

	for size > 0 {
		chunk := size
		flags := unix.SPLICE_F_MOVE
		if size > chunkMax {
			chunk = chunkMax
			flags |= unix.SPLICE_F_MORE
		}

		bytesIn, err := unix.Splice(srcFd, nil, pipe[1], nil, int(chunk), flags)
		if err != nil {
			return errors.WithContext(err, "splice file to pipe")
		}
		if bytesIn == 0 {
			return errors.New("file shrank while digesting")
		}

		bytesOut, err := unix.Splice(pipe[0], nil, s.fd, nil, int(chunk), flags)
		if err != nil {
			return errors.WithContext(err, "splice pipe to transform")
		}

		if bytesIn != bytesOut {
			return ErrShortSplice
		}
		size -= bytesIn
	}
	return nil
}

// read collects exactly the digest length from the transform, accumulating
// partial reads.
func (s *Session) read() ([]byte, error) {
	buf := make([]byte, s.size)
	for off := 0; off < s.size; {
		n, err := unix.Read(s.fd, buf[off:])
		if err != nil {
			return nil, errors.WithContext(err, "read digest")
		}
		if n == 0 {
			return nil, errors.New("transform closed before digest was complete")
		}
		off += n
	}
	return buf, nil
}

// Close releases the transform instance. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.fd >= 0 {
			s.closeErr = unix.Close(s.fd)
			s.fd = -1
		}
	})
	return s.closeErr
}

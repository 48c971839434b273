package fsentry

import (
	"golang.org/x/sys/unix"

	"github.com/lesync/lesync/pkg/errors"
)

// sendfileMax caps one sendfile(2) request so the count always fits in an
// int on 32-bit platforms.
const sendfileMax = 1 << 30

// CopyFrom transfers src's contents into the entry with in-kernel copies
// (no userspace staging), then propagates src's access and modification
// times. One sendfile call may move fewer bytes than requested, so it's
// repeated until the full size has been transferred.
//
// A no-op for non-writable entries, which makes dry runs free.
func (e *Entry) CopyFrom(src *Entry) error {
	if !e.kind.writable() || !e.Opened() || !src.Opened() {
		return nil
	}

	stat, err := src.Stat()
	if err != nil {
		return err
	}

	dstFd := int(e.file.Fd())
	srcFd := int(src.file.Fd())

	for remaining := stat.Size; remaining > 0; {
		chunk := remaining
		if chunk > sendfileMax {
			chunk = sendfileMax
		}

		n, err := unix.Sendfile(dstFd, srcFd, nil, int(chunk))
		if err != nil {
			return errors.WithContext(err, "transfer")
		}
		if n == 0 {
			return errors.New("source shrank during copy")
		}
		remaining -= int64(n)
	}

	return e.SetTimesFrom(src)
}

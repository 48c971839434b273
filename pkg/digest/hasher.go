package digest

import (
	"fmt"
	"os"
	goSync "sync"

	"golang.org/x/sys/unix"

	"github.com/lesync/lesync/pkg/errors"
)

// algNameMax is the size of the name field in sockaddr_alg, including the
// terminating NUL the kernel requires.
const algNameMax = 64

// Hasher owns one AF_ALG socket bound to a hash transform. It's created
// once per run and shared between workers; every digest computation accepts
// its own transform instance, so concurrent use is safe.
type Hasher struct {
	algo      Algorithm
	fd        int
	closeOnce goSync.Once
	closeErr  error
}

// New binds an AF_ALG socket to the given transform. Keyed transforms are
// configured with ALG_SET_KEY before first use.
func New(algo Algorithm, key []byte) (*Hasher, error) {
	if algo.Name == DummyName {
		if len(key) > 0 {
			return nil, errors.NewConfigError("algorithm %q does not take a key", algo.Name)
		}
		return &Hasher{algo: algo, fd: -1}, nil
	}

	// The kernel copies the name into a fixed 64-byte field and requires a
	// terminating NUL, so the longest valid name is 63 bytes.
	if len(algo.Name) >= algNameMax {
		return nil, errors.NewConfigError("algorithm name %q overflows the %d-byte limit",
			algo.Name, algNameMax)
	}

	if algo.NeedsKey && len(key) == 0 {
		return nil, errors.NewConfigError("algorithm %q requires a key", algo.Name)
	}
	if !algo.NeedsKey && len(key) > 0 {
		return nil, errors.NewConfigError("algorithm %q does not take a key", algo.Name)
	}

	fd, err := unix.Socket(unix.AF_ALG, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, errors.WithContext(err, "create crypto socket")
	}

	addr := &unix.SockaddrALG{Type: "hash", Name: algo.Name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.WithContext(err, fmt.Sprintf("bind transform %q", algo.Name))
	}

	if algo.NeedsKey {
		err := unix.SetsockoptString(fd, unix.SOL_ALG, unix.ALG_SET_KEY, string(key))
		if err != nil {
			unix.Close(fd)
			if err == unix.EINVAL {
				return nil, errors.NewConfigError("key length %d is invalid for %q",
					len(key), algo.Name)
			}
			return nil, errors.WithContext(err, "set transform key")
		}
	}

	return &Hasher{algo: algo, fd: fd}, nil
}

// NewByName is a convenience wrapper combining Lookup and New.
func NewByName(name string, key []byte) (*Hasher, error) {
	algo, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(algo, key)
}

// Algorithm returns the transform descriptor the hasher was bound with.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// Open accepts a fresh transform instance off the bound socket. The
// returned session is single-shot: it's consumed by one Digest call and
// must be closed afterwards. Sessions are never shared between concurrent
// digest computations.
func (h *Hasher) Open() (*Session, error) {
	if h.fd < 0 {
		return &Session{fd: -1, size: 0}, nil
	}

	fd, _, err := unix.Accept(h.fd)
	if err != nil {
		return nil, errors.WithContext(err, "accept transform instance")
	}
	return &Session{fd: fd, size: h.algo.Size}, nil
}

// DigestFile computes the digest of the first size bytes of f using a fresh
// transform instance.
func (h *Hasher) DigestFile(f *os.File, size int64) ([]byte, error) {
	session, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.Digest(f, size)
}

// Close releases the bound socket. It's safe to call more than once; the
// descriptor is only closed the first time.
func (h *Hasher) Close() error {
	h.closeOnce.Do(func() {
		if h.fd >= 0 {
			h.closeErr = unix.Close(h.fd)
			h.fd = -1
		}
	})
	return h.closeErr
}

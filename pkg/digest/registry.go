package digest

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
	goSync "sync"

	"github.com/spf13/afero"

	"github.com/lesync/lesync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// procCryptoPath lists the transforms known to the running kernel.
const procCryptoPath = "/proc/crypto"

// Algorithm describes one hash transform that the kernel can provide.
type Algorithm struct {
	// Name is the name the algorithm is registered under, and the name the
	// AF_ALG socket is bound with.
	Name string

	// Size is the length of the digest in bytes. Every digest the transform
	// produces has exactly this length.
	Size int

	// NeedsKey is set for keyed transforms such as hmac(sha256). Binding a
	// keyed transform without a key is a configuration error, and so is
	// supplying a key to an unkeyed one.
	NeedsKey bool
}

// DummyName is the registry name of the no-op algorithm. It produces an
// empty digest without touching the kernel, which lets the sync engine run
// with metadata-only comparison.
const DummyName = "dummy"

var (
	registryMutex goSync.RWMutex
	registry      = map[string]Algorithm{
		DummyName:      {Name: DummyName, Size: 0},
		"md5":          {Name: "md5", Size: 16},
		"sha1":         {Name: "sha1", Size: 20},
		"sha224":       {Name: "sha224", Size: 28},
		"sha256":       {Name: "sha256", Size: 32},
		"sha384":       {Name: "sha384", Size: 48},
		"sha512":       {Name: "sha512", Size: 64},
		"hmac(sha256)": {Name: "hmac(sha256)", Size: 32, NeedsKey: true},
		"hmac(sha512)": {Name: "hmac(sha512)", Size: 64, NeedsKey: true},
		"xxhash64":     {Name: "xxhash64", Size: 8},
		"crc32c":       {Name: "crc32c", Size: 4},
	}
)

// Register adds an algorithm to the registry. Existing entries win so that
// the static table can't be clobbered by a kernel enumeration.
func Register(algo Algorithm) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, ok := registry[algo.Name]; !ok {
		registry[algo.Name] = algo
	}
}

// Lookup returns the descriptor for the named algorithm.
func Lookup(name string) (Algorithm, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	algo, ok := registry[name]
	if !ok {
		return Algorithm{}, errors.NewConfigError("unknown algorithm %q", name)
	}
	return algo, nil
}

// Names returns the sorted names of all registered algorithms.
func Names() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadKernelAlgorithms extends the registry with the synchronous hash
// transforms advertised by the running kernel. Kernels differ in which
// transforms they ship, so callers should treat a failure here as
// non-fatal: the static table still works.
func LoadKernelAlgorithms() error {
	fp, err := fs.Open(procCryptoPath)
	if err != nil {
		return errors.WithContext(err, "open crypto list")
	}
	defer fp.Close()

	return loadAlgorithms(fp)
}

func loadAlgorithms(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	stanza := map[string]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			registerStanza(stanza)
			stanza = map[string]string{}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		stanza[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	registerStanza(stanza)

	if err := scanner.Err(); err != nil {
		return errors.WithContext(err, "read crypto list")
	}
	return nil
}

func registerStanza(stanza map[string]string) {
	// Only synchronous hashes can be driven through AF_ALG the way we use
	// it. Internal transforms aren't bindable from userspace at all.
	if stanza["type"] != "shash" || stanza["internal"] == "yes" {
		return
	}

	name := stanza["name"]
	size, err := strconv.Atoi(stanza["digestsize"])
	if name == "" || err != nil || size <= 0 {
		return
	}

	Register(Algorithm{
		Name:     name,
		Size:     size,
		NeedsKey: strings.HasPrefix(name, "hmac("),
	})
}

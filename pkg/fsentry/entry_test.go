package fsentry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lesync/lesync/pkg/errors"
)

// countingDigester lets tests verify when content digests are (and are not)
// computed.
type countingDigester struct {
	calls int
	sum   []byte
}

func (d *countingDigester) DigestFile(f *os.File, size int64) ([]byte, error) {
	d.calls++
	return d.sum, nil
}

func identityCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec("utf-8")
	require.NoError(t, err)
	return codec
}

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, contents, 0644))
}

func TestKindDispatch(t *testing.T) {
	tests := []struct {
		kind     Kind
		writable bool
		missing  bool
	}{
		{ReadOnly, false, false},
		{ReadWriteCreate, true, false},
		{StatProbe, false, true},
	}
	for _, test := range tests {
		assert.Equal(t, test.writable, test.kind.writable())
		assert.Equal(t, test.missing, test.kind.tolerateMissing())
	}
}

func TestOpenMissing(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)
	missing := filepath.Join(dir, "missing")

	// ReadOnly propagates the error.
	entry := New(missing, ReadOnly, codec, nil)
	err := entry.Open(0)
	require.Error(t, err)
	_, ok := errors.RootCause(err).(errors.FileNotFound)
	assert.True(t, ok)

	// StatProbe tolerates it and proceeds unopened.
	probe := New(missing, StatProbe, codec, nil)
	require.NoError(t, probe.Open(0))
	defer probe.Close()
	assert.False(t, probe.Opened())

	// ReadWriteCreate creates it on demand.
	writer := New(missing, ReadWriteCreate, codec, nil)
	require.NoError(t, writer.Open(0644))
	defer writer.Close()
	assert.True(t, writer.Opened())
	_, err = os.Stat(missing)
	assert.NoError(t, err)
}

func TestLockContention(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)
	path := filepath.Join(dir, "contended")
	writeFile(t, path, []byte("contents"))

	holder := New(path, ReadWriteCreate, codec, nil)
	require.NoError(t, holder.Open(0644))
	defer holder.Close()

	// The exclusive lock above conflicts with the reader's shared lock.
	// The attempt must fail immediately instead of blocking.
	reader := New(path, ReadOnly, codec, nil)
	start := time.Now()
	err := reader.Open(0)
	assert.Equal(t, ErrLocked, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, reader.Opened())

	// Shared locks don't conflict with each other.
	require.NoError(t, holder.Close())
	first := New(path, ReadOnly, codec, nil)
	require.NoError(t, first.Open(0))
	defer first.Close()

	second := New(path, ReadOnly, codec, nil)
	require.NoError(t, second.Open(0))
	defer second.Close()
}

func TestStatCachedPerOpenScope(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)
	path := filepath.Join(dir, "file")
	writeFile(t, path, []byte("12345"))

	entry := New(path, ReadOnly, codec, nil)
	require.NoError(t, entry.Open(0))

	stat, err := entry.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stat.Size)

	// The snapshot doesn't change while the scope is open.
	require.NoError(t, os.Truncate(path, 2))
	stat, err = entry.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stat.Size)

	// A fresh scope sees the new size.
	require.NoError(t, entry.Close())
	require.NoError(t, entry.Open(0))
	defer entry.Close()
	stat, err = entry.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.Size)
}

func TestEqualShortCircuit(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)
	digester := &countingDigester{sum: []byte{1, 2, 3}}

	pathA := filepath.Join(dir, "a", "name")
	pathB := filepath.Join(dir, "b", "name")
	require.NoError(t, os.Mkdir(filepath.Dir(pathA), 0755))
	require.NoError(t, os.Mkdir(filepath.Dir(pathB), 0755))

	writeFile(t, pathA, []byte("same-size"))
	writeFile(t, pathB, []byte("sizes!!!!!differ"))

	entryA := New(pathA, ReadOnly, codec, digester)
	entryB := New(pathB, ReadOnly, codec, digester)
	require.NoError(t, entryA.Open(0))
	defer entryA.Close()
	require.NoError(t, entryB.Open(0))
	defer entryB.Close()

	// Sizes differ: the digest must never be computed.
	equal, err := entryA.Equal(entryB, true)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.Zero(t, digester.calls)

	// Same size but different mtime: still no digest.
	writeFile(t, pathB, []byte("same-size"))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(pathB, past, past))
	require.NoError(t, entryB.Close())
	require.NoError(t, entryB.Open(0))

	equal, err = entryA.Equal(entryB, true)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.Zero(t, digester.calls)

	// With mtime checking opted out, the comparison falls through to the
	// digest.
	equal, err = entryA.Equal(entryB, false)
	require.NoError(t, err)
	assert.True(t, equal)
	assert.Equal(t, 2, digester.calls)
}

func TestEqualFullMatch(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)
	digester := &countingDigester{sum: []byte{9}}

	pathA := filepath.Join(dir, "a", "name")
	pathB := filepath.Join(dir, "b", "name")
	require.NoError(t, os.Mkdir(filepath.Dir(pathA), 0755))
	require.NoError(t, os.Mkdir(filepath.Dir(pathB), 0755))
	writeFile(t, pathA, []byte("contents"))
	writeFile(t, pathB, []byte("contents"))

	when := time.Unix(1700000000, 123456789)
	require.NoError(t, os.Chtimes(pathA, when, when))
	require.NoError(t, os.Chtimes(pathB, when, when))

	entryA := New(pathA, ReadOnly, codec, digester)
	entryB := New(pathB, ReadOnly, codec, digester)
	require.NoError(t, entryA.Open(0))
	defer entryA.Close()
	require.NoError(t, entryB.Open(0))
	defer entryB.Close()

	equal, err := entryA.Equal(entryB, true)
	require.NoError(t, err)
	assert.True(t, equal)
	assert.Equal(t, 2, digester.calls)
}

func TestEqualUnopened(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)

	path := filepath.Join(dir, "file")
	writeFile(t, path, []byte("contents"))

	opened := New(path, ReadOnly, codec, nil)
	require.NoError(t, opened.Open(0))
	defer opened.Close()

	probe := New(filepath.Join(dir, "missing"), StatProbe, codec, nil)
	require.NoError(t, probe.Open(0))
	defer probe.Close()

	equal, err := opened.Equal(probe, true)
	require.NoError(t, err)
	assert.False(t, equal)
}

func TestCopyFromRoundTrip(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)

	srcPath := filepath.Join(dir, "src")
	dstPath := filepath.Join(dir, "dst")
	contents := []byte("some file contents worth copying")
	writeFile(t, srcPath, contents)

	when := time.Unix(1600000000, 987654321)
	require.NoError(t, os.Chtimes(srcPath, when, when))

	src := New(srcPath, ReadOnly, codec, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	dst := New(dstPath, ReadWriteCreate, codec, nil)
	require.NoError(t, dst.Open(0644))
	defer dst.Close()

	require.NoError(t, dst.CopyFrom(src))

	copied, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, contents, copied)

	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.True(t, when.Equal(info.ModTime()),
		"expected mtime %v, got %v", when, info.ModTime())

	// The source offset is untouched for the next reader.
	stat, err := src.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len(contents)), stat.Size)
}

func TestCopyFromDryRun(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)

	srcPath := filepath.Join(dir, "src")
	dstPath := filepath.Join(dir, "dst")
	writeFile(t, srcPath, []byte("contents"))

	src := New(srcPath, ReadOnly, codec, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	dst := New(dstPath, StatProbe, codec, nil)
	require.NoError(t, dst.Open(0644))
	defer dst.Close()

	require.NoError(t, dst.Truncate(0))
	require.NoError(t, dst.CopyFrom(src))

	_, err := os.Stat(dstPath)
	assert.True(t, os.IsNotExist(err), "dry run must not create the destination")
}

func TestMkdirAbsorbsExisting(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)

	entry := New(filepath.Join(dir, "sub"), ReadWriteCreate, codec, nil)
	require.NoError(t, entry.Mkdir(0755))
	require.NoError(t, entry.Mkdir(0755))

	info, err := os.Stat(entry.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Dry-run probes don't create anything.
	probe := New(filepath.Join(dir, "probe"), StatProbe, codec, nil)
	require.NoError(t, probe.Mkdir(0755))
	_, err = os.Stat(probe.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestChildren(t *testing.T) {
	dir := t.TempDir()
	codec := identityCodec(t)

	writeFile(t, filepath.Join(dir, "one"), nil)
	writeFile(t, filepath.Join(dir, "two"), nil)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	entry := New(dir, ReadOnly, codec, nil)
	children, err := entry.Children()
	require.NoError(t, err)

	var names []string
	for _, child := range children {
		names = append(names, filepath.Base(child.Path()))
		assert.Equal(t, ReadOnly, child.Kind())
	}
	assert.ElementsMatch(t, []string{"one", "two", "sub"}, names)
}

package digest

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	algo, err := Lookup("sha256")
	require.NoError(t, err)
	assert.Equal(t, "sha256", algo.Name)
	assert.Equal(t, 32, algo.Size)
	assert.False(t, algo.NeedsKey)

	algo, err = Lookup("hmac(sha256)")
	require.NoError(t, err)
	assert.True(t, algo.NeedsKey)

	_, err = Lookup("no-such-algorithm")
	assert.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "dummy")
	assert.Contains(t, names, "sha512")
	assert.True(t, sortedStrings(names))
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}

const procCryptoFixture = `name         : crct10dif
driver       : crct10dif-generic
module       : kernel
priority     : 100
refcnt       : 1
selftest     : passed
internal     : no
type         : shash
blocksize    : 1
digestsize   : 2

name         : some-cipher
driver       : some-cipher-generic
type         : cipher
blocksize    : 16

name         : sha3-256
driver       : sha3-256-generic
module       : kernel
priority     : 100
internal     : no
type         : shash
blocksize    : 136
digestsize   : 32

name         : secret-helper
driver       : secret-helper-generic
internal     : yes
type         : shash
digestsize   : 16
`

func TestLoadAlgorithms(t *testing.T) {
	require.NoError(t, loadAlgorithms(strings.NewReader(procCryptoFixture)))

	algo, err := Lookup("crct10dif")
	require.NoError(t, err)
	assert.Equal(t, 2, algo.Size)

	algo, err = Lookup("sha3-256")
	require.NoError(t, err)
	assert.Equal(t, 32, algo.Size)

	// Ciphers and internal transforms can't be used as hashes.
	_, err = Lookup("some-cipher")
	assert.Error(t, err)
	_, err = Lookup("secret-helper")
	assert.Error(t, err)
}

func TestLoadKernelAlgorithms(t *testing.T) {
	oldFs := fs
	defer func() { fs = oldFs }()
	fs = afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, procCryptoPath, []byte(procCryptoFixture), 0644))
	require.NoError(t, LoadKernelAlgorithms())

	_, err := Lookup("crct10dif")
	assert.NoError(t, err)
}

func TestRegisterDoesNotClobber(t *testing.T) {
	Register(Algorithm{Name: "sha256", Size: 1})

	algo, err := Lookup("sha256")
	require.NoError(t, err)
	assert.Equal(t, 32, algo.Size)
}

package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		isDir   bool
		exp     bool
	}{
		{
			name:    "DefaultsKeepFiles",
			include: DefaultInclude,
			path:    "some/file",
			exp:     true,
		},
		{
			name:    "DefaultsKeepDirs",
			include: DefaultInclude,
			path:    "some/dir",
			isDir:   true,
			exp:     true,
		},
		{
			name:    "DefaultsKeepRoot",
			include: DefaultInclude,
			path:    ".",
			isDir:   true,
			exp:     true,
		},
		{
			name:    "IncludeOnlyTxt",
			include: []string{"*.txt"},
			path:    "notes.txt",
			exp:     true,
		},
		{
			name:    "IncludeOnlyTxtRejects",
			include: []string{"*.txt"},
			path:    "binary.dat",
			exp:     false,
		},
		{
			name:    "ExcludeWins",
			include: DefaultInclude,
			exclude: []string{"*.log"},
			path:    "debug.log",
			exp:     false,
		},
		{
			name:    "ExcludeDirByPrefix",
			include: DefaultInclude,
			exclude: []string{"tmp*"},
			path:    "tmp",
			isDir:   true,
			exp:     false,
		},
		{
			name:    "EmptyIncludeKeepsNothing",
			include: nil,
			path:    "anything",
			exp:     false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			filter, err := NewFilter(test.include, test.exclude)
			require.NoError(t, err)
			assert.Equal(t, test.exp, filter.Match(test.path, test.isDir))
		})
	}
}

func TestFilterBadPattern(t *testing.T) {
	_, err := NewFilter([]string{"[unclosed"}, nil)
	assert.Error(t, err)

	_, err = NewFilter(DefaultInclude, []string{"[unclosed"})
	assert.Error(t, err)
}

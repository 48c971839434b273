package config

import (
	"os"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/lesync/lesync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// DefaultsPath is where per-user defaults live. The file is optional.
const DefaultsPath = "~/.lesync.yaml"

// parseConfigErrTemplate is shown when the defaults file can't be parsed.
// The yaml library constructs errors in a way that loses context, so we can
// only pass the error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Defaults holds the per-user default flag values. Flags given on the
// command line always win over this file.
type Defaults struct {
	Algorithm   string   `json:"algorithm,omitempty"`
	Threads     int      `json:"threads,omitempty"`
	Include     []string `json:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
	SrcEncoding string   `json:"srcEncoding,omitempty"`
	DstEncoding string   `json:"dstEncoding,omitempty"`
}

// ParseDefaults reads the user's defaults file. A missing file isn't an
// error: it just yields the zero value.
func ParseDefaults() (Defaults, error) {
	return parseDefaultsFrom(DefaultsPath)
}

func parseDefaultsFrom(path string) (Defaults, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Defaults{}, errors.WithContext(err, "expand path")
	}

	contents, err := afero.ReadFile(fs, expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, errors.WithContext(err, "read defaults")
	}

	var defaults Defaults
	if err := yaml.Unmarshal(contents, &defaults); err != nil {
		return Defaults{}, errors.NewFriendlyError(parseConfigErrTemplate, expanded, err)
	}
	return defaults, nil
}

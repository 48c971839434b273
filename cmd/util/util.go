package util

import (
	"bytes"
	"fmt"
	"os"
	"runtime/debug"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/lesync/lesync/pkg/errors"
)

// HandleFatalError prints the error in its most user-friendly form and
// exits with a non-zero status.
func HandleFatalError(err error) {
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic converts a panic in the main goroutine into an error message
// rather than a raw stack splat at the user.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("panic", r).Error("Unexpected crash")
	fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
	os.Exit(1)
}

// ReadKey resolves the digest key flags shared by the sync and hash
// commands. A trailing newline in a key file is almost always editor
// noise, so it gets stripped.
func ReadKey(key, keyFile string) ([]byte, error) {
	if key != "" && keyFile != "" {
		return nil, errors.NewConfigError("--key and --key-file are mutually exclusive")
	}
	if key != "" {
		return []byte(key), nil
	}
	if keyFile == "" {
		return nil, nil
	}

	path, err := homedir.Expand(keyFile)
	if err != nil {
		return nil, errors.WithContext(err, "expand key file path")
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithContext(err, "read key file")
	}
	return bytes.TrimSuffix(contents, []byte("\n")), nil
}

package hash

import (
	"fmt"
	"runtime"
	"strings"
	gosync "sync"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lesync/lesync/cmd/util"
	"github.com/lesync/lesync/pkg/digest"
	"github.com/lesync/lesync/pkg/fsentry"
	"github.com/lesync/lesync/pkg/sync"
)

type options struct {
	algorithm string
	key       string
	keyFile   string
	threads   int
}

// New creates a new `hash` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "hash [flags] FILE...",
		Short: "Print kernel-computed content digests, md5sum style.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.algorithm, "algorithm", "a", "md5",
		fmt.Sprintf("digest algorithm (%s)", strings.Join(digest.Names(), ", ")))
	flags.StringVarP(&opts.key, "key", "k", "",
		"key for keyed algorithms such as hmac(sha256)")
	flags.StringVar(&opts.keyFile, "key-file", "",
		"read the digest key from this file instead")
	flags.IntVarP(&opts.threads, "threads", "t", runtime.NumCPU(),
		"digest worker count")

	return cmd
}

func run(opts options, paths []string) error {
	if err := digest.LoadKernelAlgorithms(); err != nil {
		log.WithError(err).Debug("Failed to enumerate kernel hash transforms")
	}

	key, err := util.ReadKey(opts.key, opts.keyFile)
	if err != nil {
		return err
	}

	hasher, err := digest.NewByName(opts.algorithm, key)
	if err != nil {
		return err
	}
	defer hasher.Close()

	codec, err := fsentry.NewCodec("")
	if err != nil {
		return err
	}

	var printMutex gosync.Mutex
	pool := sync.NewPool(opts.threads, clockwork.NewRealClock())
	for _, path := range paths {
		path := path
		pool.Submit(path, func() error {
			sum, err := digestFile(hasher, codec, path)
			if err != nil {
				return err
			}

			printMutex.Lock()
			defer printMutex.Unlock()
			fmt.Printf("%x  %s\n", sum, path)
			return nil
		})
	}

	if failures := pool.Drain(); len(failures) != 0 {
		return fmt.Errorf("failed to digest %d files", len(failures))
	}
	return nil
}

func digestFile(hasher *digest.Hasher, codec *fsentry.Codec, path string) ([]byte, error) {
	entry := fsentry.New(path, fsentry.ReadOnly, codec, hasher)
	if err := entry.Open(0); err != nil {
		return nil, err
	}
	defer entry.Close()

	return entry.Digest()
}

package sync

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lesync/lesync/cmd/util"
	"github.com/lesync/lesync/pkg/config"
	"github.com/lesync/lesync/pkg/digest"
	"github.com/lesync/lesync/pkg/errors"
	syncEngine "github.com/lesync/lesync/pkg/sync"
)

type options struct {
	verbose       int
	dryRun        bool
	skipIdentical bool
	ignoreMtime   bool
	include       []string
	exclude       []string
	srcEncoding   string
	dstEncoding   string
	algorithm     string
	key           string
	keyFile       string
	threads       int
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "sync [flags] SOURCE... DESTINATION",
		Short: "Synchronize files and directory trees into the destination.",
		Long: "Synchronize files and directory trees into the destination.\n\n" +
			"Copies are skipped for destinations that already match their source\n" +
			"(with --sync), decided by cheap metadata first and a kernel-computed\n" +
			"content digest only when everything cheaper already matches. Filenames\n" +
			"can be transcoded between path encodings on the way, like rsync --iconv.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	flags := cmd.Flags()
	flags.CountVarP(&opts.verbose, "verbose", "v",
		"log every copied entry; repeat to log skipped entries too")
	flags.BoolVarP(&opts.dryRun, "dry-run", "n", false,
		"walk, compare and log without writing anything")
	flags.BoolVarP(&opts.skipIdentical, "sync", "S", false,
		"skip destinations that already match their source")
	flags.BoolVar(&opts.ignoreMtime, "ignore-mtime", false,
		"don't require equal modification times when comparing")
	flags.StringSliceVarP(&opts.include, "include", "I", nil,
		"glob patterns to sync (directories match with a trailing /)")
	flags.StringSliceVarP(&opts.exclude, "exclude", "X", nil,
		"glob patterns to skip, pruning whole subtrees")
	flags.StringVarP(&opts.srcEncoding, "src-enc", "s", "",
		"filename encoding of the sources (default: utf-8)")
	flags.StringVarP(&opts.dstEncoding, "dst-enc", "d", "",
		"filename encoding of the destination (default: utf-8)")
	flags.StringVarP(&opts.algorithm, "algorithm", "a", "",
		"content digest algorithm (default: dummy, i.e. metadata only)")
	flags.StringVarP(&opts.key, "key", "k", "",
		"key for keyed algorithms such as hmac(sha256)")
	flags.StringVar(&opts.keyFile, "key-file", "",
		"read the digest key from this file instead")
	flags.IntVarP(&opts.threads, "threads", "t", 0,
		"copy worker count (default: number of CPUs)")

	return cmd
}

func run(opts options, args []string) error {
	setupLogging(opts.verbose, opts.dryRun)

	defaults, err := config.ParseDefaults()
	if err != nil {
		return errors.WithContext(err, "load defaults")
	}
	opts = mergeDefaults(opts, defaults)

	// Whatever hash transforms this kernel has are fair game, not just the
	// static table.
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

	engine, err := syncEngine.New(syncEngine.Options{
		Workers:       opts.threads,
		DryRun:        opts.dryRun,
		SkipIdentical: opts.skipIdentical,
		IgnoreMtime:   opts.ignoreMtime,
		Include:       opts.include,
		Exclude:       opts.exclude,
		SrcEncoding:   opts.srcEncoding,
		DstEncoding:   opts.dstEncoding,
	}, hasher)
	if err != nil {
		return err
	}

	return engine.Run(args)
}

func mergeDefaults(opts options, defaults config.Defaults) options {
	if opts.algorithm == "" {
		opts.algorithm = defaults.Algorithm
	}
	if opts.algorithm == "" {
		opts.algorithm = digest.DummyName
	}
	if opts.threads == 0 {
		opts.threads = defaults.Threads
	}
	if len(opts.include) == 0 {
		opts.include = defaults.Include
	}
	if len(opts.exclude) == 0 {
		opts.exclude = defaults.Exclude
	}
	if opts.srcEncoding == "" {
		opts.srcEncoding = defaults.SrcEncoding
	}
	if opts.dstEncoding == "" {
		opts.dstEncoding = defaults.DstEncoding
	}
	return opts
}

func setupLogging(verbose int, dryRun bool) {
	// The LESYNC_LOG_VERBOSE escape hatch already forced Debug.
	if log.GetLevel() == log.DebugLevel {
		return
	}

	switch {
	case verbose > 1:
		log.SetLevel(log.DebugLevel)
	case verbose > 0 || dryRun:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

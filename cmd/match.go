package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/catalog"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/config"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecestore"
)

// matchOptions encapsulates all the flags for the match command
type matchOptions struct {
	ConfigPath    string
	CatalogDB     string
	PieceCacheDB  string
	DedupeRoot    string
	Workers       int
	MaxCombos     int
	MaxCandidates int
	Verbose       bool
	Quiet         bool
	JSON          bool
}

var matchOpts matchOptions

var matchCmd = &cobra.Command{
	Use:   "match <torrent-file>",
	Short: "Find local files identical to a torrent's contents",
	Long: `Matches every file listed in the torrent against the local file catalog.
A file matches when its byte content hashes to the torrent's piece digests,
including pieces that straddle file boundaries. The command exits non-zero
when at least one torrent file has no local match.`,
	Args:                       cobra.ExactArgs(1),
	RunE:                       runMatch,
	DisableFlagsInUseLine:      true,
	SuggestionsMinimumDistance: 1,
	SilenceUsage:               true,
}

func init() {
	matchCmd.Flags().SortFlags = false
	matchCmd.Flags().StringVar(&matchOpts.ConfigPath, "config", "", "path to config file")
	matchCmd.Flags().StringVar(&matchOpts.CatalogDB, "catalog", "", "path to the file catalog database (overrides config)")
	matchCmd.Flags().StringVar(&matchOpts.PieceCacheDB, "cache", "", "path to the piece-hash cache database (overrides config)")
	matchCmd.Flags().StringVar(&matchOpts.DedupeRoot, "root", "", "root for relative catalog paths (overrides config)")
	matchCmd.Flags().IntVar(&matchOpts.Workers, "workers", 0, "max concurrent hash reads (0 for config default)")
	matchCmd.Flags().IntVar(&matchOpts.MaxCombos, "max-combinations", 0, "max candidate combinations per boundary piece (0 for config default)")
	matchCmd.Flags().IntVar(&matchOpts.MaxCandidates, "max-candidates", 0, "max candidates per torrent file (0 for config default)")
	matchCmd.Flags().BoolVarP(&matchOpts.Verbose, "verbose", "v", false, "show all matching locations and debug logging")
	matchCmd.Flags().BoolVar(&matchOpts.Quiet, "quiet", false, "suppress progress and result rendering")
	matchCmd.Flags().BoolVar(&matchOpts.JSON, "json", false, "print the result as JSON on stdout")
	matchCmd.SetUsageTemplate(`Usage:
  {{.CommandPath}} <torrent-file> [flags]

Arguments:
  torrent-file   Path to the .torrent file

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
`)
	rootCmd.AddCommand(matchCmd)
}

// loadMatchConfig merges the config file with command-line overrides.
func loadMatchConfig(opts matchOptions) (*config.Config, error) {
	var cfg *config.Config
	if path, err := config.Find(opts.ConfigPath); err == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else if opts.ConfigPath != "" {
		return nil, fmt.Errorf("config file %q not found", opts.ConfigPath)
	} else {
		cfg = config.Default()
	}

	if opts.CatalogDB != "" {
		cfg.CatalogDB = opts.CatalogDB
	}
	if opts.PieceCacheDB != "" {
		cfg.PieceCacheDB = opts.PieceCacheDB
	}
	if opts.DedupeRoot != "" {
		cfg.DedupeRoot = opts.DedupeRoot
	}
	if opts.Workers > 0 {
		cfg.MaxConcurrentReads = opts.Workers
	}
	if opts.MaxCombos > 0 {
		cfg.MaxBoundaryCombinations = opts.MaxCombos
	}
	if opts.MaxCandidates > 0 {
		cfg.MaxCandidatesPerSlot = opts.MaxCandidates
	}

	if cfg.CatalogDB == "" {
		return nil, fmt.Errorf("no catalog database configured (use --catalog or a config file)")
	}
	return cfg, nil
}

func newLogger(opts matchOptions) zerolog.Logger {
	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	if opts.Quiet {
		level = zerolog.ErrorLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func runMatch(cmd *cobra.Command, args []string) error {
	torrentPath := args[0]
	if _, err := os.Stat(torrentPath); err != nil {
		return fmt.Errorf("invalid torrent file path %q: %w", torrentPath, err)
	}

	cfg, err := loadMatchConfig(matchOpts)
	if err != nil {
		return err
	}
	logger := newLogger(matchOpts)

	mi, err := metainfo.LoadFromFile(torrentPath)
	if err != nil {
		return fmt.Errorf("could not load torrent file %q: %w", torrentPath, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return fmt.Errorf("could not unmarshal info dictionary from %q: %w", torrentPath, err)
	}
	desc, err := matcher.FromInfo(&info)
	if err != nil {
		return err
	}

	cat, err := catalog.Open(cfg.CatalogDB, catalog.Options{
		Root:            cfg.DedupeRoot,
		ExcludePatterns: cfg.ExcludePatterns,
		MaxCandidates:   cfg.MaxCandidatesPerSlot,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer cat.Close()

	sqlStore, err := piecestore.OpenSQLite(cfg.PieceCacheDB, logger)
	if err != nil {
		return err
	}
	defer sqlStore.Close()
	store, err := piecestore.NewCaching(sqlStore, 0)
	if err != nil {
		return err
	}

	hasher := matcher.NewFileHasher(int64(cfg.MaxConcurrentReads))
	display := matcher.NewDisplay(matchOpts.Verbose)
	display.SetQuiet(matchOpts.Quiet || matchOpts.JSON)

	if !matchOpts.Quiet && !matchOpts.JSON {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(os.Stdout, "\n%s %s\n", green("Matching:"), torrentPath)
		display.ShowTorrentInfo(info.Name, desc)
	}

	m := matcher.New(cat, store, hasher, matcher.Options{
		MaxBoundaryCombos: cfg.MaxBoundaryCombinations,
		Display:           display,
		Logger:            logger,
	})

	result, err := m.Match(cmd.Context(), desc)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}

	if matchOpts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Files); err != nil {
			return err
		}
	} else {
		display.ShowMatchResult(result, hasher.BytesRead(), result.Elapsed)
	}

	unmatched := 0
	for _, f := range result.Files {
		if len(f.Locations) == 0 {
			unmatched++
		}
	}
	if unmatched > 0 {
		return fmt.Errorf("%d of %d files have no local match", unmatched, len(result.Files))
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/catalog"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecestore"
)

// hashOptions encapsulates all the flags for the hash command
type hashOptions struct {
	ConfigPath   string
	CatalogDB    string
	PieceCacheDB string
	DedupeRoot   string
	PieceLength  int64
	Workers      int
	Quiet        bool
}

var hashOpts hashOptions

var hashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Prime the piece-hash cache for a catalog file",
	Long: `Computes and stores the piece digests of a locally indexed file at the
given piece length. Later matches against torrents that use that piece
length and place the file on a piece boundary then take its interior piece
digests from the cache instead of re-reading the file.`,
	Args:                       cobra.ExactArgs(1),
	RunE:                       runHash,
	DisableFlagsInUseLine:      true,
	SuggestionsMinimumDistance: 1,
	SilenceUsage:               true,
}

func init() {
	hashCmd.Flags().SortFlags = false
	hashCmd.Flags().StringVar(&hashOpts.ConfigPath, "config", "", "path to config file")
	hashCmd.Flags().StringVar(&hashOpts.CatalogDB, "catalog", "", "path to the file catalog database (overrides config)")
	hashCmd.Flags().StringVar(&hashOpts.PieceCacheDB, "cache", "", "path to the piece-hash cache database (overrides config)")
	hashCmd.Flags().StringVar(&hashOpts.DedupeRoot, "root", "", "root for relative catalog paths (overrides config)")
	hashCmd.Flags().Int64VarP(&hashOpts.PieceLength, "piece-length", "l", 1<<20, "piece length in bytes")
	hashCmd.Flags().IntVar(&hashOpts.Workers, "workers", 0, "max concurrent hash reads (0 for config default)")
	hashCmd.Flags().BoolVar(&hashOpts.Quiet, "quiet", false, "suppress output")
	hashCmd.SetUsageTemplate(`Usage:
  {{.CommandPath}} <file> [flags]

Arguments:
  file   Path to a file present in the catalog

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
`)
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid file path %q: %w", path, err)
	}
	if hashOpts.PieceLength <= 0 {
		return fmt.Errorf("piece length must be positive")
	}

	cfg, err := loadMatchConfig(matchOptions{
		ConfigPath:   hashOpts.ConfigPath,
		CatalogDB:    hashOpts.CatalogDB,
		PieceCacheDB: hashOpts.PieceCacheDB,
		DedupeRoot:   hashOpts.DedupeRoot,
		Workers:      hashOpts.Workers,
	})
	if err != nil {
		return err
	}
	logger := newLogger(matchOptions{Quiet: hashOpts.Quiet})

	cat, err := catalog.Open(cfg.CatalogDB, catalog.Options{Root: cfg.DedupeRoot, Logger: logger})
	if err != nil {
		return err
	}
	defer cat.Close()

	entry, err := cat.LookupPath(cmd.Context(), path)
	if err != nil {
		return err
	}
	if entry.Size != fi.Size() {
		return fmt.Errorf("catalog size %d does not match on-disk size %d, re-index first", entry.Size, fi.Size())
	}

	store, err := piecestore.OpenSQLite(cfg.PieceCacheDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hasher := matcher.NewFileHasher(int64(cfg.MaxConcurrentReads))
	pieceLen := hashOpts.PieceLength
	numPieces := int((fi.Size() + pieceLen - 1) / pieceLen)

	start := time.Now()
	digests := make([][]byte, numPieces)

	g, ctx := errgroup.WithContext(cmd.Context())
	for i := 0; i < numPieces; i++ {
		i := i
		g.Go(func() error {
			offset := int64(i) * pieceLen
			length := pieceLen
			if offset+length > fi.Size() {
				length = fi.Size() - offset
			}
			d, err := hasher.HashRange(ctx, path, offset, length)
			if err != nil {
				return err
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}

	byIndex := make(map[int][]byte, numPieces)
	for i, d := range digests {
		byIndex[i] = d
	}
	if err := store.Put(cmd.Context(), entry.FileHash, pieceLen, byIndex); err != nil {
		return fmt.Errorf("could not store piece hashes: %w", err)
	}

	if !hashOpts.Quiet {
		fmt.Printf("Cached %d piece hashes for %s (%s read in %s)\n",
			numPieces, path,
			humanize.Bytes(uint64(hasher.BytesRead())),
			time.Since(start).Round(time.Millisecond))
	}
	return nil
}

package matcher

import (
	"errors"
	"fmt"
)

var (
	// ErrTorrentMalformed indicates the decoded metainfo is internally
	// inconsistent (zero piece length, digest blob of the wrong size).
	ErrTorrentMalformed = errors.New("torrent malformed")

	// ErrCatalogUnavailable indicates the file catalog could not be queried.
	// A match cannot proceed without it.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrTruncated indicates a file ended before a requested range could be
	// read in full.
	ErrTruncated = errors.New("unexpected end of file")
)

func errMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTorrentMalformed, fmt.Sprintf(format, args...))
}

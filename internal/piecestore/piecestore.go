// Package piecestore persists per-(file, piece-length) piece digests across
// matches so repeated matches on overlapping torrents amortize disk I/O.
package piecestore

import "context"

// Store caches piece digests keyed by a file's whole-file hash and a piece
// length. The piece index is the file's own piece grid: index i covers byte
// range [i*pieceLength, (i+1)*pieceLength) of the file.
//
// Values are content-derived, so concurrent writers for the same key cannot
// disagree and insertion is idempotent.
type Store interface {
	// Lookup returns every known digest for the key. A missing key yields an
	// empty map, not an error. Callers must not mutate the returned map.
	Lookup(ctx context.Context, fileHash string, pieceLength int64) (map[int][]byte, error)

	// Put records digests for the key. Existing entries are left untouched.
	Put(ctx context.Context, fileHash string, pieceLength int64, digests map[int][]byte) error
}

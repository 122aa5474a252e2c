package piecestore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_pieces (
	file_hash    TEXT    NOT NULL,
	piece_length INTEGER NOT NULL,
	piece_index  INTEGER NOT NULL,
	piece_hash   TEXT    NOT NULL,
	PRIMARY KEY (file_hash, piece_length, piece_index)
);
CREATE INDEX IF NOT EXISTS idx_file_pieces_key ON file_pieces (file_hash, piece_length);
`

// SQLiteStore is the durable backing of the piece-hash cache. It owns its
// database file and creates the schema on open.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (or creates) the piece-hash database at path.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open piece cache %s: %w", path, err)
	}
	// The connection serializes writes internally; a single conn avoids
	// SQLITE_BUSY between concurrent match write-backs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create piece cache schema: %w", err)
	}

	return &SQLiteStore{db: db, log: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Lookup(ctx context.Context, fileHash string, pieceLength int64) (map[int][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT piece_index, piece_hash FROM file_pieces WHERE file_hash = ? AND piece_length = ?`,
		fileHash, pieceLength)
	if err != nil {
		return nil, fmt.Errorf("piece cache lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]byte)
	for rows.Next() {
		var index int
		var hexDigest string
		if err := rows.Scan(&index, &hexDigest); err != nil {
			return nil, fmt.Errorf("piece cache scan: %w", err)
		}
		digest, err := hex.DecodeString(hexDigest)
		if err != nil || len(digest) != 20 {
			// Corrupt rows degrade to cache misses.
			s.log.Warn().
				Str("file_hash", fileHash).
				Int("piece_index", index).
				Msg("dropping corrupt piece cache row")
			continue
		}
		out[index] = digest
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("piece cache read: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Put(ctx context.Context, fileHash string, pieceLength int64, digests map[int][]byte) error {
	if len(digests) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("piece cache write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO file_pieces (file_hash, piece_length, piece_index, piece_hash) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("piece cache write: %w", err)
	}
	defer stmt.Close()

	for index, digest := range digests {
		if _, err := stmt.ExecContext(ctx, fileHash, pieceLength, index, hex.EncodeToString(digest)); err != nil {
			return fmt.Errorf("piece cache write index %d: %w", index, err)
		}
	}
	return tx.Commit()
}

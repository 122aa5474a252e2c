package piecestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "pieces.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDigests(indices ...int) map[int][]byte {
	out := make(map[int][]byte, len(indices))
	for _, i := range indices {
		sum := sha1.Sum([]byte{byte(i)})
		out[i] = sum[:]
	}
	return out
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	put := testDigests(0, 1, 5)
	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, put))

	got, err := store.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, put, got)
}

func TestSQLiteStore_MissingKeyIsEmpty(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Lookup(context.Background(), "unknown", 1<<16)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_KeysAreIndependent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, testDigests(0)))
	require.NoError(t, store.Put(ctx, "hash-a", 1<<16, testDigests(1)))
	require.NoError(t, store.Put(ctx, "hash-b", 1<<20, testDigests(2)))

	got, err := store.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0), got)
}

func TestSQLiteStore_PutIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, testDigests(0, 1)))
	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, testDigests(1, 2)))

	got, err := store.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0, 1, 2), got)
}

func TestSQLiteStore_CorruptRowIsAMiss(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, testDigests(0)))
	_, err := store.db.Exec(
		`INSERT INTO file_pieces (file_hash, piece_length, piece_index, piece_hash) VALUES (?, ?, ?, ?)`,
		"hash-a", 1<<20, 1, "not-hex")
	require.NoError(t, err)

	got, err := store.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0), got, "corrupt row must degrade to a miss")
}

func TestSQLiteStore_SchemaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pieces.db")
	ctx := context.Background()

	store, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "hash-a", 1<<20, testDigests(3)))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(3), got)
}

// failingStore always errors, to observe CachingStore behavior on a broken
// backing database.
type failingStore struct{ err error }

func (f failingStore) Lookup(context.Context, string, int64) (map[int][]byte, error) {
	return nil, f.err
}

func (f failingStore) Put(context.Context, string, int64, map[int][]byte) error {
	return f.err
}

func TestCachingStore_ServesFromMemory(t *testing.T) {
	inner := openTestStore(t)
	caching, err := NewCaching(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, caching.Put(ctx, "hash-a", 1<<20, testDigests(0)))

	// Remove the durable copy; the memory layer must still serve it.
	_, err = inner.db.Exec(`DELETE FROM file_pieces`)
	require.NoError(t, err)

	got, err := caching.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0), got)
}

func TestCachingStore_MergesPuts(t *testing.T) {
	inner := openTestStore(t)
	caching, err := NewCaching(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, caching.Put(ctx, "hash-a", 1<<20, testDigests(0)))
	require.NoError(t, caching.Put(ctx, "hash-a", 1<<20, testDigests(1)))

	got, err := caching.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0, 1), got)
}

func TestCachingStore_WriteFailureStillServesMemory(t *testing.T) {
	caching, err := NewCaching(failingStore{err: assert.AnError}, 8)
	require.NoError(t, err)
	ctx := context.Background()

	err = caching.Put(ctx, "hash-a", 1<<20, testDigests(0))
	require.ErrorIs(t, err, assert.AnError)

	// The failed durable write is non-fatal: this process keeps serving the
	// digests it computed.
	got, err := caching.Lookup(ctx, "hash-a", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, testDigests(0), got)
}

func TestSQLiteStore_HexRoundTrip(t *testing.T) {
	inner := openTestStore(t)
	ctx := context.Background()

	digest, err := hex.DecodeString("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, "hash-a", 512, map[int][]byte{7: digest}))

	got, err := inner.Lookup(ctx, "hash-a", 512)
	require.NoError(t, err)
	assert.Equal(t, digest, got[7])
}

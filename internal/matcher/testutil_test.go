package matcher

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testFile is one torrent entry plus the byte content the "original" file
// had when the torrent was created.
type testFile struct {
	name    string
	content []byte
}

// buildDescriptor derives a Descriptor whose piece digests match the virtual
// concatenation of the given file contents.
func buildDescriptor(t *testing.T, pieceLen int64, files []testFile) *Descriptor {
	t.Helper()

	var stream []byte
	entries := make([]File, 0, len(files))
	for _, f := range files {
		stream = append(stream, f.content...)
		entries = append(entries, File{Path: f.name, Length: int64(len(f.content))})
	}

	var pieces []byte
	for off := int64(0); off < int64(len(stream)); off += pieceLen {
		end := off + pieceLen
		if end > int64(len(stream)) {
			end = int64(len(stream))
		}
		sum := sha1.Sum(stream[off:end])
		pieces = append(pieces, sum[:]...)
	}

	d, err := NewDescriptor(pieceLen, pieces, entries)
	require.NoError(t, err)
	return d
}

func randomBytes(t *testing.T, n int64) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// writeCandidate stores content on disk and returns a Candidate whose
// whole-file hash is the content's SHA-1, matching what the catalog indexer
// would have recorded.
func writeCandidate(t *testing.T, dir, name string, content []byte) Candidate {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	sum := sha1.Sum(content)
	return Candidate{
		Path:     path,
		FileHash: hex.EncodeToString(sum[:]),
		Size:     int64(len(content)),
	}
}

// memSource serves candidates from a size-keyed map, preserving insertion
// order the way the catalog does.
type memSource struct {
	bySize map[int64][]Candidate
}

func newMemSource() *memSource {
	return &memSource{bySize: make(map[int64][]Candidate)}
}

func (s *memSource) add(c Candidate) {
	s.bySize[c.Size] = append(s.bySize[c.Size], c)
}

func (s *memSource) Candidates(_ context.Context, size int64, _ string) ([]Candidate, error) {
	return s.bySize[size], nil
}

// failSource simulates an unreachable catalog.
type failSource struct{}

func (failSource) Candidates(context.Context, int64, string) ([]Candidate, error) {
	return nil, fmt.Errorf("%w: connection refused", ErrCatalogUnavailable)
}

// memStore is an in-memory PieceStore shared across matcher runs in tests.
type memStore struct {
	mu sync.Mutex
	m  map[string]map[int][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]map[int][]byte)}
}

func (s *memStore) key(fileHash string, pieceLength int64) string {
	return fmt.Sprintf("%s/%d", fileHash, pieceLength)
}

func (s *memStore) Lookup(_ context.Context, fileHash string, pieceLength int64) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int][]byte)
	for i, d := range s.m[s.key(fileHash, pieceLength)] {
		out[i] = d
	}
	return out, nil
}

func (s *memStore) Put(_ context.Context, fileHash string, pieceLength int64, digests map[int][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(fileHash, pieceLength)
	if s.m[key] == nil {
		s.m[key] = make(map[int][]byte)
	}
	for i, d := range digests {
		s.m[key][i] = d
	}
	return nil
}

func newTestMatcher(source CandidateSource, store PieceStore, hasher Hasher) *Matcher {
	return New(source, store, hasher, Options{Logger: zerolog.Nop()})
}

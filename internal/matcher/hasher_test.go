package matcher

import (
	"context"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHasher_HashRange(t *testing.T) {
	dir := t.TempDir()
	content := randomBytes(t, 4096)
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	h := NewFileHasher(4)
	ctx := context.Background()

	tests := []struct {
		name   string
		offset int64
		length int64
	}{
		{"whole file", 0, 4096},
		{"head", 0, 100},
		{"middle", 1000, 512},
		{"tail", 4000, 96},
		{"empty range", 2048, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.HashRange(ctx, path, tt.offset, tt.length)
			require.NoError(t, err)
			want := sha1.Sum(content[tt.offset : tt.offset+tt.length])
			assert.Equal(t, want[:], got)
		})
	}
}

func TestFileHasher_HashRange_Truncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))

	h := NewFileHasher(1)
	_, err := h.HashRange(context.Background(), path, 50, 100)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestFileHasher_HashRange_MissingFile(t *testing.T) {
	h := NewFileHasher(1)
	_, err := h.HashRange(context.Background(), filepath.Join(t.TempDir(), "gone"), 0, 10)
	require.Error(t, err)
}

func TestFileHasher_HashStitched(t *testing.T) {
	dir := t.TempDir()
	a := randomBytes(t, 300)
	b := randomBytes(t, 500)
	pa := filepath.Join(dir, "a")
	pb := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(pa, a, 0o644))
	require.NoError(t, os.WriteFile(pb, b, 0o644))

	h := NewFileHasher(2)
	got, err := h.HashStitched(context.Background(), []Segment{
		{Path: pa, Offset: 250, Length: 50},
		{Path: pb, Offset: 0, Length: 70},
	})
	require.NoError(t, err)

	var joined []byte
	joined = append(joined, a[250:]...)
	joined = append(joined, b[:70]...)
	want := sha1.Sum(joined)
	assert.Equal(t, want[:], got)
}

func TestFileHasher_HashStitched_EmptyInput(t *testing.T) {
	h := NewFileHasher(1)
	got, err := h.HashStitched(context.Background(), nil)
	require.NoError(t, err)
	want := sha1.Sum(nil)
	assert.Equal(t, want[:], got)
}

func TestFileHasher_ReadRange(t *testing.T) {
	dir := t.TempDir()
	content := randomBytes(t, 1000)
	path := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	h := NewFileHasher(2)

	got, err := h.ReadRange(context.Background(), path, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, content[100:300], got)

	empty, err := h.ReadRange(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = h.ReadRange(context.Background(), path, 900, 200)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestFileHasher_Counters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(path, make([]byte, 256), 0o644))

	h := NewFileHasher(2)
	require.Zero(t, h.RangeReads())

	_, err := h.HashRange(context.Background(), path, 0, 256)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.RangeReads())
	assert.Equal(t, int64(256), h.BytesRead())
}

func TestFileHasher_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewFileHasher(1)
	_, err := h.HashRange(ctx, "irrelevant", 0, 10)
	require.ErrorIs(t, err, context.Canceled)
}

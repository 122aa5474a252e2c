package matcher

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentReads bounds outstanding range reads (and with them
// open file descriptors) across a single hasher.
const DefaultMaxConcurrentReads = 8

const readBufferSize = 1 << 20

// Segment is one contiguous byte range of a local file, used to stitch a
// piece together across file boundaries.
type Segment struct {
	Path   string
	Offset int64
	Length int64
}

// Hasher computes SHA-1 digests over byte ranges of local files.
type Hasher interface {
	// HashRange reads exactly length bytes of path starting at offset and
	// returns their SHA-1 digest. A zero length is valid and yields the
	// digest of the empty input. A file shorter than offset+length fails
	// with ErrTruncated.
	HashRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// HashStitched feeds the given segments through a single SHA-1 context
	// in order and returns the digest of their concatenation.
	HashStitched(ctx context.Context, segments []Segment) ([]byte, error)

	// ReadRange reads exactly length bytes of path at offset into memory.
	// Boundary joining uses it to fetch head and tail bytes once per
	// candidate before combining them pairwise.
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// FileHasher is the disk-backed Hasher. Concurrent calls are admitted up to
// a fixed number of in-flight reads; beyond that, callers block.
type FileHasher struct {
	sem     *semaphore.Weighted
	bufPool sync.Pool

	rangeReads int64
	bytesRead  int64
}

// NewFileHasher returns a FileHasher that allows up to maxReads concurrent
// range reads. maxReads <= 0 selects DefaultMaxConcurrentReads.
func NewFileHasher(maxReads int64) *FileHasher {
	if maxReads <= 0 {
		maxReads = DefaultMaxConcurrentReads
	}
	return &FileHasher{
		sem: semaphore.NewWeighted(maxReads),
		bufPool: sync.Pool{
			New: func() any {
				return make([]byte, readBufferSize)
			},
		},
	}
}

func (h *FileHasher) HashRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	return h.HashStitched(ctx, []Segment{{Path: path, Offset: offset, Length: length}})
}

func (h *FileHasher) HashStitched(ctx context.Context, segments []Segment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	buf := h.bufPool.Get().([]byte)
	defer h.bufPool.Put(buf)

	hasher := sha1.New()
	for _, seg := range segments {
		if seg.Length == 0 {
			continue
		}
		if err := h.feedRange(hasher, seg, buf); err != nil {
			return nil, err
		}
	}
	return hasher.Sum(nil), nil
}

// feedRange streams one segment into the hash state in buffer-sized chunks.
func (h *FileHasher) feedRange(w io.Writer, seg Segment, buf []byte) error {
	f, err := os.Open(seg.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", seg.Path, err)
	}
	defer f.Close()

	atomic.AddInt64(&h.rangeReads, 1)

	r := io.NewSectionReader(f, seg.Offset, seg.Length)
	remaining := seg.Length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(r, buf[:n])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %s at offset %d, wanted %d more bytes", ErrTruncated, seg.Path, seg.Offset+seg.Length-remaining, remaining)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", seg.Path, err)
		}
		if _, err := w.Write(buf[:read]); err != nil {
			return err
		}
		remaining -= int64(read)
		atomic.AddInt64(&h.bytesRead, int64(read))
	}
	return nil
}

// RangeReads returns the number of file range reads issued so far.
func (h *FileHasher) RangeReads() int64 { return atomic.LoadInt64(&h.rangeReads) }

// BytesRead returns the total bytes read from disk so far.
func (h *FileHasher) BytesRead() int64 { return atomic.LoadInt64(&h.bytesRead) }

// ReadRange reads under the same admission cap as hashing.
func (h *FileHasher) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	atomic.AddInt64(&h.rangeReads, 1)

	out := make([]byte, length)
	if _, err := f.ReadAt(out, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrTruncated, path, offset)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	atomic.AddInt64(&h.bytesRead, length)
	return out, nil
}

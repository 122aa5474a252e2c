package piecestore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries bounds the number of (file, piece-length) digest maps
// held in memory.
const DefaultCacheEntries = 1024

// CachingStore layers an LRU of decoded digest maps over a durable Store.
// Lookups served from memory never touch the backing database; writes go
// through to it. Cached maps are shared with callers and treated as
// immutable: merging a Put produces a fresh map rather than mutating one a
// reader may still hold.
type CachingStore struct {
	inner Store
	cache *lru.Cache[string, map[int][]byte]
}

// NewCaching wraps inner with an in-memory layer of up to entries keys.
// entries <= 0 selects DefaultCacheEntries.
func NewCaching(inner Store, entries int) (*CachingStore, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	cache, err := lru.New[string, map[int][]byte](entries)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, cache: cache}, nil
}

func cacheKey(fileHash string, pieceLength int64) string {
	return fmt.Sprintf("%s/%d", fileHash, pieceLength)
}

func (c *CachingStore) Lookup(ctx context.Context, fileHash string, pieceLength int64) (map[int][]byte, error) {
	key := cacheKey(fileHash, pieceLength)
	if digests, ok := c.cache.Get(key); ok {
		return digests, nil
	}

	digests, err := c.inner.Lookup(ctx, fileHash, pieceLength)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, digests)
	return digests, nil
}

func (c *CachingStore) Put(ctx context.Context, fileHash string, pieceLength int64, digests map[int][]byte) error {
	if len(digests) == 0 {
		return nil
	}

	key := cacheKey(fileHash, pieceLength)
	merged := make(map[int][]byte, len(digests))
	existing, ok := c.cache.Get(key)
	if !ok {
		// Seed from the durable store so the cached map stays the union of
		// both layers; a failed read leaves only the new digests.
		existing, _ = c.inner.Lookup(ctx, fileHash, pieceLength)
	}
	for i, d := range existing {
		merged[i] = d
	}
	for i, d := range digests {
		merged[i] = d
	}
	c.cache.Add(key, merged)

	// The durable write happens after the in-memory update so a failed write
	// still leaves this process serving the digests it computed.
	return c.inner.Put(ctx, fileHash, pieceLength, digests)
}

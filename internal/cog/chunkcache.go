package cog

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

const chunkTTL = 10 * time.Minute

// decodedChunk holds the float64 samples of one tile or strip. Chunky
// chunks hold every band interleaved, planar chunks a single band.
type decodedChunk struct {
	samples []float64
}

// Size lets ccache weigh entries by bytes rather than by count.
func (c *decodedChunk) Size() int64 {
	return int64(len(c.samples)) * 8
}

// ChunkCache keeps decoded chunks so that reading several bands of a
// pixel-interleaved file decodes each chunk once. It can be shared between
// readers; keys include the file path.
type ChunkCache struct {
	cache    *ccache.Cache[*decodedChunk]
	inflight singleflight.Group
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewChunkCache creates a cache holding up to maxBytes of decoded samples.
func NewChunkCache(maxBytes int64) *ChunkCache {
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &ChunkCache{
		cache: ccache.New(ccache.Configure[*decodedChunk]().MaxSize(maxBytes).ItemsToPrune(16)),
	}
}

// get returns the cached chunk or runs load exactly once across concurrent
// callers asking for the same key.
func (c *ChunkCache) get(path string, index int, load func() (*decodedChunk, error)) (*decodedChunk, error) {
	key := path + "#" + strconv.Itoa(index)
	if item := c.cache.Get(key); item != nil && !item.Expired() {
		c.hits.Add(1)
		return item.Value(), nil
	}

	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		c.misses.Add(1)
		chunk, err := load()
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, chunk, chunkTTL)
		return chunk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*decodedChunk), nil
}

// Stats returns the number of cache hits and decodes so far.
func (c *ChunkCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the cache's background worker.
func (c *ChunkCache) Close() {
	c.cache.Stop()
}

package archive

// #region imports
import (
	"context"
	"sync"

	"github.com/documind/targetopt/internal/llm"
)

// #endregion

// #region embed-cache

// embedCache memoizes embeddings keyed by exact text content so repeated
// retrieval for identical input never re-invokes the embedding collaborator.
// Eviction is FIFO at a fixed capacity.
type embedCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	cap     int
}

func newEmbedCache(capacity int) *embedCache {
	return &embedCache{
		entries: make(map[string][]float32),
		cap:     capacity,
	}
}

// get returns the cached vector for text, computing it via embedder on miss.
func (c *embedCache) get(ctx context.Context, embedder llm.Embedder, text string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.entries[text]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Embed outside the lock; concurrent identical misses may race, but the
	// embedder is deterministic so the last write is identical anyway.
	v, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[text]; !ok {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.entries[text] = v
		c.order = append(c.order, text)
	}
	return c.entries[text], nil
}

// #endregion

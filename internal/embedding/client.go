// Package embedding wraps the embedding provider (spec C1): batching that
// preserves input order, a content-addressed cache so repeated chunks never
// hit the network twice, and a hard ceiling on single-input size.
package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"legalrag/internal/config"
)

// MaxInputRunes bounds a single embedding input. Oversized inputs should be
// chunked upstream by the ingest pipeline before reaching the embedder; this
// is a safety ceiling, not a chunking strategy.
const MaxInputRunes = 32_000

// ErrInputTooLarge is returned for any input exceeding MaxInputRunes.
var ErrInputTooLarge = errors.New("embedding: input exceeds maximum size")

// Embedder produces vector embeddings for text. Batch preserves the 1:1
// order correspondence between inputs and outputs.
type Embedder interface {
	Batch(ctx context.Context, inputs []string) ([][]float32, error)
	Dimensions() int
}

type openAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int

	mu    sync.Mutex
	cache *lruCache
}

// New constructs an Embedder backed by an OpenAI-compatible embeddings
// endpoint. cfg.CacheSize of 0 disables caching.
func New(cfg config.EmbeddingConfig) Embedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		cache:      newLRUCache(cfg.CacheSize),
	}
}

func (e *openAIEmbedder) Dimensions() int { return e.dimensions }

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Batch resolves cache hits locally, issues one request for the remaining
// misses (order preserved by tracking each miss's original index), and
// populates the cache before returning.
func (e *openAIEmbedder) Batch(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	var missInputs []string

	for i, in := range inputs {
		if len([]rune(in)) > MaxInputRunes {
			return nil, fmt.Errorf("%w: input %d has %d runes (max %d)", ErrInputTooLarge, i, len([]rune(in)), MaxInputRunes)
		}
		if v, ok := e.cacheGet(fingerprint(in)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missInputs = append(missInputs, in)
	}

	if len(missInputs) == 0 {
		return out, nil
	}

	params := openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: missInputs},
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding: provider call failed: %w", err)
	}
	if len(resp.Data) != len(missInputs) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(missInputs), len(resp.Data))
	}

	for j, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for k, f := range d.Embedding {
			vec[k] = float32(f)
		}
		idx := missIdx[j]
		out[idx] = vec
		e.cachePut(fingerprint(missInputs[j]), vec)
	}
	return out, nil
}

func (e *openAIEmbedder) cacheGet(key string) ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.get(key)
}

func (e *openAIEmbedder) cachePut(key string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.put(key, v)
}

// lruCache is a small content-addressed LRU used to avoid re-embedding
// identical chunk text across ingestion runs.
type lruCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key   string
	value []float32
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *lruCache) get(key string) ([]float32, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) put(key string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry).value = value
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

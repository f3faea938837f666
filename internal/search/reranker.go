package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jmswen/knowledge/internal/embed"
	kerrors "github.com/jmswen/knowledge/internal/errors"
)

// RerankResult is one cross-encoder score, aligned by Index to the
// Rerank call's input document slice.
type RerankResult struct {
	Index    int
	Score    float64
	Document string
}

// Reranker is the cross-encoder scoring stage: given a query and
// a document list, it returns a parallel relevance score in [0, 1] per
// document.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in original order with decreasing
// synthetic scores. Used when reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (n *NoOpReranker) Available(_ context.Context) bool { return true }
func (n *NoOpReranker) Close() error                     { return nil }

var _ Reranker = (*NoOpReranker)(nil)

// HTTPRerankerConfig configures an HTTP-backed cross-encoder reranker.
type HTTPRerankerConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// DefaultHTTPRerankerConfig returns sane defaults for a locally hosted
// cross-encoder server.
func DefaultHTTPRerankerConfig() HTTPRerankerConfig {
	return HTTPRerankerConfig{
		Endpoint: "http://localhost:9659",
		Model:    "reranker-small",
		Timeout:  30 * time.Second,
	}
}

// HTTPReranker asks an external yes/no cross-encoder service to score
// each (query, document) pair and reads back the relevance softmax.
type HTTPReranker struct {
	client  *http.Client
	cfg     HTTPRerankerConfig
	breaker *kerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker builds an HTTPReranker. It does not probe the
// endpoint; callers check Available before depending on it.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg = DefaultHTTPRerankerConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 10, IdleConnTimeout: 30 * time.Second},
		},
		cfg:     cfg,
		breaker: kerrors.NewCircuitBreaker("reranker"),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(documents) == 0 {
		return nil, nil
	}

	// Fail fast while the endpoint is known-down; the caller falls back
	// to cosine similarity.
	if !r.breaker.Allow() {
		return nil, kerrors.ErrCircuitOpen
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, Model: r.cfg.Model, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordFailure()
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.breaker.RecordFailure()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(b))
	}
	r.breaker.RecordSuccess()

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	results := make([]RerankResult, len(decoded.Results))
	for i, res := range decoded.Results {
		doc := ""
		if res.Index >= 0 && res.Index < len(documents) {
			doc = documents[res.Index]
		}
		results[i] = RerankResult{Index: res.Index, Score: res.Score, Document: doc}
	}
	return results, nil
}

func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	if !r.breaker.Allow() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if t, ok := r.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// CacheSize bounds the content cache's entry count; eviction clears
// roughly EvictFraction of entries (oldest-inserted first) on overflow.
const (
	CacheSize     = 1000
	EvictFraction = 0.2
)

const (
	cacheHeadChars = 500
	cacheTailChars = 200
)

type cacheEntry struct {
	score     float64
	insertSeq int64
}

// CachingReranker wraps a Reranker with a content-addressed score cache
// and a fallback to embedding cosine similarity when the underlying
// reranker is unavailable.
type CachingReranker struct {
	inner    Reranker
	embedder embed.Embedder
	log      *slog.Logger

	mu      sync.Mutex
	cache   map[uint64]cacheEntry
	seq     int64
}

// NewCachingReranker wraps inner. embedder powers the fallback path and
// may be nil only if the caller guarantees inner never becomes
// unavailable (tests).
func NewCachingReranker(inner Reranker, embedder embed.Embedder, log *slog.Logger) *CachingReranker {
	if log == nil {
		log = slog.Default()
	}
	return &CachingReranker{
		inner:    inner,
		embedder: embedder,
		log:      log,
		cache:    make(map[uint64]cacheEntry),
	}
}

func cacheKey(query, doc string) uint64 {
	head := doc
	if len([]rune(head)) > cacheHeadChars {
		head = string([]rune(head)[:cacheHeadChars])
	}
	tail := doc
	if len([]rune(tail)) > cacheTailChars {
		tail = string([]rune(tail)[len([]rune(tail))-cacheTailChars:])
	}
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(head))
	h.Write([]byte{0})
	h.Write([]byte(tail))
	return h.Sum64()
}

// Rerank scores every document, preferring cached scores, falling back
// to embedding cosine similarity when the underlying reranker is
// unavailable or errors.
func (c *CachingReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	if !c.inner.Available(ctx) {
		return c.fallback(ctx, query, documents, topK)
	}

	c.mu.Lock()
	keys := make([]uint64, len(documents))
	uncached := make([]string, 0, len(documents))
	uncachedIdx := make([]int, 0, len(documents))
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		k := cacheKey(query, doc)
		keys[i] = k
		if e, ok := c.cache[k]; ok {
			results[i] = RerankResult{Index: i, Score: e.score, Document: doc}
			continue
		}
		uncached = append(uncached, doc)
		uncachedIdx = append(uncachedIdx, i)
	}
	c.mu.Unlock()

	if len(uncached) > 0 {
		scored, err := c.inner.Rerank(ctx, query, uncached, 0)
		if err != nil {
			c.log.Warn("reranker unavailable, falling back to cosine similarity", "error", err)
			return c.fallback(ctx, query, documents, topK)
		}

		c.mu.Lock()
		for _, r := range scored {
			origIdx := uncachedIdx[r.Index]
			results[origIdx] = RerankResult{Index: origIdx, Score: r.Score, Document: documents[origIdx]}
			c.store(keys[origIdx], r.Score)
		}
		c.mu.Unlock()
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// store inserts a score into the cache, evicting the oldest
// EvictFraction of entries first if the cache is at capacity.
func (c *CachingReranker) store(key uint64, score float64) {
	if len(c.cache) >= CacheSize {
		c.evictOldest()
	}
	c.seq++
	c.cache[key] = cacheEntry{score: score, insertSeq: c.seq}
}

func (c *CachingReranker) evictOldest() {
	toEvict := int(float64(len(c.cache)) * EvictFraction)
	if toEvict < 1 {
		toEvict = 1
	}
	type kv struct {
		key uint64
		seq int64
	}
	ordered := make([]kv, 0, len(c.cache))
	for k, e := range c.cache {
		ordered = append(ordered, kv{k, e.insertSeq})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	for i := 0; i < toEvict && i < len(ordered); i++ {
		delete(c.cache, ordered[i].key)
	}
}

// fallback scores documents by embedding cosine similarity to the
// query, since the cross-encoder is unavailable.
func (c *CachingReranker) fallback(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("reranker unavailable and no fallback embedder configured")
	}
	queryVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fallback embed query: %w", err)
	}
	docVecs, err := c.embedder.EmbedBatch(ctx, documents)
	if err != nil {
		return nil, fmt.Errorf("fallback embed documents: %w", err)
	}

	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: cosineToUnit(queryVec, docVecs[i]), Document: doc}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (c *CachingReranker) Available(ctx context.Context) bool {
	return c.inner.Available(ctx) || c.embedder != nil
}

func (c *CachingReranker) Close() error {
	return c.inner.Close()
}

var _ Reranker = (*CachingReranker)(nil)

// cosineToUnit computes cosine similarity and maps it from [-1, 1] into
// [0, 1] so the fallback path produces scores on the same scale the
// cross-encoder does.
func cosineToUnit(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}

// ApplyRerank fuses RRF-ordered results with cross-encoder scores per
// the final formula (0.1*rrf + 0.9*rerank) and reorders by it. scores
// is aligned by index to results (as returned by a Reranker.Rerank call
// made over the same document slice order, then mapped back by Index).
func ApplyRerank(results []*SearchResult, scores []RerankResult) []*SearchResult {
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(results) {
			continue
		}
		results[s.Index].RerankScore = s.Score
		results[s.Index].Reranked = true
	}
	for _, r := range results {
		r.Score = r.FinalScore()
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

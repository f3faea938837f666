package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jmswen/knowledge/internal/embed"
	"github.com/jmswen/knowledge/internal/store"
)

// DefaultTopKRetrieval is top_k_retrieval: the per-source candidate
// pool before fusion.
const DefaultTopKRetrieval = 20

// Retriever is the hybrid retriever: it fuses dense and sparse
// search, then (optionally, via a Reranker held by the caller) refines
// the fused order.
type Retriever struct {
	meta     store.MetaStore
	dense    store.DenseIndex
	sparse   store.SparseIndex
	embedder embed.Embedder
	fusion   *RRFFusion
	weights  Weights
	topK     int
}

// Option configures a Retriever at construction.
type Option func(*Retriever)

// WithWeights overrides the default RRF per-source weights.
func WithWeights(w Weights) Option {
	return func(r *Retriever) { r.weights = w }
}

// WithTopKRetrieval overrides the per-source candidate pool size R.
func WithTopKRetrieval(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithRRFConstant overrides the RRF rank-offset constant.
func WithRRFConstant(k int) Option {
	return func(r *Retriever) { r.fusion = NewRRFFusionWithK(k) }
}

// New builds a Retriever over the given dense/sparse indexes and
// embedder, with package defaults unless overridden by opts. meta backfills
// content and metadata for hits the sparse index alone returned (it
// carries only id and score).
func New(meta store.MetaStore, dense store.DenseIndex, sparse store.SparseIndex, embedder embed.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		meta:     meta,
		dense:    dense,
		sparse:   sparse,
		embedder: embedder,
		fusion:   NewRRFFusion(),
		weights:  DefaultWeights(),
		topK:     DefaultTopKRetrieval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search runs the full hybrid path: embed the query, search both
// sources, fuse by RRF, materialize content/metadata, apply doc_filter
// post hoc, build highlighted previews, and return the top k by fused
// score.
func (r *Retriever) Search(ctx context.Context, query string, k int, docFilter *int64) ([]*SearchResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filters []store.Filter
	if docFilter != nil {
		filters = append(filters, store.DocFilter(*docFilter))
	}

	// Both sources are independent reads; fan out concurrently.
	var (
		denseResults  []store.DenseResult
		sparseResults []store.SparseResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseResults, err = r.dense.Query(gctx, vector, r.topK, filters)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sparseResults, err = r.sparse.Search(gctx, query, r.topK)
		if err != nil {
			return fmt.Errorf("sparse search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := r.fusion.Fuse(sparseResults, denseResults, r.weights)

	out := make([]*SearchResult, 0, len(fused))
	for _, res := range fused {
		if res.Content == "" {
			r.backfillFromMeta(ctx, res)
		}
		populateIdentity(res)
		if docFilter != nil && res.DocumentID != *docFilter {
			// The sparse source doesn't support filtering;
			// drop any id that leaked through from it alone.
			continue
		}
		res.Preview = BuildPreview(res.Content, query)
		out = append(out, res)
	}

	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// QuickSearch is quick_search: dense-only, similarity = 1 - distance.
func (r *Retriever) QuickSearch(ctx context.Context, query string, k int) ([]*SearchResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	denseResults, err := r.dense.Query(ctx, vector, k, nil)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}

	out := make([]*SearchResult, 0, len(denseResults))
	for _, d := range denseResults {
		res := &SearchResult{
			ExternalID:  d.ID,
			Content:     d.Content,
			Metadata:    d.Metadata,
			VecDistance: d.Distance,
			HasVec:      true,
		}
		populateIdentity(res)
		res.Score = 1 - float64(d.Distance)
		res.RRFScore = res.Score
		res.Preview = BuildPreview(res.Content, query)
		out = append(out, res)
	}
	return out, nil
}

// backfillFromMeta loads content and metadata for a sparse-only hit
// (SparseResult carries only id and score) from MetaStore via the chunk
// id encoded in the external id.
func (r *Retriever) backfillFromMeta(ctx context.Context, res *SearchResult) {
	if r.meta == nil {
		return
	}
	chunkID := chunkIDFromExternalID(res.ExternalID)
	if chunkID == 0 {
		return
	}
	c, err := r.meta.GetChunk(ctx, chunkID)
	if err != nil {
		return
	}
	res.Content = c.Content
	if res.Metadata == nil {
		res.Metadata = make(map[string]string)
	}
	res.Metadata["doc_id"] = strconv.FormatInt(c.DocumentID, 10)
	doc, err := r.meta.GetDocument(ctx, c.DocumentID)
	if err == nil {
		res.Metadata["filename"] = doc.Filename
	}
}

// populateIdentity derives ChunkID, DocumentID, and Filename from a
// fused result's external id and metadata.
func populateIdentity(res *SearchResult) {
	res.ChunkID = chunkIDFromExternalID(res.ExternalID)
	if res.Metadata == nil {
		return
	}
	if docIDStr, ok := res.Metadata["doc_id"]; ok {
		if id, err := strconv.ParseInt(docIDStr, 10, 64); err == nil {
			res.DocumentID = id
		}
	}
	res.Filename = res.Metadata["filename"]
}

func chunkIDFromExternalID(externalID string) int64 {
	const prefix = "chunk_"
	if !strings.HasPrefix(externalID, prefix) {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(externalID, prefix), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

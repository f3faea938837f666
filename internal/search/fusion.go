package search

import (
	"sort"

	"github.com/jmswen/knowledge/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60,
// empirically validated across domains).
const DefaultRRFConstant = 60

// RRFFusion combines BM25 and vector search results using Reciprocal
// Rank Fusion:
//
//	RRF_score(id) = Σ_s weight_s / (k + rank_s(id))
//
// An id missing from a source contributes zero from that source - there
// is no missing-rank penalty, and the fused score is not renormalized,
// weighted by source.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with a custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines BM25 and vector results by external id. Content and
// metadata are materialized from the vector result when present (it
// carries both); a sparse-only hit leaves them for the caller to fill
// from MetaStore.
func (f *RRFFusion) Fuse(bm25 []store.SparseResult, vec []store.DenseResult, weights Weights) []*SearchResult {
	byID := make(map[string]*SearchResult, len(bm25)+len(vec))

	for i, r := range bm25 {
		rank := i + 1
		res := f.getOrCreate(byID, r.ID)
		res.BM25Rank = rank
		res.RRFScore += weights.Sparse / float64(f.K+rank)
	}

	for i, r := range vec {
		rank := i + 1
		res := f.getOrCreate(byID, r.ID)
		res.VecRank = rank
		res.VecDistance = r.Distance
		res.HasVec = true
		res.Content = r.Content
		res.Metadata = r.Metadata
		res.RRFScore += weights.Dense / float64(f.K+rank)
		if res.BM25Rank > 0 {
			res.InBothLists = true
		}
	}

	results := make([]*SearchResult, 0, len(byID))
	for _, r := range byID {
		r.Score = r.RRFScore
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return compare(results[i], results[j]) })
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*SearchResult, id string) *SearchResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &SearchResult{ExternalID: id}
	m[id] = r
	return r
}

// compare orders fused results deterministically: higher RRF score
// first, ties broken by appearing in both lists, then by external id so
// iteration over the scoring map never produces flaky ordering.
func compare(a, b *SearchResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	return a.ExternalID < b.ExternalID
}

// Package store provides the three persistence backends the indexing
// pipeline keeps mutually consistent: a relational MetaStore for
// Documents and Chunks, an HNSW-backed DenseIndex for embedding
// similarity search, and a BM25-Okapi SparseIndex for keyword search.
package store

import (
	"context"
	"fmt"

	"github.com/jmswen/knowledge/internal/model"
)

// FilterOp is the comparison a metadata predicate applies.
type FilterOp string

const (
	FilterEq FilterOp = "eq"
	FilterNe FilterOp = "ne"
)

// Filter is an equality (or negated-equality) predicate over a chunk's
// metadata, as required by DenseIndex.Query and DenseIndex.DeleteWhere.
type Filter struct {
	Key   string
	Op    FilterOp
	Value string
}

// DocFilter builds the common "restrict to one document" filter.
func DocFilter(docID int64) Filter {
	return Filter{Key: "doc_id", Op: FilterEq, Value: fmt.Sprintf("%d", docID)}
}

// ExcludeDocFilter builds the "exclude one document" filter quick_search
// uses for self-exclusion.
func ExcludeDocFilter(docID int64) Filter {
	return Filter{Key: "doc_id", Op: FilterNe, Value: fmt.Sprintf("%d", docID)}
}

// Matches reports whether metadata satisfies every filter (conjunction).
func Matches(metadata map[string]string, filters []Filter) bool {
	for _, f := range filters {
		v, ok := metadata[f.Key]
		switch f.Op {
		case FilterNe:
			if ok && v == f.Value {
				return false
			}
		default: // FilterEq
			if !ok || v != f.Value {
				return false
			}
		}
	}
	return true
}

// DenseEntry is one row of a DenseIndex, returned by GetByDoc for
// document-level embedding averaging.
type DenseEntry struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  map[string]string
}

// DenseResult is one hit from a DenseIndex query. Distance is
// metric-native (lower = more similar); callers compute similarity as
// 1-distance for cosine space.
type DenseResult struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float32
}

// DenseIndex stores (external_id, embedding, content, metadata) under
// cosine similarity.
type DenseIndex interface {
	// Add upserts on id collision.
	Add(ctx context.Context, ids []string, embeddings [][]float32, contents []string, metadatas []map[string]string) error
	// Query returns the k nearest neighbors to vector, restricted to rows
	// whose metadata satisfies every filter.
	Query(ctx context.Context, vector []float32, k int, filters []Filter) ([]DenseResult, error)
	Delete(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, filters []Filter) error
	// GetByDoc enumerates a document's chunks with their embeddings.
	GetByDoc(ctx context.Context, docID int64) ([]DenseEntry, error)
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// SparseEntry is one row added to a SparseIndex: a chunk id paired with
// raw content (tokenized internally) and metadata.
type SparseEntry struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SparseResult is a single BM25 hit.
type SparseResult struct {
	ID    string
	Score float64
}

// SparseIndex is a tokenized BM25-Okapi keyword index over the chunk
// corpus.
type SparseIndex interface {
	// Add appends entries, ignoring duplicates by external id, and
	// recomputes corpus statistics.
	Add(ctx context.Context, entries []SparseEntry) error
	// Remove deletes entries and recomputes statistics; an empty corpus
	// resets the scorer to a null state.
	Remove(ctx context.Context, ids []string) error
	// Clear empties the corpus entirely, resetting the scorer to a null
	// state. Used by rebuild_all before re-adding every chunk.
	Clear(ctx context.Context) error
	// Search tokenizes query with the same pipeline used at index time
	// and returns the top-k strictly-positive-score hits.
	Search(ctx context.Context, query string, k int) ([]SparseResult, error)
	Count() int
	// Persist and Load serialize/restore the corpus snapshot. A Load
	// failure must not be fatal to the caller.
	Persist(path string) error
	Load(path string) error
	Close() error
}

// MetaStore is the durable relational backing for Documents, Chunks, and
// processing status.
type MetaStore interface {
	// CreateDocument inserts a row with status=pending and returns its id.
	CreateDocument(ctx context.Context, doc *model.Document) (int64, error)
	GetDocument(ctx context.Context, id int64) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]*model.Document, error)
	// UpdateStatus is idempotent.
	UpdateStatus(ctx context.Context, docID int64, status model.Status, message string, progress float64) error
	// UpdateContent persists the parser's output (content, title, size,
	// metadata) for a document, ahead of chunking.
	UpdateContent(ctx context.Context, docID int64, content, title string, size int64, metadata map[string]string) error
	// ReplaceChunks atomically deletes a document's prior chunks and
	// inserts the new sequence, returning them with assigned ids. Used
	// when there is no prior chunk set worth diffing against (initial
	// processing, or a rebuild).
	ReplaceChunks(ctx context.Context, docID int64, chunks []*model.Chunk) ([]*model.Chunk, error)
	// InsertChunks appends new chunk rows to a document, returning them
	// with assigned ids. Used by the synchronizer's incremental "add" set.
	InsertChunks(ctx context.Context, docID int64, chunks []*model.Chunk) ([]*model.Chunk, error)
	// DeleteChunks removes specific chunk rows by id. Used by the
	// synchronizer's incremental "remove" set.
	DeleteChunks(ctx context.Context, chunkIDs []int64) error
	// UpdateChunkIndex rewrites a single chunk's position without
	// touching its id, content, or stored embeddings/index entries. Used
	// by the synchronizer's "keep" set when only position changed.
	UpdateChunkIndex(ctx context.Context, chunkID int64, newIndex int) error
	GetChunksByDocument(ctx context.Context, docID int64) ([]*model.Chunk, error)
	GetChunk(ctx context.Context, chunkID int64) (*model.Chunk, error)
	// DeleteDocument cascades to the document's chunks.
	DeleteDocument(ctx context.Context, docID int64) error
	CountDocuments(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
	Close() error
}

// ErrDimensionMismatch indicates a vector was presented with a dimension
// different from the index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'knowledge sync rebuild --force')", e.Expected, e.Got)
}

// Package index owns the invariants of the three-store data model: it
// keeps MetaStore, DenseIndex, and SparseIndex mutually consistent under
// document create/update/delete, and reports on their agreement.
package index

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/jmswen/knowledge/internal/chunk"
	"github.com/jmswen/knowledge/internal/embed"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/store"
)

// RebuildBatchSize is the batch width RebuildAll embeds in.
const RebuildBatchSize = 50

// Synchronizer owns the cross-store invariants
// of the data model and is the only component permitted to mutate more than one of
// MetaStore, DenseIndex, and SparseIndex for a given document.
type Synchronizer struct {
	meta       store.MetaStore
	dense      store.DenseIndex
	sparse     store.SparseIndex
	embedder   embed.Embedder
	chunker    *chunk.Chunker
	sparsePath string
}

// New constructs a Synchronizer. sparsePath is where the sparse index
// snapshot is persisted after any mutating sync.
func New(meta store.MetaStore, dense store.DenseIndex, sparse store.SparseIndex, embedder embed.Embedder, chunker *chunk.Chunker, sparsePath string) *Synchronizer {
	return &Synchronizer{
		meta:       meta,
		dense:      dense,
		sparse:     sparse,
		embedder:   embedder,
		chunker:    chunker,
		sparsePath: sparsePath,
	}
}

// contentHash is the fast, non-cryptographic digest used to
// diff old and new chunk sets.
func contentHash(content string) uint64 {
	return xxhash.Sum64String(content)
}

// SyncDocument gives doc's new parsed content, produces a chunk set, and
// minimally updates the three stores: unchanged spans (by content hash)
// keep their MetaStore row and index entries; only the add/remove deltas
// touch DenseIndex and SparseIndex. Empty content is equivalent to
// RemoveDocument.
func (s *Synchronizer) SyncDocument(ctx context.Context, doc *model.Document, content string) error {
	if content == "" {
		return s.RemoveDocument(ctx, doc.ID)
	}

	spans := s.chunker.Chunk(content)

	existing, err := s.meta.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load existing chunks: %w", err)
	}

	existingByHash := make(map[uint64]*model.Chunk, len(existing))
	for _, c := range existing {
		h := contentHash(c.Content)
		if _, dup := existingByHash[h]; !dup {
			existingByHash[h] = c
		}
	}

	type newSpan struct {
		index int
		span  chunk.Span
		hash  uint64
	}
	newByHash := make(map[uint64]newSpan, len(spans))
	for i, sp := range spans {
		h := contentHash(sp.Content)
		if _, dup := newByHash[h]; !dup {
			newByHash[h] = newSpan{index: i, span: sp, hash: h}
		}
	}

	// remove: hashes present in existing but not in the new content.
	var removeIDs []int64
	var removeExternalIDs []string
	for h, c := range existingByHash {
		if _, kept := newByHash[h]; !kept {
			removeIDs = append(removeIDs, c.ID)
			removeExternalIDs = append(removeExternalIDs, model.ExternalID(c.ID))
		}
	}

	// add: hashes present in the new content but not in the old.
	var addSpans []newSpan
	for h, ns := range newByHash {
		if _, existed := existingByHash[h]; !existed {
			addSpans = append(addSpans, ns)
		}
	}

	// keep: hashes present in both; update chunk_index if it moved.
	var keepUpdates []struct {
		chunkID  int64
		newIndex int
	}
	for h, ns := range newByHash {
		if c, existed := existingByHash[h]; existed {
			if c.ChunkIndex != ns.index {
				keepUpdates = append(keepUpdates, struct {
					chunkID  int64
					newIndex int
				}{c.ID, ns.index})
			}
		}
	}

	mutated := len(removeIDs) > 0 || len(addSpans) > 0

	if len(removeIDs) > 0 {
		if err := s.meta.DeleteChunks(ctx, removeIDs); err != nil {
			return fmt.Errorf("delete removed chunks: %w", err)
		}
		if err := s.dense.Delete(ctx, removeExternalIDs); err != nil {
			return fmt.Errorf("delete removed chunks from dense index: %w", err)
		}
		if err := s.sparse.Remove(ctx, removeExternalIDs); err != nil {
			return fmt.Errorf("delete removed chunks from sparse index: %w", err)
		}
	}

	if len(addSpans) > 0 {
		if err := s.insertAndIndex(ctx, doc, addSpans); err != nil {
			return err
		}
	}

	for _, u := range keepUpdates {
		if err := s.meta.UpdateChunkIndex(ctx, u.chunkID, u.newIndex); err != nil {
			return fmt.Errorf("update chunk index for chunk %d: %w", u.chunkID, err)
		}
	}

	if mutated {
		if err := s.sparse.Persist(s.sparsePath); err != nil {
			return fmt.Errorf("persist sparse index: %w", err)
		}
	}
	return nil
}

// insertAndIndex inserts add-set spans into MetaStore, embeds them in a
// single batch, and upserts the result into DenseIndex and SparseIndex
// under the id convention "chunk_<chunk_id>".
func (s *Synchronizer) insertAndIndex(ctx context.Context, doc *model.Document, adds []struct {
	index int
	span  chunk.Span
	hash  uint64
}) error {
	newChunks := make([]*model.Chunk, len(adds))
	for i, a := range adds {
		newChunks[i] = &model.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: a.index,
			Content:    a.span.Content,
			StartChar:  a.span.StartChar,
			EndChar:    a.span.EndChar,
		}
	}

	inserted, err := s.meta.InsertChunks(ctx, doc.ID, newChunks)
	if err != nil {
		return fmt.Errorf("insert new chunks: %w", err)
	}

	contents := make([]string, len(inserted))
	for i, c := range inserted {
		contents[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return fmt.Errorf("embed new chunks: %w", err)
	}

	ids := make([]string, len(inserted))
	metas := make([]map[string]string, len(inserted))
	sparseEntries := make([]store.SparseEntry, len(inserted))
	for i, c := range inserted {
		extID := model.ExternalID(c.ID)
		ids[i] = extID
		metas[i] = map[string]string{
			"doc_id":      fmt.Sprintf("%d", doc.ID),
			"chunk_index": fmt.Sprintf("%d", c.ChunkIndex),
			"filename":    doc.Filename,
		}
		sparseEntries[i] = store.SparseEntry{ID: extID, Content: c.Content, Metadata: metas[i]}
	}

	if err := s.dense.Add(ctx, ids, vectors, contents, metas); err != nil {
		return fmt.Errorf("add new chunks to dense index: %w", err)
	}
	if err := s.sparse.Add(ctx, sparseEntries); err != nil {
		return fmt.Errorf("add new chunks to sparse index: %w", err)
	}
	return nil
}

// RemoveDocument deletes a document's chunks from all three stores and
// persists the sparse index; reads after the call never see them.
func (s *Synchronizer) RemoveDocument(ctx context.Context, docID int64) error {
	existing, err := s.meta.GetChunksByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load chunks for removal: %w", err)
	}
	if err := s.meta.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}

	externalIDs := make([]string, len(existing))
	for i, c := range existing {
		externalIDs[i] = model.ExternalID(c.ID)
	}
	if err := s.dense.Delete(ctx, externalIDs); err != nil {
		return fmt.Errorf("delete chunks from dense index: %w", err)
	}
	if err := s.sparse.Remove(ctx, externalIDs); err != nil {
		return fmt.Errorf("delete chunks from sparse index: %w", err)
	}
	if err := s.sparse.Persist(s.sparsePath); err != nil {
		return fmt.Errorf("persist sparse index: %w", err)
	}
	return nil
}

// RebuildAll clears and rebuilds SparseIndex and re-embeds every chunk in
// batches, upserting into DenseIndex. This is an explicit operator
// action, not an automatic recovery path; callers are expected to hold
// an exclusive lock for its duration, so ingest traffic is delayed or
// rejected while it runs.
func (s *Synchronizer) RebuildAll(ctx context.Context) error {
	docs, err := s.meta.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if err := s.sparse.Clear(ctx); err != nil {
		return fmt.Errorf("reset sparse index: %w", err)
	}

	for _, doc := range docs {
		if doc.Status != model.StatusCompleted {
			continue
		}
		chunks, err := s.meta.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("load chunks for document %d: %w", doc.ID, err)
		}
		if err := s.rebuildDocument(ctx, doc, chunks); err != nil {
			return fmt.Errorf("rebuild document %d: %w", doc.ID, err)
		}
	}

	return s.sparse.Persist(s.sparsePath)
}

func (s *Synchronizer) rebuildDocument(ctx context.Context, doc *model.Document, chunks []*model.Chunk) error {
	for start := 0; start < len(chunks); start += RebuildBatchSize {
		end := start + RebuildBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		contents := make([]string, len(batch))
		for i, c := range batch {
			contents[i] = c.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}

		ids := make([]string, len(batch))
		metas := make([]map[string]string, len(batch))
		entries := make([]store.SparseEntry, len(batch))
		for i, c := range batch {
			extID := model.ExternalID(c.ID)
			ids[i] = extID
			metas[i] = map[string]string{
				"doc_id":      fmt.Sprintf("%d", doc.ID),
				"chunk_index": fmt.Sprintf("%d", c.ChunkIndex),
				"filename":    doc.Filename,
			}
			entries[i] = store.SparseEntry{ID: extID, Content: c.Content, Metadata: metas[i]}
		}

		if err := s.dense.Add(ctx, ids, vectors, contents, metas); err != nil {
			return fmt.Errorf("upsert dense batch: %w", err)
		}
		if err := s.sparse.Add(ctx, entries); err != nil {
			return fmt.Errorf("add sparse batch: %w", err)
		}
	}
	return nil
}

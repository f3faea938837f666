package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOkapiBM25Index_SearchRanksExactMatchHighest(t *testing.T) {
	ctx := context.Background()
	idx := NewOkapiBM25Index(DefaultBM25Config())

	require.NoError(t, idx.Add(ctx, []SparseEntry{
		{ID: "chunk_1", Content: "the quick brown fox jumps over the lazy dog"},
		{ID: "chunk_2", Content: "brown brown brown brown is a color"},
		{ID: "chunk_3", Content: "completely unrelated text about cooking"},
	}))

	results, err := idx.Search(ctx, "quick brown fox", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "chunk_1", results[0].ID)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestOkapiBM25Index_RemoveResetsToNullState(t *testing.T) {
	ctx := context.Background()
	idx := NewOkapiBM25Index(DefaultBM25Config())

	require.NoError(t, idx.Add(ctx, []SparseEntry{{ID: "chunk_1", Content: "hello world"}}))
	require.NoError(t, idx.Remove(ctx, []string{"chunk_1"}))

	results, err := idx.Search(ctx, "hello", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, idx.Count())
}

func TestOkapiBM25Index_AddIgnoresDuplicateID(t *testing.T) {
	ctx := context.Background()
	idx := NewOkapiBM25Index(DefaultBM25Config())

	require.NoError(t, idx.Add(ctx, []SparseEntry{{ID: "chunk_1", Content: "alpha beta"}}))
	require.NoError(t, idx.Add(ctx, []SparseEntry{{ID: "chunk_1", Content: "gamma delta"}}))

	assert.Equal(t, 1, idx.Count())
	results, err := idx.Search(ctx, "gamma", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "second insert under the same id must be ignored")
}

func TestOkapiBM25Index_PersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := NewOkapiBM25Index(DefaultBM25Config())
	require.NoError(t, idx.Add(ctx, []SparseEntry{
		{ID: "chunk_1", Content: "the quick brown fox"},
		{ID: "chunk_2", Content: "a slow brown turtle"},
	}))

	path := filepath.Join(t.TempDir(), "bm25.snapshot")
	require.NoError(t, idx.Persist(path))

	before, err := idx.Search(ctx, "brown fox", 10)
	require.NoError(t, err)

	reloaded := NewOkapiBM25Index(DefaultBM25Config())
	require.NoError(t, reloaded.Load(path))

	after, err := reloaded.Search(ctx, "brown fox", 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOkapiBM25Index_LoadMissingFileIsNotFatal(t *testing.T) {
	idx := NewOkapiBM25Index(DefaultBM25Config())
	err := idx.Load(filepath.Join(t.TempDir(), "missing.snapshot"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestOkapiBM25Index_LoadCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bm25.snapshot")
	require.NoError(t, writeGarbageFile(path))

	idx := NewOkapiBM25Index(DefaultBM25Config())
	err := idx.Load(path)
	require.NoError(t, err, "load failure must not be fatal")
	assert.Equal(t, 0, idx.Count())
}

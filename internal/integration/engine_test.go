// Package integration exercises the whole engine end to end: ingest a
// directory through the runner, query through the retriever, mutate,
// and verify the three stores stay in agreement.
package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/index"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/store"
	"github.com/jmswen/knowledge/internal/ui"
)

// openTestEngine builds an offline engine rooted at a temp dir.
func openTestEngine(t *testing.T, root string) *engine.Engine {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Reranker.Enabled = false
	cfg.Generator.TitleModel = ""

	eng, err := engine.Open(context.Background(), root, cfg, engine.Options{Offline: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// ingestDir drives the runner over the engine's root.
func ingestDir(t *testing.T, eng *engine.Engine) *index.RunnerResult {
	t.Helper()
	renderer := ui.NewPlainRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true)))
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   eng.Config,
		Meta:     eng.Meta,
		Dense:    eng.Dense,
		Sparse:   eng.Sparse,
		Embedder: eng.Embedder,
		Parser:   parse.NewTextParser(),
		Workers:  2,
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), index.RunnerConfig{
		RootDir: eng.Root,
		DataDir: filepath.Join(eng.Root, ".knowledge"),
	})
	require.NoError(t, err)
	return result
}

func writeDoc(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func TestIngest_MarkdownSections_ReachesCompleted(t *testing.T) {
	root := t.TempDir()

	// Three H2 sections of roughly 1,000 chars each.
	var sb strings.Builder
	sb.WriteString("# Field Notes\n\n")
	for _, section := range []string{"Weather Patterns", "Soil Chemistry", "Seed Selection"} {
		sb.WriteString("## " + section + "\n\n")
		sb.WriteString(strings.Repeat("Observations from the field about "+strings.ToLower(section)+". ", 20))
		sb.WriteString("\n\n")
	}
	writeDoc(t, root, "notes.md", sb.String())

	eng := openTestEngine(t, root)
	result := ingestDir(t, eng)

	assert.Equal(t, 1, result.Documents)
	assert.GreaterOrEqual(t, result.Chunks, 3)
	assert.Zero(t, result.Failed)

	ctx := context.Background()
	docs, err := eng.Meta.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusCompleted, docs[0].Status)
	assert.Equal(t, 1.0, docs[0].Progress)

	// Chunk indexes are contiguous from 0.
	chunks, err := eng.Meta.GetChunksByDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, c := range chunks {
		seen[c.ChunkIndex] = true
	}
	for i := 0; i < len(chunks); i++ {
		assert.True(t, seen[i], "missing chunk_index %d", i)
	}
}

func TestHybridRetrieval_ExactPhraseDocRanksFirst(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "a.md", "# A\n\nthe quick brown fox jumps over the lazy dog\n")
	var b strings.Builder
	b.WriteString("# B\n\n")
	for i := 0; i < 12; i++ {
		b.WriteString("brown paint on a brown fence near the brown barn.\n\n")
	}
	writeDoc(t, root, "b.md", b.String())

	eng := openTestEngine(t, root)
	ingestDir(t, eng)

	results, err := eng.Search(context.Background(), "quick brown fox", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.md", results[0].Filename,
		"the document containing the full phrase should rank first")
}

func TestIncrementalUpdate_KeepsUnchangedChunkIDs(t *testing.T) {
	root := t.TempDir()
	eng := openTestEngine(t, root)
	ctx := context.Background()

	doc := &model.Document{Filename: "doc.md", FileType: "md", Path: filepath.Join(root, "doc.md")}
	id, err := eng.Meta.CreateDocument(ctx, doc)
	require.NoError(t, err)
	doc.ID = id

	mkSection := func(name string) string {
		return "## " + name + "\n\n" + strings.Repeat("Text about "+name+". ", 40) + "\n\n"
	}

	v1 := mkSection("alpha") + mkSection("beta") + mkSection("gamma")
	require.NoError(t, eng.Synchronizer.SyncDocument(ctx, doc, v1))

	before, err := eng.Meta.GetChunksByDocument(ctx, id)
	require.NoError(t, err)
	beforeByHash := map[string]int64{}
	for _, c := range before {
		beforeByHash[c.Content] = c.ID
	}

	// Keep alpha and beta, replace gamma with two new sections.
	v2 := mkSection("alpha") + mkSection("beta") + mkSection("delta") + mkSection("epsilon")
	require.NoError(t, eng.Synchronizer.SyncDocument(ctx, doc, v2))

	after, err := eng.Meta.GetChunksByDocument(ctx, id)
	require.NoError(t, err)

	var kept, fresh int
	for _, c := range after {
		if oldID, ok := beforeByHash[c.Content]; ok {
			assert.Equal(t, oldID, c.ID, "unchanged chunk must keep its id")
			kept++
		} else {
			fresh++
		}
	}
	assert.GreaterOrEqual(t, kept, 2)
	assert.GreaterOrEqual(t, fresh, 1)

	// Removed content is gone from both derived indexes.
	for content, oldID := range beforeByHash {
		stillPresent := false
		for _, c := range after {
			if c.Content == content {
				stillPresent = true
			}
		}
		if stillPresent {
			continue
		}
		ext := model.ExternalID(oldID)
		entries, err := eng.Dense.GetByDoc(ctx, id)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotEqual(t, ext, e.ID, "stale id in dense index")
		}
	}

	report, err := eng.Synchronizer.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, index.StatusHealthy, report.Status)
}

func TestDeleteCascade_NoStoreReturnsChunks(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "keep.md", "# Keep\n\nthe aurora borealis shimmered over the fjord\n")
	writeDoc(t, root, "drop.md", "# Drop\n\nzeppelin maintenance schedules for airship crews\n")

	eng := openTestEngine(t, root)
	ingestDir(t, eng)
	ctx := context.Background()

	docs, err := eng.Meta.ListDocuments(ctx)
	require.NoError(t, err)
	var dropID int64
	for _, d := range docs {
		if d.Filename == "drop.md" {
			dropID = d.ID
		}
	}
	require.NotZero(t, dropID)

	chunks, err := eng.Meta.GetChunksByDocument(ctx, dropID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	require.NoError(t, eng.Synchronizer.RemoveDocument(ctx, dropID))

	// No store returns the deleted document's chunks.
	results, err := eng.Search(ctx, "zeppelin maintenance airship", 20, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, dropID, r.DocumentID)
	}

	entries, err := eng.Dense.GetByDoc(ctx, dropID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	report, err := eng.Synchronizer.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, index.StatusHealthy, report.Status)
}

func TestSparsePersistence_RoundTripReproducesResults(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "notes.md", "# Notes\n\nhybrid retrieval fuses keyword and vector scores\n")

	eng := openTestEngine(t, root)
	ingestDir(t, eng)
	ctx := context.Background()

	before, err := eng.Sparse.Search(ctx, "hybrid retrieval scores", 10)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	snapshot := filepath.Join(t.TempDir(), "bm25.bin")
	require.NoError(t, eng.Sparse.Persist(snapshot))

	reloaded := store.NewOkapiBM25Index(store.DefaultBM25Config())
	require.NoError(t, reloaded.Load(snapshot))

	after, err := reloaded.Search(ctx, "hybrid retrieval scores", 10)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
}

func TestReingest_IsIncrementalAndIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc.md", "# Doc\n\nsome stable content that does not change\n")

	eng := openTestEngine(t, root)
	ingestDir(t, eng)
	ctx := context.Background()

	chunksBefore, err := eng.Meta.CountChunks(ctx)
	require.NoError(t, err)

	// Second run over unchanged content must not grow any store.
	ingestDir(t, eng)

	chunksAfter, err := eng.Meta.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunksBefore, chunksAfter)
	assert.Equal(t, chunksAfter, eng.Dense.Count())
	assert.Equal(t, chunksAfter, eng.Sparse.Count())
}

// Package engine assembles the process-wide services the retrieval and
// ingestion paths share: the three stores, the embedder, the generator,
// the reranker, and the components built on top of them. Construct one
// Engine at startup and pass it by reference; there is no global state.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/jmswen/knowledge/internal/answer"
	"github.com/jmswen/knowledge/internal/chunk"
	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/contextbuild"
	"github.com/jmswen/knowledge/internal/embed"
	"github.com/jmswen/knowledge/internal/generate"
	"github.com/jmswen/knowledge/internal/index"
	"github.com/jmswen/knowledge/internal/search"
	"github.com/jmswen/knowledge/internal/store"
)

// Engine bundles the shared services of one knowledge corpus.
type Engine struct {
	Root   string
	Config *config.Config

	Meta     store.MetaStore
	Dense    store.DenseIndex
	Sparse   store.SparseIndex
	Embedder embed.Embedder

	Retriever    *search.Retriever
	Reranker     search.Reranker
	Synchronizer *index.Synchronizer
	Builder      *contextbuild.Builder
	Generator    generate.Generator
	Answer       *answer.Loop

	Conversations *store.SQLiteConversationStore

	lock *flock.Flock
	log  *slog.Logger
}

// Options tweaks engine construction.
type Options struct {
	// Offline forces the static embedder (no model server needed).
	Offline bool
	// ReadOnly skips the exclusive data-directory lock, for commands
	// that only read (search, status).
	ReadOnly bool
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// DataDir resolves the configured data directory against root.
func DataDir(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Paths.DataDir) {
		return cfg.Paths.DataDir
	}
	return filepath.Join(root, cfg.Paths.DataDir)
}

// UploadsDir resolves the configured uploads directory against root.
func UploadsDir(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Paths.UploadsDir) {
		return cfg.Paths.UploadsDir
	}
	return filepath.Join(root, cfg.Paths.UploadsDir)
}

// Open constructs an Engine over the corpus rooted at root. Existing
// index snapshots are loaded; a corrupt or missing sparse snapshot is
// not fatal (the engine starts empty and logs).
func Open(ctx context.Context, root string, cfg *config.Config, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine")

	dataDir := DataDir(root, cfg)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	e := &Engine{Root: root, Config: cfg, log: log}

	// Writers hold an exclusive lock on the data directory so that two
	// processes never race the sparse snapshot or database.
	if !opts.ReadOnly {
		e.lock = flock.New(filepath.Join(dataDir, ".lock"))
		locked, err := e.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock data directory: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("data directory %s is locked by another process", dataDir)
		}
	}

	meta, err := store.NewSQLiteMetaStore(filepath.Join(dataDir, "knowledge.db"))
	if err != nil {
		e.unlock()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	e.Meta = meta

	provider := embed.ProviderType(cfg.Embeddings.Provider)
	if opts.Offline {
		provider = embed.ProviderStatic
	}
	if cfg.Embeddings.MLXEndpoint != "" || cfg.Embeddings.MLXModel != "" {
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})
	}
	thermal := embed.ThermalConfig{
		TimeoutProgression:     cfg.Embeddings.TimeoutProgression,
		RetryTimeoutMultiplier: cfg.Embeddings.RetryTimeoutMultiplier,
	}
	if d, err := time.ParseDuration(cfg.Embeddings.InterBatchDelay); err == nil && d > 0 {
		thermal.InterBatchDelay = d
	}
	embed.SetThermalConfig(thermal)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	e.Embedder = embedder

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embedder.Dimensions()
	}
	dense, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create dense index: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := dense.Load(vectorPath); err != nil {
			log.Warn("failed to load dense index snapshot; starting empty",
				slog.String("path", vectorPath), slog.String("error", err.Error()))
		}
	}
	e.Dense = dense

	sparse := store.NewOkapiBM25Index(store.DefaultBM25Config())
	sparsePath := filepath.Join(dataDir, "bm25_index.bin")
	if _, statErr := os.Stat(sparsePath); statErr == nil {
		if err := sparse.Load(sparsePath); err != nil {
			log.Warn("failed to load sparse index snapshot; starting empty",
				slog.String("path", sparsePath), slog.String("error", err.Error()))
		}
	}
	e.Sparse = sparse

	chunker := chunk.New(chunk.Options{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	e.Synchronizer = index.New(meta, dense, sparse, embedder, chunker, sparsePath)

	e.Retriever = search.New(meta, dense, sparse, embedder,
		search.WithWeights(search.Weights{Sparse: cfg.Search.BM25Weight, Dense: cfg.Search.VectorWeight}),
		search.WithTopKRetrieval(cfg.Search.TopKRetrieval),
		search.WithRRFConstant(cfg.Search.RRFConstant),
	)

	if cfg.Reranker.Enabled {
		timeout, err := time.ParseDuration(cfg.Reranker.Timeout)
		if err != nil || timeout <= 0 {
			timeout = 30 * time.Second
		}
		inner := search.NewHTTPReranker(search.HTTPRerankerConfig{
			Endpoint: cfg.Reranker.Endpoint,
			Model:    cfg.Reranker.Model,
			Timeout:  timeout,
		})
		e.Reranker = search.NewCachingReranker(inner, embedder, log)
	}

	genCfg := generate.DefaultOllamaConfig()
	if cfg.Generator.OllamaHost != "" {
		genCfg.Host = cfg.Generator.OllamaHost
	}
	if cfg.Generator.Model != "" {
		genCfg.Model = cfg.Generator.Model
	}
	e.Generator = generate.NewOllamaGenerator(genCfg)

	conv, err := store.NewSQLiteConversationStore(filepath.Join(dataDir, "knowledge.db"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	e.Conversations = conv

	e.Answer = answer.New(e.Generator, conversationSaver{conv})
	if cfg.Generator.Temperature > 0 {
		e.Answer.Temperature = cfg.Generator.Temperature
	}
	if cfg.Generator.MaxTokens > 0 {
		e.Answer.MaxTokens = cfg.Generator.MaxTokens
	}

	e.Builder = contextbuild.New(contextbuild.Options{
		MaxChunks:        cfg.Context.MaxChunks,
		MaxChars:         cfg.Context.MaxChars,
		MinScore:         cfg.Context.MinScore,
		ScoreDrop:        cfg.Context.ScoreDrop,
		MaxPerDoc:        cfg.Context.MaxPerDoc,
		JaccardRedundant: cfg.Context.JaccardRedundancy,
	})

	return e, nil
}

// MetaDB exposes the underlying metadata database handle when the
// MetaStore is SQLite-backed (telemetry shares it); nil otherwise.
func (e *Engine) MetaDB() *sql.DB {
	if s, ok := e.Meta.(*store.SQLiteMetaStore); ok {
		return s.DB()
	}
	return nil
}

// conversationSaver adapts the SQLite conversation store to the answer
// loop's persistence contract.
type conversationSaver struct {
	s *store.SQLiteConversationStore
}

func (c conversationSaver) SaveMessage(ctx context.Context, conversationID string, role generate.Role, content string) error {
	return c.s.Save(ctx, conversationID, string(role), content)
}

// Search runs the hybrid retrieval path: fuse, then rerank the head of
// the fused list when a reranker is configured. k bounds the returned
// results; zero uses the configured default.
func (e *Engine) Search(ctx context.Context, query string, k int, docFilter *int64) ([]*search.SearchResult, error) {
	if k <= 0 {
		k = e.Config.Search.MaxResults
	}

	// Pull the full fused pool so reranking sees every candidate the
	// fusion produced, then cut to k after reordering.
	results, err := e.Retriever.Search(ctx, query, 0, docFilter)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	if e.Reranker != nil {
		head := len(results)
		if max := e.Config.Search.TopKRerank; max > 0 && max < head {
			head = max
		}
		docs := make([]string, head)
		for i := 0; i < head; i++ {
			docs[i] = results[i].Content
		}
		scores, err := e.Reranker.Rerank(ctx, query, docs, head)
		if err != nil {
			e.log.Warn("rerank failed; serving fused order",
				slog.String("error", err.Error()))
		} else {
			results = search.ApplyRerank(results, scores)
		}
	}

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// QuickSearch is the lower-latency dense-only surface; it deliberately
// skips reranking and diversity.
func (e *Engine) QuickSearch(ctx context.Context, query string, k int) ([]*search.SearchResult, error) {
	if k <= 0 {
		k = e.Config.Search.MaxResults
	}
	return e.Retriever.QuickSearch(ctx, query, k)
}

// Ask runs one retrieval-augmented generation turn: search, pack a
// diverse context, stream the generator's answer through onToken, and
// return the final event. An empty conversationID starts a fresh
// conversation; the id actually used is returned alongside.
func (e *Engine) Ask(ctx context.Context, conversationID, question string, onToken func(string)) (*answer.Final, string, error) {
	if conversationID == "" {
		conversationID = store.NewConversationID()
	}

	results, err := e.Search(ctx, question, e.Config.Context.MaxChunks*2, nil)
	if err != nil {
		return nil, conversationID, err
	}
	packed := e.Builder.Build(results)

	history, err := e.history(ctx, conversationID)
	if err != nil {
		e.log.Warn("failed to load conversation history",
			slog.String("conversation_id", conversationID), slog.String("error", err.Error()))
	}

	if saveErr := e.Conversations.Save(ctx, conversationID, string(generate.RoleUser), question); saveErr != nil {
		e.log.Warn("failed to persist user message", slog.String("error", saveErr.Error()))
	}

	final, err := e.Answer.Stream(ctx, conversationID, history, packed, question, onToken)
	return final, conversationID, err
}

// history loads up to the configured window of prior turns.
func (e *Engine) history(ctx context.Context, conversationID string) ([]answer.Turn, error) {
	limit := e.Config.Generator.MaxHistoryTurns
	if limit <= 0 {
		limit = answer.MaxHistoryTurns
	}
	msgs, err := e.Conversations.History(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]answer.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, answer.Turn{Role: generate.Role(m.Role), Content: m.Content})
	}
	return turns, nil
}

// Persist writes the dense and sparse snapshots to the data directory.
func (e *Engine) Persist() error {
	dataDir := DataDir(e.Root, e.Config)
	if err := e.Sparse.Persist(filepath.Join(dataDir, "bm25_index.bin")); err != nil {
		return fmt.Errorf("persist sparse index: %w", err)
	}
	if err := e.Dense.Save(filepath.Join(dataDir, "vectors.hnsw")); err != nil {
		return fmt.Errorf("persist dense index: %w", err)
	}
	return nil
}

// Close releases every resource the engine holds. Safe on a partially
// constructed engine.
func (e *Engine) Close() error {
	var firstErr error
	if e.Reranker != nil {
		if err := e.Reranker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.Sparse != nil {
		if err := e.Sparse.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.Dense != nil {
		if err := e.Dense.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.Meta != nil {
		if err := e.Meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.unlock()
	return firstErr
}

func (e *Engine) unlock() {
	if e.lock != nil {
		_ = e.lock.Unlock()
		e.lock = nil
	}
}

package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmswen/knowledge/internal/chunk"
	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/embed"
	"github.com/jmswen/knowledge/internal/generate"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/pipeline"
	"github.com/jmswen/knowledge/internal/scanner"
	"github.com/jmswen/knowledge/internal/store"
	"github.com/jmswen/knowledge/internal/ui"
)

// RunnerConfig configures one indexing run over a directory.
type RunnerConfig struct {
	// RootDir is the directory to ingest.
	RootDir string
	// DataDir is where the dense and sparse index snapshots are
	// persisted after the run (defaults to RootDir/.knowledge).
	DataDir string
}

// RunnerResult summarizes one Runner.Run invocation.
type RunnerResult struct {
	Files     int
	Documents int
	Chunks    int
	Duration  time.Duration
	Failed    int
	Skipped   int
}

// RunnerDependencies are the collaborators Runner needs injected, so the
// orchestration loop itself stays free of construction logic.
type RunnerDependencies struct {
	Renderer ui.Renderer
	Config   *config.Config
	Meta     store.MetaStore
	Dense    store.DenseIndex
	Sparse   store.SparseIndex
	Embedder embed.Embedder
	Parser   parse.Parser
	// Generator is optional; when set, parsed documents get an
	// LLM-proposed title in the pipeline's title stage.
	Generator generate.Generator
	// Workers bounds TaskQueue concurrency; zero uses the pipeline
	// package's default.
	Workers int
}

// Runner scans a directory, registers each supported file as a
// Document, and drains them through the background pipeline,
// reporting progress through the injected Renderer. It is the
// directory-wide counterpart to the per-document Pipeline: Pipeline
// processes one document, Runner is what "knowledge index <path>" drives
// to process all of them.
type Runner struct {
	renderer ui.Renderer
	cfg      *config.Config
	meta     store.MetaStore
	dense    store.DenseIndex
	sparse   store.SparseIndex
	embedder embed.Embedder
	parser   parse.Parser
	gen      generate.Generator
	workers  int
}

// NewRunner validates deps and constructs a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Meta == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Dense == nil {
		return nil, fmt.Errorf("dense index is required")
	}
	if deps.Sparse == nil {
		return nil, fmt.Errorf("sparse index is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	return &Runner{
		renderer: deps.Renderer,
		cfg:      deps.Config,
		meta:     deps.Meta,
		dense:    deps.Dense,
		sparse:   deps.Sparse,
		embedder: deps.Embedder,
		parser:   deps.Parser,
		gen:      deps.Generator,
		workers:  deps.Workers,
	}, nil
}

// Run scans cfg.RootDir, registers a Document per supported file, drains
// them through a Pipeline-backed TaskQueue, and persists the dense and
// sparse index snapshots to cfg.DataDir on completion.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(cfg.RootDir, ".knowledge")
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: fmt.Sprintf("Scanning %s...", cfg.RootDir)})
	files, err := r.scan(ctx, cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if len(files) == 0 {
		r.renderer.Complete(ui.CompletionStats{Duration: time.Since(start)})
		return &RunnerResult{Duration: time.Since(start)}, nil
	}

	existing, err := r.meta.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing documents: %w", err)
	}
	byPath := make(map[string]*model.Document, len(existing))
	for _, d := range existing {
		byPath[d.Path] = d
	}

	chunker := chunk.New(chunk.Options{})
	synchronizer := New(r.meta, r.dense, r.sparse, r.embedder, chunker, filepath.Join(dataDir, "sparse.idx"))

	log := slog.Default().With("component", "index_runner")
	proc := pipeline.New(r.meta, synchronizer, r.parser, r.gen, log)

	var processed, failed int64
	wrapped := func(ctx context.Context, task pipeline.Task) {
		proc.Process(ctx, task)
		doc, err := r.meta.GetDocument(ctx, task.DocID)
		if err == nil && doc.Status == model.StatusFailed {
			atomic.AddInt64(&failed, 1)
			r.renderer.AddError(ui.ErrorEvent{File: task.Path, Err: fmt.Errorf("%s", doc.Message), IsWarn: true})
		}
		n := atomic.AddInt64(&processed, 1)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageEmbedding,
			Current:     int(n),
			Total:       len(files),
			CurrentFile: task.Path,
		})
	}

	queue := pipeline.NewTaskQueue(r.workerCount(), len(files), wrapped, log)
	queue.Start(ctx)

	var skipped int
	var docCount int
	for _, f := range files {
		fileType := fileTypeOf(f.Path)
		if !supports(r.parser, fileType) {
			skipped++
			r.renderer.AddError(ui.ErrorEvent{File: f.Path, Err: fmt.Errorf("no parser registered for file type %q", fileType), IsWarn: true})
			continue
		}

		doc, ok := byPath[f.AbsPath]
		if !ok {
			id, err := r.meta.CreateDocument(ctx, &model.Document{
				Filename: filepath.Base(f.Path),
				FileType: fileType,
				Path:     f.AbsPath,
				Size:     f.Size,
			})
			if err != nil {
				r.renderer.AddError(ui.ErrorEvent{File: f.Path, Err: fmt.Errorf("register document: %w", err)})
				continue
			}
			doc = &model.Document{ID: id, Path: f.AbsPath, FileType: fileType}
		}
		docCount++

		if pushErr := queue.Push(pipeline.Task{DocID: doc.ID, Path: doc.Path, FileType: fileType}); pushErr != nil {
			r.renderer.AddError(ui.ErrorEvent{File: f.Path, Err: pushErr})
		}
	}

	queue.Stop()

	if err := r.sparse.Persist(filepath.Join(dataDir, "sparse.idx")); err != nil {
		slog.Warn("failed to persist sparse index", slog.String("error", err.Error()))
	}
	if err := r.dense.Save(filepath.Join(dataDir, "vectors.hnsw")); err != nil {
		slog.Warn("failed to persist dense index", slog.String("error", err.Error()))
	}

	chunks, _ := r.meta.CountChunks(ctx)
	duration := time.Since(start)

	r.renderer.Complete(ui.CompletionStats{
		Files:    len(files),
		Chunks:   chunks,
		Duration: duration,
		Errors:   int(failed),
		Warnings: skipped,
	})

	return &RunnerResult{
		Files:     len(files),
		Documents: docCount,
		Chunks:    chunks,
		Duration:  duration,
		Failed:    int(failed),
		Skipped:   skipped,
	}, nil
}

func (r *Runner) workerCount() int {
	if r.workers > 0 {
		return r.workers
	}
	return pipeline.DefaultMaxConcurrent
}

func (r *Runner) scan(ctx context.Context, root string) ([]*scanner.FileInfo, error) {
	excludePatterns := append(append([]string{}, r.cfg.Paths.Exclude...), "**/.knowledge/**")
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  r.cfg.Paths.Include,
		ExcludePatterns:  excludePatterns,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	var files []*scanner.FileInfo
	for res := range results {
		if res.Error != nil {
			r.renderer.AddError(ui.ErrorEvent{File: res.File.Path, Err: res.Error, IsWarn: true})
			continue
		}
		files = append(files, res.File)
	}
	return files, nil
}

// fileTypeOf derives the Parser file-type tag from a path's extension.
func fileTypeOf(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.ToLower(ext)
}

func supports(p parse.Parser, fileType string) bool {
	for _, t := range p.SupportedTypes() {
		if t == fileType {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	kerrors "github.com/jmswen/knowledge/internal/errors"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/pipeline"
	"github.com/jmswen/knowledge/internal/watcher"
)

// WatchSync applies file-system events from a directory watcher to the
// three stores: created and modified documents run through the
// processing pipeline, deleted documents are removed everywhere.
type WatchSync struct {
	eng    *Engine
	parser parse.Parser
	proc   *pipeline.Pipeline
	log    *slog.Logger
}

// NewWatchSync builds a WatchSync over an opened engine.
func NewWatchSync(eng *Engine, parser parse.Parser) *WatchSync {
	log := eng.log.With("component", "watch_sync")
	var gen = eng.Generator
	if eng.Config.Generator.TitleModel == "" {
		gen = nil
	}
	return &WatchSync{
		eng:    eng,
		parser: parser,
		proc:   pipeline.New(eng.Meta, eng.Synchronizer, parser, gen, log),
		log:    log,
	}
}

// admit applies the input-error taxonomy at admission: unsupported file
// types and oversized files are rejected before any pipeline work.
func (w *WatchSync) admit(absPath string) error {
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), ".")
	supported := false
	for _, t := range w.parser.SupportedTypes() {
		if t == fileType {
			supported = true
			break
		}
	}
	if !supported {
		return kerrors.NewKind(kerrors.KindInput,
			fmt.Sprintf("unsupported file type %q", fileType), nil)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return kerrors.NewKind(kerrors.KindInput, "file not readable", err)
	}
	if max := w.eng.Config.Pipeline.MaxUploadSize; max > 0 && info.Size() > max {
		return kerrors.NewKind(kerrors.KindInput,
			fmt.Sprintf("file exceeds max_upload_size (%d > %d bytes)", info.Size(), max), nil)
	}
	return nil
}

// Apply processes one debounced event batch. Admission failures and
// per-document errors are logged, never propagated; a watcher loop must
// survive any single bad file.
func (w *WatchSync) Apply(ctx context.Context, root string, events []watcher.FileEvent) {
	docs, err := w.eng.Meta.ListDocuments(ctx)
	if err != nil {
		w.log.Error("list documents", slog.String("error", err.Error()))
		return
	}
	byPath := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		byPath[d.Path] = d
	}

	mutated := false
	for _, ev := range events {
		if ev.IsDir {
			continue
		}
		absPath := filepath.Join(root, ev.Path)

		switch ev.Operation {
		case watcher.OpDelete, watcher.OpRename:
			// A rename emits a create for the new path in the same
			// batch; the old path is treated as a delete.
			oldPath := absPath
			if ev.OldPath != "" {
				oldPath = filepath.Join(root, ev.OldPath)
			}
			if doc, ok := byPath[oldPath]; ok {
				if err := w.eng.Synchronizer.RemoveDocument(ctx, doc.ID); err != nil {
					w.log.Warn("remove document",
						slog.String("path", oldPath), slog.String("error", err.Error()))
					continue
				}
				delete(byPath, oldPath)
				mutated = true
			}
			if ev.Operation == watcher.OpDelete {
				continue
			}
			fallthrough

		case watcher.OpCreate, watcher.OpModify:
			if err := w.admit(absPath); err != nil {
				w.log.Debug("rejected at admission",
					slog.String("path", absPath), slog.String("reason", err.Error()))
				continue
			}
			doc, ok := byPath[absPath]
			if !ok {
				fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), ".")
				info, _ := os.Stat(absPath)
				var size int64
				if info != nil {
					size = info.Size()
				}
				id, err := w.eng.Meta.CreateDocument(ctx, &model.Document{
					Filename: filepath.Base(absPath),
					FileType: fileType,
					Path:     absPath,
					Size:     size,
				})
				if err != nil {
					w.log.Warn("register document",
						slog.String("path", absPath), slog.String("error", err.Error()))
					continue
				}
				doc = &model.Document{ID: id, Path: absPath, FileType: fileType}
				byPath[absPath] = doc
			}
			w.proc.Process(ctx, pipeline.Task{DocID: doc.ID, Path: absPath, FileType: doc.FileType})
			mutated = true
		}
	}

	if mutated {
		if err := w.eng.Persist(); err != nil {
			w.log.Warn("persist after watch batch", slog.String("error", err.Error()))
		}
	}
}

// Watch runs the event loop until ctx is canceled: it starts a hybrid
// fsnotify/polling watcher over root and applies each event as it
// arrives (the watcher debounces internally).
func (w *WatchSync) Watch(ctx context.Context, root string) error {
	opts := watcher.DefaultOptions()
	if d := w.eng.Config.Pipeline.WatchDebounce; d != "" {
		if parsed, err := time.ParseDuration(d); err == nil {
			opts.DebounceWindow = parsed
		}
	}
	hw, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = hw.Stop() }()

	if err := hw.Start(ctx, root); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	w.log.Info("watching for document changes", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-hw.Events():
			if !ok {
				return nil
			}
			w.Apply(ctx, root, batch)
		case err, ok := <-hw.Errors():
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmswen/knowledge/internal/generate"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/store"
)

// DocumentSyncer is the subset of *index.Synchronizer that Pipeline
// depends on; declared locally to avoid an import cycle with
// internal/index, which depends on this package for task execution.
type DocumentSyncer interface {
	SyncDocument(ctx context.Context, doc *model.Document, content string) error
}

// parsingProgressCeiling is the top of the parsing stage's progress
// range; embedding occupies the remainder up to 1.0.
const parsingProgressCeiling = 0.95

// titlePrompt asks the Generator for a short descriptive title; the
// result still passes through validateTitle before use.
const titlePrompt = "Propose a short, descriptive title (4-80 characters) for the following document. Respond with the title only, no quotes or punctuation wrapping it.\n\n%s"

// titleSampleChars bounds how much of a document's content is sent to
// the title-generation prompt.
const titleSampleChars = 2000

// Pipeline runs one document through parse -> title -> embed -> done,
// translating every outcome into a MetaStore status update.
type Pipeline struct {
	meta   store.MetaStore
	sync   DocumentSyncer
	parser parse.Parser
	gen    generate.Generator // optional; nil skips title generation
	log    *slog.Logger
}

// New builds a Pipeline. gen may be nil, in which case stage 2 always
// falls back to the parser's title or the filename stem.
func New(meta store.MetaStore, synchronizer DocumentSyncer, parser parse.Parser, gen generate.Generator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{meta: meta, sync: synchronizer, parser: parser, gen: gen, log: log}
}

// Handler adapts Pipeline.Process to the TaskQueue's run signature.
func (p *Pipeline) Handler() func(ctx context.Context, task Task) {
	return p.Process
}

// Process runs every stage for one task. Any stage error is captured
// into the document's status rather than returned, so a worker always
// continues on to its next task.
func (p *Pipeline) Process(ctx context.Context, task Task) {
	doc, err := p.meta.GetDocument(ctx, task.DocID)
	if err != nil {
		p.log.Error("pipeline: document vanished before processing", "doc_id", task.DocID, "error", err)
		return
	}

	content, title, err := p.parseStage(ctx, doc)
	if err != nil {
		p.fail(ctx, doc, err)
		return
	}
	doc.Content = content

	p.titleStage(ctx, doc, title, content)

	if err := p.meta.UpdateContent(ctx, doc.ID, content, doc.Title, int64(len(content)), doc.Metadata); err != nil {
		p.fail(ctx, doc, fmt.Errorf("persist parsed content: %w", err))
		return
	}

	if err := p.embedStage(ctx, doc, content); err != nil {
		p.fail(ctx, doc, err)
		return
	}

	if err := p.meta.UpdateStatus(ctx, doc.ID, model.StatusCompleted, "", 1.0); err != nil {
		p.log.Error("pipeline: failed to record completion", "doc_id", doc.ID, "error", err)
	}
}

func (p *Pipeline) parseStage(ctx context.Context, doc *model.Document) (content, title string, err error) {
	if err := p.meta.UpdateStatus(ctx, doc.ID, model.StatusParsing, "", 0); err != nil {
		return "", "", fmt.Errorf("record parsing status: %w", err)
	}

	progress := func(message string, percent float64) {
		scaled := percent * parsingProgressCeiling
		if updErr := p.meta.UpdateStatus(ctx, doc.ID, model.StatusParsing, message, scaled); updErr != nil {
			p.log.Warn("pipeline: progress update failed", "doc_id", doc.ID, "error", updErr)
		}
	}

	result, err := p.parser.Parse(ctx, doc.Path, doc.FileType, progress)
	if err != nil {
		return "", "", fmt.Errorf("parse: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}
	for k, v := range result.Metadata {
		doc.Metadata[k] = v
	}
	return result.Content, result.Title, nil
}

// titleStage tries, in order: an accepted Generator-proposed title, the
// parser-supplied title, then the filename stem. Failure to reach the
// Generator is non-fatal to the document.
func (p *Pipeline) titleStage(ctx context.Context, doc *model.Document, parserTitle, content string) {
	if p.gen != nil {
		sample := content
		if len([]rune(sample)) > titleSampleChars {
			sample = string([]rune(sample)[:titleSampleChars])
		}
		messages := []generate.Message{
			{Role: generate.RoleUser, Content: fmt.Sprintf(titlePrompt, sample)},
		}
		proposed, err := p.gen.Chat(ctx, messages, 0.2, 64)
		if err != nil {
			p.log.Warn("pipeline: title generation failed, falling back", "doc_id", doc.ID, "error", err)
		} else if validateTitle(proposed) {
			doc.Title = proposed
			return
		}
	}

	if validateTitle(parserTitle) {
		doc.Title = parserTitle
		return
	}
	doc.Title = filenameStem(doc.Filename)
}

func (p *Pipeline) embedStage(ctx context.Context, doc *model.Document, content string) error {
	if err := p.meta.UpdateStatus(ctx, doc.ID, model.StatusEmbedding, "", parsingProgressCeiling); err != nil {
		return fmt.Errorf("record embedding status: %w", err)
	}
	if err := p.sync.SyncDocument(ctx, doc, content); err != nil {
		return fmt.Errorf("sync_document: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, doc *model.Document, cause error) {
	p.log.Error("pipeline: document processing failed", "doc_id", doc.ID, "error", cause)
	if err := p.meta.UpdateStatus(ctx, doc.ID, model.StatusFailed, cause.Error(), doc.Progress); err != nil {
		p.log.Error("pipeline: failed to record failure status", "doc_id", doc.ID, "error", err)
	}
}

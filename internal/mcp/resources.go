package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jmswen/knowledge/internal/model"
)

// MaxResourceSize caps how much parsed text one resource read returns.
const MaxResourceSize = 1024 * 1024

// RegisterResources lists completed documents and registers each as a
// readable resource. Call after ingest, before serving.
func (s *Server) RegisterResources(ctx context.Context) error {
	docs, err := s.engine.Meta.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	count := 0
	for _, d := range docs {
		if d.Status != model.StatusCompleted {
			continue
		}
		s.registerDocumentResource(d)
		count++
	}

	s.logger.Info("resources registered", "count", count)
	return nil
}

// registerDocumentResource registers a single document.
func (s *Server) registerDocumentResource(d *model.Document) {
	uri := fmt.Sprintf("doc://%d", d.ID)
	name := d.Title
	if name == "" {
		name = d.Filename
	}
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        name,
			URI:         uri,
			Description: fmt.Sprintf("%s (%s)", d.Filename, humanSize(d.Size)),
			MIMEType:    "text/plain",
		},
		s.makeDocumentHandler(d.ID),
	)
}

// makeDocumentHandler creates a read handler serving a document's
// parsed text.
func (s *Server) makeDocumentHandler(docID int64) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		doc, err := s.engine.Meta.GetDocument(ctx, docID)
		if err != nil {
			return nil, MapError(fmt.Errorf("%w: id %d", ErrDocumentNotFound, docID))
		}

		content := doc.Content
		if len(content) > MaxResourceSize {
			content = content[:MaxResourceSize]
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      fmt.Sprintf("doc://%d", docID),
					MIMEType: "text/plain",
					Text:     content,
				},
			},
		}, nil
	}
}

// registerMetricsResource exposes the query-metrics snapshot.
func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query-metrics",
			URI:         "metrics://queries",
			Description: "Aggregated search telemetry: volume, latency buckets, zero-result rate",
			MIMEType:    "text/plain",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			s.mu.RLock()
			m := s.metrics
			s.mu.RUnlock()
			if m == nil {
				return nil, &ProtocolError{Code: ErrCodeInternalError, Message: "metrics not enabled"}
			}
			snap := m.Snapshot()

			var sb strings.Builder
			fmt.Fprintf(&sb, "queries: %d\n", snap.TotalQueries)
			fmt.Fprintf(&sb, "zero-result: %s\n", formatRate(snap.ZeroResultPercentage()))
			fmt.Fprintf(&sb, "repetition: %s\n", snap.RepetitionSummary())

			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: "metrics://queries", MIMEType: "text/plain", Text: sb.String()},
				},
			}, nil
		},
	)
}

// humanSize renders a byte count for resource descriptions.
func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// formatRate renders a percentage with one decimal.
func formatRate(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

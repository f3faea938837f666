package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/search"
	"github.com/jmswen/knowledge/internal/telemetry"
	"github.com/jmswen/knowledge/pkg/version"
)

// maxSearchLimit caps how many results one tool call may request.
const maxSearchLimit = 50

// Server bridges AI clients with the knowledge engine over MCP.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger

	// Query telemetry (optional, set via SetMetrics).
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the search query to execute"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	DocumentID int64  `json:"document_id,omitempty" jsonschema:"restrict results to one document id"`
	Quick      bool   `json:"quick,omitempty" jsonschema:"dense-only low-latency search, skips fusion and reranking"`
}

// SearchResultOutput is the retrieval wire shape plus match context.
type SearchResultOutput struct {
	ChunkID     int64   `json:"chunk_id" jsonschema:"chunk identifier"`
	DocumentID  int64   `json:"document_id" jsonschema:"owning document identifier"`
	Filename    string  `json:"filename" jsonschema:"source document filename"`
	Preview     string  `json:"preview" jsonschema:"highlighted snippet centered on the query match"`
	Score       float64 `json:"score" jsonschema:"final relevance score, descending"`
	InBothLists bool    `json:"in_both_lists,omitempty" jsonschema:"true if both keyword and semantic search returned this chunk"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"search results sorted by score descending"`
}

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question       string `json:"question" jsonschema:"the natural-language question to answer"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"continue an existing conversation; empty starts a new one"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer         string   `json:"answer" jsonschema:"the generated answer with [i] citations"`
	ConversationID string   `json:"conversation_id" jsonschema:"conversation id for follow-up questions"`
	Sources        []string `json:"sources" jsonschema:"numbered source filenames backing the citations"`
}

// StatusInput defines the (empty) input schema for the status tool.
type StatusInput struct{}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Status          string `json:"status" jsonschema:"healthy, degraded-vector, degraded-sparse, or critical-no-chunks"`
	Documents       int    `json:"documents" jsonschema:"documents in the metadata store"`
	Chunks          int    `json:"chunks" jsonschema:"chunks in the metadata store"`
	DenseIndexSize  int    `json:"dense_index_size" jsonschema:"entries in the vector index"`
	SparseIndexSize int    `json:"sparse_index_size" jsonschema:"entries in the keyword index"`
}

// NewServer creates an MCP server over an opened engine.
func NewServer(eng *engine.Engine) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	s := &Server{
		engine: eng,
		logger: slog.Default().With("component", "mcp"),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "knowledge",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	return s, nil
}

// SetMetrics attaches a query-metrics collector; search calls are then
// recorded and a metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerMetricsResource()
	}
}

// MCPServer returns the underlying protocol server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers the tool surface.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the user's document collection. Combines semantic vector similarity with BM25 keyword matching and reranks the results; each hit carries a highlighted preview and a citation-ready chunk id.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question grounded in the user's documents. Retrieves and packs the most relevant passages, generates an answer with [i] citations, and returns the numbered source list. Pass conversation_id to continue an exchange.",
	}, s.askHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report index health: document and chunk counts across the metadata, vector, and keyword stores, and whether they agree.",
	}, s.statusHandler)

	s.logger.Info("tools registered", slog.Int("count", 3))
}

// searchHandler serves the search tool.
func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := clampLimit(input.Limit, 10, 1, maxSearchLimit)

	start := time.Now()
	var (
		results []*search.SearchResult
		err     error
	)
	if input.Quick {
		results, err = s.engine.QuickSearch(ctx, input.Query, limit)
	} else {
		var filter *int64
		if input.DocumentID > 0 {
			filter = &input.DocumentID
		}
		results, err = s.engine.Search(ctx, input.Query, limit, filter)
	}
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	s.recordQuery(input.Query, len(results), time.Since(start))

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			ChunkID:     r.ChunkID,
			DocumentID:  r.DocumentID,
			Filename:    r.Filename,
			Preview:     r.Preview,
			Score:       r.Score,
			InBothLists: r.InBothLists,
		})
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(input.Query, results)}},
	}, out, nil
}

// askHandler serves the ask tool. Tool results are not streamed over
// the protocol; the full answer is returned on completion.
func (s *Server) askHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if input.Question == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question parameter is required")
	}

	final, convID, err := s.engine.Ask(ctx, input.ConversationID, input.Question, nil)
	if err != nil {
		return nil, AskOutput{}, MapError(err)
	}

	out := AskOutput{
		Answer:         final.Response,
		ConversationID: convID,
		Sources:        make([]string, 0, len(final.Citations)),
	}
	for _, c := range final.Citations {
		out.Sources = append(out.Sources, fmt.Sprintf("[%d] %s", c.Number, c.Filename))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatAnswer(final)}},
	}, out, nil
}

// statusHandler serves the status tool.
func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	report, err := s.engine.Synchronizer.CheckConsistency(ctx)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	out := StatusOutput{
		Status:          string(report.Status),
		Documents:       report.CompletedDocuments,
		Chunks:          report.MetaStoreChunks,
		DenseIndexSize:  report.DenseIndexSize,
		SparseIndexSize: report.SparseIndexSize,
	}

	text := fmt.Sprintf("Index %s: %d documents, %d chunks (dense=%d, sparse=%d)",
		out.Status, out.Documents, out.Chunks, out.DenseIndexSize, out.SparseIndexSize)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// recordQuery feeds the optional telemetry collector.
func (s *Server) recordQuery(query string, resultCount int, latency time.Duration) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return
	}
	m.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryTypeMixed,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// Serve runs the server over the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
)

// VectorStoreConfig configures the HNSW graph.
type VectorStoreConfig struct {
	Dimensions     int
	M              int
	EfSearch       int
	EfConstruction int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults for the given
// embedding dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		M:              16,
		EfSearch:       64,
		EfConstruction: 128,
	}
}

type hnswRow struct {
	ExternalID string
	DocID      int64
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

// HNSWStore implements DenseIndex with a pure-Go HNSW graph
// (github.com/coder/hnsw) plus a parallel row table carrying the
// content/metadata that would otherwise live in a separate
// MetadataStore. Retrieval wants these bundled into the dense-index
// abstraction itself so filtered query and get_by_doc don't need a join.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64 // external id -> internal key
	keyMap  map[uint64]string // internal key -> external id
	rows    map[uint64]hnswRow
	nextKey uint64

	closed bool
}

type hnswMetadata struct {
	IDMap   map[string]uint64
	Rows    map[uint64]hnswRow
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates a new HNSW-backed DenseIndex.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		rows:    make(map[uint64]hnswRow),
		nextKey: 0,
	}, nil
}

// Add upserts (external_id, embedding, content, metadata) rows.
func (s *HNSWStore) Add(ctx context.Context, ids []string, embeddings [][]float32, contents []string, metadatas []map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(embeddings) || len(ids) != len(contents) || len(ids) != len(metadatas) {
		return fmt.Errorf("ids/embeddings/contents/metadatas length mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("dense index is closed")
	}

	for _, v := range embeddings {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		// Lazy deletion on collision: coder/hnsw has no safe in-place
		// update, and deleting the last node in the graph breaks it, so
		// the old key is orphaned rather than removed from the graph.
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.rows, existingKey)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(embeddings[i]))
		copy(vec, embeddings[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[id] = key
		s.keyMap[key] = id
		s.rows[key] = hnswRow{
			ExternalID: id,
			DocID:      parseDocID(metadatas[i]),
			Content:    contents[i],
			Metadata:   metadatas[i],
			Embedding:  vec,
		}
	}
	return nil
}

func parseDocID(metadata map[string]string) int64 {
	v, ok := metadata["doc_id"]
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// Query returns the k nearest neighbors to vector among rows whose
// metadata satisfies every filter. Over-fetches from the graph to absorb
// filter rejection and lazily-deleted orphans, matching the way the
// search layer compensates for post-hoc filtering.
func (s *HNSWStore) Query(ctx context.Context, vector []float32, k int, filters []Filter) ([]DenseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("dense index is closed")
	}
	if len(vector) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	fetchK := k * 4
	if fetchK < k+20 {
		fetchK = k + 20
	}
	nodes := s.graph.Search(query, fetchK)

	results := make([]DenseResult, 0, k)
	for _, node := range nodes {
		row, exists := s.rows[node.Key]
		if !exists {
			continue // orphaned / lazily deleted
		}
		if !Matches(row.Metadata, filters) {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		results = append(results, DenseResult{
			ID:       row.ExternalID,
			Content:  row.Content,
			Metadata: row.Metadata,
			Distance: distance,
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Delete removes rows by external id (lazy deletion).
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("dense index is closed")
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.rows, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// DeleteWhere removes every row whose metadata satisfies filters.
func (s *HNSWStore) DeleteWhere(ctx context.Context, filters []Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("dense index is closed")
	}
	for key, row := range s.rows {
		if !Matches(row.Metadata, filters) {
			continue
		}
		delete(s.keyMap, key)
		delete(s.rows, key)
		delete(s.idMap, row.ExternalID)
	}
	return nil
}

// GetByDoc enumerates a document's chunks with their embeddings, used
// for document-level embedding averaging.
func (s *HNSWStore) GetByDoc(ctx context.Context, docID int64) ([]DenseEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("dense index is closed")
	}

	var entries []DenseEntry
	for _, row := range s.rows {
		if row.DocID != docID {
			continue
		}
		vec := make([]float32, len(row.Embedding))
		copy(vec, row.Embedding)
		entries = append(entries, DenseEntry{
			ID:        row.ExternalID,
			Embedding: vec,
			Content:   row.Content,
			Metadata:  row.Metadata,
		})
	}
	return entries, nil
}

// Count returns the number of live rows.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and row table atomically.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("dense index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	f, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{IDMap: s.idMap, Rows: s.rows, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and row table from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("dense index is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Warn("failed to close dense index metadata file", slog.String("error", cerr.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.rows = meta.Rows
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ DenseIndex = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// CosineSimilarity computes the cosine similarity between two equal-
// length vectors.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

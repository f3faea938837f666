package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BM25Config configures the Okapi BM25 scorer.
type BM25Config struct {
	// K1 is the term-frequency saturation parameter.
	K1 float64
	// B is the length-normalization parameter.
	B float64
	// StopWords is filtered out during tokenization.
	StopWords []string
	// MinTokenLength is the minimum token length to index.
	MinTokenLength int
	// TechnicalTerms extends the tokenizer's technical-term whitelist.
	TechnicalTerms []string
}

// DefaultBM25Config returns the Okapi defaults (k1=1.2, b=0.75) used
// throughout the retrieval literature.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

type bm25Doc struct {
	externalID string
	content    string
	metadata   map[string]string
	tokens     []string
	termFreq   map[string]int
}

// OkapiBM25Index is a hand-rolled BM25-Okapi SparseIndex. Not
// delegating to a full-text engine keeps full control over the on-disk
// format: a self-describing tagged binary snapshot rather than an
// engine-internal format.
type OkapiBM25Index struct {
	mu        sync.RWMutex
	cfg       BM25Config
	tokenizer *Tokenizer

	docs    []*bm25Doc
	idToPos map[string]int
	df      map[string]int // document frequency per term, derived
	avgLen  float64

	closed bool
}

// NewOkapiBM25Index constructs an empty index.
func NewOkapiBM25Index(cfg BM25Config) *OkapiBM25Index {
	if cfg.K1 == 0 {
		cfg.K1 = 1.2
	}
	if cfg.B == 0 {
		cfg.B = 0.75
	}
	if cfg.MinTokenLength == 0 {
		cfg.MinTokenLength = 2
	}
	return &OkapiBM25Index{
		cfg:       cfg,
		tokenizer: NewTokenizer(cfg.StopWords, cfg.MinTokenLength, cfg.TechnicalTerms),
		idToPos:   make(map[string]int),
		df:        make(map[string]int),
	}
}

// Add appends entries, ignoring duplicates by external id, and
// recomputes corpus statistics (document frequency table, average
// length) from scratch over the full corpus. The whole-corpus rebuild
// keeps scoring exact and is cheap at personal-knowledge-base scale.
func (idx *OkapiBM25Index) Add(ctx context.Context, entries []SparseEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	for _, e := range entries {
		if _, exists := idx.idToPos[e.ID]; exists {
			continue
		}
		doc := &bm25Doc{
			externalID: e.ID,
			content:    e.Content,
			metadata:   e.Metadata,
			tokens:     idx.tokenizer.Tokenize(e.Content),
		}
		doc.termFreq = termFrequencies(doc.tokens)
		idx.idToPos[e.ID] = len(idx.docs)
		idx.docs = append(idx.docs, doc)
	}

	idx.rebuildStats()
	return nil
}

// Remove deletes entries and recomputes statistics; an empty corpus
// resets the scorer to a null state (Search then returns no results).
func (idx *OkapiBM25Index) Remove(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	removeSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removeSet[id] = struct{}{}
	}

	kept := idx.docs[:0]
	for _, d := range idx.docs {
		if _, remove := removeSet[d.externalID]; remove {
			continue
		}
		kept = append(kept, d)
	}
	idx.docs = kept

	idx.idToPos = make(map[string]int, len(idx.docs))
	for i, d := range idx.docs {
		idx.idToPos[d.externalID] = i
	}

	idx.rebuildStats()
	return nil
}

// Clear empties the corpus entirely, resetting the scorer to a null
// state, used by rebuild_all before re-adding every chunk.
func (idx *OkapiBM25Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("bm25 index is closed")
	}
	idx.docs = nil
	idx.idToPos = make(map[string]int)
	idx.rebuildStats()
	return nil
}

// rebuildStats recomputes document frequency and average length. Caller
// must hold idx.mu.
func (idx *OkapiBM25Index) rebuildStats() {
	idx.df = make(map[string]int)
	var totalLen int
	for _, d := range idx.docs {
		totalLen += len(d.tokens)
		for term := range d.termFreq {
			idx.df[term]++
		}
	}
	if len(idx.docs) == 0 {
		idx.avgLen = 0
		return
	}
	idx.avgLen = float64(totalLen) / float64(len(idx.docs))
}

// Search tokenizes query with the same pipeline used at index time,
// scores every document by BM25-Okapi, and returns the top-k hits with
// strictly positive score.
func (idx *OkapiBM25Index) Search(ctx context.Context, query string, k int) ([]SparseResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}
	if len(idx.docs) == 0 {
		return nil, nil
	}

	queryTokens := idx.tokenizer.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	n := float64(len(idx.docs))
	idf := make(map[string]float64, len(queryTokens))
	for _, term := range uniqueStrings(queryTokens) {
		df := float64(idx.df[term])
		idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	results := make([]SparseResult, 0, len(idx.docs))
	for _, d := range idx.docs {
		var score float64
		dl := float64(len(d.tokens))
		for _, term := range queryTokens {
			tf, ok := d.termFreq[term]
			if !ok {
				continue
			}
			num := float64(tf) * (idx.cfg.K1 + 1)
			den := float64(tf) + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*dl/idx.avgLen)
			score += idf[term] * num / den
		}
		if score > 0 {
			results = append(results, SparseResult{ID: d.externalID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of entries in the corpus.
func (idx *OkapiBM25Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func (idx *OkapiBM25Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}

func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

func uniqueStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// --- persistence ---
//
// The on-disk snapshot is a tagged, length-prefixed format with an
// explicit version header, so a reimplementation in another language
// can define a stable schema without depending on Go's gob wire
// format:
//
//   magic   [4]byte  "BM1X"
//   version uint32
//   count   uint32
//   count * {
//     id       string  (uint32 len + bytes)
//     content  string
//     metaLen  uint32
//     metaLen * { key string, value string }
//     tokenLen uint32
//     tokenLen * { token string }
//   }

var bm25Magic = [4]byte{'B', 'M', '1', 'X'}

const bm25FormatVersion = 1

// Persist serializes the corpus snapshot to path atomically (temp file +
// rename). Persistence errors surface to the caller as warnings; the
// in-memory index remains authoritative until the next successful
// persist.
func (idx *OkapiBM25Index) Persist(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bm25 index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create bm25 snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := idx.encode(w); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode bm25 snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush bm25 snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close bm25 snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename bm25 snapshot: %w", err)
	}
	return nil
}

func (idx *OkapiBM25Index) encode(w io.Writer) error {
	if _, err := w.Write(bm25Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(bm25FormatVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.docs))); err != nil {
		return err
	}
	for _, d := range idx.docs {
		if err := writeString(w, d.externalID); err != nil {
			return err
		}
		if err := writeString(w, d.content); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(d.metadata))); err != nil {
			return err
		}
		for k, v := range d.metadata {
			if err := writeString(w, k); err != nil {
				return err
			}
			if err := writeString(w, v); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(d.tokens))); err != nil {
			return err
		}
		for _, tok := range d.tokens {
			if err := writeString(w, tok); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load restores the corpus snapshot from path. A missing file or a
// decode failure is logged and the index is left empty; load failure is
// never fatal to the caller.
func (idx *OkapiBM25Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("bm25 snapshot not found, starting empty", slog.String("path", path))
			return nil
		}
		return fmt.Errorf("open bm25 snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	docs, err := decodeBM25Snapshot(r)
	if err != nil {
		slog.Warn("bm25 snapshot corrupt, starting empty", slog.String("path", path), slog.String("error", err.Error()))
		idx.docs = nil
		idx.idToPos = make(map[string]int)
		idx.rebuildStats()
		return nil
	}

	idx.docs = docs
	idx.idToPos = make(map[string]int, len(docs))
	for i, d := range docs {
		idx.idToPos[d.externalID] = i
	}
	idx.rebuildStats()
	return nil
}

func decodeBM25Snapshot(r io.Reader) ([]*bm25Doc, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != bm25Magic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != bm25FormatVersion {
		return nil, fmt.Errorf("unsupported bm25 snapshot version %d", version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}

	docs := make([]*bm25Doc, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		content, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		var metaLen uint32
		if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
			return nil, fmt.Errorf("read meta len: %w", err)
		}
		meta := make(map[string]string, metaLen)
		for j := uint32(0); j < metaLen; j++ {
			k, err := readString(r)
			if err != nil {
				return nil, err
			}
			v, err := readString(r)
			if err != nil {
				return nil, err
			}
			meta[k] = v
		}
		var tokenLen uint32
		if err := binary.Read(r, binary.LittleEndian, &tokenLen); err != nil {
			return nil, fmt.Errorf("read token len: %w", err)
		}
		tokens := make([]string, tokenLen)
		for j := uint32(0); j < tokenLen; j++ {
			tok, err := readString(r)
			if err != nil {
				return nil, err
			}
			tokens[j] = tok
		}
		docs = append(docs, &bm25Doc{
			externalID: id,
			content:    content,
			metadata:   meta,
			tokens:     tokens,
			termFreq:   termFrequencies(tokens),
		})
	}
	return docs, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

var _ SparseIndex = (*OkapiBM25Index)(nil)

package store

import (
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// latinTokenRegex matches alphanumeric runs (including underscores) used
// to split Latin-script text before camelCase/snake_case splitting.
var latinTokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// defaultTechnicalTerms seeds the user-maintained technical-term
// whitelist. A whitelisted term is kept whole when it occurs inside a
// CJK run, and a whitelisted token is never dropped by the stop-word or
// length filters. Latin text is still split at spaces, punctuation and
// case boundaries, so multi-word or hyphenated entries such as
// "Vector Store" or "TF-IDF" are not kept as single tokens.
var defaultTechnicalTerms = []string{
	"RAG", "LLM", "Transformer", "Embedding", "Embeddings", "BM25", "HNSW",
	"TF-IDF", "Rerank", "Reranker", "Ollama", "MLX", "CUDA", "GPU", "CPU",
	"Vector Store", "Knowledge Base", "Semantic Search", "Zero-shot",
	"Few-shot", "Fine-tuning", "Prompt Engineering", "PDF", "Markdown",
	"JSON", "YAML", "SQL", "REST API", "WebSocket",
}

// seedCJKDictionary is a small built-in dictionary of common multi-
// character CJK words used by the forward-maximum-match segmenter. The
// whitelist (defaultTechnicalTerms, merged in) is consulted first so
// technical terms always win ties against this dictionary.
var seedCJKDictionary = []string{
	"知识库", "向量", "检索", "嵌入", "重排序", "文档", "段落", "关键词",
	"相似度", "索引", "语言模型", "人工智能", "机器学习", "数据库",
}

const maxDictWordRunes = 6

// Tokenizer implements the language-aware tokenization pipeline described
// as follows: CJK runs are segmented by a dictionary-based forward-maximum
// matcher that respects a technical-term whitelist; Latin runs are
// lower-cased and split on alphanumeric boundaries (camelCase/snake_case
// aware); single-character and stop-word tokens are dropped.
type Tokenizer struct {
	stopWords      map[string]struct{}
	minTokenLength int
	dictionary     map[string]struct{}
	whitelist      map[string]struct{}
	// cache avoids re-tokenizing identical chunk/query text, which
	// recurs heavily across repeated queries and re-synced chunks.
	cache *lru.Cache[string, []string]
}

// NewTokenizer builds a Tokenizer. extraTerms augments the default
// technical-term whitelist.
func NewTokenizer(stopWords []string, minTokenLength int, extraTerms []string) *Tokenizer {
	whitelist := make(map[string]struct{}, len(defaultTechnicalTerms)+len(extraTerms))
	for _, t := range defaultTechnicalTerms {
		whitelist[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range extraTerms {
		whitelist[strings.ToLower(t)] = struct{}{}
	}

	dict := make(map[string]struct{}, len(seedCJKDictionary))
	for _, w := range seedCJKDictionary {
		dict[w] = struct{}{}
	}

	cache, _ := lru.New[string, []string](4096)

	return &Tokenizer{
		stopWords:      BuildStopWordMap(stopWords),
		minTokenLength: minTokenLength,
		dictionary:     dict,
		whitelist:      whitelist,
		cache:          cache,
	}
}

// AddTechnicalTerms extends the whitelist at runtime.
func (t *Tokenizer) AddTechnicalTerms(terms ...string) {
	for _, term := range terms {
		t.whitelist[strings.ToLower(term)] = struct{}{}
	}
	t.cache.Purge()
}

// Tokenize splits text into lowercased tokens per the pipeline above.
func (t *Tokenizer) Tokenize(text string) []string {
	if cached, ok := t.cache.Get(text); ok {
		return cached
	}

	var tokens []string
	runes := []rune(text)
	n := len(runes)

	for i := 0; i < n; {
		r := runes[i]
		switch {
		case isCJK(r):
			words, consumed := t.segmentCJKRun(runes[i:])
			tokens = append(tokens, words...)
			i += consumed
		case isLatinWordRune(r):
			j := i
			for j < n && isLatinWordRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			for _, sub := range SplitCodeToken(word) {
				tokens = append(tokens, strings.ToLower(sub))
			}
			i = j
		default:
			i++
		}
	}

	filtered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, isTech := t.whitelist[tok]; isTech {
			filtered = append(filtered, tok)
			continue
		}
		if _, stop := t.stopWords[tok]; stop {
			continue
		}
		if len([]rune(tok)) < t.minTokenLength {
			continue
		}
		filtered = append(filtered, tok)
	}

	t.cache.Add(text, filtered)
	return filtered
}

// segmentCJKRun consumes one contiguous run of CJK runes starting at
// runes[0] using forward-maximum dictionary matching (whitelist terms
// first, then the seed dictionary), falling back to single characters.
// Returns the tokens produced and the number of input runes consumed.
func (t *Tokenizer) segmentCJKRun(runes []rune) ([]string, int) {
	end := 0
	for end < len(runes) && isCJK(runes[end]) {
		end++
	}
	run := runes[:end]

	var tokens []string
	for i := 0; i < len(run); {
		matched := false
		maxLen := maxDictWordRunes
		if i+maxLen > len(run) {
			maxLen = len(run) - i
		}
		for l := maxLen; l >= 2; l-- {
			candidate := string(run[i : i+l])
			if _, ok := t.whitelist[strings.ToLower(candidate)]; ok {
				tokens = append(tokens, candidate)
				i += l
				matched = true
				break
			}
			if _, ok := t.dictionary[candidate]; ok {
				tokens = append(tokens, candidate)
				i += l
				matched = true
				break
			}
		}
		if !matched {
			tokens = append(tokens, string(run[i]))
			i++
		}
	}
	return tokens, end
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func isLatinWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	var result []string

	if strings.Contains(token, "_") {
		parts := strings.Split(token, "_")
		for _, part := range parts {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers, e.g.
// "getUserById" -> ["get", "User", "By", "Id"], "HTTPHandler" ->
// ["HTTP", "Handler"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lower := strings.ToLower(token)
		if _, isStop := stopWords[lower]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// DefaultStopWords contains common English/Chinese function words
// filtered out of the sparse index.
var DefaultStopWords = []string{
	"the", "a", "an", "is", "are", "was", "were", "be", "been", "to", "of",
	"and", "in", "that", "it", "this", "for", "on", "with", "as", "by",
	"的", "了", "是", "在", "我", "有", "和", "就", "不", "人", "都", "一",
	"上", "也", "很", "到", "说", "要", "去", "你", "会", "着", "没有",
}

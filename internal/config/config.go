package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Generator  GeneratorConfig  `yaml:"generator" json:"generator"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Context    ContextConfig    `yaml:"context" json:"context"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig locates the engine's on-disk state and scopes which files
// an ingest run picks up.
type PathsConfig struct {
	// UploadsDir holds original uploaded files.
	UploadsDir string `yaml:"uploads_dir" json:"uploads_dir"`
	// DataDir holds the database, the vector store, and the sparse
	// index snapshot.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Include/Exclude are glob patterns applied when scanning a
	// directory for documents to ingest.
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// DatabasePath is the relational database file under DataDir.
func (p PathsConfig) DatabasePath() string {
	return filepath.Join(p.DataDir, "knowledge.db")
}

// SparseIndexPath is the serialized BM25 snapshot under DataDir.
func (p PathsConfig) SparseIndexPath() string {
	return filepath.Join(p.DataDir, "bm25_index.bin")
}

// VectorStorePath is the dense-index snapshot under DataDir.
func (p PathsConfig) VectorStorePath() string {
	return filepath.Join(p.DataDir, "vectors.hnsw")
}

// ChunkingConfig controls how parsed text is split before indexing.
type ChunkingConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the number of characters shared between adjacent
	// chunks. Must stay below chunk_size/2.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// SearchConfig configures hybrid retrieval.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/knowledge/config.yaml) - personal defaults
//  2. Engine config (.knowledge.yaml) - per-corpus tuning
//  3. Env vars (KNOWLEDGE_BM25_WEIGHT, KNOWLEDGE_VECTOR_WEIGHT,
//     KNOWLEDGE_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// BM25Weight is the keyword source's fusion weight (0.0-1.0).
	// Must sum to 1.0 with VectorWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// VectorWeight is the dense source's fusion weight (0.0-1.0).
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// RRFConstant is the fusion smoothing parameter (k). Higher values
	// reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopKRetrieval is the per-source candidate pool size before fusion.
	TopKRetrieval int `yaml:"top_k_retrieval" json:"top_k_retrieval"`

	// TopKRerank caps how many fused candidates are reranked.
	TopKRerank int `yaml:"top_k_rerank" json:"top_k_rerank"`

	// MaxResults is the default result count a search returns.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// ModelDownloadTimeout bounds the first pull of the embedding model.
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// MLX settings (opt-in on Apple Silicon via provider: mlx)
	MLXEndpoint string `yaml:"mlx_endpoint" json:"mlx_endpoint"`
	MLXModel    string `yaml:"mlx_model" json:"mlx_model"`

	// Ollama settings (default, cross-platform)
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Thermal management settings for sustained GPU workloads. These
	// prevent timeout failures during long ingest runs.
	InterBatchDelay        string  `yaml:"inter_batch_delay" json:"inter_batch_delay"`
	TimeoutProgression     float64 `yaml:"timeout_progression" json:"timeout_progression"`
	RetryTimeoutMultiplier float64 `yaml:"retry_timeout_multiplier" json:"retry_timeout_multiplier"`
}

// GeneratorConfig configures the answer-generation model.
type GeneratorConfig struct {
	Model       string  `yaml:"model" json:"model"`
	OllamaHost  string  `yaml:"ollama_host" json:"ollama_host"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	// MaxHistoryTurns is how many prior conversation turns are prepended
	// to the prompt.
	MaxHistoryTurns int `yaml:"max_history_turns" json:"max_history_turns"`
	// TitleModel, when set, proposes display titles for freshly parsed
	// documents. Empty disables LLM titling; the parser's title or the
	// filename stem is used instead.
	TitleModel string `yaml:"title_model" json:"title_model"`
}

// RerankerConfig configures the cross-encoder scoring stage.
type RerankerConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// ContextConfig bounds how retrieved chunks are packed into a prompt.
type ContextConfig struct {
	MaxChunks int     `yaml:"max_chunks" json:"max_chunks"`
	MaxChars  int     `yaml:"max_chars" json:"max_chars"`
	MinScore  float64 `yaml:"min_score" json:"min_score"`
	// ScoreDrop is the fraction of the top score below which further
	// candidates are cut.
	ScoreDrop float64 `yaml:"score_drop" json:"score_drop"`
	MaxPerDoc int     `yaml:"max_per_doc" json:"max_per_doc"`
	// JaccardRedundancy is the token-set overlap above which a candidate
	// is considered a duplicate of an already-selected chunk.
	JaccardRedundancy float64 `yaml:"jaccard_redundancy" json:"jaccard_redundancy"`
}

// PipelineConfig configures background document processing.
type PipelineConfig struct {
	// MaxConcurrent bounds how many documents are processed at once,
	// keeping peak model memory flat.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// MaxUploadSize rejects files above this many bytes at admission.
	MaxUploadSize int64 `yaml:"max_upload_size" json:"max_upload_size"`
	// WatchDebounce coalesces bursts of file events before re-ingest.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	// MaxFiles caps how many files one ingest run will register.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// ServerConfig configures the serving surface.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded from ingest scans.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/.knowledge/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/*.tmp",
	"**/*.partial",
	"**/.DS_Store",
}

// DefaultMaxUploadSize is 50 MiB.
const DefaultMaxUploadSize int64 = 50 << 20

// NewConfig creates a Config with the engine defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			UploadsDir: "uploads",
			DataDir:    ".knowledge",
			Include:    []string{},
			Exclude:    defaultExcludePatterns,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    800,
			ChunkOverlap: 150,
		},
		Search: SearchConfig{
			BM25Weight:    0.3,
			VectorWeight:  0.7,
			RRFConstant:   60,
			TopKRetrieval: 20,
			TopKRerank:    5,
			MaxResults:    10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "", // empty selects Ollama; MLX and static are never chosen automatically
			Model:                "bge-m3",
			Dimensions:           0, // auto-detect from embedder
			BatchSize:            32,
			ModelDownloadTimeout: 10 * time.Minute,
			MLXEndpoint:          "",
			MLXModel:             "",
			OllamaHost:           "",
			InterBatchDelay:      "",
			TimeoutProgression:   1.5,
			RetryTimeoutMultiplier: 1.0,
		},
		Generator: GeneratorConfig{
			Model:           "qwen3:4b",
			OllamaHost:      "",
			Temperature:     0.3,
			MaxTokens:       2048,
			MaxHistoryTurns: 8,
			TitleModel:      "qwen3:0.6b",
		},
		Reranker: RerankerConfig{
			Enabled:  true,
			Endpoint: "",
			Model:    "bge-reranker-v2-m3",
			Timeout:  "30s",
		},
		Context: ContextConfig{
			MaxChunks:         8,
			MaxChars:          4000,
			MinScore:          0.01,
			ScoreDrop:         0.4,
			MaxPerDoc:         3,
			JaccardRedundancy: 0.6,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent: 2,
			MaxUploadSize: DefaultMaxUploadSize,
			WatchDebounce: "500ms",
			MaxFiles:      100000,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory layout:
//   - $XDG_CONFIG_HOME/knowledge/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/knowledge/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "knowledge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "knowledge", "config.yaml")
	}
	return filepath.Join(home, ".config", "knowledge", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the engine rooted at dir. Sources apply
// in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/knowledge/config.yaml)
//  3. Engine config (.knowledge.yaml in the engine root)
//  4. Environment variables (KNOWLEDGE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .knowledge.yaml or
// .knowledge.yml under dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".knowledge.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".knowledge.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if other.Paths.UploadsDir != "" {
		c.Paths.UploadsDir = other.Paths.UploadsDir
	}
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace.
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Chunking
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}

	// Search weights and RRF constant. Zero is not a practical weight,
	// so only non-zero values merge.
	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.TopKRetrieval != 0 {
		c.Search.TopKRetrieval = other.Search.TopKRetrieval
	}
	if other.Search.TopKRerank != 0 {
		c.Search.TopKRerank = other.Search.TopKRerank
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}
	if other.Embeddings.MLXEndpoint != "" {
		c.Embeddings.MLXEndpoint = other.Embeddings.MLXEndpoint
	}
	if other.Embeddings.MLXModel != "" {
		c.Embeddings.MLXModel = other.Embeddings.MLXModel
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.InterBatchDelay != "" {
		c.Embeddings.InterBatchDelay = other.Embeddings.InterBatchDelay
	}
	if other.Embeddings.TimeoutProgression != 0 {
		c.Embeddings.TimeoutProgression = other.Embeddings.TimeoutProgression
	}
	if other.Embeddings.RetryTimeoutMultiplier != 0 {
		c.Embeddings.RetryTimeoutMultiplier = other.Embeddings.RetryTimeoutMultiplier
	}

	// Generator
	if other.Generator.Model != "" {
		c.Generator.Model = other.Generator.Model
	}
	if other.Generator.OllamaHost != "" {
		c.Generator.OllamaHost = other.Generator.OllamaHost
	}
	if other.Generator.Temperature != 0 {
		c.Generator.Temperature = other.Generator.Temperature
	}
	if other.Generator.MaxTokens != 0 {
		c.Generator.MaxTokens = other.Generator.MaxTokens
	}
	if other.Generator.MaxHistoryTurns != 0 {
		c.Generator.MaxHistoryTurns = other.Generator.MaxHistoryTurns
	}
	if other.Generator.TitleModel != "" {
		c.Generator.TitleModel = other.Generator.TitleModel
	}

	// Reranker. Enabled is boolean, so it merges only when some other
	// reranker field was set alongside it.
	if other.Reranker.Endpoint != "" || other.Reranker.Model != "" || other.Reranker.Timeout != "" {
		c.Reranker.Enabled = other.Reranker.Enabled
	}
	if other.Reranker.Endpoint != "" {
		c.Reranker.Endpoint = other.Reranker.Endpoint
	}
	if other.Reranker.Model != "" {
		c.Reranker.Model = other.Reranker.Model
	}
	if other.Reranker.Timeout != "" {
		c.Reranker.Timeout = other.Reranker.Timeout
	}

	// Context
	if other.Context.MaxChunks != 0 {
		c.Context.MaxChunks = other.Context.MaxChunks
	}
	if other.Context.MaxChars != 0 {
		c.Context.MaxChars = other.Context.MaxChars
	}
	if other.Context.MinScore != 0 {
		c.Context.MinScore = other.Context.MinScore
	}
	if other.Context.ScoreDrop != 0 {
		c.Context.ScoreDrop = other.Context.ScoreDrop
	}
	if other.Context.MaxPerDoc != 0 {
		c.Context.MaxPerDoc = other.Context.MaxPerDoc
	}
	if other.Context.JaccardRedundancy != 0 {
		c.Context.JaccardRedundancy = other.Context.JaccardRedundancy
	}

	// Pipeline
	if other.Pipeline.MaxConcurrent != 0 {
		c.Pipeline.MaxConcurrent = other.Pipeline.MaxConcurrent
	}
	if other.Pipeline.MaxUploadSize != 0 {
		c.Pipeline.MaxUploadSize = other.Pipeline.MaxUploadSize
	}
	if other.Pipeline.WatchDebounce != "" {
		c.Pipeline.WatchDebounce = other.Pipeline.WatchDebounce
	}
	if other.Pipeline.MaxFiles != 0 {
		c.Pipeline.MaxFiles = other.Pipeline.MaxFiles
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies KNOWLEDGE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KNOWLEDGE_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("KNOWLEDGE_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("KNOWLEDGE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("KNOWLEDGE_TOP_K_RETRIEVAL"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopKRetrieval = k
		}
	}
	if v := os.Getenv("KNOWLEDGE_TOP_K_RERANK"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopKRerank = k
		}
	}

	if v := os.Getenv("KNOWLEDGE_UPLOADS_DIR"); v != "" {
		c.Paths.UploadsDir = v
	}
	if v := os.Getenv("KNOWLEDGE_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}

	if v := os.Getenv("KNOWLEDGE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// KNOWLEDGE_EMBEDDER is an alias for KNOWLEDGE_EMBEDDINGS_PROVIDER.
	if v := os.Getenv("KNOWLEDGE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("KNOWLEDGE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("KNOWLEDGE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.Generator.OllamaHost = v
	}
	if v := os.Getenv("KNOWLEDGE_GENERATOR_MODEL"); v != "" {
		c.Generator.Model = v
	}
	if v := os.Getenv("KNOWLEDGE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.MaxConcurrent = n
		}
	}
	if v := os.Getenv("KNOWLEDGE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("KNOWLEDGE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindEngineRoot finds the engine root directory by walking up from
// startDir looking for a .knowledge.yaml/.yml file or a .knowledge data
// directory. Falls back to startDir when nothing is found.
func FindEngineRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ".knowledge.yaml")) ||
			fileExists(filepath.Join(currentDir, ".knowledge.yml")) {
			return currentDir, nil
		}
		if dirExists(filepath.Join(currentDir, ".knowledge")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DefaultWorkers returns the worker count for CPU-bound scan stages.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.VectorWeight < 0 || c.Search.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", c.Search.VectorWeight)
	}

	sum := c.Search.BM25Weight + c.Search.VectorWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + vector_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Chunking.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkSize > 0 && c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize/2 {
		return fmt.Errorf("chunk_overlap must be below chunk_size/2, got %d with chunk_size %d",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must be non-negative, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.MaxUploadSize < 0 {
		return fmt.Errorf("max_upload_size must be non-negative, got %d", c.Pipeline.MaxUploadSize)
	}

	if c.Embeddings.Provider != "" { // empty string triggers auto-detection
		validProviders := map[string]bool{"static": true, "ollama": true, "mlx": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'mlx', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing
// values. Returns the field names that were added with their defaults.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.BM25Weight == 0 {
		c.Search.BM25Weight = defaults.Search.BM25Weight
		added = append(added, "search.bm25_weight")
	}
	if c.Search.VectorWeight == 0 {
		c.Search.VectorWeight = defaults.Search.VectorWeight
		added = append(added, "search.vector_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}
	if c.Search.TopKRetrieval == 0 {
		c.Search.TopKRetrieval = defaults.Search.TopKRetrieval
		added = append(added, "search.top_k_retrieval")
	}
	if c.Search.TopKRerank == 0 {
		c.Search.TopKRerank = defaults.Search.TopKRerank
		added = append(added, "search.top_k_rerank")
	}

	if c.Chunking.ChunkSize == 0 {
		c.Chunking.ChunkSize = defaults.Chunking.ChunkSize
		added = append(added, "chunking.chunk_size")
	}
	if c.Chunking.ChunkOverlap == 0 {
		c.Chunking.ChunkOverlap = defaults.Chunking.ChunkOverlap
		added = append(added, "chunking.chunk_overlap")
	}

	if c.Context.MaxChunks == 0 {
		c.Context.MaxChunks = defaults.Context.MaxChunks
		added = append(added, "context.max_chunks")
	}
	if c.Context.MaxChars == 0 {
		c.Context.MaxChars = defaults.Context.MaxChars
		added = append(added, "context.max_chars")
	}

	if c.Pipeline.MaxConcurrent == 0 {
		c.Pipeline.MaxConcurrent = defaults.Pipeline.MaxConcurrent
		added = append(added, "pipeline.max_concurrent")
	}
	if c.Pipeline.MaxUploadSize == 0 {
		c.Pipeline.MaxUploadSize = defaults.Pipeline.MaxUploadSize
		added = append(added, "pipeline.max_upload_size")
	}

	if c.Embeddings.TimeoutProgression == 0 {
		c.Embeddings.TimeoutProgression = defaults.Embeddings.TimeoutProgression
		added = append(added, "embeddings.timeout_progression")
	}
	if c.Embeddings.RetryTimeoutMultiplier == 0 {
		c.Embeddings.RetryTimeoutMultiplier = defaults.Embeddings.RetryTimeoutMultiplier
		added = append(added, "embeddings.retry_timeout_multiplier")
	}

	return added
}

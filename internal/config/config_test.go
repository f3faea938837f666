package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, "uploads", cfg.Paths.UploadsDir)
	assert.Equal(t, ".knowledge", cfg.Paths.DataDir)
	assert.NotEmpty(t, cfg.Paths.Exclude)

	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 150, cfg.Chunking.ChunkOverlap)

	assert.Equal(t, 0.3, cfg.Search.BM25Weight)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 20, cfg.Search.TopKRetrieval)
	assert.Equal(t, 5, cfg.Search.TopKRerank)

	assert.Equal(t, "bge-m3", cfg.Embeddings.Model)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)

	assert.Equal(t, 8, cfg.Context.MaxChunks)
	assert.Equal(t, 4000, cfg.Context.MaxChars)
	assert.Equal(t, 0.01, cfg.Context.MinScore)
	assert.Equal(t, 0.4, cfg.Context.ScoreDrop)
	assert.Equal(t, 3, cfg.Context.MaxPerDoc)
	assert.Equal(t, 0.6, cfg.Context.JaccardRedundancy)

	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, DefaultMaxUploadSize, cfg.Pipeline.MaxUploadSize)

	assert.Equal(t, "stdio", cfg.Server.Transport)
}

func TestConfig_SearchWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()
	sum := cfg.Search.BM25Weight + cfg.Search.VectorWeight
	assert.InDelta(t, 1.0, sum, 0.001)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Search.BM25Weight)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := `
chunking:
  chunk_size: 1000
  chunk_overlap: 100
search:
  bm25_weight: 0.5
  vector_weight: 0.5
pipeline:
  max_concurrent: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 0.5, cfg.Search.BM25Weight)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrent)
	// Untouched values keep their defaults.
	assert.Equal(t, 20, cfg.Search.TopKRetrieval)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := "search:\n  rrf_constant: 90\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yml"), []byte(content), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"),
		[]byte("search:\n  rrf_constant: 70\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yml"),
		[]byte("search:\n  rrf_constant: 80\n"), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Search.RRFConstant)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"),
		[]byte("search: [unclosed"), 0644))

	_, err := Load(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"),
		[]byte("chunking:\n  chunk_size: not-a-number\n"), 0644))

	_, err := Load(tmpDir)
	require.Error(t, err)
}

func TestFindEngineRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte("version: 1\n"), 0644))
	nested := filepath.Join(tmpDir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindEngineRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindEngineRoot_DataDir_ReturnsItsParent(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".knowledge"), 0755))
	nested := filepath.Join(tmpDir, "notes")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindEngineRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindEngineRoot_NoMarkers_ReturnsStartDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindEngineRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestLoad_EnvVarOverridesProvider(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_EMBEDDINGS_PROVIDER", "static")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_EmbedderAlias_OverridesProvider(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_EMBEDDER", "ollama")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
}

func TestLoad_EnvVarOverridesModel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_EMBEDDINGS_MODEL", "nomic-embed-text")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
}

func TestLoad_EnvVarOverridesOllamaHost_BothConsumers(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_OLLAMA_HOST", "http://gpu-box:11434")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.Embeddings.OllamaHost)
	assert.Equal(t, "http://gpu-box:11434", cfg.Generator.OllamaHost)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_LOG_LEVEL", "error")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesRRFConstant(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_RRF_CONSTANT", "100")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Search.RRFConstant)

	t.Setenv("KNOWLEDGE_RRF_CONSTANT", "-5")
	cfg, err = Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.RRFConstant, "invalid value ignored")
}

func TestLoad_EnvVarOverridesSearchWeights(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_BM25_WEIGHT", "0.4")
	t.Setenv("KNOWLEDGE_VECTOR_WEIGHT", "0.6")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Search.BM25Weight)
	assert.Equal(t, 0.6, cfg.Search.VectorWeight)
}

func TestLoad_EnvVarOverridesMaxConcurrent(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_MAX_CONCURRENT", "3")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrent)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("KNOWLEDGE_EMBEDDINGS_MODEL", "")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "bge-m3", cfg.Embeddings.Model)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/knowledge/config.yaml", GetUserConfigPath())
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/knowledge", GetUserConfigDir())
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "knowledge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "knowledge", "config.yaml"),
		[]byte("version: 1\n"), 0644))
	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "knowledge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "knowledge", "config.yaml"),
		[]byte("generator:\n  model: llama3.2:3b\n"), 0644))

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "llama3.2:3b", cfg.Generator.Model)
}

func TestLoad_EngineConfigOverridesUserConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "knowledge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "knowledge", "config.yaml"),
		[]byte("chunking:\n  chunk_size: 600\n"), 0644))

	engineDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(engineDir, ".knowledge.yaml"),
		[]byte("chunking:\n  chunk_size: 1200\n"), 0644))

	cfg, err := Load(engineDir)
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Chunking.ChunkSize)
}

func TestLoad_EnvVarOverridesUserAndEngineConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "knowledge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "knowledge", "config.yaml"),
		[]byte("search:\n  rrf_constant: 30\n"), 0644))

	engineDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(engineDir, ".knowledge.yaml"),
		[]byte("search:\n  rrf_constant: 45\n"), 0644))
	t.Setenv("KNOWLEDGE_RRF_CONSTANT", "120")

	cfg, err := Load(engineDir)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Search.RRFConstant)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "knowledge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "knowledge", "config.yaml"),
		[]byte("search: [broken"), 0644))

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user config")
}

func TestPaths_DerivedLocations(t *testing.T) {
	p := PathsConfig{DataDir: filepath.Join("/data", ".knowledge")}
	assert.Equal(t, filepath.Join("/data", ".knowledge", "knowledge.db"), p.DatabasePath())
	assert.Equal(t, filepath.Join("/data", ".knowledge", "bm25_index.bin"), p.SparseIndexPath())
	assert.Equal(t, filepath.Join("/data", ".knowledge", "vectors.hnsw"), p.VectorStorePath())
}

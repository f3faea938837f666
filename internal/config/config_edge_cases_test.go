package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge-case tests for scenarios that could cause silent failures or
// unexpected merge behavior.

func TestFindEngineRoot_NonExistentDir_ReturnsAbsPath(t *testing.T) {
	// filepath.Abs succeeds even for non-existent paths; the walk just
	// never finds a marker and falls back to the start directory.
	root, err := FindEngineRoot("/nonexistent/path/that/does/not/exist")
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestFindEngineRoot_DeepNesting_FindsMarker(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte("version: 1\n"), 0o644))
	deepNested := filepath.Join(tmpDir, "a", "b", "c", "d", "e", "f", "g", "h")
	require.NoError(t, os.MkdirAll(deepNested, 0o755))

	root, err := FindEngineRoot(deepNested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindEngineRoot_RelativePath_ResolvesToAbsolute(t *testing.T) {
	root, err := FindEngineRoot(".")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
}

func TestLoad_MergeExcludePaths_AppendsToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := "paths:\n  exclude:\n    - \"**/drafts/**\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Contains(t, cfg.Paths.Exclude, "**/drafts/**")
	// Defaults survive the merge.
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.knowledge/**")
}

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	// Explicit zeros in the file must not clobber the defaults; zero is
	// the yaml "unset" sentinel for these fields.
	content := `
chunking:
  chunk_size: 0
search:
  rrf_constant: 0
pipeline:
  max_concurrent: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
}

func TestLoad_NegativeValues_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := "search:\n  max_results: -5\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0o644))

	_, err := Load(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_results")
}

func TestLoad_WeightsSumValidated(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := "search:\n  bm25_weight: 0.8\n  vector_weight: 0.8\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0o644))

	_, err := Load(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must equal 1.0")
}

func TestLoad_OverlapAboveHalfChunkSize_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	content := "chunking:\n  chunk_size: 400\n  chunk_overlap: 300\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".knowledge.yaml"), []byte(content), 0o644))

	_, err := Load(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root; file permissions are not enforced")
	}
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	path := filepath.Join(tmpDir, ".knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o000))

	_, err := Load(tmpDir)
	require.Error(t, err)
}

func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.BM25Weight = 0.45
	cfg.Search.VectorWeight = 0.55
	cfg.Generator.Model = "llama3.2:3b"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg.Search.BM25Weight, decoded.Search.BM25Weight)
	assert.Equal(t, cfg.Generator.Model, decoded.Generator.Model)
	assert.Equal(t, cfg.Context.MaxChunks, decoded.Context.MaxChunks)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"search": "not-an-object"}`), &cfg)
	require.Error(t, err)
}

func TestValidate_BadProvider_ReturnsError(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "sorcery"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestValidate_EmptyProvider_AllowsAutoDetect(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = ""
	require.NoError(t, cfg.Validate())
}

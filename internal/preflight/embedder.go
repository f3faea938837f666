package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// MinModelDiskSpaceBytes is the minimum disk space a first embedding
// model pull needs (~1.5GB).
const MinModelDiskSpaceBytes = 1.5 * 1024 * 1024 * 1024 // 1.5 GB

// CheckEmbedderRuntime checks whether a model runtime is reachable:
// Ollama on the PATH (the default provider). The static embedder, used
// only with --offline, needs no runtime.
func (c *Checker) CheckEmbedderRuntime() CheckResult {
	result := CheckResult{
		Name:     "embedder_runtime",
		Required: false, // Non-critical - --offline runs without a model runtime
	}

	if c.offline {
		result.Status = StatusPass
		result.Message = "Offline mode: static embeddings, no model runtime needed"
		return result
	}

	path, err := exec.LookPath("ollama")
	if err != nil {
		result.Status = StatusWarn
		result.Message = "Ollama not found on PATH (static embeddings need --offline)"
		result.Details = "Install from https://ollama.com, or run with --offline"
		return result
	}

	result.Status = StatusPass
	result.Message = "Ollama runtime found"
	result.Details = fmt.Sprintf("Binary: %s", path)
	return result
}

// CheckEmbedderDiskSpace checks if there's enough disk space for a
// model pull.
func (c *Checker) CheckEmbedderDiskSpace() CheckResult {
	result := CheckResult{
		Name:     "embedder_disk_space",
		Required: false, // Non-critical - --offline needs no model download
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Cannot determine home directory: %v", err)
		return result
	}

	// Models land under the home directory (~/.ollama).
	var stat syscall.Statfs_t
	if err := syscall.Statfs(homeDir, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Cannot check disk space: %v", err)
		return result
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)

	if availableBytes < uint64(MinModelDiskSpaceBytes) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s available (model pull needs ~1.5 GB)", formatBytes(availableBytes))
		result.Details = "Consider freeing up disk space or run with --offline"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available for model download", formatBytes(availableBytes))
	return result
}

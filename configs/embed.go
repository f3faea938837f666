// Package configs provides embedded configuration templates.
//
// Templates are embedded at build time using Go's //go:embed directive,
// so they are available in all distributions (go install, binary
// releases, package managers).
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/knowledge/config.yaml)
//  3. Engine config (.knowledge.yaml in the engine root)
//  4. Environment variables (KNOWLEDGE_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level
// configuration, created by `knowledge config init` at
// ~/.config/knowledge/config.yaml. It holds machine-specific settings:
// model endpoints, thermal management, the MLX server.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// EngineConfigTemplate is the template for corpus-level configuration,
// created by `knowledge setup` at .knowledge.yaml in the engine root.
// It holds per-corpus settings: paths, chunking, fusion weights.
//
//go:embed project-config.example.yaml
var EngineConfigTemplate string

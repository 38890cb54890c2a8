// Package configs provides embedded configuration templates for qanoon.
//
// Templates are embedded at build time so they ship with every binary.
// `qanoon init` writes ProjectConfigTemplate to .qanoon.yaml.
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/qanoon/config.yaml)
//  3. Project config (.qanoon.yaml)
//  4. Environment variables (QANOON_*, GROQ_API_KEY) and .env
package configs

import _ "embed"

// ProjectConfigTemplate is the commented project-level configuration.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

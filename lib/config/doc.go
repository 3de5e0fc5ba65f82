// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mount configuration for pinoq.
//
// Configuration is read from a single explicit file passed to
// --mount. There are no fallbacks or automatic discovery; this keeps
// mounts deterministic and auditable with no hidden overrides.
//
// The file is TOML by default. A .yaml or .yml extension selects YAML
// with the same field names.
package config

// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is a mount configuration.
type Config struct {
	// Disk is the path to the container image.
	Disk string `toml:"disk" yaml:"disk"`

	// Mount is the directory the current aspect is mounted on. It
	// must already exist.
	Mount string `toml:"mount" yaml:"mount"`

	// Current selects the aspect to mount.
	Current Current `toml:"current" yaml:"current"`
}

// Current selects which aspect a mount opens and with what password.
type Current struct {
	// Aspect is the zero-based aspect index.
	Aspect uint32 `toml:"aspect" yaml:"aspect"`

	// Password unlocks the aspect. When empty, the password is
	// prompted for on the terminal instead.
	Password string `toml:"password" yaml:"password"`
}

// Load reads and validates the configuration file at path. The format
// is chosen by extension: .yaml and .yml parse as YAML, everything
// else as TOML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = toml.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the configuration names a disk and a mount
// point.
func (c *Config) Validate() error {
	if c.Disk == "" {
		return errors.New("disk path is required")
	}
	if c.Mount == "" {
		return errors.New("mount directory is required")
	}
	return nil
}

// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "mount.toml", `
disk = "/tmp/volume.pnoq"
mount = "/tmp/mnt"

[current]
aspect = 1
password = "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Disk != "/tmp/volume.pnoq" {
		t.Fatalf("disk = %q", cfg.Disk)
	}
	if cfg.Mount != "/tmp/mnt" {
		t.Fatalf("mount = %q", cfg.Mount)
	}
	if cfg.Current.Aspect != 1 {
		t.Fatalf("aspect = %d, want 1", cfg.Current.Aspect)
	}
	if cfg.Current.Password != "secret" {
		t.Fatalf("password = %q", cfg.Current.Password)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "mount.yaml", `
disk: /tmp/volume.pnoq
mount: /tmp/mnt
current:
  aspect: 2
  password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Disk != "/tmp/volume.pnoq" || cfg.Mount != "/tmp/mnt" {
		t.Fatalf("paths = %q, %q", cfg.Disk, cfg.Mount)
	}
	if cfg.Current.Aspect != 2 {
		t.Fatalf("aspect = %d, want 2", cfg.Current.Aspect)
	}
}

func TestLoadDefaultsAspectZero(t *testing.T) {
	path := writeConfig(t, "mount.toml", `
disk = "/tmp/volume.pnoq"
mount = "/tmp/mnt"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Current.Aspect != 0 {
		t.Fatalf("aspect = %d, want 0", cfg.Current.Aspect)
	}
	if cfg.Current.Password != "" {
		t.Fatalf("password = %q, want empty (prompt)", cfg.Current.Password)
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	for name, content := range map[string]string{
		"no-disk.toml":  `mount = "/tmp/mnt"`,
		"no-mount.toml": `disk = "/tmp/volume.pnoq"`,
	} {
		path := writeConfig(t, name, content)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: load succeeded, want validation error", name)
		}
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "mount.toml", `disk = [unclosed`)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed TOML accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

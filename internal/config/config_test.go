package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port == 0 {
		t.Error("default port must be non-zero")
	}
	if len(cfg.Presets) == 0 {
		t.Error("default presets must be non-empty")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  port: 9999\n  host: 0.0.0.0\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Generation.Temperature != 0.7 {
		t.Errorf("temperature = %v, want default 0.7", cfg.Generation.Temperature)
	}
}

func TestResolvePathsDefaults(t *testing.T) {
	root := t.TempDir()
	p, err := ResolvePaths(root)
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if p.DataDir != root {
		t.Errorf("DataDir = %q, want %q", p.DataDir, root)
	}
	for _, dir := range []string{p.ConfigDir, p.LogsDir, p.ModelsDir, p.DownloadCacheDir, p.OVCacheDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory to exist: %s", dir)
		}
	}
}

func TestResolvePathsHonorsOverrides(t *testing.T) {
	root := t.TempDir()
	altModels := filepath.Join(root, "elsewhere-models")
	overrides := `{"models_dir":"` + altModels + `"}`
	if err := os.WriteFile(filepath.Join(root, "paths.json"), []byte(overrides), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ResolvePaths(root)
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if p.ModelsDir != altModels {
		t.Errorf("ModelsDir = %q, want %q", p.ModelsDir, altModels)
	}
}

func TestResolvePathsIgnoresMalformedOverrides(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "paths.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ResolvePaths(root)
	if err != nil {
		t.Fatalf("ResolvePaths should not fail on malformed overrides: %v", err)
	}
	if p.ModelsDir != filepath.Join(root, "models") {
		t.Errorf("ModelsDir = %q, want default", p.ModelsDir)
	}
}

// Package config resolves the two layers of configuration this host reads at
// startup: the YAML server/runtime settings (host, port, generation
// defaults) and the on-disk path layout (see paths.go).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the server-level configuration, loaded from an optional YAML
// file. Everything has a workable default so a missing file is never fatal.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Generation GenerationDefaults   `yaml:"generation"`
	Devices    []string             `yaml:"devices"`
	Presets    []PresetModel        `yaml:"presets"`
}

// ServerConfig controls the HTTP listener. Host defaults to the loopback
// address: the spec's non-goals exclude network-exposed operation.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

// GenerationDefaults are the generation parameters shipped to clients in
// GET /api/config and used to seed a generate request before the settings
// resolver (internal/settingsres) narrows them for a specific model.
type GenerationDefaults struct {
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	TopK             int     `yaml:"top_k"`
	MaxNewTokens     int     `yaml:"max_new_tokens"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
}

// PresetModel is one entry in the curated "known good" model list surfaced
// by GET /api/config, grounded on the original PRESET_MODELS table.
type PresetModel struct {
	RepoID string `yaml:"repo_id"`
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the built-in default
// when the file does not exist. A missing config file is the common case
// for a fresh install and must never be treated as an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8756,
			MaxConnections: 64,
		},
		Generation: GenerationDefaults{
			Temperature:       0.7,
			TopP:              0.9,
			TopK:              50,
			MaxNewTokens:      1024,
			RepetitionPenalty: 1.05,
		},
		Devices: []string{"CPU", "GPU", "NPU", "AUTO"},
		Presets: []PresetModel{
			{RepoID: "OpenVINO/Qwen2.5-7B-Instruct-int4-ov", Name: "Qwen2.5 7B Instruct (INT4)", Kind: "llm"},
			{RepoID: "OpenVINO/Phi-3.5-mini-instruct-int4-ov", Name: "Phi-3.5 Mini Instruct (INT4)", Kind: "llm"},
			{RepoID: "OpenVINO/InternVL2-2B-int4-ov", Name: "InternVL2 2B (INT4)", Kind: "vlm"},
			{RepoID: "OpenVINO/stable-diffusion-v1-5-int8-ov", Name: "Stable Diffusion 1.5 (INT8)", Kind: "image"},
			{RepoID: "OpenVINO/whisper-base-int8-ov", Name: "Whisper Base (INT8)", Kind: "asr"},
		},
	}
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "idle-npu-waker", "config.yaml")
}

package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Paths is the resolved on-disk layout for one run of the host (spec §6.3).
// Once resolved at process start it is immutable; the dispatcher and
// supervisors must never rewrite it (spec §9).
type Paths struct {
	DataDir          string
	ConfigDir        string
	LogsDir          string
	ModelsDir        string
	DownloadCacheDir string
	OVCacheDir       string
	SessionsDB       string
	LangFile         string
}

// pathOverrides mirrors the optional paths.json document (spec §6.3).
type pathOverrides struct {
	ConfigDir        string `json:"config_dir"`
	LogsDir          string `json:"logs_dir"`
	ModelsDir        string `json:"models_dir"`
	DownloadCacheDir string `json:"download_cache_dir"`
	OVCacheDir       string `json:"ov_cache_dir"`
	SessionsDB       string `json:"sessions_db"`
}

// ResolvePaths computes the Paths layout rooted at dataDir. dataDir itself
// is resolved from, in order: the explicit argument, IDLE_NPU_DATA_DIR, then
// the XDG data home. A paths.json file under the resolved data directory may
// override any individual path; a missing or malformed file is silently
// ignored (spec §6.3 "silently ignored"), matching the original
// config_loader's swallow-and-continue behavior.
func ResolvePaths(dataDir string) (*Paths, error) {
	dataDir = resolveDataDir(dataDir)

	p := &Paths{
		DataDir:          dataDir,
		ConfigDir:        filepath.Join(dataDir, "config"),
		LogsDir:          filepath.Join(dataDir, "logs"),
		ModelsDir:        filepath.Join(dataDir, "models"),
		DownloadCacheDir: filepath.Join(dataDir, "download_cache"),
		OVCacheDir:       defaultOVCacheDir(dataDir),
		SessionsDB:       filepath.Join(dataDir, "sessions.db"),
		LangFile:         filepath.Join(dataDir, "lang.json"),
	}

	applyOverrides(p, filepath.Join(dataDir, "paths.json"))

	for _, dir := range []string{p.DataDir, p.ConfigDir, p.LogsDir, p.ModelsDir, p.DownloadCacheDir, p.OVCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func resolveDataDir(explicit string) string {
	if explicit != "" {
		return expand(explicit)
	}
	if v := os.Getenv("IDLE_NPU_DATA_DIR"); v != "" {
		return expand(v)
	}
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "idle-npu-waker")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".idle-npu-waker")
	}
	return filepath.Join(home, ".local", "share", "idle-npu-waker")
}

func defaultOVCacheDir(dataDir string) string {
	if v := os.Getenv("IDLE_NPU_OV_CACHE_DIR"); v != "" {
		return expand(v)
	}
	return filepath.Join(dataDir, "ov_cache")
}

// expand applies "~" and environment-variable expansion, matching spec
// §6.3's "path overrides honor ~ and environment expansion".
func expand(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func applyOverrides(p *Paths, overridesPath string) {
	data, err := os.ReadFile(overridesPath)
	if err != nil {
		return
	}
	var o pathOverrides
	if err := json.Unmarshal(data, &o); err != nil {
		log.Printf("config: ignoring malformed paths.json: %v", err)
		return
	}

	if o.ConfigDir != "" {
		p.ConfigDir = expand(o.ConfigDir)
	}
	if o.LogsDir != "" {
		p.LogsDir = expand(o.LogsDir)
	}
	if o.ModelsDir != "" {
		p.ModelsDir = expand(o.ModelsDir)
	}
	if o.DownloadCacheDir != "" {
		p.DownloadCacheDir = expand(o.DownloadCacheDir)
	}
	if o.OVCacheDir != "" {
		p.OVCacheDir = expand(o.OVCacheDir)
	}
	if o.SessionsDB != "" {
		p.SessionsDB = expand(o.SessionsDB)
	}
}

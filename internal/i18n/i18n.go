// Package i18n serves the translation dictionaries behind GET /api/i18n
// and GET /api/i18n/{lang} (spec §6.1), grounded on i18n.py's
// scan-a-directory-of-json-files design. Where the original scans
// app/lang/*.json beside the running executable, this host embeds the
// same per-language JSON documents into the binary: a server process has
// no "next to the executable" asset directory convention to rely on.
package i18n

import (
	"embed"
	"encoding/json"
	"sort"
	"strings"
)

//go:embed lang/*.json
var langFiles embed.FS

const defaultLang = "en_US"

// Manager holds every embedded language's parsed translation dictionary.
type Manager struct {
	translations map[string]map[string]string
}

// New scans the embedded lang directory the way i18n.py's _scan_languages
// walks its on-disk one, parsing each *.json into a flat string map.
func New() (*Manager, error) {
	entries, err := langFiles.ReadDir("lang")
	if err != nil {
		return nil, err
	}

	m := &Manager{translations: map[string]map[string]string{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		code := strings.TrimSuffix(e.Name(), ".json")
		data, err := langFiles.ReadFile("lang/" + e.Name())
		if err != nil {
			return nil, err
		}
		var dict map[string]string
		if err := json.Unmarshal(data, &dict); err != nil {
			return nil, err
		}
		m.translations[code] = dict
	}
	return m, nil
}

// Languages returns the available language codes, sorted, for GET /api/i18n.
func (m *Manager) Languages() []string {
	out := make([]string, 0, len(m.translations))
	for code := range m.translations {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Default is the fallback language, matching i18n.py's "en_US" default.
func (m *Manager) Default() string {
	return defaultLang
}

// Dictionary returns the translation map for lang, falling back to the
// default language when lang is unknown (i18n.py's load_language fallback
// behavior), and ok=false only when even the default is missing.
func (m *Manager) Dictionary(lang string) (map[string]string, bool) {
	if dict, ok := m.translations[lang]; ok {
		return dict, true
	}
	dict, ok := m.translations[defaultLang]
	return dict, ok
}

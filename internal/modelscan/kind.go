// Package modelscan walks a directory tree and classifies each model
// directory it finds as llm, vlm, image, or asr (spec §4.1), grounded on
// the original detect_model_kind/scan_dirs heuristics.
package modelscan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Kind is a model's inferred pipeline family.
type Kind string

const (
	KindLLM   Kind = "llm"
	KindVLM   Kind = "vlm"
	KindImage Kind = "image"
	KindASR   Kind = "asr"
)

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = Kind(s)
	return nil
}

var (
	languageMarker = "openvino_language_model.xml"
	vlmMarkers     = []string{
		"openvino_vision_embeddings_model.xml",
		"openvino_vision_model.xml",
		"openvino_image_embeddings_model.xml",
	}
	llmMarkers = []string{"openvino_model.xml", languageMarker}

	imageDirMarkers = []string{
		"scheduler", "text_encoder", "text_encoder_2", "tokenizer",
		"tokenizer_2", "transformer", "vae_decoder", "vae_encoder",
	}
	imageTasks = map[string]bool{
		"text-to-image": true, "text_to_image": true, "text2image": true,
		"image-generation": true, "image_generation": true, "txt2img": true,
	}
	asrTasks = map[string]bool{
		"automatic-speech-recognition": true, "speech-recognition": true,
		"asr": true, "speech_to_text": true, "speech-to-text": true,
	}

	// IR glob patterns, checked non-recursively in the candidate directory
	// (the scanner handles the "xml lives one level deeper" case itself).
	irPatterns = []string{"*.xml"}

	// Encoder/decoder IR pair used as a fallback ASR signal when no
	// explicit task/model_type field names whisper/speech.
	asrEncoderDecoder = [2]string{"openvino_encoder_model.xml", "openvino_decoder_model.xml"}
)

// DetectKind classifies the model directory rooted at path. It never
// returns an error: an unreadable or missing directory falls back to
// KindLLM, the spec's documented safe default.
//
// The rule order (asr → image → vlm → llm → llm-default) is a closed
// specification (spec §9): extend it only by adding markers to the lists
// above, never by re-ordering these branches.
func DetectKind(path string) Kind {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return KindLLM
	}

	if isASR(path) {
		return KindASR
	}
	if isImage(path) {
		return KindImage
	}

	hasLanguage := hasAny(path, []string{languageMarker}, false)
	hasVision := hasAny(path, vlmMarkers, false)
	if hasLanguage && hasVision {
		return KindVLM
	}
	if hasAny(path, llmMarkers, false) {
		return KindLLM
	}
	return KindLLM
}

func isASR(root string) bool {
	if cfg, ok := readJSON(filepath.Join(root, "configuration.json")); ok {
		if task, ok := cfg["task"].(string); ok && asrTasks[strings.ToLower(strings.TrimSpace(task))] {
			return true
		}
	}
	if idx, ok := readJSON(filepath.Join(root, "model_index.json")); ok {
		if cls, ok := idx["_class_name"].(string); ok {
			low := strings.ToLower(cls)
			if strings.Contains(low, "whisper") || strings.Contains(low, "speech") {
				return true
			}
		}
	}
	if cfg, ok := readJSON(filepath.Join(root, "config.json")); ok {
		if mt, ok := cfg["model_type"].(string); ok && strings.Contains(strings.ToLower(mt), "whisper") {
			return true
		}
	}
	if strings.Contains(strings.ToLower(filepath.Base(root)), "whisper") {
		return true
	}
	return hasFile(filepath.Join(root, asrEncoderDecoder[0])) && hasFile(filepath.Join(root, asrEncoderDecoder[1]))
}

func isImage(root string) bool {
	if cfg, ok := readJSON(filepath.Join(root, "configuration.json")); ok {
		if task, ok := cfg["task"].(string); ok && imageTasks[strings.ToLower(strings.TrimSpace(task))] {
			return true
		}
	}
	if _, ok := readJSON(filepath.Join(root, "model_index.json")); ok {
		// Presence of model_index.json is itself treated as "presumed
		// diffusion pipeline", matching the original's behavior of
		// returning true even when the class name doesn't parse.
		return true
	}
	for _, name := range imageDirMarkers {
		if hasDir(filepath.Join(root, name)) {
			return true
		}
	}
	return false
}

func readJSON(path string) (map[string]any, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

func hasFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func hasDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// hasAny reports whether any of the glob patterns match a file directly
// under dir (recursive=false) or anywhere beneath it (recursive=true).
func hasAny(dir string, patterns []string, recursive bool) bool {
	if recursive {
		found := false
		_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || found {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			for _, pat := range patterns {
				if ok, _ := filepath.Match(pat, filepath.Base(p)); ok {
					found = true
					return filepath.SkipAll
				}
			}
			return nil
		})
		return found
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, e.Name()); ok {
				return true
			}
		}
	}
	return false
}

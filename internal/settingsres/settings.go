// Package settingsres resolves, for a given model, the subset of
// generation parameters the runtime will accept (spec §4.2), grounded on
// resolve_supported_setting_keys.
package settingsres

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/FangAiden/Idle-NPU-Waker/internal/modelscan"
)

// Rule is one entry (or the defaults block) of the settings schema file.
type Rule struct {
	Mode          string   `json:"mode"`
	SupportedKeys []string `json:"supported_keys"`
	AppKeys       []string `json:"app_keys"`
	Include       []string `json:"include"`
	Exclude       []string `json:"exclude"`
	Aliases       []string `json:"aliases"`
}

// Schema is the on-disk settings schema document (spec §4.2 step 2).
type Schema struct {
	Defaults Rule            `json:"defaults"`
	Models   map[string]Rule `json:"models"`
}

// LoadSchema reads the settings schema from path. A missing file returns an
// empty, usable schema rather than an error -- the resolver's fail-open
// fallback (step 6) makes an absent schema equivalent to "support
// everything".
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Schema{Models: map[string]Rule{}}, nil
		}
		return nil, err
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Models == nil {
		s.Models = map[string]Rule{}
	}
	return &s, nil
}

// ImageParamSource is the contract boundary with the native image
// pipeline's config object (spec §4.2 step 1: "MUST be introspected, not
// hard-coded"). The native OpenVINO GenAI ImageGenerationConfig type is an
// out-of-scope external collaborator (spec §1); production wiring supplies
// an ImageParamSource that reflects over the live pipeline object, the way
// the original's _infer_image_setting_keys walked dir(cfg).
type ImageParamSource interface {
	ImageParameterSurface() []string
}

// DefaultImageParamSource is used when no live pipeline is available (no
// model loaded yet, or introspection failed) -- the same hard-coded
// fallback set the original used when its own reflection attempt raised.
type DefaultImageParamSource struct{}

func (DefaultImageParamSource) ImageParameterSurface() []string {
	return []string{
		"negative_prompt", "num_inference_steps", "guidance_scale",
		"width", "height", "num_images_per_prompt", "rng_seed", "max_sequence_length",
	}
}

// Resolve implements spec §4.2's six-step resolution and returns the
// supported key set as a sorted slice for deterministic output.
func Resolve(modelName, modelPath string, kind modelscan.Kind, allKeys []string, schema *Schema, imageSource ImageParamSource) []string {
	all := toSet(allKeys)

	if kind == modelscan.KindImage {
		if imageSource == nil {
			imageSource = DefaultImageParamSource{}
		}
		return sortedSlice(intersect(toSet(imageSource.ImageParameterSurface()), all))
	}

	if schema == nil {
		schema = &Schema{Models: map[string]Rule{}}
	}

	var matched *Rule
	for ruleID, rule := range schema.Models {
		r := rule
		if matchRule(ruleID, &r, modelName, modelPath) {
			matched = &r
			break
		}
	}

	mode := schema.Defaults.Mode
	if matched != nil && matched.Mode != "" {
		mode = matched.Mode
	}
	if mode == "" {
		mode = "all"
	}

	var supported map[string]bool
	switch mode {
	case "auto":
		supported = scanGenerationConfigKeys(modelPath)
		if len(supported) == 0 && len(all) > 0 {
			supported = cloneSet(all)
		}
	case "list":
		keys := schema.Defaults.SupportedKeys
		if matched != nil && len(matched.SupportedKeys) > 0 {
			keys = matched.SupportedKeys
		}
		supported = toSet(keys)
	case "none":
		supported = map[string]bool{}
	default:
		supported = cloneSet(all)
	}

	appKeys := schema.Defaults.AppKeys
	if matched != nil && matched.AppKeys != nil {
		appKeys = matched.AppKeys
	}
	for k := range toSet(appKeys) {
		supported[k] = true
	}

	if matched != nil {
		for k := range toSet(matched.Include) {
			supported[k] = true
		}
		for k := range toSet(matched.Exclude) {
			delete(supported, k)
		}
	}

	if len(all) > 0 {
		supported = intersect(supported, all)
	}

	if len(supported) == 0 && len(all) > 0 {
		supported = cloneSet(all)
	}

	return sortedSlice(supported)
}

func matchRule(ruleID string, rule *Rule, modelName, modelPath string) bool {
	if ruleID == "" {
		return false
	}
	var candidates []string
	if modelName != "" {
		candidates = append(candidates, modelName)
	}
	if modelPath != "" {
		candidates = append(candidates, filepath.Base(modelPath))
	}
	candidates = append(candidates, rule.Aliases...)

	ruleNorm := strings.ToLower(ruleID)
	ruleBase := strings.ToLower(filepath.Base(ruleID))

	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		candNorm := strings.ToLower(cand)
		if candNorm == ruleNorm || candNorm == ruleBase {
			return true
		}
		if strings.Contains(candNorm, ruleNorm) || strings.Contains(ruleNorm, candNorm) {
			return true
		}
	}
	return false
}

// scanGenerationConfigKeys reads the top-level keys of
// <modelPath>/generation_config.json, spec §4.2 mode "auto".
func scanGenerationConfigKeys(modelPath string) map[string]bool {
	if modelPath == "" {
		return map[string]bool{}
	}
	data, err := os.ReadFile(filepath.Join(modelPath, "generation_config.json"))
	if err != nil {
		return map[string]bool{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]bool{}
	}
	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return keys
}

// LoadModelJSONConfigs merges config.json and generation_config.json from a
// model directory into one map, surfaced by GET /api/models/config.
func LoadModelJSONConfigs(modelPath string) map[string]any {
	merged := map[string]any{}

	if cfg, ok := readJSONMap(filepath.Join(modelPath, "config.json")); ok {
		if v, ok := cfg["max_position_embeddings"]; ok {
			merged["model_max_length"] = v
		} else if v, ok := cfg["seq_length"]; ok {
			merged["model_max_length"] = v
		} else {
			merged["model_max_length"] = 8192
		}
		if v, ok := cfg["vocab_size"]; ok {
			merged["vocab_size"] = v
		} else {
			merged["vocab_size"] = 0
		}
	}

	if gen, ok := readJSONMap(filepath.Join(modelPath, "generation_config.json")); ok {
		for _, key := range []string{"temperature", "top_p", "top_k", "repetition_penalty",
			"max_new_tokens", "do_sample", "no_repeat_ngram_size", "eos_token_id"} {
			if v, ok := gen[key]; ok {
				merged[key] = v
			}
		}
	}

	return merged
}

func readJSONMap(path string) (map[string]any, bool) {
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

func toSet(keys []string) map[string]bool {
	s := make(map[string]bool, len(keys))
	for _, k := range keys {
		s[k] = true
	}
	return s
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func sortedSlice(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

package modelscan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Descriptor is a discovered model directory (spec §3 "Model descriptor").
type Descriptor struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

var tokenizerPatterns = []string{
	"tokenizer*.json", "vocab.json", "merges.txt", "*.model", "special_tokens_map.json",
}

const defaultMaxDepth = 4

// Scan walks each root up to maxDepth (0 uses the spec's default of 4) and
// returns a deduplicated, name-sorted list of model descriptors (spec
// §4.1). Unreadable directories are skipped, not fatal.
func Scan(roots []string, maxDepth int) []Descriptor {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	seen := map[string]bool{}
	var found []Descriptor

	for _, root := range roots {
		walk(root, 0, maxDepth, seen, &found)
	}

	sort.Slice(found, func(i, j int) bool {
		return strings.ToLower(found[i].Name) < strings.ToLower(found[j].Name)
	})
	return found
}

func walk(root string, depth, maxDepth int, seen map[string]bool, found *[]Descriptor) {
	if depth > maxDepth {
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())

		hasIRHere := hasAny(dir, irPatterns, false)
		hasIRSub := false
		if !hasIRHere {
			hasIRSub = hasAny(dir, irPatterns, true)
		}

		if hasIRHere || hasIRSub {
			addDescriptor(dir, hasIRHere, seen, found)
		}

		walk(dir, depth+1, maxDepth, seen, found)
	}
}

func addDescriptor(dir string, hasIRHere bool, seen map[string]bool, found *[]Descriptor) {
	kind := DetectKind(dir)

	if kind == KindImage {
		addIfNew(dir, dir, kind, seen, found)
		return
	}

	xmlDir := dir
	if !hasIRHere {
		if sub := firstIRSubdir(dir); sub != "" {
			xmlDir = sub
		}
	}

	modelRoot := nearestTokenizerAncestor(xmlDir)
	if !hasAny(modelRoot, tokenizerPatterns, false) {
		return
	}
	addIfNew(modelRoot, modelRoot, kind, seen, found)
}

func addIfNew(name, path string, kind Kind, seen map[string]bool, found *[]Descriptor) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		canonical = path
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	if seen[canonical] {
		return
	}
	seen[canonical] = true
	*found = append(*found, Descriptor{
		Name: filepath.Base(name),
		Path: canonical,
		Kind: kind,
	})
}

// firstIRSubdir returns the directory containing the first IR xml file
// found anywhere beneath dir.
func firstIRSubdir(dir string) string {
	var result string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || result != "" || d.IsDir() {
			return nil
		}
		for _, pat := range irPatterns {
			if ok, _ := filepath.Match(pat, filepath.Base(p)); ok {
				result = filepath.Dir(p)
				return filepath.SkipAll
			}
		}
		return nil
	})
	return result
}

// nearestTokenizerAncestor walks up at most 3 levels from xmlDir looking
// for tokenizer artifacts, per spec §4.1.
func nearestTokenizerAncestor(xmlDir string) string {
	cur := xmlDir
	for i := 0; i < 3; i++ {
		if hasAny(cur, tokenizerPatterns, false) {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return xmlDir
}

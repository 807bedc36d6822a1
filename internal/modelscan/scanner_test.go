package modelscan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectKindLLM(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "openvino_model.xml"))
	writeFile(t, filepath.Join(root, "tokenizer.json"))

	if got := DetectKind(root); got != KindLLM {
		t.Errorf("DetectKind = %q, want llm", got)
	}
}

func TestDetectKindVLM(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "openvino_language_model.xml"))
	writeFile(t, filepath.Join(root, "openvino_vision_model.xml"))

	if got := DetectKind(root); got != KindVLM {
		t.Errorf("DetectKind = %q, want vlm", got)
	}
}

func TestDetectKindImageByPipelineDirs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "text_encoder"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "vae_decoder"), 0o755); err != nil {
		t.Fatal(err)
	}

	if got := DetectKind(root); got != KindImage {
		t.Errorf("DetectKind = %q, want image", got)
	}
}

func TestDetectKindASRByName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "whisper-base-int8")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := DetectKind(root); got != KindASR {
		t.Errorf("DetectKind = %q, want asr", got)
	}
}

func TestDetectKindMissingDirDefaultsLLM(t *testing.T) {
	if got := DetectKind(filepath.Join(t.TempDir(), "does-not-exist")); got != KindLLM {
		t.Errorf("DetectKind = %q, want llm default", got)
	}
}

func TestScanFindsNearestTokenizerAncestor(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "my-model")
	writeFile(t, filepath.Join(modelDir, "tokenizer.json"))
	writeFile(t, filepath.Join(modelDir, "FP16", "openvino_model.xml"))

	found := Scan([]string{root}, 4)
	if len(found) != 1 {
		t.Fatalf("Scan found %d descriptors, want 1: %+v", len(found), found)
	}
	if found[0].Path != modelDir {
		t.Errorf("Path = %q, want %q", found[0].Path, modelDir)
	}
	if found[0].Name != "my-model" {
		t.Errorf("Name = %q, want my-model", found[0].Name)
	}
}

func TestScanDedupesByCanonicalPath(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "m")
	writeFile(t, filepath.Join(modelDir, "tokenizer.json"))
	writeFile(t, filepath.Join(modelDir, "openvino_model.xml"))

	found := Scan([]string{root, root}, 4)
	if len(found) != 1 {
		t.Fatalf("Scan found %d descriptors, want 1 after dedup", len(found))
	}
}

func TestScanSortsCaseInsensitively(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"Zeta", "alpha", "Beta"} {
		dir := filepath.Join(root, name)
		writeFile(t, filepath.Join(dir, "tokenizer.json"))
		writeFile(t, filepath.Join(dir, "openvino_model.xml"))
	}

	found := Scan([]string{root}, 4)
	if len(found) != 3 {
		t.Fatalf("Scan found %d, want 3", len(found))
	}
	want := []string{"alpha", "Beta", "Zeta"}
	for i, d := range found {
		if d.Name != want[i] {
			t.Errorf("found[%d].Name = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestScanSkipsUnreadableRoot(t *testing.T) {
	found := Scan([]string{filepath.Join(t.TempDir(), "missing")}, 4)
	if len(found) != 0 {
		t.Errorf("Scan = %+v, want empty", found)
	}
}

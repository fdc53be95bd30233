package modelconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testDocYAML = `
defaultModel: claude-sonnet-4-20250514
providers:
  - name: anthropic
    baseURL: https://api.anthropic.com
    apiKeyEnv: ANTHROPIC_API_KEY
    model: claude-sonnet-4-20250514
  - name: anthropic-fast
    baseURL: https://api.anthropic.com
    apiKeyEnv: ANTHROPIC_API_KEY
    model: claude-haiku-4-20250514
`

func writeTempDoc(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(fp, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return fp
}

func TestFileSource_Load(t *testing.T) {
	fp := writeTempDoc(t, testDocYAML)

	src := NewFileSource(fp)
	doc, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if doc.DefaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected defaultModel: %q", doc.DefaultModel)
	}
	if len(doc.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(doc.Providers))
	}

	fast, ok := doc.ProviderNamed("anthropic-fast")
	if !ok {
		t.Fatal("expected to find provider 'anthropic-fast'")
	}
	if fast.Model != "claude-haiku-4-20250514" {
		t.Errorf("unexpected model for anthropic-fast: %q", fast.Model)
	}
	if fast.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("unexpected apiKeyEnv: %q", fast.APIKeyEnv)
	}
}

func TestFileSource_Load_NonExistent(t *testing.T) {
	src := NewFileSource("/nonexistent/path/models.yaml")
	_, err := src.Load(context.Background())
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestFileSource_ProviderNamed_Missing(t *testing.T) {
	fp := writeTempDoc(t, testDocYAML)
	src := NewFileSource(fp)
	doc, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, ok := doc.ProviderNamed("does-not-exist"); ok {
		t.Fatal("expected ProviderNamed to report not-found for an unknown name")
	}
}

func TestFileSource_Hash_StableAndSensitiveToContent(t *testing.T) {
	fp := writeTempDoc(t, testDocYAML)
	src := NewFileSource(fp)
	ctx := context.Background()

	h1, err := src.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	h2, err := src.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected Hash to be stable across calls when the file is unchanged")
	}

	fp2 := writeTempDoc(t, testDocYAML+"\n")
	src2 := NewFileSource(fp2)
	h3, err := src2.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if h1 == h3 {
		t.Fatal("expected Hash to change when the file's bytes change")
	}
}

func TestFileSource_NameAndPath(t *testing.T) {
	src := NewFileSource("/tmp/models.yaml")
	if src.Path() != "/tmp/models.yaml" {
		t.Errorf("unexpected Path(): %q", src.Path())
	}
	if src.Name() != "file:/tmp/models.yaml" {
		t.Errorf("unexpected Name(): %q", src.Name())
	}
}

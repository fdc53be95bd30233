package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempTemplate(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "prompt.tmpl")
	if err := os.WriteFile(fp, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return fp
}

func TestLoadFile_RenderSubstitutesData(t *testing.T) {
	fp := writeTempTemplate(t, "Summarize the following {{.Kind}} in {{.Words}} words:\n{{.Body}}")
	tmpl, err := LoadFile(fp)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	out, err := tmpl.Render(map[string]any{
		"Kind":  "article",
		"Words": 50,
		"Body":  "the quick brown fox",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	want := "Summarize the following article in 50 words:\nthe quick brown fox"
	if out != want {
		t.Errorf("unexpected render:\n got:  %q\n want: %q", out, want)
	}
}

func TestLoadFile_NonExistent(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/prompt.tmpl")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadFile_InvalidTemplateSyntax(t *testing.T) {
	fp := writeTempTemplate(t, "{{.Unclosed")
	_, err := LoadFile(fp)
	if err == nil {
		t.Fatal("expected a parse error for invalid template syntax")
	}
}

func TestTemplate_Render_MissingFieldErrors(t *testing.T) {
	fp := writeTempTemplate(t, "{{.Body.Nested}}")
	tmpl, err := LoadFile(fp)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	_, err = tmpl.Render(map[string]any{"Body": "not-a-struct"})
	if err == nil {
		t.Fatal("expected Render to error when the template references a field on a non-struct value")
	}
}

func TestTemplate_Name(t *testing.T) {
	fp := writeTempTemplate(t, "hi")
	tmpl, err := LoadFile(fp)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if tmpl.Name() != fp {
		t.Errorf("expected Name() to return the source path %q, got %q", fp, tmpl.Name())
	}
}

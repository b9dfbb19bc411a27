package cli

import "testing"

func TestInferExtPrefersDeclared(t *testing.T) {
	if got := inferExt("export.zip", "xml"); got != "xml" {
		t.Fatalf("expected declared extension to win, got %q", got)
	}
}

func TestInferExtFallsBackToPathSuffix(t *testing.T) {
	if got := inferExt("export.zip", ""); got != "zip" {
		t.Fatalf("expected zip, got %q", got)
	}
	if got := inferExt("export.xml", ""); got != "xml" {
		t.Fatalf("expected xml, got %q", got)
	}
}

func TestInferExtNoExtensionReturnsEmpty(t *testing.T) {
	if got := inferExt("export", ""); got != "" {
		t.Fatalf("expected empty extension, got %q", got)
	}
}

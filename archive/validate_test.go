package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"vitalpipe.dev/ingesterr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestValidateUnsupportedExtension(t *testing.T) {
	_, err := Validate("whatever", "pdf", 0)
	if !ingesterr.Is(err, ingesterr.UnsupportedInput) {
		t.Fatalf("expected UnsupportedInput, got %v", err)
	}
}

func TestValidateXMLHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.xml", `<HealthData><Record/></HealthData>`)

	c, err := Validate(path, "xml", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	defer c.Reader.Close()

	data, err := io.ReadAll(c.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `<HealthData><Record/></HealthData>` {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestValidateXMLTruncated(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.xml", `<HealthData><Record/>`)

	_, err := Validate(path, "xml", 0)
	if !ingesterr.Is(err, ingesterr.InputTruncated) {
		t.Fatalf("expected InputTruncated, got %v", err)
	}
}

func TestValidateXMLTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.xml", `<HealthData></HealthData>`)

	_, err := Validate(path, "xml", 4)
	if !ingesterr.Is(err, ingesterr.InputTooLarge) {
		t.Fatalf("expected InputTooLarge, got %v", err)
	}
}

func TestValidateZipPrefersExportXML(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "archive.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"apple_health_export/other.xml":  `<HealthData><Record/></HealthData>`,
		"apple_health_export/export.xml": `<HealthData><Record id="1"/></HealthData>`,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	c, err := Validate(zipPath, "zip", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	defer c.Reader.Close()

	data, err := io.ReadAll(c.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `<HealthData><Record id="1"/></HealthData>` {
		t.Fatalf("expected export.xml content, got %s", data)
	}
}

func TestValidateZipRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "archive.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../../etc/evil.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(`<HealthData></HealthData>`)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	_, err = Validate(zipPath, "zip", 0)
	if !ingesterr.Is(err, ingesterr.ArchiveMalformed) {
		t.Fatalf("expected ArchiveMalformed, got %v", err)
	}
}

package manifest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/matzehuels/depot/pkg/errors"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractRootManifest(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"composer.json": `{"name":"vendor/test","type":"library"}`,
		"src/Foo.php":   "<?php",
	})

	m, prefix, err := Extract(archive)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if prefix != "" {
		t.Errorf("expected empty prefix, got %q", prefix)
	}
	if m.Name() != "vendor/test" {
		t.Errorf("expected name vendor/test, got %q", m.Name())
	}
	if m.Type() != "library" {
		t.Errorf("expected type library, got %q", m.Type())
	}
}

func TestExtractWrappedManifest(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"foo/composer.json": `{"name":"vendor/test"}`,
		"foo/src/Foo.php":   "<?php",
	})

	m, prefix, err := Extract(archive)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if prefix != "foo/" {
		t.Errorf("expected prefix foo/, got %q", prefix)
	}
	if m.Name() != "vendor/test" {
		t.Errorf("expected name vendor/test, got %q", m.Name())
	}
}

func TestExtractPrefersRootManifest(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"composer.json":     `{"name":"vendor/root"}`,
		"foo/composer.json": `{"name":"vendor/wrapped"}`,
	})

	m, prefix, err := Extract(archive)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if prefix != "" || m.Name() != "vendor/root" {
		t.Errorf("expected root manifest, got prefix=%q name=%q", prefix, m.Name())
	}
}

func TestExtractManifestNotFound(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no manifest anywhere", map[string]string{"src/Foo.php": "<?php"}},
		{"too deep", map[string]string{"a/b/composer.json": `{}`}},
		{"two top-level dirs", map[string]string{
			"a/composer.json": `{}`,
			"b/readme.md":     "x",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Extract(makeZip(t, tt.files))
			if !errors.Is(err, errors.ErrCodeManifestNotFound) {
				t.Errorf("expected MANIFEST_NOT_FOUND, got %v", err)
			}
		})
	}
}

func TestExtractInvalidArchive(t *testing.T) {
	_, _, err := Extract([]byte("this is not a zip"))
	if !errors.Is(err, errors.ErrCodeArchiveOpen) {
		t.Errorf("expected ARCHIVE_OPEN_FAILED, got %v", err)
	}
}

func TestExtractMalformedManifest(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"composer.json": `{"name": "vendor/test"`,
	})

	_, _, err := Extract(archive)
	if !errors.Is(err, errors.ErrCodeManifestParse) {
		t.Errorf("expected MANIFEST_PARSE_FAILED, got %v", err)
	}
}

// Package manifest extracts and parses the composer.json descriptor from
// package archives.
//
// Archives produced by source hosts usually wrap the package in a single
// top-level directory named after the repository and commit. The extractor
// tolerates exactly one level of wrapping: if composer.json is not at the
// archive root, it looks inside the sole top-level directory and reports
// that directory as the subdirectory prefix so later consumers can resolve
// other in-archive paths relative to the real package root.
package manifest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/matzehuels/depot/pkg/errors"
)

// FileName is the package descriptor file looked up inside archives.
const FileName = "composer.json"

// Manifest holds the parsed composer.json of a package version.
// Raw is stored verbatim on the version record; Doc gives decoded access
// for consumers that read fields defensively.
type Manifest struct {
	Raw json.RawMessage
	Doc map[string]any
}

// Name returns the package name declared in the manifest, if any.
// The declared name is advisory; canonical names come from the repository.
func (m *Manifest) Name() string {
	s, _ := m.Doc["name"].(string)
	return s
}

// Type returns the package type declared in the manifest, if any.
func (m *Manifest) Type() string {
	s, _ := m.Doc["type"].(string)
	return s
}

// Extract locates and parses composer.json in a zip archive.
//
// It returns the manifest and the subdirectory prefix under which the
// package content lives ("" when the manifest sits at the archive root,
// "foo/" when the archive wraps the package in a single directory foo).
//
// Failure modes: ARCHIVE_OPEN_FAILED when the bytes are not a valid zip
// container, MANIFEST_NOT_FOUND when composer.json is in neither location,
// MANIFEST_PARSE_FAILED when the file is not well-formed JSON.
func Extract(archive []byte) (*Manifest, string, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeArchiveOpen, err, "failed to open archive")
	}

	f, prefix := locate(r)
	if f == nil {
		return nil, "", errors.New(errors.ErrCodeManifestNotFound, "%s not found in archive", FileName)
	}

	data, err := readAll(f)
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeArchiveOpen, err, "failed to read %s", f.Name)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeManifestParse, err, "%s is not valid JSON", f.Name)
	}

	return &Manifest{Raw: data, Doc: doc}, prefix, nil
}

// locate finds composer.json at the archive root, or at the root of the
// single top-level wrapping directory. Returns the entry and the prefix.
func locate(r *zip.Reader) (*zip.File, string) {
	for _, f := range r.File {
		if f.Name == FileName {
			return f, ""
		}
	}

	prefix, ok := soleTopLevelDir(r)
	if !ok {
		return nil, ""
	}
	for _, f := range r.File {
		if f.Name == prefix+FileName {
			return f, prefix
		}
	}
	return nil, ""
}

// soleTopLevelDir reports the single top-level directory of the archive,
// with a trailing slash. Returns ok=false when the archive has entries
// under more than one top-level name.
func soleTopLevelDir(r *zip.Reader) (string, bool) {
	var top string
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "./")
		i := strings.Index(name, "/")
		if i < 0 {
			// Top-level file other than the manifest; still fine, the
			// wrapper rule only cares about directory names.
			continue
		}
		dir := name[:i+1]
		if top == "" {
			top = dir
		} else if top != dir {
			return "", false
		}
	}
	return top, top != ""
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

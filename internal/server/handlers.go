package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/depot/internal/ingest"
	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
)

// maxUploadSize bounds uploaded archive bodies.
const maxUploadSize = 64 << 20

// handleRoot serves packages.json, the composer repository entry point.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	base := s.repoURL(repo)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"metadata-url": base + "/p2/%package%.json",
		"search":       base + "/search.json?q=%query%&type=%type%",
		"list":         base + "/list.json",
	})
}

type searchResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Downloads   int64  `json:"downloads"`
}

// handleSearch serves search.json with prefix matching on package names.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())

	pkgs, err := s.store.SearchPackages(r.Context(), repo.ID,
		r.URL.Query().Get("q"), r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results := make([]searchResult, 0, len(pkgs))
	for _, p := range pkgs {
		results = append(results, searchResult{
			Name:        p.Name,
			Description: p.Description,
			Downloads:   p.Downloads,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// handleList serves list.json, the flat package name listing.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())

	pkgs, err := s.store.ListPackages(r.Context(), repo.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"packageNames": names})
}

// handleMetadata serves p2 version metadata. The ~dev suffix on the file
// name selects the dev (branch) versions; without it only tagged versions
// are listed.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	vendor := chi.URLParam(r, "vendor")
	file := chi.URLParam(r, "name")

	name, ok := strings.CutSuffix(file, ".json")
	if !ok {
		s.writeError(w, r, errors.New(errors.ErrCodePackageNotFound, "unknown metadata file %q", file))
		return
	}
	name, dev := strings.CutSuffix(name, "~dev")
	pkgName := vendor + "/" + name

	pkg, err := s.store.FindPackage(r.Context(), repo.ID, pkgName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	versions, err := s.store.ListVersions(r.Context(), pkg.ID, dev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		entries = append(entries, s.versionMetadata(repo, pkg, v))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"packages": map[string]any{pkgName: entries},
		"minified": "composer/2.0",
	})
}

// versionMetadata merges the stored manifest with the server-owned
// version and dist fields. The manifest wins nothing: version, dist and
// time always reflect the ingested state.
func (s *Server) versionMetadata(repo *store.Repository, pkg *store.Package, v store.Version) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(v.Metadata, &doc); err != nil || doc == nil {
		doc = map[string]any{"name": pkg.Name}
	}
	doc["version"] = v.Name
	doc["time"] = v.UpdatedAt.UTC().Format(time.RFC3339)
	doc["dist"] = map[string]any{
		"type":   "zip",
		"url":    fmt.Sprintf("%s/dist/%s/%s.zip", s.repoURL(repo), pkg.Name, v.Name),
		"shasum": v.Shasum,
	}
	return doc
}

// handleDownload serves a stored archive and records the download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	pkgName := chi.URLParam(r, "vendor") + "/" + chi.URLParam(r, "name")

	versionName, ok := strings.CutSuffix(chi.URLParam(r, "*"), ".zip")
	if !ok || versionName == "" {
		s.writeError(w, r, errors.New(errors.ErrCodeVersionNotFound, "missing version"))
		return
	}

	pkg, err := s.store.FindPackage(r.Context(), repo.ID, pkgName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.FindVersion(r.Context(), pkg.ID, versionName); err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.archives.Get(r.Context(), pkgName, versionName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.engine.RecordDownload(r.Context(), pkg, versionName)

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("client aborted download", "package", pkgName, "err", err)
	}
}

// handleUpload ingests a manually uploaded archive. The version name
// comes from the "version" query parameter; the body is the raw zip.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())

	archive, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeArchiveOpen, err, "reading upload body"))
		return
	}

	v, err := s.engine.FromUpload(r.Context(), repo, r.URL.Query().Get("version"), archive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

// handleProjects lists provider projects available for registration.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src := &store.Source{
		Provider: q.Get("provider"),
		URL:      q.Get("url"),
		Token:    q.Get("token"),
	}
	projects, err := s.engine.ListProjects(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type registerRequest struct {
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	Token     string `json:"token"`
	ProjectID string `json:"project_id"`
	FullName  string `json:"full_name"`
}

// handleRegister binds a provider project to a package and registers the
// incoming webhook for it.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeUnrecognizedPayload, err, "malformed request body"))
		return
	}

	pkg, err := s.engine.Register(r.Context(), repo, s.registration(repo, req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

// handleSync re-imports every branch and tag of a registered package.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	pkgName := chi.URLParam(r, "vendor") + "/" + chi.URLParam(r, "name")

	pkg, err := s.store.FindPackage(r.Context(), repo.ID, pkgName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	imported, err := s.engine.Sync(r.Context(), pkg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}

func (s *Server) registration(repo *store.Repository, req registerRequest) ingest.Registration {
	return ingest.Registration{
		Source: store.Source{
			Provider:  req.Provider,
			URL:       req.URL,
			Token:     req.Token,
			ProjectID: req.ProjectID,
		},
		FullName: req.FullName,
		Hook: source.WebhookConfig{
			CallbackURL: s.repoURL(repo) + "/incoming/" + req.Provider,
			Secret:      s.secret,
		},
	}
}

func (s *Server) repoURL(repo *store.Repository) string {
	return strings.TrimSuffix(s.baseURL, "/") + "/" + repo.Name
}

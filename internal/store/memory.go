package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/version"
)

// MemoryStore is a mutex-guarded in-memory Store. Used by tests and by
// `depot serve --dev` when no MongoDB is configured. All writes happen
// under one lock, which trivially satisfies the atomicity contract.
type MemoryStore struct {
	mu           sync.RWMutex
	repositories map[string]*Repository // by id
	packages     map[string]*Package    // by id
	versions     map[string]*Version    // by id
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repositories: make(map[string]*Repository),
		packages:     make(map[string]*Package),
		versions:     make(map[string]*Version),
		now:          time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) FindRepository(_ context.Context, name string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, repo := range s.repositories {
		if repo.Name == name {
			c := *repo
			return &c, nil
		}
	}
	return nil, errors.New(errors.ErrCodeRepoNotFound, "repository %q not found", name)
}

func (s *MemoryStore) CreateRepository(_ context.Context, repo *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = s.now()
	}
	c := *repo
	s.repositories[repo.ID] = &c
	return nil
}

func (s *MemoryStore) FindPackage(_ context.Context, repositoryID, name string) (*Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pkg := s.findPackageLocked(repositoryID, name); pkg != nil {
		c := *pkg
		return &c, nil
	}
	return nil, errors.New(errors.ErrCodePackageNotFound, "package %q not found", name)
}

func (s *MemoryStore) findPackageLocked(repositoryID, name string) *Package {
	for _, pkg := range s.packages {
		if pkg.RepositoryID == repositoryID && pkg.Name == name {
			return pkg
		}
	}
	return nil
}

func (s *MemoryStore) CreatePackage(_ context.Context, pkg *Package) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findPackageLocked(pkg.RepositoryID, pkg.Name); existing != nil {
		c := *existing
		return &c, nil
	}
	c := *pkg
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.packages[c.ID] = &c
	out := c
	return &out, nil
}

func (s *MemoryStore) SetPackageSource(_ context.Context, packageID string, src *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.packages[packageID]
	if !ok {
		return errors.New(errors.ErrCodePackageNotFound, "package %s not found", packageID)
	}
	c := *src
	pkg.Source = &c
	return nil
}

func (s *MemoryStore) ListPackages(_ context.Context, repositoryID string) ([]Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Package
	for _, pkg := range s.packages {
		if pkg.RepositoryID == repositoryID {
			out = append(out, *pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SearchPackages(_ context.Context, repositoryID, q, pkgType string) ([]Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Package
	for _, pkg := range s.packages {
		if pkg.RepositoryID != repositoryID {
			continue
		}
		if q != "" && !strings.HasPrefix(pkg.Name, q) {
			continue
		}
		if pkgType != "" && pkg.Type != pkgType {
			continue
		}
		out = append(out, *pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) FindVersion(_ context.Context, packageID, name string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.PackageID == packageID && v.Name == name {
			c := *v
			return &c, nil
		}
	}
	return nil, errors.New(errors.ErrCodeVersionNotFound, "version %q not found", name)
}

func (s *MemoryStore) ListVersions(_ context.Context, packageID string, dev bool) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Version
	for _, v := range s.versions {
		if v.PackageID == packageID && version.IsDev(v.Name) == dev {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpsertVersion(_ context.Context, packageID, name, shasum string, metadata json.RawMessage) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, v := range s.versions {
		if v.PackageID == packageID && v.Name == name {
			v.Shasum = shasum
			v.Metadata = append(json.RawMessage(nil), metadata...)
			v.UpdatedAt = now
			c := *v
			return &c, nil
		}
	}
	v := &Version{
		ID:        uuid.NewString(),
		PackageID: packageID,
		Name:      name,
		Shasum:    shasum,
		Metadata:  append(json.RawMessage(nil), metadata...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.versions[v.ID] = v
	c := *v
	return &c, nil
}

func (s *MemoryStore) DeleteVersion(_ context.Context, versionID string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "version %s not found", versionID)
	}
	delete(s.versions, versionID)
	return v, nil
}

func (s *MemoryStore) IncrementDownloads(_ context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.packages[packageID]
	if !ok {
		return errors.New(errors.ErrCodePackageNotFound, "package %s not found", packageID)
	}
	pkg.Downloads++
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/matzehuels/depot/pkg/errors"
)

func seed(t *testing.T, s *MemoryStore) (*Repository, *Package) {
	t.Helper()
	ctx := context.Background()

	repo := &Repository{Name: "main"}
	if err := s.CreateRepository(ctx, repo); err != nil {
		t.Fatalf("CreateRepository failed: %v", err)
	}
	pkg, err := s.CreatePackage(ctx, &Package{
		RepositoryID: repo.ID,
		Name:         "acme/widget",
		Type:         TypeLibrary,
	})
	if err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	return repo, pkg
}

func TestFindRepository(t *testing.T) {
	s := NewMemoryStore()
	repo, _ := seed(t, s)

	got, err := s.FindRepository(context.Background(), "main")
	if err != nil {
		t.Fatalf("FindRepository failed: %v", err)
	}
	if got.ID != repo.ID {
		t.Errorf("expected repository %s, got %s", repo.ID, got.ID)
	}

	_, err = s.FindRepository(context.Background(), "missing")
	if !errors.Is(err, errors.ErrCodeRepoNotFound) {
		t.Errorf("expected REPOSITORY_NOT_FOUND, got %v", err)
	}
}

func TestCreatePackageReturnsExisting(t *testing.T) {
	s := NewMemoryStore()
	repo, pkg := seed(t, s)

	again, err := s.CreatePackage(context.Background(), &Package{
		RepositoryID: repo.ID,
		Name:         "acme/widget",
		Type:         TypeProject,
	})
	if err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	if again.ID != pkg.ID {
		t.Errorf("expected existing package %s, got %s", pkg.ID, again.ID)
	}
	if again.Type != TypeLibrary {
		t.Errorf("existing package type must win, got %s", again.Type)
	}
}

func TestFindPackageNotFound(t *testing.T) {
	s := NewMemoryStore()
	repo, _ := seed(t, s)

	_, err := s.FindPackage(context.Background(), repo.ID, "acme/missing")
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Errorf("expected PACKAGE_NOT_FOUND, got %v", err)
	}
}

func TestUpsertVersionInsertThenOverwrite(t *testing.T) {
	s := NewMemoryStore()
	_, pkg := seed(t, s)
	ctx := context.Background()

	v1, err := s.UpsertVersion(ctx, pkg.ID, "1.0.0", "aaa", json.RawMessage(`{"name":"acme/widget"}`))
	if err != nil {
		t.Fatalf("UpsertVersion failed: %v", err)
	}

	v2, err := s.UpsertVersion(ctx, pkg.ID, "1.0.0", "bbb", json.RawMessage(`{"name":"acme/widget","extra":1}`))
	if err != nil {
		t.Fatalf("UpsertVersion overwrite failed: %v", err)
	}
	if v2.ID != v1.ID {
		t.Errorf("overwrite must keep the row identity: %s != %s", v2.ID, v1.ID)
	}
	if v2.Shasum != "bbb" {
		t.Errorf("expected overwritten shasum, got %s", v2.Shasum)
	}
	if !v2.CreatedAt.Equal(v1.CreatedAt) {
		t.Error("overwrite must not reset created_at")
	}

	all, err := s.ListVersions(ctx, pkg.ID, false)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one version row, got %d", len(all))
	}
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	s := NewMemoryStore()
	_, pkg := seed(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shasum := fmt.Sprintf("sha-%d", i)
			if _, err := s.UpsertVersion(ctx, pkg.ID, "dev-main", shasum, json.RawMessage(`{}`)); err != nil {
				t.Errorf("UpsertVersion failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	versions, err := s.ListVersions(ctx, pkg.ID, true)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected one converged row, got %d", len(versions))
	}
}

func TestListVersionsSplitsDevAndTagged(t *testing.T) {
	s := NewMemoryStore()
	_, pkg := seed(t, s)
	ctx := context.Background()

	for _, name := range []string{"1.0.0", "2.0.0", "dev-main", "dev-feature/x"} {
		if _, err := s.UpsertVersion(ctx, pkg.ID, name, "sha", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("UpsertVersion(%s) failed: %v", name, err)
		}
	}

	tagged, _ := s.ListVersions(ctx, pkg.ID, false)
	dev, _ := s.ListVersions(ctx, pkg.ID, true)
	if len(tagged) != 2 || len(dev) != 2 {
		t.Errorf("expected 2 tagged and 2 dev, got %d and %d", len(tagged), len(dev))
	}
	for _, v := range tagged {
		if v.Name == "dev-main" || v.Name == "dev-feature/x" {
			t.Errorf("dev version %s leaked into tagged list", v.Name)
		}
	}
}

func TestDeleteVersionReturnsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	_, pkg := seed(t, s)
	ctx := context.Background()

	v, err := s.UpsertVersion(ctx, pkg.ID, "dev-main", "sha", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("UpsertVersion failed: %v", err)
	}

	snap, err := s.DeleteVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("DeleteVersion failed: %v", err)
	}
	if snap.Name != "dev-main" || snap.Shasum != "sha" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	_, err = s.FindVersion(ctx, pkg.ID, "dev-main")
	if !errors.Is(err, errors.ErrCodeVersionNotFound) {
		t.Errorf("expected VERSION_NOT_FOUND after delete, got %v", err)
	}

	_, err = s.DeleteVersion(ctx, v.ID)
	if !errors.Is(err, errors.ErrCodeVersionNotFound) {
		t.Errorf("expected VERSION_NOT_FOUND on second delete, got %v", err)
	}
}

func TestSearchPackages(t *testing.T) {
	s := NewMemoryStore()
	repo, _ := seed(t, s)
	ctx := context.Background()

	_, err := s.CreatePackage(ctx, &Package{RepositoryID: repo.ID, Name: "acme/site", Type: TypeProject})
	if err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}

	tests := []struct {
		q, typ string
		want   int
	}{
		{"", "", 2},
		{"acme/w", "", 1},
		{"", TypeProject, 1},
		{"other", "", 0},
	}
	for _, tt := range tests {
		got, err := s.SearchPackages(ctx, repo.ID, tt.q, tt.typ)
		if err != nil {
			t.Fatalf("SearchPackages(%q, %q) failed: %v", tt.q, tt.typ, err)
		}
		if len(got) != tt.want {
			t.Errorf("SearchPackages(%q, %q): expected %d, got %d", tt.q, tt.typ, tt.want, len(got))
		}
	}
}

func TestSetPackageSourceAndDownloads(t *testing.T) {
	s := NewMemoryStore()
	repo, pkg := seed(t, s)
	ctx := context.Background()

	src := &Source{Provider: "gitea", URL: "https://git.example.com", Token: "t", ProjectID: "1"}
	if err := s.SetPackageSource(ctx, pkg.ID, src); err != nil {
		t.Fatalf("SetPackageSource failed: %v", err)
	}
	if err := s.IncrementDownloads(ctx, pkg.ID); err != nil {
		t.Fatalf("IncrementDownloads failed: %v", err)
	}

	got, err := s.FindPackage(ctx, repo.ID, "acme/widget")
	if err != nil {
		t.Fatalf("FindPackage failed: %v", err)
	}
	if got.Source == nil || got.Source.Provider != "gitea" {
		t.Errorf("expected source binding, got %+v", got.Source)
	}
	if got.Downloads != 1 {
		t.Errorf("expected 1 download, got %d", got.Downloads)
	}
}

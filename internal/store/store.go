// Package store persists repositories, packages and versions.
//
// The Store interface is the only persistence dependency of the ingestion
// engine. The production implementation is MongoDB-backed; an in-memory
// implementation exists for tests and local development. Both enforce the
// same contract: version upserts and package creation are single atomic
// conditional writes keyed by unique constraints, so concurrent webhook
// deliveries across server instances converge without duplicate rows or
// lost updates.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Repository is a namespace hosting packages. Its name is part of every
// callback URL registered with a provider. Sub repositories share package
// visibility scoping with their root but are otherwise independent
// namespaces. Repositories are created by an operator and immutable
// afterwards as far as this engine is concerned.
type Repository struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Sub       bool      `bson:"sub" json:"sub"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Source binds a package to an external provider project for
// synchronization. 1:1 with its package.
type Source struct {
	Provider  string `bson:"provider" json:"provider"`
	URL       string `bson:"url" json:"url"`
	Token     string `bson:"token" json:"-"`
	ProjectID string `bson:"project_id" json:"project_id"`
}

// Package is a composer package, identified by vendor/name within a
// repository. Created on first upload or first successful webhook match;
// never deleted by the engine.
type Package struct {
	ID           string    `bson:"_id" json:"id"`
	RepositoryID string    `bson:"repository_id" json:"repository_id"`
	Name         string    `bson:"name" json:"name"`
	Type         string    `bson:"type" json:"type"`
	Description  string    `bson:"description" json:"description"`
	Downloads    int64     `bson:"downloads" json:"downloads"`
	Source       *Source   `bson:"source,omitempty" json:"source,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// Version is one released or dev version of a package. (PackageID, Name)
// is unique; pushes to the same ref overwrite shasum, metadata and
// updated_at in place.
type Version struct {
	ID        string          `bson:"_id" json:"id"`
	PackageID string          `bson:"package_id" json:"package_id"`
	Name      string          `bson:"name" json:"name"`
	Shasum    string          `bson:"shasum" json:"shasum"`
	Metadata  json.RawMessage `bson:"metadata" json:"metadata"`
	CreatedAt time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at" json:"updated_at"`
}

// PackageType values persisted on Package.Type.
const (
	TypeLibrary = "library"
	TypeProject = "project"
)

// Store is the repository/DAO contract the engine and HTTP surface use.
//
// Lookup methods fail with typed errors (REPOSITORY_NOT_FOUND,
// PACKAGE_NOT_FOUND, VERSION_NOT_FOUND) rather than returning nil.
type Store interface {
	// FindRepository resolves a repository by name.
	FindRepository(ctx context.Context, name string) (*Repository, error)

	// CreateRepository creates a repository namespace.
	CreateRepository(ctx context.Context, repo *Repository) error

	// FindPackage resolves a package by repository and vendor/name.
	FindPackage(ctx context.Context, repositoryID, name string) (*Package, error)

	// CreatePackage inserts a package if absent. On a name conflict the
	// already existing package is returned; the insert is atomic against
	// the (repository_id, name) unique constraint, so concurrent first
	// uploads cannot create duplicates.
	CreatePackage(ctx context.Context, pkg *Package) (*Package, error)

	// SetPackageSource attaches or replaces the package's source binding.
	SetPackageSource(ctx context.Context, packageID string, src *Source) error

	// ListPackages lists all packages of a repository ordered by name.
	ListPackages(ctx context.Context, repositoryID string) ([]Package, error)

	// SearchPackages lists packages whose name starts with q, optionally
	// filtered by type. Empty q matches all.
	SearchPackages(ctx context.Context, repositoryID, q, pkgType string) ([]Package, error)

	// FindVersion resolves a version by package and canonical name.
	FindVersion(ctx context.Context, packageID, name string) (*Version, error)

	// ListVersions lists versions of a package, dev (dev-*) or non-dev.
	ListVersions(ctx context.Context, packageID string, dev bool) ([]Version, error)

	// UpsertVersion writes a version keyed by (package_id, name) as one
	// atomic conditional write: insert when absent, otherwise overwrite
	// shasum, metadata and updated_at. Returns the resulting row.
	UpsertVersion(ctx context.Context, packageID, name, shasum string, metadata json.RawMessage) (*Version, error)

	// DeleteVersion removes a version by id and returns the pre-deletion
	// snapshot.
	DeleteVersion(ctx context.Context, versionID string) (*Version, error)

	// IncrementDownloads bumps a package's download counter.
	IncrementDownloads(ctx context.Context, packageID string) error
}

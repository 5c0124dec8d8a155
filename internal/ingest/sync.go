package ingest

import (
	"context"

	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/manifest"
	"github.com/matzehuels/depot/pkg/source"
	"github.com/matzehuels/depot/pkg/version"
)

// Sync imports every branch and tag of the package's bound project, so a
// freshly registered package is populated without waiting for pushes.
//
// Individual refs fail independently: a branch without a manifest is
// skipped with a warning while the rest import. Returns the number of
// versions imported. Fails outright only when the project itself cannot
// be resolved or listed.
func (e *Engine) Sync(ctx context.Context, pkg *store.Package) (int, error) {
	if pkg.Source == nil {
		return 0, errors.New(errors.ErrCodeSourceUnresolved, "package %s has no source binding", pkg.Name)
	}
	client, err := e.clients(pkg.Source)
	if err != nil {
		return 0, err
	}

	project, err := e.resolveProject(ctx, client, pkg)
	if err != nil {
		return 0, err
	}

	branches, err := client.Branches(ctx, project)
	if err != nil {
		return 0, err
	}
	tags, err := client.Tags(ctx, project)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, b := range branches {
		if e.syncRef(ctx, client, pkg, version.RefBranch, b.Name, b.ZipURL) {
			imported++
		}
	}
	for _, t := range tags {
		if e.syncRef(ctx, client, pkg, version.RefTag, t.Name, t.ZipURL) {
			imported++
		}
	}

	e.log.Info("synced package", "package", pkg.Name, "imported", imported,
		"branches", len(branches), "tags", len(tags))
	return imported, nil
}

// resolveProject finds the bound project in the provider's listing. The
// listing is the only contract call that yields the provider-specific API
// URLs the branch and tag calls need.
func (e *Engine) resolveProject(ctx context.Context, client source.Client, pkg *store.Package) (source.Project, error) {
	projects, err := client.Projects(ctx)
	if err != nil {
		return source.Project{}, err
	}
	for _, p := range projects {
		if p.ID == pkg.Source.ProjectID {
			return p, nil
		}
	}
	return source.Project{}, errors.New(errors.ErrCodeSourceUnresolved,
		"project %s not visible to the configured token", pkg.Source.ProjectID)
}

func (e *Engine) syncRef(ctx context.Context, client source.Client, pkg *store.Package, kind version.RefKind, ref, zipURL string) bool {
	name, _, err := version.Name(kind, ref)
	if err != nil {
		e.log.Warn("skipping ref", "package", pkg.Name, "ref", ref, "err", err)
		return false
	}
	archive, err := client.FetchArchive(ctx, zipURL)
	if err != nil {
		e.log.Warn("skipping ref", "package", pkg.Name, "ref", ref, "err", err)
		return false
	}
	m, _, err := manifest.Extract(archive)
	if err != nil {
		e.log.Warn("skipping ref", "package", pkg.Name, "ref", ref, "err", err)
		return false
	}
	if _, err := e.ingest(ctx, pkg, name, m, archive); err != nil {
		e.log.Warn("skipping ref", "package", pkg.Name, "ref", ref, "err", err)
		return false
	}
	return true
}

package ingest

import (
	"context"
	"strings"

	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/source"
)

// Registration binds a provider project to a package in a repository.
type Registration struct {
	Source   store.Source         // provider, base URL, token, project id
	FullName string               // provider-side namespace/name of the project
	Hook     source.WebhookConfig // webhook to register against the project
}

// ListProjects lists the projects a source's token can see, for picking
// one to register.
func (e *Engine) ListProjects(ctx context.Context, src *store.Source) ([]source.Project, error) {
	client, err := e.clients(src)
	if err != nil {
		return nil, err
	}
	return client.Projects(ctx)
}

// Register creates (or finds) the package for a provider project, binds
// the source to it and registers a webhook against the project.
//
// Webhook registration is best effort: an unreachable provider logs a
// warning but never rolls back the package or its binding, because the
// operator can re-register the hook later while uploads keep working.
func (e *Engine) Register(ctx context.Context, repo *store.Repository, reg Registration) (*store.Package, error) {
	client, err := e.clients(&reg.Source)
	if err != nil {
		return nil, err
	}

	pkg, err := e.store.CreatePackage(ctx, &store.Package{
		RepositoryID: repo.ID,
		Name:         strings.ToLower(reg.FullName),
		Type:         store.TypeLibrary,
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.SetPackageSource(ctx, pkg.ID, &reg.Source); err != nil {
		return nil, err
	}
	pkg.Source = &reg.Source

	project := source.Project{ID: reg.Source.ProjectID, FullName: reg.FullName}
	if err := client.CreateWebhook(ctx, project, reg.Hook); err != nil {
		e.log.Warn("webhook registration failed", "package", pkg.Name, "err", err)
	}

	// Populate existing refs up front; later pushes keep the package
	// current through webhooks.
	if _, err := e.Sync(ctx, pkg); err != nil {
		e.log.Warn("initial sync failed", "package", pkg.Name, "err", err)
	}

	return pkg, nil
}

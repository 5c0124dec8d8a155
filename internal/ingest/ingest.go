// Package ingest implements the ingestion engine: it turns uploaded
// archives and normalized webhook events into version records and stored
// archives.
//
// The engine holds no locks of its own. Concurrent deliveries for the same
// ref converge through the store's atomic upsert; the loser of a race
// simply overwrites with equivalent data.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/depot/internal/blob"
	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/manifest"
	"github.com/matzehuels/depot/pkg/source"
	"github.com/matzehuels/depot/pkg/source/providers"
	"github.com/matzehuels/depot/pkg/version"
)

// ClientFactory builds a provider client for a package's source binding.
// Injected so tests can substitute a fake provider.
type ClientFactory func(src *store.Source) (source.Client, error)

// DefaultClientFactory builds real provider clients, sharing c for
// upstream response caching.
func DefaultClientFactory(c cache.Cache, ttl time.Duration) ClientFactory {
	return func(src *store.Source) (source.Client, error) {
		p, err := source.ParseProvider(src.Provider)
		if err != nil {
			return nil, err
		}
		return providers.New(source.Config{
			Provider: p,
			URL:      src.URL,
			Token:    src.Token,
		}, c, ttl)
	}
}

// Engine ingests package versions from uploads and webhook events.
type Engine struct {
	store    store.Store
	archives blob.Store
	clients  ClientFactory
	hooks    Hooks
	log      *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHooks injects lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an Engine.
func New(s store.Store, archives blob.Store, clients ClientFactory, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		archives: archives,
		clients:  clients,
		hooks:    NoopHooks{},
		log:      log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromUpload ingests a manually uploaded archive into a repository.
//
// The package name comes from the manifest inside the archive; the package
// is created on first upload with the manifest's declared type, defaulting
// to library. An empty version name fails with VERSION_NOT_FOUND before
// the archive is touched.
func (e *Engine) FromUpload(ctx context.Context, repo *store.Repository, versionName string, archive []byte) (*store.Version, error) {
	if versionName == "" {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "no version name given")
	}

	m, _, err := manifest.Extract(archive)
	if err != nil {
		return nil, err
	}
	name := m.Name()
	if name == "" {
		return nil, errors.New(errors.ErrCodeManifestParse, "%s declares no package name", manifest.FileName)
	}

	pkgType := m.Type()
	if pkgType == "" {
		pkgType = store.TypeLibrary
	}
	pkg, err := e.store.CreatePackage(ctx, &store.Package{
		RepositoryID: repo.ID,
		Name:         name,
		Type:         pkgType,
		Description:  docString(m, "description"),
	})
	if err != nil {
		return nil, err
	}

	return e.ingest(ctx, pkg, versionName, m, archive)
}

// FromEvent applies a normalized webhook event to a repository.
//
// Importable events fetch the commit-pinned archive through the package's
// bound provider and upsert the version. Deletable events remove the
// version and its stored archive, returning the pre-deletion snapshot.
// The version returned for a delete carries the removed row.
func (e *Engine) FromEvent(ctx context.Context, repo *store.Repository, ev source.Event) (*store.Version, error) {
	pkg, err := e.store.FindPackage(ctx, repo.ID, ev.PackageName())
	if err != nil {
		return nil, err
	}

	switch ev := ev.(type) {
	case *source.ImportableEvent:
		return e.importEvent(ctx, pkg, ev)
	case *source.DeletableEvent:
		return e.deleteEvent(ctx, pkg, ev)
	default:
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "unknown event type %T", ev)
	}
}

func (e *Engine) importEvent(ctx context.Context, pkg *store.Package, ev *source.ImportableEvent) (*store.Version, error) {
	if pkg.Source == nil {
		return nil, errors.New(errors.ErrCodeSourceUnresolved, "package %s has no source binding", pkg.Name)
	}
	client, err := e.clients(pkg.Source)
	if err != nil {
		return nil, err
	}

	name, mutable, err := version.Name(ev.Kind(), ev.RefName())
	if err != nil {
		return nil, err
	}

	url := client.ArchiveURL(ev.Archive)
	e.log.Debug("fetching archive", "event", ev.ID, "package", pkg.Name, "version", name, "sha", ev.Archive.SHA)

	archive, err := client.FetchArchive(ctx, url)
	if err != nil {
		return nil, err
	}

	m, _, err := manifest.Extract(archive)
	if err != nil {
		return nil, err
	}

	v, err := e.ingest(ctx, pkg, name, m, archive)
	if err != nil {
		return nil, err
	}
	e.log.Info("imported version", "package", pkg.Name, "version", name, "mutable", mutable)
	return v, nil
}

func (e *Engine) deleteEvent(ctx context.Context, pkg *store.Package, ev *source.DeletableEvent) (*store.Version, error) {
	name, _, err := version.Name(ev.Kind(), ev.RefName())
	if err != nil {
		return nil, err
	}

	v, err := e.store.FindVersion(ctx, pkg.ID, name)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.DeleteVersion(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if err := e.archives.Delete(ctx, pkg.Name, name); err != nil {
		e.log.Warn("leaving orphaned archive", "package", pkg.Name, "version", name, "err", err)
	}

	e.hooks.OnDelete(ctx, pkg.Name, name)
	e.log.Info("deleted version", "package", pkg.Name, "version", name)
	return snap, nil
}

// ingest upserts the version row and stores the archive. The row is
// written first so a crash between the two writes leaves a version whose
// archive gets rewritten on the next delivery, never a dangling archive.
func (e *Engine) ingest(ctx context.Context, pkg *store.Package, versionName string, m *manifest.Manifest, archive []byte) (*store.Version, error) {
	sum := sha256.Sum256(archive)
	shasum := hex.EncodeToString(sum[:])

	v, err := e.store.UpsertVersion(ctx, pkg.ID, versionName, shasum, m.Raw)
	if err != nil {
		return nil, err
	}
	if err := e.archives.Put(ctx, pkg.Name, versionName, archive); err != nil {
		return nil, err
	}

	e.hooks.OnImport(ctx, pkg.Name, versionName, shasum)
	return v, nil
}

// RecordDownload bumps the package counter and fires the download hook.
func (e *Engine) RecordDownload(ctx context.Context, pkg *store.Package, versionName string) {
	if err := e.store.IncrementDownloads(ctx, pkg.ID); err != nil {
		e.log.Warn("download counter not updated", "package", pkg.Name, "err", err)
	}
	e.hooks.OnDownload(ctx, pkg.Name, versionName)
}

func docString(m *manifest.Manifest, key string) string {
	s, _ := m.Doc[key].(string)
	return s
}

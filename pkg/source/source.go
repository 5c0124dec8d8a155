// Package source normalizes the APIs of external source-control hosts
// behind one capability contract.
//
// Each supported provider (Gitea, GitHub, GitLab) implements [Client] in
// its own subpackage, translating the provider's REST shape into the shared
// value objects defined here. Provider-specific authentication stays inside
// the client; callers never see the scheme. Webhook payloads are translated
// into the canonical [ImportableEvent] and [DeletableEvent] variants by
// per-provider parsers.
//
// Use pkg/source/providers to construct clients and parse payloads by
// provider kind.
package source

import (
	"context"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/version"
)

// Provider identifies a source-control hosting product.
type Provider string

const (
	Gitea  Provider = "gitea"
	GitHub Provider = "github"
	GitLab Provider = "gitlab"
)

// ParseProvider validates a provider name from config or storage.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case Gitea, GitHub, GitLab:
		return p, nil
	default:
		return "", errors.New(errors.ErrCodeSourceUnresolved, "unknown provider %q", s)
	}
}

// Config carries the per-package source configuration a client needs:
// where the provider lives and how to authenticate against it.
type Config struct {
	Provider Provider
	URL      string // provider base URL, e.g. https://gitea.example.com
	Token    string // access token; scheme is provider-specific
}

// Project is a remote repository as listed by a provider.
// Transient: produced by a Client call, never persisted.
type Project struct {
	ID       string
	FullName string // namespace/name as known to the provider
	Name     string
	URL      string // API URL for the project's repository resources
	WebURL   string
}

// Branch is a remote branch with an archive URL pinned to its head commit.
type Branch struct {
	ID     string
	Name   string
	URL    string
	ZipURL string
}

// Tag is a remote tag with an archive URL pinned to the tagged commit.
type Tag struct {
	ID     string
	Name   string
	URL    string
	ZipURL string
}

// ArchiveRef locates a project archive at an exact commit. Clients build
// the provider-specific download URL from it, so a fetch stays pinned to
// the commit that triggered the event even if the ref moves again.
type ArchiveRef struct {
	FullName  string
	ProjectID string
	SHA       string
}

// WebhookConfig describes the webhook a client registers against a project.
type WebhookConfig struct {
	CallbackURL string // this server's incoming endpoint for the provider
	Secret      string // shared secret the provider signs deliveries with
}

// Client is the uniform capability surface over one provider instance.
//
// List calls distinguish empty results from failures: an empty slice with a
// nil error is a valid success. Failure modes are UPSTREAM_UNAVAILABLE
// (transport, 5xx), UPSTREAM_AUTH (401/403), and UPSTREAM_PROTOCOL
// (malformed response, including a JSON null list body).
type Client interface {
	// Projects lists the projects visible to the configured token.
	Projects(ctx context.Context) ([]Project, error)

	// Branches lists the branches of a project.
	Branches(ctx context.Context, project Project) ([]Branch, error)

	// Tags lists the tags of a project.
	Tags(ctx context.Context, project Project) ([]Tag, error)

	// CreateWebhook registers a push+delete capable webhook for the
	// project. Registration is a convenience: callers tolerate
	// UPSTREAM_UNAVAILABLE without blocking package creation.
	CreateWebhook(ctx context.Context, project Project, hook WebhookConfig) error

	// ArchiveURL builds the download URL for an archive pinned to a commit.
	ArchiveURL(ref ArchiveRef) string

	// FetchArchive retrieves raw archive bytes. Fails with
	// ARCHIVE_FETCH_FAILED on transport or non-2xx status and with
	// ARCHIVE_INVALID_CONTENT_TYPE when the response does not declare an
	// archive content type.
	FetchArchive(ctx context.Context, url string) ([]byte, error)
}

// Event is a canonical, provider-agnostic webhook event. The two variants
// are [ImportableEvent] (ref created or updated) and [DeletableEvent]
// (ref removed).
type Event interface {
	// PackageName is the target package in vendor/name form, lower-cased.
	PackageName() string

	// RefName is the branch or tag name the event refers to.
	RefName() string

	// Kind reports whether the ref is a branch or a tag.
	Kind() version.RefKind
}

// ImportableEvent is a push-like event: a ref was created or updated and
// its archive should be ingested.
type ImportableEvent struct {
	ID      string // correlation id for logging
	Archive ArchiveRef
	RefKind version.RefKind
	Ref     string
}

func (e *ImportableEvent) PackageName() string   { return lowerName(e.Archive.FullName) }
func (e *ImportableEvent) RefName() string       { return e.Ref }
func (e *ImportableEvent) Kind() version.RefKind { return e.RefKind }

// DeletableEvent is a delete-like event: a ref was removed and the matching
// version should be deleted.
type DeletableEvent struct {
	ID       string // provider-side identifier for correlation
	FullName string
	RefKind  version.RefKind
	Ref      string
}

func (e *DeletableEvent) PackageName() string   { return lowerName(e.FullName) }
func (e *DeletableEvent) RefName() string       { return e.Ref }
func (e *DeletableEvent) Kind() version.RefKind { return e.RefKind }

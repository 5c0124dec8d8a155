package ingest

import "context"

// Hooks receives lifecycle events from the engine. Implementations are
// injected at construction time rather than registered globally, so two
// engine instances in one process can carry different instrumentation.
// All methods are called synchronously after the triggering write has
// committed; implementations must not block.
type Hooks interface {
	// OnImport fires after a version was created or overwritten.
	OnImport(ctx context.Context, pkgName, versionName, shasum string)

	// OnDelete fires after a version was removed.
	OnDelete(ctx context.Context, pkgName, versionName string)

	// OnDownload fires after an archive was served.
	OnDownload(ctx context.Context, pkgName, versionName string)
}

// NoopHooks is the default Hooks implementation.
type NoopHooks struct{}

func (NoopHooks) OnImport(context.Context, string, string, string) {}
func (NoopHooks) OnDelete(context.Context, string, string)         {}
func (NoopHooks) OnDownload(context.Context, string, string)       {}

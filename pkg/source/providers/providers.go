// Package providers wires the supported source providers into a single
// lookup surface: construct a client or parse a webhook payload by
// provider kind without importing the provider packages directly.
package providers

import (
	"time"

	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
	"github.com/matzehuels/depot/pkg/source/gitea"
	"github.com/matzehuels/depot/pkg/source/github"
	"github.com/matzehuels/depot/pkg/source/gitlab"
)

// driver binds a provider kind to its constructors.
type driver struct {
	newClient    func(cfg source.Config, c cache.Cache, ttl time.Duration) source.Client
	parseWebhook func(payload []byte) (source.Event, error)
}

var drivers = map[source.Provider]driver{
	source.Gitea: {
		newClient: func(cfg source.Config, c cache.Cache, ttl time.Duration) source.Client {
			return gitea.NewClient(cfg, c, ttl)
		},
		parseWebhook: gitea.ParseWebhook,
	},
	source.GitHub: {
		newClient: func(cfg source.Config, c cache.Cache, ttl time.Duration) source.Client {
			return github.NewClient(cfg, c, ttl)
		},
		parseWebhook: github.ParseWebhook,
	},
	source.GitLab: {
		newClient: func(cfg source.Config, c cache.Cache, ttl time.Duration) source.Client {
			return gitlab.NewClient(cfg, c, ttl)
		},
		parseWebhook: gitlab.ParseWebhook,
	},
}

// New constructs a client for the provider named in cfg.
// Fails with SOURCE_UNRESOLVED for unknown providers.
func New(cfg source.Config, c cache.Cache, ttl time.Duration) (source.Client, error) {
	d, ok := drivers[cfg.Provider]
	if !ok {
		return nil, errors.New(errors.ErrCodeSourceUnresolved, "unknown provider %q", cfg.Provider)
	}
	return d.newClient(cfg, c, ttl), nil
}

// Normalize translates a provider-specific webhook payload into a
// canonical importable or deletable event. Fails with
// UNRECOGNIZED_PAYLOAD when the payload matches no known shape and with
// SOURCE_UNRESOLVED for unknown providers.
func Normalize(p source.Provider, payload []byte) (source.Event, error) {
	d, ok := drivers[p]
	if !ok {
		return nil, errors.New(errors.ErrCodeSourceUnresolved, "unknown provider %q", p)
	}
	return d.parseWebhook(payload)
}

// Package config loads the depot server configuration from a TOML file,
// with environment variable overrides for secrets.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/depot/pkg/errors"
)

// Config is the full server configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Storage Storage `toml:"storage"`
	Cache   Cache   `toml:"cache"`
	Webhook Webhook `toml:"webhook"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"` // external URL used in webhook callbacks and dist URLs
}

// Storage configures persistence.
type Storage struct {
	MongoURI   string `toml:"mongo_uri"` // empty selects the in-memory store
	Database   string `toml:"database"`
	ArchiveDir string `toml:"archive_dir"`
}

// Cache configures the upstream response cache. Redis wins when both
// backends are configured; with neither, caching is disabled.
type Cache struct {
	RedisAddr string   `toml:"redis_addr"`
	Dir       string   `toml:"dir"` // file-backed cache for single-instance setups
	TTL       duration `toml:"ttl"`
}

// Webhook configures incoming webhook validation.
type Webhook struct {
	Secret string `toml:"secret"`
}

// duration wraps time.Duration for TOML decoding of values like "15m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// TTLDuration returns the cache TTL as a time.Duration.
func (c Cache) TTLDuration() time.Duration { return time.Duration(c.TTL) }

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Storage: Storage{
			Database:   "depot",
			ArchiveDir: "archives",
		},
		Cache: Cache{
			TTL: duration(15 * time.Minute),
		},
	}
}

// Load reads a TOML file over the defaults. The webhook secret can be
// supplied via DEPOT_WEBHOOK_SECRET instead of the file, which wins when
// both are set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, errors.Wrap(errors.ErrCodeInternal, err, "loading config %s", path)
		}
	}
	if secret := os.Getenv("DEPOT_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	return cfg, nil
}

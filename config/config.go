// Package config loads retrievald configuration from defaults, an optional
// YAML file and RETRIEVAL_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is read by Load when present in the working directory.
	DefaultFile = "config.yaml"

	// EnvPrefix marks environment variables that override file settings.
	// RETRIEVAL_SCHEDULER_SHUTDOWNTIMEOUT maps to scheduler.shutdowntimeout.
	EnvPrefix = "RETRIEVAL_"

	DefaultUserAgent        = "go-retrieval/1.0"
	DefaultFetchInterval    = 30 * time.Minute
	DefaultFailureThreshold = 3
	DefaultCharset          = "utf-8"
)

// Load reads DefaultFile if it exists, then applies environment overrides.
func Load() (*Config, error) {
	return load(DefaultFile, true)
}

// LoadFrom reads the YAML file at path, which must exist, then applies
// environment overrides.
func LoadFrom(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, optional bool) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !optional || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFetcherDefaults(cfg.Fetchers)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envListKeys take comma-separated values from the environment.
var envListKeys = map[string]struct{}{
	"scheduler.cidrallowlist":  {},
	"scheduler.trustedproxies": {},
}

// envKey converts RETRIEVAL_SERVER_PORT to server.port.
func envKey(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".")
	if _, ok := envListKeys[key]; ok {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"log.level":  "info",
		"log.pretty": false,

		"retrieval.timeout":      "30s",
		"retrieval.useragent":    DefaultUserAgent,
		"retrieval.maxredirects": 5,

		"scheduler.shutdowntimeout": "30s",

		"server.enabled": true,
		"server.host":    "0.0.0.0",
		"server.port":    8080,

		"store.path": "",

		"messaging.brokerurl":  "",
		"messaging.exchange":   "retrieval.results",
		"messaging.routingkey": "fetch.success",

		"observability.enabled":     false,
		"observability.servicename": "retrievald",
		"observability.endpoint":    "stdout",
		"observability.protocol":    "http",
		"observability.insecure":    false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

// applyFetcherDefaults fills per-fetcher fields that confmap cannot default
// because they live inside a list.
func applyFetcherDefaults(fetchers []FetcherConfig) {
	for i := range fetchers {
		if fetchers[i].Interval == 0 {
			fetchers[i].Interval = DefaultFetchInterval
		}
		if strings.TrimSpace(fetchers[i].Charset) == "" {
			fetchers[i].Charset = DefaultCharset
		}
	}
}

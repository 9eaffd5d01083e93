// Package config loads the client runtime's configuration (spec.md §6):
// how to reach a remote peer, where to keep a durable store, and the
// timing knobs governing the outbound queue and feed refresh. It is
// grounded on the teacher's pkg/config.Load() — a defaulted struct
// populated from a file with environment-variable overrides — adapted
// from HELM's Postgres/LLM-service options to the fact engine's peer and
// store options, and promoted from the teacher's indirect YAML dependency
// to direct use since this package decodes a YAML config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jinaga/factengine/pkg/specification"
)

// Defaults match spec.md §6 verbatim.
const (
	DefaultHTTPTimeoutSeconds      = 30
	DefaultQueueProcessingDelayMs  = 100
	DefaultFeedRefreshIntervalSecs = 90
)

// PurgeCondition names a specification this client purges successors
// against, paired with a human-readable label for logging.
type PurgeCondition struct {
	Label         string
	Specification *specification.Specification
}

// Config holds the options spec.md §6 names. HTTPEndpoint absent means
// local-only mode; LocalStore absent means an in-memory store.
type Config struct {
	HTTPEndpoint               string `yaml:"httpEndpoint"`
	WSEndpoint                 string `yaml:"wsEndpoint"`
	LocalStore                 string `yaml:"localStore"`
	HTTPTimeoutSeconds         int    `yaml:"httpTimeoutSeconds"`
	QueueProcessingDelayMs     int    `yaml:"queueProcessingDelayMs"`
	FeedRefreshIntervalSeconds int    `yaml:"feedRefreshIntervalSeconds"`

	// PurgeConditions is application-supplied (spec.md §6: "an
	// application-supplied list of specifications") and is never decoded
	// from YAML — callers append to it after Load returns, the way the
	// teacher's callers mutate a loaded *Config before using it.
	PurgeConditions []PurgeCondition `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		HTTPTimeoutSeconds:         DefaultHTTPTimeoutSeconds,
		QueueProcessingDelayMs:     DefaultQueueProcessingDelayMs,
		FeedRefreshIntervalSeconds: DefaultFeedRefreshIntervalSecs,
	}
}

// Load reads path (if non-empty and it exists) as YAML over the spec.md
// §6 defaults, then applies environment-variable overrides in the
// teacher's Load() style (FACTENGINE_HTTP_ENDPOINT and friends take
// precedence over the file).
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = DefaultHTTPTimeoutSeconds
	}
	if cfg.QueueProcessingDelayMs <= 0 {
		cfg.QueueProcessingDelayMs = DefaultQueueProcessingDelayMs
	}
	if cfg.FeedRefreshIntervalSeconds <= 0 {
		cfg.FeedRefreshIntervalSeconds = DefaultFeedRefreshIntervalSecs
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACTENGINE_HTTP_ENDPOINT"); v != "" {
		cfg.HTTPEndpoint = v
	}
	if v := os.Getenv("FACTENGINE_WS_ENDPOINT"); v != "" {
		cfg.WSEndpoint = v
	}
	if v := os.Getenv("FACTENGINE_LOCAL_STORE"); v != "" {
		cfg.LocalStore = v
	}
}

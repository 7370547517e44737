package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OMNIDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "OMNIDESK_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OMNIDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.seed_file", typ: kString, env: "OMNIDESK_STORAGE_SEED_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.SeedFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SeedFile },
	},
	{
		key: "corpus.dir", typ: kString, env: "OMNIDESK_CORPUS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Dir },
	},
	{
		key: "corpus.categories_file", typ: kString, env: "OMNIDESK_CORPUS_CATEGORIES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Corpus.CategoriesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.CategoriesFile },
	},
	{
		key: "corpus.chunk_size", typ: kInt, env: "OMNIDESK_CORPUS_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Corpus.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.ChunkSize },
	},
	{
		key: "corpus.reload", typ: kBool, env: "OMNIDESK_CORPUS_RELOAD",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Reload = v.(bool) },
		extract: func(cfg Config) any { return cfg.Corpus.Reload },
	},
	{
		key: "generation.provider", typ: kString, env: "OMNIDESK_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.base_url", typ: kString, env: "OMNIDESK_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.model", typ: kString, env: "OMNIDESK_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.api_key", typ: kString, env: "OMNIDESK_GENERATION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.max_attempts", typ: kInt, env: "OMNIDESK_GENERATION_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxAttempts },
	},
	{
		key: "generation.retry_delay", typ: kDuration, env: "OMNIDESK_GENERATION_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Generation.RetryDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.RetryDelay },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "OMNIDESK_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "embedding.provider", typ: kString, env: "OMNIDESK_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "OMNIDESK_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "OMNIDESK_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "agent.max_history", typ: kInt, env: "OMNIDESK_AGENT_MAX_HISTORY",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxHistory = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxHistory },
	},
	{
		key: "agent.max_security_log", typ: kInt, env: "OMNIDESK_AGENT_MAX_SECURITY_LOG",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxSecurityLog = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxSecurityLog },
	},
	{
		key: "agent.tool_timeout", typ: kDuration, env: "OMNIDESK_AGENT_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ToolTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ToolTimeout },
	},
	{
		key: "agent.tool_retry_backoff", typ: kDuration, env: "OMNIDESK_AGENT_TOOL_RETRY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Agent.ToolRetryBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ToolRetryBackoff },
	},
	{
		key: "agent.customer_email", typ: kString, env: "OMNIDESK_AGENT_CUSTOMER_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Agent.CustomerEmail = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.CustomerEmail },
	},
	{
		key: "toolserver.transport", typ: kString, env: "OMNIDESK_TOOLSERVER_TRANSPORT",
		apply:   func(cfg *Config, v any) { cfg.ToolServer.Transport = v.(string) },
		extract: func(cfg Config) any { return cfg.ToolServer.Transport },
	},
	{
		key: "log.level", typ: kString, env: "OMNIDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "OMNIDESK_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "log.file", typ: kString, env: "OMNIDESK_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "telemetry.enabled", typ: kBool, env: "OMNIDESK_TELEMETRY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Telemetry.Enabled },
	},
}

// parseValue converts a raw string into the Go value expected by key s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			pv, err := parseValue(s, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, pv)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

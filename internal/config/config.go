package config

import (
	"os"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Corpus     CorpusConfig
	Generation GenerationConfig
	Embedding  EmbeddingConfig
	Agent      AgentConfig
	ToolServer ToolServerConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for the HTTP API; empty disables auth
}

type StorageConfig struct {
	DataDir  string
	SeedFile string // optional YAML seed; the embedded data set is used when empty
}

type CorpusConfig struct {
	Dir            string // optional directory of .pdf/.md/.txt knowledge documents
	CategoriesFile string // optional YAML category table
	ChunkSize      int
	Reload         bool
}

type GenerationConfig struct {
	Provider    string // ollama, openai, offline
	BaseURL     string
	Model       string
	APIKey      string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

type EmbeddingConfig struct {
	Provider   string // hash, ollama
	Model      string
	Dimensions int
}

type AgentConfig struct {
	MaxHistory       int
	MaxSecurityLog   int
	ToolTimeout      time.Duration
	ToolRetryBackoff time.Duration
	CustomerEmail    string
}

type ToolServerConfig struct {
	Transport string // inprocess, stdio
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type TelemetryConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Corpus: CorpusConfig{
			ChunkSize: 800,
		},
		Generation: GenerationConfig{
			Provider:    "offline",
			BaseURL:     "http://localhost:11434",
			Model:       "meta-llama/Llama-3.1-8B-Instruct",
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
			Timeout:     60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "nomic-embed-text",
			Dimensions: 512,
		},
		Agent: AgentConfig{
			MaxHistory:       3,
			MaxSecurityLog:   50,
			ToolTimeout:      10 * time.Second,
			ToolRetryBackoff: 250 * time.Millisecond,
		},
		ToolServer: ToolServerConfig{
			Transport: "inprocess",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from the JSON file backend
// ($XDG_CONFIG_HOME/omnidesk/config.json) and applies OMNIDESK_* environment
// overrides. Secrets are only taken from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The generation key may also come from the conventional HuggingFace variable.
	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = os.Getenv("HF_TOKEN")
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the loom service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Assistants    AssistantsConfig    `yaml:"assistants"`
	Store         StoreConfig         `yaml:"store"`
	Blob          BlobConfig          `yaml:"blob"`
	Agents        []AgentConfig       `yaml:"agents"`
	Tools         ToolsConfig         `yaml:"tools"`
	Prompts       PromptsConfig       `yaml:"prompts"`
	Credits       CreditsConfig       `yaml:"credits"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, expands, and validates the configuration file. Environment
// variables referenced as ${NAME} are substituted before parsing, and
// $include directives are resolved relative to the including file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 25 << 20
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "openai"
	}
	if cfg.Providers.OpenAI.MaxRetries == 0 {
		cfg.Providers.OpenAI.MaxRetries = 3
	}
	if cfg.Providers.Anthropic.MaxRetries == 0 {
		cfg.Providers.Anthropic.MaxRetries = 3
	}
	if cfg.Assistants.PollInterval == 0 {
		cfg.Assistants.PollInterval = 800 * time.Millisecond
	}
	if cfg.Assistants.RunTimeout == 0 {
		cfg.Assistants.RunTimeout = 10 * time.Minute
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Postgres.MaxConnections == 0 {
		cfg.Store.Postgres.MaxConnections = 25
	}
	if cfg.Store.Postgres.ConnMaxLifetime == 0 {
		cfg.Store.Postgres.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.Local.Dir == "" {
		cfg.Blob.Local.Dir = "data/files"
	}
	if cfg.Blob.S3.PresignTTL == 0 {
		cfg.Blob.S3.PresignTTL = 15 * time.Minute
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Tools.WebBrowser.Timeout == 0 {
		cfg.Tools.WebBrowser.Timeout = 20 * time.Second
	}
	if cfg.Tools.WebBrowser.MaxBodyBytes == 0 {
		cfg.Tools.WebBrowser.MaxBodyBytes = 2 << 20
	}
	if cfg.Prompts.Dir == "" {
		cfg.Prompts.Dir = "prompts"
	}
	if cfg.Observability.Logging.Level == "" {
		cfg.Observability.Logging.Level = "info"
	}
	if cfg.Observability.Logging.Format == "" {
		cfg.Observability.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Mode == "" {
			cfg.Agents[i].Mode = "local"
		}
		if cfg.Agents[i].MaxSteps == 0 {
			cfg.Agents[i].MaxSteps = 10
		}
	}
}

// Validate checks cross-field constraints that yaml decoding cannot express.
func (c *Config) Validate() error {
	switch c.Providers.Default {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("providers.default must be openai or anthropic, got %q", c.Providers.Default)
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite, postgres, redis, got %q", c.Store.Backend)
	}

	switch c.Blob.Backend {
	case "local":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("blob.backend must be local or s3, got %q", c.Blob.Backend)
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, agent := range c.Agents {
		if err := agent.Validate(); err != nil {
			return err
		}
		if seen[agent.ID] {
			return fmt.Errorf("duplicate agent id %q", agent.ID)
		}
		seen[agent.ID] = true
	}

	return nil
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment variable the service reads.
const envPrefix = "HAMEM_"

type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// APIToken enables bearer auth on /memory/* when non-empty.
	APIToken string `yaml:"api_token"`

	// Store
	StoreBackend string        `yaml:"store_backend"`
	DBPath       string        `yaml:"db_path"`
	DatabaseURL  string        `yaml:"database_url"`
	DBHost       string        `yaml:"db_host"`
	DBPort       int           `yaml:"db_port"`
	DBName       string        `yaml:"db_name"`
	DBUser       string        `yaml:"db_user"`
	DBPassword   string        `yaml:"db_password"`
	DBMaxConns   int           `yaml:"db_max_conns"`
	DBMinConns   int           `yaml:"db_min_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Embeddings
	EmbedProvider  string        `yaml:"embed_provider"`
	OllamaURL      string        `yaml:"ollama_url"`
	EmbedModel     string        `yaml:"embed_model"`
	EmbedDim       int           `yaml:"embed_dim"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	EmbedCacheSize int           `yaml:"embed_cache_size"`

	// Search tuning
	VectorThreshold     float64 `yaml:"vector_threshold"`
	TrigramWeight       float64 `yaml:"trigram_weight"`
	TrigramThreshold    float64 `yaml:"trigram_threshold"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`

	// Request defaults
	DefaultExpirationDays int `yaml:"default_expiration_days"`
	DefaultSearchLimit    int `yaml:"default_search_limit"`
	MaxSearchLimit        int `yaml:"max_search_limit"`

	// MCP adapter
	ServerURL string `yaml:"server_url"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  8920,
		LogLevel:              "info",
		StoreBackend:          "sqlite",
		DBPath:                "/data/memory.db",
		DBHost:                "localhost",
		DBPort:                5432,
		DBName:                "ha_memory",
		DBUser:                "hamem",
		DBPassword:            "hamem",
		DBMaxConns:            10,
		DBMinConns:            2,
		QueryTimeout:          5 * time.Second,
		EmbedProvider:         "ollama",
		OllamaURL:             "http://localhost:11434",
		EmbedModel:            "nomic-embed-text",
		EmbedDim:              768,
		EmbedTimeout:          30 * time.Second,
		EmbedCacheSize:        1024,
		VectorThreshold:       0.35,
		TrigramWeight:         0.15,
		TrigramThreshold:      0.1,
		CandidateMultiplier:   3,
		DefaultExpirationDays: 180,
		DefaultSearchLimit:    5,
		MaxSearchLimit:        50,
		ServerURL:             "http://localhost:8920",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// HAMEM_CONFIG if set, then HAMEM_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadAdapter builds the settings the MCP adapter needs: the server URL and
// API token. Store and embedding settings are read but not validated, so a
// config shared with the server never stops the adapter from starting.
func LoadAdapter() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ServerURL = envStr("SERVER_URL", cfg.ServerURL)
	cfg.APIToken = envStr("API_TOKEN", cfg.APIToken)

	if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("config validation: SERVER_URL: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = envStr("HOST", c.Host)
	c.Port = envInt("PORT", c.Port)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.APIToken = envStr("API_TOKEN", c.APIToken)

	c.StoreBackend = envStr("STORE_BACKEND", c.StoreBackend)
	c.DBPath = envStr("DB_PATH", c.DBPath)
	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)
	c.DBHost = envStr("DB_HOST", c.DBHost)
	c.DBPort = envInt("DB_PORT", c.DBPort)
	c.DBName = envStr("DB_NAME", c.DBName)
	c.DBUser = envStr("DB_USER", c.DBUser)
	c.DBPassword = envStr("DB_PASSWORD", c.DBPassword)
	c.DBMaxConns = envInt("DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = envInt("DB_MIN_CONNS", c.DBMinConns)
	c.QueryTimeout = envDuration("QUERY_TIMEOUT", c.QueryTimeout)

	c.EmbedProvider = envStr("EMBED_PROVIDER", c.EmbedProvider)
	c.OllamaURL = envStr("OLLAMA_URL", c.OllamaURL)
	c.EmbedModel = envStr("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = envInt("EMBED_DIM", c.EmbedDim)
	c.EmbedTimeout = envDuration("EMBED_TIMEOUT", c.EmbedTimeout)
	c.OpenAIAPIKey = envStr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envStr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.EmbedCacheSize = envInt("EMBED_CACHE_SIZE", c.EmbedCacheSize)

	c.VectorThreshold = envFloat("VECTOR_THRESHOLD", c.VectorThreshold)
	c.TrigramWeight = envFloat("TRIGRAM_WEIGHT", c.TrigramWeight)
	c.TrigramThreshold = envFloat("TRIGRAM_THRESHOLD", c.TrigramThreshold)
	c.CandidateMultiplier = envInt("CANDIDATE_MULTIPLIER", c.CandidateMultiplier)

	c.DefaultExpirationDays = envInt("DEFAULT_EXPIRATION_DAYS", c.DefaultExpirationDays)
	c.DefaultSearchLimit = envInt("DEFAULT_SEARCH_LIMIT", c.DefaultSearchLimit)
	c.MaxSearchLimit = envInt("MAX_SEARCH_LIMIT", c.MaxSearchLimit)

	c.ServerURL = envStr("SERVER_URL", c.ServerURL)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.StoreBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH must not be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" && c.DBHost == "" {
			return fmt.Errorf("DATABASE_URL or DB_HOST must be set for the postgres backend")
		}
		if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must be between 0 and DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or postgres, got %q", c.StoreBackend)
	}
	switch c.EmbedProvider {
	case "ollama":
		if c.OllamaURL == "" {
			return fmt.Errorf("OLLAMA_URL must not be empty")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the openai provider")
		}
	default:
		return fmt.Errorf("EMBED_PROVIDER must be ollama or openai, got %q", c.EmbedProvider)
	}
	if c.EmbedDim < 1 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.QueryTimeout <= 0 || c.EmbedTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT and EMBED_TIMEOUT must be positive")
	}
	if c.VectorThreshold < -1 || c.VectorThreshold > 1 {
		return fmt.Errorf("VECTOR_THRESHOLD must be in [-1, 1], got %f", c.VectorThreshold)
	}
	if c.TrigramThreshold < 0 || c.TrigramThreshold > 1 {
		return fmt.Errorf("TRIGRAM_THRESHOLD must be in [0, 1], got %f", c.TrigramThreshold)
	}
	if c.TrigramWeight < 0 {
		return fmt.Errorf("TRIGRAM_WEIGHT must not be negative, got %f", c.TrigramWeight)
	}
	if c.CandidateMultiplier < 1 {
		return fmt.Errorf("CANDIDATE_MULTIPLIER must be at least 1, got %d", c.CandidateMultiplier)
	}
	if c.DefaultSearchLimit < 1 || c.MaxSearchLimit < c.DefaultSearchLimit {
		return fmt.Errorf("DEFAULT_SEARCH_LIMIT must be between 1 and MAX_SEARCH_LIMIT")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns DatabaseURL, or a URL assembled from the DB_* fields.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("30s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}

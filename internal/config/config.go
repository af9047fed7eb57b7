// Package config loads process configuration from an optional YAML file
// with environment variable overrides. Env always wins over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Lodestone configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Watch     WatchConfig     `yaml:"watch"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig locates the managed root and the data directory.
type PathsConfig struct {
	// Root is the managed root directory; all logical paths are
	// relative to it.
	Root string `yaml:"root"`
	// Data holds the metadata database, vector index, and lock file.
	// Defaults to <root>/.lodestone.
	Data string `yaml:"data"`
}

// VectorConfig configures the embedded vector store.
type VectorConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimension of dense vectors produced by the model.
	Dimension int `yaml:"dimension"`
	// Version tags every chunk; bumping it invalidates change
	// detection and forces re-embedding on the next scan.
	Version   int `yaml:"version"`
	BatchSize int `yaml:"batch_size"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexingConfig tunes the indexer worker pool and chunking.
type IndexingConfig struct {
	Workers      int           `yaml:"workers"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WatchConfig tunes the filesystem observer.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// SyncConfig tunes the remote-sync engine.
type SyncConfig struct {
	// Interval between scheduled pulls per folder. Zero disables the
	// scheduler; manual triggers still work.
	Interval time.Duration `yaml:"interval"`
	// RequestTimeout bounds each provider HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RunDeadline bounds a whole sync run.
	RunDeadline time.Duration `yaml:"run_deadline"`
}

// ServerConfig configures the HTTP and MCP surfaces.
type ServerConfig struct {
	HTTPPort     int    `yaml:"http_port"`
	MCPPort      int    `yaml:"mcp_port"`
	MCPTransport string `yaml:"mcp_transport"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Paths: PathsConfig{
			Root: ".",
		},
		Vector: VectorConfig{
			Host: "localhost",
			Port: 6334,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimension:  768,
			Version:    1,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  10000,
		},
		Indexing: IndexingConfig{
			Workers:      2,
			ChunkSize:    512,
			ChunkOverlap: 50,
			PollInterval: 10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Sync: SyncConfig{
			Interval:       0,
			RequestTimeout: 30 * time.Second,
			RunDeadline:    15 * time.Minute,
		},
		Server: ServerConfig{
			HTTPPort:     8000,
			MCPPort:      8001,
			MCPTransport: "stdio",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at
// configPath if it exists, then environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := New()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	cfg.applyEnv()

	if cfg.Paths.Data == "" {
		cfg.Paths.Data = filepath.Join(cfg.Paths.Root, ".lodestone")
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Paths.Root == "" {
		return fmt.Errorf("paths.root must not be empty")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("indexing.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	}
	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing.workers must be at least 1")
	}
	switch c.Server.MCPTransport {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.mcp_transport must be stdio or http, got %q", c.Server.MCPTransport)
	}
	return nil
}

// DatabasePath returns the metadata database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.Data, "metadata.db")
}

// VectorPath returns the on-disk dense index location.
func (c *Config) VectorPath() string {
	return filepath.Join(c.Paths.Data, "vectors.hnsw")
}

// LockPath returns the single-process lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.Data, "lodestone.lock")
}

func (c *Config) applyEnv() {
	setString(&c.Paths.Root, "ROOT_PATH")
	setString(&c.Paths.Data, "DATA_PATH")
	setString(&c.Vector.Host, "VECTOR_HOST")
	setInt(&c.Vector.Port, "VECTOR_PORT")
	setString(&c.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&c.Embedding.Dimension, "EMBEDDING_DIMENSION")
	setInt(&c.Embedding.Version, "EMBEDDING_VERSION")
	setInt(&c.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	setString(&c.Embedding.OllamaHost, "OLLAMA_HOST")
	setInt(&c.Indexing.Workers, "INDEX_WORKERS")
	setInt(&c.Indexing.ChunkSize, "CHUNK_SIZE")
	setInt(&c.Indexing.ChunkOverlap, "CHUNK_OVERLAP")
	setDuration(&c.Indexing.PollInterval, "INDEXING_POLL_INTERVAL")
	setDuration(&c.Watch.Debounce, "WATCH_DEBOUNCE")
	setDuration(&c.Sync.Interval, "SYNC_INTERVAL")
	setInt(&c.Server.HTTPPort, "HTTP_PORT")
	setInt(&c.Server.MCPPort, "MCP_PORT")
	setString(&c.Server.MCPTransport, "MCP_TRANSPORT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setDuration accepts Go duration strings and, for compatibility with
// the original env scheme, bare integers meaning seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DataDirName is the per-project directory holding the index artifact,
// the catalog database, and the build lock.
const DataDirName = ".qanoon"

// Config represents the complete Qanoon configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Build      BuildConfig      `yaml:"build" json:"build"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	KeepAlive  KeepAliveConfig  `yaml:"keepalive" json:"keepalive"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ChunkConfig configures the text splitter. Sizes are in runes.
type ChunkConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// BuildConfig configures index construction.
type BuildConfig struct {
	// BatchSize is the number of chunks embedded and appended per batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CheckpointEvery saves the index and checkpoint after this many batches.
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`

	// Workers is the size of the record normalization pool.
	Workers int `yaml:"workers" json:"workers"`

	// Timeout bounds each batch embedding call. Exceeding it fails the build.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "static", "openai", "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key,omitempty" json:"-"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`

	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`

	// RatePerSecond paces provider requests; 0 disables pacing.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`

	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Path of the persisted index artifact. Relative paths resolve against
	// the project directory.
	Path string `yaml:"path" json:"path"`

	// Metric is one of "cosine", "l2", "dot".
	Metric string `yaml:"metric" json:"metric"`

	// Mode is "flat" (exact scan) or "hnsw" (graph candidates, exact rescoring).
	Mode string `yaml:"mode" json:"mode"`
}

// RetrievalConfig configures query-time retrieval.
type RetrievalConfig struct {
	K int `yaml:"k" json:"k"`

	// BreakerFailures opens the embedder circuit after this many consecutive failures.
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// GenerationConfig configures the streaming language model call.
type GenerationConfig struct {
	Model       string        `yaml:"model" json:"model"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`

	// Credentials is the ordered API key rotation pool.
	Credentials []string `yaml:"credentials,omitempty" json:"-"`
}

// KeepAliveConfig configures the background embedder warm-up task.
type KeepAliveConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// WatchConfig configures the corpus watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 100,
		},
		Build: BuildConfig{
			BatchSize:       2000,
			CheckpointEvery: 1,
			Workers:         8,
			Timeout:         60 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "static",
			Model:         "sentence-transformers/all-MiniLM-L6-v2",
			Dimensions:    384,
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			RatePerSecond: 0,
			CacheSize:     1000,
		},
		Index: IndexConfig{
			Path:   filepath.Join(DataDirName, "index.gob.zst"),
			Metric: "cosine",
			Mode:   "flat",
		},
		Retrieval: RetrievalConfig{
			K:               8,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Generation: GenerationConfig{
			Model:       "llama-3.1-8b-instant",
			BaseURL:     "https://api.groq.com/openai/v1",
			Temperature: 0.1,
			MaxRetries:  3,
			BackoffBase: 5 * time.Second,
			Timeout:     60 * time.Second,
		},
		KeepAlive: KeepAliveConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
			Timeout:  30 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file:
//   - $XDG_CONFIG_HOME/qanoon/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/qanoon/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qanoon", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "qanoon", "config.yaml")
	}
	return filepath.Join(home, ".config", "qanoon", "config.yaml")
}

// Load loads configuration for the project in dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/qanoon/config.yaml)
//  3. Project config (.qanoon.yaml in dir)
//  4. Environment (QANOON_*, GROQ_API_KEY), with dir/.env filling unset variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// godotenv.Load never overrides variables already set in the process.
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	cfg.applyEnvOverrides()

	if !filepath.IsAbs(cfg.Index.Path) {
		cfg.Index.Path = filepath.Join(dir, cfg.Index.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DataDir returns the directory holding the index artifact.
func (c *Config) DataDir() string {
	return filepath.Dir(c.Index.Path)
}

// CatalogPath returns the SQLite catalog location next to the index artifact.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir(), "catalog.db")
}

// LockPath returns the build lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir(), "build.lock")
}

// loadFromFile loads .qanoon.yaml (or .qanoon.yml) from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".qanoon.yaml", ".qanoon.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path on top of the current values. Keys absent from the
// file keep their current value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies QANOON_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QANOON_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("QANOON_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("QANOON_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("QANOON_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("QANOON_EMBEDDINGS_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("QANOON_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("QANOON_INDEX_MODE"); v != "" {
		c.Index.Mode = v
	}
	if v := os.Getenv("QANOON_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("QANOON_GENERATION_BASE_URL"); v != "" {
		c.Generation.BaseURL = v
	}
	if v := os.Getenv("QANOON_GENERATION_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Generation.MaxRetries = n
		}
	}
	if keys := splitList(os.Getenv("QANOON_GENERATION_API_KEYS")); len(keys) > 0 {
		c.Generation.Credentials = keys
	} else if len(c.Generation.Credentials) == 0 {
		c.Generation.Credentials = splitList(os.Getenv("GROQ_API_KEY"))
	}
	if v := os.Getenv("QANOON_KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.KeepAlive.Interval = d
		}
	}
	if v := os.Getenv("QANOON_KEEPALIVE_ENABLED"); v != "" {
		c.KeepAlive.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("QANOON_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", c.Chunk.Overlap)
	}
	if c.Build.BatchSize <= 0 {
		return fmt.Errorf("build.batch_size must be positive, got %d", c.Build.BatchSize)
	}
	if c.Build.CheckpointEvery <= 0 {
		return fmt.Errorf("build.checkpoint_every must be positive, got %d", c.Build.CheckpointEvery)
	}
	if c.Build.Workers <= 0 {
		return fmt.Errorf("build.workers must be positive, got %d", c.Build.Workers)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	validProviders := map[string]bool{"static": true, "openai": true, "ollama": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static', 'openai', or 'ollama', got %s", c.Embeddings.Provider)
	}

	validMetrics := map[string]bool{"cosine": true, "l2": true, "dot": true}
	if !validMetrics[strings.ToLower(c.Index.Metric)] {
		return fmt.Errorf("index.metric must be 'cosine', 'l2', or 'dot', got %s", c.Index.Metric)
	}
	validModes := map[string]bool{"flat": true, "hnsw": true}
	if !validModes[strings.ToLower(c.Index.Mode)] {
		return fmt.Errorf("index.mode must be 'flat' or 'hnsw', got %s", c.Index.Mode)
	}

	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Generation.MaxRetries <= 0 {
		return fmt.Errorf("generation.max_retries must be positive, got %d", c.Generation.MaxRetries)
	}
	if c.Generation.BackoffBase < 0 {
		return fmt.Errorf("generation.backoff_base must be non-negative, got %s", c.Generation.BackoffBase)
	}
	if c.KeepAlive.Enabled && c.KeepAlive.Interval <= 0 {
		return fmt.Errorf("keepalive.interval must be positive, got %s", c.KeepAlive.Interval)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

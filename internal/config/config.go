// Package config loads docrag settings from a YAML file, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides: DOCRAG_LLM_MODEL sets llm.model.
const EnvPrefix = "DOCRAG"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Chunking  ChunkingConfig  `mapstructure:"chunking" yaml:"chunking"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Synthesis SynthesisConfig `mapstructure:"synthesis" yaml:"synthesis"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Parser    ParserConfig    `mapstructure:"parser" yaml:"parser"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-" yaml:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects the vector store. Driver is sqlite3, pgx or memory.
type StoreConfig struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

type IngestConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
	Workers      int   `mapstructure:"workers" yaml:"workers"`
}

// ChunkingConfig sizes are in characters.
type ChunkingConfig struct {
	Size    int `mapstructure:"size" yaml:"size"`
	Overlap int `mapstructure:"overlap" yaml:"overlap"`
	Window  int `mapstructure:"window" yaml:"window"`
}

// EmbeddingConfig selects the embedding backend (ollama or openai).
type EmbeddingConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKeyEnv   string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BatchSize   int           `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// LLMConfig lists generation backends in fallback order.
type LLMConfig struct {
	Backends    []string      `mapstructure:"backends" yaml:"backends"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	OpenAI      OpenAIConfig  `mapstructure:"openai" yaml:"openai"`
}

// OpenAIConfig is the OpenAI-compatible chat backend.
type OpenAIConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
	Model     string `mapstructure:"model" yaml:"model"`
}

type RetrievalConfig struct {
	DefaultK     int           `mapstructure:"default_k" yaml:"default_k"`
	MaxK         int           `mapstructure:"max_k" yaml:"max_k"`
	MinScore     float64       `mapstructure:"min_score" yaml:"min_score"`
	EmbedTimeout time.Duration `mapstructure:"embed_timeout" yaml:"embed_timeout"`
}

type SynthesisConfig struct {
	MaxContextChars int `mapstructure:"max_context_chars" yaml:"max_context_chars"`
}

// CacheConfig configures the embedding cache. Backend is none or redis.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	Addr     string        `mapstructure:"addr" yaml:"addr,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ParserConfig max_docx_bytes bounds the decompressed document part of a DOCX upload.
type ParserConfig struct {
	PDFServiceURL string `mapstructure:"pdf_service_url" yaml:"pdf_service_url,omitempty"`
	MaxDOCXBytes  int64  `mapstructure:"max_docx_bytes" yaml:"max_docx_bytes"`
}

// WatchConfig debounce is how long a changed file must be quiet before it is re-ingested.
type WatchConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir,omitempty"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LogConfig mode is development or production.
type LogConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store:    StoreConfig{Driver: "sqlite3", DataDir: "./data"},
		Ingest:   IngestConfig{MaxFileBytes: 50 << 20, Workers: 4},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200, Window: 200},
		Embedding: EmbeddingConfig{
			Backend:     "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "nomic-embed-text",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     60 * time.Second,
			BatchSize:   32,
			Concurrency: 2,
			MaxRetries:  3,
		},
		LLM: LLMConfig{
			Backends:    []string{"ollama"},
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			Timeout:     120 * time.Second,
			MaxTokens:   500,
			Temperature: 0.1,
			OpenAI: OpenAIConfig{
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
				Model:     "gpt-4o-mini",
			},
		},
		Retrieval: RetrievalConfig{DefaultK: 5, MaxK: 50, EmbedTimeout: 30 * time.Second},
		Synthesis: SynthesisConfig{MaxContextChars: 8000},
		Cache:     CacheConfig{Backend: "none", Addr: "localhost:6379", TTL: 7 * 24 * time.Hour},
		Parser:    ParserConfig{MaxDOCXBytes: 64 << 20},
		Watch:     WatchConfig{Debounce: 300 * time.Millisecond},
		Log:       LogConfig{Mode: "development", Level: "info"},
	}
}

// Load reads configuration. An explicit path must exist; without one the
// first of ./docrag.yaml and $HOME/.config/docrag/config.yaml is used, and
// defaults apply when neither exists. A .env file in the working directory is
// loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			// $HOME/.config/docrag/config.yaml
			if p := filepath.Join(home, ".config", "docrag", "config.yaml"); fileExists(p) {
				v.SetConfigFile(p)
			}
		}
		if fileExists("docrag.yaml") {
			v.SetConfigFile("docrag.yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// environment lists may be comma or space separated
	cfg.LLM.Backends = splitList(cfg.LLM.Backends)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		panic(fmt.Sprintf("marshal default config: %v", err))
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		panic(fmt.Sprintf("unmarshal default config: %v", err))
	}
	walk("", tree, v.SetDefault)
	// keys omitted from the YAML when empty
	for _, k := range []string{"store.dsn", "cache.password", "parser.pdf_service_url", "watch.dir"} {
		if !v.IsSet(k) {
			v.SetDefault(k, "")
		}
	}
}

func walk(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walk(key, sub, set)
			continue
		}
		set(key, val)
	}
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error
	ch := c.Chunking
	if ch.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive"))
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, chunking.size)"))
	}
	if ch.Window < 0 || ch.Window >= ch.Size-ch.Overlap {
		errs = append(errs, fmt.Errorf("chunking.window must be in [0, size-overlap)"))
	}

	switch c.Store.Driver {
	case "sqlite3", "memory":
	case "pgx":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the pgx driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite3, pgx, memory", c.Store.Driver))
	}

	switch c.Embedding.Backend {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.backend %q is not one of ollama, openai", c.Embedding.Backend))
	}

	if len(c.LLM.Backends) == 0 {
		errs = append(errs, fmt.Errorf("llm.backends must list at least one backend"))
	}
	for _, b := range c.LLM.Backends {
		if b != "ollama" && b != "openai" {
			errs = append(errs, fmt.Errorf("llm.backends: unknown backend %q", b))
		}
	}

	switch c.Cache.Backend {
	case "", "none", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of none, redis", c.Cache.Backend))
	}

	if c.Retrieval.DefaultK <= 0 || c.Retrieval.MaxK < c.Retrieval.DefaultK {
		errs = append(errs, fmt.Errorf("retrieval: need 0 < default_k <= max_k"))
	}
	if c.Synthesis.MaxContextChars <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_context_chars must be positive"))
	}
	if c.Ingest.MaxFileBytes <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_file_bytes must be positive"))
	}
	if c.Parser.MaxDOCXBytes <= 0 {
		errs = append(errs, fmt.Errorf("parser.max_docx_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultUserPath is $HOME/.config/docrag/config.yaml.
func DefaultUserPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

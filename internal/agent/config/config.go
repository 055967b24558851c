package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the advisory pipeline. It is built once at
// the composition root and passed explicitly to every component.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Eval      EvalConfig      `mapstructure:"eval"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig contains completion and embedding provider settings
type LLMConfig struct {
	APIKey            string             `mapstructure:"api_key"`
	BaseURL           string             `mapstructure:"base_url"`
	ModelMain         string             `mapstructure:"model_main"`
	ModelEval         string             `mapstructure:"model_eval"`
	Timeout           time.Duration      `mapstructure:"timeout"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second"`
	MaxRetries        int                `mapstructure:"max_retries"`
	RetryBackoff      time.Duration      `mapstructure:"retry_backoff"`
	Temperatures      TemperaturesConfig `mapstructure:"temperatures"`
}

// TemperaturesConfig holds the sampling temperature used by each stage.
type TemperaturesConfig struct {
	Planner    float32 `mapstructure:"planner"`
	Researcher float32 `mapstructure:"researcher"`
	Writer     float32 `mapstructure:"writer"`
	Verifier   float32 `mapstructure:"verifier"`
}

// RetrievalConfig controls corpus loading and the grounding index
type RetrievalConfig struct {
	DocsDir        string `mapstructure:"docs_dir"`
	Manifest       string `mapstructure:"manifest"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	TopK           int    `mapstructure:"top_k"`
	NoteMaxChars   int    `mapstructure:"note_max_chars"`
	RefreshCron    string `mapstructure:"refresh_cron"`
}

// PipelineConfig contains stage-level limits and defaults
type PipelineConfig struct {
	DefaultSigner      string `mapstructure:"default_signer"`
	ResearchTraceChars int    `mapstructure:"research_trace_chars"`
	VerifyNoteChars    int    `mapstructure:"verify_note_chars"`
}

// EvalConfig contains batch evaluation settings
type EvalConfig struct {
	Goal        string `mapstructure:"goal"`
	OutputMode  string `mapstructure:"output_mode"`
	Concurrency int    `mapstructure:"concurrency"`
	PromptsPath string `mapstructure:"prompts_path"`
	OutputPath  string `mapstructure:"output_path"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StorageConfig selects and configures the run store
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr returns the host:port pair for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	OpenAPIPath string `mapstructure:"openapi_path"`
}

// QueueConfig controls asynchronous runs over Redis Streams. The queue reuses
// the storage.redis connection settings.
type QueueConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Stream       string        `mapstructure:"stream"`
	EventsStream string        `mapstructure:"events_stream"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	Block        time.Duration `mapstructure:"block"`
	Count        int64         `mapstructure:"count"`
	ClaimIdle    time.Duration `mapstructure:"claim_idle"`
	MaxLen       int64         `mapstructure:"max_len"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Load reads configuration from an optional file and the environment. An empty
// path searches ./config and the working directory for advisor.{yaml,json};
// a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("advisor")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone. Tests and
// embedders start from it and override individual fields.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// ForEval returns a copy whose main model is the evaluation model.
func (c *Config) ForEval() *Config {
	cp := *c
	if c.LLM.ModelEval != "" {
		cp.LLM.ModelMain = c.LLM.ModelEval
	}
	return &cp
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model_main", "gpt-4.1-mini")
	v.SetDefault("llm.model_eval", "gpt-4.1-nano")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_second", 0)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", "300ms")
	v.SetDefault("llm.temperatures.planner", 0.2)
	v.SetDefault("llm.temperatures.researcher", 0.2)
	v.SetDefault("llm.temperatures.writer", 0.3)
	v.SetDefault("llm.temperatures.verifier", 0.0)

	v.SetDefault("retrieval.docs_dir", "data/insurance_docs")
	v.SetDefault("retrieval.manifest", "")
	v.SetDefault("retrieval.refresh_cron", "")
	v.SetDefault("retrieval.embedding_model", "text-embedding-3-large")
	v.SetDefault("retrieval.chunk_size", 800)
	v.SetDefault("retrieval.chunk_overlap", 150)
	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.note_max_chars", 500)

	v.SetDefault("pipeline.default_signer", "The Advisory Team")
	v.SetDefault("pipeline.research_trace_chars", 300)
	v.SetDefault("pipeline.verify_note_chars", 200)

	v.SetDefault("eval.goal", "Provide a concise, source-grounded recommendation for insurance operations.")
	v.SetDefault("eval.output_mode", "analyst")
	v.SetDefault("eval.concurrency", 1)
	v.SetDefault("eval.prompts_path", "eval/test_prompts.txt")
	v.SetDefault("eval.output_path", "eval/eval_results.json")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.service_name", "advisor")
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.ttl", "168h")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")

	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.openapi_path", "docs/openapi.yaml")

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.stream", "advisor.runs")
	v.SetDefault("queue.events_stream", "advisor.events")
	v.SetDefault("queue.group", "advisor-workers")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.block", "5s")
	v.SetDefault("queue.count", 16)
	v.SetDefault("queue.claim_idle", "1m")
	v.SetDefault("queue.max_len", 10000)
}

// overrideFromEnv maps the unprefixed variables used by existing deployments.
func overrideFromEnv(v *viper.Viper) {
	direct := map[string]string{
		"OPENAI_API_KEY":              "llm.api_key",
		"OPENAI_BASE_URL":             "llm.base_url",
		"MODEL_MAIN":                  "llm.model_main",
		"MODEL_EVAL":                  "llm.model_eval",
		"EMBEDDING_MODEL":             "retrieval.embedding_model",
		"EVAL_GOAL":                   "eval.goal",
		"EVAL_OUTPUT_MODE":            "eval.output_mode",
		"REDIS_HOST":                  "storage.redis.host",
		"REDIS_PASSWORD":              "storage.redis.password",
		"DATABASE_URL":                "storage.postgres.url",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "telemetry.otlp_endpoint",
	}
	for env, key := range direct {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.redis.port", p)
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Eval.OutputMode {
	case "executive", "analyst":
	default:
		return fmt.Errorf("eval.output_mode must be executive or analyst, got %q", c.Eval.OutputMode)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("retrieval.chunk_size must be positive")
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be in [0, chunk_size)")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if c.Eval.Concurrency < 1 {
		return fmt.Errorf("eval.concurrency must be at least 1")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		p := c.Storage.Postgres
		if p.URL == "" && (p.Host == "" || p.DBName == "") {
			return fmt.Errorf("storage.postgres requires url or host and dbname")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}
	if c.Queue.Enabled {
		if c.Storage.Backend == BackendMemory {
			return fmt.Errorf("queue.enabled needs a shared storage.backend, not memory")
		}
		if c.Queue.Stream == "" || c.Queue.Group == "" {
			return fmt.Errorf("queue.stream and queue.group are required")
		}
	}
	return nil
}

package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/worker"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	AI       AIConfig       `yaml:"ai" mapstructure:"ai"`
	Importer ImporterConfig `yaml:"importer" mapstructure:"importer"`
	Parser   ParserConfig   `yaml:"parser" mapstructure:"parser"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Pool returns the pgx pool tuning, or nil when none is set.
func (c StoreConfig) Pool() *store.PoolConfig {
	if c.MaxConns == 0 && c.MinConns == 0 {
		return nil
	}
	return &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns}
}

// StorageConfig configures where uploaded source files live.
type StorageConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	LocalRoot  string `yaml:"local_root" mapstructure:"local_root"`
	S3Bucket   string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
	S3Region   string `yaml:"s3_region" mapstructure:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
}

// AIConfig configures the extraction agents. Documents always go to
// Anthropic; Provider picks the agent for extracted spreadsheet and Word text.
type AIConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	AnthropicKey      string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicBaseURL  string `yaml:"anthropic_base_url" mapstructure:"anthropic_base_url"`
	AnthropicModel    string `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	OpenAIKey         string `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	OpenAIModel       string `yaml:"openai_model" mapstructure:"openai_model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	BreakerThreshold  int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ImporterConfig holds the bulk-import limits and timings.
type ImporterConfig struct {
	MaxFileBytes      int64   `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	MaxItems          int     `yaml:"max_items" mapstructure:"max_items"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	LeaseSecs         int     `yaml:"lease_secs" mapstructure:"lease_secs"`
	FinalizeLeaseSecs int     `yaml:"finalize_lease_secs" mapstructure:"finalize_lease_secs"`
	BackoffBaseSecs   int     `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	BackoffMaxSecs    int     `yaml:"backoff_max_secs" mapstructure:"backoff_max_secs"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RetentionDays     int     `yaml:"retention_days" mapstructure:"retention_days"`
	ReviewConfidence  int     `yaml:"review_confidence" mapstructure:"review_confidence"`
	QuestionnairePath string  `yaml:"questionnaire_path" mapstructure:"questionnaire_path"`
}

// ParserConfig bounds text extraction.
type ParserConfig struct {
	MaxRows     int  `yaml:"max_rows" mapstructure:"max_rows"`
	MaxCells    int  `yaml:"max_cells" mapstructure:"max_cells"`
	MaxChars    int  `yaml:"max_chars" mapstructure:"max_chars"`
	Isolate     bool `yaml:"isolate" mapstructure:"isolate"`
	TimeoutSecs int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WorkerConfig sizes the background worker.
type WorkerConfig struct {
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalMs    int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	SweepLimit        int `yaml:"sweep_limit" mapstructure:"sweep_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BULKIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_root", "./data/objects")
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ai.openai_model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 16000)
	v.SetDefault("ai.timeout_secs", 120)
	v.SetDefault("ai.requests_per_minute", 50)
	v.SetDefault("ai.breaker_threshold", 5)
	v.SetDefault("ai.breaker_reset_secs", 60)
	v.SetDefault("importer.max_file_bytes", 10<<20)
	v.SetDefault("importer.max_items", 4000)
	v.SetDefault("importer.max_attempts", 3)
	v.SetDefault("importer.lease_secs", 300)
	v.SetDefault("importer.finalize_lease_secs", 900)
	v.SetDefault("importer.backoff_base_secs", 30)
	v.SetDefault("importer.backoff_max_secs", 600)
	v.SetDefault("importer.jitter_fraction", 0.2)
	v.SetDefault("importer.retention_days", 90)
	v.SetDefault("importer.review_confidence", 70)
	v.SetDefault("parser.max_rows", 5000)
	v.SetDefault("parser.max_cells", 100000)
	v.SetDefault("parser.max_chars", 200000)
	v.SetDefault("parser.isolate", true)
	v.SetDefault("parser.timeout_secs", 60)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.sweep_interval_secs", 60)
	v.SetDefault("worker.sweep_limit", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode "worker" adds the AI
// and pool checks, "serve" the listener checks; "" runs only the shared ones.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalRoot == "" {
			errs = append(errs, "storage.local_root is required")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			errs = append(errs, "storage.s3_bucket is required")
		}
	default:
		errs = append(errs, "storage.driver must be local or s3")
	}

	im := c.Importer
	if im.MaxFileBytes <= 0 || im.MaxItems <= 0 || im.MaxAttempts <= 0 || im.LeaseSecs <= 0 || im.FinalizeLeaseSecs <= 0 {
		errs = append(errs, "importer limits must be positive")
	}
	if im.BackoffBaseSecs <= 0 || im.BackoffMaxSecs < im.BackoffBaseSecs {
		errs = append(errs, "importer.backoff_max_secs must be >= backoff_base_secs > 0")
	}
	if im.JitterFraction < 0 || im.JitterFraction >= 1 {
		errs = append(errs, "importer.jitter_fraction must be in [0, 1)")
	}
	if im.RetentionDays <= 0 {
		errs = append(errs, "importer.retention_days must be positive")
	}
	if im.ReviewConfidence < 0 || im.ReviewConfidence > 100 {
		errs = append(errs, "importer.review_confidence must be 0-100")
	}
	if c.Parser.MaxRows <= 0 || c.Parser.MaxCells <= 0 || c.Parser.MaxChars <= 0 {
		errs = append(errs, "parser limits must be positive")
	}

	switch mode {
	case "worker":
		errs = append(errs, c.validateAI()...)
		if c.Worker.Concurrency <= 0 {
			errs = append(errs, "worker.concurrency must be positive")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be 1-65535")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAI() []string {
	var errs []string
	if c.AI.AnthropicKey == "" {
		errs = append(errs, "ai.anthropic_key is required")
	}
	switch c.AI.Provider {
	case "anthropic":
	case "openai":
		if c.AI.OpenAIKey == "" {
			errs = append(errs, "ai.openai_key is required when ai.provider is openai")
		}
	default:
		errs = append(errs, "ai.provider must be anthropic or openai")
	}
	if c.AI.MaxTokens <= 0 || c.AI.TimeoutSecs <= 0 {
		errs = append(errs, "ai.max_tokens and ai.timeout_secs must be positive")
	}
	return errs
}

// ImporterSettings converts the importer section to service settings.
func (c *Config) ImporterSettings() importer.Config {
	out := importer.DefaultConfig()
	im := c.Importer
	out.MaxFileBytes = im.MaxFileBytes
	out.MaxItems = im.MaxItems
	out.MaxAttempts = im.MaxAttempts
	out.Lease = time.Duration(im.LeaseSecs) * time.Second
	out.FinalizeLease = time.Duration(im.FinalizeLeaseSecs) * time.Second
	out.Backoff = resilience.Backoff{
		Base:           time.Duration(im.BackoffBaseSecs) * time.Second,
		Max:            time.Duration(im.BackoffMaxSecs) * time.Second,
		JitterFraction: im.JitterFraction,
	}
	out.Retention = time.Duration(im.RetentionDays) * 24 * time.Hour
	out.ReviewConfidence = im.ReviewConfidence
	out.Retry.OnRetry = resilience.RetryLogger("storage", "download")
	return out
}

// WorkerSettings converts the worker section.
func (c *Config) WorkerSettings() worker.Config {
	return worker.Config{
		Concurrency:   c.Worker.Concurrency,
		PollInterval:  time.Duration(c.Worker.PollIntervalMs) * time.Millisecond,
		SweepInterval: time.Duration(c.Worker.SweepIntervalSecs) * time.Second,
		SweepLimit:    c.Worker.SweepLimit,
	}
}

// ParserLimits converts the parser section.
func (c *Config) ParserLimits() parser.Limits {
	return parser.Limits{
		MaxRows:  c.Parser.MaxRows,
		MaxCells: c.Parser.MaxCells,
		MaxChars: c.Parser.MaxChars,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

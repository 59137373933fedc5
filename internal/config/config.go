// Package config loads runtime settings from defaults, an optional config
// file, dotenv files and the process environment, in increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

// Config centralizes runtime settings for the API, the workers and the CLI.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	DatabaseURL string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisStream      string
	RedisDLQ         string
	RedisGroup       string
	RedisConsumer    string
	RedisIndexPrefix string

	CacheTTL time.Duration

	WorkerEnabled       bool
	WorkerConcurrency   int
	RecoveryEnabled     bool
	WorkerShutdownGrace time.Duration
	QueueBufferSize     int
	QueueMaxAttempts    int

	StageTimeout        time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	RetryJitterFraction float64

	StageRateLimitRPS   float64
	StageRateLimitBurst int

	OpenRouterAPIKey         string
	OpenRouterBaseURL        string
	OpenRouterTimeout        time.Duration
	OpenRouterModelStructure string
	OpenRouterModelAppeal    string
	OpenRouterModelFallback  string
	OpenRouterSiteURL        string
	OpenRouterAppName        string

	ModelCacheTTL        time.Duration
	ModelCacheMaxEntries int

	ResumeDir string

	AggregationPolicyFile      string
	AggregationStructureWeight float64
	AggregationAppealWeight    float64

	LogMode            string
	TracingEnabled     bool
	TracingEndpoint    string
	TracingInsecure    bool
	TracingSampleRatio float64
}

// Options selects the files merged below the process environment.
type Options struct {
	ConfigFile string
	EnvFiles   []string
}

// Load reads CONFIG_FILE (if set) and the .env/.env.local files of the
// working directory.
func Load() (Config, error) {
	return LoadWithOptions(Options{
		ConfigFile: os.Getenv("CONFIG_FILE"),
		EnvFiles:   []string{".env", ".env.local"},
	})
}

func LoadWithOptions(options Options) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(options.ConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, apperr.Wrapf(err, "read config file %s", path)
		}
	}
	if err := mergeEnvFiles(v, options.EnvFiles); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: v.GetString("port"),

		AuthToken:          strings.TrimSpace(v.GetString("api_auth_token")),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		RateLimitRPS:       v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),

		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),

		RedisAddr:        strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
		RedisStream:      v.GetString("redis_stream"),
		RedisDLQ:         v.GetString("redis_dlq_stream"),
		RedisGroup:       v.GetString("redis_group"),
		RedisConsumer:    v.GetString("redis_consumer"),
		RedisIndexPrefix: v.GetString("redis_index_prefix"),

		CacheTTL: seconds(v.GetInt("cache_ttl_seconds")),

		WorkerEnabled:       v.GetBool("worker_enabled"),
		WorkerConcurrency:   v.GetInt("worker_concurrency"),
		RecoveryEnabled:     v.GetBool("recovery_enabled"),
		WorkerShutdownGrace: millis(v.GetInt("worker_shutdown_grace_ms")),
		QueueBufferSize:     v.GetInt("queue_buffer_size"),
		QueueMaxAttempts:    v.GetInt("queue_max_attempts"),

		StageTimeout:        millis(v.GetInt("stage_timeout_ms")),
		RetryMaxAttempts:    v.GetInt("retry_max_attempts"),
		RetryBaseDelay:      millis(v.GetInt("retry_base_delay_ms")),
		RetryMaxDelay:       millis(v.GetInt("retry_max_delay_ms")),
		RetryJitterFraction: v.GetFloat64("retry_jitter_fraction"),

		StageRateLimitRPS:   v.GetFloat64("stage_rate_limit_rps"),
		StageRateLimitBurst: v.GetInt("stage_rate_limit_burst"),

		OpenRouterAPIKey:         strings.TrimSpace(v.GetString("openrouter_api_key")),
		OpenRouterBaseURL:        v.GetString("openrouter_base_url"),
		OpenRouterTimeout:        millis(v.GetInt("openrouter_timeout_ms")),
		OpenRouterModelStructure: v.GetString("openrouter_model_structure"),
		OpenRouterModelAppeal:    v.GetString("openrouter_model_appeal"),
		OpenRouterModelFallback:  v.GetString("openrouter_model_fallback"),
		OpenRouterSiteURL:        v.GetString("openrouter_site_url"),
		OpenRouterAppName:        v.GetString("openrouter_app_name"),

		ModelCacheTTL:        seconds(v.GetInt("model_cache_ttl_seconds")),
		ModelCacheMaxEntries: v.GetInt("model_cache_max_entries"),

		ResumeDir: v.GetString("resume_dir"),

		AggregationPolicyFile:      strings.TrimSpace(v.GetString("aggregation_policy_file")),
		AggregationStructureWeight: v.GetFloat64("aggregation_structure_weight"),
		AggregationAppealWeight:    v.GetFloat64("aggregation_appeal_weight"),

		LogMode:            v.GetString("log_mode"),
		TracingEnabled:     v.GetBool("tracing_enabled"),
		TracingEndpoint:    strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint")),
		TracingInsecure:    v.GetBool("otel_exporter_otlp_insecure"),
		TracingSampleRatio: v.GetFloat64("otel_sampler_ratio"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.WorkerConcurrency <= 0:
		return apperr.Newf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	case c.RetryMaxAttempts <= 0:
		return apperr.Newf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts)
	case c.StageTimeout <= 0:
		return apperr.New("STAGE_TIMEOUT_MS must be positive")
	case c.RetryJitterFraction < 0 || c.RetryJitterFraction >= 1:
		return apperr.Newf("RETRY_JITTER_FRACTION must be in [0, 1), got %v", c.RetryJitterFraction)
	case c.WorkerShutdownGrace < 0:
		return apperr.New("WORKER_SHUTDOWN_GRACE_MS must not be negative")
	case c.CacheTTL < 0:
		return apperr.New("CACHE_TTL_SECONDS must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"port": "8080",

		"api_auth_token":       "",
		"cors_allowed_origins": "*",
		"rate_limit_rps":       20.0,
		"rate_limit_burst":     40,

		"database_url": "",

		"redis_addr":         "",
		"redis_password":     "",
		"redis_db":           0,
		"redis_stream":       "resume_analyses",
		"redis_dlq_stream":   "resume_analyses_dlq",
		"redis_group":        "resume_workers",
		"redis_consumer":     "api-1",
		"redis_index_prefix": "resume:fp",

		"cache_ttl_seconds": 600,

		"worker_enabled":           true,
		"worker_concurrency":       4,
		"recovery_enabled":         true,
		"worker_shutdown_grace_ms": 30000,
		"queue_buffer_size":        512,
		"queue_max_attempts":       3,

		"stage_timeout_ms":      45000,
		"retry_max_attempts":    3,
		"retry_base_delay_ms":   1000,
		"retry_max_delay_ms":    30000,
		"retry_jitter_fraction": 0.2,

		"stage_rate_limit_rps":   5.0,
		"stage_rate_limit_burst": 10,

		"openrouter_api_key":         "",
		"openrouter_base_url":        "https://openrouter.ai/api/v1",
		"openrouter_timeout_ms":      40000,
		"openrouter_model_structure": "openai/gpt-4.1-mini",
		"openrouter_model_appeal":    "openai/gpt-4.1",
		"openrouter_model_fallback":  "openai/gpt-4.1-nano",
		"openrouter_site_url":        "",
		"openrouter_app_name":        "Resume Analyzer",

		"model_cache_ttl_seconds": 900,
		"model_cache_max_entries": 2000,

		"resume_dir": "resumes",

		"aggregation_policy_file":      "",
		"aggregation_structure_weight": 0.4,
		"aggregation_appeal_weight":    0.6,

		"log_mode":                    "dev",
		"tracing_enabled":             false,
		"otel_exporter_otlp_endpoint": "",
		"otel_exporter_otlp_insecure": false,
		"otel_sampler_ratio":          1.0,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// mergeEnvFiles layers dotenv files over the config file. Keys already set in
// the process environment still win because AutomaticEnv is consulted first.
func mergeEnvFiles(v *viper.Viper, paths []string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return apperr.Wrapf(err, "stat env file %s", path)
		}
		dotenv := viper.New()
		dotenv.SetConfigFile(path)
		dotenv.SetConfigType("env")
		if err := dotenv.ReadInConfig(); err != nil {
			return apperr.Wrapf(err, "read env file %s", path)
		}
		if err := v.MergeConfigMap(dotenv.AllSettings()); err != nil {
			return apperr.Wrapf(err, "merge env file %s", path)
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func seconds(value int) time.Duration { return time.Duration(value) * time.Second }

func millis(value int) time.Duration { return time.Duration(value) * time.Millisecond }

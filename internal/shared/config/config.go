package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Env             string   `mapstructure:"app_env"`
	Port            string   `mapstructure:"port"`
	CORSAllowOrigin []string `mapstructure:"cors_allowed_origins"`
	DatabaseURL     string   `mapstructure:"database_url"`
	DBAutoMigrate   bool     `mapstructure:"db_auto_migrate"`
	RedisURL        string   `mapstructure:"redis_url"`
	JWTSecret       string   `mapstructure:"jwt_secret"`
	LogJSON         bool     `mapstructure:"log_json"`
	LogDebug        bool     `mapstructure:"log_debug"`

	LLM      LLMConfig      `mapstructure:",squash"`
	Tasks    TasksConfig    `mapstructure:",squash"`
	Pipeline PipelineConfig `mapstructure:",squash"`
	Worker   WorkerConfig   `mapstructure:",squash"`

	VersionsGitDir       string `mapstructure:"versions_git_dir"`
	AdaptationCreditCost int    `mapstructure:"adaptation_credit_cost"`
	CreditLimit          int    `mapstructure:"credit_limit"`
}

// LLMConfig selects and configures the text-generation backend.
type LLMConfig struct {
	Provider string `mapstructure:"llm_provider"`
	// Model overrides every stage's catalogue model when set.
	Model         string        `mapstructure:"llm_model"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	OpenAITimeout time.Duration `mapstructure:"openai_timeout_seconds"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key"`
}

type TasksConfig struct {
	MaxConcurrency int `mapstructure:"tasks_max_concurrency"`
}

type PipelineConfig struct {
	Mode        string `mapstructure:"pipeline_mode"`
	FanOutLimit int    `mapstructure:"pipeline_fanout_limit"`
}

type WorkerConfig struct {
	QueueURL        string        `mapstructure:"sqs_queue_url"`
	AWSRegion       string        `mapstructure:"aws_region"`
	Concurrency     int           `mapstructure:"worker_concurrency"`
	Visibility      time.Duration `mapstructure:"sqs_visibility_timeout_seconds"`
	ShutdownTimeout time.Duration `mapstructure:"worker_shutdown_timeout_seconds"`
}

var defaults = map[string]any{
	"app_env":                         "dev",
	"port":                            "8080",
	"cors_allowed_origins":            "http://localhost:5173",
	"db_auto_migrate":                 false,
	"log_json":                        true,
	"log_debug":                       false,
	"llm_provider":                    "openai",
	"openai_timeout_seconds":          "60",
	"tasks_max_concurrency":           4,
	"pipeline_mode":                   "staged",
	"pipeline_fanout_limit":           0,
	"worker_concurrency":              2,
	"worker_shutdown_timeout_seconds": "30",
	"sqs_visibility_timeout_seconds":  "1200",
	"adaptation_credit_cost":          1,
	"credit_limit":                    20,
}

// Load reads configuration from the environment, local .env files and an optional config file
// registered on v. A nil v uses the global viper instance.
func Load(v *viper.Viper) (Config, error) {
	// Best-effort load of local env files for dev convenience; real env always wins.
	_ = godotenv.Load(existing(".env", "cmd/.env")...)

	if v == nil {
		v = viper.GetViper()
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for k := range defaults {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
	for _, k := range []string{"database_url", "redis_url", "openai_api_key", "gemini_api_key", "llm_model", "jwt_secret", "sqs_queue_url", "aws_region", "versions_git_dir"} {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Env = normalizeEnv(cfg.Env)
	cfg.CORSAllowOrigin = trimAll(cfg.CORSAllowOrigin)
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Pipeline.Mode = normalizeMode(cfg.Pipeline.Mode)
	if cfg.Tasks.MaxConcurrency <= 0 {
		cfg.Tasks.MaxConcurrency = 1
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required in production")
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	if cfg.Env == "production" && cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required in production")
	}
	return cfg, nil
}

// secondsHook decodes bare integers as seconds so OPENAI_TIMEOUT_SECONDS=30 means 30s.
func secondsHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return time.Duration(0), nil
			}
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			var n int
			if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
				return nil, fmt.Errorf("invalid duration %q", v)
			}
			return time.Duration(n) * time.Second, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeMode(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "legacy") {
		return "legacy"
	}
	return "staged"
}

func trimAll(in []string) []string {
	var out []string
	for _, p := range in {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

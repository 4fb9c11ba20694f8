// Package config loads the orchestrator's configuration from a YAML file,
// layers environment-variable overrides on top, validates the result, and
// optionally watches the file, reloading and validating it on change. The
// reloaded Config is only handed to the Watch callback; components built
// at startup keep the values they were built with.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// LLMConfig configures the LLM Gateway, its provider selection, and its
// model names. The gateway sends all six typed calls to ExtractorModel
// (BedrockModelID for bedrock); IntentModel is loaded but not read by it.
type LLMConfig struct {
	Provider         string        `yaml:"provider"`
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	AnthropicAPIKey  string        `yaml:"anthropic_api_key"`
	AWSRegion        string        `yaml:"aws_region"`
	BedrockModelID   string        `yaml:"bedrock_model_id"`
	IntentModel      string        `yaml:"intent_model"`
	ExtractorModel   string        `yaml:"extractor_model"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxMalformedJSON int           `yaml:"max_malformed_json_retries"`
	Temperature      float32       `yaml:"temperature"`
}

// BackendConfig configures the five backend Lambda endpoints and the
// shared retry/timeout budget applied to calling them.
type BackendConfig struct {
	GetScheduleStarted       string        `yaml:"lambda_get_schedule"`
	UpdateWorkScheduleResp   string        `yaml:"lambda_update_schedule"`
	UpdateClinicalData       string        `yaml:"lambda_update_clinical"`
	UpdateReportSummary      string        `yaml:"lambda_update_summary"`
	GetNoteReport            string        `yaml:"lambda_get_note_report"`
	Timeout                  time.Duration `yaml:"timeout"`
	MaxRetries               int           `yaml:"max_retries"`
}

// WebhookConfig configures the outbound n8n workflow webhook.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig configures the Postgres (durable, OCC-versioned) and Redis
// (ephemeral lock/idempotency/buffer) persistence backends.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

// CircuitBreakerConfig configures the backend adapter's breaker manager.
// The LLM gateway builds its own manager with fixed settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// LoggingConfig configures logrus's level and formatter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the orchestrator's full configuration tree.
type Config struct {
	Server          ServerConfig         `yaml:"server"`
	LLM             LLMConfig            `yaml:"llm"`
	Backend         BackendConfig        `yaml:"backend"`
	Webhook         WebhookConfig        `yaml:"webhook"`
	Store           StoreConfig          `yaml:"store"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging         LoggingConfig        `yaml:"logging"`
	RequestDeadline time.Duration        `yaml:"request_deadline"`
	ConfigWatch     bool                 `yaml:"config_watch"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			WebhookPort: "8080",
			MetricsPort: "9090",
		},
		LLM: LLMConfig{
			Provider:         "openai",
			IntentModel:      "gpt-4o-mini",
			ExtractorModel:   "gpt-4o-mini",
			Timeout:          10 * time.Second,
			MaxMalformedJSON: 1,
			Temperature:      0.2,
		},
		Backend: BackendConfig{
			Timeout:    8 * time.Second,
			MaxRetries: 3,
		},
		Store: StoreConfig{
			RedisDB: 0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RequestDeadline: 45 * time.Second,
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv overlays the deployment's environment variables onto cfg,
// leaving fields untouched when their variable is unset.
func loadFromEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("LLM_PROVIDER"); ok {
		cfg.LLM.Provider = v
	}
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v, ok := os.LookupEnv("AWS_REGION"); ok {
		cfg.LLM.AWSRegion = v
	}
	if v, ok := os.LookupEnv("BEDROCK_MODEL_ID"); ok {
		cfg.LLM.BedrockModelID = v
	}
	if v, ok := os.LookupEnv("INTENT_MODEL"); ok {
		cfg.LLM.IntentModel = v
	}
	if v, ok := os.LookupEnv("EXTRACTOR_MODEL"); ok {
		cfg.LLM.ExtractorModel = v
	}

	if v, ok := os.LookupEnv("LAMBDA_GET_SCHEDULE"); ok {
		cfg.Backend.GetScheduleStarted = v
	}
	if v, ok := os.LookupEnv("LAMBDA_UPDATE_SCHEDULE"); ok {
		cfg.Backend.UpdateWorkScheduleResp = v
	}
	if v, ok := os.LookupEnv("LAMBDA_UPDATE_CLINICAL"); ok {
		cfg.Backend.UpdateClinicalData = v
	}
	if v, ok := os.LookupEnv("LAMBDA_UPDATE_SUMMARY"); ok {
		cfg.Backend.UpdateReportSummary = v
	}
	if v, ok := os.LookupEnv("LAMBDA_GET_NOTE_REPORT"); ok {
		cfg.Backend.GetNoteReport = v
	}
	if v, ok := os.LookupEnv("TIMEOUT_LAMBDAS"); ok {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TIMEOUT_LAMBDAS: %w", err)
		}
		cfg.Backend.Timeout = time.Duration(seconds) * time.Second
	}
	if v, ok := os.LookupEnv("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.Backend.MaxRetries = n
	}

	if v, ok := os.LookupEnv("N8N_WEBHOOK_URL"); ok {
		cfg.Webhook.URL = v
	}

	if v, ok := os.LookupEnv("POSTGRES_DSN"); ok {
		cfg.Store.PostgresDSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Store.RedisAddr = v
	}
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.Store.RedisDB = n
	}

	if v, ok := os.LookupEnv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CIRCUIT_BREAKER_FAILURE_THRESHOLD: %w", err)
		}
		cfg.CircuitBreaker.FailureThreshold = n
	}
	if v, ok := os.LookupEnv("CIRCUIT_BREAKER_COOLDOWN"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CIRCUIT_BREAKER_COOLDOWN: %w", err)
		}
		cfg.CircuitBreaker.Cooldown = d
	}

	if v, ok := os.LookupEnv("REQUEST_DEADLINE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_DEADLINE: %w", err)
		}
		cfg.RequestDeadline = d
	}

	if v, ok := os.LookupEnv("WEBHOOK_PORT"); ok {
		cfg.Server.WebhookPort = v
	}
	if v, ok := os.LookupEnv("METRICS_PORT"); ok {
		cfg.Server.MetricsPort = v
	}
	if v, ok := os.LookupEnv("CONFIG_WATCH"); ok {
		cfg.ConfigWatch = v == "true"
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}

	return nil
}

// validate enforces the invariants a malformed config would otherwise
// only surface at first use: an unsupported LLM provider, a missing
// provider credential, an out-of-range temperature, a non-positive backend
// retry count or breaker threshold, or a missing store address.
func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OpenAI API key is required for openai provider")
		}
	case "anthropic":
		if cfg.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("Anthropic API key is required for anthropic provider")
		}
	case "bedrock":
		if cfg.LLM.AWSRegion == "" {
			return fmt.Errorf("AWS region is required for bedrock provider")
		}
		if cfg.LLM.BedrockModelID == "" {
			return fmt.Errorf("Bedrock model ID is required for bedrock provider")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}

	if cfg.LLM.Temperature < 0.0 || cfg.LLM.Temperature > 1.0 {
		return fmt.Errorf("LLM temperature must be between 0.0 and 1.0")
	}

	if cfg.Backend.MaxRetries <= 0 {
		return fmt.Errorf("backend max retries must be greater than 0")
	}

	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be greater than 0")
	}

	if cfg.Store.PostgresDSN == "" {
		return fmt.Errorf("Postgres DSN is required")
	}

	if cfg.Store.RedisAddr == "" {
		return fmt.Errorf("Redis address is required")
	}

	return nil
}

// Watch starts an fsnotify watcher on path and invokes onChange with the
// freshly reloaded Config whenever the file is written. Reload errors are
// sent to onError instead of replacing the running config, so a bad edit
// never takes the orchestrator down mid-flight.
func Watch(path string, onChange func(*Config), onError func(error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					onError(err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return watcher, nil
}

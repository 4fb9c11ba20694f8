package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  webhook_port: "8080"
  metrics_port: "9090"

llm:
  provider: "anthropic"
  anthropic_api_key: "sk-ant-test"
  intent_model: "claude-3-5-haiku"
  extractor_model: "claude-3-5-sonnet"
  timeout: "10s"
  temperature: 0.2

backend:
  lambda_get_schedule: "https://lambdas.example.com/getScheduleStarted"
  lambda_update_schedule: "https://lambdas.example.com/updateWorkScheduleResponse"
  lambda_update_clinical: "https://lambdas.example.com/updateClinicalData"
  lambda_update_summary: "https://lambdas.example.com/updatereportsummaryad"
  lambda_get_note_report: "https://lambdas.example.com/getNoteReport"
  timeout: "8s"
  max_retries: 3

webhook:
  url: "https://n8n.example.com/webhook/shift-events"

store:
  postgres_dsn: "postgres://orchestrator@localhost:5432/orchestrator"
  redis_addr: "localhost:6379"
  redis_db: 0

circuit_breaker:
  failure_threshold: 5
  cooldown: "60s"

logging:
  level: "info"
  format: "json"

request_deadline: "45s"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.WebhookPort).To(Equal("8080"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))

				Expect(config.LLM.Provider).To(Equal("anthropic"))
				Expect(config.LLM.AnthropicAPIKey).To(Equal("sk-ant-test"))
				Expect(config.LLM.IntentModel).To(Equal("claude-3-5-haiku"))
				Expect(config.LLM.ExtractorModel).To(Equal("claude-3-5-sonnet"))
				Expect(config.LLM.Timeout).To(Equal(10 * time.Second))
				Expect(config.LLM.Temperature).To(Equal(float32(0.2)))

				Expect(config.Backend.GetScheduleStarted).To(Equal("https://lambdas.example.com/getScheduleStarted"))
				Expect(config.Backend.Timeout).To(Equal(8 * time.Second))
				Expect(config.Backend.MaxRetries).To(Equal(3))

				Expect(config.Webhook.URL).To(Equal("https://n8n.example.com/webhook/shift-events"))

				Expect(config.Store.PostgresDSN).To(Equal("postgres://orchestrator@localhost:5432/orchestrator"))
				Expect(config.Store.RedisAddr).To(Equal("localhost:6379"))

				Expect(config.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(config.CircuitBreaker.Cooldown).To(Equal(60 * time.Second))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Logging.Format).To(Equal("json"))

				Expect(config.RequestDeadline).To(Equal(45 * time.Second))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
llm:
  provider: "openai"
  openai_api_key: "sk-test"

store:
  postgres_dsn: "postgres://orchestrator@localhost:5432/orchestrator"
  redis_addr: "localhost:6379"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.LLM.Provider).To(Equal("openai"))
				Expect(config.LLM.OpenAIAPIKey).To(Equal("sk-test"))

				// Defaults applied for everything else
				Expect(config.Server.WebhookPort).To(Equal("8080"))
				Expect(config.Backend.MaxRetries).To(Equal(3))
				Expect(config.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(config.RequestDeadline).To(Equal(45 * time.Second))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  webhook_port: "8080"
  invalid_yaml: [
llm:
  provider: "openai"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
llm:
  provider: "openai"
  openai_api_key: "sk-test"
  timeout: "invalid-duration"

store:
  postgres_dsn: "postgres://orchestrator@localhost:5432/orchestrator"
  redis_addr: "localhost:6379"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{
					WebhookPort: "8080",
					MetricsPort: "9090",
				},
				LLM: LLMConfig{
					Provider:    "openai",
					OpenAIAPIKey: "sk-test",
					Temperature: 0.2,
				},
				Backend: BackendConfig{
					Timeout:    8 * time.Second,
					MaxRetries: 3,
				},
				Store: StoreConfig{
					PostgresDSN: "postgres://orchestrator@localhost:5432/orchestrator",
					RedisAddr:   "localhost:6379",
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
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when LLM provider is invalid", func() {
			BeforeEach(func() {
				config.LLM.Provider = "invalid"
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported LLM provider"))
			})
		})

		Context("when openai provider is missing its API key", func() {
			BeforeEach(func() {
				config.LLM.OpenAIAPIKey = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("OpenAI API key is required"))
			})
		})

		Context("when anthropic provider is missing its API key", func() {
			BeforeEach(func() {
				config.LLM.Provider = "anthropic"
				config.LLM.AnthropicAPIKey = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("Anthropic API key is required"))
			})
		})

		Context("when bedrock provider is missing region and model", func() {
			BeforeEach(func() {
				config.LLM.Provider = "bedrock"
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("AWS region is required"))
			})
		})

		Context("when LLM temperature is out of range", func() {
			BeforeEach(func() {
				config.LLM.Temperature = 1.5
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("LLM temperature must be between 0.0 and 1.0"))
			})
		})

		Context("when Postgres DSN is missing", func() {
			BeforeEach(func() {
				config.Store.PostgresDSN = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("Postgres DSN is required"))
			})
		})

		Context("when Redis address is missing", func() {
			BeforeEach(func() {
				config.Store.RedisAddr = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("Redis address is required"))
			})
		})

		Context("when backend max retries is invalid", func() {
			BeforeEach(func() {
				config.Backend.MaxRetries = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("backend max retries must be greater than 0"))
			})
		})

		Context("when circuit breaker failure threshold is invalid", func() {
			BeforeEach(func() {
				config.CircuitBreaker.FailureThreshold = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("circuit breaker failure threshold must be greater than 0"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("LLM_PROVIDER", "anthropic")
				os.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
				os.Setenv("WEBHOOK_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("POSTGRES_DSN", "postgres://env@localhost:5432/orchestrator")
				os.Setenv("REDIS_ADDR", "redis-env:6379")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.LLM.Provider).To(Equal("anthropic"))
				Expect(config.LLM.AnthropicAPIKey).To(Equal("sk-ant-env"))
				Expect(config.Server.WebhookPort).To(Equal("3000"))
				Expect(config.Server.MetricsPort).To(Equal("9999"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Store.PostgresDSN).To(Equal("postgres://env@localhost:5432/orchestrator"))
				Expect(config.Store.RedisAddr).To(Equal("redis-env:6379"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})

		Context("when TIMEOUT_LAMBDAS is not a valid integer", func() {
			BeforeEach(func() {
				os.Setenv("TIMEOUT_LAMBDAS", "not-a-number")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should return an error", func() {
				err := loadFromEnv(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid TIMEOUT_LAMBDAS"))
			})
		})
	})
})

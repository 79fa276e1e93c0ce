package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileConfig все параметры сервиса. Читается из YAML, затем поверх
// применяются переменные окружения и значения по умолчанию.
type FileConfig struct {
	Port                string   `yaml:"port"`
	LogLevel            string   `yaml:"logLevel"`
	Storage             string   `yaml:"storage"`
	DatabaseURL         string   `yaml:"databaseURL"`
	RunMigrations       bool     `yaml:"runMigrations"`
	RedisAddr           string   `yaml:"redisAddr"`
	RedisPassword       string   `yaml:"redisPassword"`
	NotifyChannelPrefix string   `yaml:"notifyChannelPrefix"`
	CORSOrigins         []string `yaml:"corsOrigins"`

	CommissionRate    float64 `yaml:"commissionRate"`
	BidExpiryDays     int     `yaml:"bidExpiryDays"`
	RequestExpiryDays int     `yaml:"requestExpiryDays"`
	CategoriesPath    string  `yaml:"categoriesPath"`

	AI                   AIConfig    `yaml:"ai"`
	Queue                QueueConfig `yaml:"queue"`
	SweepIntervalSeconds int         `yaml:"sweepIntervalSeconds"`
}

type AIConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"apiKey"`
	BaseURL           string  `yaml:"baseURL"`
	TimeoutSeconds    int     `yaml:"timeoutSeconds"`
	RequestsPerMinute int     `yaml:"requestsPerMinute"`
	MinConfidence     float64 `yaml:"minConfidence"`
	CostPer1KTokens   float64 `yaml:"costPer1KTokens"`
}

type QueueConfig struct {
	IntervalSeconds    int `yaml:"intervalSeconds"`
	BatchSize          int `yaml:"batchSize"`
	MaxAttempts        int `yaml:"maxAttempts"`
	Concurrency        int `yaml:"concurrency"`
	BackoffBaseSeconds int `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds  int `yaml:"backoffMaxSeconds"`
	StaleAfterSeconds  int `yaml:"staleAfterSeconds"`
}

// Load читает .env (если есть), YAML по пути path (может быть пустым) и окружение
func Load(path string) (*FileConfig, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *FileConfig) applyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.DatabaseURL, "POSTGRES_CONN")
	setString(&c.Port, "PORT")
	setString(&c.Port, "SERVER_ADDRESS")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Storage, "STORAGE")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.CategoriesPath, "CATEGORIES_PATH")
	setString(&c.AI.Provider, "AI_PROVIDER")
	setString(&c.AI.Model, "AI_MODEL")
	setString(&c.AI.APIKey, "AI_API_KEY")
	setString(&c.AI.BaseURL, "AI_BASE_URL")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("RUN_MIGRATIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RUN_MIGRATIONS: %w", err)
		}
		c.RunMigrations = b
	}
	if v := os.Getenv("COMMISSION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("COMMISSION_RATE: %w", err)
		}
		c.CommissionRate = f
	}
	if v := os.Getenv("QUEUE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUEUE_MAX_ATTEMPTS: %w", err)
		}
		c.Queue.MaxAttempts = n
	}
	return nil
}

// Defaults значения, для которых ноль допустим и поэтому не означает "не задано".
// YAML и окружение применяются поверх них.
func Defaults() *FileConfig {
	return &FileConfig{
		CommissionRate: 0.10,
		AI:             AIConfig{MinConfidence: 0.6},
	}
}

// Normalize подставляет значения по умолчанию для незаданных полей
func (c *FileConfig) Normalize() {
	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = "0.0.0.0:8080"
	} else if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage == "" {
		if c.DatabaseURL != "" {
			c.Storage = "postgres"
		} else {
			c.Storage = "memory"
		}
	}
	if c.NotifyChannelPrefix == "" {
		c.NotifyChannelPrefix = "orderbroker:notify"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.BidExpiryDays <= 0 {
		c.BidExpiryDays = 7
	}
	if c.RequestExpiryDays <= 0 {
		c.RequestExpiryDays = 30
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		c.AI.Provider = "fake"
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.AI.RequestsPerMinute <= 0 {
		c.AI.RequestsPerMinute = 60
	}

	q := &c.Queue
	if q.IntervalSeconds <= 0 {
		q.IntervalSeconds = 30
	}
	if q.BatchSize <= 0 {
		q.BatchSize = 10
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 3
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 2
	}
	if q.BackoffBaseSeconds <= 0 {
		q.BackoffBaseSeconds = 30
	}
	if q.BackoffMaxSeconds <= 0 {
		q.BackoffMaxSeconds = 900
	}
	if q.StaleAfterSeconds <= 0 {
		q.StaleAfterSeconds = 600
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 60
	}
}

func (c *FileConfig) Validate() error {
	var errs []error
	switch c.Storage {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("databaseURL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		errs = append(errs, fmt.Errorf("commissionRate must be in [0, 1), got %v", c.CommissionRate))
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("ai.minConfidence must be in [0, 1], got %v", c.AI.MinConfidence))
	}
	switch c.AI.Provider {
	case "openai", "anthropic", "ollama", "fake", "keyword":
	default:
		errs = append(errs, fmt.Errorf("unknown ai provider %q", c.AI.Provider))
	}
	return errors.Join(errs...)
}

func (c *FileConfig) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func (q QueueConfig) Interval() time.Duration {
	return time.Duration(q.IntervalSeconds) * time.Second
}

func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

func (q QueueConfig) BackoffMax() time.Duration {
	return time.Duration(q.BackoffMaxSeconds) * time.Second
}

func (q QueueConfig) StaleAfter() time.Duration {
	return time.Duration(q.StaleAfterSeconds) * time.Second
}

func (c *FileConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *FileConfig) BidTTL() time.Duration {
	return time.Duration(c.BidExpiryDays) * 24 * time.Hour
}

func (c *FileConfig) RequestTTL() time.Duration {
	return time.Duration(c.RequestExpiryDays) * 24 * time.Hour
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

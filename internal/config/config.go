package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Oracle    OracleConfig
	Workers   WorkersConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
	// WSTokenTTL bounds the short-lived websocket auth tokens, in seconds.
	WSTokenTTL int
}

type OracleConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// PoolConfig sizes one queue's worker pool. Window applies to the rolling
// dequeue rate limit.
type PoolConfig struct {
	Concurrency     int
	MaxOpsPerWindow int
	Window          time.Duration
	PollInterval    time.Duration
}

// WorkersConfig holds the per-queue pools. Critic review is LLM-cost
// sensitive and capped lower than ingestion.
type WorkersConfig struct {
	SourceIngestion   PoolConfig
	PlanGeneration    PoolConfig
	OutlineGeneration PoolConfig
	ContentGeneration PoolConfig
	CriticReview      PoolConfig
}

type RateLimitConfig struct {
	GeneratePerMin int
	SourcesPerHour int
}

type QueueConfig struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	CompletedRetention int
	CompletedAge       time.Duration
	FailedAge          time.Duration
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("ORACLE_API_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// Config file is optional; env vars may carry everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.loglevel"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
			WSTokenTTL: viper.GetInt("jwt.wstokenttl"),
		},
		Oracle: OracleConfig{
			APIKey:         viper.GetString("oracle.apikey"),
			BaseURL:        viper.GetString("oracle.baseurl"),
			Model:          viper.GetString("oracle.model"),
			TimeoutSeconds: viper.GetInt("oracle.timeout"),
		},
		Workers: WorkersConfig{
			SourceIngestion:   poolConfig("workers.sourceingestion"),
			PlanGeneration:    poolConfig("workers.plangeneration"),
			OutlineGeneration: poolConfig("workers.outlinegeneration"),
			ContentGeneration: poolConfig("workers.contentgeneration"),
			CriticReview:      poolConfig("workers.criticreview"),
		},
		Queue: QueueConfig{
			MaxAttempts:        viper.GetInt("queue.maxattempts"),
			BackoffBase:        viper.GetDuration("queue.backoffbase"),
			CompletedRetention: viper.GetInt("queue.completedretention"),
			CompletedAge:       viper.GetDuration("queue.completedage"),
			FailedAge:          viper.GetDuration("queue.failedage"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerMin: viper.GetInt("ratelimit.generatepermin"),
			SourcesPerHour: viper.GetInt("ratelimit.sourcesperhour"),
		},
	}
	return cfg, nil
}

func poolConfig(prefix string) PoolConfig {
	return PoolConfig{
		Concurrency:     viper.GetInt(prefix + ".concurrency"),
		MaxOpsPerWindow: viper.GetInt(prefix + ".maxops"),
		Window:          viper.GetDuration(prefix + ".window"),
		PollInterval:    viper.GetDuration(prefix + ".pollinterval"),
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "3001")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.loglevel", "info")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.secret", "dev-secret-change-me")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("jwt.wstokenttl", 300)

	viper.SetDefault("oracle.baseurl", "https://openrouter.ai/api/v1")
	viper.SetDefault("oracle.model", "anthropic/claude-sonnet-4")
	viper.SetDefault("oracle.timeout", 60)

	for prefix, concurrency := range map[string]int{
		"workers.sourceingestion":   8,
		"workers.plangeneration":    3,
		"workers.outlinegeneration": 3,
		"workers.contentgeneration": 3,
		"workers.criticreview":      2,
	} {
		viper.SetDefault(prefix+".concurrency", concurrency)
		viper.SetDefault(prefix+".maxops", 5)
		viper.SetDefault(prefix+".window", time.Second)
		viper.SetDefault(prefix+".pollinterval", 250*time.Millisecond)
	}

	viper.SetDefault("ratelimit.generatepermin", 10)
	viper.SetDefault("ratelimit.sourcesperhour", 60)

	viper.SetDefault("queue.maxattempts", 3)
	viper.SetDefault("queue.backoffbase", time.Second)
	viper.SetDefault("queue.completedretention", 1000)
	viper.SetDefault("queue.completedage", 24*time.Hour)
	viper.SetDefault("queue.failedage", 7*24*time.Hour)
}

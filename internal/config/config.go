package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Auction   AuctionConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LogLevel  string
	AdminKey  string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuctionConfig drives the lifecycle engine
type AuctionConfig struct {
	Duration            time.Duration
	SweepInterval       time.Duration
	SweepConcurrency    int
	SweepEvalTimeout    time.Duration
	ShutdownGracePeriod time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUCTION_DURATION", "5m")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("SWEEP_CONCURRENCY", 8)
	v.SetDefault("SWEEP_EVAL_TIMEOUT", "0s")
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", "10s")
	v.SetDefault("MONGODB_DATABASE", "auctions")
	v.SetDefault("MONGODB_TIMEOUT", "10s")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "auction-events")
	v.SetDefault("MINIO_BUCKET", "auction-images")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		Auction: AuctionConfig{
			Duration:            v.GetDuration("AUCTION_DURATION"),
			SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
			SweepConcurrency:    v.GetInt("SWEEP_CONCURRENCY"),
			SweepEvalTimeout:    v.GetDuration("SWEEP_EVAL_TIMEOUT"),
			ShutdownGracePeriod: v.GetDuration("SHUTDOWN_GRACE_PERIOD"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  v.GetDuration("MONGODB_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Channel:  v.GetString("REDIS_CHANNEL"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
		AdminKey: v.GetString("ADMIN_API_KEY"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auction.Duration <= 0 {
		return fmt.Errorf("config: AUCTION_DURATION must be positive, got %s", c.Auction.Duration)
	}
	if c.Auction.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive, got %s", c.Auction.SweepInterval)
	}
	if c.Auction.SweepConcurrency <= 0 {
		return fmt.Errorf("config: SWEEP_CONCURRENCY must be positive, got %d", c.Auction.SweepConcurrency)
	}
	if c.Auction.SweepEvalTimeout < 0 {
		return fmt.Errorf("config: SWEEP_EVAL_TIMEOUT must not be negative, got %s", c.Auction.SweepEvalTimeout)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	AppConfig struct {
		HTTP      HTTP
		Log       Log
		PG        PG
		Redis     Redis
		Queue     Queue
		Feed      Feed
		Notify    Notify
		Script    Script
		Realtime  Realtime
		Worker    Worker
		Scheduler Scheduler
	}

	HTTP struct {
		Port string `env:"HTTP_PORT" envDefault:"8080"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
		Env   string `env:"ENV" envDefault:"local"`
	}

	PG struct {
		DSN string `env:"DATABASE_URL,required,notEmpty"`
	}

	Redis struct {
		URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	}

	// Queue 队列与重试/保留策略
	Queue struct {
		Name               string        `env:"QUEUE_NAME" envDefault:"entity-pipeline"`
		Concurrency        int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
		Attempts           int           `env:"JOB_ATTEMPTS" envDefault:"3"`
		BackoffBase        time.Duration `env:"JOB_BACKOFF_BASE" envDefault:"2s"`
		StallTimeout       time.Duration `env:"JOB_STALL_TIMEOUT" envDefault:"30s"`
		CompletedRetention time.Duration `env:"JOB_COMPLETED_RETENTION" envDefault:"24h"`
		CompletedKeep      int           `env:"JOB_COMPLETED_KEEP" envDefault:"100"`
		FailedRetention    time.Duration `env:"JOB_FAILED_RETENTION" envDefault:"48h"`
		PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
	}

	// Feed 变更流来源：postgres(LISTEN/NOTIFY) 或 kafka(Debezium topic)
	Feed struct {
		Enabled      bool     `env:"FEED_ENABLED" envDefault:"true"`
		Source       string   `env:"FEED_SOURCE" envDefault:"postgres"`
		Channel      string   `env:"FEED_CHANNEL" envDefault:"entity_changes"`
		Schema       string   `env:"FEED_SCHEMA" envDefault:"public"`
		KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
		KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"erp.public.tasks"`
		KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"entity-pipeline"`
	}

	Notify struct {
		URL     string        `env:"NOTIFY_URL"`
		Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	}

	Script struct {
		WebhookURL string        `env:"SCRIPT_WEBHOOK_URL"`
		Timeout    time.Duration `env:"SCRIPT_TIMEOUT" envDefault:"10s"`
	}

	Realtime struct {
		Channel string `env:"REALTIME_CHANNEL" envDefault:"realtime:events"`
	}

	Worker struct {
		HeartbeatTTL        time.Duration `env:"WORKER_HEARTBEAT_TTL" envDefault:"30s"`
		DelayedMoveInterval time.Duration `env:"DELAYED_MOVE_INTERVAL" envDefault:"1s"`
		StallCheckInterval  time.Duration `env:"STALL_CHECK_INTERVAL" envDefault:"5s"`
	}

	Scheduler struct {
		RetentionCron string `env:"RETENTION_CRON" envDefault:"@every 10m"`
	}
)

// Load 读取环境变量；存在 .env 时先加载
func Load() (*AppConfig, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}
	if cfg.Queue.Attempts <= 0 {
		cfg.Queue.Attempts = 1
	}
	return cfg, nil
}

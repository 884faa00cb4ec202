// Package config reads the bgmq CLI settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ThreadCount     int
	RetryCount      int
	OutMaxSize      int
	QueuePrefix     string
	DisablePriority bool

	MetricsAddr string // empty disables the /metrics endpoint
	LogLevel    slog.Level

	AMQPURL    string // empty disables RabbitMQ replies
	AMQPPrefix string
}

func Load() Config {
	threads := intEnv("BGMQ_THREADS", 1)
	if threads < 1 {
		threads = 1
	}

	retryCount := intEnv("BGMQ_RETRY_COUNT", 2)
	if retryCount < 0 {
		retryCount = 2
	}

	outMaxSize := intEnv("BGMQ_OUT_MAX_SIZE", 100)
	if outMaxSize < 1 {
		outMaxSize = 100
	}

	amqpPrefix := os.Getenv("BGMQ_AMQP_PREFIX")
	if amqpPrefix == "" {
		amqpPrefix = "amqp:"
	}

	return Config{
		ThreadCount:     threads,
		RetryCount:      retryCount,
		OutMaxSize:      outMaxSize,
		QueuePrefix:     os.Getenv("BGMQ_QUEUE_PREFIX"),
		DisablePriority: os.Getenv("BGMQ_DISABLE_PRIORITY") == "true",
		MetricsAddr:     os.Getenv("BGMQ_METRICS_ADDR"),
		LogLevel:        levelEnv("BGMQ_LOG_LEVEL", slog.LevelInfo),
		AMQPURL:         os.Getenv("BGMQ_AMQP_URL"),
		AMQPPrefix:      amqpPrefix,
	}
}

func intEnv(key string, fallback int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return value
}

func levelEnv(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

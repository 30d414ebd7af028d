package config

import (
	"sync"
	"time"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// CancelTTL bounds how long a cancellation flag is remembered.
	CancelTTL time.Duration
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadEnv()
		redisConfig = &RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			CancelTTL: getEnvDuration("CANCEL_TTL", 24*time.Hour),
		}
	})
	return redisConfig
}

package config

import (
	"sync"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type ServerConfig struct {
	Addr          string
	StorageType   string // "minio" or "s3"
	MaxUploadSize int64
	LogLevel      string
	WorkerCount   int
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()
		serverConfig = &ServerConfig{
			Addr:          getEnv("SERVER_ADDR", ":8080"),
			StorageType:   getEnv("STORAGE_TYPE", "minio"),
			MaxUploadSize: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 50)) << 20,
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			WorkerCount:   getEnvInt("WORKER_CONCURRENCY", 10),
		}
	})
	return serverConfig
}

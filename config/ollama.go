package config

import (
	"sync"
	"time"
)

var (
	ollamaOnce   sync.Once
	ollamaConfig *OllamaConfig
)

type OllamaConfig struct {
	Endpoint   string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
}

func GetOllamaConfig() *OllamaConfig {
	ollamaOnce.Do(func() {
		loadEnv()
		ollamaConfig = &OllamaConfig{
			Endpoint:   getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
			EmbedModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			ChatModel:  getEnv("OLLAMA_CHAT_MODEL", "llama3.1"),
			Timeout:    getEnvDuration("OLLAMA_TIMEOUT", 2*time.Minute),
		}
	})
	return ollamaConfig
}

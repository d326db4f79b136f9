package main

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	APIURL          string
	DataPath        string
	RequestTimeout  time.Duration
	ReturnAddr      string
	CatalogTTL      time.Duration
	RedisAddr       string
	KafkaBrokers    []string
	LogLevel        string
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		APIURL:          getEnv("STOREFRONT_API_URL", "http://localhost:8001"),
		DataPath:        getEnv("STOREFRONT_DATA_PATH", "./storefront.db"),
		RequestTimeout:  getDuration("STOREFRONT_REQUEST_TIMEOUT", 5*time.Second),
		ReturnAddr:      getEnv("STOREFRONT_RETURN_ADDR", ":3001"),
		CatalogTTL:      getDuration("STOREFRONT_CATALOG_TTL", time.Minute),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		LogLevel:        getEnv("STOREFRONT_LOG_LEVEL", "info"),
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.WithField("key", key).WithError(err).Warnf("invalid duration, using %s", defaultValue)
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"log"
	"os"
)

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string

	// Сервис рекомендаций (внешний расчёт снапшотов)
	EngineBaseURL string
	EngineToken   string

	// Seller-API маркетплейса
	MarketplaceBaseURL string
}

func Load() *Config {
	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:   getEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=supplycrm port=5432 sslmode=disable"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		CORSOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		EngineBaseURL: getEnv("ENGINE_BASE_URL", "http://localhost:9090"),
		EngineToken:   getEnv("ENGINE_TOKEN", ""),

		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", "https://supply-api.ozon.ru"),
	}

	// Проверки перед продом
	if cfg.JWTSecret == "" {
		log.Fatal("[FATAL] Переменная окружения JWT_SECRET не задана! Обязательна для production.")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[FATAL] JWT_SECRET должен быть не короче 32 символов!")
	}
	if cfg.DatabaseDSN == "host=localhost user=postgres password=postgres dbname=supplycrm port=5432 sslmode=disable" {
		log.Println("[WARN] DATABASE_DSN использует значение по умолчанию, для production задай свои реквизиты Postgres.")
	}
	if cfg.EngineToken == "" {
		log.Println("[WARN] ENGINE_TOKEN не задан, запросы к сервису рекомендаций пойдут без авторизации.")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabasePath          string
	BusyTimeoutMS         int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

func Load() Config {
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	busyTimeout, err := strconv.Atoi(getEnv("BUSY_TIMEOUT_MS", "15000"))
	if err != nil || busyTimeout < 1 {
		busyTimeout = 15000
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabasePath:          getEnv("POS_DB_PATH", "pos_database.db"),
		BusyTimeoutMS:         busyTimeout,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	Host              string
	ServerPort        string
	DBPath            string
	APIURL            string
	MiiAPIURL         string
	NewPlayerBanCheck bool
	VRBanCheck        bool
	AdminKey          string
	ImportPath        string
	LogLevel          string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		Host:              getEnv("HOST", "127.0.0.1"),
		ServerPort:        getEnv("SERVER_PORT", "8338"),
		DBPath:            getEnv("DB_PATH", "./rr-player-db.db"),
		APIURL:            getEnv("API_URL", "http://rwfc.net/api/groups"),
		MiiAPIURL:         getEnv("MII_API_URL", "https://umapyoi.net/api/v1/mii"),
		NewPlayerBanCheck: getEnv("NEW_PLAYER_BAN_CHECK", "0") == "1",
		VRBanCheck:        getEnv("VR_BAN_CHECK", "0") == "1",
		AdminKey:          getEnv("ADMIN_KEY", ""),
		ImportPath:        getEnv("IMPORT_PATH", "./rr-players.json"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if cfg.AdminKey == "" {
		return nil, fmt.Errorf("ADMIN_KEY is required")
	}

	logger.Info().
		Str("host", cfg.Host).
		Str("server_port", cfg.ServerPort).
		Str("db_path", cfg.DBPath).
		Str("api_url", cfg.APIURL).
		Str("mii_api_url", cfg.MiiAPIURL).
		Bool("new_player_ban_check", cfg.NewPlayerBanCheck).
		Bool("vr_ban_check", cfg.VRBanCheck).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)

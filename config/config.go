package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env            string
		Port           string
		AllowedOrigins string
	}
	DatabaseURL  string
	ServiceToken string // gateway → service bearer token; empty disables the check
	JWTSecret    string // platform JWT secret for end-user streams
	RedisURL     string

	Matchmaking struct {
		LevelRange          int
		DefaultMaxSquadSize int
		BotUsernamePrefix   string
		BotPoolLimit        int
		QueueStaleAfter     time.Duration
		QueueSweepInterval  time.Duration
	}

	ProfileSync struct {
		BaseURL  string
		Path     string
		Token    string
		Interval time.Duration
	}

	R2 struct {
		AccountID       string
		AccessKeyID     string
		AccessKeySecret string
		Bucket          string
		RosterKey       string
		RosterInterval  time.Duration
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("PORT", "5200")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("LEVEL_RANGE", 1)
	v.SetDefault("DEFAULT_MAX_SQUAD_SIZE", 3)
	v.SetDefault("BOT_POOL_LIMIT", 200)
	v.SetDefault("QUEUE_STALE_AFTER", "10m")
	v.SetDefault("QUEUE_SWEEP_INTERVAL", "1m")
	v.SetDefault("PROFILE_SYNC_PATH", "/api/v1/public/profiles")
	v.SetDefault("PROFILE_SYNC_INTERVAL", "1m")
	v.SetDefault("ROSTER_SYNC_INTERVAL", "15m")
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}
	return FromViper(viper.New())
}

// FromViper builds a Config from an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{}
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.Port = v.GetString("PORT")
	cfg.App.AllowedOrigins = joinOrigins(v.GetString("ALLOWED_ORIGINS"))

	cfg.DatabaseURL = v.GetString("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	cfg.ServiceToken = v.GetString("SERVICE_TOKEN")
	cfg.JWTSecret = v.GetString("JWT_SECRET")
	cfg.RedisURL = v.GetString("REDIS_URL")

	cfg.Matchmaking.LevelRange = v.GetInt("LEVEL_RANGE")
	cfg.Matchmaking.DefaultMaxSquadSize = v.GetInt("DEFAULT_MAX_SQUAD_SIZE")
	cfg.Matchmaking.BotUsernamePrefix = v.GetString("BOT_USERNAME_PREFIX")
	cfg.Matchmaking.BotPoolLimit = v.GetInt("BOT_POOL_LIMIT")
	cfg.Matchmaking.QueueStaleAfter = v.GetDuration("QUEUE_STALE_AFTER")
	cfg.Matchmaking.QueueSweepInterval = v.GetDuration("QUEUE_SWEEP_INTERVAL")

	if cfg.Matchmaking.LevelRange < 0 {
		return nil, fmt.Errorf("LEVEL_RANGE must be non-negative, got %d", cfg.Matchmaking.LevelRange)
	}
	if cfg.Matchmaking.DefaultMaxSquadSize < 1 {
		return nil, fmt.Errorf("DEFAULT_MAX_SQUAD_SIZE must be at least 1, got %d", cfg.Matchmaking.DefaultMaxSquadSize)
	}

	cfg.ProfileSync.BaseURL = v.GetString("PROFILE_SYNC_URL")
	cfg.ProfileSync.Path = v.GetString("PROFILE_SYNC_PATH")
	cfg.ProfileSync.Token = v.GetString("PROFILE_SYNC_TOKEN")
	cfg.ProfileSync.Interval = v.GetDuration("PROFILE_SYNC_INTERVAL")

	cfg.R2.AccountID = v.GetString("CLOUDFLARE_ACCOUNT_ID")
	cfg.R2.AccessKeyID = v.GetString("R2_ACCESS_KEY_ID")
	cfg.R2.AccessKeySecret = v.GetString("R2_ACCESS_KEY_SECRET")
	cfg.R2.Bucket = v.GetString("R2_BUCKET_NAME")
	cfg.R2.RosterKey = v.GetString("R2_ROSTER_KEY")
	cfg.R2.RosterInterval = v.GetDuration("ROSTER_SYNC_INTERVAL")

	return cfg, nil
}

// RosterEnabled reports whether the bot roster import has everything it needs.
func (c *Config) RosterEnabled() bool {
	return c.R2.AccountID != "" && c.R2.Bucket != "" && c.R2.RosterKey != ""
}

// joinOrigins trims each entry of a comma-separated origin list.
func joinOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "*"
	}
	return strings.Join(out, ",")
}

// Package config loads the engine's settings from VIGIL_-prefixed
// environment variables, with a .env file honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ewhitmore/vigil/internal/backup"
	"github.com/ewhitmore/vigil/internal/meeting"
	"github.com/ewhitmore/vigil/internal/scheduler"
)

type Config struct {
	DBPath    string
	Port      int
	LogLevel  string
	LogFormat string // "text" or "json"
	Timezone  string

	Meeting meeting.Config

	ChatBotToken     string
	CoordinatorChat  string // chat handle the weekly report goes to
	CommunityChannel string // channel the daily devotional posts to

	Scheduler scheduler.Config

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	Backup backup.Config
}

// Load reads the environment into a Config. A .env file in the working
// directory is merged in first when present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:    envOr("VIGIL_DB_PATH", "vigil.db"),
		Port:      envInt("VIGIL_PORT", 8080),
		LogLevel:  envOr("VIGIL_LOG_LEVEL", "info"),
		LogFormat: envOr("VIGIL_LOG_FORMAT", "text"),
		Timezone:  envOr("VIGIL_TIMEZONE", "UTC"),

		Meeting: meeting.Config{
			BaseURL:      envOr("VIGIL_MEETING_BASE_URL", "https://api.zoom.us/v2"),
			AuthURL:      envOr("VIGIL_MEETING_AUTH_URL", "https://zoom.us/oauth/token"),
			AccountID:    os.Getenv("VIGIL_MEETING_ACCOUNT_ID"),
			ClientID:     os.Getenv("VIGIL_MEETING_CLIENT_ID"),
			ClientSecret: os.Getenv("VIGIL_MEETING_CLIENT_SECRET"),
			MeetingID:    os.Getenv("VIGIL_MEETING_ID"),
		},

		ChatBotToken:     os.Getenv("VIGIL_CHAT_BOT_TOKEN"),
		CoordinatorChat:  os.Getenv("VIGIL_COORDINATOR_CHAT"),
		CommunityChannel: os.Getenv("VIGIL_COMMUNITY_CHANNEL"),

		Scheduler: scheduler.Config{
			SweepTime:      os.Getenv("VIGIL_SWEEP_TIME"),
			DevotionalTime: os.Getenv("VIGIL_DEVOTIONAL_TIME"),
			ReportTime:     os.Getenv("VIGIL_REPORT_TIME"),
		},

		VAPIDPublicKey:  os.Getenv("VIGIL_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VIGIL_VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: envOr("VIGIL_VAPID_SUBSCRIBER", "mailto:admin@localhost"),

		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("VIGIL_S3_ENDPOINT"),
				Bucket:    os.Getenv("VIGIL_S3_BUCKET"),
				Region:    envOr("VIGIL_S3_REGION", "auto"),
				AccessKey: os.Getenv("VIGIL_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("VIGIL_S3_SECRET_KEY"),
			},
			Passphrase:    os.Getenv("VIGIL_BACKUP_PASSPHRASE"),
			ScheduleHour:  envInt("VIGIL_BACKUP_HOUR", 3),
			RetentionDays: envInt("VIGIL_BACKUP_RETENTION_DAYS", 30),
		},
	}
	cfg.Backup.DBPath = cfg.DBPath

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("VIGIL_PORT %d out of range", c.Port)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("VIGIL_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("VIGIL_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Location resolves the configured timezone. Call after Load has validated.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

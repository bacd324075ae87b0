package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken   string               `yaml:"discord_token" env:"DISCORD_TOKEN" validate:"required"`
	LogLevel       string               `yaml:"log_level" env:"LOG_LEVEL"`
	RetentionDays  int                  `yaml:"retention_days" env:"RETENTION_DAYS" validate:"gte=1"`
	Storage        StorageConfig        `yaml:"storage" envPrefix:"STORAGE_"`
	Health         HealthConfig         `yaml:"health" envPrefix:"HEALTH_"`
	LogChannel     LogChannelConfig     `yaml:"logging_channel"`
	Roles          RoleNames            `yaml:"roles"`
	Spam           SpamConfig           `yaml:"spam" envPrefix:"SPAM_"`
	ThreadSpam     ThreadSpamConfig     `yaml:"thread_spam" envPrefix:"THREAD_SPAM_"`
	Raid           RaidConfig           `yaml:"raid" envPrefix:"RAID_"`
	Nuke           NukeConfig           `yaml:"nuke" envPrefix:"NUKE_"`
	Photosensitive PhotosensitiveConfig `yaml:"photosensitive" envPrefix:"PHOTOSENSITIVE_"`
	NGWord         NGWordConfig         `yaml:"ngword"`
	Insult         InsultConfig         `yaml:"insult"`
	Defaults       GuildDefaults        `yaml:"guild_defaults"`
}

// GuildDefaults seed the toggles of a community with no stored settings.
type GuildDefaults struct {
	GifDetector  bool `yaml:"gif_detector"`
	ImageURLScan bool `yaml:"image_url_scan"`
	InsultFilter bool `yaml:"insult_filter"`
}

type StorageConfig struct {
	// Driver is one of sqlite, postgres or bolt.
	Driver string `yaml:"driver" env:"DRIVER" validate:"oneof=sqlite postgres bolt"`
	DSN    string `yaml:"dsn" env:"DSN" validate:"required"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

type LogChannelConfig struct {
	Name string `yaml:"name" validate:"required"`
}

type RoleNames struct {
	Mute        string `yaml:"mute" validate:"required"`
	RaidGuard   string `yaml:"raid_guard" validate:"required"`
	AppRestrict string `yaml:"app_restrict" validate:"required"`
}

type SpamConfig struct {
	Messages       int     `yaml:"messages" env:"MESSAGES" validate:"gte=2"`
	WindowSeconds  int     `yaml:"window_seconds" env:"WINDOW_SECONDS" validate:"gte=1"`
	Similarity     float64 `yaml:"similarity" env:"SIMILARITY" validate:"gte=0,lte=1"`
	WarningSeconds int     `yaml:"warning_seconds" validate:"gte=1"`
}

type ThreadSpamConfig struct {
	Operations     int `yaml:"operations" env:"OPERATIONS" validate:"gte=1"`
	WindowSeconds  int `yaml:"window_seconds" env:"WINDOW_SECONDS" validate:"gte=1"`
	TimeoutMinutes int `yaml:"timeout_minutes" env:"TIMEOUT_MINUTES" validate:"gte=1"`
}

type RaidConfig struct {
	BaselineHours int      `yaml:"baseline_hours" env:"BASELINE_HOURS" validate:"gte=1"`
	WindowMinutes int      `yaml:"window_minutes" env:"WINDOW_MINUTES" validate:"gte=1"`
	Multiplier    float64  `yaml:"multiplier" env:"MULTIPLIER" validate:"gt=0"`
	Floor         int      `yaml:"floor" env:"FLOOR" validate:"gte=1"`
	DeniedBots    []string `yaml:"denied_bots"`
}

type NukeConfig struct {
	WindowSeconds  int `yaml:"window_seconds" env:"WINDOW_SECONDS" validate:"gte=1"`
	RoleActions    int `yaml:"role_actions" env:"ROLE_ACTIONS" validate:"gte=1"`
	ChannelActions int `yaml:"channel_actions" env:"CHANNEL_ACTIONS" validate:"gte=1"`
}

type PhotosensitiveConfig struct {
	MaxBytes            int64 `yaml:"max_bytes" validate:"gte=1"`
	MaxDownloadBytes    int   `yaml:"max_download_bytes" validate:"gte=1"`
	FetchTimeoutSeconds int   `yaml:"fetch_timeout_seconds" env:"FETCH_TIMEOUT_SECONDS" validate:"gte=1"`
	MaxDimension        int   `yaml:"max_dimension" validate:"gte=1"`
	MaxFrames           int   `yaml:"max_frames" validate:"gte=2"`
	ScanFrameCap        int   `yaml:"scan_frame_cap" validate:"gtefield=MaxFrames"`
	MaxDecodedPixels    int64 `yaml:"max_decoded_pixels" validate:"gte=1"`
	MuteSeconds         int   `yaml:"mute_seconds" validate:"gte=1"`
	WarningSeconds      int   `yaml:"warning_seconds" validate:"gte=1"`
}

type NGWordConfig struct {
	// TimeoutMinutes maps punishment levels 2..7 to a timeout length.
	TimeoutMinutes []int `yaml:"timeout_minutes" validate:"len=6,dive,gte=1"`
}

type InsultConfig struct {
	Words              []string `yaml:"words"`
	Reply              string   `yaml:"reply" validate:"required"`
	DeleteDelaySeconds int      `yaml:"delete_delay_seconds" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 14,
		Storage:       StorageConfig{Driver: "sqlite", DSN: "/data/guardbot.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		LogChannel:    LogChannelConfig{Name: "guard-log"},
		Roles:         RoleNames{Mute: "Muted", RaidGuard: "Raid Guard", AppRestrict: "App Restricted"},
		Spam:          SpamConfig{Messages: 3, WindowSeconds: 10, Similarity: 0.6, WarningSeconds: 5},
		ThreadSpam:    ThreadSpamConfig{Operations: 3, WindowSeconds: 30, TimeoutMinutes: 10},
		Raid:          RaidConfig{BaselineHours: 7 * 24, WindowMinutes: 5, Multiplier: 5, Floor: 5},
		Nuke:          NukeConfig{WindowSeconds: 120, RoleActions: 10, ChannelActions: 5},
		Photosensitive: PhotosensitiveConfig{
			MaxBytes:            15 << 20,
			MaxDownloadBytes:    20 << 20,
			FetchTimeoutSeconds: 15,
			MaxDimension:        8192,
			MaxFrames:           200,
			ScanFrameCap:        500,
			MaxDecodedPixels:    256 << 20,
			MuteSeconds:         5,
			WarningSeconds:      15,
		},
		NGWord: NGWordConfig{TimeoutMinutes: []int{1, 5, 10, 60, 360, 1440}},
		Insult: InsultConfig{
			Words: []string{
				"idiot", "stupid", "moron", "loser", "kys", "kill yourself",
				"バカ", "ばか", "アホ", "あほ", "死ね", "しね", "クズ", "カス", "きもい", "うざい",
			},
			Reply:              "Please keep it respectful. / 暴言はやめましょう。",
			DeleteDelaySeconds: 3,
		},
		Defaults: GuildDefaults{GifDetector: true, ImageURLScan: false, InsultFilter: true},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}
	cfg.Storage.Driver = normalizeDriver(cfg.Storage.Driver)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and returns a readable error.
func Validate(cfg Config) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

func (c SpamConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c ThreadSpamConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c ThreadSpamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

func (c RaidConfig) Baseline() time.Duration {
	return time.Duration(c.BaselineHours) * time.Hour
}

func (c RaidConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

func (c NukeConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c SpamConfig) WarningTTL() time.Duration {
	return time.Duration(c.WarningSeconds) * time.Second
}

func (c PhotosensitiveConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c PhotosensitiveConfig) MuteFor() time.Duration {
	return time.Duration(c.MuteSeconds) * time.Second
}

func (c PhotosensitiveConfig) WarningTTL() time.Duration {
	return time.Duration(c.WarningSeconds) * time.Second
}

func (c InsultConfig) DeleteDelay() time.Duration {
	return time.Duration(c.DeleteDelaySeconds) * time.Second
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "bolt", "bbolt":
		return "bolt"
	default:
		return "sqlite"
	}
}

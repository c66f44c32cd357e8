package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"principales/internal/constants"
	"principales/internal/models"
	"principales/internal/security"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvProduction enables the stricter production checks when set to "production"
	EnvProduction = "PRINCIPALES_ENV"

	StorageDriverJSON   = "json"
	StorageDriverSQLite = "sqlite"
)

var (
	ErrMissingDataDir    = models.ConfigError{Message: "missing storage data directory"}
	ErrMissingUploadsDir = models.ConfigError{Message: "missing media uploads directory"}
)

// envBindings are the environment variables that override config keys
var envBindings = map[string]string{
	"telegram.bot_token":  "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":    "TELEGRAM_CHAT_ID",
	"discord.webhook_url": "DISCORD_WEBHOOK_URL",
	"server.port":         "PORT",
	"storage.data_dir":    "DATA_DIR",
	"storage.driver":      "STORAGE_DRIVER",
	"log_level":           "LOG_LEVEL",
}

// LoadConfig reads path (JSON) on top of the built-in defaults and applies
// .env and environment overrides. A missing file is not an error.
func LoadConfig(path string) (*models.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.initial_offset", constants.DefaultInitialOffset)
	v.SetDefault("telegram.poll_timeout_sec", constants.DefaultPollTimeoutSec)
	v.SetDefault("telegram.poll_delay_ms", constants.DefaultPollDelayMs)
	v.SetDefault("telegram.send_rate_per_sec", constants.DefaultSendRatePerSec)
	v.SetDefault("telegram.send_burst", constants.DefaultSendBurst)
	v.SetDefault("telegram.register_commands", true)

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.timeout_sec", constants.DefaultWebhookTimeoutSec)

	v.SetDefault("storage.driver", constants.DefaultStorageDriver)
	v.SetDefault("storage.data_dir", constants.DefaultDataDir)
	v.SetDefault("storage.sqlite_path", constants.DefaultSQLitePath)
	v.SetDefault("storage.checkin_file", constants.DefaultCheckinFile)
	v.SetDefault("storage.message_cap", constants.DefaultMessageCap)
	v.SetDefault("storage.report_cap", constants.DefaultReportCap)

	v.SetDefault("media.uploads_dir", constants.DefaultUploadsDir)
	v.SetDefault("media.temp_dir", constants.DefaultTempUploadsDir)
	v.SetDefault("media.max_upload_size", constants.DefaultMaxUploadSize)
	v.SetDefault("media.allowed_types", constants.DefaultAllowedUploadTypes)
	v.SetDefault("media.retention_days", constants.DefaultUploadRetentionDays)
	v.SetDefault("media.cleanup_interval_hours", constants.CleanupSchedulerIntervalHours)

	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)
	v.SetDefault("server.api_token_hashes", []string{})

	v.SetDefault("retry.initial_backoff_ms", constants.DefaultRetryBackoffMs)
	v.SetDefault("retry.max_backoff_ms", constants.DefaultMaxBackoffMs)
	v.SetDefault("retry.max_attempts", constants.DefaultStoreRetryAttempts)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "principales")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.use_stdout", false)

	v.SetDefault("log_level", "info")
}

func validate(c *models.Config) error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return ErrMissingDataDir
	}
	if strings.TrimSpace(c.Media.UploadsDir) == "" {
		return ErrMissingUploadsDir
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))

	err := validation.Errors{
		"telegram": validation.ValidateStruct(&c.Telegram,
			validation.Field(&c.Telegram.ChatID, validation.When(c.Telegram.BotToken != "", validation.Required.Error("chat_id is required when bot_token is set"))),
			validation.Field(&c.Telegram.PollTimeoutSec, validation.Min(0), validation.Max(50)),
			validation.Field(&c.Telegram.PollDelayMs, validation.Min(0)),
			validation.Field(&c.Telegram.SendRatePerSec, validation.Min(0.0)),
			validation.Field(&c.Telegram.SendBurst, validation.Min(1)),
		),
		"discord": validation.ValidateStruct(&c.Discord,
			validation.Field(&c.Discord.WebhookURL, is.URL),
			validation.Field(&c.Discord.TimeoutSec, validation.Min(1)),
		),
		"storage": validation.ValidateStruct(&c.Storage,
			validation.Field(&c.Storage.Driver, validation.Required, validation.In(StorageDriverJSON, StorageDriverSQLite)),
			validation.Field(&c.Storage.SQLitePath, validation.When(c.Storage.Driver == StorageDriverSQLite, validation.Required)),
			validation.Field(&c.Storage.MessageCap, validation.Min(1)),
			validation.Field(&c.Storage.ReportCap, validation.Min(1)),
		),
		"media": validation.ValidateStruct(&c.Media,
			validation.Field(&c.Media.MaxUploadSize, validation.Required, validation.By(validByteSize)),
			validation.Field(&c.Media.AllowedTypes, validation.Required),
			validation.Field(&c.Media.RetentionDays, validation.Min(0)),
			validation.Field(&c.Media.CleanupIntervalHours, validation.Min(0)),
		),
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		),
		"log_level": validation.Validate(c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
	}.Filter()
	if err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	for i, ext := range c.Media.AllowedTypes {
		c.Media.AllowedTypes[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}

	return nil
}

func validByteSize(value interface{}) error {
	s, _ := value.(string)
	if _, err := humanize.ParseBytes(s); err != nil {
		return errors.New("must be a size such as 10MB")
	}
	return nil
}

// MaxUploadBytes returns the configured upload limit in bytes
func MaxUploadBytes(c models.MediaConfig) int64 {
	n, err := humanize.ParseBytes(c.MaxUploadSize)
	if err != nil || n == 0 {
		n, _ = humanize.ParseBytes(constants.DefaultMaxUploadSize)
	}
	return int64(n)
}

// IsProduction reports whether the production checks are enabled
func IsProduction() bool {
	return os.Getenv(EnvProduction) == "production"
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		if len(c.Server.APITokenHashes) == 0 {
			return models.ConfigError{Message: "server.api_token_hashes is required in production"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if len(c.Server.APITokenHashes) == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: no API tokens configured, the HTTP API is open. Set server.api_token_hashes to restrict it.\n")
	}

	return nil
}

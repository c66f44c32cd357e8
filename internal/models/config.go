package models

// Config holds the application configuration
type Config struct {
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Discord  DiscordConfig  `json:"discord" mapstructure:"discord"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Media    MediaConfig    `json:"media" mapstructure:"media"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Retry    RetryConfig    `json:"retry" mapstructure:"retry"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	LogLevel string         `json:"log_level" mapstructure:"log_level"`
}

// TelegramConfig holds Telegram bot related configurations
type TelegramConfig struct {
	BotToken    string `json:"bot_token" mapstructure:"bot_token"`
	ChatID      int64  `json:"chat_id" mapstructure:"chat_id"`
	APIEndpoint string `json:"api_endpoint" mapstructure:"api_endpoint"`
	// InitialOffset is the poll cursor the bot starts from after every restart.
	// 0 lets Telegram resend every update it still holds.
	InitialOffset    int     `json:"initial_offset" mapstructure:"initial_offset"`
	PollTimeoutSec   int     `json:"poll_timeout_sec" mapstructure:"poll_timeout_sec"`
	PollDelayMs      int     `json:"poll_delay_ms" mapstructure:"poll_delay_ms"`
	SendRatePerSec   float64 `json:"send_rate_per_sec" mapstructure:"send_rate_per_sec"`
	SendBurst        int     `json:"send_burst" mapstructure:"send_burst"`
	RegisterCommands bool    `json:"register_commands" mapstructure:"register_commands"`
}

// Enabled reports whether enough is configured to run the bot
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}

// DiscordConfig holds the report webhook configuration
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSec int    `json:"timeout_sec" mapstructure:"timeout_sec"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Driver      string `json:"driver" mapstructure:"driver"`
	DataDir     string `json:"data_dir" mapstructure:"data_dir"`
	SQLitePath  string `json:"sqlite_path" mapstructure:"sqlite_path"`
	CheckinFile string `json:"checkin_file" mapstructure:"checkin_file"`
	MessageCap  int    `json:"message_cap" mapstructure:"message_cap"`
	ReportCap   int    `json:"report_cap" mapstructure:"report_cap"`
}

// MediaConfig holds media related configurations
type MediaConfig struct {
	UploadsDir    string   `json:"uploads_dir" mapstructure:"uploads_dir"`
	TempDir       string   `json:"temp_dir" mapstructure:"temp_dir"`
	MaxUploadSize string   `json:"max_upload_size" mapstructure:"max_upload_size"`
	AllowedTypes  []string `json:"allowed_types" mapstructure:"allowed_types"`
	// RetentionDays removes chat photos and stale temp uploads older than this. 0 keeps them forever.
	RetentionDays        int `json:"retention_days" mapstructure:"retention_days"`
	CleanupIntervalHours int `json:"cleanup_interval_hours" mapstructure:"cleanup_interval_hours"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int      `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int      `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int      `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
	APITokenHashes  []string `json:"api_token_hashes" mapstructure:"api_token_hashes"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" mapstructure:"max_attempts"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

package constants

// Default polling configuration values
const (
	DefaultPollTimeoutSec = 30
	DefaultPollDelayMs    = 1000
	DefaultInitialOffset  = 0
	DefaultSendRatePerSec = 1.0
	DefaultSendBurst      = 5
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
	DefaultServerPort     = 3000
)

// Store configuration values
const (
	DefaultStorageDriver = "json"
	DefaultDataDir       = "data"
	DefaultCheckinFile   = "data.json"
	DefaultSQLitePath    = "data/principales.db"
	DefaultMessageCap    = 100
	DefaultReportCap     = 100
	MessagesFileName     = "messages.json"
	ReportsFileName      = "reportes.json"
	StatusBoardFileName  = "tiempo-real.json"
)

// Media configuration values
const (
	DefaultUploadsDir     = "public/uploads"
	DefaultTempUploadsDir = "public/temp-uploads"
	DefaultMaxUploadSize  = "10MB"
	UploadsURLPrefix      = "/uploads/"

	DefaultUploadRetentionDays    = 30
	CleanupSchedulerIntervalHours = 24
)

// Telegram rejects longer texts and captions
const (
	TelegramMaxMessageRunes = 4096
	TelegramMaxCaptionRunes = 1024
)

// Principal numbering
const (
	MinPrincipal = 1
	MaxPrincipal = 26
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec         = 30
	DefaultWebhookTimeoutSec      = 10
	DefaultDownloadTimeoutSec     = 30
	DefaultStoreRetryAttempts     = 3
	DefaultGracefulShutdownSec    = 30
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultStreamPingIntervalSec  = 30
	DefaultStreamSubscriberBuffer = 16
	ServerErrorChannelSize        = 1
)

// Privacy settings
const (
	DefaultChatIDMaskLength = 4
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

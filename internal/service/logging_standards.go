package service

// Logging standards for principales
//
// Standard field names shared by the bot services, the stores and the HTTP
// layer. Use these exact names so log queries work across components.
const (
	// Core identifiers
	LogFieldChatID    = "chat_id"
	LogFieldMessageID = "message_id"
	LogFieldUpdateID  = "update_id"
	LogFieldOffset    = "offset"
	LogFieldPrincipal = "principal"
	LogFieldSender    = "sender"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"
	LogFieldCommand   = "command"
	LogFieldStatus    = "status"

	// Message and event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction" // "incoming" or "outgoing"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"

	// File and media
	LogFieldFilePath  = "file_path"
	LogFieldFileName  = "file_name"
	LogFieldMediaType = "media_type"
	LogFieldFileSize  = "file_size"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log level usage
//
// DEBUG: poll iterations with no updates, raw provider payload summaries,
// per-request detail. Only in verbose mode.
//
// INFO: startup/shutdown, poller start/stop, commands executed, messages sent.
//
// WARN: retryable failures (poll errors, photo download failures), a chat
// other than the configured one writing to the bot, best-effort steps that
// failed (command menu registration, report append after a webhook post).
//
// ERROR: failed sends, store write failures, recovered panics.
//
// FATAL: startup cannot continue (store cannot be opened, bad config).

// Message patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

package service

import (
	"context"

	"principales/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the context key for the verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx as running with verbose logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContent hides message content unless verbose logging is on
func SanitizeContent(ctx context.Context, content string) string {
	if content == "" || IsVerboseLogging(ctx) {
		return content
	}
	return "[hidden]"
}

// LogMessageProcessing logs one chat message with privacy controls
func LogMessageProcessing(ctx context.Context, logger logrus.FieldLogger, direction, msgType string, chatID int64, msgID int, sender, content string) {
	fields := logrus.Fields{
		LogFieldDirection:   direction,
		LogFieldMessageType: msgType,
		LogFieldMessageID:   msgID,
	}
	if IsVerboseLogging(ctx) {
		fields[LogFieldChatID] = chatID
		fields[LogFieldSender] = sender
		fields["content"] = content
	} else {
		fields[LogFieldChatID] = privacy.MaskChatID(chatID)
		fields[LogFieldSender] = privacy.MaskUserName(sender)
	}
	logger.WithFields(fields).Info("Processing message")
}

// LogPollResult logs the outcome of one getUpdates call
func LogPollResult(ctx context.Context, logger logrus.FieldLogger, count, offset int) {
	if count == 0 {
		logger.WithField(LogFieldOffset, offset).Debug("No new Telegram updates")
		return
	}
	entry := logger.WithField(LogFieldCount, count)
	if IsVerboseLogging(ctx) {
		entry = entry.WithField(LogFieldOffset, offset)
	}
	entry.Info("Received Telegram updates")
}

package store

import (
	"context"
	"time"

	"principales/internal/models"
)

// ObservedMessageLog calls onAppend after every message that was stored
type ObservedMessageLog struct {
	MessageLog
	onAppend func(models.ChatMessage)
}

func NewObservedMessageLog(inner MessageLog, onAppend func(models.ChatMessage)) *ObservedMessageLog {
	return &ObservedMessageLog{MessageLog: inner, onAppend: onAppend}
}

func (l *ObservedMessageLog) Append(ctx context.Context, msg models.ChatMessage) error {
	if err := l.MessageLog.Append(ctx, msg); err != nil {
		return err
	}
	if l.onAppend != nil {
		l.onAppend(msg)
	}
	return nil
}

func (l *ObservedMessageLog) Since(ctx context.Context, t time.Time) ([]models.ChatMessage, error) {
	return l.MessageLog.Since(ctx, t)
}

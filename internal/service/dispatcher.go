package service

import (
	"context"
	"fmt"
	"strings"

	"principales/internal/errors"
	"principales/internal/metrics"
	"principales/internal/models"
	"principales/internal/privacy"
	"principales/internal/store"
	"principales/internal/tracing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	commandPrefix     = "/"
	defaultSenderName = "Usuario"
)

// Invocation is a text message routed to the command handler or the auto-responder
type Invocation struct {
	ChatID    int64
	MessageID int
	Sender    string
	Text      string
}

// CommandRunner executes slash commands
type CommandRunner interface {
	Run(ctx context.Context, inv Invocation)
}

// TextResponder reacts to plain text
type TextResponder interface {
	Respond(ctx context.Context, inv Invocation)
}

// Dispatcher turns updates from the configured chat into stored chat
// messages and routes text to commands or the auto-responder.
type Dispatcher struct {
	chatID   int64
	messages store.MessageLog
	photos   *PhotoSaver
	commands CommandRunner
	auto     TextResponder
	logger   *logrus.Logger
}

func NewDispatcher(chatID int64, messages store.MessageLog, photos *PhotoSaver, commands CommandRunner, auto TextResponder, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		chatID:   chatID,
		messages: messages,
		photos:   photos,
		commands: commands,
		auto:     auto,
		logger:   logger,
	}
}

// Dispatch handles one update. Storage happens before routing and routing
// never stores again. Only a storage failure is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "telegram.dispatch",
		attribute.Int("telegram.update_id", update.UpdateID),
		attribute.Int("telegram.message_id", msg.MessageID),
	)
	defer span.End()

	if msg.Chat == nil || msg.Chat.ID != d.chatID {
		var chatID int64
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		metrics.IncrementCounter("telegram_messages_dropped_total", nil, "Messages from other chats")
		d.logger.WithFields(logrus.Fields{
			LogFieldChatID:   privacy.MaskChatID(chatID),
			LogFieldUpdateID: update.UpdateID,
		}).Warn("Ignoring message from unconfigured chat")
		tracing.AddSpanAttributes(ctx, attribute.Bool("telegram.dropped", true))
		return nil
	}

	kind := messageKind(msg)
	text := DisplayText(msg)
	sender := senderName(msg.From)
	metrics.IncrementCounter("telegram_messages_received_total", map[string]string{"type": kind}, "Inbound chat messages")
	LogMessageProcessing(ctx, d.logger, "incoming", kind, msg.Chat.ID, msg.MessageID, sender, SanitizeContent(ctx, text))

	var photoURL *string
	if len(msg.Photo) > 0 && d.photos != nil {
		url, err := d.photos.Save(ctx, msg.Photo)
		if err != nil {
			tracing.RecordError(ctx, err)
			errors.LogWarn(d.logger.WithField(LogFieldMessageID, msg.MessageID), err, "Failed to download photo, storing message without it")
		} else {
			photoURL = &url
		}
	}

	chatMsg := models.ChatMessage{
		MessageID: msg.MessageID,
		From:      sender,
		Text:      text,
		PhotoURL:  photoURL,
		ReplyTo:   replySnapshot(msg.ReplyToMessage),
		Timestamp: msg.Time().UTC(),
		IsBot:     false,
	}

	var storeErr error
	if err := d.messages.Append(ctx, chatMsg); err != nil {
		tracing.RecordError(ctx, err)
		storeErr = errors.Wrap(err, errors.GetCode(err), "store inbound message").
			WithContext(LogFieldMessageID, msg.MessageID)
	}

	if msg.Text != "" {
		inv := Invocation{ChatID: msg.Chat.ID, MessageID: msg.MessageID, Sender: sender, Text: msg.Text}
		if strings.HasPrefix(msg.Text, commandPrefix) {
			tracing.AddSpanAttributes(ctx, attribute.String("telegram.route", "command"))
			d.commands.Run(ctx, inv)
		} else {
			tracing.AddSpanAttributes(ctx, attribute.String("telegram.route", "auto_response"))
			d.auto.Respond(ctx, inv)
		}
	}

	return storeErr
}

// DisplayText is the history text of a message, by payload kind
func DisplayText(msg *tgbotapi.Message) string {
	switch {
	case msg.Text != "":
		return msg.Text
	case len(msg.Photo) > 0:
		if msg.Caption != "" {
			return msg.Caption
		}
		return photoPlaceholder
	case msg.Sticker != nil:
		return fmt.Sprintf("🎨 [Sticker: %s]", msg.Sticker.Emoji)
	case msg.Document != nil:
		name := msg.Document.FileName
		if name == "" {
			name = "archivo"
		}
		return fmt.Sprintf("📄 [Documento: %s]", name)
	case msg.Video != nil:
		if msg.Caption != "" {
			return msg.Caption
		}
		return "🎥 [Video]"
	case msg.Voice != nil:
		return "🎤 [Mensaje de voz]"
	case msg.Audio != nil:
		title := msg.Audio.Title
		if title == "" {
			title = "audio"
		}
		return fmt.Sprintf("🎵 [Audio: %s]", title)
	case msg.Location != nil:
		return "📍 [Ubicación]"
	case msg.Contact != nil:
		return fmt.Sprintf("👤 [Contacto: %s]", msg.Contact.FirstName)
	default:
		return "[Mensaje no soportado]"
	}
}

func messageKind(msg *tgbotapi.Message) string {
	switch {
	case msg.Text != "" && strings.HasPrefix(msg.Text, commandPrefix):
		return "command"
	case msg.Text != "":
		return "text"
	case len(msg.Photo) > 0:
		return "photo"
	case msg.Sticker != nil:
		return "sticker"
	case msg.Document != nil:
		return "document"
	case msg.Video != nil:
		return "video"
	case msg.Voice != nil:
		return "voice"
	case msg.Audio != nil:
		return "audio"
	case msg.Location != nil:
		return "location"
	case msg.Contact != nil:
		return "contact"
	default:
		return "unsupported"
	}
}

// senderName is the first name, else the username, else a generic name
func senderName(user *tgbotapi.User) string {
	if user == nil {
		return defaultSenderName
	}
	if user.FirstName != "" {
		return user.FirstName
	}
	if user.UserName != "" {
		return user.UserName
	}
	return defaultSenderName
}

// replySnapshot copies the replied-to message as it is now
func replySnapshot(target *tgbotapi.Message) *models.ReplyRef {
	if target == nil {
		return nil
	}
	text := target.Text
	if text == "" {
		text = mediaPlaceholder
	}
	return &models.ReplyRef{
		MessageID: target.MessageID,
		From:      senderName(target.From),
		Text:      text,
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/metrics"
	"principales/internal/models"
	"principales/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	photoPlaceholder = "📷 Foto"
	mediaPlaceholder = "[Archivo/Media]"
)

// SendOptions address an outbound message. A zero ChatID means the configured chat.
type SendOptions struct {
	ChatID    int64
	ReplyToID int
}

// BotSender is the part of the bot API client the gateway calls
type BotSender interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (*tgbotapi.Message, error)
	SendPhoto(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error)
	SendDocument(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error)
	SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error
}

// MessageSender sends chat messages and records them in the history
type MessageSender interface {
	SendText(ctx context.Context, text string, opts SendOptions) (*models.ChatMessage, error)
	SendPhoto(ctx context.Context, localPath, caption string, opts SendOptions) (*models.ChatMessage, error)
	SendDocument(ctx context.Context, localPath, caption string, opts SendOptions) (*models.ChatMessage, error)
}

// GatewayConfig configures the Gateway
type GatewayConfig struct {
	ChatID         int64
	SendRatePerSec float64
	SendBurst      int
}

// Gateway is the single way out to the chat. Every acknowledged send is
// appended to the message history as a bot message.
type Gateway struct {
	bot      BotSender
	messages store.MessageLog
	photos   *PhotoSaver
	limiter  *rate.Limiter
	chatID   int64
	logger   *logrus.Logger
	now      func() time.Time
}

func NewGateway(bot BotSender, messages store.MessageLog, photos *PhotoSaver, config GatewayConfig, logger *logrus.Logger) *Gateway {
	ratePerSec := config.SendRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = constants.DefaultSendRatePerSec
	}
	burst := config.SendBurst
	if burst <= 0 {
		burst = constants.DefaultSendBurst
	}
	return &Gateway{
		bot:      bot,
		messages: messages,
		photos:   photos,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		chatID:   config.ChatID,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *Gateway) target(opts SendOptions) int64 {
	if opts.ChatID != 0 {
		return opts.ChatID
	}
	return g.chatID
}

func (g *Gateway) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, fmt.Sprintf("rate limit wait for %s", op))
	}
	return nil
}

// SendText sends an HTML text message
func (g *Gateway) SendText(ctx context.Context, text string, opts SendOptions) (*models.ChatMessage, error) {
	if text == "" {
		return nil, errors.NewValidationError("text", "message text is required")
	}
	if err := g.wait(ctx, "sendMessage"); err != nil {
		return nil, err
	}

	sent, err := g.bot.SendText(ctx, g.target(opts), text, opts.ReplyToID)
	if err != nil {
		g.sendFailed("text", err)
		return nil, err
	}

	return g.record(ctx, "text", sent, text, nil), nil
}

// SendPhoto uploads a local image. The stored text is the caption or the photo placeholder.
func (g *Gateway) SendPhoto(ctx context.Context, localPath, caption string, opts SendOptions) (*models.ChatMessage, error) {
	if err := g.wait(ctx, "sendPhoto"); err != nil {
		return nil, err
	}

	sent, err := g.bot.SendPhoto(ctx, g.target(opts), localPath, caption, opts.ReplyToID)
	if err != nil {
		g.sendFailed("photo", err)
		return nil, err
	}

	text := caption
	if text == "" {
		text = photoPlaceholder
	}

	var photoURL *string
	if g.photos != nil && len(sent.Photo) > 0 {
		url, err := g.photos.Save(ctx, sent.Photo)
		if err != nil {
			errors.LogWarn(g.logger.WithField(LogFieldMessageID, sent.MessageID), err, "Failed to download sent photo")
		} else {
			photoURL = &url
		}
	}

	return g.record(ctx, "photo", sent, text, photoURL), nil
}

// SendDocument uploads a local file as a document
func (g *Gateway) SendDocument(ctx context.Context, localPath, caption string, opts SendOptions) (*models.ChatMessage, error) {
	if err := g.wait(ctx, "sendDocument"); err != nil {
		return nil, err
	}

	sent, err := g.bot.SendDocument(ctx, g.target(opts), localPath, caption, opts.ReplyToID)
	if err != nil {
		g.sendFailed("document", err)
		return nil, err
	}

	text := caption
	if text == "" {
		name := "archivo"
		if sent.Document != nil && sent.Document.FileName != "" {
			name = sent.Document.FileName
		}
		text = fmt.Sprintf("📄 [Documento: %s]", name)
	}

	return g.record(ctx, "document", sent, text, nil), nil
}

func (g *Gateway) sendFailed(msgType string, err error) {
	metrics.IncrementCounter("telegram_send_errors_total", map[string]string{"type": msgType}, "Outbound sends rejected")
	errors.LogRetryableError(g.logger.WithField(LogFieldMessageType, msgType), err, "Failed to send Telegram message")
}

// record appends the acknowledged message to the history. A failed append
// is logged; the message was delivered either way.
func (g *Gateway) record(ctx context.Context, msgType string, sent *tgbotapi.Message, text string, photoURL *string) *models.ChatMessage {
	metrics.IncrementCounter("telegram_messages_sent_total", map[string]string{"type": msgType}, "Outbound messages acknowledged")

	msg := models.ChatMessage{
		MessageID: sent.MessageID,
		From:      models.BotSenderName,
		Text:      text,
		PhotoURL:  photoURL,
		ReplyTo:   echoedReply(sent.ReplyToMessage),
		Timestamp: g.now().UTC(),
		IsBot:     true,
	}

	var chatID int64
	if sent.Chat != nil {
		chatID = sent.Chat.ID
	}
	LogMessageProcessing(ctx, g.logger, "outgoing", msgType, chatID, sent.MessageID, models.BotSenderName, SanitizeContent(ctx, text))

	if err := g.messages.Append(ctx, msg); err != nil {
		errors.LogError(g.logger.WithField(LogFieldMessageID, sent.MessageID), err, "Failed to store sent message")
	}
	return &msg
}

// RegisterCommands publishes the command menu. Failure is only logged.
func (g *Gateway) RegisterCommands(ctx context.Context) {
	if err := g.bot.SetCommands(ctx, BotCommands()); err != nil {
		errors.LogWarn(g.logger, err, "Failed to register bot commands")
		return
	}
	g.logger.WithField(LogFieldCount, len(BotCommands())).Info("Bot commands registered")
}

// echoedReply snapshots the message a sent message replies to. Targets
// without a first name are taken to be the bot's own messages.
func echoedReply(target *tgbotapi.Message) *models.ReplyRef {
	if target == nil {
		return nil
	}
	from := models.BotSenderName
	if target.From != nil && target.From.FirstName != "" {
		from = target.From.FirstName
	}
	text := target.Text
	if text == "" {
		text = mediaPlaceholder
	}
	return &models.ReplyRef{MessageID: target.MessageID, From: from, Text: text}
}

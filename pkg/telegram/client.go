package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "principales/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	serviceName = "telegram"

	// Telegram refuses getFile downloads above 20MB for bots
	maxDownloadBytes = 20 << 20

	// headroom over the long-poll timeout for the HTTP client
	pollTimeoutSlack = 15 * time.Second
)

// Client is the subset of the Bot API the bot services use
type Client interface {
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]tgbotapi.Update, error)
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (*tgbotapi.Message, error)
	SendPhoto(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error)
	SendDocument(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error)
	DownloadFile(ctx context.Context, fileID, destPath string) (int64, error)
	SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error
	UserName() string
}

// Options tune the client; zero values use the public Bot API
type Options struct {
	// APIEndpoint is a format string taking the token and the method,
	// as tgbotapi.APIEndpoint
	APIEndpoint string
	// FileEndpoint is a format string taking the token and the file path,
	// as tgbotapi.FileEndpoint
	FileEndpoint   string
	PollTimeoutSec int
	HTTPClient     *http.Client
	Logger         *logrus.Logger
}

// BotClient wraps tgbotapi.BotAPI with context checks and typed errors
type BotClient struct {
	bot          *tgbotapi.BotAPI
	fileEndpoint string
	httpClient   *http.Client
	logger       *logrus.Logger
}

// NewClient connects to the Bot API (getMe) and returns a ready client
func NewClient(token string, opts Options) (*BotClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.NewConfigError("telegram.bot_token", "telegram bot token is empty")
	}

	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.FileEndpoint == "" {
		opts.FileEndpoint = tgbotapi.FileEndpoint
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: time.Duration(opts.PollTimeoutSec)*time.Second + pollTimeoutSlack,
		}
	}

	// library-internal logging goes through logrus
	if err := tgbotapi.SetLogger(opts.Logger.WithField("component", "tgbotapi")); err != nil {
		opts.Logger.WithError(err).Warn("Failed to redirect telegram library logger")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, opts.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, wrapAPIError("getMe", err)
	}

	return &BotClient{
		bot:          bot,
		fileEndpoint: opts.FileEndpoint,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
	}, nil
}

// UserName returns the bot's @username without the @
func (c *BotClient) UserName() string {
	return c.bot.Self.UserName
}

// GetUpdates long-polls for updates starting at offset. The library call
// cannot be cancelled, so a cancelled ctx abandons the in-flight request.
func (c *BotClient) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeoutSec

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := c.bot.GetUpdates(cfg)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, wrapAPIError("getUpdates", res.err)
		}
		return res.updates, nil
	}
}

// SendText sends an HTML formatted message
func (c *BotClient) SendText(ctx context.Context, chatID int64, text string, replyTo int) (*tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = replyTo
	return c.send(ctx, "sendMessage", msg)
}

// SendPhoto uploads a local image file
func (c *BotClient) SendPhoto(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyToMessageID = replyTo
	return c.send(ctx, "sendPhoto", photo)
}

// SendDocument uploads a local file as a document
func (c *BotClient) SendDocument(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	doc.ParseMode = tgbotapi.ModeHTML
	doc.ReplyToMessageID = replyTo
	return c.send(ctx, "sendDocument", doc)
}

func (c *BotClient) send(ctx context.Context, op string, chattable tgbotapi.Chattable) (*tgbotapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := c.bot.Send(chattable)
	if err != nil {
		return nil, wrapAPIError(op, err)
	}
	return &msg, nil
}

// DownloadFile resolves fileID with getFile and writes the content to destPath.
// It returns the number of bytes written.
func (c *BotClient) DownloadFile(ctx context.Context, fileID, destPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return 0, wrapAPIError("getFile", err)
	}

	url := fmt.Sprintf(c.fileEndpoint, c.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build file download request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.NewTransportError(serviceName, "downloadFile", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.NewTransportError(serviceName, "downloadFile", resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return 0, apperrors.NewStorageError("create uploads dir", err)
	}

	tmp := destPath + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304 - destPath is built by the caller from a sanitised name
	if err != nil {
		return 0, apperrors.NewStorageError("create download file", err)
	}

	n, copyErr := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	closeErr := out.Close()
	if copyErr == nil && n > maxDownloadBytes {
		copyErr = fmt.Errorf("file larger than %d bytes", maxDownloadBytes)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return 0, apperrors.NewTransportError(serviceName, "downloadFile", 0, copyErr)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return 0, apperrors.NewStorageError("move download into place", err)
	}

	return n, nil
}

// SetCommands publishes the command menu shown by Telegram clients
func (c *BotClient) SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return wrapAPIError("setMyCommands", err)
	}
	return nil
}

// wrapAPIError turns a library error into a transport AppError, keeping the
// Bot API error code when there is one.
func wrapAPIError(op string, err error) error {
	var apiErr *tgbotapi.Error
	if stderrors.As(err, &apiErr) {
		return apperrors.NewTransportError(serviceName, op, apiErr.Code, err)
	}
	return apperrors.NewTransportError(serviceName, op, 0, err)
}

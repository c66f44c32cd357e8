package service

import (
	"context"
	"io"
	"os"
	"sync"

	"principales/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

const testChatID int64 = -1001234567890

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recordingSender captures replies sent through the TextSender interface
type recordingSender struct {
	mu    sync.Mutex
	texts []string
	opts  []SendOptions
	err   error
}

func (s *recordingSender) SendText(ctx context.Context, text string, opts SendOptions) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.texts = append(s.texts, text)
	s.opts = append(s.opts, opts)
	return &models.ChatMessage{From: models.BotSenderName, Text: text, IsBot: true}, nil
}

func (s *recordingSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *recordingSender) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

// fakeCheckins serves a fixed list as today's check-in grid
type fakeCheckins struct {
	entries []models.CheckinEntry
	err     error
}

func (c *fakeCheckins) TodayEntries(ctx context.Context) ([]models.CheckinEntry, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.entries, nil
}

func (c *fakeCheckins) StatusFor(ctx context.Context, principal int) (models.Status, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	for _, e := range c.entries {
		if int(e.Phone) == principal {
			return e.Status, true, nil
		}
	}
	return "", false, nil
}

// fakeForwarder records report notices instead of posting them
type fakeForwarder struct {
	mu      sync.Mutex
	notices []ReportNotice
	err     error
}

func (f *fakeForwarder) SendReport(ctx context.Context, notice ReportNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notices = append(f.notices, notice)
	return nil
}

func (f *fakeForwarder) Notices() []ReportNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ReportNotice(nil), f.notices...)
}

type botCall struct {
	ChatID  int64
	Text    string
	Path    string
	ReplyTo int
}

// fakeBot stands in for the bot API client on both the send and download side
type fakeBot struct {
	mu           sync.Mutex
	nextID       int
	texts        []botCall
	photos       []botCall
	documents    []botCall
	commands     []tgbotapi.BotCommand
	downloads    []string
	replyTargets map[int]*tgbotapi.Message
	photoSizes   []tgbotapi.PhotoSize
	documentName string
	sendErr      error
	downloadErr  error
	commandsErr  error
}

func newFakeBot() *fakeBot {
	return &fakeBot{nextID: 100, replyTargets: make(map[int]*tgbotapi.Message)}
}

func (b *fakeBot) message(chatID int64, replyTo int) *tgbotapi.Message {
	b.nextID++
	msg := &tgbotapi.Message{MessageID: b.nextID, Chat: &tgbotapi.Chat{ID: chatID}}
	if replyTo != 0 {
		if target, ok := b.replyTargets[replyTo]; ok {
			msg.ReplyToMessage = target
		} else {
			msg.ReplyToMessage = &tgbotapi.Message{MessageID: replyTo}
		}
	}
	return msg
}

func (b *fakeBot) SendText(ctx context.Context, chatID int64, text string, replyTo int) (*tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.texts = append(b.texts, botCall{ChatID: chatID, Text: text, ReplyTo: replyTo})
	msg := b.message(chatID, replyTo)
	msg.Text = text
	return msg, nil
}

func (b *fakeBot) SendPhoto(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.photos = append(b.photos, botCall{ChatID: chatID, Text: caption, Path: path, ReplyTo: replyTo})
	msg := b.message(chatID, replyTo)
	msg.Caption = caption
	msg.Photo = b.photoSizes
	return msg, nil
}

func (b *fakeBot) SendDocument(ctx context.Context, chatID int64, path, caption string, replyTo int) (*tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.documents = append(b.documents, botCall{ChatID: chatID, Text: caption, Path: path, ReplyTo: replyTo})
	msg := b.message(chatID, replyTo)
	msg.Caption = caption
	if b.documentName != "" {
		msg.Document = &tgbotapi.Document{FileID: "doc-1", FileName: b.documentName}
	}
	return msg, nil
}

func (b *fakeBot) SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commandsErr != nil {
		return b.commandsErr
	}
	b.commands = commands
	return nil
}

func (b *fakeBot) DownloadFile(ctx context.Context, fileID, destPath string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.downloadErr != nil {
		return 0, b.downloadErr
	}
	b.downloads = append(b.downloads, fileID)
	data := []byte("jpeg-bytes")
	if err := os.WriteFile(destPath, data, 0600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// mockUpdateProvider is a testify mock of the long-poll source
type mockUpdateProvider struct {
	mock.Mock
}

func (m *mockUpdateProvider) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]tgbotapi.Update, error) {
	args := m.Called(ctx, offset, timeoutSec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tgbotapi.Update), args.Error(1)
}

// recordingRunner captures invocations routed to commands or auto-responses
type recordingRunner struct {
	mu   sync.Mutex
	invs []Invocation
}

func (r *recordingRunner) Run(ctx context.Context, inv Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invs = append(r.invs, inv)
}

func (r *recordingRunner) Respond(ctx context.Context, inv Invocation) {
	r.Run(ctx, inv)
}

func (r *recordingRunner) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.invs...)
}

func textUpdate(updateID int, chatID int64, sender, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID * 10,
			From:      &tgbotapi.User{ID: 42, FirstName: sender},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Date:      1772366400,
			Text:      text,
		},
	}
}

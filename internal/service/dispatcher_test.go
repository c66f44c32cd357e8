package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"principales/internal/models"
	"principales/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	messages   *store.JSONMessageLog
	bot        *fakeBot
	commands   *recordingRunner
	auto       *recordingRunner
	uploads    string
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	logger := quietLogger()
	dir := t.TempDir()

	f := &dispatcherFixture{
		messages: store.NewJSONMessageLog(filepath.Join(dir, "messages.json"), 100, logger),
		bot:      newFakeBot(),
		commands: &recordingRunner{},
		auto:     &recordingRunner{},
		uploads:  filepath.Join(dir, "uploads"),
	}
	photos := NewPhotoSaver(f.bot, f.uploads, logger)
	f.dispatcher = NewDispatcher(testChatID, f.messages, photos, f.commands, f.auto, logger)
	return f
}

func (f *dispatcherFixture) stored(t *testing.T) []models.ChatMessage {
	t.Helper()
	msgs, err := f.messages.List(context.Background())
	require.NoError(t, err)
	return msgs
}

func TestDispatch_StoresTextAndRoutesToAutoResponder(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), textUpdate(1, testChatID, "Ana", "hola a todos")))

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 10, msgs[0].MessageID)
	assert.Equal(t, "Ana", msgs[0].From)
	assert.Equal(t, "hola a todos", msgs[0].Text)
	assert.False(t, msgs[0].IsBot)
	assert.Nil(t, msgs[0].PhotoURL)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), msgs[0].Timestamp)

	require.Len(t, f.auto.Invocations(), 1)
	assert.Equal(t, Invocation{ChatID: testChatID, MessageID: 10, Sender: "Ana", Text: "hola a todos"}, f.auto.Invocations()[0])
	assert.Empty(t, f.commands.Invocations())
}

func TestDispatch_RoutesCommands(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), textUpdate(2, testChatID, "Ana", "/estado 3")))

	require.Len(t, f.commands.Invocations(), 1)
	assert.Equal(t, "/estado 3", f.commands.Invocations()[0].Text)
	assert.Empty(t, f.auto.Invocations())
	assert.Len(t, f.stored(t), 1)
}

func TestDispatch_DropsOtherChats(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), textUpdate(3, 555, "Intruso", "/limpiar_reportes")))

	assert.Empty(t, f.stored(t))
	assert.Empty(t, f.commands.Invocations())
	assert.Empty(t, f.auto.Invocations())
}

func TestDispatch_IgnoresUpdatesWithoutMessage(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{UpdateID: 4}))
	assert.Empty(t, f.stored(t))
}

func TestDispatch_PhotoWithCaption(t *testing.T) {
	f := newDispatcherFixture(t)
	update := textUpdate(5, testChatID, "Ana", "")
	update.Message.Caption = "hola"
	update.Message.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 1280, Height: 960},
	}

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), update))

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hola", msgs[0].Text)
	require.NotNil(t, msgs[0].PhotoURL)
	assert.True(t, strings.HasPrefix(*msgs[0].PhotoURL, "/uploads/photo_"))
	assert.True(t, strings.HasSuffix(*msgs[0].PhotoURL, "_large.jpg"))
	assert.FileExists(t, filepath.Join(f.uploads, strings.TrimPrefix(*msgs[0].PhotoURL, "/uploads/")))

	// captions are not routed
	assert.Empty(t, f.auto.Invocations())
	assert.Empty(t, f.commands.Invocations())
}

func TestDispatch_PhotoWithoutCaption(t *testing.T) {
	f := newDispatcherFixture(t)
	update := textUpdate(6, testChatID, "Ana", "")
	update.Message.Photo = []tgbotapi.PhotoSize{{FileID: "only", Width: 10, Height: 10}}

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), update))

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "📷 Foto", msgs[0].Text)
	assert.NotNil(t, msgs[0].PhotoURL)
}

func TestDispatch_PhotoDownloadFailureStillStores(t *testing.T) {
	f := newDispatcherFixture(t)
	f.bot.downloadErr = fmt.Errorf("file too big")
	update := textUpdate(7, testChatID, "Ana", "")
	update.Message.Photo = []tgbotapi.PhotoSize{{FileID: "only", Width: 10, Height: 10}}

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), update))

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].PhotoURL)
	assert.Equal(t, "📷 Foto", msgs[0].Text)
}

func TestDispatch_ReplySnapshot(t *testing.T) {
	f := newDispatcherFixture(t)
	update := textUpdate(8, testChatID, "Ana", "de acuerdo")
	update.Message.ReplyToMessage = &tgbotapi.Message{
		MessageID: 70,
		From:      &tgbotapi.User{FirstName: "Luis"},
		Photo:     []tgbotapi.PhotoSize{{FileID: "x"}},
	}

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), update))

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ReplyTo)
	assert.Equal(t, models.ReplyRef{MessageID: 70, From: "Luis", Text: "[Archivo/Media]"}, *msgs[0].ReplyTo)
}

type failingMessageLog struct {
	store.MessageLog
}

func (failingMessageLog) Append(ctx context.Context, msg models.ChatMessage) error {
	return fmt.Errorf("disk full")
}

func TestDispatch_StoreFailureStillRoutes(t *testing.T) {
	commands := &recordingRunner{}
	d := NewDispatcher(testChatID, failingMessageLog{}, nil, commands, &recordingRunner{}, quietLogger())

	err := d.Dispatch(context.Background(), textUpdate(9, testChatID, "Ana", "/status"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store inbound message")
	assert.Len(t, commands.Invocations(), 1)
}

func TestDispatch_LastCambiarWins(t *testing.T) {
	logger := quietLogger()
	dir := t.TempDir()
	board := store.NewJSONStatusBoard(filepath.Join(dir, "tiempo-real.json"), logger)
	sender := &recordingSender{}
	handler := NewCommandHandler(CommandDeps{
		Sender:    sender,
		Status:    board,
		Reports:   store.NewJSONReportLog(filepath.Join(dir, "reportes.json"), 100, logger),
		Checkins:  &fakeCheckins{},
		Forwarder: &fakeForwarder{},
	}, logger)
	messages := store.NewJSONMessageLog(filepath.Join(dir, "messages.json"), 100, logger)
	dispatcher := NewDispatcher(testChatID, messages, nil, handler, NewAutoResponder(sender, handler, logger), logger)

	provider := &mockUpdateProvider{}
	provider.On("GetUpdates", mock.Anything, 0, 30).Return([]tgbotapi.Update{
		textUpdate(7, testChatID, "Ana", "/cambiar 3 activo"),
		textUpdate(5, testChatID, "Ana", "/cambiar 3 crm"),
		textUpdate(6, testChatID, "Ana", "/cambiar 3 server"),
	}, nil).Once()
	poller := NewUpdatePoller(provider, dispatcher, PollerConfig{}, logger)

	require.NoError(t, poller.PollOnce(context.Background()))

	assert.Equal(t, 8, poller.Offset())
	st, found, err := board.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.StatusActivo, st.Status)

	msgs, err := messages.List(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "/cambiar 3 crm", msgs[0].Text)
	assert.Equal(t, "/cambiar 3 activo", msgs[2].Text)
}

func TestDisplayText(t *testing.T) {
	tests := []struct {
		name string
		msg  *tgbotapi.Message
		want string
	}{
		{"text", &tgbotapi.Message{Text: "hola"}, "hola"},
		{"photo with caption", &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{}}, Caption: "mira"}, "mira"},
		{"photo", &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{}}}, "📷 Foto"},
		{"sticker", &tgbotapi.Message{Sticker: &tgbotapi.Sticker{Emoji: "😀"}}, "🎨 [Sticker: 😀]"},
		{"document", &tgbotapi.Message{Document: &tgbotapi.Document{FileName: "informe.pdf"}}, "📄 [Documento: informe.pdf]"},
		{"document without name", &tgbotapi.Message{Document: &tgbotapi.Document{}}, "📄 [Documento: archivo]"},
		{"video", &tgbotapi.Message{Video: &tgbotapi.Video{}}, "🎥 [Video]"},
		{"video with caption", &tgbotapi.Message{Video: &tgbotapi.Video{}, Caption: "clip"}, "clip"},
		{"voice", &tgbotapi.Message{Voice: &tgbotapi.Voice{}}, "🎤 [Mensaje de voz]"},
		{"audio", &tgbotapi.Message{Audio: &tgbotapi.Audio{Title: "nota"}}, "🎵 [Audio: nota]"},
		{"audio without title", &tgbotapi.Message{Audio: &tgbotapi.Audio{}}, "🎵 [Audio: audio]"},
		{"location", &tgbotapi.Message{Location: &tgbotapi.Location{}}, "📍 [Ubicación]"},
		{"contact", &tgbotapi.Message{Contact: &tgbotapi.Contact{FirstName: "Luis"}}, "👤 [Contacto: Luis]"},
		{"unsupported", &tgbotapi.Message{}, "[Mensaje no soportado]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayText(tt.msg))
		})
	}
}

func TestSenderName(t *testing.T) {
	assert.Equal(t, "Ana", senderName(&tgbotapi.User{FirstName: "Ana", UserName: "ana_ops"}))
	assert.Equal(t, "ana_ops", senderName(&tgbotapi.User{UserName: "ana_ops"}))
	assert.Equal(t, "Usuario", senderName(&tgbotapi.User{}))
	assert.Equal(t, "Usuario", senderName(nil))
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/models"
	"principales/internal/service"
	"principales/internal/store"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, text string, opts service.SendOptions) (*models.ChatMessage, error) {
	args := m.Called(ctx, text, opts)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) SendPhoto(ctx context.Context, localPath, caption string, opts service.SendOptions) (*models.ChatMessage, error) {
	args := m.Called(ctx, localPath, caption, opts)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) SendDocument(ctx context.Context, localPath, caption string, opts service.SendOptions) (*models.ChatMessage, error) {
	args := m.Called(ctx, localPath, caption, opts)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeForwarder struct {
	err    error
	embeds []json.RawMessage
}

func (f *fakeForwarder) SendEmbed(ctx context.Context, embed json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.embeds = append(f.embeds, embed)
	return nil
}

const checkinGrid = `{
  "2026-03-01": {
    "_notes": "sin novedades",
    "3-manana-08:00": {"phone": 3, "period": "manana", "time": "08:00", "status": "activo", "timestamp": "2026-03-01T08:02:00Z"},
    "4-manana-08:00": {"phone": "4", "period": "manana", "time": "08:00", "status": "crm", "timestamp": "2026-03-01T08:03:00Z"}
  }
}`

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server    *Server
	config    *models.Config
	sender    *MockSender
	messages  *store.JSONMessageLog
	reports   *store.JSONReportLog
	status    *store.JSONStatusBoard
	forwarder *fakeForwarder
	hub       *service.MessageHub
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func testConfig(t *testing.T) *models.Config {
	t.Helper()
	dir := t.TempDir()
	return &models.Config{
		Storage: models.StorageConfig{
			DataDir:     dir,
			CheckinFile: filepath.Join(dir, "data.json"),
		},
		Media: models.MediaConfig{
			UploadsDir:    filepath.Join(dir, "uploads"),
			TempDir:       filepath.Join(dir, "temp-uploads"),
			MaxUploadSize: "10MB",
			AllowedTypes:  constants.DefaultAllowedUploadTypes,
		},
		Server: models.ServerConfig{Port: constants.DefaultServerPort},
	}
}

func newTestEnv(t *testing.T, cfg *models.Config, withBot bool) *testEnv {
	t.Helper()
	logger := quietLogger()
	require.NoError(t, os.WriteFile(cfg.Storage.CheckinFile, []byte(checkinGrid), 0600))

	env := &testEnv{
		config:    cfg,
		sender:    new(MockSender),
		messages:  store.NewJSONMessageLog(filepath.Join(cfg.Storage.DataDir, constants.MessagesFileName), 100, logger),
		reports:   store.NewJSONReportLog(filepath.Join(cfg.Storage.DataDir, constants.ReportsFileName), 100, logger),
		status:    store.NewJSONStatusBoard(filepath.Join(cfg.Storage.DataDir, constants.StatusBoardFileName), logger),
		forwarder: &fakeForwarder{},
		hub:       service.NewMessageHub(4),
	}

	deps := ServerDeps{
		Messages:  env.messages,
		Reports:   env.reports,
		Status:    env.status,
		Checkins:  store.NewCheckinReader(cfg.Storage.CheckinFile, logger),
		Forwarder: env.forwarder,
		Hub:       env.hub,
	}
	if withBot {
		deps.Sender = env.sender
	}

	env.server = NewServer(cfg, deps, logger)
	env.server.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errors.HTTPErrorResponse {
	t.Helper()
	var body errors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body
}

func TestServer_HandleHealth(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_HandleMetrics(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "uptime_ms")
}

func TestServer_BotNotConfigured(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/telegram/messages", nil),
		httptest.NewRequest(http.MethodGet, "/api/telegram/updates", nil),
		jsonRequest(http.MethodPost, "/api/telegram/send-message", `{"message":"hola"}`),
		jsonRequest(http.MethodPost, "/api/send-telegram", `{"message":"hola"}`),
	} {
		w := env.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code, req.URL.Path)
		assert.Equal(t, "Telegram bot not configured", decodeError(t, w).Error)
	}

	// the board does not need the bot
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/tiempo-real", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Messages(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)
	ctx := context.Background()
	for i, text := range []string{"uno", "dos", "tres"} {
		require.NoError(t, env.messages.Append(ctx, models.ChatMessage{
			MessageID: i + 1,
			From:      "Ana",
			Text:      text,
			Timestamp: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/telegram/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp messagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "uno", resp.Messages[0].Text)
}

func TestServer_UpdatesSince(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.messages.Append(ctx, models.ChatMessage{
			MessageID: i + 1,
			Text:      fmt.Sprintf("m%d", i+1),
			Timestamp: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}

	since := testNow.Add(time.Minute).Format(time.RFC3339Nano)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/telegram/updates?since="+since, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp messagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1, "only messages strictly after since")
	assert.Equal(t, 3, resp.Messages[0].MessageID)

	// client timestamps carry milliseconds
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/telegram/updates?since=2026-03-01T11:59:00.000Z", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 3)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/telegram/updates?since=ayer", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeValidation, decodeError(t, w).Code)
}

func TestServer_SendMessage(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)
	sent := &models.ChatMessage{MessageID: 50, From: models.BotSenderName, Text: "hola", IsBot: true}
	env.sender.On("SendText", mock.Anything, "hola", service.SendOptions{ReplyToID: 42}).Return(sent, nil).Once()

	w := env.do(jsonRequest(http.MethodPost, "/api/telegram/send-message", `{"message":"hola","replyToId":"42"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp sentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Message)
	assert.Equal(t, 50, resp.Message.MessageID)
	env.sender.AssertExpectations(t)
}

func TestServer_SendMessageValidation(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty message", `{"message":""}`, "Message is required"},
		{"missing message", `{}`, "Message is required"},
		{"bad json", `{"message":`, "Invalid JSON body"},
		{"too long", fmt.Sprintf(`{"message":%q}`, strings.Repeat("a", maxMessageRunes+1)), "Message must be at most 4096 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(jsonRequest(http.MethodPost, "/api/telegram/send-message", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decodeError(t, w).Error)
		})
	}
	env.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_SendMessageTransportError(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)
	env.sender.On("SendText", mock.Anything, "hola", service.SendOptions{}).
		Return(nil, errors.NewTransportError("telegram", "sendMessage", 400, fmt.Errorf("Bad Request: chat not found"))).Once()

	w := env.do(jsonRequest(http.MethodPost, "/api/send-telegram", `{"message":"hola"}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, errors.ErrCodeTransport, body.Code)
	assert.Equal(t, "Bad Request: chat not found", body.Details)
}

func multipartUpload(t *testing.T, fileName string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/telegram/send-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_SendFilePhoto(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)

	var sentPath string
	env.sender.On("SendPhoto", mock.Anything, mock.AnythingOfType("string"), "mapa del sitio", service.SendOptions{ReplyToID: 7}).
		Run(func(args mock.Arguments) {
			sentPath = args.String(1)
			data, err := os.ReadFile(sentPath)
			assert.NoError(t, err, "temp file must exist while sending")
			assert.Equal(t, "png-bytes", string(data))
		}).
		Return(&models.ChatMessage{MessageID: 8, Text: "mapa del sitio", IsBot: true}, nil).Once()

	w := env.do(multipartUpload(t, "Mapa.PNG", []byte("png-bytes"), map[string]string{
		"caption":   "mapa del sitio",
		"replyToId": "7",
	}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.sender.AssertExpectations(t)

	assert.True(t, strings.HasSuffix(sentPath, "_Mapa.PNG"))
	assert.Equal(t, env.config.Media.TempDir, filepath.Dir(sentPath))
	_, err := os.Stat(sentPath)
	assert.True(t, os.IsNotExist(err), "temp file must be removed after sending")
}

func TestServer_SendFileDocument(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)

	var sentPath string
	env.sender.On("SendDocument", mock.Anything, mock.AnythingOfType("string"), "", service.SendOptions{}).
		Run(func(args mock.Arguments) { sentPath = args.String(1) }).
		Return(nil, errors.NewTransportError("telegram", "sendDocument", 0, fmt.Errorf("timeout"))).Once()

	w := env.do(multipartUpload(t, "informe.pdf", []byte("%PDF"), nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	env.sender.AssertExpectations(t)
	_, err := os.Stat(sentPath)
	assert.True(t, os.IsNotExist(err), "temp file must be removed after a failed send")
}

func TestServer_SendFileRejections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.MaxUploadSize = "1KB"
	env := newTestEnv(t, cfg, true)

	tests := []struct {
		name    string
		req     *http.Request
		wantMsg string
	}{
		{"no file", multipartUpload(t, "", nil, map[string]string{"caption": "x"}), "No file uploaded"},
		{"not multipart", jsonRequest(http.MethodPost, "/api/telegram/send-file", `{}`), "No file uploaded"},
		{"disallowed extension", multipartUpload(t, "virus.exe", []byte("MZ"), nil), "File type not allowed"},
		{"no extension", multipartUpload(t, "README", []byte("x"), nil), "File type not allowed"},
		{"too large", multipartUpload(t, "big.txt", bytes.Repeat([]byte("a"), 2000), nil), "File exceeds the 1.0 kB upload limit"},
		{"bad reply id", multipartUpload(t, "a.txt", []byte("a"), map[string]string{"replyToId": "abc"}), "replyToId must be a message id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeError(t, w).Error, tt.wantMsg)
		})
	}

	env.sender.AssertNotCalled(t, "SendDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	entries, _ := os.ReadDir(cfg.Media.TempDir)
	assert.Empty(t, entries)
}

func TestServer_Board(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/tiempo-real", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var board boardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	assert.True(t, board.Success)
	require.Len(t, board.Principales, constants.MaxPrincipal)
	assert.Equal(t, models.StatusNone, board.Principales[26].Status)

	w = env.do(jsonRequest(http.MethodPut, "/api/tiempo-real/3", `{"status":"CRM","mensaje":" revisando ","updatedBy":"Luis"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var put statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &put))
	assert.Equal(t, models.StatusCRM, put.Status.Status)
	assert.Equal(t, "revisando", put.Status.Mensaje)
	assert.Equal(t, "Luis", put.Status.UpdatedBy)
	assert.Equal(t, service.TimeAgo(testNow, testNow), put.Status.TimeAgo)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/tiempo-real/3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StatusCRM, got.Status.Status)
	require.NotNil(t, got.Status.Timestamp)
	assert.True(t, testNow.Equal(*got.Status.Timestamp))

	w = env.do(jsonRequest(http.MethodPut, "/api/tiempo-real/3", `{"status":"none"}`))
	require.Equal(t, http.StatusOK, w.Code)
	_, ok, err := env.status.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok, "none clears the entry")
}

func TestServer_BoardDefaultsUpdatedBy(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	w := env.do(jsonRequest(http.MethodPut, "/api/tiempo-real/9", `{"status":"activo"}`))
	require.Equal(t, http.StatusOK, w.Code)

	st, ok, err := env.status.Get(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, defaultUpdatedBy, st.UpdatedBy)
}

func TestServer_BoardValidation(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unknown status", jsonRequest(http.MethodPut, "/api/tiempo-real/3", `{"status":"dormido"}`), http.StatusBadRequest},
		{"missing status", jsonRequest(http.MethodPut, "/api/tiempo-real/3", `{}`), http.StatusBadRequest},
		{"principal too high", jsonRequest(http.MethodPut, "/api/tiempo-real/27", `{"status":"activo"}`), http.StatusBadRequest},
		{"principal zero", httptest.NewRequest(http.MethodGet, "/api/tiempo-real/0", nil), http.StatusBadRequest},
		{"not a number", httptest.NewRequest(http.MethodGet, "/api/tiempo-real/abc", nil), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestServer_Reports(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)
	ctx := context.Background()
	require.NoError(t, env.reports.Append(ctx, models.FieldReport{ID: "r1", Principal: 4, Mensaje: "sin señal", Timestamp: testNow}))
	require.NoError(t, env.reports.Append(ctx, models.FieldReport{ID: "r2", Principal: 5, Mensaje: "reiniciado", Timestamp: testNow}))

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/reportes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list reportsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Reportes, 2)
	assert.Equal(t, "r1", list.Reportes[0].ID)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/reportes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cleared clearReportsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleared))
	assert.Equal(t, 2, cleared.Cleared)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/reportes", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Reportes)
	assert.Contains(t, w.Body.String(), `"reportes":[]`)
}

func TestServer_Checkins(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/checkins?date=2026-03-01", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp checkinsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-01", resp.Date)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, models.Phone(4), resp.Entries[1].Phone)
	assert.Equal(t, 1, resp.Counts[models.StatusActivo])
	assert.Equal(t, 1, resp.Counts[models.StatusCRM])
	assert.Equal(t, 2, resp.Total)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/checkins?date=2026-02-28", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Entries)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/checkins?date=01/03/2026", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_SendDiscord(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)

	w := env.do(jsonRequest(http.MethodPost, "/api/send-discord", `{"embedData":{"title":"Resumen diario"}}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.forwarder.embeds, 1)
	assert.JSONEq(t, `{"title":"Resumen diario"}`, string(env.forwarder.embeds[0]))

	env.forwarder.err = service.ErrWebhookNotConfigured
	w = env.do(jsonRequest(http.MethodPost, "/api/send-discord", `{"embedData":{"title":"x"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Discord webhook not configured", decodeError(t, w).Error)
}

func TestServer_Uploads(t *testing.T) {
	env := newTestEnv(t, testConfig(t), false)
	require.NoError(t, os.MkdirAll(env.config.Media.UploadsDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(env.config.Media.UploadsDir, "photo_1.jpg"), []byte("jpeg"), 0600))

	w := env.do(httptest.NewRequest(http.MethodGet, "/uploads/photo_1.jpg", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg", w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/uploads/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Stream(t *testing.T) {
	env := newTestEnv(t, testConfig(t), true)
	ts := httptest.NewServer(env.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/telegram/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Equal(t, 1, env.hub.Subscribers())
	env.hub.Publish(models.ChatMessage{MessageID: 9, From: "Ana", Text: "hola", Timestamp: testNow})

	var ev streamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, 9, ev.Message.MessageID)
	assert.Equal(t, "hola", ev.Message.Text)

	require.NoError(t, env.server.Shutdown(ctx))
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	assert.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

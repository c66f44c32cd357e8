package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"principales/internal/config"
	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/httputil"
	"principales/internal/middleware"
	"principales/internal/models"
	"principales/internal/service"
	"principales/internal/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxJSONBodyBytes bounds the JSON request bodies of the API
const maxJSONBodyBytes = 1 << 20

// checkinSource reads the dashboard's dated check-in grid
type checkinSource interface {
	Today() string
	Day(ctx context.Context, date string) ([]models.CheckinEntry, error)
}

// embedForwarder relays report embeds built by the dashboard
type embedForwarder interface {
	SendEmbed(ctx context.Context, embed json.RawMessage) error
}

// ServerDeps are the services behind the HTTP API. A nil Sender means the
// bot is not configured and the chat routes answer 400.
type ServerDeps struct {
	Sender    service.MessageSender
	Messages  store.MessageLog
	Reports   store.ReportLog
	Status    store.StatusBoard
	Checkins  checkinSource
	Forwarder embedForwarder
	Hub       *service.MessageHub
}

type Server struct {
	router       *mux.Router
	logger       *logrus.Logger
	config       *models.Config
	deps         ServerDeps
	auth         *tokenAuth
	maxUpload    int64
	pingInterval time.Duration
	now          func() time.Time
	server       *http.Server

	closeOnce sync.Once
	closing   chan struct{}
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		logger:       logger,
		config:       cfg,
		deps:         deps,
		auth:         newTokenAuth(cfg.Server.APITokenHashes, logger),
		maxUpload:    config.MaxUploadBytes(cfg.Media),
		pingInterval: time.Duration(constants.DefaultStreamPingIntervalSec) * time.Second,
		now:          time.Now,
		closing:      make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.auth.middleware)

	telegram := api.PathPrefix("/telegram").Subrouter()
	telegram.Use(s.requireBot)
	telegram.HandleFunc("/messages", s.handleMessages()).Methods(http.MethodGet)
	telegram.HandleFunc("/updates", s.handleUpdates()).Methods(http.MethodGet)
	telegram.HandleFunc("/send-message", s.handleSendMessage()).Methods(http.MethodPost)
	telegram.HandleFunc("/send-file", s.handleSendFile()).Methods(http.MethodPost)
	telegram.HandleFunc("/stream", s.handleStream()).Methods(http.MethodGet)

	api.Handle("/send-telegram", s.requireBot(s.handleSendMessage())).Methods(http.MethodPost)
	api.HandleFunc("/send-discord", s.handleSendDiscord()).Methods(http.MethodPost)

	api.HandleFunc("/tiempo-real", s.handleBoard()).Methods(http.MethodGet)
	api.HandleFunc("/tiempo-real/{phone:[0-9]+}", s.handleGetStatus()).Methods(http.MethodGet)
	api.HandleFunc("/tiempo-real/{phone:[0-9]+}", s.handlePutStatus()).Methods(http.MethodPut)

	api.HandleFunc("/reportes", s.handleListReports()).Methods(http.MethodGet)
	api.HandleFunc("/reportes", s.handleClearReports()).Methods(http.MethodDelete)

	api.HandleFunc("/checkins", s.handleCheckins()).Methods(http.MethodGet)

	s.router.PathPrefix(constants.UploadsURLPrefix).Handler(s.uploadsHandler())
}

func (s *Server) Start() error {
	port := s.config.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  secondsOr(s.config.Server.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: secondsOr(s.config.Server.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  secondsOr(s.config.Server.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.WithField("auth", s.auth.enabled()).Infof("Starting server on port %d", port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown ends open streams and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func secondsOr(sec, fallback int) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec) * time.Second
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

var errBotNotConfigured = errors.NewConfigError("telegram.bot_token", "Telegram bot not configured")

// requireBot answers 400 while the bot is not configured
func (s *Server) requireBot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Sender == nil {
			httputil.WriteError(w, r, errBotNotConfigured)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// uploadsHandler serves stored chat photos without directory listings
func (s *Server) uploadsHandler() http.Handler {
	files := http.StripPrefix(constants.UploadsURLPrefix, http.FileServer(http.Dir(s.config.Media.UploadsDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewValidationError("body", "Invalid JSON body")
	}
	return nil
}

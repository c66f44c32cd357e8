package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/metrics"
	"principales/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const (
	discordService     = "discord"
	reportEmbedTitle   = "🚨 REPORTE DE PRINCIPAL"
	reportEmbedColor   = 0xFF6B6B
	reportEmbedFooter  = "Control de Principales - Reporte desde Telegram"
	reportTimeLayout   = "02/01/2006, 15:04"
	maxErrorBodyBytes  = 512
	maxEmbedFieldRunes = 1024

	webhookBreakerFailures = 5
	webhookBreakerTimeout  = time.Minute
)

// ErrWebhookNotConfigured is returned when no Discord webhook URL is set
var ErrWebhookNotConfigured = errors.New(errors.ErrCodeConfig, "discord webhook not configured").
	WithUserMessage("Discord webhook not configured")

// ReportNotice is one field report as posted to Discord
type ReportNotice struct {
	Principal  int
	Estado     string
	Mensaje    string
	ReportedBy string
	Time       time.Time
}

// ReportForwarder posts field reports to an external channel
type ReportForwarder interface {
	SendReport(ctx context.Context, notice ReportNotice) error
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string              `json:"title"`
	Color     int                 `json:"color"`
	Fields    []discordEmbedField `json:"fields"`
	Footer    discordEmbedFooter  `json:"footer"`
	Timestamp string              `json:"timestamp"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

// DiscordForwarder posts report embeds to a Discord webhook. The URL can be
// swapped at runtime when the configuration is reloaded.
type DiscordForwarder struct {
	mu         sync.RWMutex
	webhookURL string
	client     *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewDiscordForwarder(webhookURL string, timeout time.Duration, logger *logrus.Logger) *DiscordForwarder {
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultWebhookTimeoutSec) * time.Second
	}
	return &DiscordForwarder{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        discordService,
			MaxFailures: webhookBreakerFailures,
			OpenTimeout: webhookBreakerTimeout,
			// 4xx answers mean a bad webhook or payload, not an outage
			Counts: errors.IsRetryable,
		}, logger),
		logger: logger,
	}
}

func (f *DiscordForwarder) SetWebhookURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookURL = url
}

func (f *DiscordForwarder) Configured() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.webhookURL != ""
}

// SendReport posts one report embed
func (f *DiscordForwarder) SendReport(ctx context.Context, notice ReportNotice) error {
	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{reportEmbed(notice)}})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "encode discord payload")
	}

	if err := f.deliver(ctx, body); err != nil {
		return err
	}

	metrics.IncrementCounter("discord_reports_sent_total", nil, "Reports posted to Discord")
	f.logger.WithField(LogFieldPrincipal, notice.Principal).Info("Report forwarded to Discord")
	return nil
}

// SendEmbed posts an embed built by the web dashboard as is
func (f *DiscordForwarder) SendEmbed(ctx context.Context, embed json.RawMessage) error {
	if len(bytes.TrimSpace(embed)) == 0 || !json.Valid(embed) {
		return errors.NewValidationError("embedData", "Report data is required")
	}

	body, err := json.Marshal(struct {
		Embeds []json.RawMessage `json:"embeds"`
	}{Embeds: []json.RawMessage{embed}})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "encode discord payload")
	}

	return f.deliver(ctx, body)
}

func (f *DiscordForwarder) deliver(ctx context.Context, body []byte) error {
	f.mu.RLock()
	url := f.webhookURL
	f.mu.RUnlock()

	if url == "" {
		return ErrWebhookNotConfigured
	}

	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		return f.post(ctx, url, body)
	})
	if circuitbreaker.IsOpenError(err) {
		metrics.IncrementCounter("discord_webhook_rejected_total", nil, "Discord webhook calls skipped by the open circuit")
		return errors.NewTransportError(discordService, "executeWebhook", 0, err).
			WithUserMessage("Discord is temporarily unavailable")
	}
	return err
}

// BreakerState reports whether webhook calls are currently being short-circuited
func (f *DiscordForwarder) BreakerState() circuitbreaker.State {
	return f.breaker.State()
}

func (f *DiscordForwarder) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfig, "build discord request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.RecordTimer("discord_webhook_duration", time.Since(start), nil, "Discord webhook call duration")
	if err != nil {
		metrics.IncrementCounter("discord_webhook_errors_total", nil, "Discord webhook calls that failed")
		return errors.NewTransportError(discordService, "executeWebhook", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		metrics.IncrementCounter("discord_webhook_errors_total", nil, "Discord webhook calls that failed")
		return errors.NewTransportError(discordService, "executeWebhook", resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	f.logger.WithField(LogFieldStatusCode, resp.StatusCode).Debug("Discord webhook accepted")
	return nil
}

func reportEmbed(n ReportNotice) discordEmbed {
	return discordEmbed{
		Title: reportEmbedTitle,
		Color: reportEmbedColor,
		Fields: []discordEmbedField{
			{Name: "📱 Principal", Value: fmt.Sprintf("#%d", n.Principal), Inline: true},
			{Name: "📊 Estado Actual", Value: n.Estado, Inline: true},
			{Name: "📝 Reporte", Value: truncateRunes(n.Mensaje, maxEmbedFieldRunes), Inline: false},
			{Name: "👤 Reportado por", Value: n.ReportedBy, Inline: true},
			{Name: "🕐 Hora", Value: n.Time.UTC().Format(reportTimeLayout), Inline: true},
		},
		Footer:    discordEmbedFooter{Text: reportEmbedFooter},
		Timestamp: n.Time.UTC().Format(time.RFC3339),
	}
}

// truncateRunes keeps embed fields within Discord's limit
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

package service

import (
	"context"
	"strings"

	"principales/internal/errors"
	"principales/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StatusSummarizer renders the daily check-in summary
type StatusSummarizer interface {
	StatusSummary(ctx context.Context) string
}

var (
	greetingWords = []string{"hola", "buenos días", "buenas tardes", "buenas noches"}
	helpWords     = []string{"ayuda", "help", "menu", "menú"}
	statusWords   = []string{"estado"}
)

const (
	replyGreeting = "¡Hola! 👋 ¿En qué puedo ayudarte?"
	replyHelpHint = "Usa /help para ver todos los comandos disponibles."
)

// AutoResponder answers plain chat text that contains known keywords
type AutoResponder struct {
	sender  TextSender
	summary StatusSummarizer
	logger  *logrus.Logger
}

func NewAutoResponder(sender TextSender, summary StatusSummarizer, logger *logrus.Logger) *AutoResponder {
	return &AutoResponder{sender: sender, summary: summary, logger: logger}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Respond sends at most one reply. Greetings win over help, help over status.
func (a *AutoResponder) Respond(ctx context.Context, inv Invocation) {
	lower := strings.ToLower(inv.Text)

	var reply, kind string
	switch {
	case containsAny(lower, greetingWords):
		reply, kind = replyGreeting, "greeting"
	case containsAny(lower, helpWords):
		reply, kind = replyHelpHint, "help"
	case containsAny(lower, statusWords):
		reply, kind = a.summary.StatusSummary(ctx), "status"
	default:
		return
	}

	metrics.IncrementCounter("telegram_auto_responses_total", map[string]string{"kind": kind}, "Keyword auto-responses sent")
	if _, err := a.sender.SendText(ctx, reply, SendOptions{ChatID: inv.ChatID}); err != nil {
		errors.LogWarn(a.logger.WithField(LogFieldMessageID, inv.MessageID), err, "Failed to send auto-response")
	}
}

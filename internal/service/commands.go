package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/metrics"
	"principales/internal/models"
	"principales/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	cmdStart           = "/start"
	cmdHelp            = "/help"
	cmdStatus          = "/status"
	cmdReporte         = "/reporte"
	cmdCambiar         = "/cambiar"
	cmdEstado          = "/estado"
	cmdLimpiar         = "/limpiar"
	cmdVerReportes     = "/ver_reportes"
	cmdLimpiarReportes = "/limpiar_reportes"

	estadoNoDisponible = "No disponible"

	// free text longer than this is cut in listings so one entry never fills a message
	listingMensajeRunes = 500
)

const (
	replyWelcome = "¡Hola! 👋\n\nSoy el bot de Control de Principales.\n\nUsa /help para ver los comandos disponibles."

	replyUnknown        = "❓ Comando no reconocido. Usa /help para ver los comandos disponibles."
	replyInvalidNumber  = "❌ Número de principal inválido. Usa un número entre 1 y 26."
	replyStatusError    = "❌ Error al obtener el estado. Verifica que haya datos disponibles."
	replyWebhookMissing = "❌ Discord webhook no configurado."
	replyReportError    = "❌ Error al enviar el reporte. Intenta nuevamente."
	replyStoreError     = "❌ No se pudo acceder a los datos. Intenta nuevamente."
	replyNoReports      = "📭 No hay reportes registrados."

	usageReporte = "📊 <b>Uso del comando:</b>\n\n" +
		"/reporte [número] [mensaje]\n\n" +
		"<b>Ejemplos:</b>\n" +
		"• /reporte 17 está en revisión\n" +
		"• /reporte 5 desconectado desde las 14:00\n" +
		"• /reporte 23 problema con la línea"

	usageCambiar = "🔄 <b>Uso del comando:</b>\n\n" +
		"/cambiar [número] [estado] [mensaje]\n\n" +
		"<b>Estados:</b> activo, desconectado, crm, server, none\n\n" +
		"<b>Ejemplo:</b>\n" +
		"• /cambiar 17 crm reiniciando sesión"

	usageLimpiar = "🧹 <b>Uso del comando:</b>\n\n" +
		"/limpiar [número]\n\n" +
		"<b>Ejemplo:</b>\n" +
		"• /limpiar 17"
)

// commandMenu is the command list shown by /help and registered with Telegram
var commandMenu = []tgbotapi.BotCommand{
	{Command: "start", Description: "Mensaje de bienvenida"},
	{Command: "help", Description: "Mostrar los comandos disponibles"},
	{Command: "status", Description: "Resumen de chequeos de hoy"},
	{Command: "reporte", Description: "Reportar un principal a Discord: /reporte [número] [mensaje]"},
	{Command: "cambiar", Description: "Cambiar estado en tiempo real: /cambiar [número] [estado] [mensaje]"},
	{Command: "estado", Description: "Ver estado en tiempo real: /estado [número]"},
	{Command: "limpiar", Description: "Limpiar el estado de un principal: /limpiar [número]"},
	{Command: "ver_reportes", Description: "Ver los reportes registrados"},
	{Command: "limpiar_reportes", Description: "Borrar todos los reportes"},
}

// BotCommands returns the command menu
func BotCommands() []tgbotapi.BotCommand {
	out := make([]tgbotapi.BotCommand, len(commandMenu))
	copy(out, commandMenu)
	return out
}

// TextSender sends a text reply
type TextSender interface {
	SendText(ctx context.Context, text string, opts SendOptions) (*models.ChatMessage, error)
}

// CheckinSource reads today's check-in grid
type CheckinSource interface {
	TodayEntries(ctx context.Context) ([]models.CheckinEntry, error)
	StatusFor(ctx context.Context, principal int) (models.Status, bool, error)
}

// CommandDeps are the collaborators of the CommandHandler
type CommandDeps struct {
	Sender    TextSender
	Status    store.StatusBoard
	Reports   store.ReportLog
	Checkins  CheckinSource
	Forwarder ReportForwarder
}

// CommandHandler executes the bot's slash commands
type CommandHandler struct {
	sender    TextSender
	status    store.StatusBoard
	reports   store.ReportLog
	checkins  CheckinSource
	forwarder ReportForwarder
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string
}

func NewCommandHandler(deps CommandDeps, logger *logrus.Logger) *CommandHandler {
	return &CommandHandler{
		sender:    deps.Sender,
		status:    deps.Status,
		reports:   deps.Reports,
		checkins:  deps.Checkins,
		forwarder: deps.Forwarder,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// ParseCommand splits a command line into its lower-cased name, without any
// @botname suffix, and its arguments.
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.ToLower(fields[0])
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return name, fields[1:]
}

// rawArgs returns text after its first n whitespace-separated fields with the
// line breaks and spacing of the remainder kept
func rawArgs(text string, n int) string {
	rest := strings.TrimLeftFunc(text, unicode.IsSpace)
	for i := 0; i < n && rest != ""; i++ {
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	}
	return strings.TrimRightFunc(rest, unicode.IsSpace)
}

// parsePrincipal parses a principal number in [1,26]
func parsePrincipal(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || !store.ValidPrincipal(n) {
		return 0, false
	}
	return n, true
}

// Run executes one command. Failures end up as chat replies or log lines.
func (h *CommandHandler) Run(ctx context.Context, inv Invocation) {
	name, args := ParseCommand(inv.Text)
	h.logger.WithFields(logrus.Fields{
		LogFieldCommand:   name,
		LogFieldMessageID: inv.MessageID,
	}).Debug("Handling command")

	label := name
	switch name {
	case cmdStart:
		h.reply(ctx, inv, replyWelcome)
	case cmdHelp:
		h.reply(ctx, inv, helpText())
	case cmdStatus:
		h.reply(ctx, inv, h.StatusSummary(ctx))
	case cmdReporte:
		h.handleReporte(ctx, inv, args)
	case cmdCambiar:
		h.handleCambiar(ctx, inv, args)
	case cmdEstado:
		h.handleEstado(ctx, inv, args)
	case cmdLimpiar:
		h.handleLimpiar(ctx, inv, args)
	case cmdVerReportes:
		h.handleVerReportes(ctx, inv)
	case cmdLimpiarReportes:
		h.handleLimpiarReportes(ctx, inv)
	default:
		label = "unknown"
		h.reply(ctx, inv, replyUnknown)
	}
	metrics.IncrementCounter("telegram_commands_total", map[string]string{"command": label}, "Commands handled")
}

func (h *CommandHandler) reply(ctx context.Context, inv Invocation, text string) {
	if _, err := h.sender.SendText(ctx, text, SendOptions{ChatID: inv.ChatID}); err != nil {
		errors.LogWarn(h.logger.WithField(LogFieldMessageID, inv.MessageID), err, "Failed to send command reply")
	}
}

// replyAll sends one reply per chunk, stopping at the first failed send
func (h *CommandHandler) replyAll(ctx context.Context, inv Invocation, chunks []string) {
	for _, chunk := range chunks {
		if _, err := h.sender.SendText(ctx, chunk, SendOptions{ChatID: inv.ChatID}); err != nil {
			errors.LogWarn(h.logger.WithField(LogFieldMessageID, inv.MessageID), err, "Failed to send command reply")
			return
		}
	}
}

// splitMessage packs blocks joined by sep into texts of at most max runes,
// breaking only between blocks. A block longer than max is cut.
func splitMessage(blocks []string, sep string, max int) []string {
	var chunks []string
	var cur strings.Builder
	curRunes := 0
	sepRunes := len([]rune(sep))

	for _, block := range blocks {
		block = truncateRunes(block, max)
		n := len([]rune(block))
		if curRunes > 0 && curRunes+sepRunes+n > max {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curRunes = 0
		}
		if curRunes > 0 {
			cur.WriteString(sep)
			curRunes += sepRunes
		}
		cur.WriteString(block)
		curRunes += n
	}
	if curRunes > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func helpText() string {
	var b strings.Builder
	b.WriteString("📱 <b>Comandos disponibles:</b>\n\n")
	b.WriteString("/status - Ver resumen de chequeos de hoy\n")
	b.WriteString("/reporte [número] [mensaje] - Reportar un principal específico a Discord\n")
	b.WriteString("  Ejemplo: /reporte 17 está en revisión\n")
	b.WriteString("/cambiar [número] [estado] [mensaje] - Cambiar el estado en tiempo real\n")
	b.WriteString("  Estados: activo, desconectado, crm, server, none\n")
	b.WriteString("/estado [número] - Ver el estado en tiempo real\n")
	b.WriteString("/limpiar [número] - Limpiar el estado de un principal\n")
	b.WriteString("/ver_reportes - Ver los reportes registrados\n")
	b.WriteString("/limpiar_reportes - Borrar todos los reportes\n")
	b.WriteString("/help - Mostrar este mensaje")
	return b.String()
}

// StatusSummary renders today's check-in counts, or the error reply when
// the grid cannot be read.
func (h *CommandHandler) StatusSummary(ctx context.Context) string {
	entries, err := h.checkins.TodayEntries(ctx)
	if err != nil {
		errors.LogWarn(h.logger, err, "Failed to read check-in data")
		return replyStatusError
	}

	counts := store.Counts(entries)
	return fmt.Sprintf("📊 <b>Estado Actual</b>\n\n"+
		"✅ Activos: %d\n"+
		"🔴 Desconectados: %d\n"+
		"⚠️ En CRM: %d\n"+
		"🔧 En Server: %d\n\n"+
		"<b>Total:</b> %d principales chequeados",
		counts[models.StatusActivo],
		counts[models.StatusDesconectado],
		counts[models.StatusCRM],
		counts[models.StatusServer],
		counts.Total(),
	)
}

func (h *CommandHandler) handleReporte(ctx context.Context, inv Invocation, args []string) {
	if len(args) < 2 {
		h.reply(ctx, inv, usageReporte)
		return
	}
	principal, ok := parsePrincipal(args[0])
	if !ok {
		h.reply(ctx, inv, replyInvalidNumber)
		return
	}
	mensaje := rawArgs(inv.Text, 2)
	now := h.now().UTC()
	estado := h.currentEstado(ctx, principal)

	err := h.forwarder.SendReport(ctx, ReportNotice{
		Principal:  principal,
		Estado:     estado,
		Mensaje:    mensaje,
		ReportedBy: inv.Sender,
		Time:       now,
	})
	if err != nil {
		if stderrors.Is(err, ErrWebhookNotConfigured) || errors.GetCode(err) == errors.ErrCodeConfig {
			h.reply(ctx, inv, replyWebhookMissing)
			return
		}
		errors.LogError(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to forward report")
		h.reply(ctx, inv, replyReportError)
		return
	}

	// the post already happened; a failed append is logged, not undone
	report := models.FieldReport{
		ID:        h.newID(),
		Principal: principal,
		Mensaje:   mensaje,
		Estado:    estado,
		Timestamp: now,
		User:      inv.Sender,
	}
	if err := h.reports.Append(ctx, report); err != nil {
		errors.LogError(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to store field report")
	}

	h.reply(ctx, inv, fmt.Sprintf("✅ Reporte del Principal #%d enviado a Discord correctamente.", principal))
}

// currentEstado is the real-time status label, else today's first check-in
// for the principal, else "No disponible".
func (h *CommandHandler) currentEstado(ctx context.Context, principal int) string {
	st, found, err := h.status.Get(ctx, principal)
	if err != nil {
		errors.LogWarn(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to read real-time status")
	} else if found {
		return st.Status.Display()
	}

	status, found, err := h.checkins.StatusFor(ctx, principal)
	if err != nil {
		h.logger.WithField(LogFieldPrincipal, principal).Debug("No check-in data for current status")
		return estadoNoDisponible
	}
	if found {
		return status.Display()
	}
	return estadoNoDisponible
}

func (h *CommandHandler) handleCambiar(ctx context.Context, inv Invocation, args []string) {
	if len(args) < 2 {
		h.reply(ctx, inv, usageCambiar)
		return
	}
	principal, ok := parsePrincipal(args[0])
	if !ok {
		h.reply(ctx, inv, usageCambiar)
		return
	}
	status, ok := models.ParseStatus(args[1])
	if !ok {
		h.reply(ctx, inv, usageCambiar)
		return
	}
	mensaje := rawArgs(inv.Text, 3)

	now := h.now().UTC()
	err := h.status.Set(ctx, models.RealTimeStatus{
		Phone:     principal,
		Status:    status,
		Mensaje:   mensaje,
		UpdatedBy: inv.Sender,
		Timestamp: &now,
	})
	if err != nil {
		errors.LogError(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to update real-time status")
		h.reply(ctx, inv, replyStoreError)
		return
	}

	text := fmt.Sprintf("✅ Principal #%d actualizado a %s", principal, status.Display())
	if mensaje != "" {
		text += "\n📝 " + html.EscapeString(mensaje)
	}
	h.reply(ctx, inv, text)
}

func (h *CommandHandler) handleEstado(ctx context.Context, inv Invocation, args []string) {
	if len(args) == 0 {
		h.replyAll(ctx, inv, h.boardSummary(ctx))
		return
	}

	principal, ok := parsePrincipal(args[0])
	if !ok {
		h.reply(ctx, inv, replyInvalidNumber)
		return
	}

	st, _, err := h.status.Get(ctx, principal)
	if err != nil {
		errors.LogError(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to read real-time status")
		h.reply(ctx, inv, replyStoreError)
		return
	}
	h.reply(ctx, inv, h.statusDetail(st))
}

// boardSummary renders the board counts and the principals needing
// attention, split to fit Telegram's message limit
func (h *CommandHandler) boardSummary(ctx context.Context) []string {
	sparse, err := h.status.All(ctx)
	if err != nil {
		errors.LogError(h.logger, err, "Failed to read real-time board")
		return []string{replyStoreError}
	}
	board := store.FullBoard(sparse)

	counts := make(map[models.Status]int, len(models.AllStatuses))
	for _, st := range board {
		counts[st.Status]++
	}

	var b strings.Builder
	b.WriteString("📡 <b>Estado en Tiempo Real</b>\n\n")
	for _, st := range models.AllStatuses {
		fmt.Fprintf(&b, "%s: %d\n", st.Display(), counts[st])
	}

	var attention []string
	for n := constants.MinPrincipal; n <= constants.MaxPrincipal; n++ {
		st := board[n]
		if st.Status == models.StatusActivo || st.Status == models.StatusNone {
			continue
		}
		line := fmt.Sprintf("• #%d %s", n, st.Status.Display())
		if st.Mensaje != "" {
			line += " - " + html.EscapeString(truncateRunes(st.Mensaje, listingMensajeRunes))
		}
		if st.UpdatedBy != "" {
			line += " (" + html.EscapeString(st.UpdatedBy) + ")"
		}
		attention = append(attention, line)
	}

	if len(attention) == 0 {
		b.WriteString("\nSin incidencias registradas.")
		return []string{b.String()}
	}
	b.WriteString("\n<b>Requieren atención:</b>")
	return splitMessage(append([]string{b.String()}, attention...), "\n", constants.TelegramMaxMessageRunes)
}

func (h *CommandHandler) statusDetail(st models.RealTimeStatus) string {
	mensaje := "-"
	if st.Mensaje != "" {
		mensaje = html.EscapeString(st.Mensaje)
	}
	updatedBy := "-"
	if st.UpdatedBy != "" {
		updatedBy = html.EscapeString(st.UpdatedBy)
	}
	when := "Nunca"
	if st.Timestamp != nil {
		when = TimeAgo(*st.Timestamp, h.now())
	}

	return fmt.Sprintf("📱 <b>Principal #%d</b>\n\n"+
		"Estado: %s\n"+
		"Mensaje: %s\n"+
		"Actualizado por: %s\n"+
		"Última actualización: %s",
		st.Phone, st.Status.Display(), mensaje, updatedBy, when)
}

func (h *CommandHandler) handleLimpiar(ctx context.Context, inv Invocation, args []string) {
	if len(args) < 1 {
		h.reply(ctx, inv, usageLimpiar)
		return
	}
	principal, ok := parsePrincipal(args[0])
	if !ok {
		h.reply(ctx, inv, usageLimpiar)
		return
	}

	if _, err := h.status.Delete(ctx, principal); err != nil {
		errors.LogError(h.logger.WithField(LogFieldPrincipal, principal), err, "Failed to clear real-time status")
		h.reply(ctx, inv, replyStoreError)
		return
	}
	h.reply(ctx, inv, fmt.Sprintf("🧹 Estado del Principal #%d limpiado.", principal))
}

func (h *CommandHandler) handleVerReportes(ctx context.Context, inv Invocation) {
	reports, err := h.reports.List(ctx)
	if err != nil {
		errors.LogError(h.logger, err, "Failed to list field reports")
		h.reply(ctx, inv, replyStoreError)
		return
	}
	if len(reports) == 0 {
		h.reply(ctx, inv, replyNoReports)
		return
	}

	now := h.now()
	blocks := make([]string, 0, len(reports)+1)
	blocks = append(blocks, fmt.Sprintf("📋 <b>Reportes (%d)</b>", len(reports)))
	for i, r := range reports {
		blocks = append(blocks, fmt.Sprintf("%d. <b>#%d</b> %s\n   %s\n   👤 %s · %s",
			i+1, r.Principal, r.Estado,
			html.EscapeString(truncateRunes(r.Mensaje, listingMensajeRunes)),
			html.EscapeString(r.User),
			TimeAgo(r.Timestamp, now),
		))
	}
	h.replyAll(ctx, inv, splitMessage(blocks, "\n\n", constants.TelegramMaxMessageRunes))
}

func (h *CommandHandler) handleLimpiarReportes(ctx context.Context, inv Invocation) {
	cleared, err := h.reports.Clear(ctx)
	if err != nil {
		errors.LogError(h.logger, err, "Failed to clear field reports")
		h.reply(ctx, inv, replyStoreError)
		return
	}
	h.reply(ctx, inv, fmt.Sprintf("🗑️ Se eliminaron %d reportes.", cleared))
}

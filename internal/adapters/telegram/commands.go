package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vulture/internal/services/executor"
	"vulture/pkg/logger"
)

// Controller is the scheduler surface the command handler drives
type Controller interface {
	Pause() error
	Resume() error
	State() executor.State
	Stats() executor.Stats
}

// StopSwitch toggles the shared emergency stop
type StopSwitch interface {
	Activate(ctx context.Context, reason string)
	Deactivate(ctx context.Context) error
	EmergencyStopActive(ctx context.Context) bool
}

// CommandHandler serves operator commands over long polling:
// /status, /pause, /resume, /stop, /resume_stop
type CommandHandler struct {
	api        *tgbotapi.BotAPI
	chatID     int64
	controller Controller
	stop       StopSwitch
	log        *logger.Logger
}

// NewCommandHandler wires operator commands to the scheduler and the
// emergency stop switch
func NewCommandHandler(n *Notifier, controller Controller, stop StopSwitch) *CommandHandler {
	return &CommandHandler{
		api:        n.api,
		chatID:     n.chatID,
		controller: controller,
		stop:       stop,
		log:        n.log.With("component", "telegram_commands"),
	}
}

// Run polls for commands until the context is cancelled
func (h *CommandHandler) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := h.api.GetUpdatesChan(u)
	defer h.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.handle(ctx, update)
		}
	}
}

func (h *CommandHandler) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	// Only the configured operator chat may drive the bot
	if update.Message.Chat.ID != h.chatID {
		h.log.Warnw("Command from unauthorized chat ignored",
			"chat_id", update.Message.Chat.ID)
		return
	}

	var reply string
	switch update.Message.Command() {
	case "status":
		reply = h.statusText(ctx)
	case "pause":
		if err := h.controller.Pause(); err != nil {
			reply = fmt.Sprintf("Cannot pause: %s", err)
		} else {
			reply = "⏸ Scheduler paused. Retry and cooldown state preserved."
		}
	case "resume":
		if err := h.controller.Resume(); err != nil {
			reply = fmt.Sprintf("Cannot resume: %s", err)
		} else {
			reply = "▶️ Scheduler resumed."
		}
	case "stop":
		h.stop.Activate(ctx, "manual operator stop")
		reply = "🛑 Emergency stop activated. No liquidations will execute."
	case "resume_stop":
		if err := h.stop.Deactivate(ctx); err != nil {
			reply = fmt.Sprintf("Failed to clear emergency stop: %s", err)
		} else {
			reply = "✅ Emergency stop cleared."
		}
	default:
		reply = "Commands: /status /pause /resume /stop /resume\\_stop"
	}

	msg := tgbotapi.NewMessage(h.chatID, reply)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.api.Send(msg); err != nil {
		h.log.Warnw("Failed to send command reply", "error", err)
	}
}

func (h *CommandHandler) statusText(ctx context.Context) string {
	stats := h.controller.Stats()
	realized, _ := stats.RealizedProfitUSD.Float64()

	var b strings.Builder
	fmt.Fprintf(&b, "*Bot status*\n\n")
	fmt.Fprintf(&b, "State: %s\n", h.controller.State())
	if h.stop.EmergencyStopActive(ctx) {
		b.WriteString("Emergency stop: *ACTIVE*\n")
	}
	fmt.Fprintf(&b, "Attempts: %d (%d ok, %d failed, %d abandoned)\n",
		stats.Attempts, stats.Successes, stats.Failures, stats.Abandoned)
	fmt.Fprintf(&b, "Realized profit: $%s\n", humanize.CommafWithDigits(realized, 2))
	fmt.Fprintf(&b, "Retries in flight: %d\n", stats.RetriesInFlight)
	fmt.Fprintf(&b, "Cooldowns in flight: %d", stats.CooldownsInFlight)
	return b.String()
}

package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"vulture/internal/adapters/chain"
	"vulture/internal/adapters/config"
	"vulture/internal/domain/opportunity"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// Notifier pushes operator notifications to a Telegram chat. Send-only;
// command handling lives in commands.go.
type Notifier struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewNotifier creates a Telegram notifier
func NewNotifier(cfg config.TelegramConfig, log *logger.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.Wrap(errors.ErrInternal, "telegram bot token is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}

	log.Infof("Telegram notifier authorized as %s", api.Self.UserName)

	return &Notifier{
		api:    api,
		chatID: cfg.ChatID,
		// Telegram allows ~30 msg/sec; stay well under it
		limiter: rate.NewLimiter(rate.Limit(20), 30),
		log:     log.With("component", "telegram_notifier"),
	}, nil
}

// NotifySuccess reports a completed liquidation
func (n *Notifier) NotifySuccess(ctx context.Context, opp *opportunity.Opportunity, res *chain.Result) {
	profit, _ := res.ProfitUSD.Float64()
	repay, _ := opp.RepayValueUSD().Float64()

	text := fmt.Sprintf(
		"✅ *Liquidation executed*\n\n"+
			"Borrower: `%s`\n"+
			"Repaid: $%s\n"+
			"Profit: *$%s*\n"+
			"Tx: `%s`\n"+
			"Latency: %s",
		opp.Borrower.Hex(),
		humanize.CommafWithDigits(repay, 2),
		humanize.CommafWithDigits(profit, 2),
		res.TxHash.Hex(),
		res.Latency.Round(time.Millisecond),
	)
	n.send(ctx, text)
}

// NotifyAbandoned reports an opportunity dropped after exhausting its
// retry budget; these usually need a human to look at the revert reason
func (n *Notifier) NotifyAbandoned(ctx context.Context, key opportunity.Key, lastErr error) {
	text := fmt.Sprintf(
		"⚠️ *Opportunity abandoned*\n\n"+
			"Key: `%s`\n"+
			"Last error: %s",
		string(key), lastErr,
	)
	n.send(ctx, text)
}

// NotifyEmergencyStop reports an automatic emergency stop activation
func (n *Notifier) NotifyEmergencyStop(ctx context.Context, reason string, dailyPnLUSD float64) {
	text := fmt.Sprintf(
		"🛑 *EMERGENCY STOP*\n\n"+
			"Reason: %s\n"+
			"Daily PnL: $%s\n\n"+
			"Execution is halted until /resume\\_stop.",
		reason,
		humanize.CommafWithDigits(dailyPnLUSD, 2),
	)
	n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, text string) {
	if err := n.limiter.Wait(ctx); err != nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.log.Warnw("Failed to send telegram notification", "error", err)
	}
}

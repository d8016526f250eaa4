package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

// Notifier reports cycle outcomes to an external channel. Delivery is
// best-effort: a failed notification never affects the pipeline.
type Notifier interface {
	NotifyCycle(ctx context.Context, summary *models.CycleSummary, reflection *models.Reflection)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyCycle(context.Context, *models.CycleSummary, *models.Reflection) {}

// TelegramNotifier posts a cycle digest to a Telegram chat. Cycles that found
// nothing and hit no errors are skipped to keep the channel quiet.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramNotifier connects the bot using the configured token.
func NewTelegramNotifier(cfg *config.Config, logger *logrus.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: cfg.Telegram.ChatID, logger: logger}, nil
}

func (t *TelegramNotifier) NotifyCycle(ctx context.Context, summary *models.CycleSummary, reflection *models.Reflection) {
	if summary == nil {
		return
	}
	if summary.Opportunities == 0 && len(summary.Errors) == 0 {
		return
	}

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   formatCycleDigest(summary, reflection),
	})
	if err != nil {
		t.logger.WithError(err).Warn("Telegram notification failed")
	}
}

func formatCycleDigest(summary *models.CycleSummary, reflection *models.Reflection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle finished in %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Opportunities: %d, decisions: %d (%d proceeded, %d rejected)\n",
		summary.Opportunities, summary.Decisions, summary.Proceeded, summary.Rejected)
	fmt.Fprintf(&b, "Executed: %d, failed: %d, realized profit: %s\n",
		summary.Executed, summary.Failed, summary.RealizedProfit.StringFixed(2))

	for _, e := range summary.Errors {
		fmt.Fprintf(&b, "Error in %s: %s\n", e.Stage, e.Message)
	}
	if reflection != nil {
		for _, adj := range reflection.Adjustments {
			fmt.Fprintf(&b, "Suggested: %s %s to %.4f (%s)\n", adj.Direction, adj.Parameter, adj.Value, adj.Reason)
		}
	}
	return b.String()
}

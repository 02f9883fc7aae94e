// Package notifier delivers items to a Telegram channel.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends one message per item. Sends are serialised process-wide and spaced by at least the configured
// interval, because the destination rate limit applies regardless of which feed an item came from.
type Notifier struct {
	bot       Sender
	channelID int64
	limiter   *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

func New(bot Sender, channelID int64, spacing time.Duration) *Notifier {
	return &Notifier{
		bot:       bot,
		channelID: channelID,
		limiter:   rate.NewLimiter(rate.Every(spacing), 1),
	}
}

// Deliver makes one attempt to send the item. Failures are always *DeliveryError.
func (n *Notifier) Deliver(ctx context.Context, src model.FeedSource, item model.Item) error {
	msg := tgbotapi.NewMessage(n.channelID, FormatMessage(src, item))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.waitUnblocked(ctx); err != nil {
		return &DeliveryError{Kind: Transient, Err: err}
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Kind: Transient, Err: err}
	}

	sent, err := n.bot.Send(msg)
	if err != nil {
		de := classify(err)
		if de.RetryAfter > 0 {
			n.blockedUntil = time.Now().Add(de.RetryAfter)
			slog.Warn("destination rate limit hit, pausing deliveries", "retry_after", de.RetryAfter)
		}
		return de
	}

	slog.Debug("item delivered", "feed", item.FeedID, "guid", item.GUID, "message_id", sent.MessageID)
	return nil
}

func (n *Notifier) waitUnblocked(ctx context.Context) error {
	wait := time.Until(n.blockedUntil)
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

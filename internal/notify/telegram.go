package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"recurring-orders/internal/models"
)

const dedupTTL = 48 * time.Hour

// MessageSender is the part of *telego.Bot the notifier uses.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Telegram sends notices through the bot. Every notice is sent at most once per
// key; keys live in Redis so repeated scheduler passes and redelivered tasks stay quiet.
type Telegram struct {
	Bot         MessageSender
	Redis       *redis.Client
	AdminChatID int64
	log         *zap.Logger
}

func NewTelegram(bot MessageSender, rdb *redis.Client, adminChatID int64, log *zap.Logger) *Telegram {
	return &Telegram{Bot: bot, Redis: rdb, AdminChatID: adminChatID, log: log}
}

func (t *Telegram) NotifyRenewalFailure(ctx context.Context, sub *models.Subscription, reason string) error {
	key := failureKey(sub)
	text := fmt.Sprintf("⚠️ Не удалось оплатить подписку #%d (%s).\nМы попробуем снова при следующем списании. Проверьте карту или привяжите новую командой /card %d.",
		sub.ID, reason, sub.ID)
	return t.send(ctx, key, sub.User.TelegramID, text)
}

// failureKey is unique per renewal attempt; the failure count alone repeats
// after a reset.
func failureKey(sub *models.Subscription) string {
	if sub.LastAttemptAt == nil {
		return fmt.Sprintf("notified_failure_%d_count_%d", sub.ID, sub.FailureCount)
	}
	return fmt.Sprintf("notified_failure_%d_%d", sub.ID, sub.LastAttemptAt.UnixNano())
}

func (t *Telegram) NotifyUpcomingRenewal(ctx context.Context, sub *models.Subscription) error {
	if sub.NextRenewalAt == nil {
		return nil
	}
	key := fmt.Sprintf("notified_upcoming_%d_%s", sub.ID, sub.NextRenewalAt.Format("2006-01-02"))
	text := fmt.Sprintf("📦 %s оформим очередной заказ по подписке #%d на сумму %s %s.\nЧтобы пропустить его, отправьте /skip %d.",
		sub.NextRenewalAt.Format("02.01.2006"), sub.ID, sub.Total().StringFixed(2), sub.Currency, sub.ID)
	return t.send(ctx, key, sub.User.TelegramID, text)
}

func (t *Telegram) EscalateToOperator(ctx context.Context, sub *models.Subscription, reason string) error {
	if t.AdminChatID == 0 {
		t.log.Warn("operator escalation without admin chat",
			zap.Uint("subscription_id", sub.ID), zap.String("reason", reason))
		return nil
	}
	key := fmt.Sprintf("escalated_%d_%d", sub.ID, sub.StructuralFailureCount)
	text := fmt.Sprintf("🚨 Подписка #%d не может быть продлена: %s\nОшибок подряд: %d", sub.ID, reason, sub.StructuralFailureCount)
	return t.send(ctx, key, t.AdminChatID, text)
}

func (t *Telegram) send(ctx context.Context, key string, chatID int64, text string) error {
	if chatID == 0 {
		return nil
	}
	if t.Redis != nil {
		fresh, err := t.Redis.SetNX(ctx, key, "true", dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("dedup %s: %w", key, err)
		}
		if !fresh {
			return nil
		}
	}

	if _, err := t.Bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		if t.Redis != nil {
			// let the next attempt retry
			t.Redis.Del(ctx, key)
		}
		return fmt.Errorf("send telegram message to %d: %w", chatID, err)
	}
	t.log.Debug("notification sent", zap.String("key", key), zap.Int64("chat_id", chatID))
	return nil
}

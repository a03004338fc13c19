package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"recurring-orders/internal/models"
	"recurring-orders/internal/payment"
	"recurring-orders/internal/subscription"
)

// Subscriptions is what subscribers may do from the chat.
type Subscriptions interface {
	ListForTelegramUser(ctx context.Context, telegramID int64) ([]models.Subscription, error)
	Skip(ctx context.Context, id uint) (*models.SubscriptionSkip, error)
	UndoSkip(ctx context.Context, id uint) error
	Cancel(ctx context.Context, id uint) error
}

// CardLinker creates a small payment whose saved method becomes the subscription's card.
type CardLinker interface {
	CreatePayment(ctx context.Context, amount, currency, description, returnURL string, metadata map[string]string) (*payment.PaymentResponse, error)
}

// bindingAmount is charged once to save a card with YooKassa.
const bindingAmount = "1.00"

type Bot struct {
	Instance      *telego.Bot
	Subscriptions Subscriptions
	// Cards is nil when the provider has no hosted card binding.
	Cards     CardLinker
	Currency  string
	ReturnURL string
	log       *zap.Logger
}

func NewBot(token string, subs Subscriptions, cards CardLinker, currency, returnURL string, log *zap.Logger) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:      tgBot,
		Subscriptions: subs,
		Cards:         cards,
		Currency:      currency,
		ReturnURL:     returnURL,
		log:           log,
	}, nil
}

var commands = []string{"start", "subscriptions", "skip", "undoskip", "cancel", "card"}

// Start handles updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("create bot handler: %w", err)
	}

	for _, cmd := range commands {
		handler.Handle(func(ctx *th.Context, update telego.Update) error {
			message := update.Message
			text := b.reply(ctx.Context(), message.From.ID, message.Text)
			_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), text))
			if err != nil {
				b.log.Error("failed to send reply", zap.Int64("telegram_id", message.From.ID), zap.Error(err))
			}
			return nil
		}, th.CommandEqual(cmd))
	}

	b.log.Info("telegram bot started")
	return handler.Start()
}

// reply runs a chat command for the subscriber and returns the answer text.
func (b *Bot) reply(ctx context.Context, telegramID int64, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "start":
		return helpText
	case "subscriptions":
		return b.list(ctx, telegramID)
	}

	if len(fields) < 2 {
		return fmt.Sprintf("ℹ️ Укажите номер подписки: /%s <номер>", cmd)
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return "❌ Некорректный номер подписки."
	}
	sub, ok := b.owned(ctx, telegramID, uint(id))
	if !ok {
		return "❌ Подписка не найдена."
	}

	switch cmd {
	case "skip":
		skip, err := b.Subscriptions.Skip(ctx, sub.ID)
		if err != nil {
			return b.failure(sub.ID, err)
		}
		return fmt.Sprintf("⏭ Заказ от %s по подписке #%d будет пропущен.", skip.SkipAt.Format("02.01.2006"), sub.ID)
	case "undoskip":
		if err := b.Subscriptions.UndoSkip(ctx, sub.ID); err != nil {
			return b.failure(sub.ID, err)
		}
		return fmt.Sprintf("✅ Пропуск отменён, подписка #%d продлится по расписанию.", sub.ID)
	case "cancel":
		if err := b.Subscriptions.Cancel(ctx, sub.ID); err != nil {
			return b.failure(sub.ID, err)
		}
		return fmt.Sprintf("🛑 Подписка #%d отменена. Новых заказов по ней не будет.", sub.ID)
	case "card":
		return b.cardLink(ctx, telegramID, sub)
	}
	return helpText
}

func (b *Bot) list(ctx context.Context, telegramID int64) string {
	subs, err := b.Subscriptions.ListForTelegramUser(ctx, telegramID)
	if err != nil {
		b.log.Error("failed to list subscriptions", zap.Int64("telegram_id", telegramID), zap.Error(err))
		return "❌ Не удалось загрузить подписки, попробуйте позже."
	}
	if len(subs) == 0 {
		return "📭 У вас пока нет подписок."
	}

	var sb strings.Builder
	sb.WriteString("📋 Ваши подписки:\n")
	for i := range subs {
		s := &subs[i]
		fmt.Fprintf(&sb, "\n#%d · %s · %s %s · каждые %d мес.", s.ID, stateLabel(s.State), s.Total().StringFixed(2), s.Currency, s.Interval)
		if s.NextRenewalAt != nil && s.State != subscription.StateCancelled {
			fmt.Fprintf(&sb, "\n   Следующий заказ: %s", s.NextRenewalAt.Format("02.01.2006"))
		}
		if skip := s.ActiveSkip(); skip != nil {
			fmt.Fprintf(&sb, " (пропуск)")
		}
	}
	return sb.String()
}

func (b *Bot) owned(ctx context.Context, telegramID int64, id uint) (*models.Subscription, bool) {
	subs, err := b.Subscriptions.ListForTelegramUser(ctx, telegramID)
	if err != nil {
		b.log.Error("failed to list subscriptions", zap.Int64("telegram_id", telegramID), zap.Error(err))
		return nil, false
	}
	for i := range subs {
		if subs[i].ID == id {
			return &subs[i], true
		}
	}
	return nil, false
}

func (b *Bot) cardLink(ctx context.Context, telegramID int64, sub *models.Subscription) string {
	if b.Cards == nil {
		return "ℹ️ Смена карты через бота недоступна, обратитесь в поддержку."
	}
	if sub.State == subscription.StateCancelled {
		return fmt.Sprintf("❌ Подписка #%d отменена.", sub.ID)
	}
	metadata := map[string]string{
		"telegram_id":     strconv.FormatInt(telegramID, 10),
		"subscription_id": strconv.FormatUint(uint64(sub.ID), 10),
		"type":            "card_binding",
	}
	resp, err := b.Cards.CreatePayment(ctx, bindingAmount, b.Currency, fmt.Sprintf("Привязка карты к подписке #%d", sub.ID), b.ReturnURL, metadata)
	if err != nil {
		b.log.Error("failed to create card binding payment", zap.Uint("subscription_id", sub.ID), zap.Error(err))
		return "❌ Ошибка при создании платежа."
	}
	return fmt.Sprintf("💳 Ссылка для привязки новой карты (платёж %s ₽):\n%s", bindingAmount, resp.Confirmation.ConfirmationURL)
}

func (b *Bot) failure(id uint, err error) string {
	switch {
	case errors.Is(err, subscription.ErrTerminal):
		return fmt.Sprintf("❌ Подписка #%d уже отменена.", id)
	case errors.Is(err, subscription.ErrSkipNotAllowed):
		return "ℹ️ Следующий заказ уже пропущен. Отменить пропуск: /undoskip " + strconv.FormatUint(uint64(id), 10)
	case errors.Is(err, subscription.ErrNoActiveSkip):
		return "ℹ️ Пропусков нет, заказ будет оформлен по расписанию."
	case errors.Is(err, subscription.ErrNotRecurring):
		return "❌ Эта подписка не продлевается автоматически."
	}
	b.log.Error("subscription command failed", zap.Uint("subscription_id", id), zap.Error(err))
	return "❌ Что-то пошло не так, попробуйте позже."
}

func stateLabel(s subscription.State) string {
	switch s {
	case subscription.StateActive:
		return "активна"
	case subscription.StateRenewing:
		return "оформляется"
	case subscription.StatePaused:
		return "на паузе"
	case subscription.StateCancelled:
		return "отменена"
	}
	return string(s)
}

const helpText = `Привет! 👋 Я помогу управлять подписками.

/subscriptions - список подписок
/skip <номер> - пропустить следующий заказ
/undoskip <номер> - отменить пропуск
/cancel <номер> - отменить подписку
/card <номер> - привязать новую карту`

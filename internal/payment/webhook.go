package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"recurring-orders/internal/models"
	"recurring-orders/internal/subscription"
)

// CardReplacer attaches a freshly saved card to a subscription.
type CardReplacer interface {
	Get(ctx context.Context, id uint) (*models.Subscription, error)
	ReplaceCreditCard(ctx context.Context, subscriptionID uint, card *models.CreditCard) error
}

// WebhookHandler receives YooKassa notifications for card binding payments.
// A succeeded payment with a saved method becomes the subscription's new card.
type WebhookHandler struct {
	cards CardReplacer
	log   *zap.Logger
}

func NewWebhookHandler(cards CardReplacer, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{cards: cards, log: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var notification WebhookNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		h.log.Warn("failed to decode webhook", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if notification.Event != "payment.succeeded" {
		h.log.Debug("ignored webhook event", zap.String("event", notification.Event))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.processSuccess(r.Context(), notification.Object); err != nil {
		h.log.Error("failed to process card binding", zap.String("payment_id", notification.Object.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) processSuccess(ctx context.Context, obj PaymentResponse) error {
	raw, ok := obj.Metadata["subscription_id"]
	if !ok {
		// not a card binding payment
		return nil
	}
	subscriptionID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subscription_id: %w", err)
	}
	if obj.PaymentMethod == nil || !obj.PaymentMethod.Saved {
		h.log.Warn("payment method was not saved", zap.String("payment_id", obj.ID), zap.Uint64("subscription_id", subscriptionID))
		return nil
	}

	sub, err := h.cards.Get(ctx, uint(subscriptionID))
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub.CreditCard != nil && sub.CreditCard.GatewayToken == obj.PaymentMethod.ID {
		// redelivered notification
		h.log.Debug("card already bound", zap.Uint64("subscription_id", subscriptionID), zap.String("payment_id", obj.ID))
		return nil
	}

	card := &models.CreditCard{GatewayToken: obj.PaymentMethod.ID}
	if c := obj.PaymentMethod.Card; c != nil {
		card.LastDigits = c.Last4
		card.Brand = c.CardType
		card.ExpirationMonth, _ = strconv.Atoi(c.ExpiryMonth)
		card.ExpirationYear, _ = strconv.Atoi(c.ExpiryYear)
	}
	if err := h.cards.ReplaceCreditCard(ctx, uint(subscriptionID), card); err != nil {
		if errors.Is(err, subscription.ErrTerminal) {
			h.log.Warn("card bound to cancelled subscription", zap.Uint64("subscription_id", subscriptionID), zap.String("payment_id", obj.ID))
			return nil
		}
		return fmt.Errorf("replace credit card: %w", err)
	}

	h.log.Info("credit card replaced", zap.Uint64("subscription_id", subscriptionID), zap.String("payment_id", obj.ID))
	return nil
}

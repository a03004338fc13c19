package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"recurring-orders/internal/models"
	"recurring-orders/internal/renewal"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

type handler struct {
	svc Subscriptions
	log *zap.Logger
}

type itemView struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type subscriptionView struct {
	ID            uint               `json:"id"`
	State         subscription.State `json:"state"`
	Interval      int                `json:"interval"`
	Currency      string             `json:"currency"`
	Total         string             `json:"total"`
	FailureCount  int                `json:"failure_count"`
	LastRenewalAt *time.Time         `json:"last_renewal_at"`
	NextRenewalAt *time.Time         `json:"next_renewal_at"`
	ResumeAt      *time.Time         `json:"resume_at,omitempty"`
	SkipAt        *time.Time         `json:"skip_at,omitempty"`
	CardLast4     string             `json:"card_last4,omitempty"`
	Items         []itemView         `json:"items"`
}

func newSubscriptionView(s *models.Subscription) subscriptionView {
	v := subscriptionView{
		ID:            s.ID,
		State:         s.State,
		Interval:      s.Interval,
		Currency:      s.Currency,
		Total:         s.Total().StringFixed(2),
		FailureCount:  s.FailureCount,
		LastRenewalAt: s.LastRenewalAt,
		NextRenewalAt: s.NextRenewalAt,
		ResumeAt:      s.ResumeAt,
		Items:         make([]itemView, 0, len(s.Items)),
	}
	if skip := s.ActiveSkip(); skip != nil {
		at := skip.SkipAt
		v.SkipAt = &at
	}
	if s.CreditCard != nil {
		v.CardLast4 = s.CreditCard.LastDigits
	}
	for _, item := range s.Items {
		v.Items = append(v.Items, itemView{SKU: item.VariantSKU, Quantity: item.Quantity, Price: item.Price.StringFixed(2)})
	}
	return v
}

// GET /subscriptions/{id}
func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub))
}

// PUT /subscriptions/{id}/skip
func (h *handler) skip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	skip, err := h.svc.Skip(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "skip_at": skip.SkipAt})
}

// PUT /subscriptions/{id}/undo_skip
func (h *handler) undoSkip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.UndoSkip(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "skip_undone"})
}

// PUT /subscriptions/{id}/cancel
func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

// PUT /subscriptions/{id}/renew
func (h *handler) renew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.Renew(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "task_id": task.ID})
}

// PUT /subscriptions/{id}/pause
func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ResumeAt time.Time `json:"resume_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.svc.Pause(r.Context(), id, req.ResumeAt); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "paused", "resume_at": req.ResumeAt})
}

// POST /subscriptions/{id}/credit_card
func (h *handler) replaceCreditCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		GatewayToken    string `json:"gateway_token"`
		GatewayCustomer string `json:"gateway_customer"`
		LastDigits      string `json:"last_digits"`
		Brand           string `json:"brand"`
		ExpirationMonth int    `json:"expiration_month"`
		ExpirationYear  int    `json:"expiration_year"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	card := &models.CreditCard{
		GatewayToken:    req.GatewayToken,
		GatewayCustomer: req.GatewayCustomer,
		LastDigits:      req.LastDigits,
		Brand:           req.Brand,
		ExpirationMonth: req.ExpirationMonth,
		ExpirationYear:  req.ExpirationYear,
	}
	if err := h.svc.ReplaceCreditCard(r.Context(), id, card); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "card_replaced"})
}

// GET /subscriptions/failures
func (h *handler) failures(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.Failures(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]subscriptionView, 0, len(subs))
	for i := range subs {
		out = append(out, newSubscriptionView(&subs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /subscriptions/adjust_sku
func (h *handler) adjustSku(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldSku string `json:"old_sku"`
		NewSku string `json:"new_sku"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	n, err := h.svc.AdjustSku(r.Context(), req.OldSku, req.NewSku)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

// POST /orders/{id}/subscriptions
func (h *handler) createSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.RequestSubscriptions(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "task_id": task.ID})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, renewal.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, subscription.ErrNotRecurring),
		errors.Is(err, subscription.ErrResumeAtRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, subscription.ErrTerminal),
		errors.Is(err, subscription.ErrIllegalTransition),
		errors.Is(err, subscription.ErrSkipNotAllowed),
		errors.Is(err, subscription.ErrNoActiveSkip),
		errors.Is(err, renewal.ErrOrderNotComplete):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

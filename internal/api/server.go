package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"recurring-orders/internal/models"
	"recurring-orders/internal/queue"
	"recurring-orders/internal/utils"
)

// Subscriptions is the operation surface the admin API exposes.
type Subscriptions interface {
	Get(ctx context.Context, id uint) (*models.Subscription, error)
	Skip(ctx context.Context, id uint) (*models.SubscriptionSkip, error)
	UndoSkip(ctx context.Context, id uint) error
	Cancel(ctx context.Context, id uint) error
	Renew(ctx context.Context, id uint) (queue.Task, error)
	Pause(ctx context.Context, id uint, resumeAt time.Time) error
	ReplaceCreditCard(ctx context.Context, id uint, card *models.CreditCard) error
	Failures(ctx context.Context) ([]models.Subscription, error)
	AdjustSku(ctx context.Context, oldSku, newSku string) (int64, error)
	RequestSubscriptions(ctx context.Context, orderID uint) (queue.Task, error)
}

type Options struct {
	// AdminCIDRs may call the subscription routes.
	AdminCIDRs []string
	// WebhookCIDRs may post payment provider notifications.
	WebhookCIDRs []string
	Webhook      http.Handler
	Metrics      http.Handler
}

// NewRouter builds the HTTP surface: admin routes, the payment webhook,
// metrics and a heartbeat.
func NewRouter(svc Subscriptions, opts Options, log *zap.Logger) http.Handler {
	h := &handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(middleware.Heartbeat("/ping"))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Webhook != nil {
		r.With(allowFrom(opts.WebhookCIDRs, log)).Method(http.MethodPost, "/webhooks/yookassa", opts.Webhook)
	}

	r.Group(func(ar chi.Router) {
		ar.Use(allowFrom(opts.AdminCIDRs, log))

		ar.Get("/subscriptions/failures", h.failures)
		ar.Post("/subscriptions/adjust_sku", h.adjustSku)
		ar.Get("/subscriptions/{id}", h.get)
		ar.Put("/subscriptions/{id}/skip", h.skip)
		ar.Put("/subscriptions/{id}/undo_skip", h.undoSkip)
		ar.Put("/subscriptions/{id}/cancel", h.cancel)
		ar.Put("/subscriptions/{id}/renew", h.renew)
		ar.Put("/subscriptions/{id}/pause", h.pause)
		ar.Post("/subscriptions/{id}/credit_card", h.replaceCreditCard)
		ar.Post("/orders/{id}/subscriptions", h.createSubscriptions)
	})
	return r
}

// allowFrom rejects requests whose client address is outside cidrs.
// It relies on RealIP having run first.
func allowFrom(cidrs []string, log *zap.Logger) func(http.Handler) http.Handler {
	allowed := utils.ParseAllowlist(cidrs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !allowed.Contains(ip) {
				log.Warn("request from unauthorized ip", zap.String("ip", ip), zap.String("path", r.URL.Path))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recurring-orders/internal/api"
	"recurring-orders/internal/bot"
	"recurring-orders/internal/config"
	"recurring-orders/internal/database"
	"recurring-orders/internal/fulfillment"
	"recurring-orders/internal/notify"
	"recurring-orders/internal/orders"
	"recurring-orders/internal/payment"
	"recurring-orders/internal/queue"
	"recurring-orders/internal/renewal"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
	"recurring-orders/internal/worker"
)

const taskQueueKey = "renewal:tasks"

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Could not create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return store.NewGormStore(db), nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}

	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Payment provider
	var (
		gateway payment.Gateway
		linker  bot.CardLinker
		webhook http.Handler
	)
	switch cfg.PaymentProvider {
	case payment.ProviderStripe:
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey)
	default:
		yoo := payment.NewClient(cfg.YookassaShopID, cfg.YookassaKey)
		gateway, linker = yoo, yoo
	}
	gateway = payment.NewLimited(gateway, cfg.ChargesPerSecond)

	tasks := queue.NewRedisQueue(rdb, taskQueueKey, log)
	if n, err := tasks.Recover(ctx); err != nil {
		log.Error("failed to recover in-flight tasks", zap.Error(err))
	} else if n > 0 {
		log.Info("recovered in-flight tasks", zap.Int("count", n))
	}

	metrics := renewal.NewMetrics()
	policy := subscription.NewFailurePolicy(cfg.CancellationThreshold)
	ledger := renewal.NewLedger(st)
	svc := renewal.NewService(st, ledger, tasks, log)
	if linker != nil {
		webhook = payment.NewWebhookHandler(svc, log)
	}

	// Telegram bot and notifications
	var (
		tgBot    *bot.Bot
		notifier notify.Notifier = notify.NewLog(log)
	)
	if cfg.BotToken != "" {
		tgBot, err = bot.NewBot(cfg.BotToken, svc, linker, cfg.DefaultCurrency, cfg.YookassaReturnURL, log)
		if err != nil {
			return err
		}
		notifier = notify.NewTelegram(tgBot.Instance, rdb, cfg.AdminChatID, log)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN is empty, notifications go to the log")
	}

	processor := renewal.NewProcessor(st, ledger, orders.NewBuilder(st), gateway, notifier, policy, metrics, log)
	processor.ChargeTimeout = cfg.ChargeTimeout
	processor.EscalateAfter = cfg.StructuralEscalationAfter
	if cfg.FulfillmentURL != "" {
		processor.Fulfillment = fulfillment.NewClient(cfg.FulfillmentURL, cfg.FulfillmentAPIKey)
	}

	scheduler := renewal.NewScheduler(st, policy, tasks, metrics, log)
	watchdog := renewal.NewWatchdog(processor, cfg.ClaimTTL)
	checker := worker.NewChecker(st, scheduler, watchdog, notifier, cfg.CheckInterval, cfg.ReminderLeadTime, log)

	pool, err := queue.NewPool(ctx, cfg.WorkerPoolSize, cfg.WorkerQueueSize, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(svc, api.Options{
			AdminCIDRs:   cfg.AdminAllowedCIDRs,
			WebhookCIDRs: cfg.AllowedYooIp,
			Webhook:      webhook,
			Metrics:      metrics.Handler(),
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tasks.Run(gctx, pool, renewal.NewTaskHandler(processor, svc, log))
	})
	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if tgBot != nil {
		g.Go(func() error {
			return tgBot.Start(gctx)
		})
	}

	log.Info("service started",
		zap.String("store", cfg.Store), zap.String("payment_provider", cfg.PaymentProvider))
	return g.Wait()
}

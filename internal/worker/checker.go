package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"recurring-orders/internal/notify"
	"recurring-orders/internal/renewal"
	"recurring-orders/internal/store"
)

// Checker drives the periodic renewal pass: resume paused subscriptions,
// release stale claims, send reminders and dispatch due renewals.
type Checker struct {
	Store     store.Store
	Scheduler *renewal.Scheduler
	Watchdog  *renewal.Watchdog
	Notifier  notify.Notifier

	Interval time.Duration
	// ReminderLead is how long before the renewal date subscribers are reminded.
	ReminderLead time.Duration

	log *zap.Logger
	now func() time.Time
}

func NewChecker(s store.Store, sched *renewal.Scheduler, wd *renewal.Watchdog, n notify.Notifier, interval, reminderLead time.Duration, log *zap.Logger) *Checker {
	return &Checker{
		Store:        s,
		Scheduler:    sched,
		Watchdog:     wd,
		Notifier:     n,
		Interval:     interval,
		ReminderLead: reminderLead,
		log:          log,
		now:          time.Now,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	c.log.Info("background renewal worker started", zap.Duration("interval", c.Interval))

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("background renewal worker stopped")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes one pass. A failing step is logged and the rest still run.
func (c *Checker) RunOnce(ctx context.Context) {
	now := c.now()
	c.log.Debug("running renewal check cycle", zap.Time("now", now))

	// 1. Paused subscriptions whose resume date came
	if n, err := c.Scheduler.ResumeReady(ctx, now); err != nil {
		c.log.Error("resume pass failed", zap.Error(err))
	} else if n > 0 {
		c.log.Info("subscriptions resumed", zap.Int("count", n))
	}

	// 2. Claims held past the TTL
	if n, err := c.Watchdog.Reap(ctx, now); err != nil {
		c.log.Error("watchdog pass failed", zap.Error(err))
	} else if n > 0 {
		c.log.Warn("stale claims released", zap.Int("count", n))
	}

	// 3. Reminders for renewals around now + lead
	c.remind(ctx, now)

	// 4. Due renewals
	if n, err := c.Scheduler.Dispatch(ctx, now); err != nil {
		c.log.Error("dispatch pass failed", zap.Error(err))
	} else if n > 0 {
		c.log.Info("renewals dispatched", zap.Int("count", n))
	}
}

func (c *Checker) remind(ctx context.Context, now time.Time) {
	if c.ReminderLead <= 0 {
		return
	}
	// Renewing in [lead-1h, lead+1h]; the notifier drops repeats
	start := now.Add(c.ReminderLead - time.Hour)
	end := now.Add(c.ReminderLead + time.Hour)

	subs, err := c.Store.UpcomingRenewals(ctx, start, end)
	if err != nil {
		c.log.Error("error querying upcoming renewals", zap.Error(err))
		return
	}
	for i := range subs {
		sub := &subs[i]
		if sub.ActiveSkip() != nil {
			continue
		}
		if err := c.Notifier.NotifyUpcomingRenewal(ctx, sub); err != nil {
			c.log.Error("failed to send renewal reminder", zap.Uint("subscription_id", sub.ID), zap.Error(err))
		}
	}
}

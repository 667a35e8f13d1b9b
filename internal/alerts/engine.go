package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"readywatch/internal/db"
	"readywatch/internal/models"
	"readywatch/internal/notifier"
)

// BroadcastFunc receives every raised alert for live streaming.
type BroadcastFunc func(models.AlertEvent)

// Engine runs inline with the write path: it evaluates exactly the sample
// that was just appended, so its cost stays bounded regardless of history
// size. The sustained check is the only operation that re-reads history,
// and it reads at most the trend window.
type Engine struct {
	store  *db.Store
	notify *notifier.Webhook
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	inTrend   map[string]bool
	broadcast BroadcastFunc
}

func NewEngine(store *db.Store, notify *notifier.Webhook, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		notify:  notify,
		log:     logger,
		now:     time.Now,
		inTrend: map[string]bool{},
	}
}

func (e *Engine) SetBroadcast(fn BroadcastFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcast = fn
}

// HandleSample evaluates one freshly written sample against the thresholds
// the caller loaded for this tick. Raised events are persisted, notified
// and broadcast; evaluation failures are logged, never fatal.
func (e *Engine) HandleSample(ctx context.Context, sample models.Sample, th models.Thresholds) {
	if ev, ok := Evaluate(sample, th); ok {
		e.raise(ctx, ev)
	}

	if sample.ReadyPct < th.WarningPct {
		e.mu.Lock()
		delete(e.inTrend, sample.HostID)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	already := e.inTrend[sample.HostID]
	e.mu.Unlock()
	if already {
		return
	}
	window, err := e.store.LastN(ctx, sample.HostID, th.TrendWindow)
	if err != nil {
		e.log.Error("load trend window", "host", sample.HostID, "err", err)
		return
	}
	if ev, ok := Sustained(window, th); ok {
		e.mu.Lock()
		e.inTrend[sample.HostID] = true
		e.mu.Unlock()
		e.raise(ctx, ev)
	}
}

func (e *Engine) raise(ctx context.Context, ev models.AlertEvent) {
	alertID, err := e.store.InsertAlert(ctx, ev)
	if err != nil {
		e.log.Error("persist alert", "host", ev.HostID, "ts", ev.TS, "err", err)
		return
	}
	e.log.Warn("alert raised",
		"host", ev.HostID,
		"kind", ev.Kind,
		"severity", ev.Severity,
		"value", ev.Value,
		"threshold", ev.Threshold,
	)
	e.mu.Lock()
	broadcast := e.broadcast
	e.mu.Unlock()
	if broadcast != nil {
		broadcast(ev)
	}
	if e.notify.Enabled() {
		e.sendNotification(ctx, alertID, ev)
	}
}

func (e *Engine) sendNotification(ctx context.Context, alertID int64, ev models.AlertEvent) {
	attempts := 0
	var err error
	for attempts < 3 {
		attempts++
		err = e.notify.Send(ctx, ev)
		if err == nil {
			now := e.now().UTC()
			_ = e.store.InsertNotificationEvent(ctx, alertID, "webhook", "sent", attempts, "", &now)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempts) * 300 * time.Millisecond):
		}
	}
	_ = e.store.InsertNotificationEvent(ctx, alertID, "webhook", "failed", attempts, err.Error(), nil)
	e.log.Warn("notify failed", "host", ev.HostID, "err", err)
}

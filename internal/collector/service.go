package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"readywatch/internal/alerts"
	"readywatch/internal/db"
	"readywatch/internal/models"
	"readywatch/internal/source"
)

// ErrDegraded reports that collection paused after repeated fetch failures.
// The process keeps running; the collector retries with backoff.
var ErrDegraded = errors.New("collection degraded")

// BroadcastFunc receives each successfully appended batch for streaming.
type BroadcastFunc func([]models.Sample)

// Service drives the poll loop through an explicit lifecycle:
// Idle -> Connecting -> Polling -> Stopped, with Polling -> Idle after too
// many consecutive failures. Stop is cooperative and takes effect at the
// next tick boundary; an in-flight fetch may complete but its results are
// discarded once a stop was requested.
type Service struct {
	store       *db.Store
	src         source.Source
	engine      *alerts.Engine
	log         *slog.Logger
	interval    time.Duration
	maxFailures int
	backoff     time.Duration
	now         func() time.Time

	mu            sync.Mutex
	state         models.CollectorState
	failures      int
	degraded      bool
	lastErr       string
	lastPoll      time.Time
	collected     int64
	stopRequested bool
	nextRetryAt   time.Time
	broadcast     BroadcastFunc
}

func NewService(store *db.Store, src source.Source, engine *alerts.Engine, logger *slog.Logger,
	interval time.Duration, maxFailures int, backoff time.Duration) *Service {
	return &Service{
		store:       store,
		src:         src,
		engine:      engine,
		log:         logger,
		interval:    interval,
		maxFailures: maxFailures,
		backoff:     backoff,
		now:         time.Now,
		state:       models.StateIdle,
	}
}

func (s *Service) SetBroadcast(fn BroadcastFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = fn
}

// Run ticks until the context is cancelled. The first tick fires
// immediately so a fresh process starts collecting without waiting a full
// interval.
func (s *Service) Run(ctx context.Context) error {
	s.Tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.state = models.StateStopped
			s.mu.Unlock()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick advances the state machine by one step.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.stopRequested {
		s.stopRequested = false
		s.state = models.StateStopped
		s.mu.Unlock()
		s.log.Info("collection stopped")
		return
	}
	state := s.state
	retryAt := s.nextRetryAt
	s.mu.Unlock()

	switch state {
	case models.StateStopped:
		return
	case models.StateIdle:
		if s.now().Before(retryAt) {
			return
		}
		s.connect(ctx)
	case models.StateConnecting:
		s.connect(ctx)
	case models.StatePolling:
		s.poll(ctx)
	}
}

// Stop requests a cooperative stop, honored at the next tick boundary.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StateStopped {
		s.stopRequested = true
	}
}

// Start resumes a stopped collector; it reconnects on the next tick.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = false
	if s.state == models.StateStopped {
		s.state = models.StateIdle
		s.nextRetryAt = time.Time{}
	}
}

func (s *Service) connect(ctx context.Context) {
	s.mu.Lock()
	s.state = models.StateConnecting
	s.mu.Unlock()

	if err := s.src.Ping(ctx); err != nil {
		s.log.Warn("connect to metrics source", "err", err)
		s.mu.Lock()
		s.state = models.StateIdle
		s.lastErr = err.Error()
		s.nextRetryAt = s.now().Add(s.backoff)
		s.mu.Unlock()
		return
	}
	s.log.Info("metrics source connected")
	s.mu.Lock()
	s.state = models.StatePolling
	s.failures = 0
	s.mu.Unlock()
	s.poll(ctx)
}

func (s *Service) poll(ctx context.Context) {
	th, err := s.store.LoadThresholds(ctx)
	if err != nil {
		s.log.Error("load thresholds", "err", err)
	}

	// No store lock is held across this network call.
	readings, err := s.src.Fetch(ctx)
	now := s.now().UTC()
	if err != nil {
		s.onFetchFailure(now, err)
		return
	}

	s.mu.Lock()
	if s.stopRequested {
		// Stop won the race with the fetch; discard the results.
		s.mu.Unlock()
		return
	}
	s.failures = 0
	s.degraded = false
	s.lastErr = ""
	s.lastPoll = now
	broadcast := s.broadcast
	s.mu.Unlock()

	batch := make([]models.Sample, 0, len(readings))
	for _, r := range readings {
		if err := s.store.UpsertHost(ctx, models.Host{ID: r.HostID, DisplayName: r.DisplayName}); err != nil {
			s.log.Warn("upsert host", "host", r.HostID, "err", err)
		}
		sample := models.Sample{
			HostID:     r.HostID,
			TS:         now,
			ReadyPct:   r.Value,
			RawValue:   r.Raw,
			SourceUnit: r.Unit,
			Origin:     "realtime",
		}
		if err := s.store.AppendSample(ctx, sample); err != nil {
			var verr *db.ValidationError
			switch {
			case errors.As(err, &verr):
				s.log.Warn("sample rejected", "host", r.HostID, "ts", now, "reason", verr.Reason)
			case errors.Is(err, db.ErrStorageUnavailable):
				s.log.Error("sample write failed", "host", r.HostID, "ts", now, "err", err)
			default:
				s.log.Error("sample write failed", "host", r.HostID, "ts", now, "err", err)
			}
			continue
		}
		s.mu.Lock()
		s.collected++
		s.mu.Unlock()
		batch = append(batch, sample)
		s.engine.HandleSample(ctx, sample, th)
	}
	if broadcast != nil && len(batch) > 0 {
		broadcast(batch)
	}
}

func (s *Service) onFetchFailure(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErr = err.Error()
	s.log.Warn("fetch failed", "attempt", s.failures, "max", s.maxFailures, "err", err)
	if s.failures >= s.maxFailures {
		s.degraded = true
		s.state = models.StateIdle
		s.nextRetryAt = now.Add(s.backoff)
		s.log.Error("collection degraded, pausing",
			"consecutive_failures", s.failures,
			"retry_at", s.nextRetryAt,
		)
	}
}

// Err surfaces the degraded condition to callers; nil while healthy.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return fmt.Errorf("%w after %d consecutive failures: %s", ErrDegraded, s.failures, s.lastErr)
	}
	return nil
}

func (s *Service) Status() models.CollectorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CollectorStatus{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		Degraded:            s.degraded,
		LastError:           s.lastErr,
		LastPollAt:          s.lastPoll,
		SamplesCollected:    s.collected,
	}
}

package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"readywatch/internal/alerts"
	"readywatch/internal/db"
	"readywatch/internal/models"
	"readywatch/internal/notifier"
	"readywatch/internal/source"
)

type fakeSource struct {
	pingErr   error
	pingCalls int
	fetch     func(ctx context.Context) ([]source.Reading, error)
	fetchN    int
}

func (f *fakeSource) Ping(context.Context) error {
	f.pingCalls++
	return f.pingErr
}

func (f *fakeSource) Fetch(ctx context.Context) ([]source.Reading, error) {
	f.fetchN++
	return f.fetch(ctx)
}

func newTestService(t *testing.T, maxFailures int) (*Service, *db.Store, *fakeSource) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	defaults := models.Thresholds{WarningPct: 5, CriticalPct: 15, TrendWindow: 3}
	store := db.NewStore(sqldb, 2*time.Second, 5*time.Second, defaults)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := alerts.NewEngine(store, notifier.NewWebhook(""), logger)
	src := &fakeSource{fetch: func(context.Context) ([]source.Reading, error) {
		return nil, errors.New("no script")
	}}
	svc := NewService(store, src, engine, logger, 20*time.Second, maxFailures, time.Minute)
	return svc, store, src
}

func reading(host string, pct float64) source.Reading {
	return source.Reading{HostID: host, DisplayName: host, Value: pct, Raw: pct * 100, Unit: models.UnitCentiPct}
}

func TestCollectorConnectsAndCollects(t *testing.T) {
	svc, store, src := newTestService(t, 5)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.fetch = func(context.Context) ([]source.Reading, error) {
		return []source.Reading{reading("esx01", 3), reading("esx02", 7)}, nil
	}
	var batches [][]models.Sample
	svc.SetBroadcast(func(b []models.Sample) { batches = append(batches, b) })

	svc.Tick(context.Background())

	st := svc.Status()
	if st.State != models.StatePolling {
		t.Fatalf("state = %s, want polling", st.State)
	}
	if st.SamplesCollected != 2 {
		t.Fatalf("collected = %d, want 2", st.SamplesCollected)
	}
	got, err := store.QuerySamples(context.Background(), "esx02", clk.Add(-time.Minute), clk.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ReadyPct != 7 {
		t.Fatalf("stored samples = %+v", got)
	}
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("broadcast batches = %+v", batches)
	}
}

func TestCollectorDegradesAfterConsecutiveFailures(t *testing.T) {
	svc, _, src := newTestService(t, 3)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.fetch = func(context.Context) ([]source.Reading, error) {
		return nil, errors.New("vcenter timeout")
	}

	ctx := context.Background()
	svc.Tick(ctx) // connect + first failed poll
	svc.Tick(ctx)
	if st := svc.Status(); st.Degraded || st.ConsecutiveFailures != 2 {
		t.Fatalf("after 2 failures: %+v", st)
	}
	if err := svc.Err(); err != nil {
		t.Fatalf("err before limit = %v", err)
	}

	svc.Tick(ctx)
	st := svc.Status()
	if !st.Degraded || st.State != models.StateIdle || st.ConsecutiveFailures != 3 {
		t.Fatalf("after 3 failures: %+v", st)
	}
	if !errors.Is(svc.Err(), ErrDegraded) {
		t.Fatalf("err = %v, want ErrDegraded", svc.Err())
	}

	// Idle before the backoff elapses: no reconnect attempt.
	pings := src.pingCalls
	svc.Tick(ctx)
	if src.pingCalls != pings {
		t.Fatal("reconnected before backoff elapsed")
	}
}

func TestCollectorRecoversAfterBackoff(t *testing.T) {
	svc, store, src := newTestService(t, 2)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.fetch = func(context.Context) ([]source.Reading, error) {
		return nil, errors.New("vcenter timeout")
	}

	ctx := context.Background()
	svc.Tick(ctx)
	svc.Tick(ctx)
	if !svc.Status().Degraded {
		t.Fatal("expected degraded collector")
	}

	clk = clk.Add(2 * time.Minute)
	src.fetch = func(context.Context) ([]source.Reading, error) {
		return []source.Reading{reading("esx01", 4)}, nil
	}
	svc.Tick(ctx)

	st := svc.Status()
	if st.Degraded || st.State != models.StatePolling || st.ConsecutiveFailures != 0 {
		t.Fatalf("after recovery: %+v", st)
	}
	if svc.Err() != nil {
		t.Fatalf("err after recovery = %v", svc.Err())
	}
	got, err := store.QuerySamples(ctx, "esx01", clk.Add(-time.Minute), clk.Add(time.Minute))
	if err != nil || len(got) != 1 {
		t.Fatalf("samples after recovery = %+v, err=%v", got, err)
	}
}

func TestCollectorStopsAtTickBoundary(t *testing.T) {
	svc, _, src := newTestService(t, 5)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.fetch = func(context.Context) ([]source.Reading, error) {
		return []source.Reading{reading("esx01", 3)}, nil
	}

	ctx := context.Background()
	svc.Tick(ctx)
	svc.Stop()
	// Stop is honored at the next boundary, not immediately.
	if st := svc.Status(); st.State != models.StatePolling {
		t.Fatalf("state right after Stop = %s", st.State)
	}

	svc.Tick(ctx)
	if st := svc.Status(); st.State != models.StateStopped {
		t.Fatalf("state after stop tick = %s", st.State)
	}
	fetches := src.fetchN
	svc.Tick(ctx)
	if src.fetchN != fetches {
		t.Fatal("stopped collector kept fetching")
	}

	clk = clk.Add(time.Minute)
	svc.Start()
	svc.Tick(ctx)
	if st := svc.Status(); st.State != models.StatePolling {
		t.Fatalf("state after restart = %s", st.State)
	}
}

func TestCollectorDiscardsFetchWhenStopRaces(t *testing.T) {
	svc, store, src := newTestService(t, 5)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.fetch = func(context.Context) ([]source.Reading, error) {
		// Stop arrives while the fetch is in flight.
		svc.Stop()
		return []source.Reading{reading("esx01", 3)}, nil
	}

	ctx := context.Background()
	svc.Tick(ctx)

	if st := svc.Status(); st.SamplesCollected != 0 {
		t.Fatalf("collected = %d, want 0", st.SamplesCollected)
	}
	got, err := store.QuerySamples(ctx, "esx01", clk.Add(-time.Minute), clk.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("discarded fetch was persisted: %+v", got)
	}
	svc.Tick(ctx)
	if st := svc.Status(); st.State != models.StateStopped {
		t.Fatalf("state after raced stop = %s", st.State)
	}
}

func TestCollectorBacksOffWhenPingFails(t *testing.T) {
	svc, _, src := newTestService(t, 5)
	clk := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clk }
	src.pingErr = errors.New("connection refused")

	ctx := context.Background()
	svc.Tick(ctx)
	if st := svc.Status(); st.State != models.StateIdle || st.LastError == "" {
		t.Fatalf("after failed ping: %+v", st)
	}
	if src.fetchN != 0 {
		t.Fatal("fetched without a successful ping")
	}

	svc.Tick(ctx)
	if src.pingCalls != 1 {
		t.Fatalf("ping calls = %d, want 1 until backoff elapses", src.pingCalls)
	}

	clk = clk.Add(2 * time.Minute)
	src.pingErr = nil
	src.fetch = func(context.Context) ([]source.Reading, error) { return nil, nil }
	svc.Tick(ctx)
	if st := svc.Status(); st.State != models.StatePolling {
		t.Fatalf("state after ping recovery = %s", st.State)
	}
}

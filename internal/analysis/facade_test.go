package analysis

import (
	"context"
	"math"
	"testing"
	"time"

	"readywatch/internal/config"
	"readywatch/internal/db"
	"readywatch/internal/models"
)

var testBase = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func newTestFacade(t *testing.T) (*Facade, *db.Store) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	defaults := models.Thresholds{WarningPct: 5, CriticalPct: 15, TrendWindow: 5}
	store := db.NewStore(sqldb, 2*time.Second, 5*time.Second, defaults)
	return New(store, config.DefaultHealthPolicy()), store
}

func seed(t *testing.T, store *db.Store, host string, values ...float64) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertHost(ctx, models.Host{ID: host, DisplayName: host}); err != nil {
		t.Fatalf("upsert %s: %v", host, err)
	}
	for i, v := range values {
		s := models.Sample{HostID: host, TS: testBase.Add(time.Duration(i) * 20 * time.Second), ReadyPct: v, Origin: "realtime"}
		if err := store.AppendSample(ctx, s); err != nil {
			t.Fatalf("append %s[%d]: %v", host, i, err)
		}
	}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHostStatsAggregates(t *testing.T) {
	facade, store := newTestFacade(t)
	seed(t, store, "esx01", 2, 4, 6)

	stats, err := facade.HostStats(context.Background(), "esx01", testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 3 || !almost(stats.Average, 4) || stats.Max != 6 || stats.Min != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	// Sample standard deviation of {2, 4, 6}.
	if !almost(stats.StdDev, 2) {
		t.Fatalf("stddev = %v, want 2", stats.StdDev)
	}
	// avg 4 against warning 5: baseline penalty 4/5 * 10 = 8.
	if !almost(stats.HealthScore, 92) {
		t.Fatalf("health score = %v, want 92", stats.HealthScore)
	}
}

func TestHostStatsEmptyRangeIsNotAnError(t *testing.T) {
	facade, _ := newTestFacade(t)
	stats, err := facade.HostStats(context.Background(), "missing", testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 0 || stats.Average != 0 || stats.Max != 0 || stats.Min != 0 {
		t.Fatalf("empty stats = %+v", stats)
	}
}

func TestHealthScorePenalties(t *testing.T) {
	th := models.Thresholds{WarningPct: 5, CriticalPct: 15}
	p := config.DefaultHealthPolicy()

	cases := []struct {
		name             string
		avg, max, stddev float64
		want             float64
	}{
		{"idle host", 0, 0, 0, 100},
		{"light load", 2, 4, 1, 96},
		{"warning average", 6, 10, 1, 75},
		{"critical average with spike", 16, 16, 1, 35},
		{"severe spike and volatile", 16, 31, 6, 5},
	}
	for _, tc := range cases {
		if got := HealthScore(tc.avg, tc.max, tc.stddev, th, p); !almost(got, tc.want) {
			t.Fatalf("%s: score = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHealthScoreClampsAtZero(t *testing.T) {
	th := models.Thresholds{WarningPct: 5, CriticalPct: 15}
	p := config.HealthPolicy{AvgCriticalPenalty: 80, SpikeSeverePenalty: 40, VolatilityPenalty: 15}
	if got := HealthScore(20, 40, 10, th, p); got != 0 {
		t.Fatalf("score = %v, want clamp to 0", got)
	}
}

func TestSeriesBucketsAndSkipsGaps(t *testing.T) {
	facade, store := newTestFacade(t)
	ctx := context.Background()
	points := []struct {
		offset time.Duration
		value  float64
	}{
		{0, 2},
		{20 * time.Second, 4},
		{time.Minute, 6},
		{5 * time.Minute, 8}, // gap: minutes 2-4 stay empty
	}
	for _, p := range points {
		s := models.Sample{HostID: "esx01", TS: testBase.Add(p.offset), ReadyPct: p.value, Origin: "realtime"}
		if err := store.AppendSample(ctx, s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := facade.Series(ctx, "esx01", testBase, testBase.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	want := []models.SeriesPoint{
		{TS: testBase, Value: 3, Count: 2},
		{TS: testBase.Add(time.Minute), Value: 6, Count: 1},
		{TS: testBase.Add(5 * time.Minute), Value: 8, Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].TS.Equal(want[i].TS) || !almost(got[i].Value, want[i].Value) || got[i].Count != want[i].Count {
			t.Fatalf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSeriesRejectsNonPositiveBucket(t *testing.T) {
	facade, _ := newTestFacade(t)
	if _, err := facade.Series(context.Background(), "esx01", testBase, testBase.Add(time.Hour), 0); err == nil {
		t.Fatal("expected error for zero bucket")
	}
}

func TestMovingAverageTrailingWindow(t *testing.T) {
	facade, store := newTestFacade(t)
	seed(t, store, "esx01", 2, 4, 6)

	got, err := facade.MovingAverage(context.Background(), "esx01", testBase, testBase.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("moving average: %v", err)
	}
	want := []float64{2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d", len(got), len(want))
	}
	for i, w := range want {
		if !almost(got[i].Value, w) {
			t.Fatalf("point %d = %v, want %v", i, got[i].Value, w)
		}
	}
}

func TestRecommendLadder(t *testing.T) {
	th := models.Thresholds{WarningPct: 5, CriticalPct: 15}
	cases := []struct {
		stats      models.HostStats
		status     string
		wantAdvice string
	}{
		{models.HostStats{Count: 0}, "unknown", "No samples in range"},
		{models.HostStats{Count: 10, Average: 16}, "critical", "Immediate attention needed"},
		{models.HostStats{Count: 10, Average: 7}, "warning", "Monitor and investigate"},
		{models.HostStats{Count: 10, Average: 1}, "excellent", "Strong consolidation candidate"},
		{models.HostStats{Count: 10, Average: 3}, "good", "Performing well"},
	}
	for _, tc := range cases {
		status, advice := Recommend(tc.stats, th)
		if status != tc.status || advice != tc.wantAdvice {
			t.Fatalf("Recommend(avg=%.1f) = %q/%q, want %q/%q",
				tc.stats.Average, status, advice, tc.status, tc.wantAdvice)
		}
	}
}

func TestOverviewRanksByHealth(t *testing.T) {
	facade, store := newTestFacade(t)
	seed(t, store, "busy", 16, 17, 18)
	seed(t, store, "quiet", 1, 1, 1)
	seed(t, store, "mid", 6, 7, 6)

	got, err := facade.Overview(context.Background(), testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d reports, want 3", len(got))
	}
	wantOrder := []string{"quiet", "mid", "busy"}
	for i, host := range wantOrder {
		if got[i].Stats.HostID != host {
			t.Fatalf("rank %d = %s, want %s", i+1, got[i].Stats.HostID, host)
		}
		if got[i].Rank != i+1 {
			t.Fatalf("rank field = %d, want %d", got[i].Rank, i+1)
		}
	}
	if got[2].Status != "critical" || got[0].Status != "excellent" {
		t.Fatalf("statuses = %s/%s", got[0].Status, got[2].Status)
	}
}

func TestAnalyzeRemovalGradesRisk(t *testing.T) {
	facade, store := newTestFacade(t)
	// Workload shares: a=8%, b=16%, c=76%.
	seed(t, store, "a", 4, 4)
	seed(t, store, "b", 8, 8)
	seed(t, store, "c", 38, 38)
	ctx := context.Background()
	from, to := testBase, testBase.Add(time.Hour)

	low, err := facade.AnalyzeRemoval(ctx, []string{"a"}, from, to)
	if err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if !almost(low.WorkloadPct, 8) || low.Risk != "low" || low.RemainingHosts != 2 {
		t.Fatalf("impact = %+v", low)
	}
	if !almost(low.AddedPerHostPct, 4) {
		t.Fatalf("added per host = %v, want 4", low.AddedPerHostPct)
	}

	mod, err := facade.AnalyzeRemoval(ctx, []string{"b"}, from, to)
	if err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if mod.Risk != "moderate" {
		t.Fatalf("risk = %s, want moderate (workload %.1f%%)", mod.Risk, mod.WorkloadPct)
	}

	high, err := facade.AnalyzeRemoval(ctx, []string{"c"}, from, to)
	if err != nil {
		t.Fatalf("remove c: %v", err)
	}
	if high.Risk != "high" || !almost(high.InfraReductionPct, 100.0/3) {
		t.Fatalf("impact = %+v", high)
	}
}

func TestAnalyzeRemovalRejectsBadSelections(t *testing.T) {
	facade, store := newTestFacade(t)
	seed(t, store, "a", 5)
	seed(t, store, "b", 5)
	ctx := context.Background()
	from, to := testBase, testBase.Add(time.Hour)

	if _, err := facade.AnalyzeRemoval(ctx, nil, from, to); err == nil {
		t.Fatal("expected error for empty selection")
	}
	if _, err := facade.AnalyzeRemoval(ctx, []string{"a", "b"}, from, to); err == nil {
		t.Fatal("expected error when removing every host")
	}
	// A range with no samples has no workload to redistribute.
	if _, err := facade.AnalyzeRemoval(ctx, []string{"a"}, to.Add(time.Hour), to.Add(2*time.Hour)); err == nil {
		t.Fatal("expected error for empty range")
	}
}

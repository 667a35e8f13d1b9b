package alerts

import (
	"testing"
	"time"

	"readywatch/internal/models"
)

var testThresholds = models.Thresholds{WarningPct: 5, CriticalPct: 15, TrendWindow: 3}

func testSample(host string, pct float64) models.Sample {
	return models.Sample{
		HostID:   host,
		TS:       time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		ReadyPct: pct,
	}
}

func TestEvaluateSeverityLadder(t *testing.T) {
	cases := []struct {
		value    float64
		want     models.Severity
		breached bool
	}{
		{2, "", false},
		{4.99, "", false},
		{5, models.SeverityWarning, true},
		{7, models.SeverityWarning, true},
		{14.99, models.SeverityWarning, true},
		{15, models.SeverityCritical, true},
		{42, models.SeverityCritical, true},
	}
	for _, tc := range cases {
		ev, ok := Evaluate(testSample("esx01", tc.value), testThresholds)
		if ok != tc.breached {
			t.Fatalf("Evaluate(%.2f) breached = %v, want %v", tc.value, ok, tc.breached)
		}
		if !ok {
			continue
		}
		if ev.Severity != tc.want {
			t.Fatalf("Evaluate(%.2f) severity = %s, want %s", tc.value, ev.Severity, tc.want)
		}
		if ev.Kind != "threshold_breach" {
			t.Fatalf("Evaluate(%.2f) kind = %s", tc.value, ev.Kind)
		}
	}
}

func TestEvaluateThresholdCarriedOnEvent(t *testing.T) {
	ev, ok := Evaluate(testSample("esx01", 15), testThresholds)
	if !ok || ev.Threshold != 15 {
		t.Fatalf("critical event = %+v, ok=%v", ev, ok)
	}
	ev, ok = Evaluate(testSample("esx01", 7), testThresholds)
	if !ok || ev.Threshold != 5 {
		t.Fatalf("warning event = %+v, ok=%v", ev, ok)
	}
}

func TestSustainedRequiresFullWindow(t *testing.T) {
	window := []models.Sample{testSample("esx01", 6), testSample("esx01", 7)}
	if _, ok := Sustained(window, testThresholds); ok {
		t.Fatal("short window must not count as a trend")
	}
}

func TestSustainedFiresWhenAllAboveWarning(t *testing.T) {
	window := []models.Sample{
		testSample("esx01", 6),
		testSample("esx01", 8),
		testSample("esx01", 7),
	}
	ev, ok := Sustained(window, testThresholds)
	if !ok {
		t.Fatal("expected trend event")
	}
	if ev.Kind != "sustained_trend" || ev.Severity != models.SeverityWarning {
		t.Fatalf("trend event = %+v", ev)
	}
	if ev.Value != 7 {
		t.Fatalf("trend average = %.2f, want 7", ev.Value)
	}
}

func TestSustainedBreaksOnSingleDip(t *testing.T) {
	window := []models.Sample{
		testSample("esx01", 6),
		testSample("esx01", 2),
		testSample("esx01", 8),
	}
	if _, ok := Sustained(window, testThresholds); ok {
		t.Fatal("a dip below warning must break the trend")
	}
}

func TestSustainedEscalatesToCritical(t *testing.T) {
	window := []models.Sample{
		testSample("esx01", 16),
		testSample("esx01", 18),
		testSample("esx01", 20),
	}
	ev, ok := Sustained(window, testThresholds)
	if !ok || ev.Severity != models.SeverityCritical {
		t.Fatalf("trend event = %+v, ok=%v", ev, ok)
	}
}

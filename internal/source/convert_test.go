package source

import (
	"math"
	"testing"

	"readywatch/internal/models"
)

func TestToPercentPerUnit(t *testing.T) {
	p := ConversionPolicy{IntervalSeconds: 20}
	cases := []struct {
		unit  models.Unit
		value float64
		want  float64
	}{
		// 20s interval: 200000us and 20000ms are a full interval.
		{models.UnitMicrosecond, 10000, 5},
		{models.UnitMicrosecond, 200000, 100},
		{models.UnitMillisecond, 1000, 5},
		{models.UnitMillisecond, 3000, 15},
		{models.UnitCentiPct, 750, 7.5},
		{models.UnitPermille, 55, 5.5},
		{models.UnitPercent, 12.5, 12.5},
	}
	for _, tc := range cases {
		got := p.ToPercent(tc.value, tc.unit)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ToPercent(%v, %s) = %v, want %v", tc.value, tc.unit, got, tc.want)
		}
	}
}

func TestToPercentCapsAndFloors(t *testing.T) {
	p := ConversionPolicy{IntervalSeconds: 20}
	// A busy scheduler can report more ready time than the interval holds.
	if got := p.ToPercent(25000, models.UnitMillisecond); got != 100 {
		t.Fatalf("over-full interval = %v, want cap at 100", got)
	}
	if got := p.ToPercent(-5, models.UnitPercent); got != 0 {
		t.Fatalf("negative value = %v, want floor at 0", got)
	}
}

func TestToPercentDefaultsInterval(t *testing.T) {
	// Zero interval falls back to the 20s realtime interval.
	p := ConversionPolicy{}
	if got := p.ToPercent(1000, models.UnitMillisecond); got != 5 {
		t.Fatalf("default interval conversion = %v, want 5", got)
	}
}

func TestDetectUnitByMagnitude(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   models.Unit
	}{
		{"empty", nil, models.UnitPercent},
		{"percent range", []float64{2, 5, 8}, models.UnitPercent},
		{"permille range", []float64{40, 60, 80}, models.UnitPermille},
		{"centipercent range", []float64{500, 700}, models.UnitCentiPct},
		{"millisecond sums", []float64{1500, 2500}, models.UnitMillisecond},
		{"microsecond sums", []float64{150000, 250000}, models.UnitMicrosecond},
	}
	for _, tc := range cases {
		if got := DetectUnit(tc.values); got != tc.want {
			t.Fatalf("%s: DetectUnit = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDetectUnitSamplesOnlyLeadingValues(t *testing.T) {
	// One late outlier must not flip the detection for the whole batch.
	values := make([]float64, 0, 12)
	for i := 0; i < 11; i++ {
		values = append(values, 3)
	}
	values = append(values, 500000)
	if got := DetectUnit(values); got != models.UnitPercent {
		t.Fatalf("DetectUnit = %s, want percent", got)
	}
}

func TestCanonicalHostID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"esx01", "esx01"},
		{"esx01.corp.local", "esx01"},
		{"  esx02.dc1.example.com ", "esx02"},
		{"10.0.1.20", "10.0.1.20"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := CanonicalHostID(tc.in); got != tc.want {
			t.Fatalf("CanonicalHostID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

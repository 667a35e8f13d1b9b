package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"readywatch/internal/config"
	"readywatch/internal/db"
	"readywatch/internal/models"
)

// Facade exposes read-only aggregate views over the sample store. Nothing
// here mutates samples, so it is safe to call concurrently with the
// collector's writes.
type Facade struct {
	store  *db.Store
	policy config.HealthPolicy
}

func New(store *db.Store, policy config.HealthPolicy) *Facade {
	return &Facade{store: store, policy: policy}
}

// HostStats aggregates one host's samples in [from, to]. An empty range is
// not an error: Count is 0 and every aggregate stays zero.
func (f *Facade) HostStats(ctx context.Context, hostID string, from, to time.Time) (models.HostStats, error) {
	stats := models.HostStats{HostID: hostID, Min: math.MaxFloat64}
	var sum, sumSq float64
	for s, err := range f.store.SampleSeq(ctx, hostID, from, to) {
		if err != nil {
			return models.HostStats{HostID: hostID}, err
		}
		stats.Count++
		sum += s.ReadyPct
		sumSq += s.ReadyPct * s.ReadyPct
		if s.ReadyPct > stats.Max {
			stats.Max = s.ReadyPct
		}
		if s.ReadyPct < stats.Min {
			stats.Min = s.ReadyPct
		}
	}
	if stats.Count == 0 {
		return models.HostStats{HostID: hostID}, nil
	}
	n := float64(stats.Count)
	stats.Average = sum / n
	if stats.Count > 1 {
		variance := (sumSq - sum*sum/n) / (n - 1)
		if variance > 0 {
			stats.StdDev = math.Sqrt(variance)
		}
	}
	th, err := f.store.LoadThresholds(ctx)
	if err != nil {
		return stats, err
	}
	stats.HealthScore = HealthScore(stats.Average, stats.Max, stats.StdDev, th, f.policy)
	return stats, nil
}

// HealthScore is the 0-100 composite: a perfect host scores 100, and
// penalties accumulate for contention level, spikes and volatility. The
// weights are operator policy.
func HealthScore(avg, max, stddev float64, th models.Thresholds, p config.HealthPolicy) float64 {
	score := 100.0
	switch {
	case avg >= th.CriticalPct:
		score -= p.AvgCriticalPenalty
	case avg >= th.WarningPct:
		score -= p.AvgWarningPenalty
	default:
		score -= (avg / th.WarningPct) * p.AvgBaselineWeight
	}
	switch {
	case max >= th.CriticalPct*2:
		score -= p.SpikeSeverePenalty
	case max >= th.CriticalPct:
		score -= p.SpikePenalty
	}
	if stddev > th.WarningPct {
		score -= p.VolatilityPenalty
	}
	return math.Max(0, math.Min(100, score))
}

// Series downsamples a host's samples into fixed-width buckets, averaging
// within each bucket. Buckets are aligned to the epoch and emitted in
// ascending order; empty buckets are skipped.
func (f *Facade) Series(ctx context.Context, hostID string, from, to time.Time, bucket time.Duration) ([]models.SeriesPoint, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket must be positive, got %s", bucket)
	}
	var out []models.SeriesPoint
	var cur time.Time
	var sum float64
	var count int
	flush := func() {
		if count > 0 {
			out = append(out, models.SeriesPoint{TS: cur, Value: sum / float64(count), Count: count})
		}
		sum, count = 0, 0
	}
	for s, err := range f.store.SampleSeq(ctx, hostID, from, to) {
		if err != nil {
			return nil, err
		}
		b := s.TS.Truncate(bucket)
		if count > 0 && !b.Equal(cur) {
			flush()
		}
		cur = b
		sum += s.ReadyPct
		count++
	}
	flush()
	return out, nil
}

// MovingAverage smooths a host's series with a trailing window of the given
// number of samples.
func (f *Facade) MovingAverage(ctx context.Context, hostID string, from, to time.Time, window int) ([]models.SeriesPoint, error) {
	if window < 1 {
		return nil, fmt.Errorf("window must be at least 1, got %d", window)
	}
	var out []models.SeriesPoint
	ring := make([]float64, 0, window)
	var sum float64
	for s, err := range f.store.SampleSeq(ctx, hostID, from, to) {
		if err != nil {
			return nil, err
		}
		ring = append(ring, s.ReadyPct)
		sum += s.ReadyPct
		if len(ring) > window {
			sum -= ring[0]
			ring = ring[1:]
		}
		out = append(out, models.SeriesPoint{TS: s.TS, Value: sum / float64(len(ring)), Count: len(ring)})
	}
	return out, nil
}

// HostReport is one row of the fleet overview, ranked by health.
type HostReport struct {
	Rank           int              `json:"rank"`
	Stats          models.HostStats `json:"stats"`
	Status         string           `json:"status"`
	Recommendation string           `json:"recommendation"`
}

// Overview computes ranked per-host statistics across the fleet with the
// rule-based consolidation advice attached.
func (f *Facade) Overview(ctx context.Context, from, to time.Time) ([]HostReport, error) {
	hosts, err := f.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	th, err := f.store.LoadThresholds(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HostReport, 0, len(hosts))
	for _, h := range hosts {
		stats, err := f.HostStats(ctx, h.ID, from, to)
		if err != nil {
			return nil, err
		}
		status, rec := Recommend(stats, th)
		out = append(out, HostReport{Stats: stats, Status: status, Recommendation: rec})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Stats.HealthScore > out[j].Stats.HealthScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// Recommend maps a host's aggregates onto the consolidation advice ladder.
// It is a pure scoring policy, not a learned model.
func Recommend(stats models.HostStats, th models.Thresholds) (status, recommendation string) {
	switch {
	case stats.Count == 0:
		return "unknown", "No samples in range"
	case stats.Average >= th.CriticalPct:
		return "critical", "Immediate attention needed"
	case stats.Average >= th.WarningPct:
		return "warning", "Monitor and investigate"
	case stats.Average < 2:
		return "excellent", "Strong consolidation candidate"
	default:
		return "good", "Performing well"
	}
}

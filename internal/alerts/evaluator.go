package alerts

import (
	"fmt"
	"math"

	"readywatch/internal/models"
)

// Evaluate is a pure function of one sample against the current thresholds.
// A value at or above critical is critical; at or above warning but below
// critical is warning; anything else raises nothing.
func Evaluate(sample models.Sample, th models.Thresholds) (models.AlertEvent, bool) {
	v := sample.ReadyPct
	if math.IsNaN(v) {
		return models.AlertEvent{}, false
	}
	switch {
	case v >= th.CriticalPct:
		return breach(sample, models.SeverityCritical, th.CriticalPct), true
	case v >= th.WarningPct:
		return breach(sample, models.SeverityWarning, th.WarningPct), true
	default:
		return models.AlertEvent{}, false
	}
}

func breach(sample models.Sample, sev models.Severity, threshold float64) models.AlertEvent {
	label := "Warning"
	if sev == models.SeverityCritical {
		label = "Critical"
	}
	return models.AlertEvent{
		HostID:    sample.HostID,
		TS:        sample.TS,
		Kind:      "threshold_breach",
		Severity:  sev,
		Value:     sample.ReadyPct,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s: %s CPU Ready at %.2f%%", label, sample.HostID, sample.ReadyPct),
	}
}

// Sustained reports whether a full window of consecutive samples all sit at
// or above the warning threshold. The window must be complete; a short
// history never counts as a trend.
func Sustained(window []models.Sample, th models.Thresholds) (models.AlertEvent, bool) {
	if th.TrendWindow < 1 || len(window) < th.TrendWindow {
		return models.AlertEvent{}, false
	}
	window = window[len(window)-th.TrendWindow:]
	sum := 0.0
	minV := math.MaxFloat64
	for _, s := range window {
		if s.ReadyPct < th.WarningPct {
			return models.AlertEvent{}, false
		}
		if s.ReadyPct < minV {
			minV = s.ReadyPct
		}
		sum += s.ReadyPct
	}
	last := window[len(window)-1]
	sev := models.SeverityWarning
	threshold := th.WarningPct
	if minV >= th.CriticalPct {
		sev = models.SeverityCritical
		threshold = th.CriticalPct
	}
	return models.AlertEvent{
		HostID:    last.HostID,
		TS:        last.TS,
		Kind:      "sustained_trend",
		Severity:  sev,
		Value:     sum / float64(len(window)),
		Threshold: threshold,
		Message: fmt.Sprintf("Sustained: %s CPU Ready averaged %.2f%% over last %d samples",
			last.HostID, sum/float64(len(window)), th.TrendWindow),
	}, true
}

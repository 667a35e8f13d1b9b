package source

import (
	"regexp"
	"strings"

	"readywatch/internal/models"
)

// ConversionPolicy turns raw CPU Ready counter values into percentages.
// vCenter exports the counter differently per collection level: summation
// milliseconds for historical intervals, centipercent for the realtime
// readiness counter. The interval length is policy input, not a constant.
type ConversionPolicy struct {
	IntervalSeconds int
}

// ToPercent converts one raw value of a known unit. Results are capped at
// 100; a busy scheduler can report sums slightly above a full interval.
func (p ConversionPolicy) ToPercent(value float64, unit models.Unit) float64 {
	interval := p.IntervalSeconds
	if interval <= 0 {
		interval = 20
	}
	var pct float64
	switch unit {
	case models.UnitMicrosecond:
		pct = value / float64(interval*10000) * 100
	case models.UnitMillisecond:
		pct = value / float64(interval*1000) * 100
	case models.UnitCentiPct:
		pct = value / 100
	case models.UnitPermille:
		pct = value / 10
	default:
		pct = value
	}
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// DetectUnit guesses the unit of a batch from its magnitude, the heuristic
// used for files exported without unit metadata.
func DetectUnit(values []float64) models.Unit {
	if len(values) == 0 {
		return models.UnitPercent
	}
	n := len(values)
	if n > 10 {
		n = 10
	}
	sum := 0.0
	for _, v := range values[:n] {
		sum += v
	}
	avg := sum / float64(n)
	switch {
	case avg > 10000:
		return models.UnitMicrosecond
	case avg > 1000:
		return models.UnitMillisecond
	case avg > 100:
		return models.UnitCentiPct
	case avg > 10:
		return models.UnitPermille
	default:
		return models.UnitPercent
	}
}

var dottedQuad = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

// CanonicalHostID keeps IP addresses whole and truncates DNS names at the
// first dot, so "esx01.corp.local" and "esx01" map to the same host.
func CanonicalHostID(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if dottedQuad.MatchString(name) {
		return name
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

package models

import "time"

// Unit describes how a raw CPU Ready counter value is expressed.
type Unit string

const (
	UnitPercent     Unit = "percent"
	UnitCentiPct    Unit = "centipercent"
	UnitPermille    Unit = "permille"
	UnitMillisecond Unit = "ms-sum"
	UnitMicrosecond Unit = "us-sum"
	UnitUnknown     Unit = "unknown"
)

// Sample is one CPU Ready observation for a host. Samples are immutable
// once written; only retention may remove them.
type Sample struct {
	HostID     string    `json:"host_id"`
	TS         time.Time `json:"ts"`
	ReadyPct   float64   `json:"ready_pct"`
	RawValue   float64   `json:"raw_value"`
	SourceUnit Unit      `json:"source_unit"`
	Origin     string    `json:"origin"` // "realtime" or "import"
}

type Host struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Thresholds is the operator-configurable alerting policy. It is loaded
// from settings on every evaluation, never cached at collector start.
type Thresholds struct {
	WarningPct  float64 `json:"warning_pct"`
	CriticalPct float64 `json:"critical_pct"`
	// TrendWindow is the number of consecutive samples at or above
	// warning that constitutes a sustained condition.
	TrendWindow int `json:"trend_window"`
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertEvent is raised when a freshly written sample breaches a threshold.
type AlertEvent struct {
	HostID    string    `json:"host_id"`
	TS        time.Time `json:"ts"`
	Kind      string    `json:"kind"` // "threshold_breach" or "sustained_trend"
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
}

// Alert is a persisted AlertEvent with operator workflow flags.
type Alert struct {
	ID           int64     `json:"id"`
	HostID       string    `json:"host_id"`
	TS           time.Time `json:"ts"`
	Kind         string    `json:"kind"`
	Severity     Severity  `json:"severity"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	Message      string    `json:"message"`
	Acknowledged bool      `json:"acknowledged"`
	Resolved     bool      `json:"resolved"`
}

// HostStats is the aggregate view over one host's samples in a range.
type HostStats struct {
	HostID      string  `json:"host_id"`
	Count       int     `json:"count"`
	Average     float64 `json:"average"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	StdDev      float64 `json:"std_dev"`
	HealthScore float64 `json:"health_score"`
}

// SeriesPoint is one bucket of a downsampled series.
type SeriesPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// CollectorState is the explicit lifecycle of the polling loop.
type CollectorState string

const (
	StateIdle       CollectorState = "idle"
	StateConnecting CollectorState = "connecting"
	StatePolling    CollectorState = "polling"
	StateStopped    CollectorState = "stopped"
)

// CollectorStatus is the surface the presentation layer reads.
type CollectorStatus struct {
	State               CollectorState `json:"state"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Degraded            bool           `json:"degraded"`
	LastError           string         `json:"last_error,omitempty"`
	LastPollAt          time.Time      `json:"last_poll_at"`
	SamplesCollected    int64          `json:"samples_collected"`
}

// RowError describes one rejected row of a bulk import.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportReport summarizes a bulk import: accepted count plus the exact
// failing rows. A partially failed import is not an error.
type ImportReport struct {
	Accepted int        `json:"accepted"`
	Rejected []RowError `json:"rejected"`
	Hosts    []string   `json:"hosts"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr    string
	DataDir string
	DBPath  string

	SourceURL        string
	PollInterval     time.Duration
	MaxFailures      int
	ReconnectBackoff time.Duration
	SkewTolerance    time.Duration
	WriteTimeout     time.Duration

	WarningPct  float64
	CriticalPct float64
	TrendWindow int

	RetentionDays int
	WebhookURL    string

	Health HealthPolicy
}

// HealthPolicy holds the penalty weights of the 0-100 health score. The
// weighting is operator policy, not fixed by the analysis code.
type HealthPolicy struct {
	AvgCriticalPenalty float64
	AvgWarningPenalty  float64
	AvgBaselineWeight  float64
	SpikeSeverePenalty float64
	SpikePenalty       float64
	VolatilityPenalty  float64
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		AvgCriticalPenalty: 50,
		AvgWarningPenalty:  25,
		AvgBaselineWeight:  10,
		SpikeSeverePenalty: 30,
		SpikePenalty:       15,
		VolatilityPenalty:  15,
	}
}

func Load() Config {
	dataDir := getenv("APP_DATA_DIR", "./data")
	return Config{
		Addr:             getenv("APP_ADDR", ":8080"),
		DataDir:          dataDir,
		DBPath:           getenv("APP_DB_PATH", dataDir+"/monitoring.db"),
		SourceURL:        getenv("APP_SOURCE_URL", "http://127.0.0.1:9090/metrics/cpu-ready"),
		PollInterval:     getenvDuration("APP_POLL_INTERVAL", 20*time.Second),
		MaxFailures:      getenvInt("APP_MAX_FAILURES", 5),
		ReconnectBackoff: getenvDuration("APP_RECONNECT_BACKOFF", time.Minute),
		SkewTolerance:    getenvDuration("APP_SKEW_TOLERANCE", 2*time.Second),
		WriteTimeout:     getenvDuration("APP_WRITE_TIMEOUT", 5*time.Second),
		WarningPct:       getenvFloat("APP_WARNING_PCT", 5.0),
		CriticalPct:      getenvFloat("APP_CRITICAL_PCT", 15.0),
		TrendWindow:      getenvInt("APP_TREND_WINDOW", 5),
		RetentionDays:    getenvInt("APP_RETENTION_DAYS", 30),
		WebhookURL:       os.Getenv("APP_WEBHOOK_URL"),
		Health:           DefaultHealthPolicy(),
	}
}

// Validate rejects invalid configuration outright instead of clamping it.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("config: max failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.SkewTolerance < 0 {
		return fmt.Errorf("config: skew tolerance must not be negative, got %s", c.SkewTolerance)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write timeout must be positive, got %s", c.WriteTimeout)
	}
	if err := ValidateThresholds(c.WarningPct, c.CriticalPct); err != nil {
		return err
	}
	if c.TrendWindow < 1 {
		return fmt.Errorf("config: trend window must be at least 1, got %d", c.TrendWindow)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("config: retention days must be at least 1, got %d", c.RetentionDays)
	}
	return nil
}

// ValidateThresholds is shared with the settings API so runtime threshold
// updates go through the same checks as startup configuration.
func ValidateThresholds(warning, critical float64) error {
	if warning <= 0 {
		return fmt.Errorf("config: warning threshold must be positive, got %.2f", warning)
	}
	if critical <= warning {
		return fmt.Errorf("config: critical threshold %.2f must exceed warning %.2f", critical, warning)
	}
	if critical > 100 {
		return fmt.Errorf("config: critical threshold %.2f exceeds 100%%", critical)
	}
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvFloat(k string, d float64) float64 {
	v := strings.ReplaceAll(os.Getenv(k), ",", ".")
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

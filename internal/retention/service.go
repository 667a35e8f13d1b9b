package retention

import (
	"context"
	"log/slog"
	"time"

	"readywatch/internal/db"
)

// Service enforces the retention policy: samples past the horizon are
// purged, alerts only once resolved.
type Service struct {
	store *db.Store
	days  int
	log   *slog.Logger
}

func NewService(store *db.Store, days int, logger *slog.Logger) *Service {
	if days <= 0 {
		days = 30
	}
	return &Service{store: store, days: days, log: logger}
}

func (s *Service) Run(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.days)
	samples, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		s.log.Error("purge samples failed", "cutoff", cutoff, "err", err)
		return
	}
	alerts, err := s.store.PurgeResolvedAlerts(ctx, cutoff)
	if err != nil {
		s.log.Error("purge alerts failed", "cutoff", cutoff, "err", err)
		return
	}
	s.log.Info("retention cleanup completed", "cutoff", cutoff, "samples", samples, "alerts", alerts)
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"readywatch/internal/alerts"
	"readywatch/internal/analysis"
	"readywatch/internal/collector"
	"readywatch/internal/config"
	"readywatch/internal/db"
	"readywatch/internal/importer"
	"readywatch/internal/models"
	"readywatch/internal/notifier"
	"readywatch/internal/retention"
	"readywatch/internal/source"
	"readywatch/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	store     *db.Store
	collector *collector.Service
	engine    *alerts.Engine
	retention *retention.Service
	hub       *web.Hub

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	defaults := models.Thresholds{
		WarningPct:  cfg.WarningPct,
		CriticalPct: cfg.CriticalPct,
		TrendWindow: cfg.TrendWindow,
	}
	store := db.NewStore(sqldb, cfg.SkewTolerance, cfg.WriteTimeout, defaults)

	convert := source.ConversionPolicy{IntervalSeconds: int(cfg.PollInterval / time.Second)}
	src := source.NewHTTPSource(cfg.SourceURL, convert)
	notify := notifier.NewWebhook(cfg.WebhookURL)
	engine := alerts.NewEngine(store, notify, logger.With("module", "alerts"))
	coll := collector.NewService(store, src, engine, logger.With("module", "collector"),
		cfg.PollInterval, cfg.MaxFailures, cfg.ReconnectBackoff)
	facade := analysis.New(store, cfg.Health)
	imp := importer.New(store, convert, logger.With("module", "import"))
	hub := web.NewHub(logger.With("module", "ws"))

	coll.SetBroadcast(hub.BroadcastSamples)
	engine.SetBroadcast(hub.BroadcastAlert)

	srv := web.NewServer(store, facade, coll, imp, notify, hub, logger.With("module", "web"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		store:     store,
		collector: coll,
		engine:    engine,
		retention: retention.NewService(store, cfg.RetentionDays, logger.With("module", "retention")),
		hub:       hub,
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: srv.Routes()}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutCtx)
	})
	g.Go(func() error {
		return a.collector.Run(gctx)
	})
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		a.retention.Run(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.retention.Run(gctx)
			}
		}
	})

	err := g.Wait()
	closeErr := a.store.DB().Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return closeErr
}

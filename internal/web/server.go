package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"readywatch/internal/analysis"
	"readywatch/internal/collector"
	"readywatch/internal/config"
	"readywatch/internal/db"
	"readywatch/internal/importer"
	"readywatch/internal/models"
	"readywatch/internal/notifier"
)

// Server is the read surface for presentation and reporting collaborators.
// They never write samples directly; the only mutating endpoints are
// operator actions (thresholds, alert workflow, collector control, import).
type Server struct {
	store    *db.Store
	facade   *analysis.Facade
	coll     *collector.Service
	importer *importer.Importer
	notify   *notifier.Webhook
	hub      *Hub
	log      *slog.Logger
}

func NewServer(store *db.Store, facade *analysis.Facade, coll *collector.Service,
	imp *importer.Importer, notify *notifier.Webhook, hub *Hub, logger *slog.Logger) *Server {
	return &Server{store: store, facade: facade, coll: coll, importer: imp, notify: notify, hub: hub, log: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/hosts", s.handleHosts)
	mux.HandleFunc("/api/samples", s.handleSamples)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/trend", s.handleTrend)
	mux.HandleFunc("/api/overview", s.handleOverview)
	mux.HandleFunc("/api/consolidation/impact", s.handleRemovalImpact)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/alerts/", s.handleAlertAction)
	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/api/collector/status", s.handleCollectorStatus)
	mux.HandleFunc("/api/collector/start", s.handleCollectorStart)
	mux.HandleFunc("/api/collector/stop", s.handleCollectorStop)
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/ws", s.hub.Handle)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	return logMiddleware(mux, s.log)
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, hosts)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		http.Error(w, "host parameter required", 400)
		return
	}
	from, to := queryTimeRange(r)
	samples, err := s.store.QuerySamples(r.Context(), hostID, from, to)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, samples)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		http.Error(w, "host parameter required", 400)
		return
	}
	from, to := queryTimeRange(r)
	stats, err := s.facade.HostStats(r.Context(), hostID, from, to)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		http.Error(w, "host parameter required", 400)
		return
	}
	from, to := queryTimeRange(r)
	bucket := parseDuration(r.URL.Query().Get("bucket"), 5*time.Minute)
	points, err := s.facade.Series(r.Context(), hostID, from, to, bucket)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if points == nil {
		points = []models.SeriesPoint{}
	}
	writeJSON(w, points)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		http.Error(w, "host parameter required", 400)
		return
	}
	from, to := queryTimeRange(r)
	window := 5
	if v := r.URL.Query().Get("window"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			window = n
		}
	}
	points, err := s.facade.MovingAverage(r.Context(), hostID, from, to, window)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if points == nil {
		points = []models.SeriesPoint{}
	}
	writeJSON(w, points)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	from, to := queryTimeRange(r)
	reports, err := s.facade.Overview(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, reports)
}

func (s *Server) handleRemovalImpact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Hosts []string `json:"hosts"`
		Range string   `json:"range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	to := time.Now().UTC()
	from := to.Add(-parseDuration(req.Range, 24*time.Hour))
	impact, err := s.facade.AnalyzeRemoval(r.Context(), req.Hosts, from, to)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, impact)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	alerts, err := s.store.ListAlerts(r.Context(), q.Get("host"), q.Get("include_resolved") == "1", limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, alerts)
}

// handleAlertAction serves /api/alerts/{id}/ack and /api/alerts/{id}/resolve.
func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	action := path.Base(r.URL.Path)
	idStr := path.Base(strings.TrimSuffix(r.URL.Path, "/"+action))
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "ack":
		err = s.store.AcknowledgeAlert(r.Context(), id)
	case "resolve":
		err = s.store.ResolveAlert(r.Context(), id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		th, err := s.store.LoadThresholds(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, th)
	case http.MethodPut, http.MethodPost:
		var th models.Thresholds
		if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := config.ValidateThresholds(th.WarningPct, th.CriticalPct); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if th.TrendWindow < 1 {
			http.Error(w, "trend window must be at least 1", 400)
			return
		}
		if err := s.store.SaveThresholds(r.Context(), th); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		s.log.Info("thresholds updated", "warning", th.WarningPct, "critical", th.CriticalPct, "trend_window", th.TrendWindow)
		writeJSON(w, th)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCollectorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coll.Status())
}

func (s *Server) handleCollectorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.coll.Start()
	writeJSON(w, s.coll.Status())
}

func (s *Server) handleCollectorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.coll.Stop()
	writeJSON(w, s.coll.Status())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required: "+err.Error(), 400)
		return
	}
	defer file.Close()

	var report models.ImportReport
	switch strings.ToLower(path.Ext(header.Filename)) {
	case ".xlsx", ".xlsm":
		report, err = s.importer.ImportXLSX(r.Context(), file)
	default:
		report, err = s.importer.ImportCSV(r.Context(), file)
	}
	if err != nil {
		if errors.Is(err, db.ErrStorageUnavailable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), 400)
		return
	}
	s.log.Info("import completed", "file", header.Filename, "accepted", report.Accepted, "rejected", len(report.Rejected))
	writeJSON(w, report)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		http.Error(w, "db not ready", 503)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func queryTimeRange(r *http.Request) (time.Time, time.Time) {
	q := r.URL.Query()
	to := time.Now().UTC()
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t.UTC()
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), to
		}
	}
	return to.Add(-parseDuration(q.Get("range"), time.Hour)), to
}

func parseDuration(v string, d time.Duration) time.Duration {
	if v == "" {
		return d
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return d
	}
	return parsed
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"readywatch/internal/models"
)

// Store is the durable, time-ordered sample store plus the settings and
// alert tables that live beside it. Writes are serialized per host; readers
// never observe a torn record because every append is a single transaction.
type Store struct {
	db           *sql.DB
	skew         time.Duration
	writeTimeout time.Duration
	defaults     models.Thresholds

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	lastTS map[string]time.Time
}

func NewStore(sqldb *sql.DB, skew, writeTimeout time.Duration, defaults models.Thresholds) *Store {
	return &Store{
		db:           sqldb,
		skew:         skew,
		writeTimeout: writeTimeout,
		defaults:     defaults,
		locks:        map[string]*sync.Mutex{},
		lastTS:       map[string]time.Time{},
	}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) hostLock(hostID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[hostID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[hostID] = l
	}
	return l
}

// AppendSample durably persists one sample. A timestamp older than the last
// stored sample for the host by more than the skew tolerance is rejected
// with ValidationError; storage stalls beyond the write timeout surface as
// ErrStorageUnavailable so the collection loop never hangs.
func (s *Store) AppendSample(ctx context.Context, sample models.Sample) error {
	if sample.HostID == "" {
		return &ValidationError{TS: sample.TS, Reason: "empty host id"}
	}
	if sample.TS.IsZero() {
		return &ValidationError{HostID: sample.HostID, Reason: "zero timestamp"}
	}
	if math.IsNaN(sample.ReadyPct) || math.IsInf(sample.ReadyPct, 0) {
		return &ValidationError{HostID: sample.HostID, TS: sample.TS, Reason: "value is not a number"}
	}
	if sample.ReadyPct < 0 || sample.ReadyPct > 100 {
		return &ValidationError{HostID: sample.HostID, TS: sample.TS,
			Reason: fmt.Sprintf("value %.2f outside [0,100]", sample.ReadyPct)}
	}

	lock := s.hostLock(sample.HostID)
	lock.Lock()
	defer lock.Unlock()

	ts := sample.TS.UTC()
	last, err := s.lastTimestamp(ctx, sample.HostID)
	if err != nil {
		return err
	}
	if !last.IsZero() && ts.Before(last.Add(-s.skew)) {
		return &ValidationError{HostID: sample.HostID, TS: ts,
			Reason: fmt.Sprintf("timestamp precedes last stored sample %s beyond skew tolerance %s",
				last.Format(time.RFC3339), s.skew)}
	}

	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	_, err = s.db.ExecContext(wctx, `INSERT INTO samples (host_id,ts,ready_pct,raw_value,source_unit,origin)
		VALUES (?,?,?,?,?,?)`,
		sample.HostID, ts, sample.ReadyPct, sample.RawValue, string(sample.SourceUnit), sample.Origin)
	if err != nil {
		if isDuplicate(err) {
			return &ValidationError{HostID: sample.HostID, TS: ts, Reason: "duplicate timestamp"}
		}
		if isUnavailable(wctx, err) {
			return fmt.Errorf("append %s@%s: %w", sample.HostID, ts.Format(time.RFC3339), ErrStorageUnavailable)
		}
		return fmt.Errorf("append %s@%s: %w", sample.HostID, ts.Format(time.RFC3339), err)
	}
	if ts.After(last) {
		s.mu.Lock()
		s.lastTS[sample.HostID] = ts
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) lastTimestamp(ctx context.Context, hostID string) (time.Time, error) {
	s.mu.Lock()
	cached, ok := s.lastTS[hostID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}
	var raw sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM samples WHERE host_id = ?`, hostID).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("last timestamp for %s: %w", hostID, err)
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	last := raw.Time.UTC()
	s.mu.Lock()
	s.lastTS[hostID] = last
	s.mu.Unlock()
	return last, nil
}

func isDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isUnavailable(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// QuerySamples returns the samples for a host in [from, to], ascending by
// timestamp. An empty range yields an empty slice, not an error.
func (s *Store) QuerySamples(ctx context.Context, hostID string, from, to time.Time) ([]models.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host_id,ts,ready_pct,raw_value,source_unit,origin
		FROM samples WHERE host_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		hostID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Sample
	for rows.Next() {
		m, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SampleSeq is the lazy form of QuerySamples: each range over the sequence
// opens a fresh cursor, so the sequence is restartable and never holds the
// full range in memory.
func (s *Store) SampleSeq(ctx context.Context, hostID string, from, to time.Time) iter.Seq2[models.Sample, error] {
	return func(yield func(models.Sample, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT host_id,ts,ready_pct,raw_value,source_unit,origin
			FROM samples WHERE host_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
			hostID, from.UTC(), to.UTC())
		if err != nil {
			yield(models.Sample{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanSample(rows)
			if err != nil {
				yield(models.Sample{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Sample{}, err)
		}
	}
}

// LastN returns up to n most recent samples for a host, ascending.
func (s *Store) LastN(ctx context.Context, hostID string, n int) ([]models.Sample, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT host_id,ts,ready_pct,raw_value,source_unit,origin
		FROM (SELECT * FROM samples WHERE host_id = ? ORDER BY ts DESC LIMIT ?) ORDER BY ts ASC`,
		hostID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Sample, 0, n)
	for rows.Next() {
		m, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(r rowScanner) (models.Sample, error) {
	var m models.Sample
	var unit, origin string
	if err := r.Scan(&m.HostID, &m.TS, &m.ReadyPct, &m.RawValue, &unit, &origin); err != nil {
		return models.Sample{}, err
	}
	m.TS = m.TS.UTC()
	m.SourceUnit = models.Unit(unit)
	m.Origin = origin
	return m, nil
}

// Purge removes all samples strictly older than the cutoff and reports how
// many were removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	// Cached high-water marks may now point at purged rows; reseed lazily.
	s.mu.Lock()
	s.lastTS = map[string]time.Time{}
	s.mu.Unlock()
	_, _ = s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return n, nil
}

func (s *Store) UpsertHost(ctx context.Context, h models.Host) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO hosts (id,display_name,first_seen_at,last_seen_at)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name,last_seen_at=excluded.last_seen_at`,
		h.ID, h.DisplayName, now, now)
	return err
}

func (s *Store) ListHosts(ctx context.Context) ([]models.Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,display_name,first_seen_at,last_seen_at FROM hosts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Host
	for rows.Next() {
		var h models.Host
		if err := rows.Scan(&h.ID, &h.DisplayName, &h.FirstSeenAt, &h.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// LoadThresholds reads the current alerting policy from settings. It is
// called on every evaluation so operator edits take effect immediately.
func (s *Store) LoadThresholds(ctx context.Context) (models.Thresholds, error) {
	th := s.defaults
	rows, err := s.db.QueryContext(ctx, `SELECT key,value FROM settings
		WHERE key IN ('warning_pct','critical_pct','trend_window')`)
	if err != nil {
		return th, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return th, err
		}
		switch k {
		case "warning_pct":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				th.WarningPct = f
			}
		case "critical_pct":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				th.CriticalPct = f
			}
		case "trend_window":
			if n, err := strconv.Atoi(v); err == nil {
				th.TrendWindow = n
			}
		}
	}
	return th, rows.Err()
}

// SaveThresholds persists an already-validated policy.
func (s *Store) SaveThresholds(ctx context.Context, th models.Thresholds) error {
	values := map[string]string{
		"warning_pct":  strconv.FormatFloat(th.WarningPct, 'f', -1, 64),
		"critical_pct": strconv.FormatFloat(th.CriticalPct, 'f', -1, 64),
		"trend_window": strconv.Itoa(th.TrendWindow),
	}
	for k, v := range values {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, ev models.AlertEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO alerts (host_id,ts,kind,severity,value,threshold,message)
		VALUES (?,?,?,?,?,?,?)`,
		ev.HostID, ev.TS.UTC(), ev.Kind, string(ev.Severity), ev.Value, ev.Threshold, ev.Message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListAlerts(ctx context.Context, hostID string, includeResolved bool, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	clauses := []string{"1=1"}
	args := []any{}
	if hostID != "" {
		clauses = append(clauses, "host_id = ?")
		args = append(args, hostID)
	}
	if !includeResolved {
		clauses = append(clauses, "resolved = 0")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,host_id,ts,kind,severity,value,threshold,message,acknowledged,resolved
		FROM alerts WHERE %s ORDER BY ts DESC LIMIT ?`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var sev string
		var ack, res int
		if err := rows.Scan(&a.ID, &a.HostID, &a.TS, &a.Kind, &sev, &a.Value, &a.Threshold, &a.Message, &ack, &res); err != nil {
			return nil, err
		}
		a.TS = a.TS.UTC()
		a.Severity = models.Severity(sev)
		a.Acknowledged = ack == 1
		a.Resolved = res == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	return s.flagAlert(ctx, id, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`)
}

func (s *Store) ResolveAlert(ctx context.Context, id int64) error {
	return s.flagAlert(ctx, id, `UPDATE alerts SET resolved = 1 WHERE id = ?`)
}

func (s *Store) flagAlert(ctx context.Context, id int64, query string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

// PurgeResolvedAlerts removes resolved alerts older than the cutoff.
func (s *Store) PurgeResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE ts < ? AND resolved = 1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) InsertNotificationEvent(ctx context.Context, alertID int64, channel, status string, attempts int, lastErr string, sent *time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_events (alert_id,channel,status,attempts,last_error,sent_ts)
		VALUES (?,?,?,?,?,?)`, alertID, channel, status, attempts, lastErr, sent)
	return err
}

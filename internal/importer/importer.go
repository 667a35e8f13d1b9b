// Package importer accepts out-of-band bulk sample batches exported from
// vCenter as CSV or Excel workbooks. Malformed rows are collected and
// reported individually; the rest of the batch still lands.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"readywatch/internal/db"
	"readywatch/internal/models"
	"readywatch/internal/source"
)

type Importer struct {
	store   *db.Store
	convert source.ConversionPolicy
	log     *slog.Logger
}

func New(store *db.Store, convert source.ConversionPolicy, logger *slog.Logger) *Importer {
	return &Importer{store: store, convert: convert, log: logger}
}

// rawRow is one data row before validation; Line is the 1-based position in
// the source file, kept for error reporting after per-host reordering.
type rawRow struct {
	Line  int
	Host  string
	Time  string
	Value string
	Unit  string
}

// columnMap resolves which header names feed which field. Header matching
// is case-insensitive and tolerant of the export variants vCenter produces.
type columnMap struct {
	host, ts, value, unit int
}

func mapColumns(header []string) (columnMap, error) {
	cm := columnMap{host: -1, ts: -1, value: -1, unit: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "host", "hostname":
			cm.host = i
		case "time", "timestamp", "ts":
			cm.ts = i
		case "value", "cpu_ready", "cpu ready", "cpu_ready_sum", "ready":
			cm.value = i
		case "unit":
			cm.unit = i
		}
	}
	if cm.host < 0 || cm.ts < 0 || cm.value < 0 {
		return cm, fmt.Errorf("header must contain host, time and value columns, got %v", header)
	}
	return cm, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"02.01.2006 15:04:05",
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

type parsedRow struct {
	Line   int
	Sample models.Sample
	raw    float64
}

// ingest validates and appends a batch. Rows are explicitly reordered by
// timestamp per host before appending, so a shuffled export still satisfies
// the store's ordering invariant; rows that conflict with already-stored
// history are rejected individually.
func (i *Importer) ingest(ctx context.Context, rows []rawRow) (models.ImportReport, error) {
	report := models.ImportReport{}
	perHost := map[string][]parsedRow{}

	for _, r := range rows {
		hostID := source.CanonicalHostID(r.Host)
		if hostID == "" {
			report.Rejected = append(report.Rejected, models.RowError{Row: r.Line, Reason: "empty hostname"})
			continue
		}
		ts, err := parseTime(r.Time)
		if err != nil {
			report.Rejected = append(report.Rejected, models.RowError{Row: r.Line, Reason: err.Error()})
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r.Value), ",", "."), 64)
		if err != nil {
			report.Rejected = append(report.Rejected, models.RowError{Row: r.Line, Reason: fmt.Sprintf("bad value %q", r.Value)})
			continue
		}
		perHost[hostID] = append(perHost[hostID], parsedRow{
			Line: r.Line,
			raw:  value,
			Sample: models.Sample{
				HostID:     hostID,
				TS:         ts,
				RawValue:   value,
				SourceUnit: models.Unit(strings.TrimSpace(r.Unit)),
				Origin:     "import",
			},
		})
	}

	hosts := make([]string, 0, len(perHost))
	for h := range perHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, hostID := range hosts {
		batch := perHost[hostID]
		unit := batch[0].Sample.SourceUnit
		if unit == "" || unit == models.UnitUnknown {
			values := make([]float64, len(batch))
			for j, p := range batch {
				values[j] = p.raw
			}
			unit = source.DetectUnit(values)
			i.log.Info("detected unit for import batch", "host", hostID, "unit", unit, "rows", len(batch))
		}
		sort.SliceStable(batch, func(a, b int) bool { return batch[a].Sample.TS.Before(batch[b].Sample.TS) })

		if err := i.store.UpsertHost(ctx, models.Host{ID: hostID, DisplayName: hostID}); err != nil {
			return report, fmt.Errorf("upsert host %s: %w", hostID, err)
		}
		for _, p := range batch {
			p.Sample.SourceUnit = unit
			p.Sample.ReadyPct = i.convert.ToPercent(p.raw, unit)
			err := i.store.AppendSample(ctx, p.Sample)
			if err == nil {
				report.Accepted++
				continue
			}
			var verr *db.ValidationError
			if errors.As(err, &verr) {
				report.Rejected = append(report.Rejected, models.RowError{Row: p.Line, Reason: verr.Reason})
				continue
			}
			// Storage failures abort the batch; they are not row problems.
			return report, err
		}
		report.Hosts = append(report.Hosts, hostID)
	}
	sort.Slice(report.Rejected, func(a, b int) bool { return report.Rejected[a].Row < report.Rejected[b].Row })
	return report, nil
}

func mergeRejected(a, b []models.RowError) []models.RowError {
	out := append(a, b...)
	sort.Slice(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

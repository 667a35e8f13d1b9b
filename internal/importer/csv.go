package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"readywatch/internal/models"
)

// ImportCSV reads a comma-separated export with a header row. Rows that
// fail to parse are reported by line number; a wrong field count on a data
// row rejects that row, not the file.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader) (models.ImportReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return models.ImportReport{}, fmt.Errorf("read csv header: %w", err)
	}
	cm, err := mapColumns(header)
	if err != nil {
		return models.ImportReport{}, err
	}

	var rows []rawRow
	var rejected []models.RowError
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rejected = append(rejected, models.RowError{Row: line, Reason: err.Error()})
			continue
		}
		row, ok := pickFields(record, cm, line, &rejected)
		if ok {
			rows = append(rows, row)
		}
	}

	report, err := i.ingest(ctx, rows)
	report.Rejected = mergeRejected(report.Rejected, rejected)
	return report, err
}

func pickFields(record []string, cm columnMap, line int, rejected *[]models.RowError) (rawRow, bool) {
	need := cm.host
	if cm.ts > need {
		need = cm.ts
	}
	if cm.value > need {
		need = cm.value
	}
	if len(record) <= need {
		*rejected = append(*rejected, models.RowError{Row: line,
			Reason: fmt.Sprintf("expected at least %d columns, got %d", need+1, len(record))})
		return rawRow{}, false
	}
	row := rawRow{Line: line, Host: record[cm.host], Time: record[cm.ts], Value: record[cm.value]}
	if cm.unit >= 0 && cm.unit < len(record) {
		row.Unit = record[cm.unit]
	}
	return row, true
}

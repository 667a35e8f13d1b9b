package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"readywatch/internal/models"
)

// ImportXLSX reads the first sheet of an Excel workbook with the same
// header contract as the CSV path.
func (i *Importer) ImportXLSX(ctx context.Context, r io.Reader) (models.ImportReport, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return models.ImportReport{}, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return models.ImportReport{}, fmt.Errorf("workbook has no sheets")
	}
	cells, err := wb.GetRows(sheets[0])
	if err != nil {
		return models.ImportReport{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(cells) == 0 {
		return models.ImportReport{}, fmt.Errorf("sheet %s is empty", sheets[0])
	}
	cm, err := mapColumns(cells[0])
	if err != nil {
		return models.ImportReport{}, err
	}

	var rows []rawRow
	var rejected []models.RowError
	for idx, record := range cells[1:] {
		line := idx + 2
		row, ok := pickFields(record, cm, line, &rejected)
		if ok {
			rows = append(rows, row)
		}
	}

	report, err := i.ingest(ctx, rows)
	report.Rejected = mergeRejected(report.Rejected, rejected)
	return report, err
}

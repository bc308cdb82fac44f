// Package report renders operator workbooks for stuck queue items so
// failures and parked conflicts can be reviewed outside the service.
package report

import (
	"bytes"
	"fmt"
	"time"

	"taskrelay/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetQueue   = "Queue"
	sheetHistory = "History"

	timeLayout = "2006-01-02 15:04:05"
)

var queueHeaders = []string{"ID", "Operation", "Type", "Status", "Attempts", "Created", "Updated", "Last Error"}

var historyHeaders = []string{"ID", "Operation", "Type", "Outcome", "Attempts", "Created", "Archived"}

// Generate builds a workbook with one sheet for the given live items and
// one for archived history.
func Generate(items []*models.QueueItem, history []models.HistoryRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetQueue)
	if _, err := f.NewSheet(sheetHistory); err != nil {
		return nil, fmt.Errorf("create history sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDDDDD"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeHeader(f, sheetQueue, queueHeaders, headerStyle); err != nil {
		return nil, err
	}
	for i, item := range items {
		row := i + 2
		values := []interface{}{
			item.ID,
			item.Operation,
			item.Type,
			item.Status,
			item.Attempts,
			formatTime(item.Timestamp),
			formatTime(item.UpdatedAt),
			item.LastError,
		}
		if err := writeRow(f, sheetQueue, row, values); err != nil {
			return nil, err
		}
	}

	if err := writeHeader(f, sheetHistory, historyHeaders, headerStyle); err != nil {
		return nil, err
	}
	for i, rec := range history {
		row := i + 2
		values := []interface{}{
			rec.Item.ID,
			rec.Item.Operation,
			rec.Item.Type,
			rec.Outcome,
			rec.Item.Attempts,
			formatTime(rec.Item.Timestamp),
			formatTime(rec.ArchivedAt),
		}
		if err := writeRow(f, sheetHistory, row, values); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(sheetQueue, "A", "A", 38); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetQueue, "F", "H", 24); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetHistory, "A", "A", 38); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	return f, nil
}

// Encode serializes the workbook for download.
func Encode(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write header %q: %w", h, err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("write cell %s: %w", cell, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

package report

import (
	"bytes"
	"testing"
	"time"

	"taskrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateWorkbook(t *testing.T) {
	created := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	items := []*models.QueueItem{
		{
			ID:        "f1",
			Operation: "task.update",
			Type:      models.OpUpdate,
			Status:    models.StatusFailed,
			Attempts:  3,
			Timestamp: created,
			UpdatedAt: created.Add(time.Hour),
			LastError: "transient: server 503",
		},
		{
			ID:        "c1",
			Operation: "task.delete",
			Type:      models.OpDelete,
			Status:    models.StatusNeedsResolution,
			Timestamp: created,
		},
	}
	history := []models.HistoryRecord{
		{
			Item:       models.QueueItem{ID: "h1", Operation: "task.create", Type: models.OpCreate, Timestamp: created},
			ArchivedAt: created.Add(2 * time.Hour),
			Outcome:    models.OutcomeCompleted,
		},
	}

	f, err := Generate(items, history)
	require.NoError(t, err)

	got, err := f.GetCellValue(sheetQueue, "A2")
	require.NoError(t, err)
	assert.Equal(t, "f1", got)

	got, err = f.GetCellValue(sheetQueue, "D3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsResolution, got)

	got, err = f.GetCellValue(sheetQueue, "H2")
	require.NoError(t, err)
	assert.Equal(t, "transient: server 503", got)

	got, err = f.GetCellValue(sheetHistory, "D2")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, got)
}

func TestGenerateEmpty(t *testing.T) {
	f, err := Generate(nil, nil)
	require.NoError(t, err)

	got, err := f.GetCellValue(sheetQueue, "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", got)
}

func TestEncodeRoundTrip(t *testing.T) {
	f, err := Generate([]*models.QueueItem{{ID: "x", Operation: "op", Type: models.OpCreate, Status: models.StatusFailed}}, nil)
	require.NoError(t, err)

	raw, err := Encode(f)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	reopened, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	got, err := reopened.GetCellValue(sheetQueue, "A2")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

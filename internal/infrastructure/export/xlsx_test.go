package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/domain/entity"
)

func TestXLSXExporter_Write(t *testing.T) {
	priority := 1
	due := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	tasks := []*port.TaskRecord{
		{
			ID:     7,
			Status: port.TaskStatusTodo,
			InferredTask: entity.InferredTask{
				Title:       "Send Q4 report to finance",
				Description: "Sam is asked to send the Q4 report.",
				Context:     "Can you send the Q4 report to finance by tomorrow?",
				Confidence:  80,
				Priority:    &priority,
				SourceType:  entity.SourceSlackDM,
				SourceID:    "D123",
				DueDate:     &due,
				CreatedAt:   time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			ID:     8,
			Status: port.TaskStatusDone,
			InferredTask: entity.InferredTask{
				Title:       "Book room",
				Description: "Book a room.",
				Context:     "book the room",
				Confidence:  55,
				NeedsReview: true,
				SourceType:  entity.SourceManualText,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewXLSXExporter(zap.NewNop()).Write(&buf, tasks))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])

	assert.Equal(t, "7", rows[1][0])
	assert.Equal(t, "Send Q4 report to finance", rows[1][1])
	assert.Equal(t, "1", rows[1][5])
	assert.Equal(t, "80", rows[1][6])
	assert.Equal(t, "no", rows[1][7])
	assert.Equal(t, "2025-01-16", rows[1][8])
	assert.Equal(t, "slack_dm", rows[1][9])
	assert.Equal(t, "2025-01-15 10:00", rows[1][11])

	assert.Equal(t, "done", rows[2][4])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "yes", rows[2][7])
}

func TestXLSXExporter_WriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewXLSXExporter(zap.NewNop()).Write(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
)

// SheetName is the worksheet holding the task board
const SheetName = "Tasks"

var headers = []string{
	"ID", "Title", "Description", "Context", "Status", "Priority",
	"Confidence", "Needs Review", "Due Date", "Source Type", "Source ID", "Inferred At",
}

// XLSXExporter writes stored tasks as a spreadsheet
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates a new spreadsheet exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// Write renders tasks into a workbook and streams it to w
func (x *XLSXExporter) Write(w io.Writer, tasks []*port.TaskRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		x.setCell(f, cellName(col, 1), header)
	}
	lastCol := cellName(len(headers)-1, 1)
	if err := f.SetCellStyle(SheetName, "A1", lastCol, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, task := range tasks {
		row := i + 2
		values := []interface{}{
			task.ID,
			task.Title,
			task.Description,
			task.Context,
			task.Status,
			"",
			task.Confidence,
			yesNo(task.NeedsReview),
			"",
			string(task.SourceType),
			task.SourceID,
			task.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		if task.Priority != nil {
			values[5] = *task.Priority
		}
		if task.DueDate != nil {
			values[8] = task.DueDate.Format("2006-01-02")
		}

		for col, v := range values {
			x.setCell(f, cellName(col, row), v)
		}
	}

	if len(tasks) > 0 {
		if err := f.AutoFilter(SheetName, "A1:"+cellName(len(headers)-1, len(tasks)+1), nil); err != nil {
			x.logger.Warn("Failed to add auto filter", zap.Error(err))
		}
	}
	x.setWidths(f)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	x.logger.Info("Tasks exported", zap.Int("count", len(tasks)))
	return nil
}

// setCell sets a cell value, logging instead of failing on bad input
func (x *XLSXExporter) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		x.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func (x *XLSXExporter) setWidths(f *excelize.File) {
	widths := map[string]float64{"B": 40, "C": 50, "D": 60, "I": 12, "L": 18}
	for col, width := range widths {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			x.logger.Warn("Failed to set column width", zap.String("column", col), zap.Error(err))
		}
	}
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		// Only reachable with a non-positive row
		panic(err)
	}
	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fieldsync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes failed-record reports for operators who triage delivery
// problems outside the API.
type Exporter struct {
	records domain.RecordStore
	dir     string
	logger  zerolog.Logger
}

func NewExporter(records domain.RecordStore, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		records: records,
		dir:     dir,
		logger:  logger.With().Str("component", "report").Logger(),
	}
}

// ExportFailed writes an xlsx file with all terminally failed records for a
// target (or all targets when targetSystem is empty) and returns its path.
func (e *Exporter) ExportFailed(ctx context.Context, targetSystem string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	records, err := e.records.ListFailedRecords(ctx, targetSystem)
	if err != nil {
		return "", fmt.Errorf("error listing failed records: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Failed records"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Record Type", "Record ID", "Target", "Attempts",
		"Error", "Created By", "Created At", "Last Update",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, record := range records {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), record.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), record.RecordType)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), record.RecordID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), record.TargetSystem)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), record.Attempts)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), record.LastError())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), record.CreatedBy)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), record.CreatedAt.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), record.UpdatedAt.Format("02.01.2006 15:04"))
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "D", 15)
	_ = f.SetColWidth(sheetName, "E", "E", 10)
	_ = f.SetColWidth(sheetName, "F", "F", 50)
	_ = f.SetColWidth(sheetName, "G", "G", 15)
	_ = f.SetColWidth(sheetName, "H", "I", 18)

	_ = f.DeleteSheet("Sheet1")

	name := "failed_records"
	if targetSystem != "" {
		name += "_" + targetSystem
	}
	fileName := fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("records", len(records)).Msg("failed records exported")
	return filePath, nil
}

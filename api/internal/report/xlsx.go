package report

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const sheet = "Проверки"

// XLSX: тот же детальный отчёт в виде книги Excel.
func (s *Service) XLSX(ctx context.Context, userID int64, p Period) (string, error) {
	list, from, err := s.rows(ctx, userID, p)
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return "", err
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	for i, h := range columns {
		write(i+1, 1, h)
	}
	for r, it := range list {
		for c, v := range s.record(it) {
			write(c+1, r+2, v)
		}
	}

	if bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, bold)
	}
	_ = f.SetColWidth(sheet, "A", "A", 20) // дата
	_ = f.SetColWidth(sheet, "B", "C", 14)
	_ = f.SetColWidth(sheet, "D", "D", 48) // комментарий
	_ = f.SetColWidth(sheet, "E", "F", 18)

	path := filepath.Join(s.dir, s.fileName(userID, p, from, ".xlsx"))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("xlsx write: %w", err)
	}
	s.log.Info("xlsx", zap.String("path", path), zap.Int("rows", len(list)))
	return path, nil
}

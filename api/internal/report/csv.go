package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"otk-bot/api/internal/store"
)

var columns = []string{"Дата создания", "Номер заказа", "Статус", "Комментарий", "Контролер", "ID сессии"}

func (s *Service) record(it store.Inspection) []string {
	return []string{
		it.CreatedAt.In(s.loc).Format("2006-01-02 15:04:05"),
		it.OrderID,
		string(it.Status),
		it.Comment,
		controller(it),
		shortSession(it.SessionID),
	}
}

func controller(it store.Inspection) string {
	if it.UserName != "" {
		return it.UserName
	}
	return fmt.Sprintf("User_%d", it.UserID)
}

func shortSession(id string) string {
	r := []rune(id)
	if len(r) > 8 {
		r = r[:8]
	}
	return string(r) + "..."
}

// CSV пишет детальный отчёт и возвращает путь к файлу. Пустой период: ErrEmpty.
func (s *Service) CSV(ctx context.Context, userID int64, p Period) (string, error) {
	list, from, err := s.rows(ctx, userID, p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, s.fileName(userID, p, from, ".csv"))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csv create: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return "", err
	}
	for _, it := range list {
		if err := w.Write(s.record(it)); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csv write: %w", err)
	}
	s.log.Info("csv", zap.String("path", path), zap.Int("rows", len(list)))
	return path, nil
}

package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"otk-bot/api/internal/store"
)

type Period string

const (
	Day  Period = "day"
	Week Period = "week"
)

// ErrEmpty: за период нет ни одной проверки.
var ErrEmpty = errors.New("report: no inspections in period")

// Source: то, что отчётам нужно от хранилища.
type Source interface {
	GetStatistics(ctx context.Context, userID int64, from, to time.Time) (store.Statistics, error)
	ListInspections(ctx context.Context, userID int64, from, to time.Time) ([]store.Inspection, error)
}

type Service struct {
	src Source
	dir string
	loc *time.Location
	now func() time.Time
	log *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// New: dir это каталог временных файлов отчётов.
func New(src Source, dir string, log *zap.Logger, opts ...Option) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report dir: %w", err)
	}
	s := &Service{src: src, dir: dir, loc: time.Local, now: time.Now, log: log.Named("report")}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Range возвращает [from, to) для периода (сутки от полуночи или неделя с понедельника).
func Range(p Period, now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case Week:
		offset := (int(start.Weekday()) + 6) % 7 // понедельник = 0
		start = start.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	default:
		return start, start.AddDate(0, 0, 1)
	}
}

func (p Period) accusative() string {
	if p == Week {
		return "неделю"
	}
	return "день"
}

func (s *Service) rangeNow(p Period) (time.Time, time.Time) {
	return Range(p, s.now().In(s.loc))
}

// Summary: HTML-сводка пользователя за период.
func (s *Service) Summary(ctx context.Context, userID int64, p Period) (string, error) {
	from, to := s.rangeNow(p)
	st, err := s.src.GetStatistics(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	s.log.Info("summary", zap.Int64("user_id", userID), zap.String("period", string(p)), zap.Int("total", st.Total))
	if st.Total == 0 {
		return EmptySummary(p), nil
	}
	return FormatSummary(st, p, from, to), nil
}

func EmptySummary(p Period) string {
	name := p.accusative()
	return fmt.Sprintf("📊 <b>Сводка за %s</b>\n\n📈 За %s проверок не проводилось.\n\nОтправьте данные о проверке для формирования отчетов.", name, name)
}

func FormatSummary(st store.Statistics, p Period, from, to time.Time) string {
	pct := func(n int) float64 { return float64(n) / float64(st.Total) * 100 }
	lines := []string{
		fmt.Sprintf("📊 <b>Сводка за %s</b>", p.accusative()),
		fmt.Sprintf("📅 %s - %s", from.Format("02.01.2006"), to.Format("02.01.2006")),
		"",
		"📈 <b>Общая статистика:</b>",
		fmt.Sprintf("🔍 Всего проверок: %d", st.Total),
		fmt.Sprintf("📦 Уникальных заказов: %d", st.UniqueOrders),
		fmt.Sprintf("💬 С комментариями: %d", st.WithComments),
		"",
		"📊 <b>Результаты проверок:</b>",
		fmt.Sprintf("✅ Годно: %d (%.1f%%)", st.Approved, pct(st.Approved)),
		fmt.Sprintf("🔧 В доработку: %d (%.1f%%)", st.Rework, pct(st.Rework)),
		fmt.Sprintf("❌ В брак: %d (%.1f%%)", st.Rejected, pct(st.Rejected)),
		"",
		fmt.Sprintf("🎯 <b>Общая успешность: %.1f%%</b>", st.SuccessRate),
	}
	return strings.Join(lines, "\n")
}

func (s *Service) fileName(userID int64, p Period, from time.Time, ext string) string {
	if p == Week {
		year, week := from.ISOWeek()
		return fmt.Sprintf("otk_weekly_report_user%d_%d-W%02d%s", userID, year, week, ext)
	}
	return fmt.Sprintf("otk_daily_report_user%d_%s%s", userID, from.Format("2006-01-02"), ext)
}

func (s *Service) rows(ctx context.Context, userID int64, p Period) ([]store.Inspection, time.Time, error) {
	from, to := s.rangeNow(p)
	list, err := s.src.ListInspections(ctx, userID, from, to)
	if err != nil {
		return nil, from, err
	}
	if len(list) == 0 {
		return nil, from, ErrEmpty
	}
	return list, from, nil
}

// CleanupOld удаляет файлы отчётов старше maxAge. Возвращает число удалённых.
func (s *Service) CleanupOld(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error("cleanup: read dir", zap.Error(err))
		return 0
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("cleanup", zap.Int("removed", removed))
	}
	return removed
}

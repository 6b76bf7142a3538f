package report

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/store"
)

type fakeSource struct {
	stats    store.Statistics
	list     []store.Inspection
	from, to time.Time
}

func (f *fakeSource) GetStatistics(_ context.Context, _ int64, from, to time.Time) (store.Statistics, error) {
	f.from, f.to = from, to
	return f.stats, nil
}

func (f *fakeSource) ListInspections(_ context.Context, _ int64, from, to time.Time) ([]store.Inspection, error) {
	f.from, f.to = from, to
	return f.list, nil
}

// среда
var now = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func newService(t *testing.T, src Source) *Service {
	t.Helper()
	s, err := New(src, t.TempDir(), nil, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	require.NoError(t, err)
	return s
}

func TestRange(t *testing.T) {
	tests := []struct {
		name     string
		p        Period
		now      time.Time
		from, to time.Time
	}{
		{"day", Day, now, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)},
		{"week from wednesday", Week, now, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
		{"week from sunday", Week, time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
		{"week from monday", Week, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := Range(tt.p, tt.now)
			require.Equal(t, tt.from, from)
			require.Equal(t, tt.to, to)
		})
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		s := newService(t, &fakeSource{})
		got, err := s.Summary(ctx, 1, Week)
		require.NoError(t, err)
		require.Equal(t, EmptySummary(Week), got)
		require.Contains(t, got, "За неделю проверок не проводилось")
	})

	t.Run("filled", func(t *testing.T) {
		src := &fakeSource{stats: store.Statistics{Total: 4, Approved: 2, Rework: 1, Rejected: 1, UniqueOrders: 3, WithComments: 2, SuccessRate: 50}}
		s := newService(t, src)
		got, err := s.Summary(ctx, 1, Day)
		require.NoError(t, err)
		require.Contains(t, got, "📊 <b>Сводка за день</b>")
		require.Contains(t, got, "📅 14.10.2026 - 15.10.2026")
		require.Contains(t, got, "🔍 Всего проверок: 4")
		require.Contains(t, got, "✅ Годно: 2 (50.0%)")
		require.Contains(t, got, "🔧 В доработку: 1 (25.0%)")
		require.Contains(t, got, "🎯 <b>Общая успешность: 50.0%</b>")
		require.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), src.from)
	})
}

func sample() []store.Inspection {
	at := time.Date(2026, 10, 14, 9, 5, 0, 0, time.UTC)
	return []store.Inspection{
		{UserID: 7, UserName: "Иван", SessionID: "0f9c2a7e-1111-2222-3333-444455556666", OrderID: "10409", Status: llm.StatusRework, Comment: "не подходит", CreatedAt: at},
		{UserID: 7, SessionID: "short", OrderID: "10410", Status: llm.StatusApproved, CreatedAt: at.Add(time.Minute)},
	}
}

func TestCSV(t *testing.T) {
	ctx := context.Background()

	t.Run("empty period", func(t *testing.T) {
		s := newService(t, &fakeSource{})
		_, err := s.CSV(ctx, 7, Day)
		require.ErrorIs(t, err, ErrEmpty)
	})

	s := newService(t, &fakeSource{list: sample()})
	path, err := s.CSV(ctx, 7, Week)
	require.NoError(t, err)
	require.Equal(t, "otk_weekly_report_user7_2026-W42.csv", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, columns, rows[0])
	require.Equal(t, []string{"2026-10-14 09:05:00", "10409", "в доработку", "не подходит", "Иван", "0f9c2a7e..."}, rows[1])
	require.Equal(t, "User_7", rows[2][4])
	require.Equal(t, "short...", rows[2][5])
}

func TestXLSX(t *testing.T) {
	s := newService(t, &fakeSource{list: sample()})
	path, err := s.XLSX(context.Background(), 7, Day)
	require.NoError(t, err)
	require.Equal(t, "otk_daily_report_user7_2026-10-14.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Номер заказа", rows[0][1])
	require.Equal(t, "10409", rows[1][1])
}

func TestCleanupOld(t *testing.T) {
	s := newService(t, &fakeSource{})
	old := filepath.Join(s.dir, "old.csv")
	fresh := filepath.Join(s.dir, "fresh.xlsx")
	other := filepath.Join(s.dir, "keep.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))
	require.NoError(t, os.Chtimes(fresh, now, now))

	require.Equal(t, 1, s.CleanupOld(24*time.Hour))
	require.NoFileExists(t, old)
	require.FileExists(t, fresh)
	require.FileExists(t, other)
}

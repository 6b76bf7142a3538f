package store

import (
	"context"
	"math"
	"strings"
	"time"

	"otk-bot/api/internal/apperr"
	"otk-bot/api/internal/llm"
)

// Inspection: одна строка журнала проверок.
type Inspection struct {
	ID        int64
	UserID    int64
	UserName  string
	SessionID string
	OrderID   string
	Status    llm.Status
	Comment   string
	CreatedAt time.Time
}

type Statistics struct {
	Total        int     `json:"total"`
	Approved     int     `json:"approved"`
	Rework       int     `json:"rework"`
	Rejected     int     `json:"rejected"`
	UniqueOrders int     `json:"unique_orders"`
	WithComments int     `json:"with_comments"`
	SuccessRate  float64 `json:"success_rate"`
}

// SaveRecords пишет заказы сессии одной транзакцией и возвращает число сохранённых строк.
// Заказы без статуса пропускаются. Повторный вызов для той же сессии ничего не пишет
// и возвращает уже сохранённое количество.
func (s *Store) SaveRecords(ctx context.Context, userID int64, sessionID string, orders []llm.OrderRecord) (int, error) {
	savable := make([]llm.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o.Status.Valid() && strings.TrimSpace(o.OrderID) != "" {
			savable = append(savable, o)
		}
	}
	if len(savable) == 0 {
		return 0, apperr.Validation("❌ Нет заказов со статусом для сохранения")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, s.q(`select count(*) from inspections where session_id = $1`), sessionID).Scan(&existing); err != nil {
		return 0, apperr.Persistence("check session", err)
	}
	if existing > 0 {
		return existing, nil
	}

	const q = `
insert into inspections (user_id, session_id, order_id, status, comment, created_at)
values ($1, $2, $3, $4, $5, $6)`
	stmt, err := tx.PrepareContext(ctx, s.q(q))
	if err != nil {
		return 0, apperr.Persistence("prepare insert", err)
	}
	defer stmt.Close()

	now := s.ts(s.now())
	for _, o := range savable {
		var comment any
		if c := strings.TrimSpace(o.CommentText()); c != "" {
			comment = c
		}
		if _, err := stmt.ExecContext(ctx, userID, sessionID, o.OrderID, string(o.Status), comment, now); err != nil {
			return 0, apperr.Persistence("insert inspection", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Persistence("commit", err)
	}
	return len(savable), nil
}

// GetStatistics: агрегаты пользователя за [from, to).
func (s *Store) GetStatistics(ctx context.Context, userID int64, from, to time.Time) (Statistics, error) {
	const q = `
select
  count(*),
  coalesce(sum(case when status = $4 then 1 else 0 end), 0),
  coalesce(sum(case when status = $5 then 1 else 0 end), 0),
  coalesce(sum(case when status = $6 then 1 else 0 end), 0),
  count(distinct order_id),
  coalesce(sum(case when comment is not null and comment <> '' then 1 else 0 end), 0)
from inspections
where user_id = $1 and created_at >= $2 and created_at < $3`

	var st Statistics
	err := s.DB.QueryRowContext(ctx, s.q(q), userID, s.ts(from), s.ts(to),
		string(llm.StatusApproved), string(llm.StatusRework), string(llm.StatusRejected),
	).Scan(&st.Total, &st.Approved, &st.Rework, &st.Rejected, &st.UniqueOrders, &st.WithComments)
	if err != nil {
		return Statistics{}, apperr.Persistence("statistics", err)
	}
	st.SuccessRate = SuccessRate(st.Approved, st.Total)
	return st, nil
}

// SuccessRate: доля годных в процентах, один знак после запятой.
func SuccessRate(approved, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(approved)*1000/float64(total)) / 10
}

// ListInspections: записи пользователя за [from, to) в порядке создания.
func (s *Store) ListInspections(ctx context.Context, userID int64, from, to time.Time) ([]Inspection, error) {
	const q = `
select i.id, i.user_id, coalesce(u.name, ''), i.session_id, i.order_id, i.status, coalesce(i.comment, ''), i.created_at
from inspections i
left join users u on u.telegram_id = i.user_id
where i.user_id = $1 and i.created_at >= $2 and i.created_at < $3
order by i.created_at, i.id`

	rows, err := s.DB.QueryContext(ctx, s.q(q), userID, s.ts(from), s.ts(to))
	if err != nil {
		return nil, apperr.Persistence("list inspections", err)
	}
	defer rows.Close()

	var out []Inspection
	for rows.Next() {
		var (
			it     Inspection
			status string
			at     dbTime
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.UserName, &it.SessionID, &it.OrderID, &status, &it.Comment, &at); err != nil {
			return nil, apperr.Persistence("scan inspection", err)
		}
		it.Status = llm.Status(status)
		it.CreatedAt = at.Time
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list inspections", err)
	}
	return out, nil
}

package store

import (
	"context"
	"time"

	"otk-bot/api/internal/apperr"
)

const (
	DialoguePending   = "pending"
	DialogueConfirmed = "confirmed"
)

type Dialogue struct {
	ID          int64
	SessionID   string
	UserID      int64
	UserMessage string
	LLMResponse string
	Status      string
	CreatedAt   time.Time
}

// SaveDialogue журналирует обмен "сообщение пользователя / ответ модели" как pending.
func (s *Store) SaveDialogue(ctx context.Context, sessionID string, userID int64, userMessage, llmResponse string) error {
	const q = `
insert into dialogues (session_id, user_id, user_message, llm_response, status, created_at)
values ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.ExecContext(ctx, s.q(q), sessionID, userID, userMessage, llmResponse, DialoguePending, s.ts(s.now()))
	if err != nil {
		return apperr.Persistence("save dialogue", err)
	}
	return nil
}

// ConfirmDialogues переводит pending-записи сессии в confirmed.
func (s *Store) ConfirmDialogues(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`update dialogues set status = $2 where session_id = $1 and status = $3`),
		sessionID, DialogueConfirmed, DialoguePending)
	if err != nil {
		return 0, apperr.Persistence("confirm dialogues", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeletePendingDialogues: при отмене сессии.
func (s *Store) DeletePendingDialogues(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`delete from dialogues where session_id = $1 and status = $2`),
		sessionID, DialoguePending)
	if err != nil {
		return 0, apperr.Persistence("delete dialogues", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeOlderThan удаляет журнал диалогов старше cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`delete from dialogues where created_at < $1`), s.ts(cutoff))
	if err != nil {
		return 0, apperr.Persistence("purge dialogues", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Dialogues(ctx context.Context, sessionID string) ([]Dialogue, error) {
	const q = `
select id, session_id, user_id, user_message, llm_response, status, created_at
from dialogues where session_id = $1 order by id`
	rows, err := s.DB.QueryContext(ctx, s.q(q), sessionID)
	if err != nil {
		return nil, apperr.Persistence("list dialogues", err)
	}
	defer rows.Close()

	var out []Dialogue
	for rows.Next() {
		var (
			d  Dialogue
			at dbTime
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.UserID, &d.UserMessage, &d.LLMResponse, &d.Status, &at); err != nil {
			return nil, apperr.Persistence("scan dialogue", err)
		}
		d.CreatedAt = at.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"otk-bot/api/internal/apperr"
)

type User struct {
	ID         int64
	TelegramID int64
	Name       string
	Role       string
	CreatedAt  time.Time
}

// EnsureUser создаёт пользователя при первом обращении; потом обновляет только имя.
func (s *Store) EnsureUser(ctx context.Context, telegramID int64, name string) error {
	const q = `
insert into users (telegram_id, name, created_at)
values ($1, $2, $3)
on conflict (telegram_id) do update set name = excluded.name`
	if _, err := s.DB.ExecContext(ctx, s.q(q), telegramID, name, s.ts(s.now())); err != nil {
		return apperr.Persistence("ensure user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, telegramID int64) (User, error) {
	const q = `select id, telegram_id, name, role, created_at from users where telegram_id = $1`
	var (
		u  User
		at dbTime
	)
	err := s.DB.QueryRowContext(ctx, s.q(q), telegramID).Scan(&u.ID, &u.TelegramID, &u.Name, &u.Role, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.New(apperr.KindNotFound, "user not found", err)
	}
	if err != nil {
		return User{}, apperr.Persistence("get user", err)
	}
	u.CreatedAt = at.Time
	return u, nil
}

package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`create table if not exists users (
  id          bigserial primary key,
  telegram_id bigint not null unique,
  name        text not null default '',
  role        text not null default 'controller',
  created_at  timestamptz not null
)`,
	`create table if not exists inspections (
  id         bigserial primary key,
  user_id    bigint not null,
  session_id text not null,
  order_id   text not null,
  status     text not null,
  comment    text,
  created_at timestamptz not null
)`,
	`create index if not exists inspections_user_created_idx on inspections (user_id, created_at)`,
	`create index if not exists inspections_session_idx on inspections (session_id)`,
	`create table if not exists dialogues (
  id           bigserial primary key,
  session_id   text not null,
  user_id      bigint not null,
  user_message text not null,
  llm_response text not null,
  status       text not null default 'pending',
  created_at   timestamptz not null
)`,
	`create index if not exists dialogues_session_idx on dialogues (session_id)`,
}

var sqliteSchema = []string{
	`create table if not exists users (
  id          integer primary key autoincrement,
  telegram_id integer not null unique,
  name        text not null default '',
  role        text not null default 'controller',
  created_at  text not null
)`,
	`create table if not exists inspections (
  id         integer primary key autoincrement,
  user_id    integer not null,
  session_id text not null,
  order_id   text not null,
  status     text not null,
  comment    text,
  created_at text not null
)`,
	`create index if not exists inspections_user_created_idx on inspections (user_id, created_at)`,
	`create index if not exists inspections_session_idx on inspections (session_id)`,
	`create table if not exists dialogues (
  id           integer primary key autoincrement,
  session_id   text not null,
  user_id      integer not null,
  user_message text not null,
  llm_response text not null,
  status       text not null default 'pending',
  created_at   text not null
)`,
	`create index if not exists dialogues_session_idx on dialogues (session_id)`,
}

// Migrate создаёт таблицы, если их нет. Повторный вызов безопасен.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

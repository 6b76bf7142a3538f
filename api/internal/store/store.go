package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"             // sqlite driver
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store: хранилище пользователей, проверок и диалогов поверх database/sql.
type Store struct {
	DB      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{DB: db, dialect: d, now: time.Now}
}

// WithClock: для тестов.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Dialect() Dialect { return s.dialect }

// DialectOf: postgres:// | postgresql:// -> Postgres, всё остальное -> SQLite.
func DialectOf(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// SQLiteFile: путь к файлу базы из sqlite://path | file:path | path. Для :memory: и postgres пусто.
func SQLiteFile(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if DialectOf(dsn) != SQLite {
		return ""
	}
	file := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if file == ":memory:" {
		return ""
	}
	return file
}

// Open: postgres:// | postgresql:// -> pgx; sqlite://path | file:path | path -> sqlite.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if DialectOf(dsn) == Postgres {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return New(db, Postgres), nil
	}

	if file := SQLiteFile(dsn); file != "" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(path, "?") {
		path += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: один писатель
	return New(db, SQLite), nil
}

// Snapshot пишет согласованную копию sqlite-базы в path (VACUUM INTO). Файл path не должен существовать.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if s.dialect != SQLite {
		return fmt.Errorf("snapshot: unsupported dialect %s", s.dialect)
	}
	lit := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	if _, err := s.DB.ExecContext(ctx, "VACUUM INTO "+lit); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// q приводит запрос к диалекту: в SQLite $N -> ?N.
func (s *Store) q(query string) string {
	if s.dialect == SQLite {
		return placeholderRe.ReplaceAllString(query, "?$1")
	}
	return query
}

// ts: время в БД в UTC с точностью до секунды, в SQLite текстом, сравнимым лексически.
func (s *Store) ts(t time.Time) any {
	t = t.UTC().Truncate(time.Second)
	if s.dialect == SQLite {
		return t.Format(sqliteTime)
	}
	return t
}

const sqliteTime = "2006-01-02 15:04:05"

// dbTime читает время из обоих драйверов: time.Time (pgx) или строка (sqlite).
type dbTime struct{ time.Time }

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	}
	return fmt.Errorf("dbTime: unsupported %T", v)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{sqliteTime, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02T15:04:05"} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("dbTime: bad value %q", s)
}

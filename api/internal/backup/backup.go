package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"otk-bot/api/internal/store"
)

// Prefix: все файлы бэкапов начинаются с него, Cleanup трогает только их.
const Prefix = "otk_backup_"

const stamp = "20060102_150405"

// Runner запускает внешнюю утилиту (pg_dump, psql).
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if errors.Is(err, exec.ErrNotFound) {
		return out, fmt.Errorf("%s не найден: установите PostgreSQL client tools", name)
	}
	return out, err
}

// Snapshotter: копия sqlite-базы без остановки писателя.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

type Service struct {
	dsn string
	dir string
	run Runner
	now func() time.Time
	log *zap.Logger
}

type Option func(*Service)

func WithRunner(r Runner) Option { return func(s *Service) { s.run = r } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New: dir это каталог бэкапов, создаётся при необходимости.
func New(dsn, dir string, log *zap.Logger, opts ...Option) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	s := &Service{dsn: dsn, dir: dir, run: execRunner, now: time.Now, log: log.Named("backup")}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Create снимает бэкап: sqlite через db.Snapshot, postgres через pg_dump.
// archive=true упаковывает результат в tar.gz и удаляет исходник.
func (s *Service) Create(ctx context.Context, db Snapshotter, archive bool) (string, error) {
	ts := s.now().Format(stamp)
	var path string
	switch store.DialectOf(s.dsn) {
	case store.SQLite:
		if db == nil {
			return "", errors.New("sqlite backup needs an open store")
		}
		path = filepath.Join(s.dir, Prefix+ts+".db")
		if err := db.Snapshot(ctx, path); err != nil {
			return "", err
		}
	default:
		path = filepath.Join(s.dir, Prefix+ts+".sql")
		if err := s.pgDump(ctx, path); err != nil {
			return "", err
		}
	}
	s.log.Info("backup created", zap.String("path", path))
	if !archive {
		return path, nil
	}
	arch, err := packFile(path)
	if err != nil {
		return "", err
	}
	_ = os.Remove(path)
	s.log.Info("backup archived", zap.String("path", arch))
	return arch, nil
}

// Restore заменяет текущую базу содержимым бэкапа. Перед заменой текущая база сохраняется рядом.
func (s *Service) Restore(ctx context.Context, path string) error {
	if isArchive(path) {
		tmp, err := os.MkdirTemp(s.dir, "restore_")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		if path, err = unpackFirst(path, tmp); err != nil {
			return err
		}
	}

	switch store.DialectOf(s.dsn) {
	case store.SQLite:
		file := store.SQLiteFile(s.dsn)
		if file == "" {
			return errors.New("restore: in-memory database")
		}
		if _, err := os.Stat(file); err == nil {
			keep := file + ".before_restore_" + s.now().Format(stamp)
			if err := copyFile(file, keep); err != nil {
				return fmt.Errorf("keep current db: %w", err)
			}
			s.log.Info("current db kept", zap.String("path", keep))
		}
		if err := copyFile(path, file); err != nil {
			return fmt.Errorf("restore sqlite: %w", err)
		}
	default:
		keep := filepath.Join(s.dir, Prefix+s.now().Format(stamp)+"_before_restore.sql")
		if err := s.pgDump(ctx, keep); err != nil {
			// восстановление важнее: продолжаем без страховочной копии
			s.log.Warn("current db not kept", zap.Error(err))
		}
		dsn, env := pgConn(s.dsn)
		if out, err := s.run(ctx, env, "psql", "--dbname="+dsn, "--set=ON_ERROR_STOP=1", "--file="+path); err != nil {
			return fmt.Errorf("psql: %w: %s", err, strings.TrimSpace(string(out)))
		}
	}
	s.log.Info("database restored", zap.String("from", path))
	return nil
}

// Cleanup удаляет бэкапы старше maxAge. Чужие файлы в каталоге не трогает.
func (s *Service) Cleanup(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("old backups removed", zap.Int("count", removed))
	}
	return removed
}

func (s *Service) pgDump(ctx context.Context, path string) error {
	dsn, env := pgConn(s.dsn)
	if out, err := s.run(ctx, env, "pg_dump", "--dbname="+dsn, "--no-owner", "--file="+path); err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// pgConn убирает пароль из DSN в PGPASSWORD, чтобы он не попал в список процессов.
func pgConn(dsn string) (string, []string) {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn, nil
	}
	pass, ok := u.User.Password()
	if !ok {
		return dsn, nil
	}
	u.User = url.User(u.User.Username())
	return u.String(), []string{"PGPASSWORD=" + pass}
}

func isArchive(path string) bool {
	return strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz")
}

func packFile(path string) (string, error) {
	arch := strings.TrimSuffix(path, filepath.Ext(path)) + ".tar.gz"
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	out, err := os.Create(arch)
	if err != nil {
		return "", err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	hdr, err := tar.FileInfoHeader(info, "")
	if err == nil {
		hdr.Name = filepath.Base(path)
		err = tw.WriteHeader(hdr)
	}
	if err == nil {
		_, err = io.Copy(tw, src)
	}
	for _, c := range []io.Closer{tw, gz, out} {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		_ = os.Remove(arch)
		return "", fmt.Errorf("archive: %w", err)
	}
	return arch, nil
}

// unpackFirst достаёт из архива первый .db или .sql в dir.
func unpackFirst(arch, dir string) (string, error) {
	f, err := os.Open(arch)
	if err != nil {
		return "", err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", errors.New("в архиве нет файла базы (.db или .sql)")
		}
		if err != nil {
			return "", fmt.Errorf("archive: %w", err)
		}
		name := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || (filepath.Ext(name) != ".db" && filepath.Ext(name) != ".sql") {
			continue
		}
		dst := filepath.Join(dir, name)
		out, err := os.Create(dst)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("archive: %w", err)
		}
		return dst, nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

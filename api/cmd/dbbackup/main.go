// dbbackup снимает и восстанавливает бэкап базы бота.
//
//	dbbackup backup [-out backups] [-archive] [-keep-days 7] [-no-cleanup]
//	dbbackup restore [-force] <файл>
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"otk-bot/api/internal/backup"
	"otk-bot/api/internal/config"
	"otk-bot/api/internal/logger"
	"otk-bot/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = config.DefaultDatabaseURL
	}

	log, err := logger.New(logger.Options{Level: "info", Console: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], dsn, os.Stdin, log); err != nil {
		log.Error("dbbackup failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, dsn string, stdin io.Reader, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: dbbackup backup|restore [flags]")
	}
	switch args[0] {
	case "backup":
		return runBackup(ctx, args[1:], dsn, log)
	case "restore":
		return runRestore(ctx, args[1:], dsn, stdin, log)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func runBackup(ctx context.Context, args []string, dsn string, log *zap.Logger) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	var (
		out       = fs.String("out", "backups", "каталог бэкапов")
		archive   = fs.Bool("archive", false, "упаковать в tar.gz")
		keepDays  = fs.Int("keep-days", 7, "сколько дней хранить старые бэкапы")
		noCleanup = fs.Bool("no-cleanup", false, "не удалять старые бэкапы")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := backup.New(dsn, *out, log)
	if err != nil {
		return err
	}
	var db backup.Snapshotter
	if store.DialectOf(dsn) == store.SQLite {
		st, err := store.Open(dsn)
		if err != nil {
			return err
		}
		defer st.Close()
		db = st
	}

	path, err := svc.Create(ctx, db, *archive)
	if err != nil {
		return err
	}
	if !*noCleanup {
		svc.Cleanup(time.Duration(*keepDays) * 24 * time.Hour)
	}
	log.Info("backup done", zap.String("path", path))
	return nil
}

func runRestore(ctx context.Context, args []string, dsn string, stdin io.Reader, log *zap.Logger) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	force := fs.Bool("force", false, "без подтверждения")
	dir := fs.String("out", "backups", "каталог для страховочной копии")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dbbackup restore [-force] <file>")
	}
	path := fs.Arg(0)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup file: %w", err)
	}
	if !*force && !confirm(stdin) {
		log.Info("restore cancelled")
		return nil
	}

	svc, err := backup.New(dsn, *dir, log)
	if err != nil {
		return err
	}
	if err := svc.Restore(ctx, path); err != nil {
		return err
	}
	log.Info("restore done, restart the bot", zap.String("from", path))
	return nil
}

func confirm(stdin io.Reader) bool {
	fmt.Print("⚠️ Текущая база будет перезаписана. Продолжить? (y/N): ")
	line, _ := bufio.NewReader(stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "да":
		return true
	}
	return false
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"otk-bot/api/internal/config"
	"otk-bot/api/internal/httpserver"
	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/logger"
	"otk-bot/api/internal/media"
	"otk-bot/api/internal/pipeline"
	"otk-bot/api/internal/report"
	"otk-bot/api/internal/session"
	"otk-bot/api/internal/store"
	"otk-bot/api/internal/telegram"
)

const (
	maintenanceInterval = time.Hour
	cacheMaxAge         = 24 * time.Hour
	reportMaxAge        = 24 * time.Hour
	dialogueRetention   = 90 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Console: cfg.LogConsole, JSON: cfg.LogJSON})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting", zap.String("env", cfg.Env), zap.String("port", cfg.Port))

	// --- storage ---
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := st.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info("db connected", zap.String("dsn", safeDSNSummary(cfg.DatabaseURL)))

	// --- providers ---
	clients, err := buildRegistry(cfg, llm.LoadPrompts(cfg.PromptsDir), log)
	if err != nil {
		return err
	}
	{
		readyCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
		if err := clients.EnsureReady(readyCtx); err != nil {
			// бот работает и без модели: извлечение вернёт просьбу повторить
			log.Error("provider not ready", zap.Error(err))
		}
		cancel()
	}
	{
		pingCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
		a := clients.Availability(pingCtx)
		cancel()
		logAvailability(log, clients, a)
	}

	// --- components ---
	// метка "занят" переживает худший случай: все ретраи провайдера плюс запас
	inflight := cfg.HTTPTimeout*time.Duration(cfg.HTTPRetries+1) + 30*time.Second
	sessions := session.NewStore(cfg.SessionTimeout, log, session.WithInflightTTL(inflight))
	go sessions.RunSweeper(ctx, cfg.SweepInterval)

	cache, err := media.New(media.Dirs{
		Photos: cfg.CachePhotosDir,
		Audio:  cfg.CacheAudioDir,
		Temp:   filepath.Join(cfg.CacheDir, "temp"),
	}, media.Limits{
		MaxImageMB:     cfg.MaxImageMB,
		MaxImageWidth:  cfg.MaxImageWidth,
		MaxImageHeight: cfg.MaxImageHeight,
		MaxAudioMB:     cfg.MaxAudioMB,
		MaxAudioMin:    cfg.MaxAudioMin,
	}, log)
	if err != nil {
		return err
	}
	reports, err := report.New(st, filepath.Join(cfg.CacheDir, "reports"), log)
	if err != nil {
		return err
	}
	go maintenance(ctx, st, cache, reports, log)

	pipe := pipeline.New(sessions, clients, st, reports, cache, log)

	// --- telegram ---
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	log.Info("telegram authorized", zap.String("bot", bot.Self.UserName))
	router := telegram.NewRouter(bot, pipe, log)

	srv := httpserver.New(st, clients, sessions.Len, log)
	addr := "0.0.0.0:" + cfg.Port

	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		return runWebhook(ctx, addr, bot, router, srv, webhookURL, log)
	}
	return runPollingMode(ctx, addr, bot, router, srv, log)
}

// maintenance чистит кэш медиа, старые отчёты и журнал диалогов.
func maintenance(ctx context.Context, st *store.Store, cache *media.Cache, reports *report.Service, log *zap.Logger) {
	t := time.NewTicker(maintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		files := cache.Cleanup(cacheMaxAge)
		old := reports.CleanupOld(reportMaxAge)
		dialogues, err := st.PurgeOlderThan(ctx, time.Now().Add(-dialogueRetention))
		if err != nil {
			log.Error("purge dialogues", zap.Error(err))
		}
		if files+old > 0 || dialogues > 0 {
			log.Info("maintenance", zap.Int("cache_files", files), zap.Int("reports", old), zap.Int64("dialogues", dialogues))
		}
	}
}

// ---------------- Modes -----------------

func runWebhook(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, srv *httpserver.Server, baseURL string, log *zap.Logger) error {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	srv.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			log.Warn("bad webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.Dispatch(ctx, *upd)
	}))

	log.Info("webhook mode", zap.String("addr", addr), zap.String("path", path))
	return srv.ListenAndServe(ctx, addr)
}

func runPollingMode(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, srv *httpserver.Server, log *zap.Logger) error {
	// вебхук, оставшийся от прошлого запуска, блокирует getUpdates
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn("delete webhook", zap.Error(err))
	}

	// healthz нужен и в polling
	go func() {
		if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server", zap.Error(err))
		}
	}()

	log.Info("polling mode", zap.String("health", addr+"/healthz"))
	runPolling(ctx, bot, func(upd tgbotapi.Update) { r.Dispatch(ctx, upd) }, log)
	return nil
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update), log *zap.Logger) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			log.Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			if !sleep(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 && !sleep(ctx, 200*time.Millisecond) {
			return
		}
	}
}

// sleep возвращает false, если ctx отменён.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// лёгкий хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return fmt.Sprintf("%016x", h)
}

func safeDSNSummary(dsn string) string {
	lower := strings.ToLower(dsn)
	if !strings.HasPrefix(lower, "postgres://") && !strings.HasPrefix(lower, "postgresql://") {
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return "sqlite path=" + path
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}

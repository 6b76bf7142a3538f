package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"otk-bot/api/internal/llm"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Prober interface {
	Availability(ctx context.Context) llm.Availability
}

type Health struct {
	Status    string           `json:"status"`
	Database  string           `json:"database"`
	Providers llm.Availability `json:"providers"`
	Sessions  int              `json:"sessions"`
}

// Server: /healthz и webhook на одном mux.
type Server struct {
	mux      *http.ServeMux
	db       Pinger
	probe    Prober
	sessions func() int
	avail    *cache.Cache
	log      *zap.Logger
}

// New: sessions может быть nil.
func New(db Pinger, probe Prober, sessions func() int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		mux:      http.NewServeMux(),
		db:       db,
		probe:    probe,
		sessions: sessions,
		avail:    cache.New(30*time.Second, time.Minute), // провайдеры пингуем не чаще раза в 30с
		log:      log.Named("http"),
	}
	s.mux.HandleFunc("/healthz", s.healthz)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("otk quality control bot"))
	})
	return s
}

func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) providers(ctx context.Context) llm.Availability {
	if v, ok := s.avail.Get("a"); ok {
		return v.(llm.Availability)
	}
	a := s.probe.Availability(ctx)
	s.avail.SetDefault("a", a)
	return a
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h := Health{Status: "ok", Database: "ok"}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn("healthz: db ping failed", zap.Error(err))
		h.Status, h.Database = "degraded", "error: "+err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.probe != nil {
		h.Providers = s.providers(ctx)
	}
	if s.sessions != nil {
		h.Sessions = s.sessions()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(h)
}

// ListenAndServe работает до отмены ctx, затем даёт 10с на завершение запросов.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

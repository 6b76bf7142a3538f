package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/llm"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type prober struct{ calls int }

func (p *prober) Availability(context.Context) llm.Availability {
	p.calls++
	return llm.Availability{Text: true, Speech: true}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		dbErr  error
		code   int
		status string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &prober{}
			s := New(pinger{tt.dbErr}, p, func() int { return 3 }, nil)

			for i := 0; i < 2; i++ {
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
				require.Equal(t, tt.code, rec.Code)

				var h Health
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
				require.Equal(t, tt.status, h.Status)
				require.Equal(t, llm.Availability{Text: true, Speech: true}, h.Providers)
				require.Equal(t, 3, h.Sessions)
			}
			require.Equal(t, 1, p.calls)
		})
	}
}

func TestRoutes(t *testing.T) {
	s := New(pinger{}, nil, nil, nil)
	s.Handle("/webhook/abc", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	tests := []struct {
		path string
		code int
	}{
		{"/", http.StatusOK},
		{"/webhook/abc", http.StatusAccepted},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
		require.Equal(t, tt.code, rec.Code, tt.path)
	}
}

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryClient(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		retries   int
		wantCode  int
		wantCalls int32
	}{
		{"ok first", []int{200}, 2, 200, 1},
		{"5xx then ok", []int{502, 200}, 2, 200, 2},
		{"429 exhausted", []int{429, 429, 429, 429}, 2, 429, 3},
		{"4xx not retried", []int{400, 200}, 2, 400, 1},
		{"no retries", []int{500, 200}, 0, 500, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.codes[int(n)-1])
			}))
			defer srv.Close()

			c := NewRetryClient(5*time.Second, tc.retries, time.Millisecond)
			resp, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			})
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.wantCode, resp.StatusCode)
			require.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestRetryClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	var builds int
	c := NewRetryClient(time.Second, 1, time.Millisecond)
	_, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		builds++
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	require.Error(t, err)
	require.Equal(t, 2, builds)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	err = StatusError("openrouter chat", resp)
	require.EqualError(t, err, "openrouter chat 401: bad key")
	require.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

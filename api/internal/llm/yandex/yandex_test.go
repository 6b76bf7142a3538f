package yandex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/llm"
)

type cloud struct {
	iamCalls   int32
	rejectOnce int32 // первый запрос к API получает 401
	lastBody   map[string]any
	lastAuth   string
	reply      string
}

func (c *cloud) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/iam", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&c.iamCalls, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "oauth", body["yandexPassportOauthToken"])
		_ = json.NewEncoder(w).Encode(map[string]string{"iamToken": "t" + string(rune('0'+n))})
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		if atomic.CompareAndSwapInt32(&c.rejectOnce, 1, 0) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "folder", r.Header.Get("x-folder-id"))
		c.lastAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c.lastBody))
		_, _ = io.WriteString(w, c.reply)
	})
	return httptest.NewServer(mux)
}

func testIam(url string) *IamClient {
	c := NewIamClient("oauth")
	c.url = url + "/iam"
	return c
}

func TestIamTokenCached(t *testing.T) {
	cl := &cloud{}
	srv := cl.server(t)
	defer srv.Close()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iam := testIam(srv.URL)
	iam.now = func() time.Time { return now }

	tok, err := iam.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "t1", tok)
	tok, _ = iam.Token(context.Background())
	require.Equal(t, "t1", tok)
	require.EqualValues(t, 1, atomic.LoadInt32(&cl.iamCalls))

	now = now.Add(11*time.Hour - 30*time.Second)
	tok, _ = iam.Token(context.Background())
	require.Equal(t, "t2", tok)
}

func TestOCR(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"full text", `{"result":{"textAnnotation":{"fullText":" #с10409 годно "}}}`, "#с10409 годно"},
		{"lines", `{"result":{"textAnnotation":{"blocks":[{"lines":[{"text":"#10494"},{"text":" "},{"text":"брак"}]}]}}}`, "#10494\nбрак"},
		{"no annotation", `{"result":{}}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cl := &cloud{reply: tc.reply}
			srv := cl.server(t)
			defer srv.Close()

			e := NewOCR(testIam(srv.URL), "folder", llm.NewRetryClient(5*time.Second, 0, 0))
			e.url = srv.URL + "/api"
			out, err := e.ReadImage(context.Background(), "ignored", "image/png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
			require.NoError(t, err)
			require.Equal(t, tc.want, out)
			require.Equal(t, "PNG", cl.lastBody["mimeType"])
			require.Equal(t, "handwritten", cl.lastBody["model"])
		})
	}
}

func TestGPTRetriesOnUnauthorized(t *testing.T) {
	cl := &cloud{rejectOnce: 1, reply: `{"result":{"alternatives":[{"message":{"role":"assistant","text":" {\"orders\":[]} "}}]}}`}
	srv := cl.server(t)
	defer srv.Close()

	g := NewGPT(testIam(srv.URL), "folder", "yandexgpt-lite/latest", llm.NewRetryClient(5*time.Second, 0, 0))
	g.url = srv.URL + "/api"
	out, err := g.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, `{"orders":[]}`, out)

	require.EqualValues(t, 2, atomic.LoadInt32(&cl.iamCalls))
	require.Equal(t, "Bearer t2", cl.lastAuth)
	require.Equal(t, "gpt://folder/yandexgpt-lite/latest", cl.lastBody["modelUri"])
	opts := cl.lastBody["completionOptions"].(map[string]any)
	require.Equal(t, "2000", opts["maxTokens"])
	msgs := cl.lastBody["messages"].([]any)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Equal(t, "user", msgs[1].(map[string]any)["text"])
}

func TestPing(t *testing.T) {
	cl := &cloud{}
	srv := cl.server(t)
	defer srv.Close()

	require.NoError(t, NewGPT(testIam(srv.URL), "folder", "m", nil).Ping(context.Background()))
	require.Error(t, NewOCR(testIam(srv.URL), "", nil).Ping(context.Background()))
}

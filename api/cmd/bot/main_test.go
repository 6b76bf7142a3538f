package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"otk-bot/api/internal/config"
	"otk-bot/api/internal/llm"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryDelayFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"nil", nil, 0},
		{"retry after", errors.New("Too Many Requests: retry after 7"), 7 * time.Second},
		{"429 without hint", errors.New("too many requests"), 3 * time.Second},
		{"timeout", timeoutErr{}, 2 * time.Second},
		{"other", errors.New("boom"), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retryDelayFromError(tt.err))
		})
	}
}

func TestShortHash(t *testing.T) {
	h := shortHash("123:abc")
	require.Len(t, h, 16)
	require.Equal(t, h, shortHash("123:abc"))
	require.NotEqual(t, h, shortHash("123:abd"))
}

func TestSafeDSNSummary(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://otk:secret@db:5432/otk?sslmode=disable", "host=db port=5432 db=otk user=otk"},
		{"postgresql://otk:secret@db/otk", "host=db db=otk user=otk"},
		{"sqlite://data/otk.db", "sqlite path=data/otk.db"},
		{"file:data/otk.db?_pragma=foreign_keys(1)", "sqlite path=data/otk.db"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			got := safeDSNSummary(tt.dsn)
			require.Equal(t, tt.want, got)
			require.NotContains(t, got, "secret")
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	base := config.Config{
		TextModel:        "m",
		VisionModel:      "openai/gpt-4o-mini",
		SpeechModel:      "whisper-1",
		HTTPTimeout:      time.Second,
		OllamaTimeout:    time.Second,
		MaxResponseChars: 1000,
	}
	tests := []struct {
		llm, vision, speech string
		want                [3]string
	}{
		{"openrouter", "openrouter", "whisper", [3]string{"openrouter", "openrouter", "whisper"}},
		{"ollama", "gemini", "local_whisper", [3]string{"ollama", "gemini", "local_whisper"}},
		{"lmstudio", "gpt4_vision", "whisper", [3]string{"lmstudio", "openai", "whisper"}},
		{"yandex", "yandex_ocr", "whisper", [3]string{"yandex", "yandex_ocr", "whisper"}},
		{"gemini", "openrouter", "whisper", [3]string{"gemini", "openrouter", "whisper"}},
	}
	for _, tt := range tests {
		t.Run(tt.llm+"/"+tt.vision, func(t *testing.T) {
			cfg := base
			cfg.LLMProvider, cfg.VisionProvider, cfg.SpeechProvider = tt.llm, tt.vision, tt.speech
			reg, err := buildRegistry(&cfg, llm.DefaultPrompts(), zap.NewNop())
			require.NoError(t, err)
			require.Equal(t, tt.want, [3]string{reg.Text.Name(), reg.Vision.Name(), reg.Speech.Name()})
		})
	}

	cfg := base
	cfg.LLMProvider = "mystery"
	_, err := buildRegistry(&cfg, llm.DefaultPrompts(), zap.NewNop())
	require.Error(t, err)
}

func TestVisionModelNames(t *testing.T) {
	require.Equal(t, "gpt-4o-mini", openAIVisionModel("openai/gpt-4o-mini"))
	require.Equal(t, "gpt-4o", openAIVisionModel("gpt-4o"))
	require.Equal(t, "gemini-2.5-flash", geminiVisionModel("openai/gpt-4o-mini"))
	require.Equal(t, "gemini-1.5-pro", geminiVisionModel("gemini-1.5-pro"))
}

type namedText struct{ llm.TextClient }

func (namedText) Name() string { return "fake-text" }

func TestLogAvailability(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &llm.Registry{Text: namedText{}}

	logAvailability(zap.New(core), r, llm.Availability{Text: false})

	require.Equal(t, 1, logs.FilterMessage("provider unavailable").FilterField(zap.String("provider", "fake-text")).Len())
	require.Equal(t, 2, logs.FilterMessage("provider not configured").Len())

	logs.TakeAll()
	logAvailability(zap.New(core), r, llm.Availability{Text: true})
	require.Equal(t, 1, logs.FilterMessage("provider available").Len())
}

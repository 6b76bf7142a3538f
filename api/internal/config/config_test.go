package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")
}

func TestFromEnvDefaults(t *testing.T) {
	setBase(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	require.Equal(t, "openrouter", cfg.LLMProvider)
	require.Equal(t, "openrouter", cfg.VisionProvider)
	require.Equal(t, "whisper", cfg.SpeechProvider)
	require.Equal(t, 2048, cfg.MaxImageWidth)
	require.Equal(t, 2048, cfg.MaxImageHeight)
	require.Equal(t, 20, cfg.MaxImageMB)
	require.Equal(t, 25, cfg.MaxAudioMB)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 2, cfg.HTTPRetries)
	require.Equal(t, "http://localhost:11434", cfg.OllamaBaseURL)
	require.True(t, cfg.OllamaAutoPull)
	require.InDelta(t, 0.1, cfg.OllamaTemperature, 1e-9)
	require.Equal(t, "sqlite://data/otk.db", cfg.DatabaseURL)
}

func TestFromEnvOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("SESSION_TIMEOUT_MIN", "30")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("MAX_IMAGE_RES", "1024x768")
	t.Setenv("OLLAMA_AUTO_PULL", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	require.Equal(t, "ollama", cfg.LLMProvider)
	require.Equal(t, "qwen2.5:7b", cfg.TextModel)
	require.Equal(t, 1024, cfg.MaxImageWidth)
	require.Equal(t, 768, cfg.MaxImageHeight)
	require.False(t, cfg.OllamaAutoPull)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing token", env: map[string]string{"BOT_TOKEN": ""}, want: "BotToken"},
		{name: "unknown provider", env: map[string]string{"LLM_PROVIDER": "mystery"}, want: "LLMProvider"},
		{name: "bad int", env: map[string]string{"HTTP_RETRIES": "many"}, want: "HTTP_RETRIES"},
		{name: "bad resolution", env: map[string]string{"MAX_IMAGE_RES": "2048"}, want: "MAX_IMAGE_RES"},
		{name: "gemini without key", env: map[string]string{"LLM_PROVIDER": "gemini"}, want: "GEMINI_API_KEY"},
		{name: "zero timeout", env: map[string]string{"SESSION_TIMEOUT_MIN": "0"}, want: "SessionTimeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestYandexTextModel(t *testing.T) {
	setBase(t)
	t.Setenv("LLM_PROVIDER", "yandex")
	t.Setenv("YC_OAUTH_TOKEN", "oauth")
	t.Setenv("YC_FOLDER_ID", "b1g")
	t.Setenv("YANDEX_GPT_MODEL", "yandexgpt/latest")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "yandexgpt/latest", cfg.TextModel)
}

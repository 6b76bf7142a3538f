package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	Port       string
	BotToken   string `validate:"required"`
	WebhookURL string

	DatabaseURL string `validate:"required"`

	SessionTimeout time.Duration `validate:"min=1s"`
	SweepInterval  time.Duration `validate:"min=1s"`

	LogLevel   string `validate:"oneof=debug info warn error"`
	LogDir     string
	LogConsole bool
	LogJSON    bool

	CacheDir       string `validate:"required"`
	CachePhotosDir string `validate:"required"`
	CacheAudioDir  string `validate:"required"`
	PromptsDir     string

	MaxImageMB     int `validate:"min=1"`
	MaxImageWidth  int `validate:"min=1"`
	MaxImageHeight int `validate:"min=1"`
	MaxAudioMB     int `validate:"min=1"`
	MaxAudioMin    int `validate:"min=1"`

	LLMProvider    string `validate:"oneof=openrouter lmstudio ollama openai gemini yandex"`
	TextModel      string `validate:"required"`
	VisionProvider string `validate:"oneof=openrouter gpt4_vision gemini yandex_ocr"`
	VisionModel    string
	SpeechProvider string `validate:"oneof=whisper local_whisper"`
	SpeechModel    string

	OpenRouterAPIKey string
	OpenAIAPIKey     string
	GeminiAPIKey     string
	YCOAuthToken     string
	YCFolderID       string
	LMStudioBaseURL  string
	OllamaBaseURL    string
	WhisperBaseURL   string

	HTTPTimeout      time.Duration `validate:"min=1s"`
	HTTPRetries      int           `validate:"min=0,max=10"`
	HTTPRetryBackoff time.Duration

	OllamaAutoPull    bool
	OllamaTimeout     time.Duration `validate:"min=1s"`
	OllamaNumPredict  int           `validate:"min=1"`
	OllamaTemperature float64       `validate:"min=0,max=2"`

	MaxResponseChars int `validate:"min=256"`
}

const DefaultDatabaseURL = "sqlite://data/otk.db"

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int, errs *[]error) int {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func getFloat(k string, def float64, errs *[]error) float64 {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func getBool(k string, def bool, errs *[]error) bool {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env необязателен
	return FromEnv()
}

// FromEnv: без .env; удобно для тестов.
func FromEnv() (*Config, error) {
	var errs []error

	cacheDir := getEnv("CACHE_DIR", "cache")
	maxW, maxH, err := parseResolution(getEnv("MAX_IMAGE_RES", "2048x2048"))
	if err != nil {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_RES: %w", err))
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "openrouter"))

	cfg := &Config{
		Env:        getEnv("ENV", "development"),
		Port:       getEnv("PORT", "8080"),
		BotToken:   getEnv("BOT_TOKEN", getEnv("TELEGRAM_BOT_TOKEN", "")),
		WebhookURL: getEnv("WEBHOOK_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", DefaultDatabaseURL),

		SessionTimeout: time.Duration(getInt("SESSION_TIMEOUT_MIN", 15, &errs)) * time.Minute,
		SweepInterval:  time.Duration(getInt("SESSION_SWEEP_INTERVAL_MIN", 5, &errs)) * time.Minute,

		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogDir:     getEnv("LOG_DIR", "logs"),
		LogConsole: getBool("LOG_CONSOLE", true, &errs),
		LogJSON:    strings.EqualFold(getEnv("LOG_FORMAT", "console"), "json"),

		CacheDir:       cacheDir,
		CachePhotosDir: getEnv("CACHE_PHOTOS_DIR", cacheDir+"/photos"),
		CacheAudioDir:  getEnv("CACHE_AUDIO_DIR", cacheDir+"/audio"),
		PromptsDir:     getEnv("PROMPTS_DIR", "prompts"),

		MaxImageMB:     getInt("MAX_IMAGE_MB", 20, &errs),
		MaxImageWidth:  maxW,
		MaxImageHeight: maxH,
		MaxAudioMB:     getInt("MAX_AUDIO_MB", 25, &errs),
		MaxAudioMin:    getInt("MAX_AUDIO_MIN", 25, &errs),

		LLMProvider:    provider,
		TextModel:      getEnv("TEXT_MODEL", defaultTextModel(provider)),
		VisionProvider: strings.ToLower(getEnv("VISION_PROVIDER", "openrouter")),
		VisionModel:    getEnv("VISION_MODEL", "openai/gpt-4o-mini"),
		SpeechProvider: strings.ToLower(getEnv("SPEECH_PROVIDER", "whisper")),
		SpeechModel:    getEnv("SPEECH_MODEL", "whisper-1"),

		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		YCOAuthToken:     getEnv("YC_OAUTH_TOKEN", ""),
		YCFolderID:       getEnv("YC_FOLDER_ID", ""),
		LMStudioBaseURL:  getEnv("LMSTUDIO_BASE_URL", "http://localhost:1234"),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		WhisperBaseURL:   getEnv("WHISPER_BASE_URL", "http://localhost:8000"),

		HTTPTimeout:      time.Duration(getInt("HTTP_TIMEOUT_SEC", 30, &errs)) * time.Second,
		HTTPRetries:      getInt("HTTP_RETRIES", 2, &errs),
		HTTPRetryBackoff: time.Duration(getInt("HTTP_RETRY_BACKOFF_SEC", 2, &errs)) * time.Second,

		OllamaAutoPull:    getBool("OLLAMA_AUTO_PULL", true, &errs),
		OllamaTimeout:     time.Duration(getInt("OLLAMA_TIMEOUT_SEC", 120, &errs)) * time.Second,
		OllamaNumPredict:  getInt("OLLAMA_NUM_PREDICT", 2000, &errs),
		OllamaTemperature: getFloat("OLLAMA_TEMPERATURE", 0.1, &errs),

		MaxResponseChars: getInt("MAX_RESPONSE_CHARS", 20000, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.checkCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultTextModel(provider string) string {
	switch provider {
	case "ollama":
		return "qwen2.5:7b"
	case "lmstudio":
		return "local-model"
	case "openai":
		return "gpt-4o-mini"
	case "gemini":
		return "gemini-2.5-flash"
	case "yandex":
		return getEnv("YANDEX_GPT_MODEL", "yandexgpt-lite/latest")
	default:
		return "openai/gpt-4o-mini"
	}
}

// ключи обязательны только для выбранных провайдеров
func (c *Config) checkCredentials() error {
	need := func(provider, key, value string) error {
		if value == "" {
			return fmt.Errorf("config: %s requires %s", provider, key)
		}
		return nil
	}
	var errs []error
	switch c.LLMProvider {
	case "openrouter":
		errs = append(errs, need("LLM_PROVIDER=openrouter", "OPENROUTER_API_KEY", c.OpenRouterAPIKey))
	case "openai":
		errs = append(errs, need("LLM_PROVIDER=openai", "OPENAI_API_KEY", c.OpenAIAPIKey))
	case "gemini":
		errs = append(errs, need("LLM_PROVIDER=gemini", "GEMINI_API_KEY", c.GeminiAPIKey))
	case "yandex":
		errs = append(errs,
			need("LLM_PROVIDER=yandex", "YC_OAUTH_TOKEN", c.YCOAuthToken),
			need("LLM_PROVIDER=yandex", "YC_FOLDER_ID", c.YCFolderID))
	}
	switch c.VisionProvider {
	case "openrouter":
		errs = append(errs, need("VISION_PROVIDER=openrouter", "OPENROUTER_API_KEY", c.OpenRouterAPIKey))
	case "gpt4_vision":
		errs = append(errs, need("VISION_PROVIDER=gpt4_vision", "OPENAI_API_KEY", c.OpenAIAPIKey))
	case "gemini":
		errs = append(errs, need("VISION_PROVIDER=gemini", "GEMINI_API_KEY", c.GeminiAPIKey))
	case "yandex_ocr":
		errs = append(errs,
			need("VISION_PROVIDER=yandex_ocr", "YC_OAUTH_TOKEN", c.YCOAuthToken),
			need("VISION_PROVIDER=yandex_ocr", "YC_FOLDER_ID", c.YCFolderID))
	}
	if c.SpeechProvider == "whisper" {
		errs = append(errs, need("SPEECH_PROVIDER=whisper", "OPENAI_API_KEY", c.OpenAIAPIKey))
	}
	return errors.Join(errs...)
}

// parseResolution: "2048x2048" -> 2048, 2048
func parseResolution(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

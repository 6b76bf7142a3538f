package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"otk-bot/api/internal/config"
	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/llm/gemini"
	"otk-bot/api/internal/llm/ollama"
	"otk-bot/api/internal/llm/openai"
	"otk-bot/api/internal/llm/yandex"
)

// buildRegistry собирает клиентов text/vision/speech по LLM_PROVIDER, VISION_PROVIDER, SPEECH_PROVIDER.
func buildRegistry(cfg *config.Config, prompts llm.Prompts, log *zap.Logger) (*llm.Registry, error) {
	httpc := llm.NewRetryClient(cfg.HTTPTimeout, cfg.HTTPRetries, cfg.HTTPRetryBackoff)

	// IAM-токен общий для YandexGPT и Vision OCR
	var iam *yandex.IamClient
	yc := func() *yandex.IamClient {
		if iam == nil {
			iam = yandex.NewIamClient(cfg.YCOAuthToken)
		}
		return iam
	}

	var (
		backend llm.Completer
		opt     = llm.ParseOptions{MaxChars: cfg.MaxResponseChars}
	)
	switch cfg.LLMProvider {
	case "openrouter":
		backend = openai.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.TextModel, httpc)
	case "openai":
		backend = openai.NewOpenAI(cfg.OpenAIAPIKey, cfg.TextModel, httpc)
	case "lmstudio":
		backend = openai.NewLMStudio(cfg.LMStudioBaseURL, cfg.TextModel, httpc)
		opt.StripReasoning = true
	case "ollama":
		backend = ollama.New(ollama.Options{
			BaseURL:     cfg.OllamaBaseURL,
			Model:       cfg.TextModel,
			AutoPull:    cfg.OllamaAutoPull,
			NumPredict:  cfg.OllamaNumPredict,
			Temperature: cfg.OllamaTemperature,
		}, llm.NewRetryClient(cfg.OllamaTimeout, cfg.HTTPRetries, cfg.HTTPRetryBackoff), log)
		opt.StripReasoning = true
	case "gemini":
		backend = gemini.NewText(cfg.GeminiAPIKey, cfg.TextModel, cfg.HTTPRetries, cfg.HTTPRetryBackoff)
	case "yandex":
		backend = yandex.NewGPT(yc(), cfg.YCFolderID, cfg.TextModel, httpc)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	log.Info("text provider", zap.String("backend", llm.Describe(backend)), zap.Bool("strip_reasoning", opt.StripReasoning))

	var reader llm.ImageReader
	switch cfg.VisionProvider {
	case "openrouter":
		reader = openai.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.VisionModel, httpc)
	case "gpt4_vision":
		reader = openai.NewOpenAI(cfg.OpenAIAPIKey, openAIVisionModel(cfg.VisionModel), httpc)
	case "gemini":
		reader = gemini.New(cfg.GeminiAPIKey, geminiVisionModel(cfg.VisionModel), cfg.HTTPRetries, cfg.HTTPRetryBackoff)
	case "yandex_ocr":
		reader = yandex.NewOCR(yc(), cfg.YCFolderID, httpc)
	default:
		return nil, fmt.Errorf("unknown VISION_PROVIDER %q", cfg.VisionProvider)
	}
	log.Info("vision provider", zap.String("provider", reader.Name()))

	var tr llm.Transcriber
	switch cfg.SpeechProvider {
	case "whisper":
		tr = openai.NewWhisper(cfg.OpenAIAPIKey, cfg.SpeechModel, httpc)
	case "local_whisper":
		tr = openai.NewLocalWhisper(cfg.WhisperBaseURL, cfg.SpeechModel, httpc)
	default:
		return nil, fmt.Errorf("unknown SPEECH_PROVIDER %q", cfg.SpeechProvider)
	}
	log.Info("speech provider", zap.String("provider", tr.Name()))

	return &llm.Registry{
		Text:   llm.NewText(backend, prompts.System, opt, log),
		Vision: llm.NewVision(reader, prompts.Vision, log),
		Speech: llm.NewSpeech(tr, "ru", log),
	}, nil
}

// VISION_MODEL по умолчанию в формате openrouter ("openai/gpt-4o-mini"); OpenAI ждёт имя без префикса.
func openAIVisionModel(m string) string {
	if i := strings.LastIndexByte(m, '/'); i >= 0 {
		return m[i+1:]
	}
	return m
}

func geminiVisionModel(m string) string {
	if strings.HasPrefix(m, "gemini") {
		return m
	}
	return "gemini-2.5-flash"
}

// logAvailability: первая проверка провайдеров при старте; недоступный не мешает запуску.
func logAvailability(log *zap.Logger, r *llm.Registry, a llm.Availability) {
	check := func(role string, name func() string, ok bool) {
		if name == nil {
			log.Warn("provider not configured", zap.String("role", role))
			return
		}
		if ok {
			log.Info("provider available", zap.String("role", role), zap.String("provider", name()))
			return
		}
		log.Warn("provider unavailable", zap.String("role", role), zap.String("provider", name()))
	}
	var text, vision, speech func() string
	if r.Text != nil {
		text = r.Text.Name
	}
	if r.Vision != nil {
		vision = r.Vision.Name
	}
	if r.Speech != nil {
		speech = r.Speech.Name
	}
	check("text", text, a.Text)
	check("vision", vision, a.Vision)
	check("speech", speech, a.Speech)
}

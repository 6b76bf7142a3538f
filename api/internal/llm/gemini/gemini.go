package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/util"
)

type Engine struct {
	APIKey  string
	model   string
	retries int
	backoff time.Duration
	// JSON: просить у модели application/json (текстовый режим извлечения).
	JSON bool
}

func New(apiKey, model string, retries int, backoff time.Duration) *Engine {
	return &Engine{
		APIKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		retries: retries,
		backoff: backoff,
	}
}

// NewText: движок для извлечения заказов, ответ строго JSON.
func NewText(apiKey, model string, retries int, backoff time.Duration) *Engine {
	e := New(apiKey, model, retries, backoff)
	e.JSON = true
	return e
}

func (e *Engine) Name() string  { return "gemini" }
func (e *Engine) Model() string { return e.model }

func (e *Engine) Complete(ctx context.Context, system, user string) (string, error) {
	return e.generate(ctx, system, genai.Text(user))
}

func (e *Engine) ReadImage(ctx context.Context, prompt, mime string, data []byte) (string, error) {
	out, err := e.generate(ctx, "", genai.Text(prompt), &genai.Blob{MIMEType: mime, Data: data})
	if err != nil {
		return "", err
	}
	return util.StripCodeFences(out), nil
}

func (e *Engine) generate(ctx context.Context, system string, parts ...genai.Part) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.model)
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	if e.JSON {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if strings.TrimSpace(system) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	// Ретраи на случай 5xx/транзиентных сбоёв
	var lastErr error
	for attempt := 1; attempt <= e.retries+1; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", err
			}
			if attempt <= e.retries {
				time.Sleep(time.Duration(attempt) * e.backoff)
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", fmt.Errorf("gemini: empty response")
		}
		return txt, nil
	}
	return "", fmt.Errorf("gemini: %w", lastErr)
}

// Ping читает метаданные модели и проверяет ключ и имя модели без генерации.
func (e *Engine) Ping(ctx context.Context) error {
	if e.APIKey == "" {
		return errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return err
	}
	defer cl.Close()
	_, err = cl.GenerativeModel(e.model).Info(ctx)
	return err
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

var (
	_ llm.Completer   = (*Engine)(nil)
	_ llm.ImageReader = (*Engine)(nil)
)

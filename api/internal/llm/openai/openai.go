package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/util"
)

const (
	OpenRouterURL = "https://openrouter.ai/api/v1"
	OpenAIURL     = "https://api.openai.com/v1"
)

// Client для OpenAI-совместимого API (openrouter, openai, lmstudio, локальный whisper).
type Client struct {
	name      string
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	httpc     *llm.RetryClient
}

func New(name, baseURL, apiKey, model string, httpc *llm.RetryClient) *Client {
	return &Client{
		name:      name,
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:    strings.TrimSpace(apiKey),
		model:     strings.TrimSpace(model),
		maxTokens: 2000,
		httpc:     httpc,
	}
}

func NewOpenRouter(apiKey, model string, httpc *llm.RetryClient) *Client {
	return New("openrouter", OpenRouterURL, apiKey, model, httpc)
}

func NewOpenAI(apiKey, model string, httpc *llm.RetryClient) *Client {
	return New("openai", OpenAIURL, apiKey, model, httpc)
}

// NewLMStudio: baseURL без /v1, например http://localhost:1234
func NewLMStudio(baseURL, model string, httpc *llm.RetryClient) *Client {
	return New("lmstudio", strings.TrimRight(baseURL, "/")+"/v1", "", model, httpc)
}

func NewWhisper(apiKey, model string, httpc *llm.RetryClient) *Client {
	return New("whisper", OpenAIURL, apiKey, model, httpc)
}

// NewLocalWhisper: сервер с OpenAI-совместимым /v1/audio/transcriptions.
func NewLocalWhisper(baseURL, model string, httpc *llm.RetryClient) *Client {
	return New("local_whisper", strings.TrimRight(baseURL, "/")+"/v1", "", model, httpc)
}

func (c *Client) Name() string  { return c.name }
func (c *Client) Model() string { return c.model }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []any{
			map[string]any{"role": "system", "content": system},
			map[string]any{"role": "user", "content": user},
		},
		"temperature": 0,
		"max_tokens":  c.maxTokens,
	}
	return c.chat(ctx, body, "chat")
}

func (c *Client) ReadImage(ctx context.Context, prompt, mime string, data []byte) (string, error) {
	dataURL := util.MakeDataURL(mime, base64.StdEncoding.EncodeToString(data))
	body := map[string]any{
		"model": c.model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": prompt},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"temperature": 0,
		"max_tokens":  c.maxTokens,
	}
	out, err := c.chat(ctx, body, "vision")
	if err != nil {
		return "", err
	}
	return util.StripCodeFences(out), nil
}

func (c *Client) chat(ctx context.Context, body map[string]any, what string) (string, error) {
	if err := c.checkKey(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.auth(req)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(c.name+" "+what, resp)
	}
	defer resp.Body.Close()

	var raw chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("%s %s: decode: %w", c.name, what, err)
	}
	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("%s %s: empty response", c.name, what)
	}
	return strings.TrimSpace(raw.Choices[0].Message.Content), nil
}

// Transcribe: POST /audio/transcriptions (multipart), ответ в формате text.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte, lang string) (string, error) {
	if err := c.checkKey(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", c.model)
	if lang != "" {
		_ = mw.WriteField("language", lang)
	}
	_ = mw.WriteField("response_format", "text")
	if err := mw.Close(); err != nil {
		return "", err
	}
	payload := buf.Bytes()

	resp, err := c.httpc.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.auth(req)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(c.name+" transcribe", resp)
	}
	defer resp.Body.Close()
	x, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(x)), nil
}

// Ping делает GET /models, дешёвая проверка ключа и доступности.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkKey(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	c.auth(req)
	httpc := http.DefaultClient
	if c.httpc != nil && c.httpc.HTTP != nil {
		httpc = c.httpc.HTTP
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return llm.StatusError(c.name+" models", resp)
	}
	resp.Body.Close()
	return nil
}

// для lmstudio и локального whisper ключ не нужен
func (c *Client) checkKey() error {
	if c.apiKey == "" && (c.name == "openrouter" || c.name == "openai" || c.name == "whisper") {
		return fmt.Errorf("%s: api key is empty", c.name)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.name == "openrouter" {
		req.Header.Set("X-Title", "OTK Bot")
	}
}

var (
	_ llm.Completer   = (*Client)(nil)
	_ llm.ImageReader = (*Client)(nil)
	_ llm.Transcriber = (*Client)(nil)
)

package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/util"
)

const (
	OCRURL        = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"
	CompletionURL = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"
)

type base struct {
	iamc     *IamClient
	folderID string
	httpc    *llm.RetryClient
	url      string
}

// post отправляет JSON с IAM-токеном; на 401 обновляет токен и повторяет один раз.
func (b *base) post(ctx context.Context, payload []byte, what string) (*http.Response, error) {
	for try := 0; ; try++ {
		iamToken, err := b.iamc.Token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := b.httpc.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+iamToken)
			req.Header.Set("x-folder-id", b.folderID)
			return req, nil
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && try == 0 {
			resp.Body.Close()
			b.iamc.Invalidate()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, llm.StatusError(what, resp)
		}
		return resp, nil
	}
}

func (b *base) ping(ctx context.Context) error {
	if b.folderID == "" {
		return fmt.Errorf("yandex: YC_FOLDER_ID is empty")
	}
	_, err := b.iamc.Token(ctx)
	return err
}

// ------------------------------ Vision OCR ------------------------------

type OCR struct {
	base
	Model string // "handwritten" | "page"
}

func NewOCR(iamc *IamClient, folderID string, httpc *llm.RetryClient) *OCR {
	return &OCR{
		base:  base{iamc: iamc, folderID: folderID, httpc: httpc, url: OCRURL},
		Model: "handwritten",
	}
}

func (e *OCR) Name() string { return "yandex_ocr" }

type ocrRequest struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`      // "JPEG" | "PNG" | "PDF"
	LanguageCodes []string `json:"languageCodes,omitempty"` // ["ru","en"]
	Model         string   `json:"model,omitempty"`
}

type ocrResponse struct {
	Result *struct {
		TextAnnotation *struct {
			FullText string `json:"fullText,omitempty"`
			Blocks   []struct {
				Lines []struct {
					Text string `json:"text,omitempty"`
				} `json:"lines,omitempty"`
			} `json:"blocks,omitempty"`
		} `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

// ReadImage: промпт OCR не нужен, он игнорируется.
func (e *OCR) ReadImage(ctx context.Context, _ string, _ string, data []byte) (string, error) {
	payload, _ := json.Marshal(ocrRequest{
		Content:       base64.StdEncoding.EncodeToString(data),
		MimeType:      util.SniffMimeForOCR(data),
		LanguageCodes: []string{"ru", "en"},
		Model:         e.Model,
	})
	resp, err := e.post(ctx, payload, "yandex ocr")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Result == nil || out.Result.TextAnnotation == nil {
		return "", nil
	}
	ta := out.Result.TextAnnotation
	if t := strings.TrimSpace(ta.FullText); t != "" {
		return t, nil
	}
	// fallback: lines
	var lines []string
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (e *OCR) Ping(ctx context.Context) error { return e.ping(ctx) }

// ------------------------------ YandexGPT ------------------------------

type GPT struct {
	base
	model     string
	MaxTokens int
}

// NewGPT: model вида "yandexgpt-lite/latest".
func NewGPT(iamc *IamClient, folderID, model string, httpc *llm.RetryClient) *GPT {
	return &GPT{
		base:      base{iamc: iamc, folderID: folderID, httpc: httpc, url: CompletionURL},
		model:     strings.TrimSpace(model),
		MaxTokens: 2000,
	}
}

func (g *GPT) Name() string  { return "yandex" }
func (g *GPT) Model() string { return g.model }

func (g *GPT) modelURI() string {
	return fmt.Sprintf("gpt://%s/%s", g.folderID, g.model)
}

func (g *GPT) Complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"modelUri": g.modelURI(),
		"completionOptions": map[string]any{
			"stream":      false,
			"temperature": 0.1,
			"maxTokens":   fmt.Sprint(g.MaxTokens),
		},
		"messages": []any{
			map[string]any{"role": "system", "text": system},
			map[string]any{"role": "user", "text": user},
		},
	}
	payload, _ := json.Marshal(body)
	resp, err := g.post(ctx, payload, "yandexgpt")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Result struct {
			Alternatives []struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"alternatives"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandexgpt: decode: %w", err)
	}
	if len(out.Result.Alternatives) == 0 {
		return "", fmt.Errorf("yandexgpt: empty response")
	}
	return strings.TrimSpace(out.Result.Alternatives[0].Message.Text), nil
}

func (g *GPT) Ping(ctx context.Context) error { return g.ping(ctx) }

var (
	_ llm.ImageReader = (*OCR)(nil)
	_ llm.Completer   = (*GPT)(nil)
)

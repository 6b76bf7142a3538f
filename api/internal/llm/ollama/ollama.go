package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"otk-bot/api/internal/llm"
)

type Options struct {
	BaseURL     string
	Model       string
	AutoPull    bool
	NumPredict  int
	Temperature float64
	// PullTimeout: скачивание модели может идти минуты.
	PullTimeout time.Duration
}

type Client struct {
	opt   Options
	httpc *llm.RetryClient
	log   *zap.Logger
}

func New(opt Options, httpc *llm.RetryClient, log *zap.Logger) *Client {
	opt.BaseURL = strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/")
	if opt.NumPredict <= 0 {
		opt.NumPredict = 2000
	}
	if opt.PullTimeout <= 0 {
		opt.PullTimeout = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{opt: opt, httpc: httpc, log: log.Named("ollama")}
}

func (c *Client) Name() string  { return "ollama" }
func (c *Client) Model() string { return c.opt.Model }

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model": c.opt.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": system},
			map[string]any{"role": "user", "content": user},
		},
		"stream": false,
		"options": map[string]any{
			"temperature": c.opt.Temperature,
			"top_p":       0.9,
			"num_predict": c.opt.NumPredict,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opt.BaseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError("ollama chat", resp)
	}
	defer resp.Body.Close()

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama chat: decode: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}

// Ping: сервер отвечает и нужная модель скачана.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.hasModel(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ollama: model %s not found", c.opt.Model)
	}
	return nil
}

// EnsureReady скачивает модель, если её нет и разрешён AutoPull.
func (c *Client) EnsureReady(ctx context.Context) error {
	ok, err := c.hasModel(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !c.opt.AutoPull {
		return fmt.Errorf("ollama: model %s not found and OLLAMA_AUTO_PULL=false", c.opt.Model)
	}
	c.log.Info("pulling model", zap.String("model", c.opt.Model))
	start := time.Now()
	if err := c.pull(ctx); err != nil {
		return err
	}
	c.log.Info("model pulled", zap.String("model", c.opt.Model), zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opt.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.plainHTTP(10 * time.Second).Do(req)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, llm.StatusError("ollama tags", resp)
	}
	defer resp.Body.Close()

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("ollama tags: decode: %w", err)
	}
	for _, m := range out.Models {
		if m.Name == c.opt.Model || m.Name == c.opt.Model+":latest" {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) pull(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]any{"name": c.opt.Model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opt.BaseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.plainHTTP(c.opt.PullTimeout).Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return llm.StatusError("ollama pull", resp)
	}
	resp.Body.Close()
	return nil
}

// служебные вызовы идут без ретраев и со своим таймаутом
func (c *Client) plainHTTP(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

var (
	_ llm.Completer = (*Client)(nil)
	_ llm.Preparer  = (*Client)(nil)
)

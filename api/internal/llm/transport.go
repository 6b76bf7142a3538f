package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RetryClient: HTTP-клиент провайдеров с повтором при сетевой ошибке, 5xx и 429
// с паузой attempt*Backoff. Число попыток: 1+Retries.
type RetryClient struct {
	HTTP    *http.Client
	Retries int
	Backoff time.Duration
}

func NewRetryClient(timeout time.Duration, retries int, backoff time.Duration) *RetryClient {
	return &RetryClient{
		HTTP:    &http.Client{Timeout: timeout},
		Retries: retries,
		Backoff: backoff,
	}
}

// Do вызывает build на каждую попытку: тело запроса читается один раз.
func (c *RetryClient) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	httpc := http.DefaultClient
	if c != nil && c.HTTP != nil {
		httpc = c.HTTP
	}
	retries := 0
	var backoff time.Duration
	if c != nil {
		retries, backoff = c.Retries, c.Backoff
	}

	for attempt := 1; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := httpc.Do(req)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if !retryable(resp, err) || attempt > retries {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// StatusError читает кусок тела ответа для текста ошибки и закрывает его.
func StatusError(what string, resp *http.Response) error {
	defer resp.Body.Close()
	x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &HTTPError{What: what, Code: resp.StatusCode, Body: strings.TrimSpace(string(x))}
}

type HTTPError struct {
	What string
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.What, e.Code, e.Body)
}

// StatusCode ошибки HTTP или 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

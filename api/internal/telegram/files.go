package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// файлы больше этого Telegram Bot API всё равно не отдаёт
const maxDownloadBytes = 20 << 20

// fetcher откладывает скачивание до тех пор, пока pipeline не проверит размер и длительность.
func (r *Router) fetcher(fileID string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		url, err := r.Bot.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("get file: %w", err)
		}
		return r.download(ctx, url)
	}
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file larger than %d bytes", maxDownloadBytes)
	}
	return data, nil
}

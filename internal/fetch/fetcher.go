package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/config"
)

// Fetcher downloads candidate media over HTTP. Every request carries the
// configured User-Agent and responses are capped at maxBodyBytes.
type Fetcher struct {
	httpClient   *http.Client
	maxBodyBytes int64
	userAgent    string
}

func NewFetcher(cfg config.FetchConfig) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "CopySentryBot/1.0"
	}
	return &Fetcher{
		httpClient:   &http.Client{Timeout: timeout},
		maxBodyBytes: maxBodyBytes,
		userAgent:    userAgent,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	return data, nil
}

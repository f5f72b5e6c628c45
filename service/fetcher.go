package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/creativespaces/mirrify/logger"
)

var (
	ErrInvalidURL  = errors.New("url must be an absolute http(s) URL")
	ErrFetchFailed = errors.New("remote fetch failed")
)

// FetchResult is a fully read remote resource.
type FetchResult struct {
	Body        []byte
	ContentType string
}

// RemoteFetcher downloads http(s) resources for the CORS proxies.
type RemoteFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewRemoteFetcher constructs a RemoteFetcher. maxBytes <= 0 disables the
// size cap.
func NewRemoteFetcher(timeout time.Duration, maxBytes int64) *RemoteFetcher {
	return &RemoteFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch GETs rawURL and returns its body.
func (f *RemoteFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	logger.Debug().Str("url", u.Redacted()).Msg("fetcher: fetching remote resource")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrFetchFailed, f.maxBytes)
	}

	return &FetchResult{Body: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

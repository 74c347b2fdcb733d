package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultFetchTimeout bounds a page fetch.
	DefaultFetchTimeout = 5 * time.Second

	maxPageBytes = 4 << 20
)

// ErrInvalidURL reports a URL that is not absolute http or https.
var ErrInvalidURL = errors.New("invalid url")

// Page is the result of a fetch.
type Page struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Fetcher retrieves pages as text.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher constructs a fetcher with the given timeout. A nil client uses a
// fresh http.Client.
func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: client, timeout: timeout}
}

// Fetch issues a GET and returns the body text whatever the status code.
// Only transport failures and timeouts are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	return Page{URL: u.String(), Status: resp.StatusCode, Body: string(body)}, nil
}

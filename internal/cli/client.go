package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Paintersrp/kioskd/internal/api"
	"github.com/Paintersrp/kioskd/internal/config"
)

const defaultClientTimeout = 15 * time.Second

// apiError is a decoded error body returned by the control API.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control api: %s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("control api: %s", e.Message)
}

// Is maps error codes onto the sentinel errors they were classified from.
func (e *apiError) Is(target error) bool {
	switch e.Code {
	case "unknown_helper":
		return target == api.ErrUnknownHelper
	case "gateway_not_found":
		return target == api.ErrGatewayNotFound
	case "unsupported_platform":
		return target == api.ErrUnsupportedPlatform
	case "malformed_settings":
		return target == api.ErrMalformedSettings
	case "invalid_url":
		return target == api.ErrInvalidURL
	case "close_in_progress":
		return target == api.ErrCloseInProgress
	case "closing":
		return target == api.ErrClosing
	}
	return false
}

// apiClient talks to a running daemon over the control API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string, client *http.Client) *apiClient {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &apiClient{base: baseURL(addr), http: client}
}

func baseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = config.DefaultAPIAddr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func (c *apiClient) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	var out api.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Helper(ctx stdcontext.Context, name string) (*api.HelperReport, error) {
	var out api.HelperReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/helpers/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HelperAction posts start or stop for name.
func (c *apiClient) HelperAction(ctx stdcontext.Context, name, action string) (*api.HelperReport, error) {
	var out map[string]*api.HelperReport
	path := "/api/v1/helpers/" + url.PathEscape(name) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	report := out[action]
	if report == nil {
		return nil, fmt.Errorf("control api: empty %s response", action)
	}
	return report, nil
}

func (c *apiClient) Gateway(ctx stdcontext.Context) (*api.GatewayReport, error) {
	var out api.GatewayReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/gateway", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Close(ctx stdcontext.Context) (*api.CloseReport, error) {
	var out api.CloseReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/window/close", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Settings(ctx stdcontext.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) SaveSettings(ctx stdcontext.Context, doc json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPut, "/api/v1/settings", doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) do(ctx stdcontext.Context, method, path string, body []byte, out any) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("%w at %s: %v", api.ErrDaemonUnavailable, c.base, err)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

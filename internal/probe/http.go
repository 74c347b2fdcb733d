package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// maxStatusPage caps how much of a status page is read per check.
const maxStatusPage = 1 << 20

// statusPageProber fetches the gateway status page. The link is only up when
// the page arrives whole: a body cut off mid-transfer is a failure even after
// a good status code.
type statusPageProber struct {
	client   *http.Client
	url      string
	expect   []int
	contains []byte
}

func newHTTPProber(spec *HTTPSpec) Prober {
	p := &statusPageProber{
		client: &http.Client{},
		url:    spec.URL,
		expect: append([]int(nil), spec.ExpectStatus...),
	}
	if spec.Contains != "" {
		p.contains = []byte(spec.Contains)
	}
	return p
}

func (p *statusPageProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Accept", "text/html, */*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !p.statusOK(resp.StatusCode) {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusPage))
	if err != nil {
		return fmt.Errorf("status page cut off after %d bytes: %w", len(body), err)
	}
	if len(p.contains) > 0 && !bytes.Contains(body, p.contains) {
		return fmt.Errorf("status page missing %q", p.contains)
	}
	return nil
}

func (p *statusPageProber) statusOK(code int) bool {
	if len(p.expect) > 0 {
		return slices.Contains(p.expect, code)
	}
	return code >= 200 && code < 400
}

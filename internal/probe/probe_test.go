package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatchHTTPTransitions(t *testing.T) {
	var healthy atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	spec := &Spec{
		GracePeriod:      60 * time.Millisecond,
		Interval:         15 * time.Millisecond,
		Timeout:          200 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		HTTP:             &HTTPSpec{URL: server.URL},
	}

	prober, err := New(spec)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		healthy.Store(true)
	}()

	events := Watch(ctx, prober, spec, nil)

	ensureNoEvent(t, events, 40*time.Millisecond)

	ready := expectEvent(t, events, StatusReady, time.Second)
	if ready.Err != nil {
		t.Fatalf("expected ready without error, got %v", ready.Err)
	}
	if ready.Reason != "" {
		t.Fatalf("expected empty ready reason, got %q", ready.Reason)
	}

	healthy.Store(false)
	unready := expectEvent(t, events, StatusUnready, time.Second)
	if !strings.HasPrefix(unready.Reason, "status=503") {
		t.Fatalf("expected http status reason, got %q", unready.Reason)
	}

	cancel()
	drain(events)
}

func TestWatchHTTPExpectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	prober, err := New(&Spec{HTTP: &HTTPSpec{URL: server.URL, ExpectStatus: []int{http.StatusOK}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = prober.Probe(context.Background())
	if err == nil || err.Error() != "status=204" {
		t.Fatalf("expected status mismatch, got %v", err)
	}
}

func TestStatusPageCutOffIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer cannot be hijacked")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 4096\r\n\r\n<html><body>Conne")
		_ = buf.Flush()
	}))
	t.Cleanup(server.Close)

	prober, err := New(&Spec{HTTP: &HTTPSpec{URL: server.URL}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = prober.Probe(context.Background())
	if err == nil {
		t.Fatalf("expected a cut off status page to fail")
	}
	if !strings.Contains(err.Error(), "status page cut off after 17 bytes") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestStatusPageMustContainMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-cache" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("<html><body>Status: Connected</body></html>"))
	}))
	t.Cleanup(server.Close)

	ok, err := New(&Spec{HTTP: &HTTPSpec{URL: server.URL, Contains: "Connected"}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := ok.Probe(context.Background()); err != nil {
		t.Fatalf("expected status page to pass, got %v", err)
	}

	missing, err := New(&Spec{HTTP: &HTTPSpec{URL: server.URL, Contains: "Session active"}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = missing.Probe(context.Background())
	if err == nil || err.Error() != `status page missing "Session active"` {
		t.Fatalf("expected missing marker failure, got %v", err)
	}
}

func TestTCPDefaultsToGatewayPort(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1":       "10.0.0.1:80",
		"10.0.0.1:8080":  "10.0.0.1:8080",
		"fe80::1":        "[fe80::1]:80",
		"[fe80::1]":      "[fe80::1]:80",
		"[fe80::1]:8443": "[fe80::1]:8443",
	}
	for in, want := range cases {
		if got := withDefaultPort(in); got != want {
			t.Fatalf("withDefaultPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatchTCPClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	spec := &Spec{
		Interval:         10 * time.Millisecond,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		TCP:              &TCPSpec{Address: addr},
	}

	prober, err := New(spec)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events := Watch(ctx, prober, spec, nil)
	event := expectEvent(t, events, StatusUnready, time.Second)
	if !strings.Contains(event.Reason, "dial") {
		t.Fatalf("expected dial failure, got %q", event.Reason)
	}

	ensureNoEvent(t, events, 50*time.Millisecond)
	cancel()
	drain(events)
}

func TestWatchCommandProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell not available on windows test environment")
	}
	spec := &Spec{
		Interval:         15 * time.Millisecond,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Command:          &CommandSpec{Command: []string{"/bin/sh", "-c", "exit 1"}},
	}

	prober, err := New(spec)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events := Watch(ctx, prober, spec, nil)
	failure := expectEvent(t, events, StatusUnready, time.Second)
	if failure.Reason != "exit 1" {
		t.Fatalf("expected exit reason, got %q", failure.Reason)
	}
	cancel()
	drain(events)
}

func TestCommandFailureCarriesLastOutputLine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell not available on windows test environment")
	}
	prober, err := New(&Spec{Command: &CommandSpec{Command: []string{"/bin/sh", "-c", "echo 'PING 10.0.0.1'; echo 'Destination Host Unreachable' >&2; echo; exit 2"}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = prober.Probe(context.Background())
	if err == nil || err.Error() != "exit 2: Destination Host Unreachable" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTailBufferKeepsNewestBytes(t *testing.T) {
	tail := &tailBuffer{max: 8}
	for _, chunk := range []string{"abcdef", "ghij", "0123456789"} {
		if n, err := tail.Write([]byte(chunk)); err != nil || n != len(chunk) {
			t.Fatalf("Write(%q) = %d, %v", chunk, n, err)
		}
	}
	if got := string(tail.Bytes()); got != "23456789" {
		t.Fatalf("tail = %q", got)
	}

	tail = &tailBuffer{max: 8}
	_, _ = tail.Write([]byte("abcdef"))
	_, _ = tail.Write([]byte("ghij"))
	if got := string(tail.Bytes()); got != "cdefghij" {
		t.Fatalf("tail = %q", got)
	}
}

func TestWatchTimeout(t *testing.T) {
	spec := &Spec{
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}
	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	events := Watch(ctx, prober, spec, nil)
	event := expectEvent(t, events, StatusUnready, time.Second)
	if !strings.Contains(event.Reason, "timeout") {
		t.Fatalf("expected timeout reason, got %q", event.Reason)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("probe exceeded timeout budget: %v", elapsed)
	}
	cancel()
	drain(events)
}

func TestWatchClosesOnCancel(t *testing.T) {
	spec := &Spec{
		Interval:         10 * time.Millisecond,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}
	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	events := Watch(ctx, prober, spec, nil)
	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel to close after cancellation")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("watcher did not close on cancellation")
	}
}

func TestAnyProberPassesWhenOneCheckPasses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	prober, err := New(&Spec{
		HTTP: &HTTPSpec{URL: server.URL},
		TCP:  &TCPSpec{Address: "127.0.0.1:1"},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
}

func TestAnyProberJoinsFailures(t *testing.T) {
	failing := &anyProber{terms: []probeTerm{
		{alias: "http", probe: ProberFunc(func(context.Context) error { return errors.New("status=500") })},
		{alias: "tcp", probe: ProberFunc(func(context.Context) error { return errors.New("refused") })},
	}}
	err := failing.Probe(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	for _, want := range []string{"http: status=500", "tcp: refused"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestNewRejectsIncompleteSpecs(t *testing.T) {
	cases := map[string]*Spec{
		"nil":         nil,
		"empty":       {},
		"http no url": {HTTP: &HTTPSpec{}},
		"tcp no addr": {TCP: &TCPSpec{}},
		"cmd no args": {Command: &CommandSpec{}},
	}
	for name, spec := range cases {
		if _, err := New(spec); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func expectEvent(t *testing.T, events <-chan Event, status Status, timeout time.Duration) Event {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed while waiting for %s", status)
		}
		if event.Status != status {
			t.Fatalf("expected status %s, got %s", status, event.Status)
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for status %s", status)
	}
	return Event{}
}

func ensureNoEvent(t *testing.T, events <-chan Event, duration time.Duration) {
	t.Helper()
	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("unexpected event %s during quiet period", event.Status)
		}
		t.Fatalf("events channel closed unexpectedly")
	case <-time.After(duration):
	}
}

func drain(events <-chan Event) {
	for range events {
	}
}

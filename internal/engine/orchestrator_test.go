package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Paintersrp/kioskd/internal/settings"
)

type recordingWindow struct {
	calls []string
}

func (w *recordingWindow) PreventClose() { w.calls = append(w.calls, "prevent") }
func (w *recordingWindow) AllowClose()   { w.calls = append(w.calls, "allow") }

type recordingRestarter struct {
	calls int
	err   error
}

func (r *recordingRestarter) Restart(context.Context) error {
	r.calls++
	return r.err
}

type stubStopper struct {
	results []StopResult
	calls   int
	reopens int
}

func (s *stubStopper) Drain(context.Context) []StopResult {
	s.calls++
	return s.results
}

func (s *stubStopper) Reopen() { s.reopens++ }

func storeWith(t *testing.T, content string) *settings.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), settings.FileName)
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write settings: %v", err)
		}
	}
	return settings.NewStore(path, nil)
}

func TestCloseWithMissingSettingsRelaunches(t *testing.T) {
	stopper := &stubStopper{}
	restarter := &recordingRestarter{}
	win := &recordingWindow{}
	orch := NewOrchestrator(stopper, storeWith(t, ""), restarter)

	out := orch.HandleClose(context.Background(), win)

	if !out.Relaunch || out.State != CloseStateRestarting {
		t.Fatalf("expected restart path, got %+v", out)
	}
	if restarter.calls != 1 {
		t.Fatalf("expected one restart, got %d", restarter.calls)
	}
	if len(win.calls) != 1 || win.calls[0] != "prevent" {
		t.Fatalf("close must stay suppressed on restart, got %v", win.calls)
	}
	if stopper.calls != 1 {
		t.Fatalf("expected helpers to be stopped once, got %d", stopper.calls)
	}
	if stopper.reopens != 1 || orch.State() != CloseStateIdle {
		t.Fatalf("a returned restart must reopen helpers and go idle, got %d reopens, state %s", stopper.reopens, orch.State())
	}
}

func TestCloseWithRelaunchFalseTerminates(t *testing.T) {
	restarter := &recordingRestarter{}
	win := &recordingWindow{}
	stopper := &stubStopper{}
	orch := NewOrchestrator(stopper, storeWith(t, `{"relaunchOnClose":false,"username":"admin"}`), restarter)

	out := orch.HandleClose(context.Background(), win)

	if out.Relaunch || out.State != CloseStateTerminating {
		t.Fatalf("expected terminate path, got %+v", out)
	}
	if restarter.calls != 0 {
		t.Fatalf("restart must not be called")
	}
	if len(win.calls) != 2 || win.calls[0] != "prevent" || win.calls[1] != "allow" {
		t.Fatalf("expected prevent then allow, got %v", win.calls)
	}
	if stopper.reopens != 0 || orch.State() != CloseStateTerminating {
		t.Fatalf("terminating close must stay drained and terminal, got %d reopens, state %s", stopper.reopens, orch.State())
	}
}

func TestCloseDefaultsToRelaunchOnBadSettings(t *testing.T) {
	for name, content := range map[string]string{
		"malformed":   `{"relaunchOnClose":`,
		"not-object":  `[false]`,
		"wrong-type":  `{"relaunchOnClose":"false"}`,
		"missing-key": `{"alwaysOnTop":false}`,
	} {
		t.Run(name, func(t *testing.T) {
			restarter := &recordingRestarter{}
			orch := NewOrchestrator(&stubStopper{}, storeWith(t, content), restarter)
			out := orch.HandleClose(context.Background(), &recordingWindow{})
			if !out.Relaunch || restarter.calls != 1 {
				t.Fatalf("expected relaunch, got %+v", out)
			}
		})
	}
}

func TestCloseContinuesPastStopFailures(t *testing.T) {
	stopper := &stubStopper{results: []StopResult{
		{Helper: "connection-control", Stopped: true, Err: &KillError{Helper: "connection-control", Err: errors.New("stuck")}},
		{Helper: "input-blocker", Stopped: true},
	}}
	win := &recordingWindow{}
	orch := NewOrchestrator(stopper, storeWith(t, `{"relaunchOnClose":false}`), nil)

	out := orch.HandleClose(context.Background(), win)
	if out.State != CloseStateTerminating {
		t.Fatalf("expected terminate, got %s", out.State)
	}
	if len(out.Stops) != 2 || StopErrors(out.Stops) == nil {
		t.Fatalf("expected stop outcomes to be reported, got %+v", out.Stops)
	}
}

func TestCloseFallsBackToTerminateWhenRestartFails(t *testing.T) {
	restarter := &recordingRestarter{err: errors.New("exec format error")}
	win := &recordingWindow{}
	events := make(chan Event, 8)
	orch := NewOrchestrator(&stubStopper{}, storeWith(t, ""), restarter, WithOrchestratorEvents(events))

	out := orch.HandleClose(context.Background(), win)
	if out.RestartErr == nil || out.State != CloseStateTerminating {
		t.Fatalf("expected fallback terminate, got %+v", out)
	}
	if win.calls[len(win.calls)-1] != "allow" {
		t.Fatalf("expected close to be allowed after restart failure, got %v", win.calls)
	}
	if orch.State() != CloseStateTerminating {
		t.Fatalf("unexpected final state %s", orch.State())
	}

	close(events)
	var types []EventType
	for evt := range events {
		types = append(types, evt.Type)
	}
	want := []EventType{EventTypeClosing, EventTypeRestarting, EventTypeFailed, EventTypeTerminating}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected events %v", types)
		}
	}
}

func TestCloseGuard(t *testing.T) {
	g := NewCloseGuard()
	if g.Prevented() {
		t.Fatalf("fresh guard should not be prevented")
	}
	g.PreventClose()
	if !g.Prevented() {
		t.Fatalf("expected guard to be prevented")
	}
	select {
	case <-g.Done():
		t.Fatalf("guard done before allow")
	default:
	}
	g.AllowClose()
	g.AllowClose()
	select {
	case <-g.Done():
	default:
		t.Fatalf("expected guard to be done after allow")
	}
}

func TestOrchestratorStateStartsIdle(t *testing.T) {
	orch := NewOrchestrator(nil, nil, nil)
	if orch.State() != CloseStateIdle {
		t.Fatalf("expected idle, got %s", orch.State())
	}
}

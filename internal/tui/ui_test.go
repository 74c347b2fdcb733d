package tui

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/kioskd/internal/api"
)

type fakeSource struct {
	mu        sync.Mutex
	report    *api.StatusReport
	err       error
	actionErr error
	actions   []string
}

func (f *fakeSource) Status(ctx context.Context) (*api.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, f.err
}

func (f *fakeSource) HelperAction(ctx context.Context, name, action string) (*api.HelperReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action+" "+name)
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return &api.HelperReport{Name: name, Running: action == "start"}, nil
}

func newTestUI(t *testing.T, source Source) *UI {
	t.Helper()
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	details := tview.NewTextView()
	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(details, 7, 0, false)
	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:      app,
		pages:    pages,
		table:    table,
		details:  details,
		source:   source,
		interval: defaultRefreshInterval,
		done:     make(chan struct{}),
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	return ui
}

func sampleReport() *api.StatusReport {
	return &api.StatusReport{
		Host:       "KIOSK-01",
		Version:    "dev",
		CloseState: "idle",
		Helpers: []api.HelperReport{
			{Name: "input-blocker", Running: true, PID: 42, StartedAt: time.Now().Add(-time.Minute), LastEvent: "started"},
			{Name: "connection-control", LastEvent: "failed", Failures: 2, Message: "spawn failed: exec format error"},
		},
		Link: &api.LinkReport{State: "ready", Gateway: "192.168.1.1"},
	}
}

func mustCompile(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(expr)
	if err != nil {
		t.Fatalf("compile %q: %v", expr, err)
	}
	return re
}

func cellText(ui *UI, row, col int) string {
	cell := ui.table.GetCell(row, col)
	if cell == nil {
		return ""
	}
	return cell.Text
}

func TestHandleKeyRespectsOverlayFocus(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})
	ui.app.SetFocus(ui.table)

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when table focused")
	}

	if _, ok := ui.app.GetFocus().(*tview.InputField); !ok {
		t.Fatalf("expected filter input to have focus, got %T", ui.app.GetFocus())
	}

	runeEvent := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := ui.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected rune to bypass global handler when overlay focused")
	}

	ui.pages.RemovePage(filterPageName)
	ui.app.SetFocus(ui.table)

	other := tcell.NewEventKey(tcell.KeyRune, 'z', tcell.ModNone)
	if res := ui.handleKey(other); res != other {
		t.Fatalf("expected unbound rune to pass through when table focused")
	}
}

func TestHandleKeyTogglesFocus(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})
	ui.app.SetFocus(ui.table)

	tab := tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
	if res := ui.handleKey(tab); res != nil {
		t.Fatalf("expected tab to be consumed")
	}
	if ui.app.GetFocus() != ui.details {
		t.Fatalf("expected details to have focus after toggle")
	}

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when details focused")
	}
}

func TestRefreshTableRendersHelpersSorted(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})

	ui.mu.Lock()
	ui.applyReportLocked(sampleReport(), nil, time.Now())
	ui.refreshTableLocked()
	ui.mu.Unlock()

	if got := ui.table.GetRowCount(); got != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", got)
	}
	if got := cellText(ui, 1, 0); got != "connection-control" {
		t.Fatalf("expected helpers sorted by name, first row %q", got)
	}
	if got := cellText(ui, 1, 1); got != "Stopped" {
		t.Fatalf("expected connection-control stopped, got %q", got)
	}
	if got := cellText(ui, 1, 5); got != "2" {
		t.Fatalf("expected failure count 2, got %q", got)
	}
	if got := cellText(ui, 2, 1); got != "Running" {
		t.Fatalf("expected input-blocker running, got %q", got)
	}
	if got := cellText(ui, 2, 2); got != "42" {
		t.Fatalf("expected pid 42, got %q", got)
	}
	if ui.selected != "connection-control" {
		t.Fatalf("expected first row selected, got %q", ui.selected)
	}
}

func TestRefreshTableKeepsSelectionAcrossPolls(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})

	ui.mu.Lock()
	ui.applyReportLocked(sampleReport(), nil, time.Now())
	ui.refreshTableLocked()
	ui.mu.Unlock()

	ui.table.Select(2, 0)

	ui.mu.Lock()
	ui.applyReportLocked(sampleReport(), nil, time.Now())
	ui.refreshTableLocked()
	ui.mu.Unlock()

	if ui.selected != "input-blocker" {
		t.Fatalf("expected selection to stay on input-blocker, got %q", ui.selected)
	}
	if row, _ := ui.table.GetSelection(); row != 2 {
		t.Fatalf("expected row 2 selected, got %d", row)
	}
}

func TestFilterLimitsVisibleHelpers(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})

	ui.mu.Lock()
	ui.applyReportLocked(sampleReport(), nil, time.Now())
	ui.filter = "input"
	ui.filterExpr = mustCompile(t, "input")
	ui.refreshTableLocked()
	ui.mu.Unlock()

	if len(ui.visible) != 1 || ui.visible[0] != "input-blocker" {
		t.Fatalf("expected only input-blocker visible, got %v", ui.visible)
	}
	if title := ui.table.GetTitle(); !strings.Contains(title, "/input/") {
		t.Fatalf("expected filter in title, got %q", title)
	}
}

func TestApplyReportKeepsLastGoodReportOnError(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})
	report := sampleReport()

	ui.mu.Lock()
	ui.applyReportLocked(report, nil, time.Now())
	ui.applyReportLocked(nil, errors.New("daemon unavailable"), time.Now())
	ui.renderDetailsLocked()
	ui.mu.Unlock()

	if ui.report != report {
		t.Fatalf("expected previous report to be retained")
	}
	text := ui.details.GetText(true)
	if !strings.Contains(text, "daemon unavailable") {
		t.Fatalf("expected error in details, got %q", text)
	}
	if !strings.Contains(text, "192.168.1.1") {
		t.Fatalf("expected gateway in details, got %q", text)
	}
}

func TestDoActionRecordsNotice(t *testing.T) {
	source := &fakeSource{}
	ui := newTestUI(t, source)

	ui.doAction(context.Background(), "input-blocker", "stop")
	if ui.notice != "stop input-blocker ok" {
		t.Fatalf("unexpected notice %q", ui.notice)
	}

	source.actionErr = errors.New("boom")
	ui.doAction(context.Background(), "input-blocker", "start")
	if !strings.Contains(ui.notice, "start input-blocker failed: boom") {
		t.Fatalf("unexpected notice %q", ui.notice)
	}

	want := []string{"stop input-blocker", "start input-blocker"}
	if strings.Join(source.actions, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected actions %v", source.actions)
	}
}

func TestDetailsShowShutdownCountdown(t *testing.T) {
	ui := newTestUI(t, &fakeSource{})
	report := sampleReport()
	report.Shutdown = &api.ShutdownReport{State: "running", Remaining: 155 * time.Second, Warning: time.Minute}

	ui.mu.Lock()
	ui.applyReportLocked(report, nil, time.Now())
	ui.renderDetailsLocked()
	ui.mu.Unlock()

	text := ui.details.GetText(true)
	if !strings.Contains(text, "Auto shutdown: Running  02:35 left") {
		t.Fatalf("expected countdown in details, got %q", text)
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "00:00",
		-time.Second:     "00:00",
		59 * time.Second: "00:59",
		3 * time.Minute:  "03:00",
		61 * time.Minute: "61:00",
	}
	for in, want := range cases {
		if got := formatClock(in); got != want {
			t.Fatalf("formatClock(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatState(t *testing.T) {
	cases := map[string]string{
		"":         "-",
		"s":        "S",
		"started":  "Started",
		"deciding": "Deciding",
	}
	for in, want := range cases {
		if got := formatState(in); got != want {
			t.Fatalf("formatState(%q) = %q, want %q", in, got, want)
		}
	}
}

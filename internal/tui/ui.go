package tui

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/kioskd/internal/api"
)

const (
	tableTitle             = "Helpers"
	detailsTitle           = "Station"
	filterPageName         = "filter"
	defaultRefreshInterval = time.Second
	actionTimeout          = 10 * time.Second
)

// Source is the daemon the dashboard observes and drives.
type Source interface {
	Status(ctx context.Context) (*api.StatusReport, error)
	HelperAction(ctx context.Context, name, action string) (*api.HelperReport, error)
}

// Option configures UI behaviour.
type Option func(*UI)

// WithRefreshInterval sets how often the daemon status is polled.
func WithRefreshInterval(d time.Duration) Option {
	return func(u *UI) {
		if d > 0 {
			u.interval = d
		}
	}
}

// UI coordinates the interactive dashboard backed by tview.
type UI struct {
	app     *tview.Application
	pages   *tview.Pages
	table   *tview.Table
	details *tview.TextView

	source   Source
	interval time.Duration

	report    *api.StatusReport
	updatedAt time.Time
	lastErr   error
	notice    string

	visible        []string
	selected       string
	filter         string
	filterExpr     *regexp.Regexp
	detailsFocused bool

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	runCtx   context.Context

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a UI polling source.
func New(source Source, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	details := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	details.SetBorder(true).SetTitle(detailsTitle)

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

	for _, opt := range opts {
		opt(ui)
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.renderDetailsLocked()
	ui.mu.Unlock()

	return ui
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and polls the source until Stop is invoked
// or the provided context is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.runCtx = ctx
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.poll(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) poll(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.fetch(ctx)
		}
	}
}

func (u *UI) fetch(ctx context.Context) {
	report, err := u.source.Status(ctx)
	if ctx.Err() != nil {
		return
	}
	u.mu.Lock()
	u.applyReportLocked(report, err, time.Now())
	u.mu.Unlock()
	u.queueRefresh()
}

func (u *UI) applyReportLocked(report *api.StatusReport, err error, at time.Time) {
	if err != nil {
		u.lastErr = err
		return
	}
	u.lastErr = nil
	u.report = report
	u.updatedAt = at
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	focus := u.app.GetFocus()
	if focus != u.table && focus != u.details {
		return event
	}
	switch event.Key() {
	case tcell.KeyTab:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 's', 'S':
			u.triggerAction("start")
			return nil
		case 'x', 'X':
			u.triggerAction("stop")
			return nil
		case 'r', 'R':
			go u.fetch(u.context())
			return nil
		}
	}
	return event
}

func (u *UI) context() context.Context {
	u.cancelMu.Lock()
	defer u.cancelMu.Unlock()
	if u.runCtx == nil {
		return context.Background()
	}
	return u.runCtx
}

func (u *UI) triggerAction(action string) {
	u.mu.Lock()
	row, _ := u.table.GetSelection()
	u.syncSelection(row)
	name := u.selected
	u.mu.Unlock()
	if name == "" {
		return
	}
	go func() {
		u.doAction(u.context(), name, action)
		u.fetch(u.context())
	}()
}

func (u *UI) doAction(ctx context.Context, name, action string) {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	_, err := u.source.HelperAction(ctx, name, action)

	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.notice = fmt.Sprintf("%s %s failed: %v", action, name, err)
		return
	}
	u.notice = fmt.Sprintf("%s %s ok", action, name)
}

func (u *UI) toggleFocus() {
	if u.detailsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.details)
	}
	u.detailsFocused = !u.detailsFocused
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Helpers")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh()
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) queueRefresh() {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		u.renderDetailsLocked()
	})
}

// refreshTableLocked redraws the helper table. The selection is read back
// from the table first since tview moves it on key presses.
func (u *UI) refreshTableLocked() {
	row, _ := u.table.GetSelection()
	u.syncSelection(row)
	u.table.Clear()

	headers := []string{"HELPER", "STATE", "PID", "UPTIME", "LAST EVENT", "FAILURES", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	helpers := make(map[string]api.HelperReport)
	if u.report != nil {
		for _, h := range u.report.Helpers {
			helpers[h.Name] = h
		}
	}

	names := make([]string, 0, len(helpers))
	for name := range helpers {
		if u.filterExpr != nil && !u.filterExpr.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	u.visible = names

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := time.Now()
	for row, name := range names {
		h := helpers[name]
		state := "Stopped"
		color := tcell.ColorGray
		pid := "-"
		uptime := "-"
		if h.Running {
			state = "Running"
			color = tcell.ColorGreen
			pid = fmt.Sprintf("%d", h.PID)
			if !h.StartedAt.IsZero() && now.After(h.StartedAt) {
				uptime = now.Sub(h.StartedAt).Truncate(time.Second).String()
			}
		}
		message := h.Message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			name,
			state,
			pid,
			uptime,
			formatState(h.LastEvent),
			fmt.Sprintf("%d", h.Failures),
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(name)
			}
			if col == 1 {
				cell = cell.SetTextColor(color)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderDetailsLocked() {
	u.details.Clear()
	if u.report == nil {
		fmt.Fprintln(u.details, "Waiting for daemon...")
	} else {
		r := u.report
		fmt.Fprintf(u.details, "Host: %s  kioskd %s  generation %d\n", r.Host, r.Version, r.Generation)
		fmt.Fprintf(u.details, "Close state: %s\n", formatState(r.CloseState))
		if r.Link != nil {
			gw := r.Link.Gateway
			if gw == "" {
				gw = "-"
			}
			fmt.Fprintf(u.details, "Link: %s  gateway %s\n", formatState(r.Link.State), gw)
		}
		if sd := r.Shutdown; sd != nil {
			line := fmt.Sprintf("Auto shutdown: %s  %s left", formatState(sd.State), formatClock(sd.Remaining))
			if sd.State == "running" && sd.Remaining <= sd.Warning {
				line = "[yellow]" + line + "[-]"
			}
			fmt.Fprintln(u.details, line)
		}
		fmt.Fprintf(u.details, "Updated %s\n", u.updatedAt.Format("15:04:05"))
	}
	if u.lastErr != nil {
		fmt.Fprintf(u.details, "[red]%s[-]\n", tview.Escape(u.lastErr.Error()))
	}
	if u.notice != "" {
		fmt.Fprintf(u.details, "%s\n", tview.Escape(u.notice))
	}
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, name := range u.visible {
		if name == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

// formatClock renders d as mm:ss.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func formatState(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

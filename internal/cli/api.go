package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	goruntime "runtime"
	"time"

	"github.com/Paintersrp/kioskd/internal/api"
	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/hostinfo"
	"github.com/Paintersrp/kioskd/internal/relaunch"
)

const defaultHistoryDepth = 10

// ControlAPI exposes daemon operations for the HTTP control plane.
type ControlAPI struct {
	d *daemon
}

// newControlAPI constructs a ControlAPI wrapper around a running daemon.
func newControlAPI(d *daemon) *ControlAPI {
	if d == nil {
		return nil
	}
	return &ControlAPI{d: d}
}

// Status returns the daemon-wide status snapshot.
func (c *ControlAPI) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	report := &api.StatusReport{
		Host:        hostinfo.Hostname(),
		Version:     version,
		Generation:  relaunch.Generation(),
		GeneratedAt: time.Now(),
		CloseState:  string(c.d.orchestrator.State()),
		Helpers:     c.helperReports(),
	}
	if c.d.monitor != nil {
		st := c.d.monitor.Status()
		report.Link = &api.LinkReport{
			State:   string(st.Link),
			Gateway: st.Gateway,
			Since:   st.Since,
			Reason:  st.Reason,
		}
	}
	if c.d.countdown != nil {
		st := c.d.countdown.Status()
		report.Shutdown = &api.ShutdownReport{
			State:     string(st.State),
			Remaining: st.Remaining,
			Warning:   st.Warning,
		}
	}
	return report, nil
}

// Helpers lists every helper slot.
func (c *ControlAPI) Helpers(ctx stdcontext.Context) ([]api.HelperReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return c.helperReports(), nil
}

// Helper reports one helper slot with its recent history.
func (c *ControlAPI) Helper(ctx stdcontext.Context, name string) (*api.HelperReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	report, err := c.helperReport(name)
	if err != nil {
		return nil, err
	}
	for _, entry := range c.d.tracker.History(name, defaultHistoryDepth) {
		report.History = append(report.History, api.HelperTransition{
			Timestamp: entry.Timestamp,
			Type:      string(entry.Type),
			Reason:    entry.Reason,
			Message:   entry.Message,
		})
	}
	return report, nil
}

// StartHelper starts the named helper and reports its slot.
func (c *ControlAPI) StartHelper(ctx stdcontext.Context, name string) (*api.HelperReport, error) {
	if err := c.d.supervisor.Start(ctx, name); err != nil {
		return nil, err
	}
	return c.helperReport(name)
}

// StopHelper stops the named helper and reports its slot.
func (c *ControlAPI) StopHelper(ctx stdcontext.Context, name string) (*api.HelperReport, error) {
	if err := c.d.supervisor.Stop(ctx, name); err != nil {
		return nil, err
	}
	return c.helperReport(name)
}

// Gateway discovers the default gateway.
func (c *ControlAPI) Gateway(ctx stdcontext.Context) (*api.GatewayReport, error) {
	addr, err := c.d.gateway.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return &api.GatewayReport{
		Gateway:      addr,
		Platform:     goruntime.GOOS,
		DiscoveredAt: time.Now(),
	}, nil
}

// Close queues a close gesture. The sequence runs on the serve loop because a
// relaunch replaces the process.
func (c *ControlAPI) Close(ctx stdcontext.Context) (*api.CloseReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if !c.d.requestClose() {
		return nil, fmt.Errorf("%w (state %s)", api.ErrCloseInProgress, c.d.orchestrator.State())
	}
	return &api.CloseReport{
		Accepted:    true,
		State:       string(c.d.orchestrator.State()),
		RequestedAt: time.Now(),
	}, nil
}

// Settings returns the settings document, stripped of legacy keys.
func (c *ControlAPI) Settings(ctx stdcontext.Context) (json.RawMessage, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	doc, err := c.d.settings.LoadMigrated()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc.Bytes()), nil
}

// SaveSettings replaces the settings document.
func (c *ControlAPI) SaveSettings(ctx stdcontext.Context, raw json.RawMessage) (json.RawMessage, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := c.d.settings.SaveRaw(raw); err != nil {
		return nil, err
	}
	doc, err := c.d.settings.Load()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc.Bytes()), nil
}

// Host describes the station.
func (c *ControlAPI) Host(ctx stdcontext.Context) (*api.HostReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	details := hostinfo.Describe()
	return &api.HostReport{
		Hostname: details.Hostname,
		PID:      details.PID,
		GOOS:     details.GOOS,
	}, nil
}

// Fetch retrieves a page as text.
func (c *ControlAPI) Fetch(ctx stdcontext.Context, url string) (*api.FetchReport, error) {
	page, err := c.d.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return &api.FetchReport{URL: page.URL, Status: page.Status, Body: page.Body}, nil
}

// ShutdownHost powers the station off.
func (c *ControlAPI) ShutdownHost(ctx stdcontext.Context) error {
	return c.d.power.Shutdown(ctx)
}

func (c *ControlAPI) helperReports() []api.HelperReport {
	statuses := c.d.supervisor.Statuses()
	reports := make([]api.HelperReport, 0, len(statuses))
	for _, st := range statuses {
		reports = append(reports, c.toReport(st))
	}
	return reports
}

func (c *ControlAPI) helperReport(name string) (*api.HelperReport, error) {
	st, err := c.d.supervisor.Status(name)
	if err != nil {
		return nil, err
	}
	report := c.toReport(st)
	return &report, nil
}

func (c *ControlAPI) toReport(st engine.HelperStatus) api.HelperReport {
	report := api.HelperReport{
		Name:      st.Name,
		Running:   st.Running,
		PID:       st.PID,
		SpawnID:   st.SpawnID,
		StartedAt: st.StartedAt,
	}
	if snap, ok := c.d.tracker.Snapshot(st.Name); ok {
		report.LastEvent = string(snap.State)
		report.Message = snap.Message
		report.Failures = snap.Failures
	}
	return report
}

func ctxErr(ctx stdcontext.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Ensure interface compliance at compile time.
var _ api.Controller = (*ControlAPI)(nil)

package api

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/gateway"
	"github.com/Paintersrp/kioskd/internal/hostinfo"
	"github.com/Paintersrp/kioskd/internal/settings"
)

var (
	ErrUnknownHelper       = engine.ErrUnknownHelper
	ErrGatewayNotFound     = gateway.ErrNotFound
	ErrUnsupportedPlatform = gateway.ErrUnsupportedPlatform
	ErrMalformedSettings   = settings.ErrMalformed
	ErrInvalidURL          = hostinfo.ErrInvalidURL
	ErrCloseInProgress     = errors.New("close already in progress")
	ErrClosing             = engine.ErrClosing
	ErrDaemonUnavailable   = errors.New("daemon unavailable")
)

// HelperReport describes one helper slot.
type HelperReport struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	SpawnID   string    `json:"spawn_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastEvent string    `json:"last_event,omitempty"`
	Message   string    `json:"message,omitempty"`
	Failures  int       `json:"failures,omitempty"`

	History []HelperTransition `json:"history,omitempty"`
}

// HelperTransition is one recorded lifecycle event of a helper.
type HelperTransition struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// GatewayReport carries a discovered default gateway.
type GatewayReport struct {
	Gateway      string    `json:"gateway"`
	Platform     string    `json:"platform"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// LinkReport describes the gateway link watched by the monitor.
type LinkReport struct {
	State   string    `json:"state"`
	Gateway string    `json:"gateway,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// ShutdownReport describes the idle shutdown countdown.
type ShutdownReport struct {
	State     string        `json:"state"`
	Remaining time.Duration `json:"remaining"`
	Warning   time.Duration `json:"warning"`
}

// CloseReport acknowledges a close request.
type CloseReport struct {
	Accepted    bool      `json:"accepted"`
	State       string    `json:"state"`
	RequestedAt time.Time `json:"requested_at"`
}

// HostReport describes the station.
type HostReport struct {
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	GOOS     string `json:"goos"`
}

// FetchReport carries a fetched page.
type FetchReport struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// StatusReport aggregates daemon-wide status information.
type StatusReport struct {
	Host        string          `json:"host"`
	Version     string          `json:"version"`
	Generation  int             `json:"generation"`
	GeneratedAt time.Time       `json:"generated_at"`
	CloseState  string          `json:"close_state"`
	Helpers     []HelperReport  `json:"helpers"`
	Link        *LinkReport     `json:"link,omitempty"`
	Shutdown    *ShutdownReport `json:"shutdown,omitempty"`
}

// Controller exposes daemon operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Helpers(stdcontext.Context) ([]HelperReport, error)
	Helper(stdcontext.Context, string) (*HelperReport, error)
	StartHelper(stdcontext.Context, string) (*HelperReport, error)
	StopHelper(stdcontext.Context, string) (*HelperReport, error)
	Gateway(stdcontext.Context) (*GatewayReport, error)
	Close(stdcontext.Context) (*CloseReport, error)
	Settings(stdcontext.Context) (json.RawMessage, error)
	SaveSettings(stdcontext.Context, json.RawMessage) (json.RawMessage, error)
	Host(stdcontext.Context) (*HostReport, error)
	Fetch(stdcontext.Context, string) (*FetchReport, error)
	ShutdownHost(stdcontext.Context) error
}

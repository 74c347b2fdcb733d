package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the kioskd.yaml document structure.
type Config struct {
	Version     string                 `yaml:"version"`
	ResourceDir string                 `yaml:"resourceDir"`
	DataDir     string                 `yaml:"dataDir"`
	API         APISpec                `yaml:"api"`
	Log         LogSpec                `yaml:"log"`
	Helpers     map[string]*HelperSpec `yaml:"helpers"`
	Gateway     GatewaySpec            `yaml:"gateway"`
	Fetch       FetchSpec              `yaml:"fetch"`
	Shutdown    ShutdownSpec           `yaml:"shutdown"`
	Monitor     *MonitorSpec           `yaml:"monitor"`

	// Path is the file the configuration was loaded from, empty when the
	// defaults were used.
	Path string `yaml:"-"`
}

// APISpec configures the local control API.
type APISpec struct {
	Addr string `yaml:"addr"`
}

// LogSpec configures the daemon logger.
type LogSpec struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// HelperSpec describes one packaged helper executable.
type HelperSpec struct {
	Executable string            `yaml:"executable"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Workdir    string            `yaml:"workdir"`
}

// GatewaySpec configures default gateway discovery.
type GatewaySpec struct {
	Timeout Duration `yaml:"timeout"`
}

// FetchSpec configures the page fetch operation.
type FetchSpec struct {
	Timeout Duration `yaml:"timeout"`
}

// ShutdownSpec configures helper teardown.
type ShutdownSpec struct {
	KillTimeout Duration `yaml:"killTimeout"`
}

// MonitorSpec configures the gateway link monitor. Probe targets may contain
// the {gateway} placeholder.
type MonitorSpec struct {
	Enabled          *bool          `yaml:"enabled"`
	GracePeriod      Duration       `yaml:"gracePeriod"`
	Interval         Duration       `yaml:"interval"`
	Timeout          Duration       `yaml:"timeout"`
	FailureThreshold int            `yaml:"failureThreshold"`
	SuccessThreshold int            `yaml:"successThreshold"`
	HTTP             *HTTPProbeSpec `yaml:"http"`
	TCP              *TCPProbeSpec  `yaml:"tcp"`
	Command          *CommandProbe  `yaml:"cmd"`
	OnConnected      *HelperActions `yaml:"onConnected"`
	OnDisconnected   *HelperActions `yaml:"onDisconnected"`
	AutoShutdown     *bool          `yaml:"autoShutdown"`
}

// HTTPProbeSpec defines the gateway status page check.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
	Contains     string `yaml:"contains"`
}

// TCPProbeSpec defines a TCP probe.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// CommandProbe defines a command probe.
type CommandProbe struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// HelperActions lists the helpers to start and stop on a link transition.
type HelperActions struct {
	Start []string `yaml:"start"`
	Stop  []string `yaml:"stop"`
}

// IsEnabled reports whether the monitor should run.
func (m *MonitorSpec) IsEnabled() bool {
	if m == nil {
		return false
	}
	return m.Enabled == nil || *m.Enabled
}

// ShutdownWhenIdle reports whether the host is powered off after the link has
// been down for the settings timerDuration. It defaults to on.
func (m *MonitorSpec) ShutdownWhenIdle() bool {
	if !m.IsEnabled() {
		return false
	}
	return m.AutoShutdown == nil || *m.AutoShutdown
}

// HelperNames returns the configured helper names in sorted order.
func (c *Config) HelperNames() []string {
	names := make([]string, 0, len(c.Helpers))
	for name := range c.Helpers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executables maps helper names to their executable file names.
func (c *Config) Executables() map[string]string {
	out := make(map[string]string, len(c.Helpers))
	for name, helper := range c.Helpers {
		if helper != nil {
			out[name] = helper.Executable
		}
	}
	return out
}

// Validate enforces the invariants the schema cannot express.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%s: is required", fieldPath("dataDir"))
	}
	if len(c.Helpers) == 0 {
		return fmt.Errorf("%s: must define at least one helper", fieldPath("helpers"))
	}
	for _, name := range c.HelperNames() {
		helper := c.Helpers[name]
		if helper == nil {
			return fmt.Errorf("%s: helper entry is null", helperField(name))
		}
		if strings.TrimSpace(helper.Executable) == "" {
			return fmt.Errorf("%s: is required", helperField(name, "executable"))
		}
	}
	for field, d := range map[string]Duration{
		"gateway.timeout":      c.Gateway.Timeout,
		"fetch.timeout":        c.Fetch.Timeout,
		"shutdown.killTimeout": c.Shutdown.KillTimeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", field)
		}
	}
	if c.Monitor.IsEnabled() {
		if err := c.Monitor.validate(c.Helpers); err != nil {
			return err
		}
	}
	return nil
}

func (m *MonitorSpec) validate(helpers map[string]*HelperSpec) error {
	probes := 0
	if m.HTTP != nil {
		probes++
		if strings.TrimSpace(m.HTTP.URL) == "" {
			return fmt.Errorf("%s: is required", fieldPath("monitor", "http", "url"))
		}
	}
	if m.TCP != nil {
		probes++
		if strings.TrimSpace(m.TCP.Address) == "" {
			return fmt.Errorf("%s: is required", fieldPath("monitor", "tcp", "address"))
		}
	}
	if m.Command != nil {
		probes++
		if len(m.Command.Command) == 0 {
			return fmt.Errorf("%s: must contain at least one entry", fieldPath("monitor", "cmd", "command"))
		}
	}
	if probes == 0 {
		return fmt.Errorf("%s: probe configuration is required", fieldPath("monitor"))
	}
	if m.FailureThreshold < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("monitor", "failureThreshold"))
	}
	if m.SuccessThreshold < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("monitor", "successThreshold"))
	}
	for key, actions := range map[string]*HelperActions{"onConnected": m.OnConnected, "onDisconnected": m.OnDisconnected} {
		if actions == nil {
			continue
		}
		for _, list := range [][]string{actions.Start, actions.Stop} {
			for _, name := range list {
				if _, ok := helpers[name]; !ok {
					return fmt.Errorf("%s: references undefined helper %q", fieldPath("monitor", key), name)
				}
			}
		}
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func helperField(helper string, parts ...string) string {
	all := append([]string{"helpers", helper}, parts...)
	return fieldPath(all...)
}

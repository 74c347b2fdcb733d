package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/kioskd/internal/resources"
)

const (
	// FileName is the configuration file looked up in the working directory.
	FileName = "kioskd.yaml"
	// EnvConfig overrides the configuration file path.
	EnvConfig = "KIOSKD_CONFIG"
	// EnvAPIAddr overrides api.addr.
	EnvAPIAddr = "KIOSKD_API_ADDR"

	CurrentVersion = "1"

	DefaultAPIAddr = "127.0.0.1:7878"

	HelperInputBlocker      = "input-blocker"
	HelperConnectionControl = "connection-control"

	// GatewayPlaceholder is replaced by the discovered gateway in monitor
	// probe targets.
	GatewayPlaceholder = "{gateway}"
)

const (
	defaultGatewayTimeout   = 5 * time.Second
	defaultFetchTimeout     = 5 * time.Second
	defaultKillTimeout      = 5 * time.Second
	defaultMonitorInterval  = 2 * time.Second
	defaultMonitorTimeout   = 2 * time.Second
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// Resolve locates and loads the configuration. An explicit path or the
// KIOSKD_CONFIG variable must name an existing file; otherwise kioskd.yaml in
// the working directory is used when present and the defaults when not.
func Resolve(explicit string) (*Config, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfig))
	}
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(FileName); err == nil {
		return Load(FileName)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", FileName, err)
	}
	return Default()
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(""); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a configuration file from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", absPath, err)
		}
	}
	cfg.Path = absPath

	expandEnv(&cfg)
	if err := cfg.ApplyDefaults(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields. Relative directories are resolved
// against base, or the working directory when base is empty.
func (c *Config) ApplyDefaults(base string) error {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if strings.TrimSpace(c.ResourceDir) == "" {
		c.ResourceDir = resources.DefaultDir()
	} else {
		c.ResourceDir = resolveDir(base, c.ResourceDir)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	} else {
		c.DataDir = resolveDir(base, c.DataDir)
	}
	if c.Log.File != "" {
		c.Log.File = resolveDir(base, c.Log.File)
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
	if c.Helpers == nil {
		c.Helpers = map[string]*HelperSpec{
			HelperInputBlocker:      {Executable: HelperInputBlocker},
			HelperConnectionControl: {Executable: HelperConnectionControl},
		}
	}
	for _, helper := range c.Helpers {
		if helper != nil && helper.Workdir != "" {
			helper.Workdir = resolveDir(base, helper.Workdir)
		}
	}
	if c.Gateway.Timeout.Duration == 0 {
		c.Gateway.Timeout.Duration = defaultGatewayTimeout
	}
	if c.Fetch.Timeout.Duration == 0 {
		c.Fetch.Timeout.Duration = defaultFetchTimeout
	}
	if c.Shutdown.KillTimeout.Duration == 0 {
		c.Shutdown.KillTimeout.Duration = defaultKillTimeout
	}
	if c.Monitor == nil {
		c.Monitor = &MonitorSpec{}
	}
	c.Monitor.applyDefaults(c.Helpers)
	return nil
}

func (m *MonitorSpec) applyDefaults(helpers map[string]*HelperSpec) {
	if m.HTTP == nil && m.TCP == nil && m.Command == nil {
		m.HTTP = &HTTPProbeSpec{URL: "http://" + GatewayPlaceholder + "/status"}
	}
	if m.Interval.Duration == 0 {
		m.Interval.Duration = defaultMonitorInterval
	}
	if m.Timeout.Duration == 0 {
		m.Timeout.Duration = defaultMonitorTimeout
	}
	if m.FailureThreshold == 0 {
		m.FailureThreshold = defaultFailureThreshold
	}
	if m.SuccessThreshold == 0 {
		m.SuccessThreshold = defaultSuccessThreshold
	}
	if m.Command != nil && m.Command.Timeout.Duration == 0 {
		m.Command.Timeout = m.Timeout
	}

	_, hasBlocker := helpers[HelperInputBlocker]
	_, hasControl := helpers[HelperConnectionControl]
	if !hasBlocker || !hasControl {
		return
	}
	if m.OnConnected == nil {
		m.OnConnected = &HelperActions{
			Start: []string{HelperConnectionControl},
			Stop:  []string{HelperInputBlocker},
		}
	}
	if m.OnDisconnected == nil {
		m.OnDisconnected = &HelperActions{
			Start: []string{HelperInputBlocker},
			Stop:  []string{HelperConnectionControl},
		}
	}
}

func expandEnv(c *Config) {
	c.ResourceDir = os.ExpandEnv(c.ResourceDir)
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.API.Addr = os.ExpandEnv(c.API.Addr)
	for _, helper := range c.Helpers {
		if helper == nil {
			continue
		}
		helper.Executable = os.ExpandEnv(helper.Executable)
		helper.Workdir = os.ExpandEnv(helper.Workdir)
		for i, arg := range helper.Args {
			helper.Args[i] = os.ExpandEnv(arg)
		}
		for k, v := range helper.Env {
			helper.Env[k] = os.ExpandEnv(v)
		}
	}
}

func applyEnvOverrides(c *Config) {
	if addr := strings.TrimSpace(os.Getenv(EnvAPIAddr)); addr != "" {
		c.API.Addr = addr
	}
}

func resolveDir(base, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	if base == "" {
		if abs, err := filepath.Abs(dir); err == nil {
			return abs
		}
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(base, dir))
}

func defaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "kioskd"), nil
}

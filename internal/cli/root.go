package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/config"
	"github.com/Paintersrp/kioskd/internal/logging"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var (
		configPath string
		apiAddr    string
	)

	root := &cobra.Command{
		Use:     "kioskd",
		Short:   "Kiosk station daemon supervising packaged helpers",
		Version: version,
	}

	root.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Path to kioskd.yaml (defaults to $"+config.EnvConfig+" or ./"+config.FileName+")")
	root.PersistentFlags().
		StringVar(&apiAddr, "api", "", "Control API address used by client commands (defaults to api.addr from the config)")

	ctx := &context{configPath: &configPath, apiAddr: &apiAddr}
	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newHelperCmd(ctx))
	root.AddCommand(newGatewayCmd(ctx))
	root.AddCommand(newCloseCmd(ctx))
	root.AddCommand(newSettingsCmd(ctx))
	root.AddCommand(newTuiCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint. Signals are left to the commands: serve
// treats an interrupt as a close gesture rather than a cancellation.
func Execute() {
	root := NewRootCmd()
	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configPath *string
	apiAddr    *string

	mu  sync.Mutex
	cfg *config.Config
	log *zap.Logger
}

func (c *context) config() (*config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configPath != nil {
		path = *c.configPath
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *context) logger() (*zap.Logger, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log != nil {
		return c.log, nil
	}
	file := cfg.Log.File
	if file == "" {
		file = logging.DefaultFile(cfg.DataDir)
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    file,
		Console: cfg.Log.Console,
	})
	if err != nil {
		return nil, err
	}
	c.log = logger
	return logger, nil
}

func (c *context) client() (*apiClient, error) {
	if c.apiAddr != nil && *c.apiAddr != "" {
		return newAPIClient(*c.apiAddr, nil), nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg.API.Addr, nil), nil
}

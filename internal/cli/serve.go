package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/Paintersrp/kioskd/internal/api/http"
	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/settings"
)

var newAPIServer = apihttp.NewServer

func newServeCmd(ctx *context) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if listen == "" {
				listen = cfg.API.Addr
			}
			d := newDaemon(cfg, logger)

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			return runDaemon(cmd, d, listen, sigCh)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for the HTTP control API (defaults to api.addr from the config)")
	return cmd
}

// runDaemon serves until a close gesture terminates the process, SIGTERM is
// received or a component fails.
func runDaemon(cmd *cobra.Command, d *daemon, addr string, signals <-chan os.Signal) error {
	logger := d.logger
	metrics.EmitBuildInfo()

	server, err := newAPIServer(apihttp.Config{
		Addr:       addr,
		Controller: newControlAPI(d),
		Logger:     logger.Named("api"),
	})
	if err != nil {
		return err
	}

	stopEvents := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		d.drainEvents(stopEvents)
	}()

	runCtx, cancel := stdcontext.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := server.Run(gctx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api: %w", err)
		}
		return nil
	})

	if d.monitor != nil {
		g.Go(func() error {
			return d.monitor.Run(gctx)
		})
	}

	if d.countdown != nil {
		g.Go(func() error {
			return d.countdown.Run(gctx)
		})
	}

	g.Go(func() error {
		watchSettings(gctx, d, logger)
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return controlLoop(gctx, d, signals)
	})

	logger.Info("kioskd started",
		zap.String("version", version),
		zap.String("api", server.Addr()),
		zap.Strings("helpers", d.supervisor.Helpers()),
		zap.Bool("monitor", d.monitor != nil),
		zap.Bool("auto_shutdown", d.countdown != nil),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())

	err = g.Wait()
	close(stopEvents)
	<-drained
	if err != nil && !errors.Is(err, stdcontext.Canceled) {
		return err
	}
	return nil
}

// controlLoop turns interrupts and API close requests into close gestures.
// SIGTERM stops every helper and exits without consulting the relaunch
// setting.
func controlLoop(ctx stdcontext.Context, d *daemon, signals <-chan os.Signal) error {
	guard := engine.NewCloseGuard()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			if sig == syscall.SIGTERM {
				d.logger.Info("terminate signal received, stopping helpers")
				results := d.supervisor.Drain(ctx)
				if err := engine.StopErrors(results); err != nil {
					d.logger.Warn("stop helpers", zap.Error(err))
				}
				return nil
			}
			d.logger.Info("interrupt received, handling close", zap.String("signal", sig.String()))
			if !d.closePending.CompareAndSwap(false, true) {
				continue
			}
			d.handleClose(ctx, guard)
		case <-d.closeRequests:
			d.handleClose(ctx, guard)
		}

		select {
		case <-guard.Done():
			return nil
		default:
		}
	}
}

// watchSettings logs edits to the settings file and refills the shutdown
// countdown from the new values.
func watchSettings(ctx stdcontext.Context, d *daemon, logger *zap.Logger) {
	store := d.settings
	changes, err := store.Watch(ctx)
	if err != nil {
		logger.Warn("settings watcher unavailable", zap.Error(err))
		return
	}
	for range changes {
		doc, err := store.Load()
		if err != nil {
			logger.Warn("settings changed but could not be read", zap.String("path", store.Path()), zap.Error(err))
			continue
		}
		logger.Info("settings changed",
			zap.String("path", store.Path()),
			zap.Bool(settings.KeyRelaunchOnClose, doc.RelaunchOnClose()),
			zap.Bool(settings.KeyAlwaysOnTop, doc.AlwaysOnTop()),
			zap.Bool(settings.KeyAllowMinimize, doc.AllowMinimize()),
			zap.Duration(settings.KeyTimerDuration, doc.TimerDuration()),
			zap.Duration(settings.KeyWarningTime, doc.WarningTime()),
		)
		if d.countdown != nil {
			d.countdown.Reset()
		}
	}
}
